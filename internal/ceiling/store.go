package ceiling

// #region imports
import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/domain"
)

// #endregion

// #region schema

const epochUsageSchema = `
CREATE TABLE IF NOT EXISTS epoch_usage (
    host          TEXT NOT NULL,
    domain        TEXT NOT NULL,
    epoch_id      TEXT NOT NULL,
    scale_used    REAL NOT NULL DEFAULT 0,
    eco_cost_used REAL NOT NULL DEFAULT 0,
    updated_at    TEXT NOT NULL,
    PRIMARY KEY (host, domain, epoch_id)
);
`

// #endregion

// #region store-struct

// UsageStore persists per host/domain/epoch usage in SQLite. Reads and
// reservations for the same key are serialized so two proposals never both
// pass a ceiling check against stale usage.
type UsageStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUsageStore initializes the epoch_usage table on db.
func NewUsageStore(db *sql.DB) (*UsageStore, error) {
	if _, err := db.Exec(epochUsageSchema); err != nil {
		return nil, fmt.Errorf("migrate epoch_usage: %w", err)
	}
	return &UsageStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *UsageStore) lockFor(host string, d domain.ID, epoch string) *sync.Mutex {
	k := host + "\x00" + string(d) + "\x00" + epoch
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

// #endregion

// #region get

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readUsage(ctx context.Context, q querier, host string, d domain.ID, epoch string) (domain.EpochUsage, error) {
	u := domain.EpochUsage{EpochID: epoch}
	var scale float64
	err := q.QueryRowContext(ctx,
		`SELECT scale_used, eco_cost_used FROM epoch_usage WHERE host = ? AND domain = ? AND epoch_id = ?`,
		host, string(d), epoch,
	).Scan(&scale, &u.EcoCostUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return domain.EpochUsage{}, fmt.Errorf("read usage %s/%s/%s: %w", host, d, epoch, err)
	}
	u.ScaleUsed = float32(scale)
	return u, nil
}

// Get returns the current usage; an unseen epoch reads as zero.
func (s *UsageStore) Get(ctx context.Context, host string, d domain.ID, epoch string) (domain.EpochUsage, error) {
	l := s.lockFor(host, d, epoch)
	l.Lock()
	defer l.Unlock()
	return readUsage(ctx, s.db, host, d, epoch)
}

// #endregion

// #region reservation

// ReserveFunc inspects current usage and returns the consumption to add. A
// non-nil error aborts the reservation and leaves usage unchanged.
type ReserveFunc func(current domain.EpochUsage) (scale float32, eco float64, err error)

// WithReservation runs fn against the current usage for (host, d, epoch) and
// adds its returned consumption, all under one per-key lock and one
// transaction. The updated usage is returned.
func (s *UsageStore) WithReservation(ctx context.Context, host string, d domain.ID, epoch string, fn ReserveFunc) (domain.EpochUsage, error) {
	l := s.lockFor(host, d, epoch)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.EpochUsage{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := readUsage(ctx, tx, host, d, epoch)
	if err != nil {
		return domain.EpochUsage{}, err
	}

	scale, eco, err := fn(cur)
	if err != nil {
		return cur, err
	}

	next := cur.Add(scale, eco)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO epoch_usage (host, domain, epoch_id, scale_used, eco_cost_used, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(host, domain, epoch_id) DO UPDATE SET
		    scale_used = excluded.scale_used,
		    eco_cost_used = excluded.eco_cost_used,
		    updated_at = excluded.updated_at`,
		host, string(d), epoch, float64(next.ScaleUsed), next.EcoCostUsed,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return cur, fmt.Errorf("upsert usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return cur, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// #endregion

// #region list

// ListEpoch returns all domain usage rows for host in one epoch, ordered by domain.
func (s *UsageStore) ListEpoch(ctx context.Context, host, epoch string) (map[domain.ID]domain.EpochUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, scale_used, eco_cost_used FROM epoch_usage
		 WHERE host = ? AND epoch_id = ? ORDER BY domain`, host, epoch)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ID]domain.EpochUsage)
	for rows.Next() {
		var d string
		var scale float64
		u := domain.EpochUsage{EpochID: epoch}
		if err := rows.Scan(&d, &scale, &u.EcoCostUsed); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		u.ScaleUsed = float32(scale)
		out[domain.ID(d)] = u
	}
	return out, rows.Err()
}

// #endregion
