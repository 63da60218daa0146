// Package ledger is the reference state store: versioned per-host domain
// levels in SQLite. Only admitted mutations reach it.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS host_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	host          TEXT NOT NULL,
	seqno         INTEGER NOT NULL,
	levels_json   TEXT NOT NULL,
	digest        TEXT NOT NULL,
	decision_id   TEXT,
	action        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	UNIQUE (host, seqno),
	FOREIGN KEY (parent_id) REFERENCES host_versions(version_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_host_versions_decision
ON host_versions(decision_id) WHERE decision_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS active_state (
	host          TEXT PRIMARY KEY,
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES host_versions(version_id)
);
`

// #endregion schema

// #region errors
var (
	// ErrNotAdmitted is returned when Commit receives a permit that did not
	// come from an Allow decision.
	ErrNotAdmitted = errors.New("ledger: permit was not issued by an allow decision")
	// ErrAlreadyCommitted is returned when a decision is committed twice.
	ErrAlreadyCommitted = errors.New("ledger: decision already committed")
	// ErrUnknownHost is returned for reads of a host with no state.
	ErrUnknownHost = errors.New("ledger: host has no state")
)

// #endregion errors

// #region store-struct
// Store manages versioned host state in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region commit
// Commit applies an admitted mutation: the proposal's domain level grows by
// its damped magnitude, the sequence number advances by one, and the active
// pointer moves, all in one transaction.
func (s *Store) Commit(ctx context.Context, a admission.Admitted) (CommitRecord, error) {
	if !a.Valid() {
		return CommitRecord{}, ErrNotAdmitted
	}
	p := a.Proposal()
	applied := float64(a.EffectiveMagnitude())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var dup int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM host_versions WHERE decision_id = ?`, a.DecisionID(),
	).Scan(&dup); err != nil {
		return CommitRecord{}, fmt.Errorf("check decision: %w", err)
	}
	if dup > 0 {
		return CommitRecord{}, fmt.Errorf("%w: %s", ErrAlreadyCommitted, a.DecisionID())
	}

	cur, err := s.currentOrGenesis(ctx, tx, p.Host)
	if err != nil {
		return CommitRecord{}, err
	}

	levels := copyLevels(cur.Levels)
	levels[p.Domain] += applied

	next, err := s.insertVersion(ctx, tx, cur, levels, a.DecisionID(), ActionCommit)
	if err != nil {
		return CommitRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return CommitRecord{}, fmt.Errorf("commit: %w", err)
	}

	return CommitRecord{
		VersionID:   next.VersionID,
		Host:        p.Host,
		Seq:         next.Seq,
		Domain:      p.Domain,
		Applied:     applied,
		PreDigest:   cur.Digest,
		PostDigest:  next.Digest,
		DecisionID:  a.DecisionID(),
		Action:      ActionCommit,
		CommittedAt: next.CreatedAt,
	}, nil
}

// #endregion commit

// #region rollback
// Rollback restores the levels of a previous version of host. The restore is
// itself a new version so sequence numbers stay monotone.
func (s *Store) Rollback(ctx context.Context, host, targetVersionID string) (CommitRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	target, err := getVersion(ctx, tx, targetVersionID)
	if err != nil {
		return CommitRecord{}, err
	}
	if target.Host != host {
		return CommitRecord{}, fmt.Errorf("version %s belongs to %s, not %s", targetVersionID, target.Host, host)
	}

	cur, err := s.currentOrGenesis(ctx, tx, host)
	if err != nil {
		return CommitRecord{}, err
	}

	next, err := s.insertVersion(ctx, tx, cur, copyLevels(target.Levels), "", ActionRollback)
	if err != nil {
		return CommitRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return CommitRecord{}, fmt.Errorf("commit: %w", err)
	}

	return CommitRecord{
		VersionID:   next.VersionID,
		Host:        host,
		Seq:         next.Seq,
		PreDigest:   cur.Digest,
		PostDigest:  next.Digest,
		Action:      ActionRollback,
		CommittedAt: next.CreatedAt,
	}, nil
}

// #endregion rollback

// #region reads
// Current reads the active version of host.
func (s *Store) Current(ctx context.Context, host string) (Version, error) {
	var versionID string
	err := s.db.QueryRowContext(ctx, `SELECT version_id FROM active_state WHERE host = ?`, host).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, fmt.Errorf("%w: %s", ErrUnknownHost, host)
	}
	if err != nil {
		return Version{}, fmt.Errorf("get active: %w", err)
	}
	return getVersion(ctx, s.db, versionID)
}

// Version retrieves a specific version by ID.
func (s *Store) Version(ctx context.Context, id string) (Version, error) {
	return getVersion(ctx, s.db, id)
}

// ListVersions returns the most recent versions of host, newest first.
func (s *Store) ListVersions(ctx context.Context, host string, limit int) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version_id, parent_id, host, seqno, levels_json, digest, decision_id, action, created_at
		 FROM host_versions WHERE host = ? ORDER BY seqno DESC LIMIT ?`, host, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Hosts returns every host with state, sorted.
func (s *Store) Hosts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host FROM active_state ORDER BY host`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// #endregion reads

// #region helpers
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (Version, error) {
	var v Version
	var parentID, decisionID sql.NullString
	var levelsJSON, createdStr, action string
	var seq int64
	if err := row.Scan(&v.VersionID, &parentID, &v.Host, &seq, &levelsJSON, &v.Digest, &decisionID, &action, &createdStr); err != nil {
		return Version{}, err
	}
	v.ParentID = parentID.String
	v.DecisionID = decisionID.String
	v.Seq = uint64(seq)
	v.Action = Action(action)
	if err := json.Unmarshal([]byte(levelsJSON), &v.Levels); err != nil {
		return Version{}, fmt.Errorf("unmarshal levels: %w", err)
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return v, nil
}

func getVersion(ctx context.Context, q queryer, id string) (Version, error) {
	v, err := scanVersion(q.QueryRowContext(ctx,
		`SELECT version_id, parent_id, host, seqno, levels_json, digest, decision_id, action, created_at
		 FROM host_versions WHERE version_id = ?`, id,
	))
	if err != nil {
		return Version{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return v, nil
}

// currentOrGenesis returns the active version of host, creating the empty
// genesis version inside tx when the host is new.
func (s *Store) currentOrGenesis(ctx context.Context, tx *sql.Tx, host string) (Version, error) {
	var versionID string
	err := tx.QueryRowContext(ctx, `SELECT version_id FROM active_state WHERE host = ?`, host).Scan(&versionID)
	if err == nil {
		return getVersion(ctx, tx, versionID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Version{}, fmt.Errorf("get active: %w", err)
	}
	return s.insertVersion(ctx, tx, Version{Host: host}, map[domain.ID]float64{}, "", ActionGenesis)
}

func (s *Store) insertVersion(ctx context.Context, tx *sql.Tx, parent Version, levels map[domain.ID]float64, decisionID string, action Action) (Version, error) {
	seq := parent.Seq + 1
	if action == ActionGenesis {
		seq = 0
	}
	digest, err := StateDigest(parent.Host, seq, levels)
	if err != nil {
		return Version{}, err
	}
	levelsJSON, err := json.Marshal(levels)
	if err != nil {
		return Version{}, fmt.Errorf("marshal levels: %w", err)
	}

	v := Version{
		VersionID:  uuid.New().String(),
		ParentID:   parent.VersionID,
		Host:       parent.Host,
		Seq:        seq,
		Levels:     levels,
		Digest:     digest,
		DecisionID: decisionID,
		Action:     action,
		CreatedAt:  s.now().UTC(),
	}

	var parentPtr, decisionPtr any
	if v.ParentID != "" {
		parentPtr = v.ParentID
	}
	if decisionID != "" {
		decisionPtr = decisionID
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO host_versions (version_id, parent_id, host, seqno, levels_json, digest, decision_id, action, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.VersionID, parentPtr, v.Host, int64(v.Seq), string(levelsJSON), v.Digest, decisionPtr, string(action),
		v.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_state (host, version_id) VALUES (?, ?)
		 ON CONFLICT(host) DO UPDATE SET version_id = excluded.version_id`,
		v.Host, v.VersionID,
	)
	if err != nil {
		return Version{}, fmt.Errorf("set active: %w", err)
	}
	return v, nil
}

func copyLevels(in map[domain.ID]float64) map[domain.ID]float64 {
	out := make(map[domain.ID]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// #endregion helpers
