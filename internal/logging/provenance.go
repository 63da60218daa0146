// Package logging records every admission decision alongside the request
// that produced it, so decisions can be replayed later.
package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
)

// ErrNotFound is returned when a decision is not in the log.
var ErrNotFound = errors.New("decision not found")

// #region schema
// Schema creates the decision_log table.
const Schema = `
CREATE TABLE IF NOT EXISTS decision_log (
	decision_id  TEXT PRIMARY KEY,
	proposal_id  TEXT NOT NULL,
	host         TEXT NOT NULL,
	domain       TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	layer        TEXT,
	codes        TEXT,
	record_json  TEXT NOT NULL,
	version_id   TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_log_host ON decision_log(host, created_at);
`

// Migrate creates the decision log schema on db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("migrate decision log: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-decision
// NewEntry builds a log entry for dec and the request it answered.
func NewEntry(req admission.Request, dec admission.Decision, configDigest string) (DecisionEntry, error) {
	raw, err := json.Marshal(DecisionRecord{Request: req, Decision: dec, ConfigDigest: configDigest})
	if err != nil {
		return DecisionEntry{}, fmt.Errorf("marshal decision record: %w", err)
	}
	codes := make([]string, 0, len(dec.Reasons))
	for _, c := range dec.Codes() {
		codes = append(codes, string(c))
	}
	return DecisionEntry{
		DecisionID: dec.ID,
		ProposalID: dec.ProposalID,
		Host:       dec.Host,
		Domain:     string(dec.Domain),
		Outcome:    string(dec.Outcome),
		Layer:      string(dec.Layer),
		Codes:      strings.Join(codes, ","),
		RecordJSON: string(raw),
		CreatedAt:  dec.DecidedAt,
	}, nil
}

// LogDecision writes a decision entry to the decision_log table.
func LogDecision(ctx context.Context, db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO decision_log (decision_id, proposal_id, host, domain, outcome, layer, codes, record_json, version_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.DecisionID,
		entry.ProposalID,
		entry.Host,
		entry.Domain,
		entry.Outcome,
		nullIfEmpty(entry.Layer),
		nullIfEmpty(entry.Codes),
		entry.RecordJSON,
		nullIfEmpty(entry.VersionID),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// MarkCommitted attaches the ledger version produced by an allowed decision.
func MarkCommitted(ctx context.Context, db *sql.DB, decisionID, versionID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE decision_log SET version_id = ? WHERE decision_id = ? AND outcome = ?`,
		versionID, decisionID, string(admission.Allow),
	)
	if err != nil {
		return fmt.Errorf("mark committed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark committed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark committed: no allowed decision %s", decisionID)
	}
	return nil
}

// #endregion log-decision

// #region read
// ListDecisions returns logged decisions, newest first. An empty host lists
// every host.
func ListDecisions(ctx context.Context, db *sql.DB, host string, limit int) ([]DecisionEntry, error) {
	query := `SELECT decision_id, proposal_id, host, domain, outcome, layer, codes, record_json, version_id, created_at
		 FROM decision_log`
	args := []any{}
	if host != "" {
		query += ` WHERE host = ?`
		args = append(args, host)
	}
	query += ` ORDER BY created_at DESC, decision_id LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetDecision returns one logged decision.
func GetDecision(ctx context.Context, db *sql.DB, decisionID string) (DecisionEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT decision_id, proposal_id, host, domain, outcome, layer, codes, record_json, version_id, created_at
		 FROM decision_log WHERE decision_id = ?`, decisionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DecisionEntry{}, fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (DecisionEntry, error) {
	var e DecisionEntry
	var layer, codes, versionID sql.NullString
	var created string
	if err := row.Scan(&e.DecisionID, &e.ProposalID, &e.Host, &e.Domain, &e.Outcome, &layer, &codes, &e.RecordJSON, &versionID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DecisionEntry{}, err
		}
		return DecisionEntry{}, fmt.Errorf("scan decision: %w", err)
	}
	e.Layer = layer.String
	e.Codes = codes.String
	e.VersionID = versionID.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return e, nil
}

// Record decodes the replayable record of e.
func (e DecisionEntry) Record() (DecisionRecord, error) {
	var rec DecisionRecord
	if err := json.Unmarshal([]byte(e.RecordJSON), &rec); err != nil {
		return DecisionRecord{}, fmt.Errorf("decode record %s: %w", e.DecisionID, err)
	}
	return rec, nil
}

// #endregion read

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
