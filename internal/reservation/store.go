package reservation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists reservation requests with callId as the unique dedupe key.
// Backed by sqlite, a single pooled client bound to process lifetime.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and ensures
// the reservations table and its unique index exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("reservation store: open %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("reservation store: ping: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("reservation store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS reservations (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	call_id        TEXT NOT NULL,
	customer_name  TEXT,
	customer_phone TEXT,
	party_size     INTEGER,
	requested_date TEXT,
	requested_time TEXT,
	answers        TEXT NOT NULL,
	status         TEXT NOT NULL,
	source         TEXT NOT NULL,
	call_log_id    TEXT,
	created_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_call_id ON reservations(call_id);
`

// Insert persists req with a fresh id, keyed by CallID. If a row for CallID
// already exists, it returns (existingID, true, nil), the idempotent dedupe
// path. Any other database error is returned unwrapped-of-classification;
// the caller maps it to DB_INSERT_FAILED.
func (s *Store) Insert(ctx context.Context, id string, req Request) (existingID string, deduped bool, err error) {
	answersJSON, err := json.Marshal(req.Answers)
	if err != nil {
		return "", false, fmt.Errorf("reservation store: marshal answers: %w", err)
	}

	var partySize interface{}
	if req.HasPartySize {
		partySize = req.PartySize
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reservations
			(id, tenant_id, call_id, customer_name, customer_phone, party_size,
			 requested_date, requested_time, answers, status, source, call_log_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, req.TenantID, req.CallID, req.CustomerName, req.CustomerPhone, partySize,
		nullableString(req.RequestedDate), nullableString(req.RequestedTime),
		string(answersJSON), req.Status, req.Source, nullableString(req.CallLogID))

	if err == nil {
		return id, false, nil
	}

	if isUniqueViolation(err) {
		existing, lookupErr := s.findIDByCallID(ctx, req.CallID)
		if lookupErr != nil {
			return "", false, fmt.Errorf("reservation store: dedupe lookup: %w", lookupErr)
		}
		return existing, true, nil
	}

	return "", false, fmt.Errorf("reservation store: insert: %w", err)
}

func (s *Store) findIDByCallID(ctx context.Context, callID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM reservations WHERE call_id = ?`, callID).Scan(&id)
	return id, err
}

// LinkCallLog sets call_log_id for the reservation with the given callId.
// Returns false if no reservation exists for this call.
func (s *Store) LinkCallLog(ctx context.Context, callID, callLogID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE reservations SET call_log_id = ? WHERE call_id = ?`, callLogID, callID)
	if err != nil {
		return false, fmt.Errorf("reservation store: link call log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck reports whether the store is reachable, used by /ready.
func (s *Store) HealthCheck(ctx context.Context) (bool, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation detects sqlite's unique-constraint error without
// depending on the driver's internal error type (go-sqlite3's build-tagged
// cgo error type varies by platform); string matching mirrors the same
// pattern used for other retryable-error checks in this codebase.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
