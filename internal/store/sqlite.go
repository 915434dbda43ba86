package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS diagnostics (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	reason      TEXT NOT NULL,
	severity    TEXT NOT NULL DEFAULT 'warn',
	message     TEXT NOT NULL DEFAULT '',
	details     TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_snapshots_document ON snapshots(document_id, created_at);
CREATE INDEX IF NOT EXISTS idx_diagnostics_document ON diagnostics(document_id);
CREATE INDEX IF NOT EXISTS idx_diagnostics_kind ON diagnostics(kind);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, documentID string, payload []byte) (*Snapshot, error) {
	if documentID == "" {
		return nil, eris.New("sqlite: snapshot requires a document id")
	}
	if !json.Valid(payload) {
		return nil, eris.New("sqlite: snapshot payload is not valid JSON")
	}

	snap := &Snapshot{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Payload:    json.RawMessage(payload),
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, document_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.DocumentID, string(payload), snap.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert snapshot for %s", documentID)
	}
	return snap, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, documentID string) (*Snapshot, error) {
	var snap Snapshot
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, payload, created_at FROM snapshots
		 WHERE document_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		documentID,
	).Scan(&snap.ID, &snap.DocumentID, &payload, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest snapshot for %s", documentID)
	}
	snap.Payload = json.RawMessage(payload)
	return &snap, nil
}

func (s *SQLiteStore) RecordDiagnostic(ctx context.Context, d Diagnostic) error {
	d = prepareDiagnostic(d)
	details, err := marshalDetails(d.Details)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal diagnostic details")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO diagnostics (id, document_id, kind, reason, severity, message, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.DocumentID, d.Kind, d.Reason, d.Severity, d.Message, details, d.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert diagnostic")
}

func (s *SQLiteStore) ListDiagnostics(ctx context.Context, filter DiagnosticFilter) ([]Diagnostic, error) {
	var where []string
	var args []any
	if filter.DocumentID != "" {
		where = append(where, "document_id = ?")
		args = append(args, filter.DocumentID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}

	query := `SELECT id, document_id, kind, reason, severity, message, details, created_at FROM diagnostics`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.limit(), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list diagnostics")
	}
	defer rows.Close() //nolint:errcheck

	var out []Diagnostic
	for rows.Next() {
		var d Diagnostic
		var details sql.NullString
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.Kind, &d.Reason, &d.Severity, &d.Message, &details, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan diagnostic")
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &d.Details); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal diagnostic details")
			}
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list diagnostics iterate")
}

// prepareDiagnostic fills the id, timestamp and severity defaults.
func prepareDiagnostic(d Diagnostic) Diagnostic {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Severity == "" {
		d.Severity = "warn"
	}
	return d
}

func marshalDetails(details map[string]any) ([]byte, error) {
	if len(details) == 0 {
		return nil, nil
	}
	return json.Marshal(details)
}
