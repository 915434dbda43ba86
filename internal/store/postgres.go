package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_snapshot":   `INSERT INTO review_snapshots (id, document_id, payload, created_at) VALUES ($1, $2, $3, $4)`,
	"latest_snapshot":   `SELECT id, document_id, payload, created_at FROM review_snapshots WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1`,
	"insert_diagnostic": `INSERT INTO review_diagnostics (id, document_id, kind, reason, severity, message, details, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS review_snapshots (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id TEXT NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_diagnostics (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	reason      TEXT NOT NULL,
	severity    TEXT NOT NULL DEFAULT 'warn',
	message     TEXT NOT NULL DEFAULT '',
	details     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_review_snapshots_document ON review_snapshots(document_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_review_diagnostics_document ON review_diagnostics(document_id);
CREATE INDEX IF NOT EXISTS idx_review_diagnostics_kind ON review_diagnostics(kind);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, documentID string, payload []byte) (*Snapshot, error) {
	if documentID == "" {
		return nil, eris.New("postgres: snapshot requires a document id")
	}
	if !json.Valid(payload) {
		return nil, eris.New("postgres: snapshot payload is not valid JSON")
	}

	snap := &Snapshot{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Payload:    json.RawMessage(payload),
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_snapshots (id, document_id, payload, created_at) VALUES ($1, $2, $3, $4)`,
		snap.ID, snap.DocumentID, payload, snap.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert snapshot for %s", documentID)
	}
	return snap, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, documentID string) (*Snapshot, error) {
	var snap Snapshot
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, document_id, payload, created_at FROM review_snapshots WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1`,
		documentID,
	).Scan(&snap.ID, &snap.DocumentID, &payload, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest snapshot for %s", documentID)
	}
	snap.Payload = json.RawMessage(payload)
	return &snap, nil
}

func (s *PostgresStore) RecordDiagnostic(ctx context.Context, d Diagnostic) error {
	d = prepareDiagnostic(d)
	details, err := marshalDetails(d.Details)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal diagnostic details")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO review_diagnostics (id, document_id, kind, reason, severity, message, details, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.DocumentID, d.Kind, d.Reason, d.Severity, d.Message, details, d.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert diagnostic")
}

func (s *PostgresStore) ListDiagnostics(ctx context.Context, filter DiagnosticFilter) ([]Diagnostic, error) {
	var where []string
	var args []any
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT id, document_id, kind, reason, severity, message, details, created_at FROM review_diagnostics`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit(), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list diagnostics")
	}
	defer rows.Close()

	var out []Diagnostic
	for rows.Next() {
		var d Diagnostic
		var details []byte
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.Kind, &d.Reason, &d.Severity, &d.Message, &details, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan diagnostic")
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &d.Details); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal diagnostic details")
			}
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list diagnostics iterate")
}
