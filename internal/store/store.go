package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Snapshot is one interpretation payload as received from the extraction
// service.
type Snapshot struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Diagnostic is a persisted pipeline diagnostic event.
type Diagnostic struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Kind       string         `json:"kind"`
	Reason     string         `json:"reason"`
	Severity   string         `json:"severity"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DiagnosticFilter specifies criteria for listing diagnostics.
type DiagnosticFilter struct {
	DocumentID string `json:"document_id,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// defaultListLimit caps list queries without an explicit limit.
const defaultListLimit = 100

func (f DiagnosticFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface for review snapshots and
// diagnostics.
type Store interface {
	// Snapshots
	SaveSnapshot(ctx context.Context, documentID string, payload []byte) (*Snapshot, error)
	LatestSnapshot(ctx context.Context, documentID string) (*Snapshot, error)

	// Diagnostics
	RecordDiagnostic(ctx context.Context, d Diagnostic) error
	ListDiagnostics(ctx context.Context, filter DiagnosticFilter) ([]Diagnostic, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
