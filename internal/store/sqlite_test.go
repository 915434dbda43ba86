package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)

// --- Snapshots ---

func TestSQLite_Snapshot_SaveAndLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.SaveSnapshot(ctx, "doc-1", []byte(`{"v":1}`))
	require.NoError(t, err)
	second, err := st.SaveSnapshot(ctx, "doc-1", []byte(`{"v":2}`))
	require.NoError(t, err)
	_, err = st.SaveSnapshot(ctx, "doc-2", []byte(`{"v":3}`))
	require.NoError(t, err)

	got, err := st.LatestSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
	assert.JSONEq(t, `{"v":2}`, string(got.Payload))
}

func TestSQLite_Snapshot_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.LatestSnapshot(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_Snapshot_Rejects(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.SaveSnapshot(ctx, "", []byte(`{}`))
	assert.Error(t, err)

	_, err = st.SaveSnapshot(ctx, "doc-1", []byte(`{"broken"`))
	assert.Error(t, err)
}

// --- Diagnostics ---

func TestSQLite_Diagnostics_RecordAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordDiagnostic(ctx, Diagnostic{
		DocumentID: "doc-1",
		Kind:       "confidence_policy",
		Reason:     "invalid_band_cutoffs",
		Message:    "band cutoffs out of range",
		Details:    map[string]any{"low_max": 0.9},
	}))
	require.NoError(t, st.RecordDiagnostic(ctx, Diagnostic{
		DocumentID: "doc-1",
		Kind:       "visit_grouping",
		Reason:     "undated_visit",
		Severity:   "info",
	}))
	require.NoError(t, st.RecordDiagnostic(ctx, Diagnostic{
		DocumentID: "doc-2",
		Kind:       "visit_grouping",
		Reason:     "duplicate_visit_id",
	}))

	all, err := st.ListDiagnostics(ctx, DiagnosticFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	doc1, err := st.ListDiagnostics(ctx, DiagnosticFilter{DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Len(t, doc1, 2)

	policy, err := st.ListDiagnostics(ctx, DiagnosticFilter{DocumentID: "doc-1", Kind: "confidence_policy"})
	require.NoError(t, err)
	require.Len(t, policy, 1)
	assert.Equal(t, "warn", policy[0].Severity, "severity defaults to warn")
	assert.Equal(t, "band cutoffs out of range", policy[0].Message)
	assert.InDelta(t, 0.9, policy[0].Details["low_max"], 1e-9)
	assert.NotEmpty(t, policy[0].ID)

	paged, err := st.ListDiagnostics(ctx, DiagnosticFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}

func TestDiagnosticFilter_Limit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, defaultListLimit, DiagnosticFilter{}.limit())
	assert.Equal(t, defaultListLimit, DiagnosticFilter{Limit: -3}.limit())
	assert.Equal(t, 7, DiagnosticFilter{Limit: 7}.limit())
}
