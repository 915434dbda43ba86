package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/config"
	"github.com/sells-group/record-review/internal/diagnostics"
	"github.com/sells-group/record-review/internal/store"
)

// withConfig swaps the package config for the duration of a test.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:       config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "env.db")},
		Review:      config.ReviewConfig{MaxSuggestions: 5, MaxDetected: 3, CanonicalTotal: 30},
		Server:      config.ServerConfig{Port: 8080},
		Diagnostics: config.DiagnosticsConfig{Persist: true, DocumentHistory: 16},
		Log:         config.LogConfig{Level: "info", Format: "json"},
	}
}

func TestBuildSink(t *testing.T) {
	log := zap.NewNop()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sink.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	tests := []struct {
		name  string
		st    store.Store
		dc    config.DiagnosticsConfig
		types []any
	}{
		{name: "log only", dc: config.DiagnosticsConfig{}, types: []any{&diagnostics.ZapSink{}}},
		{name: "persist without store", dc: config.DiagnosticsConfig{Persist: true}, types: []any{&diagnostics.ZapSink{}}},
		{name: "persist", st: st, dc: config.DiagnosticsConfig{Persist: true}, types: []any{&diagnostics.ZapSink{}, &diagnostics.StoreSink{}}},
		{
			name:  "persist and webhook",
			st:    st,
			dc:    config.DiagnosticsConfig{Persist: true, WebhookURL: "http://hooks.local/diag"},
			types: []any{&diagnostics.ZapSink{}, &diagnostics.StoreSink{}, &diagnostics.WebhookSink{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sinks := buildSink(log, tt.st, tt.dc)
			require.Len(t, sinks, len(tt.types))
			for i, want := range tt.types {
				assert.IsType(t, want, sinks[i])
			}
		})
	}
}

func TestInitStore(t *testing.T) {
	c := testConfig(t)
	withConfig(t, c)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	c.Store.Driver = "mongo"
	_, err = initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEnv(t *testing.T) {
	withConfig(t, testConfig(t))
	ctx := context.Background()

	env, err := initEnv(ctx, "review", envOptions{})
	require.NoError(t, err)
	defer env.Close(ctx)

	assert.NotNil(t, env.Engine)
	assert.NotNil(t, env.Store, "persisted diagnostics need a store")
	assert.Nil(t, env.Client)
}

func TestInitEnv_RequiresClient(t *testing.T) {
	c := testConfig(t)
	c.Diagnostics.Persist = false
	withConfig(t, c)

	_, err := initEnv(context.Background(), "serve", envOptions{requireClient: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base URL is required")
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Review.MaxSuggestions = 0
	withConfig(t, c)

	_, err := initEnv(context.Background(), "review", envOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_suggestions")
}

func TestInitClient(t *testing.T) {
	client := initClient(config.InterpretationConfig{BaseURL: "http://svc.local", RatePerSec: 2, Burst: 1, MaxRetries: 2})
	assert.NotNil(t, client)
}
