package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/config"
	"github.com/sells-group/record-review/internal/diagnostics"
	"github.com/sells-group/record-review/internal/observability"
	"github.com/sells-group/record-review/internal/resilience"
	"github.com/sells-group/record-review/internal/review"
	"github.com/sells-group/record-review/internal/schema"
	"github.com/sells-group/record-review/internal/store"
	"github.com/sells-group/record-review/pkg/interpretation"
)

// reviewEnv holds the store, engine and service client shared by the
// commands.
type reviewEnv struct {
	Store  store.Store           // may be nil
	Client interpretation.Client // may be nil
	Engine *review.Engine

	shutdownTracing func(context.Context) error
}

type envOptions struct {
	// requireStore opens the store even when diagnostics are not persisted.
	requireStore bool
	// requireClient fails when no interpretation service is configured.
	requireClient bool
	// documentHistory keeps emitted diagnostics for this many documents
	// instead of only the active one.
	documentHistory int
	engineOpts      []review.Option
}

// Close releases resources held by the environment.
func (e *reviewEnv) Close(ctx context.Context) {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.shutdownTracing != nil {
		if err := e.shutdownTracing(ctx); err != nil {
			zap.L().Warn("otel: shutdown failed", zap.Error(err))
		}
	}
}

// initEnv validates the config for mode and wires tracing, the store, the
// review engine and the interpretation client. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string, opts envOptions) (*reviewEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &reviewEnv{}
	shutdown, err := observability.Init(ctx, cfg.Otel)
	if err != nil {
		return nil, err
	}
	env.shutdownTracing = shutdown

	if opts.requireStore || cfg.Diagnostics.Persist {
		st, err := initStore(ctx)
		if err != nil {
			env.Close(ctx)
			return nil, err
		}
		env.Store = st
		if err := st.Migrate(ctx); err != nil {
			env.Close(ctx)
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	s, err := schema.Load()
	if err != nil {
		env.Close(ctx)
		return nil, err
	}
	emitter := diagnostics.NewEmitter(buildSink(zap.L(), env.Store, cfg.Diagnostics),
		diagnostics.WithDocumentHistory(opts.documentHistory))
	env.Engine = buildEngine(s, emitter, opts.engineOpts...)

	if cfg.Interpretation.BaseURL != "" {
		env.Client = initClient(cfg.Interpretation)
	} else if opts.requireClient {
		env.Close(ctx)
		return nil, eris.New("interpretation service base URL is required (REVIEW_INTERPRETATION_BASE_URL)")
	}

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "review.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initClient(ic config.InterpretationConfig) interpretation.Client {
	timeout := time.Duration(ic.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return interpretation.NewClient(ic.Token,
		interpretation.WithBaseURL(ic.BaseURL),
		interpretation.WithHTTPClient(&http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}),
		interpretation.WithRateLimit(ic.RatePerSec, ic.Burst),
		interpretation.WithRetry(resilience.DefaultRetryConfig().WithAttempts(ic.MaxRetries)),
	)
}

// buildSink assembles the diagnostics fan-out: the log always, the store
// when persistence is on and a webhook when configured.
func buildSink(log *zap.Logger, st store.Store, dc config.DiagnosticsConfig) diagnostics.MultiSink {
	sinks := diagnostics.MultiSink{diagnostics.NewZapSink(log)}
	if dc.Persist && st != nil {
		sinks = append(sinks, diagnostics.NewStoreSink(st))
	}
	if dc.WebhookURL != "" {
		sinks = append(sinks, diagnostics.NewWebhookSink(dc.WebhookURL))
	}
	return sinks
}

func buildEngine(s *schema.Schema, emitter *diagnostics.Emitter, opts ...review.Option) *review.Engine {
	base := []review.Option{
		review.WithEmitter(emitter),
		review.WithCandidateLimits(cfg.Review.MaxSuggestions, cfg.Review.MaxDetected),
		review.WithCanonicalTotal(cfg.Review.CanonicalTotal),
	}
	return review.New(s, append(base, opts...)...)
}
