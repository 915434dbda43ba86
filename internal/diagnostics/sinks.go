package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/store"
)

// ZapSink writes events to a zap logger.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink creates a ZapSink. A nil logger uses zap.L().
func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.L()
	}
	return &ZapSink{log: log}
}

func (s *ZapSink) Send(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("document_id", ev.DocumentID),
		zap.String("reason", ev.Reason),
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}
	msg := "diagnostics: " + ev.Message
	switch ev.Severity {
	case SeverityError:
		s.log.Error(msg, fields...)
	case SeverityInfo:
		s.log.Info(msg, fields...)
	default:
		s.log.Warn(msg, fields...)
	}
	return nil
}

// StoreSink persists events through a store.Store.
type StoreSink struct {
	st store.Store
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{st: st}
}

func (s *StoreSink) Send(ctx context.Context, ev Event) error {
	err := s.st.RecordDiagnostic(ctx, store.Diagnostic{
		DocumentID: ev.DocumentID,
		Kind:       string(ev.Kind),
		Reason:     ev.Reason,
		Severity:   ev.Severity,
		Message:    ev.Message,
		Details:    ev.Details,
		CreatedAt:  ev.Timestamp,
	})
	return eris.Wrap(err, "diagnostics: record")
}

// WebhookSink posts events as JSON to a webhook URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a WebhookSink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "diagnostics: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "diagnostics: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "diagnostics: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("diagnostics: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// MultiSink fans an event out to every sink. All sinks are attempted; their
// errors are joined.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
