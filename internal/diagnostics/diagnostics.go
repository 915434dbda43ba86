// Package diagnostics emits pipeline diagnostic events at most once per
// document and reason.
package diagnostics

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind identifies the family of a diagnostic event.
type Kind string

const (
	KindConfidencePolicy Kind = "confidence_policy"
	KindVisitGrouping    Kind = "visit_grouping"
	KindContract         Kind = "contract"
)

// Severity levels.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Event is a single diagnostic emitted by the review pipeline.
type Event struct {
	Kind       Kind           `json:"kind"`
	DocumentID string         `json:"document_id"`
	Reason     string         `json:"reason"`
	Severity   string         `json:"severity"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sink receives emitted events.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Emitter deduplicates events per (document, reason). By default only the
// active document's reasons are remembered and the set resets when the
// active document changes. WithDocumentHistory keeps the reason sets of the
// most recently active documents instead.
type Emitter struct {
	mu      sync.Mutex
	active  string
	seen    map[string]map[string]struct{} // document id -> reasons
	recent  []string                       // least recently active first
	history int
	sink    Sink
	log     *zap.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithDocumentHistory remembers emitted reasons for up to n documents,
// evicting the least recently active one. Values below 1 mean 1.
func WithDocumentHistory(n int) EmitterOption {
	return func(e *Emitter) {
		if n < 1 {
			n = 1
		}
		e.history = n
	}
}

// NewEmitter creates an Emitter writing to sink. A nil sink logs events
// through zap only.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	log := zap.L().With(zap.String("component", "diagnostics"))
	if sink == nil {
		sink = NewZapSink(log)
	}
	e := &Emitter{
		seen:    make(map[string]map[string]struct{}),
		history: 1,
		sink:    sink,
		log:     log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetActiveDocument switches the active document. Reasons remembered for
// documents outside the retained history are forgotten.
func (e *Emitter) SetActiveDocument(documentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activate(documentID)
}

// Forget drops the remembered reasons of a document so that its next
// events are emitted again.
func (e *Emitter) Forget(documentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.seen, documentID)
}

// activate must be called with mu held.
func (e *Emitter) activate(documentID string) {
	if documentID == e.active && len(e.recent) > 0 {
		return
	}
	e.active = documentID
	if i := slices.Index(e.recent, documentID); i >= 0 {
		e.recent = slices.Delete(e.recent, i, i+1)
	}
	e.recent = append(e.recent, documentID)
	for len(e.recent) > e.history {
		delete(e.seen, e.recent[0])
		e.recent = slices.Delete(e.recent, 0, 1)
	}
}

// Emit sends ev unless an event with the same document and reason was
// already emitted. It reports whether the event was sent to the sink.
// Sink failures are logged and never returned.
func (e *Emitter) Emit(ctx context.Context, ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityWarn
	}

	e.mu.Lock()
	e.activate(ev.DocumentID)
	reasons := e.seen[ev.DocumentID]
	if reasons == nil {
		reasons = make(map[string]struct{})
		e.seen[ev.DocumentID] = reasons
	}
	if _, dup := reasons[ev.Reason]; dup {
		e.mu.Unlock()
		return false
	}
	reasons[ev.Reason] = struct{}{}
	e.mu.Unlock()

	if err := e.sink.Send(ctx, ev); err != nil {
		e.log.Warn("diagnostics: sink failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("reason", ev.Reason),
			zap.Error(err),
		)
	}
	return true
}
