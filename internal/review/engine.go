// Package review runs the extraction review pipeline: it turns one
// interpretation payload into a validated, banded and section-organized view
// model.
package review

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/record-review/internal/candidate"
	"github.com/sells-group/record-review/internal/confidence"
	"github.com/sells-group/record-review/internal/diagnostics"
	"github.com/sells-group/record-review/internal/extraction"
	"github.com/sells-group/record-review/internal/filter"
	"github.com/sells-group/record-review/internal/mapping"
	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/observability"
	"github.com/sells-group/record-review/internal/schema"
	"github.com/sells-group/record-review/internal/visits"
)

// ErrMalformedContract is reported by ContractErr when a canonical payload
// carries malformed field_slots.
var ErrMalformedContract = eris.New("review: malformed canonical contract")

// ContractErr returns ErrMalformedContract when vm carries a contract error.
func ContractErr(vm *model.ViewModel) error {
	if vm == nil || vm.ContractError == nil {
		return nil
	}
	return eris.Wrap(ErrMalformedContract, vm.ContractError.Message)
}

// Engine computes view models. It is safe for concurrent use.
type Engine struct {
	schema         *schema.Schema
	emitter        *diagnostics.Emitter
	policyOverride json.RawMessage
	maxSuggestions int
	maxDetected    int
	canonicalTotal int
	tracer         trace.Tracer
	log            *zap.Logger

	mu      sync.Mutex
	memoKey [sha256.Size]byte
	memo    *model.ViewModel
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter sets the diagnostics emitter. Defaults to a zap-only emitter.
func WithEmitter(e *diagnostics.Emitter) Option {
	return func(en *Engine) { en.emitter = e }
}

// WithPolicy overrides the confidence policy carried by payloads.
func WithPolicy(raw json.RawMessage) Option {
	return func(en *Engine) { en.policyOverride = raw }
}

// WithCandidateLimits caps suggestion and detected candidate lists.
func WithCandidateLimits(maxSuggestions, maxDetected int) Option {
	return func(en *Engine) {
		en.maxSuggestions = maxSuggestions
		en.maxDetected = maxDetected
	}
}

// WithCanonicalTotal sets the canonical summary denominator.
func WithCanonicalTotal(n int) Option {
	return func(en *Engine) { en.canonicalTotal = n }
}

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(en *Engine) { en.log = l }
}

// New creates an Engine over the given schema.
func New(s *schema.Schema, opts ...Option) *Engine {
	e := &Engine{
		schema:         s,
		maxSuggestions: candidate.DefaultMaxSuggestions,
		maxDetected:    candidate.DefaultMaxDetected,
		canonicalTotal: filter.DefaultCanonicalTotal,
		tracer:         observability.Tracer(),
		log:            zap.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.emitter == nil {
		e.emitter = diagnostics.NewEmitter(diagnostics.NewZapSink(e.log))
	}
	return e
}

// ForgetDocument drops the diagnostics already emitted for a document, so a
// new snapshot of it reports its own degradations.
func (e *Engine) ForgetDocument(documentID string) {
	e.emitter.Forget(documentID)
}

// ComputeView runs the full pipeline. Repeated calls with equal inputs return
// the memoized view model, which callers must treat as read-only.
func (e *Engine) ComputeView(ctx context.Context, p model.InterpretationPayload, filters model.Filters) (*model.ViewModel, error) {
	ctx, span := e.tracer.Start(ctx, "review.ComputeView", trace.WithAttributes(
		attribute.String("document_id", p.DocumentID),
		attribute.Bool("canonical", p.IsCanonical()),
		attribute.Bool("filters_active", filters.Active()),
	))
	defer span.End()

	key, err := e.inputKey(p, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hash inputs")
		return nil, err
	}

	e.mu.Lock()
	if e.memo != nil && e.memoKey == key {
		vm := e.memo
		e.mu.Unlock()
		span.SetAttributes(attribute.Bool("memo_hit", true))
		return vm, nil
	}
	e.mu.Unlock()

	vm, err := e.compute(ctx, p, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute view")
		return nil, err
	}

	e.mu.Lock()
	e.memoKey = key
	e.memo = vm
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Int("summary.detected", vm.Summary.Detected),
		attribute.Int("summary.total", vm.Summary.Total),
		attribute.Bool("contract_error", vm.ContractError != nil),
	)
	return vm, nil
}

// ComputeViewJSON decodes a raw payload and runs ComputeView.
func (e *Engine) ComputeViewJSON(ctx context.Context, data []byte, filters model.Filters) (*model.ViewModel, error) {
	p, err := model.ParsePayload(data)
	if err != nil {
		return nil, err
	}
	return e.ComputeView(ctx, *p, filters)
}

func (e *Engine) inputKey(p model.InterpretationPayload, filters model.Filters) ([sha256.Size]byte, error) {
	data, err := json.Marshal(struct {
		Payload model.InterpretationPayload `json:"p"`
		Policy  json.RawMessage             `json:"o,omitempty"`
		Filters model.Filters               `json:"f"`
	}{p, e.policyOverride, filters})
	if err != nil {
		return [sha256.Size]byte{}, eris.Wrap(err, "review: hash inputs")
	}
	return sha256.Sum256(data), nil
}

func (e *Engine) policyState(p model.InterpretationPayload) confidence.PolicyState {
	if len(e.policyOverride) > 0 {
		return confidence.ResolvePolicy(e.policyOverride)
	}
	return confidence.ResolvePolicy(p.ConfidencePolicy)
}

func (e *Engine) compute(ctx context.Context, p model.InterpretationPayload, filters model.Filters) (*model.ViewModel, error) {
	log := e.log.With(zap.String("document_id", p.DocumentID))
	start := time.Now()
	e.emitter.SetActiveDocument(p.DocumentID)

	policy := e.policyState(p)
	if policy.Degraded() {
		log.Warn("review: confidence policy degraded", zap.String("reason", string(policy.DegradedReason)))
		e.emitter.Emit(ctx, diagnostics.Event{
			Kind:       diagnostics.KindConfidencePolicy,
			DocumentID: p.DocumentID,
			Reason:     string(policy.DegradedReason),
			Severity:   diagnostics.SeverityWarn,
			Message:    "confidence policy degraded, all fields classified as unknown",
		})
	}

	res := extraction.Normalize(p, log)
	mapper := mapping.New(e.schema, policy.Policy,
		mapping.WithLogger(log),
		mapping.WithCandidateOptions(
			candidate.WithMaxSuggestions(e.maxSuggestions),
			candidate.WithMaxDetected(e.maxDetected),
		),
	)

	var mapped *mapping.Result
	var grouped *visits.Result
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, span := e.tracer.Start(gCtx, "review.map")
		defer span.End()
		mapped = mapper.Map(res, p)
		return nil
	})
	g.Go(func() error {
		_, span := e.tracer.Start(gCtx, "review.visits")
		defer span.End()
		grouped = visits.Build(res, mapper, e.schema, mapping.VisitFieldOrder(p))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "review: map and group")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.reportContract(ctx, p.DocumentID, mapped.ContractError)
	e.reportAnomalies(ctx, p.DocumentID, grouped.Anomalies)

	sections := assembleSections(e.schema, mapped)
	vm := &model.ViewModel{
		DocumentID:      p.DocumentID,
		Canonical:       res.Canonical,
		SelectableItems: selectableItems(sections, grouped),
		ContractError:   mapped.ContractError,
		FiltersActive:   filters.Active(),
	}
	if policy.Policy != nil {
		vm.PolicyVersion = policy.Policy.Version
	} else {
		vm.PolicyDegradedReason = string(policy.DegradedReason)
	}

	if res.Canonical {
		vm.Summary = filter.CanonicalSummary(mapped.Core, grouped.Episodes, grouped.Unassigned, e.canonicalTotal)
	} else {
		vm.Summary = filter.LegacySummary(mapped.Core, e.schema.Legacy())
	}

	m := filter.NewMatcher(filters)
	vm.Sections = m.Sections(sections)
	vm.Episodes = m.Episodes(grouped.Episodes)
	vm.Unassigned = m.Episode(grouped.Unassigned)

	log.Debug("review: view computed",
		zap.Bool("canonical", res.Canonical),
		zap.Int("fields", len(res.Fields)),
		zap.Int("rejections", len(res.Rejections)),
		zap.Int("missing", len(res.Missing)),
		zap.Int("sections", len(vm.Sections)),
		zap.Int("episodes", len(vm.Episodes)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return vm, nil
}

func (e *Engine) reportContract(ctx context.Context, documentID string, ce *model.ContractError) {
	if ce == nil {
		return
	}
	e.emitter.Emit(ctx, diagnostics.Event{
		Kind:       diagnostics.KindContract,
		DocumentID: documentID,
		Reason:     ce.Code,
		Severity:   diagnostics.SeverityError,
		Message:    ce.Message,
	})
}

func (e *Engine) reportAnomalies(ctx context.Context, documentID string, anomalies []visits.Anomaly) {
	for _, a := range anomalies {
		details := map[string]any{}
		if a.VisitID != "" {
			details["visit_id"] = a.VisitID
		}
		if a.Count > 0 {
			details["count"] = a.Count
		}
		e.emitter.Emit(ctx, diagnostics.Event{
			Kind:       diagnostics.KindVisitGrouping,
			DocumentID: documentID,
			Reason:     anomalyReason(a),
			Severity:   diagnostics.SeverityWarn,
			Message:    anomalyMessage(a.Kind),
			Details:    details,
		})
	}
}

// anomalyReason keys a visit anomaly for deduplication. Per-visit anomalies
// include the visit id so that each affected visit is reported once.
func anomalyReason(a visits.Anomaly) string {
	if a.VisitID == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + ":" + a.VisitID
}

func anomalyMessage(k visits.AnomalyKind) string {
	switch k {
	case visits.AnomalyUnassignedFields:
		return "visit-scoped fields without a matching visit"
	case visits.AnomalyUndatedVisit:
		return "visit without a parseable date"
	case visits.AnomalyDuplicateVisitID:
		return "duplicate visit id merged into the first occurrence"
	default:
		return string(k)
	}
}
