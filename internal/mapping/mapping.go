// Package mapping maps validated fields onto a target schema and produces
// the display fields of a review pass.
package mapping

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/candidate"
	"github.com/sells-group/record-review/internal/confidence"
	"github.com/sells-group/record-review/internal/extraction"
	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/schema"
)

// ContractErrorMalformedSlots is the code reported when field_slots is
// present but not an array.
const ContractErrorMalformedSlots = "malformed_field_slots"

// Result is the mapper output.
type Result struct {
	// Core holds schema and extra fields ordered by Order.
	Core []model.DisplayField
	// Other holds unmapped fields, always rendered in the "other" section.
	Other []model.DisplayField
	// Sections resolves every section id used by Core and Other.
	Sections map[string]schema.SectionDef
	// VisitFieldOrder is the canonical order of visit-scoped keys.
	VisitFieldOrder []string
	ContractError   *model.ContractError
}

// Mapper builds display fields for one review pass.
type Mapper struct {
	schema     *schema.Schema
	policy     *confidence.Policy
	candidates []candidate.Option
	log        *zap.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithCandidateOptions passes options to the suggestion resolver.
func WithCandidateOptions(opts ...candidate.Option) Option {
	return func(m *Mapper) { m.candidates = append(m.candidates, opts...) }
}

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(m *Mapper) { m.log = l }
}

// New creates a Mapper. A nil policy classifies every item as unknown.
func New(s *schema.Schema, policy *confidence.Policy, opts ...Option) *Mapper {
	m := &Mapper{schema: s, policy: policy, log: zap.L()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map dispatches on the payload contract.
func (m *Mapper) Map(res *extraction.Result, p model.InterpretationPayload) *Result {
	if res.Canonical {
		return m.canonical(res, p)
	}
	return m.legacy(res)
}

func (m *Mapper) newResult() *Result {
	return &Result{Sections: make(map[string]schema.SectionDef)}
}

func (m *Mapper) section(out *Result, key, declared string) string {
	sec := m.schema.ResolveSection(key, declared)
	out.Sections[sec.ID] = sec
	return sec.ID
}

// --- Legacy ---

func (m *Mapper) legacy(res *extraction.Result) *Result {
	out := m.newResult()
	reg := m.schema.Legacy()
	covered := make(map[string]bool, reg.Len())

	order := 0
	for _, slot := range reg.Slots {
		order++
		key := slot.ConceptKey()
		keys := append([]string{key}, slot.Aliases...)
		for _, k := range keys {
			covered[k] = true
		}
		label := slot.Label
		if label == "" {
			label = m.schema.Label(key)
		}
		out.Core = append(out.Core, m.displayField(fieldDef{
			key:        key,
			label:      label,
			section:    m.section(out, key, slot.Section),
			order:      order,
			critical:   slot.Critical,
			repeatable: slot.Repeatable,
			source:     model.SourceCore,
		}, gather(res, keys, nil)))
	}

	out.Core = append(out.Core, m.extras(out, res, covered, &order, nil)...)
	return out
}

// extras builds dynamically-labeled core fields for keys no slot covers.
func (m *Mapper) extras(out *Result, res *extraction.Result, covered map[string]bool, order *int, keep func(extraction.Field) bool) []model.DisplayField {
	var fields []model.DisplayField
	for _, key := range res.KeyOrder {
		if covered[key] {
			continue
		}
		matches := gather(res, []string{key}, keep)
		if len(matches) == 0 {
			continue
		}
		covered[key] = true
		*order++
		fields = append(fields, m.displayField(fieldDef{
			key:        key,
			label:      m.schema.Label(key),
			section:    m.section(out, key, matches[0].Section),
			order:      *order,
			critical:   schema.IsCriticalKey(key) || anyCritical(matches),
			repeatable: len(matches) > 1,
			source:     model.SourceCore,
		}, matches))
	}
	return fields
}

// --- Canonical ---

func (m *Mapper) canonical(res *extraction.Result, p model.InterpretationPayload) *Result {
	out := m.newResult()

	slots, state, err := p.FieldSlots()
	if state == model.SlotsMalformed {
		msg := "field_slots is present but is not an array"
		if err != nil {
			msg = err.Error()
		}
		m.log.Error("mapping: malformed canonical contract",
			zap.String("document_id", res.DocumentID),
			zap.String("detail", msg),
		)
		out.ContractError = &model.ContractError{Code: ContractErrorMalformedSlots, Message: msg}
		out.Other = m.other(out, res)
		return out
	}

	docSlots, visitOrder := splitSlots(slots)
	out.VisitFieldOrder = visitOrder

	// Section order first, declaration order second.
	sort.SliceStable(docSlots, func(i, j int) bool {
		si := m.schema.ResolveSection(docSlots[i].ConceptKey(), docSlots[i].Section)
		sj := m.schema.ResolveSection(docSlots[j].ConceptKey(), docSlots[j].Section)
		return si.Order < sj.Order
	})

	documentScoped := func(f extraction.Field) bool { return !f.IsVisitScoped() }
	covered := make(map[string]bool)
	order := 0
	for _, slot := range docSlots {
		key := slot.ConceptKey()
		if covered[key] {
			continue
		}
		keys := append([]string{key}, trimmed(slot.Aliases)...)
		for _, k := range keys {
			covered[k] = true
		}
		matches := gather(res, keys, documentScoped)
		order++

		label := strings.TrimSpace(slot.Label)
		if label == "" {
			label = m.schema.Label(key)
		}
		out.Core = append(out.Core, m.displayField(fieldDef{
			key:        key,
			label:      label,
			section:    m.section(out, key, slot.Section),
			order:      order,
			critical:   slotCritical(slot, keys, matches),
			repeatable: slot.Repeatable,
			source:     model.SourceCore,
		}, matches))
	}

	out.Core = append(out.Core, m.extras(out, res, covered, &order, documentScoped)...)
	out.Core = append(out.Core, m.discoveredVisitFields(out, res, covered, &order)...)
	out.Other = m.other(out, res)
	return out
}

// VisitFieldOrder returns the canonical visit field order declared by the
// payload's field_slots, or the static default when none are declared or the
// slots are malformed.
func VisitFieldOrder(p model.InterpretationPayload) []string {
	slots, state, _ := p.FieldSlots()
	if state != model.SlotsArray {
		return slices.Clone(schema.CanonicalVisitScopedKeys)
	}
	_, order := splitSlots(slots)
	return order
}

// splitSlots separates document-scoped slots from visit-scoped ones and
// derives the visit field order. Billing concepts are dropped.
func splitSlots(slots []model.SchemaSlot) (doc []model.SchemaSlot, visitOrder []string) {
	seen := make(map[string]bool)
	for _, s := range slots {
		key := s.ConceptKey()
		if key == "" || schema.IsBillingKey(key) {
			continue
		}
		if s.IsVisitScoped() || schema.IsCanonicalVisitScopedKey(key) {
			if !seen[key] {
				seen[key] = true
				visitOrder = append(visitOrder, key)
			}
			continue
		}
		doc = append(doc, s)
	}
	if len(visitOrder) == 0 {
		visitOrder = slices.Clone(schema.CanonicalVisitScopedKeys)
	}
	return doc, visitOrder
}

// slotCritical resolves criticality: static critical set, then aliases, then
// the slot and field flags.
func slotCritical(slot model.SchemaSlot, keys []string, matches []extraction.Field) bool {
	for _, k := range keys {
		if schema.IsCriticalKey(k) {
			return true
		}
	}
	return slot.Critical || anyCritical(matches)
}

// discoveredVisitFields surfaces visit-scoped keys outside the canonical
// visit key set as repeatable core fields.
func (m *Mapper) discoveredVisitFields(out *Result, res *extraction.Result, covered map[string]bool, order *int) []model.DisplayField {
	visitScoped := func(f extraction.Field) bool { return f.IsVisitScoped() }
	var fields []model.DisplayField
	for _, key := range res.KeyOrder {
		if covered[key] || schema.IsCanonicalVisitScopedKey(key) {
			continue
		}
		matches := gather(res, []string{key}, visitScoped)
		if len(matches) == 0 {
			continue
		}
		covered[key] = true
		*order++
		fields = append(fields, m.displayField(fieldDef{
			key:        key,
			label:      m.schema.Label(key),
			section:    m.section(out, key, matches[0].Section),
			order:      *order,
			critical:   schema.IsCriticalKey(key) || anyCritical(matches),
			repeatable: true,
			source:     model.SourceCore,
		}, matches))
	}
	return fields
}

// other groups unmapped fields by key in first-seen order.
func (m *Mapper) other(out *Result, res *extraction.Result) []model.DisplayField {
	if len(res.Other) == 0 {
		return nil
	}
	sec := m.schema.OtherSection()
	out.Sections[sec.ID] = sec

	var order []string
	byKey := make(map[string][]extraction.Field)
	for _, f := range res.Other {
		if _, ok := byKey[f.Key]; !ok {
			order = append(order, f.Key)
		}
		byKey[f.Key] = append(byKey[f.Key], f)
	}

	fields := make([]model.DisplayField, 0, len(order))
	for i, key := range order {
		matches := byKey[key]
		fields = append(fields, m.displayField(fieldDef{
			key:        key,
			label:      m.schema.Label(key),
			section:    sec.ID,
			order:      i + 1,
			repeatable: len(matches) > 1,
			source:     model.SourceExtracted,
		}, matches))
	}
	return fields
}

// --- Display fields and items ---

type fieldDef struct {
	key        string
	label      string
	section    string
	order      int
	critical   bool
	repeatable bool
	source     model.FieldSource
}

func (m *Mapper) displayField(def fieldDef, matches []extraction.Field) model.DisplayField {
	df := model.DisplayField{
		Key:        def.key,
		Label:      def.label,
		Section:    def.section,
		Order:      def.order,
		IsCritical: def.critical,
		Repeatable: def.repeatable,
		Source:     def.source,
		Items:      []model.SelectableItem{},
	}

	if def.repeatable {
		for i, f := range matches {
			df.Items = append(df.Items, m.Item(def.key, f, true, i))
		}
		df.IsEmptyList = len(df.Items) == 0
		return df
	}

	if best, ok := m.best(matches); ok {
		df.Items = append(df.Items, m.Item(def.key, best, false, 0))
	} else {
		df.Items = append(df.Items, MissingItem(def.key))
	}
	return df
}

// best picks the highest mapping confidence match, ties by input order.
func (m *Mapper) best(matches []extraction.Field) (extraction.Field, bool) {
	var (
		pick  extraction.Field
		score = -2.0
		found bool
	)
	for _, f := range matches {
		if strings.TrimSpace(f.Normalized) == "" {
			continue
		}
		s := -1.0
		if c := confidence.MappingConfidence(f.RawField); c != nil {
			s = *c
		}
		if s > score {
			pick, score, found = f, s, true
		}
	}
	return pick, found
}

// Item builds a selectable item from a validated field. The raw field is
// copied so that the item never aliases pipeline input. Fields without an id
// get one from their visit, key and position.
func (m *Mapper) Item(key string, f extraction.Field, repeatable bool, index int) model.SelectableItem {
	id := f.FieldID
	if id == "" {
		id = key + "#" + strconv.Itoa(index)
		if f.VisitGroupID != "" {
			id = f.VisitGroupID + "/" + id
		}
	}

	raw := f.RawField
	raw.CandidateSuggestions = slices.Clone(raw.CandidateSuggestions)
	if raw.Evidence != nil {
		ev := *raw.Evidence
		raw.Evidence = &ev
	}

	mc := confidence.MappingConfidence(f.RawField)
	it := model.SelectableItem{
		ID:                      id,
		FieldKey:                key,
		DisplayValue:            f.Normalized,
		HasMappingConfidence:    mc != nil,
		Confidence:              mc,
		ConfidenceBand:          confidence.Band(f.RawField, m.policy),
		CandidateConfidence:     copyFloat(f.FieldCandidateConfidence),
		ReviewHistoryAdjustment: copyFloat(f.FieldReviewHistoryAdjustment),
		Evidence:                raw.Evidence,
		RawField:                &raw,
		VisitGroupID:            f.VisitGroupID,
		Repeatable:              repeatable,
	}

	if len(f.CandidateSuggestions) > 0 {
		sections := candidate.Resolve(key, f.CandidateSuggestions, m.candidates...)
		it.Suggestions = sections.ApplicableSuggestions
		it.DetectedCandidates = sections.DetectedCandidates
	}
	return it
}

// MissingItem is the placeholder item of a scalar field with no value.
func MissingItem(key string) model.SelectableItem {
	return model.SelectableItem{
		ID:        "missing:" + key,
		FieldKey:  key,
		IsMissing: true,
	}
}

// gather collects matches for every key, skipping duplicates by field id and
// fields rejected by keep.
func gather(res *extraction.Result, keys []string, keep func(extraction.Field) bool) []extraction.Field {
	var out []extraction.Field
	seen := make(map[string]bool)
	for _, k := range keys {
		for _, f := range res.ByKey[k] {
			if keep != nil && !keep(f) {
				continue
			}
			if f.FieldID != "" {
				if seen[f.FieldID] {
					continue
				}
				seen[f.FieldID] = true
			}
			out = append(out, f)
		}
	}
	return out
}

func anyCritical(fields []extraction.Field) bool {
	for _, f := range fields {
		if f.IsCritical {
			return true
		}
	}
	return false
}

func trimmed(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
