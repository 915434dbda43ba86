// Package extraction turns a raw interpretation payload into one uniform
// stream of validated fields, whatever contract the payload uses.
package extraction

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/schema"
	"github.com/sells-group/record-review/internal/validate"
)

// Field is a raw field that passed validation. RawField keeps the value as
// received; Normalized is the canonical text form.
type Field struct {
	model.RawField
	Normalized string
}

// Rejection records a field dropped by validation.
type Rejection struct {
	FieldID  string          `json:"field_id"`
	Key      string          `json:"key"`
	RawValue string          `json:"raw_value"`
	Reason   validate.Reason `json:"reason"`
}

// Missing records a field that was sent without any value.
type Missing struct {
	FieldID      string `json:"field_id"`
	Key          string `json:"key"`
	VisitGroupID string `json:"visit_group_id,omitempty"`
}

// Result is the normalized field stream.
type Result struct {
	DocumentID string
	Canonical  bool
	Fields     []Field
	ByKey      map[string][]Field
	// KeyOrder lists keys in first-seen order.
	KeyOrder   []string
	Other      []Field
	Visits     []model.VisitGroup
	Rejections []Rejection
	Missing    []Missing
}

// Normalize flattens, validates and indexes the payload fields. It never
// fails: invalid fields are dropped and recorded as rejections.
func Normalize(p model.InterpretationPayload, log *zap.Logger) *Result {
	if log == nil {
		log = zap.L()
	}
	log = log.With(zap.String("component", "extraction"), zap.String("document_id", p.DocumentID))

	res := &Result{
		DocumentID: p.DocumentID,
		Canonical:  p.IsCanonical(),
		ByKey:      make(map[string][]Field),
	}

	stream := make([]model.RawField, 0, len(p.Fields))
	stream = append(stream, p.Fields...)
	if res.Canonical {
		res.Visits = p.Visits
		stream = append(stream, flattenVisits(p.Visits)...)
	}

	for _, raw := range stream {
		f, ok := res.accept(raw, log)
		if !ok {
			continue
		}
		if res.Canonical && (f.IsBilling() || schema.IsBillingKey(f.Key)) {
			continue
		}
		if !res.Canonical && schema.IsLegacyHiddenKey(f.Key) {
			continue
		}
		res.Fields = append(res.Fields, f)
		if _, seen := res.ByKey[f.Key]; !seen {
			res.KeyOrder = append(res.KeyOrder, f.Key)
		}
		res.ByKey[f.Key] = append(res.ByKey[f.Key], f)
	}

	if res.Canonical {
		for _, raw := range p.OtherFields {
			f, ok := res.accept(raw, log)
			if !ok || f.IsBilling() || schema.IsBillingKey(f.Key) {
				continue
			}
			res.Other = append(res.Other, f)
		}
	}

	if len(res.Rejections) > 0 {
		log.Debug("extraction: validation summary",
			zap.Int("rejected", len(res.Rejections)),
			zap.Int("accepted", len(res.Fields)),
			zap.Int("missing", len(res.Missing)),
		)
	}
	return res
}

// accept validates one raw field. Fields with no value are recorded as
// missing, fields failing validation as rejected.
func (r *Result) accept(raw model.RawField, log *zap.Logger) (Field, bool) {
	raw.Key = strings.TrimSpace(raw.Key)
	if raw.Key == "" {
		log.Debug("extraction: field without key", zap.String("field_id", raw.FieldID))
		return Field{}, false
	}

	text := raw.ValueText()
	if raw.Value == nil || strings.TrimSpace(text) == "" {
		r.Missing = append(r.Missing, Missing{FieldID: raw.FieldID, Key: raw.Key, VisitGroupID: raw.VisitGroupID})
		return Field{}, false
	}

	v := validate.Validate(raw.Key, text)
	if !v.OK {
		log.Debug("extraction: field rejected",
			zap.String("field", raw.Key),
			zap.String("field_id", raw.FieldID),
			zap.String("raw_value", text),
			zap.String("reason", string(v.Reason)),
		)
		r.Rejections = append(r.Rejections, Rejection{FieldID: raw.FieldID, Key: raw.Key, RawValue: text, Reason: v.Reason})
		return Field{}, false
	}
	return Field{RawField: raw, Normalized: v.Normalized}, true
}

// flattenVisits emits every visit's scoped fields tagged with the visit id,
// followed by the visit's metadata as pseudo-fields. The reserved unassigned
// group carries no metadata of its own.
func flattenVisits(visits []model.VisitGroup) []model.RawField {
	var out []model.RawField
	for _, v := range visits {
		for _, f := range v.Fields {
			f.Scope = model.ScopeVisit
			f.VisitGroupID = v.VisitID
			out = append(out, f)
		}
		if v.IsUnassigned() {
			continue
		}
		out = append(out, VisitMetadata(v)...)
	}
	return out
}

// VisitMetadata synthesizes the four metadata pseudo-fields of a visit. An
// absent attribute yields a field with a nil value.
func VisitMetadata(v model.VisitGroup) []model.RawField {
	out := make([]model.RawField, 0, len(schema.VisitMetadataKeys))
	for _, key := range schema.VisitMetadataKeys {
		f := model.RawField{
			FieldID:        model.VisitMetaID(v.VisitID, key),
			Key:            key,
			Scope:          model.ScopeVisit,
			Section:        schema.SectionVisits,
			Classification: model.ClassificationMedicalRecord,
			VisitGroupID:   v.VisitID,
			Origin:         model.OriginMachine,
		}
		if p := v.Attribute(key); p != nil {
			f.Value = *p
		}
		out = append(out, f)
	}
	return out
}
