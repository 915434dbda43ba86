package model

import (
	"math"
	"strconv"
	"strings"
)

// FieldScope says whether a fact belongs to the whole document or to one visit.
type FieldScope string

const (
	ScopeDocument FieldScope = "document"
	ScopeVisit    FieldScope = "visit"
)

// FieldOrigin identifies who produced a field value.
type FieldOrigin string

const (
	OriginMachine FieldOrigin = "machine"
	OriginHuman   FieldOrigin = "human"
)

// Classification values carried on raw fields.
const (
	ClassificationMedicalRecord = "medical_record"
	ClassificationOther         = "other"
	ClassificationBilling       = "billing"
)

// Evidence points at the page and snippet a value was read from.
type Evidence struct {
	Page    int    `json:"page,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// CandidateSuggestion is one raw, unvalidated alternative value proposed by
// the extraction service.
type CandidateSuggestion struct {
	Value      string    `json:"value"`
	Confidence *float64  `json:"confidence,omitempty"`
	Evidence   *Evidence `json:"evidence,omitempty"`
}

// RawField is one extracted fact as delivered by the extraction service.
type RawField struct {
	FieldID                      string                `json:"field_id"`
	Key                          string                `json:"key"`
	Value                        any                   `json:"value"`
	ValueType                    string                `json:"value_type,omitempty"`
	Scope                        FieldScope            `json:"scope,omitempty"`
	Section                      string                `json:"section,omitempty"`
	Classification               string                `json:"classification,omitempty"`
	VisitGroupID                 string                `json:"visit_group_id,omitempty"`
	IsCritical                   bool                  `json:"is_critical,omitempty"`
	Origin                       FieldOrigin           `json:"origin,omitempty"`
	FieldMappingConfidence       *float64              `json:"field_mapping_confidence,omitempty"`
	FieldCandidateConfidence     *float64              `json:"field_candidate_confidence,omitempty"`
	FieldReviewHistoryAdjustment *float64              `json:"field_review_history_adjustment,omitempty"`
	Evidence                     *Evidence             `json:"evidence,omitempty"`
	CandidateSuggestions         []CandidateSuggestion `json:"candidate_suggestions,omitempty"`
}

// IsHuman reports whether the value came from a reviewer edit.
func (f RawField) IsHuman() bool {
	return strings.EqualFold(strings.TrimSpace(string(f.Origin)), string(OriginHuman))
}

// IsVisitScoped reports whether the field belongs to a visit episode.
func (f RawField) IsVisitScoped() bool {
	return strings.EqualFold(strings.TrimSpace(string(f.Scope)), string(ScopeVisit))
}

// IsBilling reports whether the field carries a billing classification.
func (f RawField) IsBilling() bool {
	return strings.EqualFold(strings.TrimSpace(f.Classification), ClassificationBilling)
}

// ValueText renders the raw value as text. Nil renders as the empty string.
func (f RawField) ValueText() string {
	return ValueText(f.Value)
}

// ValueText renders a decoded JSON scalar as text.
func ValueText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// NormalizeVisitID trims and lower-cases a visit identifier for comparison.
func NormalizeVisitID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// UnassignedVisitID is the reserved visit id that never forms an episode.
const UnassignedVisitID = "unassigned"
