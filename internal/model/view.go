package model

import "strings"

// Band is a confidence classification. Unknown is only used for filter
// buckets and summary tallies; items carry a nil band instead.
type Band string

const (
	BandLow     Band = "low"
	BandMedium  Band = "medium"
	BandHigh    Band = "high"
	BandUnknown Band = "unknown"
)

// FieldSource tells whether a display field comes from the schema or from
// the unmapped "other" fields.
type FieldSource string

const (
	SourceCore      FieldSource = "core"
	SourceExtracted FieldSource = "extracted"
)

// SuggestionOption is a candidate value shown to the reviewer, either as a
// one-click suggestion or as a read-only detected candidate.
type SuggestionOption struct {
	Value           string    `json:"value"`
	RawValue        string    `json:"rawValue,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	Evidence        *Evidence `json:"evidence,omitempty"`
	HasExtraContent bool      `json:"hasExtraContent,omitempty"`
}

// SelectableItem is one renderable value instance.
type SelectableItem struct {
	ID                      string             `json:"id"`
	FieldKey                string             `json:"fieldKey"`
	DisplayValue            string             `json:"displayValue"`
	IsMissing               bool               `json:"isMissing"`
	HasMappingConfidence    bool               `json:"hasMappingConfidence"`
	Confidence              *float64           `json:"confidence"`
	ConfidenceBand          *Band              `json:"confidenceBand"`
	CandidateConfidence     *float64           `json:"candidateConfidence,omitempty"`
	ReviewHistoryAdjustment *float64           `json:"reviewHistoryAdjustment,omitempty"`
	Evidence                *Evidence          `json:"evidence,omitempty"`
	RawField                *RawField          `json:"rawField,omitempty"` // copy, never shared with pipeline input
	VisitGroupID            string             `json:"visitGroupId,omitempty"`
	Repeatable              bool               `json:"repeatable"`
	Suggestions             []SuggestionOption `json:"suggestions,omitempty"`
	DetectedCandidates      []SuggestionOption `json:"detectedCandidates,omitempty"`
}

// DisplayField is a schema concept with its value instances.
type DisplayField struct {
	Key         string           `json:"key"`
	Label       string           `json:"label"`
	Section     string           `json:"section"`
	Order       int              `json:"order"`
	IsCritical  bool             `json:"isCritical"`
	Repeatable  bool             `json:"repeatable"`
	Items       []SelectableItem `json:"items"`
	IsEmptyList bool             `json:"isEmptyList"`
	Source      FieldSource      `json:"source"`
}

// HasValue reports whether at least one item carries a value.
func (d DisplayField) HasValue() bool {
	for _, it := range d.Items {
		if !it.IsMissing {
			return true
		}
	}
	return false
}

// Section is an ordered group of display fields.
type Section struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	Order   int            `json:"order"`
	IsOther bool           `json:"isOther,omitempty"`
	Fields  []DisplayField `json:"fields"`
}

// Episode is one chronological visit, or the unassigned bucket.
type Episode struct {
	VisitID    string         `json:"visitId"`
	Number     int            `json:"number,omitempty"`
	VisitDate  string         `json:"visitDate,omitempty"`
	Unassigned bool           `json:"unassigned,omitempty"`
	Hint       string         `json:"hint,omitempty"`
	Fields     []DisplayField `json:"fields"`
}

// Summary is the "detected X of N" aggregate plus confidence tallies.
type Summary struct {
	Mode     string `json:"mode"`
	Detected int    `json:"detected"`
	Total    int    `json:"total"`
	Low      int    `json:"low"`
	Medium   int    `json:"medium"`
	High     int    `json:"high"`
	Unknown  int    `json:"unknown"`
}

// ContractError signals a broken canonical contract, as opposed to a
// document with no extracted fields.
type ContractError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Filters is the reviewer's current filter selection. All active filters
// combine with AND semantics.
type Filters struct {
	Search        string `json:"search,omitempty"`
	Buckets       []Band `json:"buckets,omitempty"`
	OnlyCritical  bool   `json:"only_critical,omitempty"`
	OnlyWithValue bool   `json:"only_with_value,omitempty"`
	OnlyEmpty     bool   `json:"only_empty,omitempty"`
}

// Active reports whether any filter is set.
func (f Filters) Active() bool {
	return strings.TrimSpace(f.Search) != "" ||
		len(f.Buckets) > 0 ||
		f.OnlyCritical ||
		f.OnlyWithValue ||
		f.OnlyEmpty
}

// ViewModel is the complete output of one pipeline pass.
type ViewModel struct {
	DocumentID           string           `json:"documentId,omitempty"`
	Canonical            bool             `json:"canonical"`
	Sections             []Section        `json:"sections"`
	Episodes             []Episode        `json:"episodes,omitempty"`
	Unassigned           *Episode         `json:"unassigned,omitempty"`
	SelectableItems      []SelectableItem `json:"selectableItems"`
	Summary              Summary          `json:"summary"`
	ContractError        *ContractError   `json:"contractError,omitempty"`
	PolicyVersion        string           `json:"policyVersion,omitempty"`
	PolicyDegradedReason string           `json:"policyDegradedReason,omitempty"`
	FiltersActive        bool             `json:"filtersActive"`
}
