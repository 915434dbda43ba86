// Package confidence resolves the versioned confidence policy and classifies
// field mapping confidence into bands.
package confidence

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/sells-group/record-review/internal/model"
)

// DegradedReason explains why a policy could not be used.
type DegradedReason string

const (
	ReasonMissingPolicyVersion DegradedReason = "missing_policy_version"
	ReasonMissingBandCutoffs   DegradedReason = "missing_band_cutoffs"
	ReasonInvalidBandCutoffs   DegradedReason = "invalid_band_cutoffs"
)

// Cutoffs are the upper bounds of the low and medium bands.
type Cutoffs struct {
	LowMax float64 `json:"low_max"`
	MidMax float64 `json:"mid_max"`
}

// Policy is a validated confidence policy.
type Policy struct {
	Version string  `json:"policy_version"`
	Cutoffs Cutoffs `json:"band_cutoffs"`
}

// PolicyState is the resolver output. Exactly one of Policy and
// DegradedReason is set.
type PolicyState struct {
	Policy         *Policy
	DegradedReason DegradedReason
}

// Degraded reports whether the policy could not be resolved.
func (s PolicyState) Degraded() bool {
	return s.Policy == nil
}

func degraded(r DegradedReason) PolicyState {
	return PolicyState{DegradedReason: r}
}

// ResolvePolicy validates a raw confidence_policy document. The input is
// decoded leniently so that a wrong type on any attribute maps to a degraded
// reason instead of a decode error.
func ResolvePolicy(raw json.RawMessage) PolicyState {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return degraded(ReasonMissingPolicyVersion)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return degraded(ReasonMissingPolicyVersion)
	}

	version, _ := doc["policy_version"].(string)
	version = strings.TrimSpace(version)
	if version == "" {
		return degraded(ReasonMissingPolicyVersion)
	}

	cutoffs, ok := doc["band_cutoffs"].(map[string]any)
	if !ok {
		return degraded(ReasonMissingBandCutoffs)
	}

	low, okLow := finiteNumber(cutoffs["low_max"])
	mid, okMid := finiteNumber(cutoffs["mid_max"])
	if !okLow || !okMid {
		return degraded(ReasonInvalidBandCutoffs)
	}
	if low < 0 || low >= mid || mid > 1 {
		return degraded(ReasonInvalidBandCutoffs)
	}

	return PolicyState{Policy: &Policy{Version: version, Cutoffs: Cutoffs{LowMax: low, MidMax: mid}}}
}

func finiteNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Tone classifies a confidence value. The value is clamped to [0,1] first.
func Tone(c float64, cutoffs Cutoffs) model.Band {
	c = clamp(c)
	switch {
	case c < cutoffs.LowMax:
		return model.BandLow
	case c < cutoffs.MidMax:
		return model.BandMedium
	default:
		return model.BandHigh
	}
}

func clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// MappingConfidence returns the field's mapping confidence, or nil when the
// field is a human edit or carries no finite value.
func MappingConfidence(f model.RawField) *float64 {
	if f.IsHuman() || f.FieldMappingConfidence == nil {
		return nil
	}
	c := *f.FieldMappingConfidence
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return nil
	}
	return &c
}

// Band classifies a field under a policy. Nil means unknown: no mapping
// confidence, a human-origin value, or a degraded policy.
func Band(f model.RawField, policy *Policy) *model.Band {
	c := MappingConfidence(f)
	if c == nil || policy == nil {
		return nil
	}
	b := Tone(*c, policy.Cutoffs)
	return &b
}

// Bucket maps an item band to its filter bucket.
func Bucket(b *model.Band) model.Band {
	if b == nil {
		return model.BandUnknown
	}
	return *b
}

// Tally counts bands, keeping unknown apart from low.
type Tally struct {
	Low     int
	Medium  int
	High    int
	Unknown int
}

// Add counts one band.
func (t *Tally) Add(b *model.Band) {
	switch Bucket(b) {
	case model.BandLow:
		t.Low++
	case model.BandMedium:
		t.Medium++
	case model.BandHigh:
		t.High++
	default:
		t.Unknown++
	}
}
