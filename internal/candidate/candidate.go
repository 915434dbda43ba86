// Package candidate reconciles free-text extraction candidates against the
// controlled vocabularies of fields that have one.
package candidate

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/validate"
)

const (
	DefaultMaxSuggestions = 5
	DefaultMaxDetected    = 3

	// garbageMaxLen is the longest raw candidate still worth showing.
	garbageMaxLen = 60
)

// vocabularies lists the canonical option values of controlled fields.
var vocabularies = map[string][]string{
	"sex":     {"macho", "hembra"},
	"species": {"canino", "felino"},
}

// IsControlled reports whether the field key has a controlled vocabulary.
func IsControlled(fieldKey string) bool {
	_, ok := vocabularies[strings.TrimSpace(fieldKey)]
	return ok
}

// Options returns the canonical option values of a controlled field.
func Options(fieldKey string) []string {
	return vocabularies[strings.TrimSpace(fieldKey)]
}

// Sections is the resolver output: one-click suggestions and read-only
// detected candidates.
type Sections struct {
	ApplicableSuggestions []model.SuggestionOption `json:"applicable_suggestions"`
	DetectedCandidates    []model.SuggestionOption `json:"detected_candidates"`
}

// Option configures Resolve.
type Option func(*resolveOpts)

type resolveOpts struct {
	maxSuggestions int
	maxDetected    int
}

// WithMaxSuggestions caps the applicable suggestions.
func WithMaxSuggestions(n int) Option {
	return func(o *resolveOpts) {
		if n > 0 {
			o.maxSuggestions = n
		}
	}
}

// WithMaxDetected caps the detected candidates.
func WithMaxDetected(n int) Option {
	return func(o *resolveOpts) {
		if n > 0 {
			o.maxDetected = n
		}
	}
}

// Resolve splits raw candidate suggestions into applicable suggestions and
// detected candidates. Only controlled-vocabulary fields ever produce
// detected candidates.
func Resolve(fieldKey string, raw []model.CandidateSuggestion, opts ...Option) Sections {
	o := resolveOpts{maxSuggestions: DefaultMaxSuggestions, maxDetected: DefaultMaxDetected}
	for _, opt := range opts {
		opt(&o)
	}

	if !IsControlled(fieldKey) {
		return Sections{
			ApplicableSuggestions: resolveFreeText(raw, o.maxSuggestions),
			DetectedCandidates:    []model.SuggestionOption{},
		}
	}
	return resolveControlled(fieldKey, raw, o)
}

func resolveFreeText(raw []model.CandidateSuggestion, limit int) []model.SuggestionOption {
	seen := make(map[string]bool, len(raw))
	out := make([]model.SuggestionOption, 0, len(raw))
	for _, c := range raw {
		v := strings.TrimSpace(c.Value)
		if v == "" {
			continue
		}
		k := strings.ToLower(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		if !finite(c.Confidence) {
			continue
		}
		out = append(out, model.SuggestionOption{Value: v, Confidence: c.Confidence, Evidence: c.Evidence})
		if len(out) == limit {
			break
		}
	}
	return out
}

type ranked struct {
	opt   model.SuggestionOption
	index int
}

func resolveControlled(fieldKey string, raw []model.CandidateSuggestion, o resolveOpts) Sections {
	options := make(map[string]bool)
	for _, v := range Options(fieldKey) {
		options[v] = true
	}

	suggestions := make(map[string]*ranked)
	detected := make(map[string]*ranked)

	for i, c := range raw {
		v := strings.TrimSpace(c.Value)
		if v == "" {
			continue
		}

		normalized, extra, ok := normalizeCandidate(fieldKey, v)
		if ok && !extra {
			keepBest(suggestions, normalized, i, model.SuggestionOption{
				Value:      normalized,
				RawValue:   v,
				Confidence: c.Confidence,
				Evidence:   c.Evidence,
			})
			continue
		}

		if isGarbage(v) || options[strings.ToLower(v)] {
			continue
		}
		keepBest(detected, strings.ToLower(v), i, model.SuggestionOption{
			Value:           v,
			RawValue:        v,
			Confidence:      c.Confidence,
			Evidence:        c.Evidence,
			HasExtraContent: extra,
		})
	}

	return Sections{
		ApplicableSuggestions: sortAndCap(suggestions, o.maxSuggestions),
		DetectedCandidates:    sortAndCap(detected, o.maxDetected),
	}
}

// normalizeCandidate tries the value as a whole, then token by token. A value
// whose tokens normalize to exactly one option is a noisy match carrying
// extra content.
func normalizeCandidate(fieldKey, value string) (normalized string, extra, ok bool) {
	if r := validate.Validate(fieldKey, value); r.OK {
		return r.Normalized, false, true
	}

	tokens := strings.FieldsFunc(value, func(r rune) bool { return !unicode.IsLetter(r) })
	found := make(map[string]bool)
	for _, tok := range tokens {
		if r := validate.Validate(fieldKey, tok); r.OK {
			found[r.Normalized] = true
			normalized = r.Normalized
		}
	}
	if len(found) != 1 {
		return "", false, false
	}
	return normalized, true, true
}

var digitGroups = regexp.MustCompile(`\d+`)

// isGarbage flags OCR noise that is not worth showing at all.
func isGarbage(v string) bool {
	if utf8.RuneCountInString(v) > garbageMaxLen {
		return true
	}
	if strings.Count(v, ":")+strings.Count(v, ";") >= 2 {
		return true
	}
	return len(digitGroups.FindAllString(v, -1)) >= 2
}

func keepBest(into map[string]*ranked, key string, index int, opt model.SuggestionOption) {
	existing, ok := into[key]
	if !ok {
		into[key] = &ranked{opt: opt, index: index}
		return
	}
	if confidenceOf(opt.Confidence) > confidenceOf(existing.opt.Confidence) {
		existing.opt = opt
	}
}

// sortAndCap orders by confidence desc with unknown confidence last, ties by
// first appearance.
func sortAndCap(in map[string]*ranked, limit int) []model.SuggestionOption {
	list := make([]*ranked, 0, len(in))
	for _, r := range in {
		list = append(list, r)
	}
	sort.SliceStable(list, func(i, j int) bool {
		ci, cj := confidenceOf(list[i].opt.Confidence), confidenceOf(list[j].opt.Confidence)
		if ci != cj {
			return ci > cj
		}
		return list[i].index < list[j].index
	})
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]model.SuggestionOption, len(list))
	for i, r := range list {
		out[i] = r.opt
	}
	return out
}

func finite(c *float64) bool {
	return c != nil && !math.IsNaN(*c) && !math.IsInf(*c, 0)
}

// confidenceOf maps unknown confidence below every real value.
func confidenceOf(c *float64) float64 {
	if !finite(c) {
		return -1
	}
	return *c
}
