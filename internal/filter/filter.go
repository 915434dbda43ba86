// Package filter applies reviewer filters to display fields and computes the
// detected and confidence summaries.
package filter

import (
	"strings"

	"github.com/sells-group/record-review/internal/confidence"
	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/schema"
)

// Matcher evaluates one filter selection. Build it once per pass.
type Matcher struct {
	filters model.Filters
	query   string
	buckets map[model.Band]bool
}

// NewMatcher prepares a filter selection for matching.
func NewMatcher(f model.Filters) *Matcher {
	m := &Matcher{filters: f, query: schema.Fold(f.Search)}
	if len(f.Buckets) > 0 {
		m.buckets = make(map[model.Band]bool, len(f.Buckets))
		for _, b := range f.Buckets {
			m.buckets[model.Band(strings.ToLower(strings.TrimSpace(string(b))))] = true
		}
	}
	return m
}

// Active reports whether any filter is set.
func (m *Matcher) Active() bool {
	return m.filters.Active()
}

// Match reports whether a display field survives. A field survives when at
// least one of its items satisfies every active filter. An empty repeatable
// list behaves as one missing item of unknown confidence.
func (m *Matcher) Match(df model.DisplayField) bool {
	if m.filters.OnlyCritical && !df.IsCritical {
		return false
	}
	groupHit := m.query == "" ||
		strings.Contains(schema.Fold(df.Label), m.query) ||
		strings.Contains(schema.Fold(df.Key), m.query)

	if len(df.Items) == 0 {
		return m.matchItem(groupHit, "", true, nil)
	}
	for _, it := range df.Items {
		if m.matchItem(groupHit, it.DisplayValue, it.IsMissing, it.ConfidenceBand) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchItem(groupHit bool, value string, missing bool, band *model.Band) bool {
	if !groupHit && !strings.Contains(schema.Fold(value), m.query) {
		return false
	}
	if m.buckets != nil && !m.buckets[confidence.Bucket(band)] {
		return false
	}
	if m.filters.OnlyWithValue && missing {
		return false
	}
	if m.filters.OnlyEmpty && !missing {
		return false
	}
	return true
}

// Fields keeps the matching display fields, preserving order.
func (m *Matcher) Fields(fields []model.DisplayField) []model.DisplayField {
	if !m.Active() {
		return fields
	}
	out := make([]model.DisplayField, 0, len(fields))
	for _, df := range fields {
		if m.Match(df) {
			out = append(out, df)
		}
	}
	return out
}

// Sections filters every section. With any filter active the "other"
// section is suppressed and sections left empty are dropped.
func (m *Matcher) Sections(sections []model.Section) []model.Section {
	if !m.Active() {
		return sections
	}
	out := make([]model.Section, 0, len(sections))
	for _, sec := range sections {
		if sec.IsOther {
			continue
		}
		sec.Fields = m.Fields(sec.Fields)
		if len(sec.Fields) == 0 {
			continue
		}
		out = append(out, sec)
	}
	return out
}

// Episodes filters episode fields. Episodes left empty are dropped.
func (m *Matcher) Episodes(episodes []model.Episode) []model.Episode {
	if !m.Active() {
		return episodes
	}
	out := make([]model.Episode, 0, len(episodes))
	for _, ep := range episodes {
		if f := m.Episode(&ep); f != nil {
			out = append(out, *f)
		}
	}
	return out
}

// Episode filters a single episode, returning nil when nothing survives.
func (m *Matcher) Episode(ep *model.Episode) *model.Episode {
	if ep == nil {
		return nil
	}
	if !m.Active() {
		return ep
	}
	cp := *ep
	cp.Fields = m.Fields(ep.Fields)
	if len(cp.Fields) == 0 {
		return nil
	}
	return &cp
}
