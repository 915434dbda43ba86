// Package visits orders visit-scoped facts into numbered chronological
// episodes plus one unassigned bucket.
package visits

import (
	"sort"
	"time"

	"github.com/sells-group/record-review/internal/extraction"
	"github.com/sells-group/record-review/internal/mapping"
	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/schema"
	"github.com/sells-group/record-review/internal/validate"
)

// UnassignedHint annotates the unassigned bucket.
const UnassignedHint = "Campos de visita sin episodio asignado. Revisa la visita de origen antes de confirmar."

// AnomalyKind classifies a visit grouping anomaly.
type AnomalyKind string

const (
	AnomalyUnassignedFields AnomalyKind = "unassigned_visit_fields"
	AnomalyUndatedVisit     AnomalyKind = "undated_visit"
	AnomalyDuplicateVisitID AnomalyKind = "duplicate_visit_id"
)

// Anomaly is a grouping irregularity worth reporting to operators.
type Anomaly struct {
	Kind    AnomalyKind `json:"kind"`
	VisitID string      `json:"visit_id,omitempty"`
	Count   int         `json:"count,omitempty"`
}

// Result holds episodes in display order (most recent first).
type Result struct {
	Episodes   []model.Episode
	Unassigned *model.Episode
	Anomalies  []Anomaly
}

type visit struct {
	group model.VisitGroup
	id    string
	date  *time.Time
}

// Build groups the visit-scoped fields of a canonical payload. Legacy
// payloads produce an empty result. fieldOrder is the canonical visit field
// order; keys outside it are appended in first-seen order.
func Build(res *extraction.Result, m *mapping.Mapper, s *schema.Schema, fieldOrder []string) *Result {
	out := &Result{}
	if !res.Canonical {
		return out
	}
	if len(fieldOrder) == 0 {
		fieldOrder = schema.CanonicalVisitScopedKeys
	}

	var ordered []visit
	known := make(map[string]bool)
	for _, g := range res.Visits {
		if g.IsUnassigned() {
			continue
		}
		id := model.NormalizeVisitID(g.VisitID)
		if known[id] {
			out.Anomalies = append(out.Anomalies, Anomaly{Kind: AnomalyDuplicateVisitID, VisitID: g.VisitID})
			continue
		}
		known[id] = true
		v := visit{group: g, id: id, date: parseDate(g.VisitDate)}
		if v.date == nil {
			out.Anomalies = append(out.Anomalies, Anomaly{Kind: AnomalyUndatedVisit, VisitID: g.VisitID})
		}
		ordered = append(ordered, v)
	}

	// Oldest first; undated after dated; equal dates keep input order.
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].date, ordered[j].date
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})

	byVisit := make(map[string][]extraction.Field)
	var unassigned []extraction.Field
	for _, f := range res.Fields {
		if !f.IsVisitScoped() {
			continue
		}
		id := model.NormalizeVisitID(f.VisitGroupID)
		if known[id] {
			byVisit[id] = append(byVisit[id], f)
			continue
		}
		unassigned = append(unassigned, f)
	}

	episodes := make([]model.Episode, len(ordered))
	for i, v := range ordered {
		ep := model.Episode{
			VisitID: v.group.VisitID,
			Number:  i + 1,
			Fields:  episodeFields(v.group.VisitID, byVisit[v.id], m, s, fieldOrder),
		}
		if v.date != nil {
			ep.VisitDate = v.date.Format(time.DateOnly)
		}
		episodes[i] = ep
	}
	for i, j := 0, len(episodes)-1; i < j; i, j = i+1, j-1 {
		episodes[i], episodes[j] = episodes[j], episodes[i]
	}
	out.Episodes = episodes

	if len(unassigned) > 0 {
		out.Unassigned = &model.Episode{
			VisitID:    model.UnassignedVisitID,
			Unassigned: true,
			Hint:       UnassignedHint,
			Fields:     episodeFields("", unassigned, m, s, fieldOrder),
		}
		out.Anomalies = append(out.Anomalies, Anomaly{Kind: AnomalyUnassignedFields, Count: len(unassigned)})
	}
	return out
}

// episodeFields groups fields by key in canonical visit order. A real episode
// (non-empty visitID) always shows the four metadata keys, with a missing item
// when absent.
func episodeFields(visitID string, fields []extraction.Field, m *mapping.Mapper, s *schema.Schema, fieldOrder []string) []model.DisplayField {
	byKey := make(map[string][]extraction.Field)
	var seen []string
	for _, f := range fields {
		if _, ok := byKey[f.Key]; !ok {
			seen = append(seen, f.Key)
		}
		byKey[f.Key] = append(byKey[f.Key], f)
	}

	var order []string
	placed := make(map[string]bool)
	add := func(k string) {
		if placed[k] {
			return
		}
		placed[k] = true
		order = append(order, k)
	}
	if visitID != "" {
		for _, k := range schema.VisitMetadataKeys {
			add(k)
		}
	}
	for _, k := range fieldOrder {
		if len(byKey[k]) > 0 {
			add(k)
		}
	}
	for _, k := range seen {
		add(k)
	}

	out := make([]model.DisplayField, 0, len(order))
	for i, key := range order {
		matches := byKey[key]
		repeatable := len(matches) > 1
		df := model.DisplayField{
			Key:        key,
			Label:      s.Label(key),
			Section:    schema.SectionVisits,
			Order:      i + 1,
			IsCritical: schema.IsCriticalKey(key),
			Repeatable: repeatable,
			Source:     model.SourceCore,
			Items:      make([]model.SelectableItem, 0, len(matches)),
		}
		if len(matches) == 0 {
			missing := mapping.MissingItem(key)
			missing.ID = model.VisitMetaID(visitID, key)
			missing.VisitGroupID = visitID
			df.Items = append(df.Items, missing)
		}
		for j, f := range matches {
			df.Items = append(df.Items, m.Item(key, f, repeatable, j))
		}
		out = append(out, df)
	}
	return out
}

// parseDate normalizes a visit date through the date validator.
func parseDate(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	r := validate.Validate("visit_date", *raw)
	if !r.OK {
		return nil
	}
	t, err := time.Parse(time.DateOnly, r.Normalized)
	if err != nil {
		return nil
	}
	return &t
}
