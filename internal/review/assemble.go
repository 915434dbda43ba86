package review

import (
	"sort"

	"github.com/sells-group/record-review/internal/mapping"
	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/schema"
	"github.com/sells-group/record-review/internal/visits"
)

// assembleSections groups core fields by section, ordered by section order
// then field order. The other section is placed second to last, ahead of
// the report info section.
func assembleSections(s *schema.Schema, mapped *mapping.Result) []model.Section {
	index := make(map[string]int)
	var sections []model.Section
	for _, df := range mapped.Core {
		i, ok := index[df.Section]
		if !ok {
			def, found := mapped.Sections[df.Section]
			if !found {
				def = s.ResolveSection(df.Key, df.Section)
			}
			i = len(sections)
			index[df.Section] = i
			sections = append(sections, model.Section{ID: def.ID, Label: def.Label, Order: def.Order})
		}
		sections[i].Fields = append(sections[i].Fields, df)
	}

	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Order < sections[j].Order
	})
	for i := range sections {
		sort.SliceStable(sections[i].Fields, func(a, b int) bool {
			return sections[i].Fields[a].Order < sections[i].Fields[b].Order
		})
	}

	if len(mapped.Other) == 0 {
		return sections
	}
	def := s.OtherSection()
	other := model.Section{ID: def.ID, Label: def.Label, Order: def.Order, IsOther: true, Fields: mapped.Other}
	if n := len(sections); n > 0 && sections[n-1].ID == schema.SectionReportInfo {
		last := sections[n-1]
		return append(sections[:n-1], other, last)
	}
	return append(sections, other)
}

// selectableItems flattens every non-missing item for cross-referencing with
// the evidence viewer, in display order and without duplicates.
func selectableItems(sections []model.Section, grouped *visits.Result) []model.SelectableItem {
	seen := make(map[string]bool)
	out := []model.SelectableItem{}
	add := func(fields []model.DisplayField) {
		for _, df := range fields {
			for _, it := range df.Items {
				if it.IsMissing || seen[it.ID] {
					continue
				}
				seen[it.ID] = true
				out = append(out, it)
			}
		}
	}
	for _, sec := range sections {
		add(sec.Fields)
	}
	for _, ep := range grouped.Episodes {
		add(ep.Fields)
	}
	if grouped.Unassigned != nil {
		add(grouped.Unassigned.Fields)
	}
	return out
}
