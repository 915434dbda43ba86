package filter

import (
	"github.com/sells-group/record-review/internal/model"
)

// DefaultCanonicalTotal is the fixed concept denominator of canonical
// documents, independent of how many visits exist.
const DefaultCanonicalTotal = 30

// Summary modes.
const (
	ModeLegacy    = "legacy"
	ModeCanonical = "canonical"
)

type concept struct {
	hasValue      bool
	hasConfidence bool
	best          *model.SelectableItem
}

// observe records one item against its concept, keeping the item with the
// highest mapping confidence as the concept's representative.
func (c *concept) observe(it *model.SelectableItem) {
	if it.IsMissing {
		return
	}
	c.hasValue = true
	if it.HasMappingConfidence {
		c.hasConfidence = true
	}
	if c.best == nil || score(it) > score(c.best) {
		c.best = it
	}
}

func score(it *model.SelectableItem) float64 {
	if it.Confidence == nil {
		return -1
	}
	return *it.Confidence
}

type tally struct {
	order    []string
	concepts map[string]*concept
}

func newTally() *tally {
	return &tally{concepts: make(map[string]*concept)}
}

func (t *tally) add(fields []model.DisplayField, keep func(model.DisplayField) bool) {
	for _, df := range fields {
		if keep != nil && !keep(df) {
			continue
		}
		c, ok := t.concepts[df.Key]
		if !ok {
			c = &concept{}
			t.concepts[df.Key] = c
			t.order = append(t.order, df.Key)
		}
		for i := range df.Items {
			c.observe(&df.Items[i])
		}
	}
}

func (t *tally) summary(mode string, total int, detected func(*concept) bool) model.Summary {
	s := model.Summary{Mode: mode, Total: total}
	for _, key := range t.order {
		c := t.concepts[key]
		if !c.hasValue {
			continue
		}
		if detected(c) {
			s.Detected++
		}
		switch b := c.best.ConfidenceBand; {
		case b == nil:
			s.Unknown++
		case *b == model.BandLow:
			s.Low++
		case *b == model.BandMedium:
			s.Medium++
		case *b == model.BandHigh:
			s.High++
		default:
			s.Unknown++
		}
	}
	if s.Detected > total {
		s.Detected = total
	}
	return s
}

// LegacySummary counts one unit per legacy schema concept that has at least
// one non-empty, confidence-tagged instance, against the schema length.
func LegacySummary(core []model.DisplayField, reg *model.SlotRegistry) model.Summary {
	t := newTally()
	t.add(core, func(df model.DisplayField) bool { return reg.ByKey(df.Key) != nil })
	return t.summary(ModeLegacy, reg.Len(), func(c *concept) bool { return c.hasConfidence })
}

// CanonicalSummary counts one unit per concept: each document-scoped
// concept, each visit-scoped concept type across all visits and each visit
// metadata key present in any visit. Unmapped fields are not concepts.
func CanonicalSummary(core []model.DisplayField, episodes []model.Episode, unassigned *model.Episode, total int) model.Summary {
	if total <= 0 {
		total = DefaultCanonicalTotal
	}
	t := newTally()
	t.add(core, func(df model.DisplayField) bool { return df.Source == model.SourceCore })
	for _, ep := range episodes {
		t.add(ep.Fields, nil)
	}
	if unassigned != nil {
		t.add(unassigned.Fields, nil)
	}
	return t.summary(ModeCanonical, total, func(*concept) bool { return true })
}
