package model

import "strings"

// SchemaSlot is a target concept definition, either from the fixed legacy
// schema or from a document's canonical field_slots.
type SchemaSlot struct {
	Key          string     `json:"key,omitempty" yaml:"key"`
	CanonicalKey string     `json:"canonical_key,omitempty" yaml:"canonical_key,omitempty"`
	Label        string     `json:"label,omitempty" yaml:"label"`
	Section      string     `json:"section,omitempty" yaml:"section"`
	Order        int        `json:"order,omitempty" yaml:"order"`
	ValueType    string     `json:"value_type,omitempty" yaml:"value_type"`
	Repeatable   bool       `json:"repeatable,omitempty" yaml:"repeatable,omitempty"`
	Critical     bool       `json:"critical,omitempty" yaml:"critical,omitempty"`
	Aliases      []string   `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Scope        FieldScope `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// ConceptKey returns the canonical key, falling back to the plain key.
func (s SchemaSlot) ConceptKey() string {
	if k := strings.TrimSpace(s.CanonicalKey); k != "" {
		return k
	}
	return strings.TrimSpace(s.Key)
}

// IsVisitScoped reports whether the slot describes a visit-level concept.
func (s SchemaSlot) IsVisitScoped() bool {
	return strings.EqualFold(strings.TrimSpace(string(s.Scope)), string(ScopeVisit))
}

// SlotRegistry is an indexed collection of schema slots.
type SlotRegistry struct {
	Slots []SchemaSlot
	byKey map[string]*SchemaSlot
}

// NewSlotRegistry creates a SlotRegistry indexed by concept key. The first
// slot declaring a key wins.
func NewSlotRegistry(slots []SchemaSlot) *SlotRegistry {
	r := &SlotRegistry{
		Slots: slots,
		byKey: make(map[string]*SchemaSlot, len(slots)),
	}
	for i := range r.Slots {
		s := &r.Slots[i]
		key := s.ConceptKey()
		if key == "" {
			continue
		}
		if _, dup := r.byKey[key]; !dup {
			r.byKey[key] = s
		}
	}
	return r
}

// ByKey returns the slot for a concept key, or nil if not found.
func (r *SlotRegistry) ByKey(key string) *SchemaSlot {
	return r.byKey[key]
}

// Len returns the number of slots.
func (r *SlotRegistry) Len() int {
	return len(r.Slots)
}
