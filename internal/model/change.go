package model

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// ChangeOp is the kind of reviewer edit.
type ChangeOp string

const (
	ChangeAdd    ChangeOp = "ADD"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// Change is one reviewer edit. Edits are applied by the extraction service,
// which answers with a fresh interpretation payload.
type Change struct {
	Op        ChangeOp `json:"op"`
	FieldID   string   `json:"field_id,omitempty"`
	Key       string   `json:"key,omitempty"`
	Value     any      `json:"value"`
	ValueType string   `json:"value_type,omitempty"`
}

// Validate checks that the change carries the identifiers its op needs.
func (c Change) Validate() error {
	switch ChangeOp(strings.ToUpper(string(c.Op))) {
	case ChangeAdd:
		if strings.TrimSpace(c.Key) == "" {
			return eris.New("model: ADD change requires key")
		}
	case ChangeUpdate, ChangeDelete:
		if strings.TrimSpace(c.FieldID) == "" {
			return eris.Errorf("model: %s change requires field_id", strings.ToUpper(string(c.Op)))
		}
	default:
		return eris.Errorf("model: unknown change op %q", c.Op)
	}
	return nil
}

// ValidateChanges validates every change in the list.
func ValidateChanges(changes []Change) error {
	if len(changes) == 0 {
		return eris.New("model: empty change list")
	}
	for i, c := range changes {
		if err := c.Validate(); err != nil {
			return eris.Wrapf(err, "change %d", i)
		}
	}
	return nil
}

// ApplyChanges returns a copy of the payload with the changes applied
// locally. Edited and added fields become human-origin and lose their
// mapping confidence. The input payload is not modified.
func ApplyChanges(p InterpretationPayload, changes []Change) (*InterpretationPayload, error) {
	if err := ValidateChanges(changes); err != nil {
		return nil, err
	}

	out := clonePayload(p)
	for i, c := range changes {
		var err error
		switch ChangeOp(strings.ToUpper(string(c.Op))) {
		case ChangeAdd:
			out.Fields = append(out.Fields, addedField(out, c))
		case ChangeUpdate:
			err = out.updateField(c)
		case ChangeDelete:
			err = out.deleteField(c.FieldID)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "change %d", i)
		}
	}
	return &out, nil
}

func addedField(p InterpretationPayload, c Change) RawField {
	f := RawField{
		FieldID:        "added-" + uuid.NewString(),
		Key:            strings.TrimSpace(c.Key),
		Value:          c.Value,
		ValueType:      c.ValueType,
		Scope:          ScopeDocument,
		Classification: ClassificationMedicalRecord,
		Origin:         OriginHuman,
	}
	// Inherit the section of an existing field with the same key.
	for _, existing := range p.Fields {
		if existing.Key == f.Key {
			f.Section = existing.Section
			f.IsCritical = existing.IsCritical
			break
		}
	}
	return f
}

func (p *InterpretationPayload) updateField(c Change) error {
	if strings.HasPrefix(c.FieldID, VisitMetaPrefix) {
		return p.setVisitAttribute(c.FieldID, c.Value)
	}
	apply := func(f *RawField) {
		f.Value = c.Value
		if c.ValueType != "" {
			f.ValueType = c.ValueType
		}
		f.Origin = OriginHuman
		f.FieldMappingConfidence = nil
	}
	for i := range p.Fields {
		if p.Fields[i].FieldID == c.FieldID {
			apply(&p.Fields[i])
			return nil
		}
	}
	for i := range p.OtherFields {
		if p.OtherFields[i].FieldID == c.FieldID {
			apply(&p.OtherFields[i])
			return nil
		}
	}
	for vi := range p.Visits {
		for i := range p.Visits[vi].Fields {
			if p.Visits[vi].Fields[i].FieldID == c.FieldID {
				apply(&p.Visits[vi].Fields[i])
				return nil
			}
		}
	}
	return eris.Errorf("model: field not found: %s", c.FieldID)
}

func (p *InterpretationPayload) deleteField(fieldID string) error {
	if strings.HasPrefix(fieldID, VisitMetaPrefix) {
		return p.setVisitAttribute(fieldID, nil)
	}
	if idx := indexOfField(p.Fields, fieldID); idx >= 0 {
		p.Fields = append(p.Fields[:idx], p.Fields[idx+1:]...)
		return nil
	}
	if idx := indexOfField(p.OtherFields, fieldID); idx >= 0 {
		p.OtherFields = append(p.OtherFields[:idx], p.OtherFields[idx+1:]...)
		return nil
	}
	for vi := range p.Visits {
		if idx := indexOfField(p.Visits[vi].Fields, fieldID); idx >= 0 {
			p.Visits[vi].Fields = append(p.Visits[vi].Fields[:idx], p.Visits[vi].Fields[idx+1:]...)
			return nil
		}
	}
	return eris.Errorf("model: field not found: %s", fieldID)
}

func indexOfField(fields []RawField, fieldID string) int {
	for i, f := range fields {
		if f.FieldID == fieldID {
			return i
		}
	}
	return -1
}

func clonePayload(p InterpretationPayload) InterpretationPayload {
	out := p
	out.Fields = append([]RawField(nil), p.Fields...)
	out.OtherFields = append([]RawField(nil), p.OtherFields...)
	if p.Visits != nil {
		out.Visits = make([]VisitGroup, len(p.Visits))
		for i, v := range p.Visits {
			v.Fields = append([]RawField(nil), v.Fields...)
			out.Visits[i] = v
		}
	}
	return out
}
