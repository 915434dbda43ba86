package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// VisitMetaPrefix prefixes the ids of synthesized visit metadata fields.
const VisitMetaPrefix = "visit-meta:"

// VisitMetaID builds the stable id of a visit metadata pseudo-field.
func VisitMetaID(visitID, key string) string {
	return VisitMetaPrefix + visitID + ":" + key
}

// ParseVisitMetaID splits a visit metadata field id into its visit id and
// attribute key. Visit ids may themselves contain colons.
func ParseVisitMetaID(fieldID string) (visitID, key string, ok bool) {
	rest, found := strings.CutPrefix(fieldID, VisitMetaPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Attribute returns the visit attribute stored under key, or nil when the
// attribute is absent or key is not a visit attribute.
func (v VisitGroup) Attribute(key string) *string {
	if p := v.attribute(key); p != nil {
		return *p
	}
	return nil
}

func (v *VisitGroup) attribute(key string) **string {
	switch key {
	case "visit_date":
		return &v.VisitDate
	case "admission_date":
		return &v.AdmissionDate
	case "discharge_date":
		return &v.DischargeDate
	case "reason_for_visit":
		return &v.ReasonForVisit
	}
	return nil
}

// setVisitAttribute writes (or, for a nil value, clears) the attribute a
// visit metadata field id points at.
func (p *InterpretationPayload) setVisitAttribute(fieldID string, value any) error {
	visitID, key, ok := ParseVisitMetaID(fieldID)
	if !ok {
		return eris.Errorf("model: malformed visit field id: %s", fieldID)
	}
	for i := range p.Visits {
		if p.Visits[i].VisitID != visitID {
			continue
		}
		attr := p.Visits[i].attribute(key)
		if attr == nil {
			return eris.Errorf("model: unknown visit attribute %q", key)
		}
		*attr = attributeValue(value)
		return nil
	}
	return eris.Errorf("model: visit not found: %s", visitID)
}

func attributeValue(value any) *string {
	if value == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	s = strings.TrimSpace(s)
	return &s
}
