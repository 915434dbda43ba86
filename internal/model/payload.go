package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// CanonicalContract is the schema_contract value of the visit-grouped payload.
const CanonicalContract = "visit-grouped-canonical"

// VisitGroup is one clinical encounter and its visit-scoped facts.
type VisitGroup struct {
	VisitID        string     `json:"visit_id"`
	VisitDate      *string    `json:"visit_date,omitempty"`
	AdmissionDate  *string    `json:"admission_date,omitempty"`
	DischargeDate  *string    `json:"discharge_date,omitempty"`
	ReasonForVisit *string    `json:"reason_for_visit,omitempty"`
	Fields         []RawField `json:"fields,omitempty"`
}

// IsUnassigned reports whether the group is the reserved catch-all.
func (v VisitGroup) IsUnassigned() bool {
	return NormalizeVisitID(v.VisitID) == UnassignedVisitID
}

// MedicalRecordView carries the per-document canonical schema. FieldSlots is
// kept raw so that a present-but-malformed value can be told apart from an
// absent one.
type MedicalRecordView struct {
	FieldSlots json.RawMessage `json:"field_slots,omitempty"`
}

// InterpretationPayload is the snapshot returned by the extraction service.
type InterpretationPayload struct {
	DocumentID        string             `json:"document_id,omitempty"`
	SchemaContract    string             `json:"schema_contract,omitempty"`
	Fields            []RawField         `json:"fields"`
	Visits            []VisitGroup       `json:"visits,omitempty"`
	OtherFields       []RawField         `json:"other_fields,omitempty"`
	MedicalRecordView *MedicalRecordView `json:"medical_record_view,omitempty"`
	ConfidencePolicy  json.RawMessage    `json:"confidence_policy,omitempty"`
}

// IsCanonical reports whether the payload uses the visit-grouped canonical
// contract. The comparison ignores case and surrounding whitespace.
func (p InterpretationPayload) IsCanonical() bool {
	return IsCanonicalContract(p.SchemaContract)
}

// IsCanonicalContract normalizes a schema_contract string and compares it to
// the canonical contract name.
func IsCanonicalContract(contract string) bool {
	return strings.ToLower(strings.TrimSpace(contract)) == CanonicalContract
}

// FieldSlotsState describes what the payload says about canonical slots.
type FieldSlotsState int

const (
	// SlotsAbsent means no field_slots attribute was sent.
	SlotsAbsent FieldSlotsState = iota
	// SlotsArray means field_slots is a JSON array.
	SlotsArray
	// SlotsMalformed means field_slots is present but not an array.
	SlotsMalformed
)

// FieldSlots decodes medical_record_view.field_slots. A present value that is
// not a JSON array reports SlotsMalformed with no slots.
func (p InterpretationPayload) FieldSlots() ([]SchemaSlot, FieldSlotsState, error) {
	if p.MedicalRecordView == nil {
		return nil, SlotsAbsent, nil
	}
	raw := bytes.TrimSpace(p.MedicalRecordView.FieldSlots)
	if len(raw) == 0 {
		return nil, SlotsAbsent, nil
	}
	if raw[0] != '[' {
		return nil, SlotsMalformed, nil
	}
	var slots []SchemaSlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, SlotsMalformed, eris.Wrap(err, "model: decode field_slots")
	}
	return slots, SlotsArray, nil
}

// ParsePayload decodes an interpretation payload from JSON.
func ParsePayload(data []byte) (*InterpretationPayload, error) {
	var p InterpretationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "model: decode interpretation payload")
	}
	return &p, nil
}
