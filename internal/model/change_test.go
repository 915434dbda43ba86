package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func strPtr(s string) *string { return &s }

func samplePayload() InterpretationPayload {
	return InterpretationPayload{
		DocumentID: "doc-1",
		Fields: []RawField{
			{FieldID: "f1", Key: "pet_name", Value: "Luna", Section: "patient", Origin: OriginMachine, FieldMappingConfidence: ptr(0.9)},
			{FieldID: "f2", Key: "breed", Value: "Mestizo", Section: "patient", Origin: OriginMachine, FieldMappingConfidence: ptr(0.4)},
		},
		Visits: []VisitGroup{
			{VisitID: "v1", VisitDate: strPtr("2026-02-10"), ReasonForVisit: strPtr("control"), Fields: []RawField{{FieldID: "vf1", Key: "diagnosis", Value: "Otitis", Scope: ScopeVisit, VisitGroupID: "v1"}}},
		},
		OtherFields: []RawField{{FieldID: "o1", Key: "tatuaje", Value: "no"}},
	}
}

func TestChangeValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		change  Change
		wantErr string
	}{
		{name: "add ok", change: Change{Op: ChangeAdd, Key: "breed", Value: "x"}},
		{name: "add lower-case op ok", change: Change{Op: "add", Key: "breed"}},
		{name: "add without key", change: Change{Op: ChangeAdd}, wantErr: "requires key"},
		{name: "update ok", change: Change{Op: ChangeUpdate, FieldID: "f1"}},
		{name: "update without id", change: Change{Op: ChangeUpdate}, wantErr: "requires field_id"},
		{name: "delete without id", change: Change{Op: ChangeDelete}, wantErr: "requires field_id"},
		{name: "unknown op", change: Change{Op: "MERGE"}, wantErr: "unknown change op"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.change.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateChanges_Empty(t *testing.T) {
	t.Parallel()
	assert.Error(t, ValidateChanges(nil))
}

func TestApplyChanges_UpdateMarksHumanOrigin(t *testing.T) {
	t.Parallel()

	in := samplePayload()
	out, err := ApplyChanges(in, []Change{{Op: ChangeUpdate, FieldID: "f1", Value: "Lola", ValueType: "string"}})
	require.NoError(t, err)

	got := out.Fields[0]
	assert.Equal(t, "Lola", got.Value)
	assert.True(t, got.IsHuman())
	assert.Nil(t, got.FieldMappingConfidence)

	// Input untouched.
	assert.Equal(t, "Luna", in.Fields[0].Value)
	require.NotNil(t, in.Fields[0].FieldMappingConfidence)
	assert.Equal(t, OriginMachine, in.Fields[0].Origin)
}

func TestApplyChanges_UpdateVisitAndOtherFields(t *testing.T) {
	t.Parallel()

	out, err := ApplyChanges(samplePayload(), []Change{
		{Op: ChangeUpdate, FieldID: "vf1", Value: "Otitis externa"},
		{Op: ChangeUpdate, FieldID: "o1", Value: "sí"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Otitis externa", out.Visits[0].Fields[0].Value)
	assert.Equal(t, "sí", out.OtherFields[0].Value)
}

func TestApplyChanges_Add(t *testing.T) {
	t.Parallel()

	out, err := ApplyChanges(samplePayload(), []Change{{Op: ChangeAdd, Key: "breed", Value: "Beagle"}})
	require.NoError(t, err)
	require.Len(t, out.Fields, 3)

	added := out.Fields[2]
	assert.True(t, strings.HasPrefix(added.FieldID, "added-"))
	assert.Equal(t, "patient", added.Section)
	assert.True(t, added.IsHuman())
	assert.Nil(t, added.FieldMappingConfidence)
}

func TestApplyChanges_Delete(t *testing.T) {
	t.Parallel()

	in := samplePayload()
	out, err := ApplyChanges(in, []Change{{Op: ChangeDelete, FieldID: "f2"}, {Op: ChangeDelete, FieldID: "vf1"}})
	require.NoError(t, err)
	assert.Len(t, out.Fields, 1)
	assert.Empty(t, out.Visits[0].Fields)
	assert.Len(t, in.Fields, 2)
	assert.Len(t, in.Visits[0].Fields, 1)
}

func TestApplyChanges_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := ApplyChanges(samplePayload(), []Change{{Op: ChangeDelete, FieldID: "missing"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field not found")
}

func TestApplyChanges_VisitAttributes(t *testing.T) {
	t.Parallel()

	p := samplePayload()
	out, err := ApplyChanges(p, []Change{
		{Op: ChangeUpdate, FieldID: VisitMetaID("v1", "visit_date"), Value: " 2026-02-11 "},
		{Op: ChangeUpdate, FieldID: VisitMetaID("v1", "discharge_date"), Value: "2026-02-14"},
		{Op: ChangeDelete, FieldID: VisitMetaID("v1", "reason_for_visit")},
	})
	require.NoError(t, err)

	v := out.Visits[0]
	require.NotNil(t, v.VisitDate)
	assert.Equal(t, "2026-02-11", *v.VisitDate)
	require.NotNil(t, v.DischargeDate)
	assert.Equal(t, "2026-02-14", *v.DischargeDate)
	assert.Nil(t, v.ReasonForVisit)
	assert.Nil(t, v.AdmissionDate)

	// Input untouched.
	assert.Equal(t, "2026-02-10", *p.Visits[0].VisitDate)
	assert.Equal(t, "control", *p.Visits[0].ReasonForVisit)
}

func TestApplyChanges_VisitAttributeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fieldID string
		wantErr string
	}{
		{name: "unknown visit", fieldID: VisitMetaID("v9", "visit_date"), wantErr: "visit not found: v9"},
		{name: "unknown attribute", fieldID: VisitMetaID("v1", "diagnosis"), wantErr: "unknown visit attribute"},
		{name: "malformed id", fieldID: VisitMetaPrefix + "v1", wantErr: "malformed visit field id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ApplyChanges(samplePayload(), []Change{{Op: ChangeUpdate, FieldID: tt.fieldID, Value: "x"}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseVisitMetaID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id        string
		wantVisit string
		wantKey   string
		wantOK    bool
	}{
		{id: "visit-meta:v1:visit_date", wantVisit: "v1", wantKey: "visit_date", wantOK: true},
		{id: "visit-meta:visit:2026:admission_date", wantVisit: "visit:2026", wantKey: "admission_date", wantOK: true},
		{id: "visit-meta::visit_date"},
		{id: "visit-meta:v1:"},
		{id: "f1"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			t.Parallel()
			visitID, key, ok := ParseVisitMetaID(tt.id)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantVisit, visitID)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestVisitGroupAttribute(t *testing.T) {
	t.Parallel()

	v := VisitGroup{VisitID: "v1", AdmissionDate: strPtr("2026-01-02")}
	require.NotNil(t, v.Attribute("admission_date"))
	assert.Equal(t, "2026-01-02", *v.Attribute("admission_date"))
	assert.Nil(t, v.Attribute("visit_date"))
	assert.Nil(t, v.Attribute("diagnosis"))
}
