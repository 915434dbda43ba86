package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/validate"
)

func str(s string) *string { return &s }

func keys(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Key
	}
	return out
}

// --- Legacy contract ---

func TestNormalize_LegacyValidatesAndIndexes(t *testing.T) {
	t.Parallel()

	p := model.InterpretationPayload{
		DocumentID: "doc-1",
		Fields: []model.RawField{
			{FieldID: "1", Key: "weight", Value: "7,2kg"},
			{FieldID: "2", Key: "microchip_id", Value: "NHC 2.c AB-77"},
			{FieldID: "3", Key: "diagnosis", Value: "Otitis"},
			{FieldID: "4", Key: "diagnosis", Value: "Dermatitis"},
			{FieldID: "5", Key: "claim_id", Value: "C-1"},
			{FieldID: "6", Key: "breed", Value: nil},
			{FieldID: "7", Key: " age ", Value: float64(4)},
		},
		Visits:      []model.VisitGroup{{VisitID: "v1", VisitDate: str("2026-01-01")}},
		OtherFields: []model.RawField{{FieldID: "o1", Key: "tattoo", Value: "x"}},
	}

	res := Normalize(p, zap.NewNop())

	assert.False(t, res.Canonical)
	assert.Equal(t, []string{"weight", "diagnosis", "diagnosis", "age"}, keys(res.Fields))
	assert.Equal(t, []string{"weight", "diagnosis", "age"}, res.KeyOrder)
	assert.Len(t, res.ByKey["diagnosis"], 2)
	assert.Equal(t, "7.2 kg", res.ByKey["weight"][0].Normalized)
	assert.Equal(t, "7,2kg", res.ByKey["weight"][0].Value, "raw value kept")
	assert.Equal(t, "4", res.ByKey["age"][0].Normalized)

	require.Len(t, res.Rejections, 1)
	assert.Equal(t, Rejection{FieldID: "2", Key: "microchip_id", RawValue: "NHC 2.c AB-77", Reason: validate.ReasonNonDigit}, res.Rejections[0])

	require.Len(t, res.Missing, 1)
	assert.Equal(t, "breed", res.Missing[0].Key)

	// Legacy payloads ignore visits and other fields.
	assert.Empty(t, res.Other)
	assert.Empty(t, res.Visits)
}

func TestNormalize_RejectionsLoggedAtDebug(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	Normalize(model.InterpretationPayload{
		DocumentID: "doc-9",
		Fields:     []model.RawField{{FieldID: "1", Key: "sex", Value: "unknown"}},
	}, zap.New(core))

	entries := logs.FilterMessage("extraction: field rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "sex", ctx["field"])
	assert.Equal(t, "unknown", ctx["raw_value"])
	assert.Equal(t, "invalid-sex", ctx["reason"])
	assert.Equal(t, "doc-9", ctx["document_id"])
}

// --- Canonical contract ---

func canonicalPayload() model.InterpretationPayload {
	return model.InterpretationPayload{
		DocumentID:     "doc-2",
		SchemaContract: "  Visit-Grouped-Canonical ",
		Fields: []model.RawField{
			{FieldID: "1", Key: "pet_name", Value: "Luna"},
			{FieldID: "2", Key: "invoice_total", Value: "120"},
			{FieldID: "3", Key: "notes", Value: "pago", Classification: "billing"},
			{FieldID: "4", Key: "claim_id", Value: "C-1"},
		},
		Visits: []model.VisitGroup{
			{
				VisitID:        "v1",
				VisitDate:      str("10/2/2026"),
				ReasonForVisit: str("Revisión"),
				Fields: []model.RawField{
					{FieldID: "vf1", Key: "diagnosis", Value: "Otitis"},
				},
			},
			{
				VisitID: "unassigned",
				Fields: []model.RawField{
					{FieldID: "uf1", Key: "medication", Value: "Amoxicilina", VisitGroupID: "ghost"},
				},
			},
		},
		OtherFields: []model.RawField{
			{FieldID: "o1", Key: "tattoo", Value: "A12"},
			{FieldID: "o2", Key: "payment_method", Value: "card"},
		},
	}
}

func TestNormalize_CanonicalFlattensVisits(t *testing.T) {
	t.Parallel()

	res := Normalize(canonicalPayload(), nil)

	assert.True(t, res.Canonical)
	assert.Equal(t, []string{"pet_name", "claim_id", "diagnosis", "visit_date", "reason_for_visit", "medication"}, keys(res.Fields))

	diag := res.ByKey["diagnosis"][0]
	assert.Equal(t, "v1", diag.VisitGroupID)
	assert.True(t, diag.IsVisitScoped())

	date := res.ByKey["visit_date"][0]
	assert.Equal(t, "visit-meta:v1:visit_date", date.FieldID)
	assert.Equal(t, "2026-02-10", date.Normalized)
	visitID, key, ok := model.ParseVisitMetaID(date.FieldID)
	require.True(t, ok)
	assert.Equal(t, "v1", visitID)
	assert.Equal(t, "visit_date", key)

	med := res.ByKey["medication"][0]
	assert.Equal(t, "unassigned", med.VisitGroupID)

	// Missing metadata recorded but not surfaced.
	var missing []string
	for _, m := range res.Missing {
		missing = append(missing, m.Key)
	}
	assert.ElementsMatch(t, []string{"admission_date", "discharge_date"}, missing)
}

func TestNormalize_CanonicalOtherFieldsExcludeBilling(t *testing.T) {
	t.Parallel()

	res := Normalize(canonicalPayload(), zap.NewNop())
	assert.Equal(t, []string{"tattoo"}, keys(res.Other))
	assert.Len(t, res.Visits, 2)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	p := canonicalPayload()
	Normalize(p, zap.NewNop())
	assert.Equal(t, "", p.Visits[0].Fields[0].VisitGroupID)
	assert.Equal(t, model.FieldScope(""), p.Visits[0].Fields[0].Scope)
}

func TestVisitMetadata(t *testing.T) {
	t.Parallel()

	fields := VisitMetadata(model.VisitGroup{VisitID: "v7", DischargeDate: str("2026-03-01")})
	require.Len(t, fields, 4)
	assert.Equal(t, "visit_date", fields[0].Key)
	assert.Nil(t, fields[0].Value)
	assert.Equal(t, "2026-03-01", fields[2].Value)
	assert.Equal(t, "visit-meta:v7:discharge_date", fields[2].FieldID)
	assert.Equal(t, "v7", fields[3].VisitGroupID)
}
