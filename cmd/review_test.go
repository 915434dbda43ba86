package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/record-review/internal/model"
)

func sampleView() *model.ViewModel {
	high := model.BandHigh
	return &model.ViewModel{
		DocumentID: "doc-1",
		Summary:    model.Summary{Mode: "canonical", Detected: 2, Total: 30, High: 1, Unknown: 1},
		Sections: []model.Section{{
			ID:    "patient",
			Label: "Patient",
			Fields: []model.DisplayField{
				{Key: "pet_name", Label: "Pet name", IsCritical: true, Items: []model.SelectableItem{{ID: "f1", DisplayValue: "Luna", ConfidenceBand: &high}}},
				{Key: "breed", Label: "Breed", Items: []model.SelectableItem{{ID: "m1", IsMissing: true}}},
				{Key: "allergies", Label: "Allergies", Repeatable: true, IsEmptyList: true},
			},
		}},
		Episodes: []model.Episode{{
			VisitID:   "v1",
			Number:    1,
			VisitDate: "2026-02-10",
			Fields:    []model.DisplayField{{Key: "diagnosis", Label: "Diagnosis", Items: []model.SelectableItem{{ID: "d1", DisplayValue: "Otitis"}}}},
		}},
		Unassigned:           &model.Episode{VisitID: "unassigned", Unassigned: true},
		ContractError:        &model.ContractError{Code: "malformed_field_slots", Message: "field_slots is not an array"},
		PolicyDegradedReason: "missing",
	}
}

func TestFormatView(t *testing.T) {
	var buf bytes.Buffer
	formatView(&buf, sampleView())

	output := buf.String()
	assert.Contains(t, output, "doc-1")
	assert.Contains(t, output, "2 of 30 (canonical)")
	assert.Contains(t, output, "degraded (missing)")
	assert.Contains(t, output, "field_slots is not an array")
	assert.Contains(t, output, "[Patient]")
	assert.Contains(t, output, "Pet name *")
	assert.Contains(t, output, "Luna")
	assert.Contains(t, output, "high")
	assert.Contains(t, output, "[Visit 1 2026-02-10]")
	assert.Contains(t, output, "Otitis")
	assert.Contains(t, output, "[Unassigned]")
}

func TestWriteView(t *testing.T) {
	vm := sampleView()

	var buf bytes.Buffer
	require.NoError(t, writeView(&buf, vm, "json"))
	var decoded model.ViewModel
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "doc-1", decoded.DocumentID)

	buf.Reset()
	require.NoError(t, writeView(&buf, vm, "table"))
	assert.Contains(t, buf.String(), "[Patient]")

	err := writeView(&buf, vm, "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}
