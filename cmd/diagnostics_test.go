package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/record-review/internal/store"
)

func TestFormatDiagnostics(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 15, 0, 0, time.UTC)
	diags := []store.Diagnostic{
		{
			DocumentID: "doc-1",
			Kind:       "confidence_policy",
			Reason:     "missing",
			Severity:   "warn",
			Message:    "confidence policy degraded",
			CreatedAt:  now,
		},
		{
			DocumentID: "a-very-long-document-identifier-0001",
			Kind:       "visit_grouping",
			Reason:     "unassigned_fields",
			Severity:   "warn",
			CreatedAt:  now,
		},
	}

	var buf bytes.Buffer
	formatDiagnostics(&buf, diags)

	output := buf.String()
	assert.Contains(t, output, "CREATED")
	assert.Contains(t, output, "REASON")
	assert.Contains(t, output, "2026-02-10 09:15")
	assert.Contains(t, output, "confidence_policy")
	assert.Contains(t, output, "confidence policy degraded")
	assert.Contains(t, output, "a-very-long-document-...")
	assert.NotContains(t, output, "identifier-0001")
}
