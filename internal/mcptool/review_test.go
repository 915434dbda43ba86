package mcptool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/record-review/internal/diagnostics"
	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/review"
	"github.com/sells-group/record-review/internal/schema"
)

const legacyJSON = `{
  "document_id": "doc-1",
  "confidence_policy": {"policy_version": "2026-01", "band_cutoffs": {"low_max": 0.5, "mid_max": 0.8}},
  "fields": [
    {"field_id": "f1", "key": "pet_name", "value": "Luna", "field_mapping_confidence": 0.9},
    {"field_id": "f2", "key": "weight", "value": "7,2kg", "field_mapping_confidence": 0.3}
  ]
}`

const malformedJSON = `{
  "document_id": "doc-2",
  "schema_contract": "visit-grouped-canonical",
  "fields": [{"field_id": "c1", "key": "pet_name", "value": "Luna"}],
  "medical_record_view": {"field_slots": {"pet_name": {}}}
}`

func newTestEngine() *review.Engine {
	log := zap.NewNop()
	return review.New(schema.MustLoad(),
		review.WithLogger(log),
		review.WithEmitter(diagnostics.NewEmitter(diagnostics.NewZapSink(log))),
	)
}

func TestInputFilters(t *testing.T) {
	t.Parallel()

	in := InputReviewInterpretation{Search: "luna", Buckets: []string{" HIGH ", "low"}, OnlyCritical: true}
	f := in.Filters()
	assert.Equal(t, "luna", f.Search)
	assert.Equal(t, []model.Band{model.BandHigh, model.BandLow}, f.Buckets)
	assert.True(t, f.OnlyCritical)
	assert.True(t, f.Active())

	assert.False(t, InputReviewInterpretation{}.Filters().Active())
}

func TestReviewInterpretation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := &mcp.CallToolRequest{}
	handler := ReviewInterpretation(newTestEngine())

	tests := []struct {
		name           string
		input          InputReviewInterpretation
		errContains    string
		validateOutput func(t *testing.T, out OutputReviewInterpretation)
	}{
		{
			name:        "missing payload returns error",
			input:       InputReviewInterpretation{},
			errContains: "payload is required",
		},
		{
			name:        "null payload returns error",
			input:       InputReviewInterpretation{Payload: json.RawMessage(`null`)},
			errContains: "payload is required",
		},
		{
			name:        "undecodable payload returns error",
			input:       InputReviewInterpretation{Payload: json.RawMessage(`{"fields": 3}`)},
			errContains: "decode interpretation payload",
		},
		{
			name:  "legacy payload produces a view",
			input: InputReviewInterpretation{Payload: json.RawMessage(legacyJSON)},
			validateOutput: func(t *testing.T, out OutputReviewInterpretation) {
				require.NotNil(t, out.View)
				assert.Equal(t, "doc-1", out.View.DocumentID)
				assert.False(t, out.View.Canonical)
				assert.Equal(t, "2026-01", out.View.PolicyVersion)
				assert.NotEmpty(t, out.View.Sections)
				assert.Empty(t, out.ContractError)
				assert.Equal(t, 2, out.View.Summary.Detected)
			},
		},
		{
			name: "bucket filter narrows sections",
			input: InputReviewInterpretation{
				Payload: json.RawMessage(legacyJSON),
				Buckets: []string{"low"},
			},
			validateOutput: func(t *testing.T, out OutputReviewInterpretation) {
				require.NotNil(t, out.View)
				assert.True(t, out.View.FiltersActive)
				for _, s := range out.View.Sections {
					for _, f := range s.Fields {
						assert.Equal(t, "weight", f.Key)
					}
				}
				// The summary always covers the whole document.
				assert.Equal(t, 2, out.View.Summary.Detected)
			},
		},
		{
			name:  "malformed contract is reported in the output",
			input: InputReviewInterpretation{Payload: json.RawMessage(malformedJSON)},
			validateOutput: func(t *testing.T, out OutputReviewInterpretation) {
				require.NotNil(t, out.View)
				require.NotNil(t, out.View.ContractError)
				assert.Contains(t, out.ContractError, "malformed canonical contract")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, out, err := handler(ctx, req, tt.input)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Nil(t, result)
			tt.validateOutput(t, out)
		})
	}
}

func TestNewServer_CallTool(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	server := NewServer(newTestEngine(), "test")
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close() //nolint:errcheck

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close() //nolint:errcheck

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(legacyJSON), &payload))

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      MetadataReviewInterpretation.Name,
		Arguments: map[string]any{"payload": payload},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotNil(t, res.StructuredContent)

	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out OutputReviewInterpretation
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotNil(t, out.View)
	assert.Equal(t, "doc-1", out.View.DocumentID)
}
