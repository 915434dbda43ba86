// Package mcptool exposes the review pipeline as Model Context Protocol tools.
package mcptool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/review"
)

// MetadataReviewInterpretation describes the review_interpretation tool.
var MetadataReviewInterpretation = &mcp.Tool{
	Name: "review_interpretation",
	Description: "Compute the review view model for a veterinary clinical-record interpretation payload. " +
		"Fields are validated, classified into confidence bands (low, medium, high) and grouped into " +
		"ordered sections and visit episodes. Optional filters narrow the displayed fields; the summary " +
		"counts always cover the whole document.",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"payload"},
		"properties": map[string]any{
			"payload": map[string]any{
				"type":        "object",
				"description": "Interpretation payload as returned by the extraction service",
			},
			"search": map[string]any{
				"type":        "string",
				"description": "Case and accent insensitive search over field labels, keys and values.",
			},
			"buckets": map[string]any{
				"type":        "array",
				"description": "Confidence bands to keep.",
				"items": map[string]any{
					"type": "string",
					"enum": []string{"low", "medium", "high", "unknown"},
				},
			},
			"only_critical": map[string]any{
				"type":        "boolean",
				"description": "Keep only critical fields.",
			},
			"only_with_value": map[string]any{
				"type":        "boolean",
				"description": "Keep only fields that carry a value.",
			},
			"only_empty": map[string]any{
				"type":        "boolean",
				"description": "Keep only fields without a value.",
			},
		},
	},
}

// InputReviewInterpretation is the input for the ReviewInterpretation tool.
type InputReviewInterpretation struct {
	Payload       json.RawMessage `json:"payload"`
	Search        string          `json:"search"`
	Buckets       []string        `json:"buckets"`
	OnlyCritical  bool            `json:"only_critical"`
	OnlyWithValue bool            `json:"only_with_value"`
	OnlyEmpty     bool            `json:"only_empty"`
}

// Filters converts the tool input into review filters.
func (in InputReviewInterpretation) Filters() model.Filters {
	f := model.Filters{
		Search:        in.Search,
		OnlyCritical:  in.OnlyCritical,
		OnlyWithValue: in.OnlyWithValue,
		OnlyEmpty:     in.OnlyEmpty,
	}
	for _, b := range in.Buckets {
		f.Buckets = append(f.Buckets, model.Band(strings.ToLower(strings.TrimSpace(b))))
	}
	return f
}

// OutputReviewInterpretation is the output for the ReviewInterpretation tool.
type OutputReviewInterpretation struct {
	// View is the computed review view model.
	View *model.ViewModel `json:"view"`
	// ContractError repeats the contract failure message, if any.
	ContractError string `json:"contract_error,omitempty"`
}

// ReviewInterpretation returns a tool handler bound to engine.
func ReviewInterpretation(engine *review.Engine) mcp.ToolHandlerFor[InputReviewInterpretation, OutputReviewInterpretation] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input InputReviewInterpretation) (*mcp.CallToolResult, OutputReviewInterpretation, error) {
		if len(input.Payload) == 0 || string(input.Payload) == "null" {
			return nil, OutputReviewInterpretation{}, eris.New("mcptool: payload is required")
		}

		vm, err := engine.ComputeViewJSON(ctx, input.Payload, input.Filters())
		if err != nil {
			return nil, OutputReviewInterpretation{}, err
		}

		out := OutputReviewInterpretation{View: vm}
		if err := review.ContractErr(vm); err != nil {
			out.ContractError = err.Error()
		}
		return nil, out, nil
	}
}
