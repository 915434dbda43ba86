package candidate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/record-review/internal/model"
)

func conf(v float64) *float64 { return &v }

func values(opts []model.SuggestionOption) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Value
	}
	return out
}

func TestResolve_SexUnknownIsDetectedOnly(t *testing.T) {
	t.Parallel()

	got := Resolve("sex", []model.CandidateSuggestion{
		{Value: "unknown"},
		{Value: "male"},
		{Value: "female"},
	})

	assert.Equal(t, []string{"macho", "hembra"}, values(got.ApplicableSuggestions))
	assert.Equal(t, []string{"unknown"}, values(got.DetectedCandidates))
}

func TestResolve_ControlledSortedByConfidence(t *testing.T) {
	t.Parallel()

	got := Resolve("sex", []model.CandidateSuggestion{
		{Value: "male", Confidence: conf(0.4)},
		{Value: "Hembra", Confidence: conf(0.8)},
		{Value: "macho", Confidence: conf(0.6)},
	})

	require.Len(t, got.ApplicableSuggestions, 2)
	assert.Equal(t, "hembra", got.ApplicableSuggestions[0].Value)
	assert.Equal(t, "macho", got.ApplicableSuggestions[1].Value)
	// Highest-confidence duplicate kept.
	assert.InDelta(t, 0.6, *got.ApplicableSuggestions[1].Confidence, 0.0001)
	assert.Empty(t, got.DetectedCandidates)
}

func TestResolve_NoisyMatchIsDetectedWithExtraContent(t *testing.T) {
	t.Parallel()

	got := Resolve("species", []model.CandidateSuggestion{
		{Value: "Especie: gato común", Confidence: conf(0.7)},
		{Value: "perro", Confidence: conf(0.5)},
	})

	assert.Equal(t, []string{"canino"}, values(got.ApplicableSuggestions))
	require.Len(t, got.DetectedCandidates, 1)
	assert.Equal(t, "Especie: gato común", got.DetectedCandidates[0].Value)
	assert.True(t, got.DetectedCandidates[0].HasExtraContent)
}

func TestResolve_AmbiguousTokensFailNormalization(t *testing.T) {
	t.Parallel()

	got := Resolve("sex", []model.CandidateSuggestion{{Value: "macho/hembra"}})
	assert.Empty(t, got.ApplicableSuggestions)
	require.Len(t, got.DetectedCandidates, 1)
	assert.False(t, got.DetectedCandidates[0].HasExtraContent)
}

func TestResolve_GarbageDropped(t *testing.T) {
	t.Parallel()

	got := Resolve("species", []model.CandidateSuggestion{
		{Value: strings.Repeat("x", 61)},
		{Value: "a: b; c"},
		{Value: "lote 12 ref 44"},
		{Value: "conejo"},
	})

	assert.Empty(t, got.ApplicableSuggestions)
	assert.Equal(t, []string{"conejo"}, values(got.DetectedCandidates))
}

func TestResolve_DetectedSortedAndCapped(t *testing.T) {
	t.Parallel()

	got := Resolve("species", []model.CandidateSuggestion{
		{Value: "conejo"},
		{Value: "hurón", Confidence: conf(0.2)},
		{Value: "loro", Confidence: conf(0.9)},
		{Value: "tortuga", Confidence: conf(0.5)},
	}, WithMaxDetected(3))

	assert.Equal(t, []string{"loro", "tortuga", "hurón"}, values(got.DetectedCandidates))
}

func TestResolve_DetectedUnknownConfidenceLast(t *testing.T) {
	t.Parallel()

	got := Resolve("species", []model.CandidateSuggestion{
		{Value: "conejo"},
		{Value: "loro", Confidence: conf(0.1)},
	})

	assert.Equal(t, []string{"loro", "conejo"}, values(got.DetectedCandidates))
}

func TestResolve_FreeText(t *testing.T) {
	t.Parallel()

	got := Resolve("breed", []model.CandidateSuggestion{
		{Value: "Beagle", Confidence: conf(0.7)},
		{Value: "beagle", Confidence: conf(0.9)},
		{Value: "Mestizo"},
		{Value: "Podenco", Confidence: conf(0.3)},
		{Value: "  "},
		{Value: "Galgo", Confidence: conf(0.2)},
	}, WithMaxSuggestions(2))

	assert.Equal(t, []string{"Beagle", "Podenco"}, values(got.ApplicableSuggestions))
	assert.NotNil(t, got.DetectedCandidates)
	assert.Empty(t, got.DetectedCandidates)
}

func TestResolve_FreeTextDefaultCap(t *testing.T) {
	t.Parallel()

	var raw []model.CandidateSuggestion
	for _, v := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		raw = append(raw, model.CandidateSuggestion{Value: v, Confidence: conf(0.5)})
	}
	got := Resolve("notes", raw)
	assert.Len(t, got.ApplicableSuggestions, DefaultMaxSuggestions)
}

func TestIsControlled(t *testing.T) {
	t.Parallel()

	assert.True(t, IsControlled("sex"))
	assert.True(t, IsControlled("species"))
	assert.False(t, IsControlled("breed"))
	assert.Equal(t, []string{"canino", "felino"}, Options("species"))
}
