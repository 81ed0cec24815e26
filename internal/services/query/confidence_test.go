package query

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/chantier/internal/models"
)

func TestConfidence_Bounds(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(nil))
	assert.Equal(t, 0.0, Confidence([]float64{-0.5, -1}))
	assert.InDelta(t, 1.0, Confidence([]float64{1, 1, 1}), 1e-9)
	assert.LessOrEqual(t, Confidence([]float64{1.2}), 1.0)
}

func TestConfidence_IsMonotonic(t *testing.T) {
	base := []float64{0.8, 0.5, 0.3}
	c := Confidence(base)

	for i := range base {
		raised := append([]float64(nil), base...)
		raised[i] += 0.1
		assert.GreaterOrEqual(t, Confidence(raised), c)
	}

	// A dominant top match scores higher than a flat set with the same mean
	assert.Greater(t, Confidence([]float64{0.9, 0.3}), Confidence([]float64{0.6, 0.6}))
}

func TestBuildPrompt_RespectsBudget(t *testing.T) {
	results := []models.ScoredChunk{
		{Chunk: &models.DocumentChunk{Content: strings.Repeat("a", 100), Metadata: models.ChunkMetadata{EntityType: models.EntityTypeSite}}, Score: 0.9},
		{Chunk: &models.DocumentChunk{Content: strings.Repeat("b", 100), Metadata: models.ChunkMetadata{EntityType: models.EntityTypeNote}}, Score: 0.8},
	}

	prompt, used := BuildPrompt("question ?", results, 10000)
	assert.Equal(t, 2, used)
	assert.Contains(t, prompt, "### Source 2 (note")
	assert.True(t, strings.HasSuffix(prompt, "Question: question ?\n\nReponse:"))

	prompt, used = BuildPrompt("question ?", results, 150)
	assert.Equal(t, 1, used)
	assert.NotContains(t, prompt, "bbbb")

	prompt, used = BuildPrompt("question ?", results, 40)
	assert.Equal(t, 1, used)
	assert.Contains(t, prompt, "### Source 1")
}

func TestBuildPrompt_TruncatedContextStaysWithinBudget(t *testing.T) {
	results := []models.ScoredChunk{
		{Chunk: &models.DocumentChunk{Content: strings.Repeat("é", 200), Metadata: models.ChunkMetadata{EntityType: models.EntityTypeSite}}, Score: 0.9},
	}

	for _, budget := range []int{1, 2, 3, 40, 41, 100, 101} {
		prompt, used := BuildPrompt("question ?", results, budget)
		assert.Equal(t, 1, used)

		context := strings.TrimSuffix(strings.TrimPrefix(prompt, "Contexte:\n\n"), "Question: question ?\n\nReponse:")
		assert.LessOrEqual(t, len(context), budget, "budget %d", budget)
		assert.True(t, utf8.ValidString(context), "budget %d", budget)
	}
}
