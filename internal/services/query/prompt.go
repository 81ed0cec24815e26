package query

import (
	"fmt"
	"strings"

	"github.com/ternarybob/chantier/internal/models"
)

const systemPrompt = `Tu es l'assistant d'une entreprise de construction. Reponds en francais, de facon concise, ` +
	`uniquement a partir des informations fournies dans le contexte. Si le contexte ne permet pas de repondre, ` +
	`dis-le clairement. Ne jamais inventer de chiffres, de dates ou de noms.`

// NoGroundingAnswer is returned when no stored chunk is similar enough to the question
const NoGroundingAnswer = "Je n'ai trouve aucune information pertinente dans les donnees de l'entreprise pour repondre a cette question."

// BuildPrompt renders the grounding context followed by the question. Chunks
// are included best first until maxChars is reached; the first chunk is
// always included, truncated if needed.
func BuildPrompt(question string, results []models.ScoredChunk, maxChars int) (string, int) {
	var context strings.Builder
	used := 0

	for i, r := range results {
		block := fmt.Sprintf("### Source %d (%s, pertinence %.2f)\n%s"+blockSeparator, i+1, r.Chunk.Metadata.EntityType, r.Score, r.Chunk.Content)
		if maxChars > 0 && context.Len()+len(block) > maxChars {
			if used == 0 {
				context.WriteString(truncateBytes(block, maxChars))
				used++
			}
			break
		}
		context.WriteString(block)
		used++
	}

	var prompt strings.Builder
	prompt.WriteString("Contexte:\n\n")
	prompt.WriteString(context.String())
	prompt.WriteString("Question: ")
	prompt.WriteString(strings.TrimSpace(question))
	prompt.WriteString("\n\nReponse:")

	return prompt.String(), used
}

const blockSeparator = "\n\n"

// truncateBytes cuts s to at most n bytes, separator included, without
// splitting a UTF-8 sequence
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	suffix := blockSeparator
	if n < len(suffix) {
		suffix = ""
	}
	limit := n - len(suffix)
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return s[:cut] + suffix
}
