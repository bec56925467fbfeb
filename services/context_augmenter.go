package services

import (
	"context"
	"fmt"
	"strings"

	"medlit-rag/internal/logger"
	"medlit-rag/models"
)

// ContextAugmenter generates the short situating prefix attached to each
// chunk's retrieval representation: the chunk's section lineage plus a brief
// summary of where it sits in the document.
type ContextAugmenter struct {
	gen     TextGenerator
	budget  int
	enabled bool
}

// NewContextAugmenter builds an augmenter with the configured token budget.
// When disabled, Augment is a no-op and every chunk's retrieval text equals
// its content.
func NewContextAugmenter(gen TextGenerator, budget int, enabled bool) *ContextAugmenter {
	return &ContextAugmenter{gen: gen, budget: budget, enabled: enabled}
}

// Augment sets the chunk's context prefix. Failure degrades gracefully: the
// chunk proceeds with an empty prefix and a quality flag, and the returned
// error exists only so callers can count failures — it must never abort the
// document.
func (ca *ContextAugmenter) Augment(ctx context.Context, chunk *models.Chunk, meta models.SourceMetadata, preceding *models.Chunk) error {
	if !ca.enabled {
		return nil
	}

	prompt := ca.buildPrompt(chunk, meta, preceding)
	text, err := ca.gen.Generate(ctx, prompt, ca.budget)
	if err != nil {
		chunk.Degraded = true
		logger.Warn("context generation failed, chunk proceeds without prefix",
			"chunk_id", chunk.ID, "error", err)
		return &ContextGenerationFailure{ChunkID: chunk.ID, Err: err}
	}

	chunk.ContextPrefix = truncateTokens(strings.TrimSpace(text), ca.budget)
	return nil
}

func (ca *ContextAugmenter) buildPrompt(chunk *models.Chunk, meta models.SourceMetadata, preceding *models.Chunk) string {
	var sb strings.Builder
	sb.WriteString("You are indexing a medical publication for retrieval. ")
	fmt.Fprintf(&sb, "In at most %d tokens, state what the following passage covers and where it sits in the document, so the passage can be understood on its own. Respond with the context only.\n", ca.budget)

	if meta.Title != "" {
		fmt.Fprintf(&sb, "\nDocument: %s", meta.Title)
	}
	if meta.DocumentType != "" {
		fmt.Fprintf(&sb, " (%s", meta.DocumentType)
		if meta.PublicationYear > 0 {
			fmt.Fprintf(&sb, ", %d", meta.PublicationYear)
		}
		sb.WriteString(")")
	}
	if len(chunk.SectionPath) > 0 {
		fmt.Fprintf(&sb, "\nSection: %s", strings.Join(chunk.SectionPath, " > "))
	}
	if preceding != nil {
		fmt.Fprintf(&sb, "\nPreceding passage ends with: %s", tailExcerpt(preceding.Content, 200))
	}
	fmt.Fprintf(&sb, "\n\nPassage:\n%s\n", truncateTokens(chunk.Content, 400))
	return sb.String()
}

func tailExcerpt(text string, maxBytes int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxBytes {
		return text
	}
	cut := len(text) - maxBytes
	for cut < len(text) && !isSpace(text[cut]) {
		cut++
	}
	return strings.TrimSpace(text[cut:])
}
