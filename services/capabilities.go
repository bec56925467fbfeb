package services

import (
	"context"

	"medlit-rag/models"
)

// The pipeline depends on narrow capability interfaces rather than concrete
// clients so the chunking and scoring logic stays testable with deterministic
// stand-ins. internal/ai provides the Gemini-backed implementations;
// internal/search provides the index-backed ones.

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TextGenerator produces short generated text bounded by a token budget.
// Used for table summarization and context-prefix generation.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Reranker optionally re-orders the head of a ranked candidate list. Absent
// a configured implementation the scorer treats the step as a pass-through.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.RetrievalCandidate) ([]models.RetrievalCandidate, error)
}
