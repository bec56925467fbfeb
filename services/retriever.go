package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"medlit-rag/internal/logger"
	"medlit-rag/internal/search"
	"medlit-rag/models"
)

// candidatePoolFactor sizes the per-signal candidate pools relative to the
// final top_k, so fusion has headroom beyond either signal's own top results.
const candidatePoolFactor = 3

// Retriever answers queries: it gathers candidates from the vector and
// lexical indexes, loads their records, and hands the pooled set to the
// hybrid scorer.
type Retriever struct {
	store    *DocumentStore
	vectors  *search.VectorIndex
	lexical  *search.LexicalIndex
	scorer   *HybridScorer
	embedder Embedder
	topK     int
}

func NewRetriever(store *DocumentStore, vectors *search.VectorIndex, lexical *search.LexicalIndex, scorer *HybridScorer, embedder Embedder, topK int) *Retriever {
	return &Retriever{
		store:    store,
		vectors:  vectors,
		lexical:  lexical,
		scorer:   scorer,
		embedder: embedder,
		topK:     topK,
	}
}

// Rehydrate rebuilds both in-process indexes from the stored chunk records.
// Called at startup and after ingestion completes.
func (r *Retriever) Rehydrate(ctx context.Context) (int, error) {
	records, err := r.store.LoadAllChunks(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.vectors.Rebuild(ctx, records); err != nil {
		return 0, err
	}
	r.lexical.Reset()
	for _, rec := range records {
		r.lexical.Add(rec.ChunkID, rec.RetrievalText)
	}
	logger.Info("retrieval indexes rehydrated", "chunks", len(records))
	return len(records), nil
}

// Retrieve returns the ranked chunks for a query.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.RetrievalCandidate, error) {
	tracer := otel.Tracer("retriever")
	ctx, span := tracer.Start(ctx, "retriever.retrieve")
	defer span.End()

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	pool := r.topK * candidatePoolFactor

	vectorHits, err := r.vectors.Query(ctx, queryVec, pool)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	lexicalHits := r.lexical.TopK(query, pool)
	span.SetAttributes(
		attribute.Int("retriever.vector_hits", len(vectorHits)),
		attribute.Int("retriever.lexical_hits", len(lexicalHits)),
	)

	ids := unionIDs(vectorHits, lexicalHits)
	if len(ids) == 0 {
		return nil, nil
	}

	records, err := r.store.LoadChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.RetrievalCandidate, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, models.RetrievalCandidate{
			Chunk:        rec.Chunk(),
			Position:     rec.Order,
			LexicalScore: r.lexical.Score(query, rec.ChunkID),
			VectorScore:  search.CosineSimilarity(queryVec, rec.Vector),
		})
	}

	ranked := r.scorer.Score(ctx, query, candidates)
	span.SetAttributes(attribute.Int("retriever.results", len(ranked)))
	return ranked, nil
}

func unionIDs(a, b []search.Hit) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	ids := make([]string, 0, len(a)+len(b))
	for _, h := range a {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			ids = append(ids, h.ChunkID)
		}
	}
	for _, h := range b {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			ids = append(ids, h.ChunkID)
		}
	}
	return ids
}
