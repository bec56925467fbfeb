package search

import (
	"context"
	"fmt"
	"math"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"medlit-rag/models"
)

const collectionName = "chunks"

// Hit is one vector search result.
type Hit struct {
	ChunkID string
	Score   float64
}

// VectorIndex is the in-process semantic index over chunk retrieval text.
// Mongo holds the durable chunk records; this index is hydrated from them at
// startup and after each reindex, so it can always be rebuilt.
type VectorIndex struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
}

func NewVectorIndex() (*VectorIndex, error) {
	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return &VectorIndex{db: db, collection: collection}, nil
}

// Rebuild replaces the index contents with the given chunk records. Records
// without a stored vector are skipped.
func (vi *VectorIndex) Rebuild(ctx context.Context, records []models.ChunkRecord) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	if err := vi.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("failed to reset collection: %w", err)
	}
	collection, err := vi.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}
	vi.collection = collection

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		if len(r.Vector) == 0 {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        r.ChunkID,
			Embedding: r.Vector,
			Content:   r.RetrievalText,
			Metadata: map[string]string{
				"document_id": r.DocumentID,
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := collection.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Add inserts or replaces one chunk's vector.
func (vi *VectorIndex) Add(ctx context.Context, record models.ChunkRecord) error {
	if len(record.Vector) == 0 {
		return fmt.Errorf("chunk %s has no embedding vector", record.ChunkID)
	}
	vi.mu.Lock()
	defer vi.mu.Unlock()

	return vi.collection.AddDocument(ctx, chromem.Document{
		ID:        record.ChunkID,
		Embedding: record.Vector,
		Content:   record.RetrievalText,
		Metadata: map[string]string{
			"document_id": record.DocumentID,
		},
	})
}

// Count returns the number of indexed chunks.
func (vi *VectorIndex) Count() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.collection.Count()
}

// Query returns up to limit nearest chunks by cosine similarity.
func (vi *VectorIndex) Query(ctx context.Context, queryVector []float32, limit int) ([]Hit, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	// chromem rejects nResults above the collection size
	count := vi.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := vi.collection.QueryEmbedding(ctx, queryVector, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ChunkID: r.ID, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// CosineSimilarity computes similarity between two vectors; 0 when lengths
// differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
