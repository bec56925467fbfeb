package models

// RetrievalCandidate pairs a chunk with its per-query scores. Candidates are
// created fresh for each query and discarded after the response; nothing here
// is persisted.
type RetrievalCandidate struct {
	Chunk *Chunk `json:"chunk"`

	// Position is the chunk's order within its document; together with the
	// chunk's document id it forms the final tie-break so rankings are
	// deterministic.
	Position int `json:"position"`

	// LexicalScore is the raw keyword relevance score, unbounded and
	// non-negative.
	LexicalScore float64 `json:"lexical_score"`

	// VectorScore is the raw vector similarity, in [-1,1] or [0,1] depending
	// on the metric the vector index uses.
	VectorScore float64 `json:"vector_score"`

	// FusedScore is the blended ranking value computed by the hybrid scorer
	// from the normalized component scores.
	FusedScore float64 `json:"fused_score"`
}
