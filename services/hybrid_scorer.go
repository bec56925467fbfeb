package services

import (
	"context"
	"fmt"
	"sort"

	"medlit-rag/internal/logger"
	"medlit-rag/models"
)

// Normalizer maps raw component scores onto [0,1] across a candidate set.
// Min-max is the default; the strategy is pluggable because the choice is a
// policy, not a law.
type Normalizer func(values []float64) []float64

// MinMaxNormalize rescales values to [0,1]. When every value is identical the
// whole set normalizes to 1, avoiding a divide by zero and treating the
// signal as uninformative rather than disqualifying.
func MinMaxNormalize(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(values))
	if hi == lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// ScorerConfig tunes hybrid score fusion.
type ScorerConfig struct {
	// Alpha blends the normalized component scores: 0 is pure lexical,
	// 1 is pure semantic.
	Alpha float64

	// MinRelevance drops candidates whose fused score falls below it.
	MinRelevance float64

	// TopK caps the result length.
	TopK int

	// RerankTopK is how many head candidates an external reranker re-orders;
	// with a reranker configured only these survive.
	RerankTopK int

	// Normalize defaults to MinMaxNormalize when nil.
	Normalize Normalizer
}

// Validate rejects fusion parameters that cannot produce a sane ranking.
func (c ScorerConfig) Validate() error {
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("hybrid_alpha must be between 0 and 1, got %v", c.Alpha)
	}
	if c.MinRelevance < 0 || c.MinRelevance > 1 {
		return fmt.Errorf("min_relevance_score must be between 0 and 1, got %v", c.MinRelevance)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	if c.RerankTopK <= 0 || c.RerankTopK > c.TopK {
		return fmt.Errorf("rerank_top_k %d must be in 1..top_k (%d)", c.RerankTopK, c.TopK)
	}
	return nil
}

// HybridScorer fuses lexical and vector similarity into one ranked score.
// Scoring is pure and synchronous over the per-query candidate set.
type HybridScorer struct {
	cfg      ScorerConfig
	reranker Reranker
}

// NewHybridScorer builds a scorer; reranker may be nil for pass-through.
func NewHybridScorer(cfg ScorerConfig, reranker Reranker) (*HybridScorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Normalize == nil {
		cfg.Normalize = MinMaxNormalize
	}
	return &HybridScorer{cfg: cfg, reranker: reranker}, nil
}

// Score normalizes both component scores independently across the candidate
// set, fuses them with alpha, applies the relevance cutoff and returns at
// most TopK candidates in deterministic descending order (fused score, then
// vector score, then document id and position).
func (s *HybridScorer) Score(ctx context.Context, query string, candidates []models.RetrievalCandidate) []models.RetrievalCandidate {
	if len(candidates) == 0 {
		return nil
	}

	lex := make([]float64, len(candidates))
	vec := make([]float64, len(candidates))
	for i, c := range candidates {
		lex[i] = c.LexicalScore
		vec[i] = c.VectorScore
	}
	lexN := s.cfg.Normalize(lex)
	vecN := s.cfg.Normalize(vec)

	fused := make([]models.RetrievalCandidate, 0, len(candidates))
	for i, c := range candidates {
		c.FusedScore = s.cfg.Alpha*vecN[i] + (1-s.cfg.Alpha)*lexN[i]
		if c.FusedScore < s.cfg.MinRelevance {
			continue
		}
		fused = append(fused, c)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		if fused[i].VectorScore != fused[j].VectorScore {
			return fused[i].VectorScore > fused[j].VectorScore
		}
		if fused[i].Chunk.DocumentID != fused[j].Chunk.DocumentID {
			return fused[i].Chunk.DocumentID < fused[j].Chunk.DocumentID
		}
		return fused[i].Position < fused[j].Position
	})

	if len(fused) > s.cfg.TopK {
		fused = fused[:s.cfg.TopK]
	}

	if s.reranker != nil {
		head := fused
		if len(head) > s.cfg.RerankTopK {
			head = head[:s.cfg.RerankTopK]
		}
		reranked, err := s.reranker.Rerank(ctx, query, head)
		if err != nil {
			logger.Warn("reranker failed, keeping fused order", "error", err)
			return fused
		}
		return reranked
	}

	return fused
}
