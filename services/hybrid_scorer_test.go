package services

import (
	"context"
	"math"
	"testing"

	"medlit-rag/models"
)

func candidateSet(lexical, vector []float64) []models.RetrievalCandidate {
	out := make([]models.RetrievalCandidate, len(lexical))
	for i := range lexical {
		out[i] = models.RetrievalCandidate{
			Chunk:        &models.Chunk{ID: string(rune('a' + i))},
			Position:     i,
			LexicalScore: lexical[i],
			VectorScore:  vector[i],
		}
	}
	return out
}

func scorerWith(t *testing.T, alpha, minRelevance float64, topK int) *HybridScorer {
	t.Helper()
	s, err := NewHybridScorer(ScorerConfig{Alpha: alpha, MinRelevance: minRelevance, TopK: topK, RerankTopK: topK}, nil)
	if err != nil {
		t.Fatalf("scorer config rejected: %v", err)
	}
	return s
}

func ids(cands []models.RetrievalCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Chunk.ID
	}
	return out
}

func TestScoreAlphaZeroIsPureLexical(t *testing.T) {
	s := scorerWith(t, 0, 0, 10)
	got := s.Score(context.Background(), "q", candidateSet(
		[]float64{1, 10, 5},
		[]float64{0.9, 0.1, 0.5}, // opposite order, must be ignored
	))
	want := []string{"b", "c", "a"}
	for i, id := range ids(got) {
		if id != want[i] {
			t.Fatalf("alpha=0 order = %v, want %v", ids(got), want)
		}
	}
}

func TestScoreAlphaOneIsPureVector(t *testing.T) {
	s := scorerWith(t, 1, 0, 10)
	got := s.Score(context.Background(), "q", candidateSet(
		[]float64{10, 1, 5}, // must be ignored
		[]float64{0.1, 0.9, 0.5},
	))
	want := []string{"b", "c", "a"}
	for i, id := range ids(got) {
		if id != want[i] {
			t.Fatalf("alpha=1 order = %v, want %v", ids(got), want)
		}
	}
}

func TestScoreScaleInvariance(t *testing.T) {
	// Min-max normalization makes the fused ranking invariant to affine
	// rescaling of either component.
	lex := []float64{2, 8, 5, 1}
	vec := []float64{0.3, 0.1, 0.9, 0.6}
	scaledLex := make([]float64, len(lex))
	for i, v := range lex {
		scaledLex[i] = v*100 + 7
	}

	s := scorerWith(t, 0.5, 0, 10)
	base := ids(s.Score(context.Background(), "q", candidateSet(lex, vec)))
	scaled := ids(s.Score(context.Background(), "q", candidateSet(scaledLex, vec)))

	for i := range base {
		if base[i] != scaled[i] {
			t.Fatalf("ranking changed under rescaling: %v vs %v", base, scaled)
		}
	}
}

func TestScoreMinRelevanceCutoff(t *testing.T) {
	// With alpha=1 the normalized vector scores are 0, 0.5 and 1; a 0.7
	// cutoff keeps only the top candidate.
	s := scorerWith(t, 1, 0.7, 10)
	got := s.Score(context.Background(), "q", candidateSet(
		[]float64{1, 1, 1},
		[]float64{0.2, 0.5, 0.8},
	))
	if len(got) != 1 || got[0].Chunk.ID != "c" {
		t.Fatalf("cutoff result = %v, want [c]", ids(got))
	}
}

func TestScoreTopKCap(t *testing.T) {
	lex := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	vec := []float64{8, 7, 6, 5, 4, 3, 2, 1}
	s := scorerWith(t, 0.5, 0, 3)
	got := s.Score(context.Background(), "q", candidateSet(lex, vec))
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
}

func TestScoreTieBreaksByVectorThenPosition(t *testing.T) {
	// Identical lexical scores normalize to all-1; with alpha=0 every fused
	// score ties, so vector score then earlier position decide.
	s := scorerWith(t, 0, 0, 10)
	cands := candidateSet(
		[]float64{5, 5, 5},
		[]float64{0.2, 0.9, 0.2},
	)
	got := s.Score(context.Background(), "q", cands)
	want := []string{"b", "a", "c"}
	for i, id := range ids(got) {
		if id != want[i] {
			t.Fatalf("tie-break order = %v, want %v", ids(got), want)
		}
	}
}

func TestScoreTieBreaksAcrossDocuments(t *testing.T) {
	// Fully tied candidates from different documents order by document id
	// then position, independent of the order they arrived in.
	cands := []models.RetrievalCandidate{
		{Chunk: &models.Chunk{ID: "x", DocumentID: "doc-b"}, Position: 0, LexicalScore: 5, VectorScore: 0.4},
		{Chunk: &models.Chunk{ID: "y", DocumentID: "doc-a"}, Position: 3, LexicalScore: 5, VectorScore: 0.4},
		{Chunk: &models.Chunk{ID: "z", DocumentID: "doc-a"}, Position: 1, LexicalScore: 5, VectorScore: 0.4},
	}
	s := scorerWith(t, 0.5, 0, 10)
	got := s.Score(context.Background(), "q", cands)
	want := []string{"z", "y", "x"}
	for i, id := range ids(got) {
		if id != want[i] {
			t.Fatalf("cross-document tie order = %v, want %v", ids(got), want)
		}
	}
}

func TestScoreFusedScoreSet(t *testing.T) {
	s := scorerWith(t, 0.5, 0, 10)
	got := s.Score(context.Background(), "q", candidateSet(
		[]float64{0, 10},
		[]float64{0, 1},
	))
	// Top candidate has both components at the max: fused must be exactly 1.
	if math.Abs(got[0].FusedScore-1) > 1e-9 {
		t.Errorf("top fused score = %v, want 1", got[0].FusedScore)
	}
	if math.Abs(got[1].FusedScore-0) > 1e-9 {
		t.Errorf("bottom fused score = %v, want 0", got[1].FusedScore)
	}
}

func TestScoreEmptyCandidates(t *testing.T) {
	s := scorerWith(t, 0.5, 0.7, 10)
	if got := s.Score(context.Background(), "q", nil); got != nil {
		t.Fatalf("expected nil for empty candidates, got %v", got)
	}
}

func TestMinMaxNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"spread", []float64{0, 5, 10}, []float64{0, 0.5, 1}},
		{"all equal", []float64{3, 3, 3}, []float64{1, 1, 1}},
		{"single", []float64{7}, []float64{1}},
		{"empty", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MinMaxNormalize(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("length %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if math.Abs(got[i]-tc.want[i]) > 1e-9 {
					t.Errorf("index %d: %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestScorerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ScorerConfig
		wantErr bool
	}{
		{"defaults", ScorerConfig{Alpha: 0.5, MinRelevance: 0.7, TopK: 10, RerankTopK: 5}, false},
		{"alpha low", ScorerConfig{Alpha: -0.1, TopK: 10, RerankTopK: 5}, true},
		{"alpha high", ScorerConfig{Alpha: 1.1, TopK: 10, RerankTopK: 5}, true},
		{"bad relevance", ScorerConfig{Alpha: 0.5, MinRelevance: 2, TopK: 10, RerankTopK: 5}, true},
		{"zero topk", ScorerConfig{Alpha: 0.5, TopK: 0, RerankTopK: 1}, true},
		{"rerank above topk", ScorerConfig{Alpha: 0.5, TopK: 5, RerankTopK: 6}, true},
		{"alpha bounds ok", ScorerConfig{Alpha: 0, MinRelevance: 0, TopK: 1, RerankTopK: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

// rerankReverse flips the order of whatever it is given.
type rerankReverse struct{}

func (rerankReverse) Rerank(ctx context.Context, query string, cands []models.RetrievalCandidate) ([]models.RetrievalCandidate, error) {
	out := make([]models.RetrievalCandidate, len(cands))
	for i, c := range cands {
		out[len(cands)-1-i] = c
	}
	return out, nil
}

func TestScoreRerankerHeadOnly(t *testing.T) {
	s, err := NewHybridScorer(ScorerConfig{Alpha: 1, MinRelevance: 0, TopK: 4, RerankTopK: 2}, rerankReverse{})
	if err != nil {
		t.Fatalf("scorer config rejected: %v", err)
	}
	got := s.Score(context.Background(), "q", candidateSet(
		[]float64{1, 1, 1, 1},
		[]float64{0.9, 0.8, 0.7, 0.6},
	))
	// Fused order is a,b,c,d; the reranker reverses the head of 2 and only
	// those survive.
	want := []string{"b", "a"}
	if len(got) != len(want) {
		t.Fatalf("reranked length = %d, want %d (%v)", len(got), len(want), ids(got))
	}
	for i, id := range ids(got) {
		if id != want[i] {
			t.Fatalf("reranked order = %v, want %v", ids(got), want)
		}
	}
}
