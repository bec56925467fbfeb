package search

import (
	"math"
	"testing"
)

func seededIndex() *LexicalIndex {
	li := NewLexicalIndex()
	li.Add("c1", "statin therapy reduces cardiovascular mortality in elderly patients")
	li.Add("c2", "adverse events of statin therapy include myalgia")
	li.Add("c3", "dietary interventions for hypertension management")
	return li
}

func TestLexicalScoreMatchesTerms(t *testing.T) {
	li := seededIndex()

	if got := li.Score("statin mortality", "c1"); got <= 0 {
		t.Errorf("matching document scored %v, want > 0", got)
	}
	if got := li.Score("statin mortality", "c3"); got != 0 {
		t.Errorf("non-matching document scored %v, want 0", got)
	}
	if got := li.Score("anything", "missing"); got != 0 {
		t.Errorf("unknown id scored %v, want 0", got)
	}
}

func TestLexicalScoresNonNegative(t *testing.T) {
	li := NewLexicalIndex()
	// "therapy" appears in every document; the smoothed IDF must stay >= 0.
	li.Add("c1", "therapy one")
	li.Add("c2", "therapy two")
	li.Add("c3", "therapy three")

	for _, id := range []string{"c1", "c2", "c3"} {
		if got := li.Score("therapy", id); got < 0 {
			t.Errorf("document %s scored %v, BM25 scores must be non-negative", id, got)
		}
	}
}

func TestLexicalTopKOrdering(t *testing.T) {
	li := seededIndex()

	hits := li.TopK("statin therapy mortality", 10)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d: %v", len(hits), hits)
	}
	if hits[0].ChunkID != "c1" {
		t.Errorf("best hit = %s, want c1 (matches all three terms)", hits[0].ChunkID)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not in descending order: %v", hits)
	}
}

func TestLexicalTopKCap(t *testing.T) {
	li := seededIndex()
	hits := li.TopK("statin therapy", 1)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit with k=1, got %d", len(hits))
	}
}

func TestLexicalReAddReplaces(t *testing.T) {
	li := NewLexicalIndex()
	li.Add("c1", "aspirin dosage")
	li.Add("c1", "warfarin interactions")

	if li.Count() != 1 {
		t.Fatalf("re-adding the same id should not grow the index: %d", li.Count())
	}
	if got := li.Score("aspirin", "c1"); got != 0 {
		t.Errorf("old terms should be gone, scored %v", got)
	}
	if got := li.Score("warfarin", "c1"); got <= 0 {
		t.Errorf("new terms should score, got %v", got)
	}
}

func TestLexicalReset(t *testing.T) {
	li := seededIndex()
	li.Reset()
	if li.Count() != 0 {
		t.Errorf("count after reset = %d", li.Count())
	}
	if hits := li.TopK("statin", 5); len(hits) != 0 {
		t.Errorf("reset index returned hits: %v", hits)
	}
}

func TestTokenizeLowercasesAndSplits(t *testing.T) {
	got := tokenize("Statin-therapy, 40mg/day (p<0.001)")
	want := []string{"statin", "therapy", "40mg", "day", "p", "0", "001"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 2}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CosineSimilarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tc.want)
			}
		})
	}
}
