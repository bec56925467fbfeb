package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"medlit-rag/models"
)

func tableChunk(rows int) (*models.Chunk, models.StructuralElement) {
	content := strings.Repeat("Atorvastatin | 120 | 45.2 (SD 3.1) | p<0.001\n", rows) + TableEndMarker
	chunk := &models.Chunk{
		ID:            "chunk-1",
		DocumentID:    "doc-1",
		Content:       content,
		SizeTokens:    models.EstimateTokens(content),
		Span:          models.Span{Start: 0, End: len(content)},
		ContainsTable: true,
	}
	table := models.StructuralElement{
		Type:    models.ElementTable,
		Span:    chunk.Span,
		Rows:    [][]string{{"Atorvastatin", "120", "45.2 (SD 3.1)", "p<0.001"}},
		Caption: "Table 2. Primary outcomes by treatment group",
	}
	return chunk, table
}

func TestTableHandlerSmallTableVerbatim(t *testing.T) {
	gen := &fakeGenerator{reply: "should not be called"}
	h := NewTableHandler(gen, SizeConfig{BaseChunkSize: 1000, ChunkOverlap: 200, MinChunkSize: 100})

	chunk, table := tableChunk(3)
	if err := h.Handle(context.Background(), chunk, table); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.callCount() != 0 {
		t.Errorf("small table should not reach the summarizer")
	}
	if chunk.TableSummary != nil || chunk.TableFallback != "" || chunk.Degraded {
		t.Errorf("small table chunk should be untouched: %+v", chunk)
	}
	if chunk.RetrievalText() != chunk.Content {
		t.Errorf("retrieval text should stay verbatim")
	}
}

func TestTableHandlerOversizedTableSummarized(t *testing.T) {
	gen := &fakeGenerator{reply: "Outcomes table comparing atorvastatin (n=120) against placebo; mortality lower with p<0.001."}
	h := NewTableHandler(gen, SizeConfig{BaseChunkSize: 100, ChunkOverlap: 20, MinChunkSize: 20})

	chunk, table := tableChunk(60)
	if err := h.Handle(context.Background(), chunk, table); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunk.TableSummary == nil {
		t.Fatalf("oversized table should be summarized")
	}
	if chunk.TableSummary.Text != gen.reply {
		t.Errorf("summary text = %q", chunk.TableSummary.Text)
	}
	if chunk.TableSummary.TableType != "outcomes" {
		t.Errorf("table type = %q, want outcomes", chunk.TableSummary.TableType)
	}
	if !chunk.TableSummary.HasStatistics {
		t.Errorf("p-values and SD in cells should set HasStatistics")
	}
	if chunk.Degraded {
		t.Errorf("successful summarization should not degrade the chunk")
	}
	// Retrieval representation switches to the summary; content keeps the raw
	// cells for span fidelity.
	if !strings.Contains(chunk.RetrievalText(), gen.reply) {
		t.Errorf("retrieval text should carry the summary")
	}
	if !strings.Contains(chunk.Content, "Atorvastatin") {
		t.Errorf("content must keep the verbatim cells")
	}
}

func TestTableHandlerFailureFallsBackTruncated(t *testing.T) {
	gen := &fakeGenerator{err: errModelDown}
	cfg := SizeConfig{BaseChunkSize: 100, ChunkOverlap: 20, MinChunkSize: 20}
	h := NewTableHandler(gen, cfg)

	chunk, table := tableChunk(60)
	err := h.Handle(context.Background(), chunk, table)

	var failure *TableSummarizationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected TableSummarizationFailure, got %v", err)
	}
	if !errors.Is(err, errModelDown) {
		t.Errorf("failure should wrap the cause")
	}
	if !chunk.Degraded {
		t.Errorf("failed summarization must flag the chunk degraded")
	}
	if chunk.TableFallback == "" {
		t.Fatalf("expected truncated verbatim fallback")
	}
	if got := models.EstimateTokens(chunk.TableFallback); got > cfg.MaxChunkSize() {
		t.Errorf("fallback is %d tokens, above the %d ceiling", got, cfg.MaxChunkSize())
	}
	if chunk.RetrievalText() != chunk.TableFallback {
		t.Errorf("retrieval text should use the fallback")
	}
}

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		caption string
		want    string
	}{
		{"Table 1. Baseline characteristics of enrolled patients", "baseline_characteristics"},
		{"Demographic profile", "demographics"},
		{"Primary and secondary outcomes", "outcomes"},
		{"Treatment-emergent adverse events", "adverse_events"},
		{"Dose escalation schedule", "dosing"},
		{"Inclusion and exclusion criteria", "eligibility_criteria"},
		{"Miscellaneous measurements", "data"},
		{"", "data"},
	}
	for _, tc := range cases {
		if got := classifyTable(tc.caption); got != tc.want {
			t.Errorf("classifyTable(%q) = %q, want %q", tc.caption, got, tc.want)
		}
	}
}

func TestTruncateTokens(t *testing.T) {
	text := strings.Repeat("word ", 100)
	out := truncateTokens(text, 10)
	if models.EstimateTokens(out) > 10 {
		t.Errorf("truncated to %d tokens, want <= 10", models.EstimateTokens(out))
	}
	if strings.HasSuffix(out, "wor") {
		t.Errorf("truncation should not cut mid-word: %q", out)
	}

	short := "already short"
	if got := truncateTokens(short, 100); got != short {
		t.Errorf("short text should pass through unchanged")
	}
}
