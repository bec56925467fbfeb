package services

import (
	"errors"
	"strings"
	"testing"

	"medlit-rag/models"
)

func testSizeConfig() SizeConfig {
	return SizeConfig{BaseChunkSize: 50, ChunkOverlap: 10, MinChunkSize: 10}
}

func testDoc(text string, elements ...models.StructuralElement) *models.Document {
	return &models.Document{
		ID:       "doc-1",
		Text:     text,
		Elements: elements,
		Metadata: models.SourceMetadata{Title: "Efficacy of Drug X", DocumentType: "rct", PublicationYear: 2023},
	}
}

// assertChunksValid checks the invariants every chunk sequence must hold:
// content equals the text slice its span names, order is sequential, spans
// move forward, and no chunk exceeds the ceiling.
func assertChunksValid(t *testing.T, doc *models.Document, chunks []*models.Chunk, cfg SizeConfig) {
	t.Helper()
	maxTok := cfg.MaxChunkSize()
	prevStart := -1
	for i, c := range chunks {
		if c.Order != i {
			t.Errorf("chunk %d: order = %d", i, c.Order)
		}
		if c.Content != doc.Text[c.Span.Start:c.Span.End] {
			t.Errorf("chunk %d: content does not match its span", i)
		}
		if c.Span.Start <= prevStart {
			t.Errorf("chunk %d: span start %d does not advance past %d", i, c.Span.Start, prevStart)
		}
		if c.SizeTokens > maxTok {
			t.Errorf("chunk %d: %d tokens exceeds ceiling %d", i, c.SizeTokens, maxTok)
		}
		if c.DocumentID != doc.ID {
			t.Errorf("chunk %d: document id %q", i, c.DocumentID)
		}
		prevStart = c.Span.Start
	}
}

func TestAssembleEmptyText(t *testing.T) {
	a := NewAssembler(testSizeConfig())
	chunks, err := a.Assemble(testDoc("   \n  "), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks != nil {
		t.Fatalf("expected no chunks for whitespace text, got %d", len(chunks))
	}
}

func TestAssembleShortDocumentSingleChunk(t *testing.T) {
	cfg := SizeConfig{BaseChunkSize: 300, ChunkOverlap: 50, MinChunkSize: 100}
	a := NewAssembler(cfg)

	text := "A brief abstract about statin therapy outcomes."
	doc := testDoc(text)
	chunks, err := a.Assemble(doc, Segment(text, DefaultSeparators()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != text {
		t.Errorf("single chunk should cover the whole text")
	}
	assertChunksValid(t, doc, chunks, cfg)
}

func TestAssembleLongProse(t *testing.T) {
	cfg := testSizeConfig()
	a := NewAssembler(cfg)

	text := strings.TrimSpace(strings.Repeat("Patients in the treatment arm showed improvement. ", 30))
	doc := testDoc(text)
	chunks, err := a.Assemble(doc, Segment(text, DefaultSeparators()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks for %d tokens, got %d", models.EstimateTokens(text), len(chunks))
	}
	assertChunksValid(t, doc, chunks, cfg)

	// All chunks except the last should reach the minimum size.
	for i, c := range chunks[:len(chunks)-1] {
		if c.SizeTokens < cfg.MinChunkSize {
			t.Errorf("chunk %d: %d tokens below minimum %d", i, c.SizeTokens, cfg.MinChunkSize)
		}
	}
}

func TestAssembleOverlapCarriesTail(t *testing.T) {
	cfg := testSizeConfig()
	a := NewAssembler(cfg)

	text := strings.TrimSpace(strings.Repeat("The primary endpoint was all-cause mortality at one year. ", 25))
	doc := testDoc(text)
	chunks, err := a.Assemble(doc, Segment(text, DefaultSeparators()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("need at least 2 chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Span.Start >= chunks[i-1].Span.End {
			t.Errorf("chunk %d starts at %d, expected overlap into previous chunk ending at %d",
				i, chunks[i].Span.Start, chunks[i-1].Span.End)
		}
	}
	assertChunksValid(t, doc, chunks, cfg)
}

func TestAssembleNoOverlapWhenZero(t *testing.T) {
	cfg := SizeConfig{BaseChunkSize: 50, ChunkOverlap: 0, MinChunkSize: 10}
	a := NewAssembler(cfg)

	text := strings.TrimSpace(strings.Repeat("Adverse events were mild and transient in both groups. ", 25))
	doc := testDoc(text)
	chunks, err := a.Assemble(doc, Segment(text, DefaultSeparators()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Span.Start < chunks[i-1].Span.End {
			t.Errorf("chunk %d overlaps previous chunk with overlap disabled", i)
		}
	}
	assertChunksValid(t, doc, chunks, cfg)
}

// buildTableDoc assembles a document with prose around a rendered table and
// returns the table's byte span.
func buildTableDoc(leadSentences, rowCount, tailSentences int) (*models.Document, models.Span) {
	lead := strings.Repeat("The cohort was recruited across twelve sites. ", leadSentences)
	table := strings.Repeat("Group A | 120 | 45.2 | 0.83\n", rowCount) + TableEndMarker
	tail := strings.Repeat("Follow-up continued for five years after enrollment. ", tailSentences)

	text := lead + table + "\n\n" + strings.TrimSpace(tail)
	span := models.Span{Start: len(lead), End: len(lead) + len(table)}

	doc := testDoc(text, models.StructuralElement{
		Type:    models.ElementTable,
		Span:    span,
		Rows:    [][]string{{"Group A", "120", "45.2", "0.83"}},
		Caption: "Baseline characteristics",
	})
	return doc, span
}

func TestAssembleTableNeverSplit(t *testing.T) {
	cfg := SizeConfig{BaseChunkSize: 100, ChunkOverlap: 20, MinChunkSize: 20}
	a := NewAssembler(cfg)

	doc, span := buildTableDoc(20, 30, 10)
	chunks, err := a.Assemble(doc, Segment(doc.Text, DefaultSeparators()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertChunksValid(t, doc, chunks, cfg)

	for i, c := range chunks {
		intersects := c.Span.Intersects(span.Start, span.End)
		contains := c.Span.Start <= span.Start && span.End <= c.Span.End
		if intersects && !contains {
			t.Errorf("chunk %d span [%d,%d) splits the table [%d,%d)",
				i, c.Span.Start, c.Span.End, span.Start, span.End)
		}
		if contains && !c.ContainsTable {
			t.Errorf("chunk %d holds the table but is not flagged", i)
		}
	}
}

func TestAssembleOversizedTableOwnChunk(t *testing.T) {
	cfg := SizeConfig{BaseChunkSize: 100, ChunkOverlap: 20, MinChunkSize: 20}
	a := NewAssembler(cfg)

	doc, span := buildTableDoc(20, 30, 10)
	if tok := models.EstimateTokens(doc.Text[span.Start:span.End]); tok <= cfg.BaseChunkSize {
		t.Fatalf("test table too small: %d tokens", tok)
	}

	chunks, err := a.Assemble(doc, Segment(doc.Text, DefaultSeparators()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var tableChunk *models.Chunk
	for _, c := range chunks {
		if c.Span.Start <= span.Start && span.End <= c.Span.End {
			tableChunk = c
			break
		}
	}
	if tableChunk == nil {
		t.Fatalf("no chunk contains the table")
	}
	if tableChunk.Span.Start != span.Start || tableChunk.Span.End != span.End {
		t.Errorf("oversized table should be its own chunk: got span [%d,%d), table is [%d,%d)",
			tableChunk.Span.Start, tableChunk.Span.End, span.Start, span.End)
	}

	// The chunk after a table opens fresh, with no overlap back into it.
	for i, c := range chunks {
		if c == tableChunk && i+1 < len(chunks) {
			if chunks[i+1].Span.Start < span.End {
				t.Errorf("chunk after table overlaps into it: starts at %d, table ends at %d",
					chunks[i+1].Span.Start, span.End)
			}
		}
	}
}

func TestAssembleShortLeadBeforeTableStaysUnderCeiling(t *testing.T) {
	// A lead-in below the minimum must not be merged into a following table
	// when the combined window would exceed base+overlap; it closes as its
	// own small chunk instead.
	cfg := SizeConfig{BaseChunkSize: 50, ChunkOverlap: 3, MinChunkSize: 30}
	a := NewAssembler(cfg)

	doc, span := buildTableDoc(2, 6, 3)
	lead := models.EstimateTokens(doc.Text[:span.Start])
	table := models.EstimateTokens(doc.Text[span.Start:span.End])
	combined := models.EstimateTokens(doc.Text[:span.End])
	if lead >= cfg.MinChunkSize || table > cfg.BaseChunkSize || combined <= cfg.MaxChunkSize() {
		t.Fatalf("test shape wrong: lead=%d table=%d combined=%d", lead, table, combined)
	}

	chunks, err := a.Assemble(doc, Segment(doc.Text, DefaultSeparators()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertChunksValid(t, doc, chunks, cfg)

	for i, c := range chunks {
		intersects := c.Span.Intersects(span.Start, span.End)
		contains := c.Span.Start <= span.Start && span.End <= c.Span.End
		if intersects && !contains {
			t.Errorf("chunk %d span [%d,%d) splits the table [%d,%d)",
				i, c.Span.Start, c.Span.End, span.Start, span.End)
		}
	}
}

func TestAssembleMalformedTableSpan(t *testing.T) {
	a := NewAssembler(testSizeConfig())

	text := "Some prose around a broken table extraction."
	doc := testDoc(text, models.StructuralElement{
		Type: models.ElementTable,
		Span: models.Span{Start: 10, End: len(text) + 50},
		Rows: [][]string{{"x"}},
	})

	_, err := a.Assemble(doc, Segment(text, DefaultSeparators()))
	var segErr *SegmentationError
	if !errors.As(err, &segErr) {
		t.Fatalf("expected SegmentationError, got %v", err)
	}
	if segErr.DocumentID != doc.ID {
		t.Errorf("error names document %q, want %q", segErr.DocumentID, doc.ID)
	}
}

func TestAssembleEmptyTableNotAtomic(t *testing.T) {
	cfg := testSizeConfig()
	a := NewAssembler(cfg)

	text := strings.TrimSpace(strings.Repeat("Plain prose continues here without interruption. ", 20))
	doc := testDoc(text, models.StructuralElement{
		Type: models.ElementTable,
		Span: models.Span{Start: 0, End: len(text)},
		Rows: nil, // zero rows: treated as an empty paragraph
	})

	chunks, err := a.Assemble(doc, Segment(text, DefaultSeparators()))
	if err != nil {
		t.Fatalf("zero-row table should not be atomic: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("expected normal chunking despite the empty table, got %d chunks", len(chunks))
	}
}

func TestAssembleSectionPath(t *testing.T) {
	text := "## Methods\nRandomized, double-blind design across twelve sites with careful allocation concealment throughout.\n## Results\nMortality was lower in the treatment arm than in the control arm at every interim analysis."
	methodsAt := strings.Index(text, "## Methods")
	resultsAt := strings.Index(text, "## Results")

	doc := testDoc(text,
		models.StructuralElement{Type: models.ElementHeading, Span: models.Span{Start: methodsAt, End: methodsAt + 10}, Level: 2, Text: "Methods"},
		models.StructuralElement{Type: models.ElementHeading, Span: models.Span{Start: resultsAt, End: resultsAt + 10}, Level: 2, Text: "Results"},
	)

	cfg := SizeConfig{BaseChunkSize: 30, ChunkOverlap: 0, MinChunkSize: 5}
	a := NewAssembler(cfg)
	chunks, err := a.Assemble(doc, Segment(text, DefaultSeparators()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, c := range chunks {
		want := "Methods"
		if c.Span.Start >= resultsAt {
			want = "Results"
		}
		if len(c.SectionPath) == 0 || c.SectionPath[len(c.SectionPath)-1] != want {
			t.Errorf("chunk %d (span start %d): section path %v, want leaf %q", i, c.Span.Start, c.SectionPath, want)
		}
	}
}

func TestSizeConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     SizeConfig
		wantErr bool
	}{
		{"valid defaults", SizeConfig{1000, 200, 100}, false},
		{"zero base", SizeConfig{0, 0, 1}, true},
		{"zero min", SizeConfig{100, 10, 0}, true},
		{"min above base", SizeConfig{100, 10, 200}, true},
		{"negative overlap", SizeConfig{100, -1, 10}, true},
		{"overlap equals base", SizeConfig{100, 100, 10}, true},
		{"zero overlap ok", SizeConfig{100, 0, 10}, false},
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
