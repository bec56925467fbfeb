package services

import (
	"fmt"
	"strings"

	"medlit-rag/models"

	"github.com/google/uuid"
)

// SizeConfig holds the token budgets chunk assembly works against.
type SizeConfig struct {
	// BaseChunkSize is the target chunk size in estimated tokens.
	BaseChunkSize int

	// ChunkOverlap is the token-based sliding overlap carried from each
	// chunk's tail into the next chunk.
	ChunkOverlap int

	// MinChunkSize is the smallest acceptable chunk, except for the final
	// chunk of a document.
	MinChunkSize int
}

// MaxChunkSize is the absolute ceiling: base size plus overlap.
func (c SizeConfig) MaxChunkSize() int {
	return c.BaseChunkSize + c.ChunkOverlap
}

// Validate rejects size combinations that cannot produce valid chunks.
func (c SizeConfig) Validate() error {
	if c.BaseChunkSize <= 0 {
		return fmt.Errorf("base_chunk_size must be positive, got %d", c.BaseChunkSize)
	}
	if c.MinChunkSize <= 0 {
		return fmt.Errorf("min_chunk_size must be positive, got %d", c.MinChunkSize)
	}
	if c.MinChunkSize > c.BaseChunkSize {
		return fmt.Errorf("min_chunk_size %d exceeds base_chunk_size %d", c.MinChunkSize, c.BaseChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must be non-negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.BaseChunkSize {
		return fmt.Errorf("chunk_overlap %d must be less than base_chunk_size %d", c.ChunkOverlap, c.BaseChunkSize)
	}
	return nil
}

// tableSpan is an atomic region of text that assembly must not split.
type tableSpan struct {
	start, end int
	element    int // index into doc.Elements
}

// Assembler turns boundary candidates into final chunks using a greedy
// forward scan over the document text.
type Assembler struct {
	cfg SizeConfig
}

// NewAssembler creates an assembler for the given size budgets. The budgets
// must already have passed SizeConfig.Validate.
func NewAssembler(cfg SizeConfig) *Assembler {
	return &Assembler{cfg: cfg}
}

// Assemble produces the ordered chunk sequence for a document.
//
// A boundary is accepted as a chunk end once the accumulated window reaches
// MinChunkSize and either reaches BaseChunkSize or hits a structural
// boundary. Windows that would exceed BaseChunkSize+ChunkOverlap before any
// acceptable boundary are force-split at the nearest earlier boundary, never
// mid-word. Tables are atomic: a table that cannot join the current window
// closes it, and tables larger than the base size always become their own
// chunk so the table handler can summarize them.
//
// Returns a SegmentationError when table spans are malformed; callers recover
// by falling back to a single whole-text chunk.
func (a *Assembler) Assemble(doc *models.Document, boundaries []Boundary) ([]*models.Chunk, error) {
	text := doc.Text
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	tables, err := a.tableSpans(doc)
	if err != nil {
		return nil, err
	}
	boundaries = dropBoundariesInsideTables(boundaries, tables)

	// A document shorter than the minimum yields exactly one chunk.
	if models.EstimateTokens(text) < a.cfg.MinChunkSize {
		return []*models.Chunk{a.newChunk(doc, tables, 0, 0, len(text))}, nil
	}

	var chunks []*models.Chunk
	pos := skipWhitespace(text, 0)

	for pos < len(text) {
		end, endedOnTable := a.cut(text, pos, boundaries, tables)
		if end <= pos {
			// Defensive progress guarantee; should be unreachable.
			end = len(text)
		}

		chunks = append(chunks, a.newChunk(doc, tables, len(chunks), pos, trimEnd(text, pos, end)))

		if end >= len(text) {
			break
		}
		if endedOnTable {
			// Tables are not duplicated into the next chunk.
			pos = skipWhitespace(text, end)
			continue
		}
		pos = a.overlapStart(text, pos, end, tables)
	}

	return chunks, nil
}

// cut picks the end offset for the window starting at start. The second
// return value reports whether the window ends on a table boundary, which
// suppresses overlap into the next chunk.
func (a *Assembler) cut(text string, start int, boundaries []Boundary, tables []tableSpan) (int, bool) {
	maxTok := a.cfg.MaxChunkSize()

	// A window opening on a table is the table's own chunk.
	if t, ok := tableAt(tables, start); ok {
		return t.end, true
	}

	nextTable, hasTable := tableAfter(tables, start)
	lastAccepted := -1 // nearest earlier boundary with size >= min
	lastAny := -1      // nearest earlier boundary of any size

	for _, b := range boundaries {
		if b.Offset <= start {
			continue
		}

		// Crossing into a table: decide before looking at the boundary.
		if hasTable && b.Offset > nextTable.start {
			tableTok := models.EstimateTokens(text[nextTable.start:nextTable.end])
			windowWithTable := models.EstimateTokens(text[start:nextTable.end])
			if tableTok > a.cfg.BaseChunkSize || windowWithTable > maxTok {
				// Table cannot join this window: close immediately before
				// it. A lead-in shorter than the minimum still becomes its
				// own chunk; pulling the table in would breach the ceiling.
				if nextTable.start > start {
					return nextTable.start, false
				}
				return nextTable.end, true
			}
			// Table fits inline; boundaries inside it were already dropped,
			// so simply keep scanning past it.
			hasTable = false
			if nt, ok := tableAfter(tables, nextTable.end); ok {
				nextTable, hasTable = nt, true
			}
		}

		size := models.EstimateTokens(text[start:b.Offset])
		if size > maxTok {
			switch {
			case lastAccepted > start:
				return lastAccepted, endsOnTable(tables, lastAccepted)
			case lastAny > start:
				return lastAny, endsOnTable(tables, lastAny)
			default:
				return wordSplit(text, start, maxTok), false
			}
		}
		if size >= a.cfg.MinChunkSize {
			if size >= a.cfg.BaseChunkSize || b.Structural {
				return b.Offset, endsOnTable(tables, b.Offset)
			}
			lastAccepted = b.Offset
		}
		lastAny = b.Offset
	}

	return len(text), false
}

// overlapStart computes where the next window begins: chunkOverlap estimated
// tokens back from the previous end, snapped forward to a word start, never
// inside a table and never without forward progress.
func (a *Assembler) overlapStart(text string, prevStart, prevEnd int, tables []tableSpan) int {
	if a.cfg.ChunkOverlap <= 0 {
		return skipWhitespace(text, prevEnd)
	}

	next := prevEnd - a.cfg.ChunkOverlap*4
	if next < 0 {
		next = 0
	}
	// Snap forward to the next word start so the overlap never opens
	// mid-word.
	for next < prevEnd && next > 0 && !isSpace(text[next-1]) {
		next++
	}
	for _, t := range tables {
		if next > t.start && next < t.end {
			next = t.end
			break
		}
	}
	next = skipWhitespace(text, next)
	if next <= prevStart || next >= prevEnd {
		return skipWhitespace(text, prevEnd)
	}
	return next
}

func (a *Assembler) newChunk(doc *models.Document, tables []tableSpan, order, start, end int) *models.Chunk {
	content := doc.Text[start:end]
	return &models.Chunk{
		ID:            uuid.NewString(),
		DocumentID:    doc.ID,
		Order:         order,
		Content:       content,
		SizeTokens:    models.EstimateTokens(content),
		Span:          models.Span{Start: start, End: end},
		ContainsTable: intersectsTable(tables, start, end),
		SectionPath:   sectionPathAt(doc.Elements, start),
		Metadata:      doc.Metadata,
	}
}

// tableSpans extracts the atomic table regions, validating them against the
// document text. Zero-row tables are treated as empty paragraphs and are not
// atomic.
func (a *Assembler) tableSpans(doc *models.Document) ([]tableSpan, error) {
	var spans []tableSpan
	for i, el := range doc.Elements {
		if el.Type != models.ElementTable || el.IsEmptyTable() {
			continue
		}
		s := el.Span
		if s.Start < 0 || s.End > len(doc.Text) || s.Start >= s.End {
			return nil, &SegmentationError{
				DocumentID: doc.ID,
				Reason:     fmt.Sprintf("table element %d has span [%d,%d) outside text of length %d", i, s.Start, s.End, len(doc.Text)),
			}
		}
		if n := len(spans); n > 0 && s.Start < spans[n-1].end {
			return nil, &SegmentationError{
				DocumentID: doc.ID,
				Reason:     fmt.Sprintf("table element %d overlaps the preceding table", i),
			}
		}
		spans = append(spans, tableSpan{start: s.Start, end: s.End, element: i})
	}
	return spans, nil
}

// sectionPathAt reconstructs the heading lineage in effect at a text offset.
func sectionPathAt(elements []models.StructuralElement, offset int) []string {
	var stack []models.StructuralElement
	for _, el := range elements {
		if el.Type != models.ElementHeading || el.Span.Start > offset {
			continue
		}
		for len(stack) > 0 && stack[len(stack)-1].Level >= el.Level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, el)
	}
	if len(stack) == 0 {
		return nil
	}
	path := make([]string, len(stack))
	for i, el := range stack {
		path[i] = el.Text
	}
	return path
}

func dropBoundariesInsideTables(boundaries []Boundary, tables []tableSpan) []Boundary {
	if len(tables) == 0 {
		return boundaries
	}
	kept := boundaries[:0:0]
	for _, b := range boundaries {
		inside := false
		for _, t := range tables {
			if b.Offset > t.start && b.Offset < t.end {
				inside = true
				break
			}
		}
		if !inside {
			kept = append(kept, b)
		}
	}
	return kept
}

func tableAt(tables []tableSpan, offset int) (tableSpan, bool) {
	for _, t := range tables {
		if offset >= t.start && offset < t.end {
			return t, true
		}
	}
	return tableSpan{}, false
}

func tableAfter(tables []tableSpan, offset int) (tableSpan, bool) {
	for _, t := range tables {
		if t.start >= offset {
			return t, true
		}
	}
	return tableSpan{}, false
}

func endsOnTable(tables []tableSpan, offset int) bool {
	for _, t := range tables {
		if offset == t.end {
			return true
		}
	}
	return false
}

func intersectsTable(tables []tableSpan, start, end int) bool {
	for _, t := range tables {
		if t.start < end && start < t.end {
			return true
		}
	}
	return false
}

// wordSplit finds the last word break at or before start+maxTok worth of
// characters. With no whitespace at all in the window a hard cut is the only
// option left.
func wordSplit(text string, start, maxTok int) int {
	limit := start + maxTok*4
	if limit > len(text) {
		limit = len(text)
	}
	for i := limit; i > start; i-- {
		if isSpace(text[i-1]) {
			return i
		}
	}
	return limit
}

// trimEnd pulls the chunk end back over trailing whitespace, keeping the
// span/content equivalence intact.
func trimEnd(text string, start, end int) int {
	for end > start+1 && isSpace(text[end-1]) {
		end--
	}
	return end
}

func skipWhitespace(text string, i int) int {
	for i < len(text) && isSpace(text[i]) {
		i++
	}
	return i
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
