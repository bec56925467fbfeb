package models

// EstimateTokens estimates the token count of text. One token is roughly
// four characters for the embedding and generation models in use; all chunk
// size budgets are expressed in these estimated tokens.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// TableSummary is the generated replacement for an oversized table: a short
// natural-language summary plus structured tags describing the table.
type TableSummary struct {
	Text          string `json:"text" bson:"text"`
	TableType     string `json:"table_type" bson:"table_type"`
	RowCount      int    `json:"row_count" bson:"row_count"`
	ColCount      int    `json:"col_count" bson:"col_count"`
	HasStatistics bool   `json:"has_statistics" bson:"has_statistics"`
}

// Chunk is a retrievable span of document text plus derived metadata.
//
// Invariants maintained by the assembler:
//   - Content == doc.Text[Span.Start:Span.End]
//   - MinChunkSize <= SizeTokens <= BaseChunkSize+ChunkOverlap for every
//     chunk except the last of a document
//   - a chunk never splits a table internally; a table larger than the
//     maximum chunk size is summarized, never split mid-row
type Chunk struct {
	ID         string `json:"chunk_id" bson:"chunk_id"`
	DocumentID string `json:"document_id" bson:"document_id"`
	Order      int    `json:"order" bson:"order"`

	// Content is the display representation: the verbatim document text
	// covered by Span. It is never modified by augmentation.
	Content string `json:"content" bson:"content"`

	// ContextPrefix is the generated situating text prepended to the
	// retrieval representation. Empty when augmentation is disabled or
	// failed.
	ContextPrefix string `json:"context_prefix,omitempty" bson:"context_prefix,omitempty"`

	SizeTokens    int      `json:"size_tokens" bson:"size_tokens"`
	Span          Span     `json:"source_span" bson:"source_span"`
	ContainsTable bool     `json:"contains_table" bson:"contains_table"`
	SectionPath   []string `json:"section_path,omitempty" bson:"section_path,omitempty"`

	// TableSummary is set when the chunk's table was summarized rather than
	// kept verbatim. The raw rows remain reachable through Span for
	// rendering, but are excluded from the retrieval representation.
	TableSummary *TableSummary `json:"table_summary,omitempty" bson:"table_summary,omitempty"`

	// TableFallback holds truncated verbatim table text used for retrieval
	// when summarization of an oversized table failed. Set together with
	// Degraded.
	TableFallback string `json:"table_fallback,omitempty" bson:"table_fallback,omitempty"`

	// Degraded marks a chunk whose augmentation or summarization fell back,
	// so scoring can penalize it and UIs can warn.
	Degraded bool `json:"degraded,omitempty" bson:"degraded,omitempty"`

	Metadata  SourceMetadata `json:"document_metadata" bson:"document_metadata"`
	Embedding []float32      `json:"embedding,omitempty" bson:"embedding,omitempty"`
}

// RetrievalText returns the representation seen by embedding and lexical
// scoring. Summarized tables contribute their summary instead of raw cells;
// degraded tables contribute the truncated fallback. The context prefix, when
// present, is prepended. Display rendering always uses Content instead.
func (c *Chunk) RetrievalText() string {
	body := c.Content
	switch {
	case c.TableSummary != nil:
		body = c.TableSummary.Text
	case c.TableFallback != "":
		body = c.TableFallback
	}
	if c.ContextPrefix == "" {
		return body
	}
	return c.ContextPrefix + "\n\n" + body
}
