package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// ChunkRecord is the denormalized chunk document stored in the chunks
// collection. Keeping retrieval text and vector alongside the display content
// lets the query path rebuild its lexical and vector indexes from Mongo alone.
type ChunkRecord struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	DocumentID    string             `bson:"document_id"`
	ChunkID       string             `bson:"chunk_id"`
	Order         int                `bson:"order"`
	Content       string             `bson:"content"`
	ContextPrefix string             `bson:"context_prefix,omitempty"`
	RetrievalText string             `bson:"retrieval_text"`
	SizeTokens    int                `bson:"size_tokens"`
	SpanStart     int                `bson:"span_start"`
	SpanEnd       int                `bson:"span_end"`
	ContainsTable bool               `bson:"contains_table"`
	TableSummary  *TableSummary      `bson:"table_summary,omitempty"`
	Degraded      bool               `bson:"degraded,omitempty"`
	SectionPath   []string           `bson:"section_path,omitempty"`
	Metadata      SourceMetadata     `bson:"document_metadata"`
	Vector        []float32          `bson:"vector,omitempty"`
}

// NewChunkRecord flattens a chunk into its storable form.
func NewChunkRecord(c *Chunk) ChunkRecord {
	return ChunkRecord{
		DocumentID:    c.DocumentID,
		ChunkID:       c.ID,
		Order:         c.Order,
		Content:       c.Content,
		ContextPrefix: c.ContextPrefix,
		RetrievalText: c.RetrievalText(),
		SizeTokens:    c.SizeTokens,
		SpanStart:     c.Span.Start,
		SpanEnd:       c.Span.End,
		ContainsTable: c.ContainsTable,
		TableSummary:  c.TableSummary,
		Degraded:      c.Degraded,
		SectionPath:   c.SectionPath,
		Metadata:      c.Metadata,
		Vector:        c.Embedding,
	}
}

// Chunk reconstructs the in-memory chunk from a stored record.
func (r ChunkRecord) Chunk() *Chunk {
	return &Chunk{
		ID:            r.ChunkID,
		DocumentID:    r.DocumentID,
		Order:         r.Order,
		Content:       r.Content,
		ContextPrefix: r.ContextPrefix,
		SizeTokens:    r.SizeTokens,
		Span:          Span{Start: r.SpanStart, End: r.SpanEnd},
		ContainsTable: r.ContainsTable,
		TableSummary:  r.TableSummary,
		Degraded:      r.Degraded,
		SectionPath:   r.SectionPath,
		Metadata:      r.Metadata,
		Embedding:     r.Vector,
	}
}
