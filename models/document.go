package models

// ElementType identifies the kind of a structural element. The set is closed:
// the assembler switches exhaustively over it.
type ElementType int

const (
	ElementHeading ElementType = iota
	ElementParagraph
	ElementTable
	ElementFigure
)

// String returns a human-readable representation of the element type
func (et ElementType) String() string {
	switch et {
	case ElementHeading:
		return "heading"
	case ElementParagraph:
		return "paragraph"
	case ElementTable:
		return "table"
	case ElementFigure:
		return "figure"
	default:
		return "unknown"
	}
}

// SourceMetadata carries document-level publication metadata. It is copied
// by reference onto every chunk derived from the document.
type SourceMetadata struct {
	Title           string   `json:"title" bson:"title"`
	Authors         []string `json:"authors,omitempty" bson:"authors,omitempty"`
	PublicationYear int      `json:"publication_year,omitempty" bson:"publication_year,omitempty"`
	DocumentType    string   `json:"document_type,omitempty" bson:"document_type,omitempty"`
}

// Span is a half-open byte range [Start, End) into a document's text.
type Span struct {
	Start int `json:"start" bson:"start"`
	End   int `json:"end" bson:"end"`
}

// Len returns the byte length of the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Intersects reports whether the span overlaps [start, end).
func (s Span) Intersects(start, end int) bool {
	return s.Start < end && start < s.End
}

// StructuralElement is one typed unit of document structure. Which fields are
// meaningful depends on Type:
//
//   - ElementHeading:   Level, Text
//   - ElementParagraph: Text
//   - ElementTable:     Rows, Caption
//   - ElementFigure:    FigureID, Caption
//
// Span locates the element in the document text for every type. Elements are
// ordered; their position in the document is significant and is preserved
// through chunking.
type StructuralElement struct {
	Type     ElementType `json:"type" bson:"type"`
	Span     Span        `json:"span" bson:"span"`
	Level    int         `json:"level,omitempty" bson:"level,omitempty"`
	Text     string      `json:"text,omitempty" bson:"text,omitempty"`
	Rows     [][]string  `json:"rows,omitempty" bson:"rows,omitempty"`
	Caption  string      `json:"caption,omitempty" bson:"caption,omitempty"`
	FigureID string      `json:"figure_id,omitempty" bson:"figure_id,omitempty"`
}

// IsEmptyTable reports whether the element is a table with no rows.
// Malformed extractions produce these; downstream they are treated as
// empty paragraphs.
func (e StructuralElement) IsEmptyTable() bool {
	return e.Type == ElementTable && len(e.Rows) == 0
}

// Document is an ingested medical document: raw text plus the ordered
// structural elements the upstream extraction produced. Immutable once
// ingested; chunks reference back into it via spans only.
type Document struct {
	ID       string              `json:"id" bson:"_id"`
	Text     string              `json:"text" bson:"text"`
	Elements []StructuralElement `json:"elements,omitempty" bson:"elements,omitempty"`
	Metadata SourceMetadata      `json:"metadata" bson:"metadata"`
	Status   string              `json:"status,omitempty" bson:"status,omitempty"`
}

// Document ingestion statuses.
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)
