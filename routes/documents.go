package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"medlit-rag/internal/config"
	"medlit-rag/internal/logger"
	"medlit-rag/internal/queue"
	"medlit-rag/models"
	"medlit-rag/services"
	"medlit-rag/utils"
)

// elementRequest is the wire form of a structural element; the type comes in
// as a string.
type elementRequest struct {
	Type     string     `json:"type" binding:"required"`
	Start    int        `json:"start"`
	End      int        `json:"end"`
	Level    int        `json:"level,omitempty"`
	Text     string     `json:"text,omitempty"`
	Rows     [][]string `json:"rows,omitempty"`
	Caption  string     `json:"caption,omitempty"`
	FigureID string     `json:"figure_id,omitempty"`
}

type ingestRequest struct {
	ID                   string                `json:"id,omitempty"`
	Text                 string                `json:"text" binding:"required"`
	Elements             []elementRequest      `json:"elements,omitempty"`
	Metadata             models.SourceMetadata `json:"metadata"`
	ExtractionConfidence *float64              `json:"extraction_confidence,omitempty"`
}

// HandleDocumentIngest accepts an extracted document, stores it pending and
// enqueues the ingestion task. Responds 202; chunking happens in the worker.
func HandleDocumentIngest(cfg *config.Config, store *services.DocumentStore, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
			return
		}

		if int64(len(req.Text)) > cfg.MaxDocumentBytes {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "document_too_large",
				fmt.Sprintf("Document exceeds the %d byte limit", cfg.MaxDocumentBytes), nil)
			return
		}

		// Upstream extraction quality gate: low-confidence extractions are
		// rejected rather than indexed as garbage.
		if req.ExtractionConfidence != nil && *req.ExtractionConfidence < cfg.ConfidenceThreshold {
			utils.RespondWithError(c, http.StatusUnprocessableEntity, "low_extraction_confidence",
				fmt.Sprintf("Extraction confidence %.2f is below the %.2f threshold", *req.ExtractionConfidence, cfg.ConfidenceThreshold), nil)
			return
		}

		elements, err := parseElements(req.Elements, len(req.Text))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid structural elements", err.Error())
			return
		}

		doc := &models.Document{
			ID:       req.ID,
			Text:     req.Text,
			Elements: elements,
			Metadata: req.Metadata,
		}
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}

		if err := store.InsertDocument(c.Request.Context(), doc); err != nil {
			utils.RespondWithInternalError(c, "Failed to store document", nil)
			return
		}

		task, err := queue.NewIngestTask(doc.ID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create ingestion task", nil)
			return
		}
		info, err := queueClient.Enqueue(task)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue document", nil)
			return
		}

		logger.Info("document accepted", "document_id", doc.ID, "task_id", info.ID, "bytes", len(req.Text))
		c.JSON(http.StatusAccepted, gin.H{
			"document_id": doc.ID,
			"status":      models.DocumentStatusPending,
			"task_id":     info.ID,
		})
	}
}

// HandleDocumentStatus reports a document's ingestion state and chunk count.
func HandleDocumentStatus(store *services.DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		doc, err := store.GetDocument(c.Request.Context(), id)
		if err != nil {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}

		resp := gin.H{
			"document_id": doc.ID,
			"status":      doc.Status,
			"metadata":    doc.Metadata,
		}
		if doc.Status == models.DocumentStatusCompleted {
			if records, err := store.LoadChunksByDocument(c.Request.Context(), doc.ID); err == nil {
				resp["chunk_count"] = len(records)
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleDocumentChunks returns a document's stored chunks in order, primarily
// for inspection and debugging of chunk quality.
func HandleDocumentChunks(store *services.DocumentStore, cache *services.ChunkCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		records, ok := cache.GetChunks(c.Request.Context(), id)
		if !ok {
			var err error
			records, err = store.LoadChunksByDocument(c.Request.Context(), id)
			if err != nil {
				utils.RespondWithInternalError(c, "Failed to load chunks", nil)
				return
			}
		}
		if len(records) == 0 {
			utils.RespondWithNotFound(c, "No chunks for document")
			return
		}

		out := make([]gin.H, len(records))
		for i, r := range records {
			out[i] = gin.H{
				"chunk_id":       r.ChunkID,
				"order":          r.Order,
				"content":        r.Content,
				"context_prefix": r.ContextPrefix,
				"size_tokens":    r.SizeTokens,
				"span":           gin.H{"start": r.SpanStart, "end": r.SpanEnd},
				"contains_table": r.ContainsTable,
				"section_path":   r.SectionPath,
				"degraded":       r.Degraded,
			}
			if r.TableSummary != nil {
				out[i]["table_summary"] = r.TableSummary
			}
		}
		c.JSON(http.StatusOK, gin.H{"document_id": id, "chunks": out})
	}
}

func parseElements(reqs []elementRequest, textLen int) ([]models.StructuralElement, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	elements := make([]models.StructuralElement, len(reqs))
	for i, r := range reqs {
		var t models.ElementType
		switch r.Type {
		case "heading":
			t = models.ElementHeading
		case "paragraph":
			t = models.ElementParagraph
		case "table":
			t = models.ElementTable
		case "figure":
			t = models.ElementFigure
		default:
			return nil, fmt.Errorf("element %d: unknown type %q", i, r.Type)
		}
		if r.Start < 0 || r.End > textLen || r.Start > r.End {
			return nil, fmt.Errorf("element %d: span [%d,%d) outside text of length %d", i, r.Start, r.End, textLen)
		}
		elements[i] = models.StructuralElement{
			Type:     t,
			Span:     models.Span{Start: r.Start, End: r.End},
			Level:    r.Level,
			Text:     r.Text,
			Rows:     r.Rows,
			Caption:  r.Caption,
			FigureID: r.FigureID,
		}
	}
	return elements, nil
}
