package routes

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medlit-rag/internal/logger"
	"medlit-rag/models"
	"medlit-rag/services"
	"medlit-rag/utils"
)

type queryRequest struct {
	Query string `json:"query" binding:"required"`
}

type queryResult struct {
	ChunkID       string                `json:"chunk_id"`
	DocumentID    string                `json:"document_id"`
	Content       string                `json:"content"`
	ContextPrefix string                `json:"context_prefix,omitempty"`
	SectionPath   []string              `json:"section_path,omitempty"`
	ContainsTable bool                  `json:"contains_table"`
	TableSummary  *models.TableSummary  `json:"table_summary,omitempty"`
	Degraded      bool                  `json:"degraded,omitempty"`
	Metadata      models.SourceMetadata `json:"document_metadata"`
	LexicalScore  float64               `json:"lexical_score"`
	VectorScore   float64               `json:"vector_score"`
	FusedScore    float64               `json:"fused_score"`
}

type queryResponse struct {
	Query   string        `json:"query"`
	Results []queryResult `json:"results"`
	Cached  bool          `json:"cached,omitempty"`
}

// HandleQuery answers a retrieval query with hybrid-ranked chunks. Responses
// are cached by query text until the next ingestion or reindex.
func HandleQuery(retriever *services.Retriever, cache *services.ChunkCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
			return
		}
		query := strings.TrimSpace(req.Query)
		if query == "" {
			utils.RespondWithBadRequest(c, "Query must not be empty", nil)
			return
		}

		if payload, ok := cache.GetQueryResult(c.Request.Context(), query); ok {
			var resp queryResponse
			if err := json.Unmarshal(payload, &resp); err == nil {
				resp.Cached = true
				c.JSON(http.StatusOK, resp)
				return
			}
		}

		ranked, err := retriever.Retrieve(c.Request.Context(), query)
		if err != nil {
			logger.Error("query failed", "error", err)
			utils.RespondWithInternalError(c, "Retrieval failed", nil)
			return
		}

		resp := queryResponse{Query: query, Results: make([]queryResult, len(ranked))}
		for i, cand := range ranked {
			resp.Results[i] = queryResult{
				ChunkID:       cand.Chunk.ID,
				DocumentID:    cand.Chunk.DocumentID,
				Content:       cand.Chunk.Content,
				ContextPrefix: cand.Chunk.ContextPrefix,
				SectionPath:   cand.Chunk.SectionPath,
				ContainsTable: cand.Chunk.ContainsTable,
				TableSummary:  cand.Chunk.TableSummary,
				Degraded:      cand.Chunk.Degraded,
				Metadata:      cand.Chunk.Metadata,
				LexicalScore:  cand.LexicalScore,
				VectorScore:   cand.VectorScore,
				FusedScore:    cand.FusedScore,
			}
		}

		if payload, err := json.Marshal(resp); err == nil {
			cache.StoreQueryResult(c.Request.Context(), query, payload)
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleReindex rebuilds the in-process retrieval indexes from Mongo and
// flushes the query cache. Used after bulk loads or on drift.
func HandleReindex(retriever *services.Retriever, cache *services.ChunkCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := retriever.Rehydrate(c.Request.Context())
		if err != nil {
			logger.Error("reindex failed", "error", err)
			utils.RespondWithInternalError(c, "Reindex failed", nil)
			return
		}
		cache.FlushQueryResults(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"indexed_chunks": count})
	}
}
