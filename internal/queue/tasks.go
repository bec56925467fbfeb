package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"medlit-rag/internal/logger"
	"medlit-rag/models"
	"medlit-rag/services"
)

const (
	TaskIngestDocument = "document:ingest"
	TaskWarmCache      = "cache:warm"
)

type IngestPayload struct {
	DocumentID string `json:"document_id"`
}

// Task creators
func NewIngestTask(documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewWarmCacheTask() *asynq.Task {
	return asynq.NewTask(
		TaskWarmCache,
		nil,
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("low"),
	)
}

// TaskProcessor handles queued ingestion work in the worker binary.
type TaskProcessor struct {
	store    *services.DocumentStore
	pipeline *services.Pipeline
	cache    *services.ChunkCache
}

func NewTaskProcessor(store *services.DocumentStore, pipeline *services.Pipeline, cache *services.ChunkCache) *TaskProcessor {
	return &TaskProcessor{
		store:    store,
		pipeline: pipeline,
		cache:    cache,
	}
}

// HandleIngest runs the full ingestion pipeline for one document: load,
// chunk, enrich, persist chunk records, refresh the cache.
func (p *TaskProcessor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("ingesting document", "document_id", payload.DocumentID)

	doc, err := p.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		// A missing document will not appear on retry.
		logger.Error("document lookup failed", "document_id", payload.DocumentID, "error", err)
		return asynq.SkipRetry
	}

	if err := p.store.UpdateStatus(ctx, doc.ID, models.DocumentStatusProcessing); err != nil {
		return err
	}

	chunks, err := p.pipeline.IngestDocument(ctx, doc)
	if err != nil {
		_ = p.store.UpdateStatus(ctx, doc.ID, models.DocumentStatusFailed)
		return err
	}

	records := make([]models.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = models.NewChunkRecord(c)
	}

	if err := p.store.UpsertChunks(ctx, doc.ID, records); err != nil {
		_ = p.store.UpdateStatus(ctx, doc.ID, models.DocumentStatusFailed)
		return err
	}

	if p.cache != nil {
		p.cache.InvalidateDocument(ctx, doc.ID)
		if err := p.cache.StoreChunks(ctx, doc.ID, records); err != nil {
			logger.Warn("chunk cache refresh failed", "document_id", doc.ID, "error", err)
		}
		p.cache.FlushQueryResults(ctx)
	}

	if err := p.store.UpdateStatus(ctx, doc.ID, models.DocumentStatusCompleted); err != nil {
		return err
	}

	logger.Info("document ingested", "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

// HandleWarmCache refreshes the per-document chunk caches from Mongo. Runs on
// the low-priority queue so it never delays ingestion.
func (p *TaskProcessor) HandleWarmCache(ctx context.Context, t *asynq.Task) error {
	if p.cache == nil {
		return nil
	}

	records, err := p.store.LoadAllChunks(ctx)
	if err != nil {
		return err
	}

	byDocument := make(map[string][]models.ChunkRecord)
	for _, r := range records {
		byDocument[r.DocumentID] = append(byDocument[r.DocumentID], r)
	}
	for docID, recs := range byDocument {
		if err := p.cache.StoreChunks(ctx, docID, recs); err != nil {
			logger.Warn("cache warm failed for document", "document_id", docID, "error", err)
		}
	}

	logger.Info("chunk caches warmed", "documents", len(byDocument), "chunks", len(records))
	return nil
}
