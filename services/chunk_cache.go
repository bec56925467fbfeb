package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"medlit-rag/internal/logger"
	"medlit-rag/models"
)

const (
	chunkKeyPrefix = "chunks:"
	queryKeyPrefix = "query:"
)

// ChunkCache is the Redis layer in front of Mongo: per-document chunk records
// stored gzip-compressed, plus a short-lived query result cache. Every method
// degrades to a miss on Redis errors, the caller falls through to Mongo.
type ChunkCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewChunkCache(rdb *redis.Client, ttl time.Duration) *ChunkCache {
	return &ChunkCache{rdb: rdb, ttl: ttl}
}

// StoreChunks caches a document's chunk records.
func (c *ChunkCache) StoreChunks(ctx context.Context, documentID string, records []models.ChunkRecord) error {
	data, err := compressJSON(records)
	if err != nil {
		return fmt.Errorf("failed to compress chunks: %w", err)
	}
	if err := c.rdb.Set(ctx, chunkKeyPrefix+documentID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache chunks: %w", err)
	}
	logger.Debug("cached chunks", "document_id", documentID, "count", len(records), "bytes", len(data))
	return nil
}

// GetChunks returns the cached records for a document, or ok=false on a miss.
func (c *ChunkCache) GetChunks(ctx context.Context, documentID string) ([]models.ChunkRecord, bool) {
	data, err := c.rdb.Get(ctx, chunkKeyPrefix+documentID).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("chunk cache read failed", "document_id", documentID, "error", err)
		return nil, false
	}

	var records []models.ChunkRecord
	if err := decompressJSON(data, &records); err != nil {
		logger.Warn("chunk cache decode failed", "document_id", documentID, "error", err)
		return nil, false
	}
	return records, true
}

// InvalidateDocument drops the cached chunks for a document, used on
// re-ingestion.
func (c *ChunkCache) InvalidateDocument(ctx context.Context, documentID string) {
	if err := c.rdb.Del(ctx, chunkKeyPrefix+documentID).Err(); err != nil {
		logger.Warn("chunk cache invalidation failed", "document_id", documentID, "error", err)
	}
}

// StoreQueryResult caches a serialized query response keyed by the query
// text's hash.
func (c *ChunkCache) StoreQueryResult(ctx context.Context, query string, payload []byte) {
	if err := c.rdb.Set(ctx, queryKey(query), payload, c.ttl).Err(); err != nil {
		logger.Warn("query cache write failed", "error", err)
	}
}

// GetQueryResult returns a cached query response, or ok=false on a miss.
func (c *ChunkCache) GetQueryResult(ctx context.Context, query string) ([]byte, bool) {
	data, err := c.rdb.Get(ctx, queryKey(query)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("query cache read failed", "error", err)
		return nil, false
	}
	return data, true
}

// FlushQueryResults drops all cached query responses, used after reindexing.
func (c *ChunkCache) FlushQueryResults(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, queryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("query cache flush failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		logger.Warn("query cache scan failed", "error", err)
	}
}

func queryKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return queryKeyPrefix + hex.EncodeToString(sum[:])
}

func compressJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressJSON(data []byte, v any) error {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read from gzip reader: %w", err)
	}
	return json.Unmarshal(raw, v)
}
