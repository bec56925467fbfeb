package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"medlit-rag/models"
)

// DocumentStore is the Mongo persistence layer. Documents hold the immutable
// source text and status; chunk records are the denormalized retrieval units
// both indexes hydrate from.
type DocumentStore struct {
	documents *mongo.Collection
	chunks    *mongo.Collection
}

func NewDocumentStore(client *mongo.Client, dbName string) *DocumentStore {
	db := client.Database(dbName)
	return &DocumentStore{
		documents: db.Collection("documents"),
		chunks:    db.Collection("chunks"),
	}
}

// InsertDocument stores a new document in pending state.
func (s *DocumentStore) InsertDocument(ctx context.Context, doc *models.Document) error {
	doc.Status = models.DocumentStatusPending
	_, err := s.documents.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument loads a document by id.
func (s *DocumentStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("document %s not found", id)
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &doc, nil
}

// UpdateStatus records a document's processing state transition.
func (s *DocumentStore) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := s.documents.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{
				"status":     status,
				"updated_at": time.Now(),
			},
		},
	)
	return err
}

// UpsertChunks replaces the stored chunk records for a document: existing
// records for the document are removed first so re-ingestion never leaves
// stale chunks behind, then the new set is written in one unordered bulk.
func (s *DocumentStore) UpsertChunks(ctx context.Context, documentID string, records []models.ChunkRecord) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID, "chunk_id": bson.M{"$nin": chunkIDs(records)}}); err != nil {
		return fmt.Errorf("failed to drop stale chunks: %w", err)
	}

	batch := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		batch = append(batch, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"chunk_id": r.ChunkID}).
			SetReplacement(r).
			SetUpsert(true))
	}
	if len(batch) == 0 {
		return nil
	}
	_, err := s.chunks.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

// LoadAllChunks streams every chunk record, used to hydrate the in-process
// indexes at startup and on reindex.
func (s *DocumentStore) LoadAllChunks(ctx context.Context) ([]models.ChunkRecord, error) {
	cursor, err := s.chunks.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "document_id", Value: 1}, {Key: "order", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.ChunkRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	return records, nil
}

// LoadChunksByIDs fetches the records for a candidate id set.
func (s *DocumentStore) LoadChunksByIDs(ctx context.Context, ids []string) ([]models.ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cursor, err := s.chunks.Find(ctx, bson.M{"chunk_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks by id: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.ChunkRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	return records, nil
}

// LoadChunksByDocument fetches a document's chunk records in order.
func (s *DocumentStore) LoadChunksByDocument(ctx context.Context, documentID string) ([]models.ChunkRecord, error) {
	cursor, err := s.chunks.Find(ctx, bson.M{"document_id": documentID}, options.Find().SetSort(bson.D{{Key: "order", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to load document chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.ChunkRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	return records, nil
}

func chunkIDs(records []models.ChunkRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ChunkID
	}
	return ids
}
