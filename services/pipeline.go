package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"medlit-rag/internal/logger"
	"medlit-rag/models"
)

// PipelineConfig bundles the knobs the ingestion pipeline runs with.
type PipelineConfig struct {
	Size           SizeConfig
	Separators     []Separator
	ContextTokens  int
	ContextEnabled bool

	// MaxConcurrent bounds in-flight model calls during enrichment.
	MaxConcurrent int

	// CallTimeout applies per external call, retries each get a fresh one.
	CallTimeout time.Duration

	// MaxRetries is the attempt count for transient model failures.
	MaxRetries int
}

// Pipeline runs a document through segmentation, assembly, table handling,
// contextual augmentation and embedding. Per-chunk enrichment failures
// degrade the affected chunk; only malformed input fails the document, and
// even that falls back to a single whole-text chunk.
type Pipeline struct {
	cfg       PipelineConfig
	assembler *Assembler
	tables    *TableHandler
	augmenter *ContextAugmenter
	embedder  Embedder
}

func NewPipeline(cfg PipelineConfig, embedder Embedder, gen TextGenerator) (*Pipeline, error) {
	if err := cfg.Size.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Separators) == 0 {
		cfg.Separators = DefaultSeparators()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	// Generation-backed components see a generator that retries transient
	// failures; their degradation fallbacks apply only after the retry
	// budget is exhausted.
	retryGen := &retryGenerator{gen: gen, attempts: cfg.MaxRetries, timeout: cfg.CallTimeout}
	return &Pipeline{
		cfg:       cfg,
		assembler: NewAssembler(cfg.Size),
		tables:    NewTableHandler(retryGen, cfg.Size),
		augmenter: NewContextAugmenter(retryGen, cfg.ContextTokens, cfg.ContextEnabled),
		embedder:  embedder,
	}, nil
}

// IngestDocument chunks and enriches one document, returning the ordered
// chunk sequence ready for indexing.
func (p *Pipeline) IngestDocument(ctx context.Context, doc *models.Document) ([]*models.Chunk, error) {
	tracer := otel.Tracer("ingest-pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.ingest_document")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.Int("document.bytes", len(doc.Text)),
		attribute.Int("document.elements", len(doc.Elements)),
	)

	boundaries := Segment(doc.Text, p.cfg.Separators)
	chunks, err := p.assembler.Assemble(doc, boundaries)
	if err != nil {
		var segErr *SegmentationError
		if !errors.As(err, &segErr) {
			return nil, err
		}
		// Malformed structure never loses the document: fall back to one
		// whole-text chunk flagged degraded.
		logger.Warn("segmentation failed, falling back to single chunk",
			"document_id", doc.ID, "reason", segErr.Reason)
		span.SetAttributes(attribute.Bool("pipeline.segmentation_fallback", true))
		chunks = []*models.Chunk{p.wholeTextChunk(doc)}
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	span.SetAttributes(attribute.Int("pipeline.chunks", len(chunks)))

	degraded := p.enrich(ctx, doc, chunks)
	if degraded > 0 {
		span.SetAttributes(attribute.Int("pipeline.degraded_chunks", degraded))
		logger.Warn("document processed with degraded chunks",
			"document_id", doc.ID, "degraded", degraded, "total", len(chunks))
	}

	return chunks, nil
}

// enrich runs table handling, context augmentation and embedding for every
// chunk under a bounded worker pool. Returns the degraded chunk count.
func (p *Pipeline) enrich(ctx context.Context, doc *models.Document, chunks []*models.Chunk) int {
	sem := make(chan struct{}, p.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, chunk *models.Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			p.enrichChunk(ctx, doc, chunks, i, chunk)
		}(i, chunk)
	}
	wg.Wait()

	degraded := 0
	for _, c := range chunks {
		if c.Degraded {
			degraded++
		}
	}
	return degraded
}

func (p *Pipeline) enrichChunk(ctx context.Context, doc *models.Document, chunks []*models.Chunk, i int, chunk *models.Chunk) {
	if chunk.ContainsTable {
		if table, ok := tableElementFor(doc, chunk); ok {
			if err := p.tables.Handle(ctx, chunk, table); err != nil {
				// Handle already applied the truncated-verbatim fallback.
				var tf *TableSummarizationFailure
				if !errors.As(err, &tf) {
					logger.Error("table handling failed", "chunk_id", chunk.ID, "error", err)
				}
			}
		}
	}

	var preceding *models.Chunk
	if i > 0 {
		preceding = chunks[i-1]
	}
	// Augment flags degradation itself; the error is informational.
	_ = p.augmenter.Augment(ctx, chunk, doc.Metadata, preceding)

	err := retryWithBackoff(ctx, p.cfg.MaxRetries, p.cfg.CallTimeout, func(callCtx context.Context) error {
		vec, err := p.embedder.Embed(callCtx, chunk.RetrievalText())
		if err != nil {
			return err
		}
		chunk.Embedding = vec
		return nil
	})
	if err != nil {
		// No vector means the chunk is reachable through lexical search only.
		chunk.Degraded = true
		logger.Error("embedding failed, chunk indexed lexically only",
			"chunk_id", chunk.ID, "error", err)
	}
}

// retryGenerator retries transient generation failures with per-attempt
// timeouts before the owning component falls back to its degraded state.
type retryGenerator struct {
	gen      TextGenerator
	attempts int
	timeout  time.Duration
}

func (r *retryGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var text string
	err := retryWithBackoff(ctx, r.attempts, r.timeout, func(callCtx context.Context) error {
		var genErr error
		text, genErr = r.gen.Generate(callCtx, prompt, maxTokens)
		return genErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// retryWithBackoff runs fn up to attempts times with a per-attempt timeout
// and exponential backoff between attempts; only the last error surfaces.
func retryWithBackoff(ctx context.Context, attempts int, timeout time.Duration, fn func(context.Context) error) error {
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt < attempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// wholeTextChunk is the segmentation fallback: the entire document as one
// degraded chunk.
func (p *Pipeline) wholeTextChunk(doc *models.Document) *models.Chunk {
	return &models.Chunk{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Order:      0,
		Content:    doc.Text,
		SizeTokens: models.EstimateTokens(doc.Text),
		Span:       models.Span{Start: 0, End: len(doc.Text)},
		Metadata:   doc.Metadata,
		Degraded:   true,
	}
}

// tableElementFor finds the table element a table chunk represents: the first
// table whose span lies inside the chunk. Inline tables that share the chunk
// with prose stay verbatim and need no handling.
func tableElementFor(doc *models.Document, chunk *models.Chunk) (models.StructuralElement, bool) {
	for _, el := range doc.Elements {
		if el.Type != models.ElementTable || el.IsEmptyTable() {
			continue
		}
		if el.Span.Start >= chunk.Span.Start && el.Span.End <= chunk.Span.End {
			// Only a chunk that is (almost) entirely the table gets the
			// verbatim-or-summarize treatment.
			if el.Span.Len()*2 >= chunk.Span.Len() {
				return el, true
			}
		}
	}
	return models.StructuralElement{}, false
}
