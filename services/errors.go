package services

import "fmt"

// SegmentationError reports malformed input that prevents structure-aware
// chunking, e.g. table spans that overlap or fall outside the text. It is
// recovered locally: the pipeline falls back to whole-text-as-one-chunk.
type SegmentationError struct {
	DocumentID string
	Reason     string
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("segmentation failed for document %s: %s", e.DocumentID, e.Reason)
}

// TableSummarizationFailure reports that the external summarizer could not
// produce a summary for an oversized table. Recovered via truncated verbatim
// fallback plus a degraded-quality flag on the chunk.
type TableSummarizationFailure struct {
	ChunkID string
	Err     error
}

func (e *TableSummarizationFailure) Error() string {
	return fmt.Sprintf("table summarization failed for chunk %s: %v", e.ChunkID, e.Err)
}

func (e *TableSummarizationFailure) Unwrap() error { return e.Err }

// ContextGenerationFailure reports that context-prefix generation failed for
// a chunk. Recovered by proceeding with an empty prefix; never blocks
// ingestion.
type ContextGenerationFailure struct {
	ChunkID string
	Err     error
}

func (e *ContextGenerationFailure) Error() string {
	return fmt.Sprintf("context generation failed for chunk %s: %v", e.ChunkID, e.Err)
}

func (e *ContextGenerationFailure) Unwrap() error { return e.Err }
