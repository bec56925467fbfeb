package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"medlit-rag/internal/logger"
	"medlit-rag/models"
)

// statsPattern detects statistical reporting inside table cells: p-values,
// confidence intervals, hazard/odds ratios.
var statsPattern = regexp.MustCompile(`(?i)\bp\s*[<=>]\s*0?\.\d+|\b95%\s*CI\b|\bconfidence interval\b|\bhazard ratio\b|\bodds ratio\b|\bIQR\b|\bSD\b`)

// tableTypeKeywords maps caption keywords to the table type tag attached to
// summaries. First match wins; tables with no recognizable caption are
// tagged "data".
var tableTypeKeywords = []struct {
	keyword string
	label   string
}{
	{"baseline", "baseline_characteristics"},
	{"demographic", "demographics"},
	{"characteristic", "baseline_characteristics"},
	{"outcome", "outcomes"},
	{"efficacy", "outcomes"},
	{"adverse", "adverse_events"},
	{"safety", "adverse_events"},
	{"dosage", "dosing"},
	{"dose", "dosing"},
	{"inclusion", "eligibility_criteria"},
	{"exclusion", "eligibility_criteria"},
}

// TableHandler decides, per extracted table, whether its cells stay verbatim
// in the retrieval text or are replaced by a generated summary.
type TableHandler struct {
	gen TextGenerator

	// thresholdTokens is the verbatim/summary cutover, derived from the base
	// chunk size.
	thresholdTokens int

	// maxTokens caps the truncated verbatim fallback when summarization
	// fails.
	maxTokens int

	// summaryBudget bounds the generated summary length.
	summaryBudget int
}

// NewTableHandler derives its thresholds from the chunk size budgets: tables
// that fit a base chunk stay verbatim, anything larger is summarized.
func NewTableHandler(gen TextGenerator, size SizeConfig) *TableHandler {
	return &TableHandler{
		gen:             gen,
		thresholdTokens: size.BaseChunkSize,
		maxTokens:       size.MaxChunkSize(),
		summaryBudget:   200,
	}
}

// Handle applies the verbatim-or-summarize decision to a table chunk. For a
// small table nothing changes. For an oversized one the chunk gains a
// TableSummary with structured tags; the raw cells remain reachable through
// the chunk's span but leave the retrieval representation. If the summarizer
// fails, the chunk keeps truncated verbatim text and is flagged degraded.
func (h *TableHandler) Handle(ctx context.Context, chunk *models.Chunk, table models.StructuralElement) error {
	if models.EstimateTokens(chunk.Content) <= h.thresholdTokens {
		return nil
	}

	summary, err := h.summarize(ctx, table, chunk.Content)
	if err != nil {
		chunk.TableFallback = truncateTokens(chunk.Content, h.maxTokens)
		chunk.Degraded = true
		logger.Warn("table summarization degraded to truncated verbatim",
			"chunk_id", chunk.ID, "error", err)
		return &TableSummarizationFailure{ChunkID: chunk.ID, Err: err}
	}

	chunk.TableSummary = summary
	return nil
}

func (h *TableHandler) summarize(ctx context.Context, table models.StructuralElement, rendered string) (*models.TableSummary, error) {
	prompt := buildTableSummaryPrompt(table, rendered)
	text, err := h.gen.Generate(ctx, prompt, h.summaryBudget)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("summarizer returned empty text")
	}

	return &models.TableSummary{
		Text:          text,
		TableType:     classifyTable(table.Caption),
		RowCount:      len(table.Rows),
		ColCount:      maxColumns(table.Rows),
		HasStatistics: statsPattern.MatchString(rendered),
	}, nil
}

func buildTableSummaryPrompt(table models.StructuralElement, rendered string) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following table from a medical publication in a few sentences. ")
	sb.WriteString("Preserve group names, sample sizes, effect estimates, and statistical values exactly as written.\n")
	if table.Caption != "" {
		fmt.Fprintf(&sb, "\nCaption: %s\n", table.Caption)
	}
	sb.WriteString("\nTable:\n")
	sb.WriteString(truncateTokens(rendered, 2000))
	sb.WriteString("\n\nSummary:")
	return sb.String()
}

func classifyTable(caption string) string {
	lower := strings.ToLower(caption)
	for _, kw := range tableTypeKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.label
		}
	}
	return "data"
}

func maxColumns(rows [][]string) int {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	return cols
}

// truncateTokens cuts text to roughly maxTokens estimated tokens at a word
// boundary.
func truncateTokens(text string, maxTokens int) string {
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !isSpace(text[cut-1]) {
		cut--
	}
	if cut == 0 {
		cut = limit
	}
	return strings.TrimRight(text[:cut], " \n\t\r")
}
