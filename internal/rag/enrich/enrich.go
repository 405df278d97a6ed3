// Package enrich implements the document enricher (C3): one structured LLM
// call summarizing a document and listing its topics, and a per-chunk
// contextual prefix that situates each chunk's text before embedding.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"ragchat/internal/config"
	"ragchat/internal/llm"
)

const (
	analyzeMaxChars = 12000
)

// Analysis is the outcome of analyzeDocument: a document summary and its
// topic list, or both empty when every LLM attempt failed.
type Analysis struct {
	Summary string
	Topics  []string
}

type analyzeResponse struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

type summaryOnlyResponse struct {
	Summary string `json:"summary"`
}

// Enricher wraps an LLM provider for C3's document analysis and per-chunk
// prefix generation.
type Enricher struct {
	Provider llm.Provider
	Model    string
	Cfg      config.ContextualChunkingConfig
}

// AnalyzeDocument truncates fullText to analyzeMaxChars and asks for a
// {summary, topics} structured response. On failure it retries with a
// summary-only call; on a second failure it returns an empty Analysis.
func (e *Enricher) AnalyzeDocument(ctx context.Context, fileName, fullText string) Analysis {
	text := fullText
	if len(text) > analyzeMaxChars {
		text = text[:analyzeMaxChars]
	}

	system := `You analyze a document and produce a structured summary for a retrieval system.
Return JSON {"summary":string,"topics":[string,...]}. summary is roughly 800-1000 words capturing the
document's content and structure. topics is 5 to 15 entries, each 20-40 words, naming a distinct topic
the document covers in enough detail to match a user's question about it.`
	user := fmt.Sprintf("Document: %s\n\n%s", fileName, text)

	var resp analyzeResponse
	if err := llm.CallJSON(ctx, e.Provider, e.Model, system, user, &resp); err == nil {
		return Analysis{Summary: resp.Summary, Topics: resp.Topics}
	}

	var fallback summaryOnlyResponse
	summarySystem := `Summarize this document in roughly 800-1000 words. Return JSON {"summary":string}.`
	if err := llm.CallJSON(ctx, e.Provider, e.Model, summarySystem, user, &fallback); err == nil {
		return Analysis{Summary: fallback.Summary}
	}

	return Analysis{}
}

// GeneratePrefix asks for a 1-2 sentence prefix, starting with "This chunk"
// or "This section", situating chunkContent within the document's summary.
// Returns "" on LLM failure; the caller leaves the chunk unprefixed.
func (e *Enricher) GeneratePrefix(ctx context.Context, summary, chunkContent string) string {
	summaryText := summary
	if e.Cfg.MaxSummaryChars > 0 && len(summaryText) > e.Cfg.MaxSummaryChars {
		summaryText = summaryText[:e.Cfg.MaxSummaryChars]
	}

	system := `Write a 1-2 sentence prefix situating a document chunk within its document's summary, for
a retrieval system. Start with "This chunk" or "This section". Return JSON {"prefix":string}.`
	user := fmt.Sprintf("Document summary:\n%s\n\nChunk:\n%s", summaryText, chunkContent)

	var resp struct {
		Prefix string `json:"prefix"`
	}
	if err := llm.CallJSON(ctx, e.Provider, e.Model, system, user, &resp); err != nil {
		return ""
	}
	return strings.TrimSpace(resp.Prefix)
}

// EnrichedChunk pairs a chunk's contextual prefix with its embed-ready text
// (prefix + "\n\n" + content when a prefix was generated, else the raw
// content), per the enrichedContent invariant.
type EnrichedChunk struct {
	ContextPrefix   string
	EnrichedContent string
}

// EnrichChunks generates a contextual prefix per chunk when contextual
// chunking is enabled and returns each chunk's embeddable text in a new
// slice parallel to chunkContents; the input is not modified. Disabled via
// config: returns raw content unprefixed, skipping the LLM entirely.
func (e *Enricher) EnrichChunks(ctx context.Context, summary string, chunkContents []string) []EnrichedChunk {
	out := make([]EnrichedChunk, len(chunkContents))
	if !e.Cfg.Enabled {
		for i, c := range chunkContents {
			out[i] = EnrichedChunk{EnrichedContent: c}
		}
		return out
	}
	for i, c := range chunkContents {
		prefix := e.GeneratePrefix(ctx, summary, c)
		if prefix == "" {
			out[i] = EnrichedChunk{EnrichedContent: c}
			continue
		}
		out[i] = EnrichedChunk{ContextPrefix: prefix, EnrichedContent: prefix + "\n\n" + c}
	}
	return out
}
