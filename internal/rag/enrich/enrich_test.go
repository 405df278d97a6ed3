package enrich

import (
	"context"
	"testing"

	"ragchat/internal/config"
	"ragchat/internal/llm"
)

type stubProvider struct {
	resp string
}

func (p *stubProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: p.resp}, nil
}
func (p *stubProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

type failProvider struct{}

func (failProvider) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return llm.Message{}, context.DeadlineExceeded
}
func (failProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return nil
}

func TestAnalyzeDocument_ParsesSummaryAndTopics(t *testing.T) {
	e := &Enricher{Provider: &stubProvider{resp: `{"summary":"a summary","topics":["topic one","topic two"]}`}, Model: "m"}
	a := e.AnalyzeDocument(context.Background(), "doc.pdf", "full text of the document")
	if a.Summary != "a summary" || len(a.Topics) != 2 {
		t.Fatalf("unexpected analysis: %+v", a)
	}
}

func TestAnalyzeDocument_EmptyOnDoubleFailure(t *testing.T) {
	e := &Enricher{Provider: failProvider{}, Model: "m"}
	a := e.AnalyzeDocument(context.Background(), "doc.pdf", "text")
	if a.Summary != "" || a.Topics != nil {
		t.Fatalf("expected empty analysis on failure, got %+v", a)
	}
}

func TestEnrichChunks_DisabledSkipsLLM(t *testing.T) {
	e := &Enricher{Provider: failProvider{}, Model: "m", Cfg: config.ContextualChunkingConfig{Enabled: false}}
	out := e.EnrichChunks(context.Background(), "summary", []string{"chunk one", "chunk two"})
	if len(out) != 2 || out[0].ContextPrefix != "" || out[0].EnrichedContent != "chunk one" {
		t.Fatalf("expected passthrough when disabled, got %+v", out)
	}
}

func TestEnrichChunks_EnabledPrefixesContent(t *testing.T) {
	e := &Enricher{
		Provider: &stubProvider{resp: `{"prefix":"This chunk covers onboarding."}`},
		Model:    "m",
		Cfg:      config.ContextualChunkingConfig{Enabled: true, MaxSummaryChars: 400},
	}
	out := e.EnrichChunks(context.Background(), "summary", []string{"chunk one"})
	want := "This chunk covers onboarding.\n\nchunk one"
	if out[0].EnrichedContent != want {
		t.Fatalf("expected %q, got %q", want, out[0].EnrichedContent)
	}
}
