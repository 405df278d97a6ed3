package memory

import (
	"context"
	"testing"

	"ragchat/internal/config"
	"ragchat/internal/llm"
	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
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

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}
func (stubEmbedder) Name() string              { return "stub" }
func (stubEmbedder) Dimension() int            { return 3 }
func (stubEmbedder) Ping(context.Context) error { return nil }

func newEngine(t *testing.T, resp string) *Engine {
	t.Helper()
	store := databases.NewMemoryMemoryStore()
	search, err := databases.NewBleveSearch("")
	if err != nil {
		t.Fatalf("open bleve: %v", err)
	}
	return &Engine{
		Store:    store,
		Search:   search,
		Vector:   databases.NewMemoryVector(),
		Embedder: stubEmbedder{},
		Provider: &stubProvider{resp: resp},
		Cfg:      config.MemoryConfig{Enabled: true, ExtractionThreshold: 0.6, MaxPerSession: 200, SemanticWeight: 0.7, CandidatePoolMultiplier: 3},
	}
}

func TestExtractAndSave_StoresAboveThreshold(t *testing.T) {
	resp := `{"memories":[
		{"type":"fact","content":"User works at Acme Corp","importance":0.8},
		{"type":"preference","content":"Prefers terse answers","importance":0.5}
	]}`
	e := newEngine(t, resp)

	if err := e.ExtractAndSave(context.Background(), "s1", "I work at Acme Corp", "Noted.", persistence.ModeExploring); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mems, err := e.Store.ListBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mems) != 1 {
		t.Fatalf("expected 1 memory above threshold, got %d: %+v", len(mems), mems)
	}
	if mems[0].Content != "User works at Acme Corp" {
		t.Fatalf("unexpected content: %q", mems[0].Content)
	}
}

func TestExtractAndSave_DedupBumpsImportance(t *testing.T) {
	resp := `{"memories":[{"type":"fact","content":"User works at Acme Corp","importance":0.8}]}`
	e := newEngine(t, resp)
	ctx := context.Background()

	if err := e.ExtractAndSave(ctx, "s1", "", "", persistence.ModeExploring); err != nil {
		t.Fatalf("first extract: %v", err)
	}
	if err := e.ExtractAndSave(ctx, "s1", "", "", persistence.ModeExploring); err != nil {
		t.Fatalf("second extract: %v", err)
	}

	mems, _ := e.Store.ListBySession(ctx, "s1")
	if len(mems) != 1 {
		t.Fatalf("expected dedup to keep exactly 1 memory, got %d", len(mems))
	}
	if mems[0].Importance < 0.89 || mems[0].Importance > 0.91 {
		t.Fatalf("expected importance bumped to ~0.9, got %v", mems[0].Importance)
	}
}

func TestGetRelevantMemories_BlendsImportance(t *testing.T) {
	e := newEngine(t, "")
	ctx := context.Background()

	mem, err := e.Store.Create(ctx, persistence.Memory{SessionID: "s1", Type: persistence.MemoryFact, Content: "likes dogs", Importance: 0.9})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.index(ctx, mem); err != nil {
		t.Fatalf("index: %v", err)
	}

	results, err := e.GetRelevantMemories(ctx, "s1", "dogs", 5)
	if err != nil {
		t.Fatalf("get relevant: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].HybridScore <= 0 {
		t.Fatalf("expected positive hybrid score, got %v", results[0].HybridScore)
	}
}

func TestBuildMemoryContext_EmptyWhenNoMemories(t *testing.T) {
	if got := BuildMemoryContext(nil); got != "" {
		t.Fatalf("expected empty block, got %q", got)
	}
}
