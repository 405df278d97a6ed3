package reformulate

import (
	"context"
	"encoding/json"
	"testing"

	"ragchat/internal/config"
	"ragchat/internal/llm"
	"ragchat/internal/persistence"
)

type stubChatStore struct {
	turns []persistence.ChatTurn
}

func (s *stubChatStore) AppendTurn(ctx context.Context, t persistence.ChatTurn) (persistence.ChatTurn, error) {
	return t, nil
}
func (s *stubChatStore) GetTurn(ctx context.Context, id string) (persistence.ChatTurn, error) {
	for _, t := range s.turns {
		if t.ID == id {
			return t, nil
		}
	}
	return persistence.ChatTurn{}, persistence.ErrNotFound
}
func (s *stubChatStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]persistence.ChatTurn, error) {
	if limit > 0 && limit < len(s.turns) {
		return s.turns[len(s.turns)-limit:], nil
	}
	return s.turns, nil
}
func (s *stubChatStore) MarkCompacted(ctx context.Context, ids []string) error { return nil }
func (s *stubChatStore) CreateSummary(ctx context.Context, sum persistence.Summary) (persistence.Summary, error) {
	return sum, nil
}
func (s *stubChatStore) ListSummaries(ctx context.Context, sessionID string) ([]persistence.Summary, error) {
	return nil, nil
}

type stubProvider struct {
	resp string
	err  error
}

func (p *stubProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	if p.err != nil {
		return llm.Message{}, p.err
	}
	return llm.Message{Role: "assistant", Content: p.resp}, nil
}
func (p *stubProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func TestReformulate_EmptyHistoryIsStandalone(t *testing.T) {
	r := &Reformulator{
		Chat:     &stubChatStore{},
		Provider: &stubProvider{},
		Cfg:      config.ReformulationConfig{Enabled: true, MinRecentMessages: 2},
	}
	res, err := r.Reformulate(context.Background(), "s1", "What is the capital of France?", persistence.ModeExploring)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Query != "What is the capital of France?" || res.IsFollowUp {
		t.Fatalf("expected standalone passthrough, got %+v", res)
	}
}

func TestReformulate_FollowUpExtractsAnchors(t *testing.T) {
	ctxJSON, _ := json.Marshal([]string{"doc-1"})
	turns := []persistence.ChatTurn{
		{ID: "t1", Role: persistence.RoleUser, Content: "What is the capital of France?"},
		{ID: "t2", Role: persistence.RoleAssistant, Content: "Paris.", RetrievedContextJSON: string(ctxJSON)},
	}
	resp := `{"needsReformulation":true,"isFollowUp":true,"query":"What is the population of Paris, the capital of France?","reasoning":"follow-up"}`
	r := &Reformulator{
		Chat:     &stubChatStore{turns: turns},
		Provider: &stubProvider{resp: resp},
		Cfg:      config.ReformulationConfig{Enabled: true, MinRecentMessages: 2, MaxQueryLength: 2000},
	}
	res, err := r.Reformulate(context.Background(), "s1", "And its population?", persistence.ModeExploring)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsFollowUp {
		t.Fatalf("expected follow-up, got %+v", res)
	}
	if len(res.AnchorDocIDs) != 1 || res.AnchorDocIDs[0] != "doc-1" {
		t.Fatalf("expected anchor [doc-1], got %v", res.AnchorDocIDs)
	}
}

func TestReformulate_LLMFailureFallsBackToOriginal(t *testing.T) {
	turns := []persistence.ChatTurn{
		{ID: "t1", Role: persistence.RoleUser, Content: "Tell me about Paris."},
		{ID: "t2", Role: persistence.RoleAssistant, Content: "Paris is the capital of France."},
	}
	r := &Reformulator{
		Chat:     &stubChatStore{turns: turns},
		Provider: &stubProvider{err: context.DeadlineExceeded},
		Cfg:      config.ReformulationConfig{Enabled: true, MinRecentMessages: 2},
	}
	res, err := r.Reformulate(context.Background(), "s1", "And its population?", persistence.ModeExploring)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Query != "And its population?" || res.IsFollowUp || len(res.AnchorDocIDs) != 0 {
		t.Fatalf("expected degraded passthrough, got %+v", res)
	}
}
