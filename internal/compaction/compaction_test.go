package compaction

import (
	"context"
	"strings"
	"testing"

	"ragchat/internal/config"
	"ragchat/internal/llm"
	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
)

type stubProvider struct{}

func (stubProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: "summary of the conversation"}, nil
}
func (stubProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func seedTurns(t *testing.T, chat persistence.ChatStore, sessionID string, n int, contentLen int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := persistence.RoleUser
		if i%2 == 1 {
			role = persistence.RoleAssistant
		}
		_, err := chat.AppendTurn(context.Background(), persistence.ChatTurn{
			SessionID: sessionID,
			Role:      role,
			Content:   strings.Repeat("word ", contentLen),
		})
		if err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}
}

func TestCompact_NoopBelowMinTurns(t *testing.T) {
	chat := databases.NewMemoryChatStore()
	seedTurns(t, chat, "s1", 2, 1000)
	c := &Compactor{Chat: chat, Provider: stubProvider{}, Cfg: config.CompactionConfig{MinTurns: 4}}

	if err := c.Compact(context.Background(), "s1", "claude-sonnet-4-5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	turns, _ := chat.ListTurns(context.Background(), "s1", 0)
	for _, turn := range turns {
		if turn.Compacted {
			t.Fatalf("expected no compaction below MinTurns")
		}
	}
}

func TestCompact_SummarizesOldestRunWhenOverThreshold(t *testing.T) {
	chat := databases.NewMemoryChatStore()
	// Each turn is ~500 words (~625 tokens); against the model's context
	// window this trivially exceeds the test's 0.1% threshold.
	seedTurns(t, chat, "s1", 10, 500)
	c := &Compactor{
		Chat:     chat,
		Provider: stubProvider{},
		Cfg:      config.CompactionConfig{ThresholdFraction: 0.001, TargetTokens: 10, MinTurns: 4},
	}

	if err := c.Compact(context.Background(), "s1", "claude-sonnet-4-5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turns, _ := chat.ListTurns(context.Background(), "s1", 0)
	compactedCount := 0
	for _, turn := range turns {
		if turn.Compacted {
			compactedCount++
		}
	}
	if compactedCount == 0 {
		t.Fatalf("expected at least one turn marked compacted")
	}

	summaries, err := chat.ListSummaries(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].TurnCount != compactedCount {
		t.Fatalf("summary turn count %d != compacted count %d", summaries[0].TurnCount, compactedCount)
	}
}

func TestApproxTokenizer_RoughlyFourCharsPerToken(t *testing.T) {
	tok := ApproxTokenizer{}
	if got := tok.Count("abcd"); got != 1 {
		t.Fatalf("expected 1 token for 4 chars, got %d", got)
	}
	if got := tok.Count("abcdefgh"); got != 2 {
		t.Fatalf("expected 2 tokens for 8 chars, got %d", got)
	}
}
