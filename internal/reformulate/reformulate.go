// Package reformulate implements query reformulation (C7): classifying a
// user query as standalone or a follow-up to the immediately preceding
// exchange, rewriting it against chat history, and extracting the prior
// assistant turn's cited document ids as a source-anchoring hint.
package reformulate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ragchat/internal/config"
	"ragchat/internal/llm"
	"ragchat/internal/persistence"
	"ragchat/internal/resilience"
)

// Result is the outcome of reformulating one query.
type Result struct {
	Query        string
	IsFollowUp   bool
	AnchorDocIDs []string
	Reasoning    string
}

// HistorySearcher looks up prior turns semantically similar to a query,
// used to assemble the "Broader Conversation History" block. Optional: when
// nil, only the store-fetched recent turns are used.
type HistorySearcher interface {
	SearchTurns(ctx context.Context, sessionID, query string, limit int) ([]persistence.ChatTurn, error)
}

type llmResponse struct {
	NeedsReformulation bool   `json:"needsReformulation"`
	IsFollowUp         bool   `json:"isFollowUp"`
	Query              string `json:"query"`
	Reasoning          string `json:"reasoning"`
}

// Reformulator rewrites user queries against chat history.
type Reformulator struct {
	Chat     persistence.ChatStore
	History  HistorySearcher
	Provider llm.Provider
	Model    string
	Cfg      config.ReformulationConfig
	Breaker  *resilience.Breaker
}

// Reformulate implements C7's fetch -> classify -> validate -> anchor-extract
// pipeline. Any LLM failure (including an open circuit breaker) degrades to
// returning the original query as standalone with no anchors.
func (r *Reformulator) Reformulate(ctx context.Context, sessionID, userText string, mode persistence.Mode) (Result, error) {
	if !r.Cfg.Enabled {
		return Result{Query: userText}, nil
	}

	minRecent := r.Cfg.MinRecentMessages
	if minRecent <= 0 {
		minRecent = 2
	}
	recent, err := r.Chat.ListTurns(ctx, sessionID, minRecent)
	if err != nil {
		return Result{}, fmt.Errorf("reformulate: list recent turns: %w", err)
	}
	if len(recent) == 0 {
		// No history at all; standalone by definition.
		return Result{Query: userText}, nil
	}

	broader := r.broaderHistory(ctx, sessionID, userText, recent)

	policy := resilience.Policy{
		Retry:   resilience.RetryPolicy{MaxAttempts: 2, BaseDelay: 0},
		Breaker: r.Breaker,
		Fallback: func(error) (any, error) {
			return llmResponse{Query: userText}, nil
		},
	}
	resp, err := resilience.Call(ctx, policy, func(ctx context.Context) (llmResponse, error) {
		return r.callLLM(ctx, userText, recent, broader)
	})
	if err != nil {
		return Result{Query: userText}, nil
	}

	if !resp.NeedsReformulation {
		return Result{Query: userText, IsFollowUp: resp.IsFollowUp, Reasoning: resp.Reasoning}, nil
	}

	query := strings.TrimSpace(resp.Query)
	if query == "" {
		query = userText
	}
	maxLen := r.Cfg.MaxQueryLength
	if maxLen > 0 && len(query) > maxLen {
		query = query[:maxLen]
	}

	result := Result{Query: query, IsFollowUp: resp.IsFollowUp, Reasoning: resp.Reasoning}
	if resp.IsFollowUp {
		result.AnchorDocIDs = anchorDocIDsFromTurns(recent)
	}
	return result, nil
}

// broaderHistory pulls up to HistoryWindow semantically similar prior turns,
// deduplicated against the store-fetched recent turns by id.
func (r *Reformulator) broaderHistory(ctx context.Context, sessionID, query string, recent []persistence.ChatTurn) []persistence.ChatTurn {
	if r.History == nil || r.Cfg.HistoryWindow <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(recent))
	for _, t := range recent {
		seen[t.ID] = struct{}{}
	}
	found, err := r.History.SearchTurns(ctx, sessionID, query, r.Cfg.HistoryWindow)
	if err != nil {
		return nil
	}
	out := make([]persistence.ChatTurn, 0, len(found))
	for _, t := range found {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (r *Reformulator) callLLM(ctx context.Context, userText string, recent, broader []persistence.ChatTurn) (llmResponse, error) {
	system := `You classify and rewrite a user's follow-up chat message so it stands alone for document
retrieval. Return JSON {"needsReformulation":bool,"isFollowUp":bool,"query":string,"reasoning":string}.
needsReformulation is false when the message is already a standalone question. isFollowUp is true when
the message specifically continues the topic of the immediately preceding assistant response.`

	var b strings.Builder
	fmt.Fprintf(&b, "=== Most Recent Exchange ===\n%s\n\n", renderLastExchange(recent))
	if len(broader) > 0 {
		fmt.Fprintf(&b, "=== Broader Conversation History ===\n%s\n\n", renderTurns(broader))
	}
	fmt.Fprintf(&b, "=== Current Message ===\n%s\n", userText)

	var resp llmResponse
	if err := llm.CallJSON(ctx, r.Provider, r.Model, system, b.String(), &resp); err != nil {
		return llmResponse{}, err
	}
	return resp, nil
}

func renderLastExchange(recent []persistence.ChatTurn) string {
	n := len(recent)
	if n == 0 {
		return ""
	}
	start := n - 2
	if start < 0 {
		start = 0
	}
	return renderTurns(recent[start:])
}

func renderTurns(turns []persistence.ChatTurn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(t.Role)), t.Content)
	}
	return b.String()
}

// anchorDocIDsFromTurns scans turns most-recent-first for the last ASSISTANT
// turn carrying a retrievedContextJson payload and returns its ordered ids.
func anchorDocIDsFromTurns(turns []persistence.ChatTurn) []string {
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role != persistence.RoleAssistant || t.RetrievedContextJSON == "" {
			continue
		}
		var ids []string
		if err := json.Unmarshal([]byte(t.RetrievedContextJSON), &ids); err != nil {
			continue
		}
		return ids
	}
	return nil
}
