// Package compaction implements chat history compaction (C9): once a
// session's uncompacted turns exceed a fraction of the model's context
// window, the oldest contiguous run is summarized into a Summary row and
// marked compacted, keeping prompt assembly within budget indefinitely.
package compaction

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"ragchat/internal/config"
	"ragchat/internal/llm"
	"ragchat/internal/persistence"
)

// ApproxTokenizer estimates token count as roughly one token per four
// runes, the standard rough heuristic for English prose, following the
// documents.Tokenizer shape (Count(s string) int) without pulling in a
// model-specific BPE dependency this pack doesn't carry.
type ApproxTokenizer struct{}

func (ApproxTokenizer) Count(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

func (ApproxTokenizer) Name() string { return "approx-4char" }

// Compactor summarizes old chat turns once a session nears its context
// budget.
type Compactor struct {
	Chat      persistence.ChatStore
	Provider  llm.Provider
	Model     string
	Cfg       config.CompactionConfig
	Tokenizer interface{ Count(string) int }
}

// ShouldCompact reports whether the uncompacted-turn token sum for a model
// exceeds the configured threshold fraction of its context window.
func (c *Compactor) ShouldCompact(turns []persistence.ChatTurn, model string) bool {
	ctxSize, known := llm.ContextSize(model)
	if !known || ctxSize <= 0 {
		return false
	}
	threshold := c.Cfg.ThresholdFraction
	if threshold <= 0 {
		threshold = 0.8
	}
	sum := 0
	for _, t := range turns {
		if t.Compacted {
			continue
		}
		sum += c.tokenizer().Count(t.Content)
	}
	llm.RecordContextBudgetRatio(context.Background(), model, float64(sum)/float64(ctxSize))
	return float64(sum) >= threshold*float64(ctxSize)
}

// Compact runs C9 for a session: if uncompacted turns exceed the trigger,
// select the oldest contiguous run summing to at least TargetTokens,
// summarize it with the LLM, persist the Summary, and mark those turns
// compacted. No-op if fewer than MinTurns uncompacted turns are available.
func (c *Compactor) Compact(ctx context.Context, sessionID string, model string) error {
	turns, err := c.Chat.ListTurns(ctx, sessionID, 0)
	if err != nil {
		return fmt.Errorf("compaction: list turns: %w", err)
	}
	var uncompacted []persistence.ChatTurn
	for _, t := range turns {
		if !t.Compacted {
			uncompacted = append(uncompacted, t)
		}
	}
	minTurns := c.Cfg.MinTurns
	if minTurns <= 0 {
		minTurns = 4
	}
	if len(uncompacted) < minTurns {
		return nil
	}
	if !c.ShouldCompact(uncompacted, model) {
		return nil
	}

	targetTokens := c.Cfg.TargetTokens
	if targetTokens <= 0 {
		targetTokens = 2000
	}

	run := selectOldestRun(uncompacted, targetTokens, c.tokenizer())
	if len(run) == 0 {
		return nil
	}

	summaryText, err := c.summarize(ctx, run)
	if err != nil {
		return fmt.Errorf("compaction: summarize: %w", err)
	}

	ids := make([]string, len(run))
	for i, t := range run {
		ids[i] = t.ID
	}
	sum := persistence.Summary{
		SessionID:    sessionID,
		Content:      summaryText,
		CoversUpToID: run[len(run)-1].ID,
		TurnCount:    len(run),
	}
	if _, err := c.Chat.CreateSummary(ctx, sum); err != nil {
		return fmt.Errorf("compaction: create summary: %w", err)
	}
	if err := c.Chat.MarkCompacted(ctx, ids); err != nil {
		return fmt.Errorf("compaction: mark compacted: %w", err)
	}
	return nil
}

func (c *Compactor) tokenizer() interface{ Count(string) int } {
	if c.Tokenizer != nil {
		return c.Tokenizer
	}
	return ApproxTokenizer{}
}

// selectOldestRun walks turns oldest-first, accumulating a contiguous prefix
// until its token sum reaches target.
func selectOldestRun(turns []persistence.ChatTurn, target int, tok interface{ Count(string) int }) []persistence.ChatTurn {
	sum := 0
	i := 0
	for i < len(turns) && sum < target {
		sum += tok.Count(turns[i].Content)
		i++
	}
	return turns[:i]
}

func (c *Compactor) summarize(ctx context.Context, turns []persistence.ChatTurn) (string, error) {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(t.Role)), t.Content)
	}

	msgs := []llm.Message{
		{Role: "system", Content: "Summarize this chat transcript into a dense paragraph preserving facts, decisions, and open threads a future reply would need. No preamble."},
		{Role: "user", Content: b.String()},
	}
	resp, err := c.Provider.Chat(ctx, msgs, nil, c.Model)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
