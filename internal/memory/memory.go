// Package memory implements the cross-session memory engine (C8): extracting
// durable facts/preferences/decisions from a chat exchange, deduplicating
// and pruning them per session, and retrieving the subset relevant to a new
// query blended with each memory's importance.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ragchat/internal/config"
	"ragchat/internal/llm"
	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
	"ragchat/internal/rag/embedder"
	"ragchat/internal/resilience"
)

const memoryInstructionPrefix = "Represent this statement for later retrieval: "

// Engine extracts, stores, and retrieves a session's long-term memories.
type Engine struct {
	Store    persistence.MemoryStore
	Search   databases.FullTextSearch
	Vector   databases.VectorStore
	Embedder embedder.Embedder
	Provider llm.Provider
	Model    string
	Cfg      config.MemoryConfig
	Breaker  *resilience.Breaker
}

type extractedMemory struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

type extractionResponse struct {
	Memories []extractedMemory `json:"memories"`
}

// ExtractAndSave runs C8's extraction pipeline for one completed exchange.
// Called fire-and-forget after a reply is persisted. An LLM failure yields
// no memories and a nil error; a storage failure is returned as an error,
// which the fire-and-forget caller discards.
func (e *Engine) ExtractAndSave(ctx context.Context, sessionID, userMsg, assistantMsg string, mode persistence.Mode) error {
	if !e.Cfg.Enabled {
		return nil
	}

	policy := resilience.Policy{
		Retry:   resilience.RetryPolicy{MaxAttempts: 2, BaseDelay: 0},
		Breaker: e.Breaker,
		Fallback: func(error) (any, error) {
			return extractionResponse{}, nil
		},
	}
	resp, err := resilience.Call(ctx, policy, func(ctx context.Context) (extractionResponse, error) {
		return e.callLLM(ctx, userMsg, assistantMsg)
	})
	if err != nil || len(resp.Memories) == 0 {
		return nil
	}

	threshold := e.Cfg.ExtractionThreshold
	if threshold <= 0 {
		threshold = 0.6
	}

	existing, err := e.Store.ListBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("memory: list session memories: %w", err)
	}

	for _, cand := range resp.Memories {
		if cand.Importance < threshold {
			continue
		}
		content := strings.TrimSpace(cand.Content)
		if content == "" {
			continue
		}
		if dup, ok := findDuplicate(existing, content); ok {
			bumped := dup.Importance + 0.1
			if bumped > 1.0 {
				bumped = 1.0
			}
			if err := e.Store.UpdateImportance(ctx, dup.ID, bumped); err != nil {
				return fmt.Errorf("memory: bump importance: %w", err)
			}
			continue
		}

		mem := persistence.Memory{
			SessionID:  sessionID,
			Type:       persistence.MemoryType(normalizeType(cand.Type)),
			Content:    content,
			Importance: cand.Importance,
		}
		mem, err := e.Store.Create(ctx, mem)
		if err != nil {
			return fmt.Errorf("memory: create: %w", err)
		}
		existing = append(existing, mem)

		if err := e.index(ctx, mem); err != nil {
			return fmt.Errorf("memory: index: %w", err)
		}
	}

	maxPerSession := e.Cfg.MaxPerSession
	if maxPerSession <= 0 {
		maxPerSession = 200
	}
	if err := e.Store.Prune(ctx, sessionID, maxPerSession); err != nil {
		return fmt.Errorf("memory: prune: %w", err)
	}
	return nil
}

// index embeds a memory's content and upserts it into both halves of the
// memory hybrid index (vector + BM25), tagged with filterable metadata.
func (e *Engine) index(ctx context.Context, mem persistence.Memory) error {
	meta := map[string]string{
		"session_id": mem.SessionID,
		"type":       string(mem.Type),
	}
	if e.Search != nil {
		if err := e.Search.Index(ctx, mem.ID, mem.Content, meta); err != nil {
			return err
		}
	}
	if e.Vector != nil && e.Embedder != nil {
		vecs, err := e.Embedder.EmbedBatch(ctx, []string{memoryInstructionPrefix + mem.Content})
		if err != nil {
			return err
		}
		if len(vecs) > 0 {
			if err := e.Vector.Upsert(ctx, mem.ID, vecs[0], meta); err != nil {
				return err
			}
		}
	}
	return nil
}

// findDuplicate compares normalized content against existing memories: exact
// match or either containing the other counts as a duplicate.
func findDuplicate(existing []persistence.Memory, content string) (persistence.Memory, bool) {
	n := normalize(content)
	for _, m := range existing {
		en := normalize(m.Content)
		if n == en || strings.Contains(n, en) || strings.Contains(en, n) {
			return m, true
		}
	}
	return persistence.Memory{}, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "preference":
		return string(persistence.MemoryPreference)
	case "decision":
		return string(persistence.MemoryDecision)
	default:
		return string(persistence.MemoryFact)
	}
}

func (e *Engine) callLLM(ctx context.Context, userMsg, assistantMsg string) (extractionResponse, error) {
	system := `You extract durable memories worth recalling in future conversations from one chat
exchange: facts, stated preferences, and decisions. Ignore anything only relevant to this single
exchange. Return JSON {"memories":[{"type":"fact"|"preference"|"decision","content":string,
"importance":number between 0 and 1}]}. Return an empty list if nothing is durable.`
	user := fmt.Sprintf("=== User ===\n%s\n\n=== Assistant ===\n%s\n", userMsg, assistantMsg)

	var resp extractionResponse
	if err := llm.CallJSON(ctx, e.Provider, e.Model, system, user, &resp); err != nil {
		return extractionResponse{}, err
	}
	return resp, nil
}

// RelevantMemory pairs a stored Memory with the hybrid score it scored for a
// given query, for callers that want the score alongside the content.
type RelevantMemory struct {
	persistence.Memory
	HybridScore float64
}

// GetRelevantMemories runs C8's retrieval: pool expansion, RRF fusion of
// vector + BM25 candidates, blend with importance, touch lastAccessedAt on
// the returned set.
func (e *Engine) GetRelevantMemories(ctx context.Context, sessionID, query string, limit int) ([]RelevantMemory, error) {
	if !e.Cfg.Enabled || limit <= 0 {
		return nil, nil
	}
	mult := e.Cfg.CandidatePoolMultiplier
	if mult <= 0 {
		mult = 3
	}
	poolSize := limit * mult

	byID, err := e.ListBySessionIndexed(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(byID) == 0 {
		return nil, nil
	}

	var ftRes []databases.SearchResult
	if e.Search != nil {
		ftRes, _ = e.Search.Search(ctx, query, poolSize)
	}
	var vecRes []databases.VectorResult
	if e.Vector != nil && e.Embedder != nil {
		vecs, err := e.Embedder.EmbedBatch(ctx, []string{memoryInstructionPrefix + query})
		if err == nil && len(vecs) > 0 {
			vecRes, _ = e.Vector.SimilaritySearch(ctx, vecs[0], poolSize, map[string]string{"session_id": sessionID})
		}
	}

	fused := rrfFuse(ftRes, vecRes, 60)
	if len(fused) == 0 {
		return nil, nil
	}
	maxScore := 0.0
	for _, s := range fused {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore == 0 {
		maxScore = 1
	}

	semanticWeight := e.Cfg.SemanticWeight
	if semanticWeight <= 0 {
		semanticWeight = 0.7
	}

	out := make([]RelevantMemory, 0, len(fused))
	for id, rel := range fused {
		mem, ok := byID[id]
		if !ok || mem.SessionID != sessionID {
			continue
		}
		normRel := rel / maxScore
		hybrid := semanticWeight*normRel + (1-semanticWeight)*mem.Importance
		out = append(out, RelevantMemory{Memory: mem, HybridScore: hybrid})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HybridScore > out[j].HybridScore })
	if len(out) > limit {
		out = out[:limit]
	}

	ids := make([]string, len(out))
	for i, m := range out {
		ids[i] = m.ID
	}
	_ = e.Store.Touch(ctx, ids)

	return out, nil
}

// ListBySessionIndexed returns the session's memories keyed by id, a lookup
// used to resolve fused candidate ids back to full Memory rows.
func (e *Engine) ListBySessionIndexed(ctx context.Context, sessionID string) (map[string]persistence.Memory, error) {
	mems, err := e.Store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]persistence.Memory, len(mems))
	for _, m := range mems {
		out[m.ID] = m
	}
	return out, nil
}

// rrfFuse combines BM25 and vector candidate rankings via Reciprocal Rank
// Fusion with a fixed k=60, returning a relevance score per id.
func rrfFuse(ft []databases.SearchResult, vec []databases.VectorResult, k int) map[string]float64 {
	out := make(map[string]float64, len(ft)+len(vec))
	for i, r := range ft {
		out[r.ID] += 1.0 / float64(k+i+1)
	}
	for i, r := range vec {
		out[r.ID] += 1.0 / float64(k+i+1)
	}
	return out
}

// BuildMemoryContext renders C8's fixed prompt block for a set of memories.
func BuildMemoryContext(memories []RelevantMemory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memories from this session:\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s] %s (importance: %.1f)\n", strings.ToUpper(string(m.Type)), m.Content, m.Importance)
	}
	return b.String()
}
