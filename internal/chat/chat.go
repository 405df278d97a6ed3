// Package chat implements the chat orchestrator (C11): reformulate, search,
// score confidence, assemble a bounded prompt from memories/topics/summaries/
// history/document context, stream the reply, persist both turns, and
// schedule the memory-extraction and compaction side effects.
package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"ragchat/internal/compaction"
	"ragchat/internal/config"
	"ragchat/internal/llm"
	"ragchat/internal/memory"
	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
	"ragchat/internal/rag/retrieve"
	"ragchat/internal/reformulate"
	"ragchat/internal/topicindex"
)

// EventKind distinguishes the four event types streamChat can emit.
type EventKind string

const (
	EventToken    EventKind = "token"
	EventCitation EventKind = "citation"
	EventDone     EventKind = "done"
	EventError    EventKind = "error"
)

// Event is one item in the ordered token*citation*done|error sequence.
type Event struct {
	Kind     EventKind
	Token    string
	Citation *Citation
	Done     *Done
	Error    *ErrorInfo
}

// Citation describes one retrieved chunk backing the reply.
type Citation struct {
	Source            string   `json:"source"`
	Page              *int     `json:"page,omitempty"`
	Text              string   `json:"text"`
	SectionBreadcrumb string   `json:"sectionBreadcrumb,omitempty"`
	ImageIDs          []string `json:"imageIds,omitempty"`
	DocumentID        string   `json:"documentId"`
}

// Done reports token accounting for the completed turn.
type Done struct {
	MessageID        string `json:"messageId"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
}

// ErrorInfo is emitted once on a mid-stream failure; the turn is still
// persisted with whatever partial assistant text had streamed so far.
type ErrorInfo struct {
	ErrorID string `json:"errorId"`
	Message string `json:"message"`
}

// Orchestrator wires every component C11 calls.
type Orchestrator struct {
	Sessions     persistence.SessionStore
	Chat         persistence.ChatStore
	Documents    persistence.DocumentStore
	Reformulator *reformulate.Reformulator
	Retrieve     retrieve.Backends
	RetrievalCfg config.RetrievalConfig
	RerankerCfg  config.RerankerConfig
	Memory       *memory.Engine
	Compactor    *compaction.Compactor
	ChatSearch   databases.FullTextSearch
	Provider     llm.Provider
	Cfg          config.ChatConfig
}

// StreamChat runs one full C11 turn, invoking emit for every event in order.
// It always returns nil: stream-time failures are reported as an error event,
// never as a Go error, since the caller has already committed to the HTTP
// response by the time streaming starts.
func (o *Orchestrator) StreamChat(ctx context.Context, sessionID, userText string, emit func(Event)) error {
	sess, err := o.Sessions.Get(ctx, sessionID)
	if err != nil {
		emit(Event{Kind: EventError, Error: &ErrorInfo{ErrorID: "SESSION_001", Message: "session not found"}})
		return nil
	}
	mode := sess.Mode

	reformulated, err := o.Reformulator.Reformulate(ctx, sessionID, userText, mode)
	if err != nil {
		reformulated = reformulate.Result{Query: userText}
	}

	opt := retrieve.RetrieveOptions{
		SessionID:      sessionID,
		Mode:           mode,
		IncludeText:    true,
		IncludeSnippet: true,
		Diversify:      true,
		Rerank:         true,
	}
	if reformulated.IsFollowUp && o.RetrievalCfg.SourceAnchoringEnabled && len(reformulated.AnchorDocIDs) > 0 {
		opt.AnchorDocIDs = reformulated.AnchorDocIDs
	}

	search, err := retrieve.SearchWithDetails(ctx, o.Retrieve, reformulated.Query, opt, o.RetrievalCfg, o.RerankerCfg)
	if err != nil {
		emit(Event{Kind: EventError, Error: &ErrorInfo{ErrorID: "SEARCH_001", Message: "search failed"}})
		return nil
	}

	memories, topics, summaries, recentTurns := o.gatherContext(ctx, sessionID, reformulated.Query, mode)

	userTurn, err := o.Chat.AppendTurn(ctx, persistence.ChatTurn{
		SessionID: sessionID,
		Role:      persistence.RoleUser,
		Content:   userText,
		ModeUsed:  mode,
	})
	if err != nil {
		emit(Event{Kind: EventError, Error: &ErrorInfo{ErrorID: "INTERNAL_001", Message: "failed to persist message"}})
		return nil
	}
	o.indexTurn(ctx, sessionID, userTurn)

	messages := buildMessages(promptInputs{
		mode:        mode,
		confidence:  search.Confidence,
		topics:      topics,
		memories:    memory.BuildMemoryContext(memories),
		summaries:   summaries,
		items:       search.Items,
		recentTurns: recentTurns,
		userText:    userText,
		maxChars:    o.Cfg.MaxPromptChars,
	})

	var assistantText strings.Builder
	streamErr := o.Provider.ChatStream(ctx, messages, nil, o.Cfg.Model, &tokenHandler{
		onDelta: func(s string) {
			assistantText.WriteString(s)
			emit(Event{Kind: EventToken, Token: s})
		},
	})

	docIDs := uniqueOrderedDocIDs(search.Items)
	for _, item := range search.Items {
		emit(Event{Kind: EventCitation, Citation: citationFor(item)})
	}

	retrievedJSON, _ := json.Marshal(docIDs)
	assistantTurn, err := o.Chat.AppendTurn(ctx, persistence.ChatTurn{
		SessionID:            sessionID,
		Role:                 persistence.RoleAssistant,
		Content:              assistantText.String(),
		ModeUsed:             mode,
		RetrievedContextJSON: string(retrievedJSON),
		Confidence:           string(search.Confidence.Level),
	})
	switch {
	case streamErr != nil:
		emit(Event{Kind: EventError, Error: &ErrorInfo{ErrorID: "LLM_002", Message: "generation failed"}})
	case err != nil:
		emit(Event{Kind: EventError, Error: &ErrorInfo{ErrorID: "INTERNAL_001", Message: "failed to persist message"}})
	default:
		emit(Event{Kind: EventDone, Done: &Done{
			MessageID:        assistantTurn.ID,
			PromptTokens:     approxTokens(messages),
			CompletionTokens: approxTokenCount(assistantText.String()),
		}})
	}
	if err == nil {
		o.indexTurn(ctx, sessionID, assistantTurn)
	}

	go o.sideEffects(sessionID, userTurn.Content, assistantText.String(), mode)
	return nil
}

// indexTurn makes a persisted turn findable by the history reformulator (C7).
// Best-effort: a missed index entry only narrows future follow-up search, it
// never breaks the turn that's already been saved.
func (o *Orchestrator) indexTurn(ctx context.Context, sessionID string, turn persistence.ChatTurn) {
	if o.ChatSearch == nil || turn.Content == "" {
		return
	}
	_ = o.ChatSearch.Index(ctx, turn.ID, turn.Content, map[string]string{"session_id": sessionID})
}

// sideEffects runs C8 extraction and, when over threshold, C9 compaction.
// Fire-and-forget: errors here can't affect a reply already sent.
func (o *Orchestrator) sideEffects(sessionID, userText, assistantText string, mode persistence.Mode) {
	ctx := context.Background()
	if o.Memory != nil {
		_ = o.Memory.ExtractAndSave(ctx, sessionID, userText, assistantText, mode)
	}
	if o.Compactor != nil {
		_ = o.Compactor.Compact(ctx, sessionID, o.Cfg.Model)
	}
}

func (o *Orchestrator) gatherContext(ctx context.Context, sessionID, query string, mode persistence.Mode) ([]memory.RelevantMemory, string, []persistence.Summary, []persistence.ChatTurn) {
	memCh := make(chan []memory.RelevantMemory, 1)
	topicsCh := make(chan string, 1)
	summariesCh := make(chan []persistence.Summary, 1)
	turnsCh := make(chan []persistence.ChatTurn, 1)

	go func() {
		if o.Memory == nil {
			memCh <- nil
			return
		}
		mems, _ := o.Memory.GetRelevantMemories(ctx, sessionID, query, 10)
		memCh <- mems
	}()
	go func() {
		t, _ := topicindex.Build(ctx, o.Documents, sessionID, mode)
		topicsCh <- t
	}()
	go func() {
		n := o.Cfg.SummaryCount
		if n <= 0 {
			n = 5
		}
		s, _ := o.Chat.ListSummaries(ctx, sessionID)
		if len(s) > n {
			s = s[len(s)-n:]
		}
		summariesCh <- s
	}()
	go func() {
		n := o.Cfg.RecentTurnCount
		if n <= 0 {
			n = 10
		}
		turns, _ := o.Chat.ListTurns(ctx, sessionID, n*2)
		var uncompacted []persistence.ChatTurn
		for _, t := range turns {
			if !t.Compacted {
				uncompacted = append(uncompacted, t)
			}
		}
		if len(uncompacted) > n {
			uncompacted = uncompacted[len(uncompacted)-n:]
		}
		turnsCh <- uncompacted
	}()

	return <-memCh, <-topicsCh, <-summariesCh, <-turnsCh
}

type tokenHandler struct {
	onDelta func(string)
}

func (h *tokenHandler) OnDelta(content string)      { h.onDelta(content) }
func (h *tokenHandler) OnToolCall(llm.ToolCall)     {}
func (h *tokenHandler) OnImage(llm.GeneratedImage)  {}
func (h *tokenHandler) OnThoughtSummary(string)     {}
func (h *tokenHandler) OnThoughtSignature(string)   {}

func citationFor(item retrieve.RetrievedItem) *Citation {
	meta := item.Metadata
	var page *int
	if idx, ok := meta["chunk_index"]; ok {
		if n, err := strconv.Atoi(idx); err == nil {
			page = &n
		}
	}
	var imageIDs []string
	if raw, ok := meta["image_ids"]; ok && raw != "" {
		imageIDs = strings.Split(raw, ",")
	}
	text := item.Snippet
	if text == "" {
		text = item.Text
	}
	return &Citation{
		Source:            firstNonEmpty(meta["filename"], item.Doc.Title),
		Page:              page,
		Text:              text,
		SectionBreadcrumb: meta["breadcrumb"],
		ImageIDs:          imageIDs,
		DocumentID:        item.DocID,
	}
}

func uniqueOrderedDocIDs(items []retrieve.RetrievedItem) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.DocID]; ok || item.DocID == "" {
			continue
		}
		seen[item.DocID] = struct{}{}
		out = append(out, item.DocID)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func approxTokens(msgs []llm.Message) int {
	sum := 0
	for _, m := range msgs {
		sum += approxTokenCount(m.Content)
	}
	return sum
}

func approxTokenCount(s string) int {
	return (len(s) + 3) / 4
}
