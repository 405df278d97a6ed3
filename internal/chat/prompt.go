package chat

import (
	"fmt"
	"strings"

	"ragchat/internal/llm"
	"ragchat/internal/persistence"
	"ragchat/internal/rag/retrieve"
)

const baseSystemPrompt = `You are a conversational assistant answering questions strictly from the
user's uploaded documents. Cite only what the retrieved context supports. When the context does not
answer the question, say so plainly instead of guessing.`

var modeFlavor = map[persistence.Mode]string{
	persistence.ModeExploring: "Mode: EXPLORING. Keep answers brief and suggest related topics worth exploring next.",
	persistence.ModeResearch:  "Mode: RESEARCH. Prioritize thoroughness and precise sourcing over brevity.",
	persistence.ModeLearning:  "Mode: LEARNING. Explain concepts step by step, building on what the documents cover.",
}

const hedgingInstruction = "The retrieved context has LOW confidence: hedge the answer and say the documents may not fully cover this."

// promptInputs bundles everything buildMessages needs to assemble one turn's
// fixed-order message list.
type promptInputs struct {
	mode        persistence.Mode
	confidence  retrieve.ConfidenceResult
	topics      string
	memories    string
	summaries   []persistence.Summary
	items       []retrieve.RetrievedItem
	recentTurns []persistence.ChatTurn
	userText    string
	maxChars    int
}

// buildMessages assembles the fixed-order message list: system (role +
// guard-rails + mode flavor + optional hedging + topics + memories +
// summaries + document context), then recent turns oldest-first, then the
// current user message. A global maxChars budget is enforced by dropping
// older summaries first, then the oldest recent turns, never the current
// message or the retrieved document context.
func buildMessages(in promptInputs) []llm.Message {
	system := buildSystemBlock(in)
	recent := in.recentTurns

	for in.maxChars > 0 && len(in.summaries) > 0 && systemLen(system, in, recent) > in.maxChars {
		in.summaries = in.summaries[1:]
		system = buildSystemBlock(in)
	}
	for in.maxChars > 0 && len(recent) > 0 && systemLen(system, in, recent) > in.maxChars {
		recent = recent[1:]
	}

	msgs := make([]llm.Message, 0, len(recent)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: system})
	for _, t := range recent {
		msgs = append(msgs, llm.Message{Role: roleForTurn(t.Role), Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: in.userText})
	return msgs
}

func systemLen(system string, in promptInputs, recent []persistence.ChatTurn) int {
	n := len(system) + len(in.userText)
	for _, t := range recent {
		n += len(t.Content)
	}
	return n
}

func roleForTurn(r persistence.TurnRole) string {
	if r == persistence.RoleAssistant {
		return "assistant"
	}
	return "user"
}

func buildSystemBlock(in promptInputs) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	b.WriteString("\n\n")
	if flavor, ok := modeFlavor[in.mode]; ok {
		b.WriteString(flavor)
		b.WriteString("\n\n")
	}
	if in.confidence.Level == retrieve.ConfidenceLow {
		b.WriteString(hedgingInstruction)
		b.WriteString("\n\n")
	}
	if in.topics != "" {
		b.WriteString(in.topics)
		b.WriteString("\n")
	}
	if in.memories != "" {
		b.WriteString(in.memories)
		b.WriteString("\n")
	}
	for _, s := range in.summaries {
		fmt.Fprintf(&b, "Earlier conversation summary: %s\n\n", s.Content)
	}
	b.WriteString(buildDocumentContext(in.items))
	return b.String()
}

func buildDocumentContext(items []retrieve.RetrievedItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("=== DOCUMENT CONTEXT ===\n")
	for i, item := range items {
		fileName := firstNonEmpty(item.Metadata["filename"], item.Doc.Title, item.DocID)
		docTitle := firstNonEmpty(item.Doc.Title, fileName)
		section := item.Metadata["breadcrumb"]
		if section != "" {
			fmt.Fprintf(&b, "[Source %d: %s — %s > Section: %s]\n", i+1, fileName, docTitle, section)
		} else {
			fmt.Fprintf(&b, "[Source %d: %s — %s]\n", i+1, fileName, docTitle)
		}
		text := item.Text
		if text == "" {
			text = item.Snippet
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String()
}
