package chat

import (
	"strings"
	"testing"

	"ragchat/internal/persistence"
	"ragchat/internal/rag/retrieve"
)

func TestBuildMessages_FixedOrderAndModeFlavor(t *testing.T) {
	in := promptInputs{
		mode:       persistence.ModeLearning,
		confidence: retrieve.ConfidenceResult{Level: retrieve.ConfidenceHigh},
		topics:     "handbook.pdf:\n- onboarding\n",
		memories:   "Relevant memories from this session:\n- [FACT] works at Acme (importance: 0.8)\n",
		items: []retrieve.RetrievedItem{
			{DocID: "doc1", Text: "Acme was founded in 2010.", Metadata: map[string]string{"filename": "handbook.pdf", "breadcrumb": "Intro"}},
		},
		recentTurns: []persistence.ChatTurn{
			{Role: persistence.RoleUser, Content: "Hi"},
			{Role: persistence.RoleAssistant, Content: "Hello!"},
		},
		userText: "When was Acme founded?",
	}

	msgs := buildMessages(in)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (system + 2 recent + current), got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Fatalf("expected first message to be system, got %s", msgs[0].Role)
	}
	sys := msgs[0].Content
	for _, want := range []string{"LEARNING", "onboarding", "Acme", "DOCUMENT CONTEXT", "Section: Intro"} {
		if !strings.Contains(sys, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, sys)
		}
	}
	if strings.Contains(sys, hedgingInstruction) {
		t.Fatalf("expected no hedging instruction for HIGH confidence")
	}
	if msgs[len(msgs)-1].Content != in.userText {
		t.Fatalf("expected last message to be the current user text")
	}
}

func TestBuildMessages_LowConfidenceHedges(t *testing.T) {
	in := promptInputs{
		mode:       persistence.ModeExploring,
		confidence: retrieve.ConfidenceResult{Level: retrieve.ConfidenceLow},
		userText:   "anything?",
	}
	msgs := buildMessages(in)
	if !strings.Contains(msgs[0].Content, hedgingInstruction) {
		t.Fatalf("expected hedging instruction for LOW confidence")
	}
}

func TestBuildMessages_DropsOldestSummariesAndTurnsUnderBudget(t *testing.T) {
	in := promptInputs{
		mode: persistence.ModeExploring,
		summaries: []persistence.Summary{
			{Content: "old summary one"},
			{Content: "old summary two"},
		},
		recentTurns: []persistence.ChatTurn{
			{Role: persistence.RoleUser, Content: "first turn, fairly long content here"},
			{Role: persistence.RoleAssistant, Content: "second turn reply"},
		},
		userText: "current question",
		maxChars: 120,
	}
	msgs := buildMessages(in)
	// Budget is tight enough that at least the oldest summary must go, and
	// the current user message must always survive.
	if msgs[len(msgs)-1].Content != "current question" {
		t.Fatalf("current user message must never be dropped")
	}
	if strings.Contains(msgs[0].Content, "old summary one") {
		t.Fatalf("expected the oldest summary to be dropped under budget")
	}
	// The base system prompt alone exceeds 120 chars, so every recent turn
	// is dropped too: only the system and current user messages remain.
	if len(msgs) != 2 {
		t.Fatalf("expected oldest recent turns dropped (2 messages left), got %d", len(msgs))
	}
}

func TestCitationFor_MapsMetadata(t *testing.T) {
	item := retrieve.RetrievedItem{
		DocID:   "doc1",
		Text:    "excerpt text",
		Doc:     retrieve.DocumentMeta{Title: "Handbook"},
		Metadata: map[string]string{
			"filename":    "handbook.pdf",
			"breadcrumb":  "Intro > Overview",
			"chunk_index": "3",
			"image_ids":   "img1,img2",
		},
	}
	c := citationFor(item)
	if c.Source != "handbook.pdf" || c.DocumentID != "doc1" {
		t.Fatalf("unexpected citation: %+v", c)
	}
	if c.Page == nil || *c.Page != 3 {
		t.Fatalf("expected page 3, got %v", c.Page)
	}
	if len(c.ImageIDs) != 2 || c.ImageIDs[0] != "img1" {
		t.Fatalf("unexpected image ids: %v", c.ImageIDs)
	}
	if c.SectionBreadcrumb != "Intro > Overview" {
		t.Fatalf("unexpected breadcrumb: %q", c.SectionBreadcrumb)
	}
}

func TestUniqueOrderedDocIDs_DedupsPreservingFirstAppearance(t *testing.T) {
	items := []retrieve.RetrievedItem{
		{DocID: "a"}, {DocID: "b"}, {DocID: "a"}, {DocID: "c"},
	}
	ids := uniqueOrderedDocIDs(items)
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}
