package topicindex

import (
	"context"
	"strings"
	"testing"

	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
)

func TestBuild_EmptyWhenNoReadyDocumentHasTopics(t *testing.T) {
	docs := databases.NewMemoryDocumentStore()
	ctx := context.Background()
	doc, _ := docs.Create(ctx, persistence.Document{SessionID: "s1", Filename: "a.pdf"})
	_ = docs.UpdateStatus(ctx, doc.ID, persistence.DocumentStatusReady, "")

	out, err := Build(ctx, docs, "s1", persistence.ModeExploring)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestBuild_ConcatenatesTopicsAndAppendsModeInstruction(t *testing.T) {
	docs := databases.NewMemoryDocumentStore()
	ctx := context.Background()
	doc, _ := docs.Create(ctx, persistence.Document{SessionID: "s1", Filename: "handbook.pdf"})
	_ = docs.UpdateStatus(ctx, doc.ID, persistence.DocumentStatusReady, "")
	if err := docs.UpdateEnrichment(ctx, doc.ID, "summary", []string{"onboarding", "benefits"}, 3); err != nil {
		t.Fatalf("update enrichment: %v", err)
	}

	out, err := Build(ctx, docs, "s1", persistence.ModeResearch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "handbook.pdf:") || !strings.Contains(out, "- onboarding") || !strings.Contains(out, "- benefits") {
		t.Fatalf("missing expected topic listing: %q", out)
	}
	if !strings.Contains(out, researchInstruction) {
		t.Fatalf("expected research-mode instruction, got %q", out)
	}
}

func TestBuild_SkipsNonReadyDocuments(t *testing.T) {
	docs := databases.NewMemoryDocumentStore()
	ctx := context.Background()
	doc, _ := docs.Create(ctx, persistence.Document{SessionID: "s1", Filename: "draft.pdf"})
	_ = docs.UpdateEnrichment(ctx, doc.ID, "summary", []string{"x"}, 1)
	// Still PENDING: never transitioned to READY.

	out, err := Build(ctx, docs, "s1", persistence.ModeLearning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty output for non-ready document, got %q", out)
	}
}
