// Package topicindex implements the topic index builder (C10): a mode-
// flavored listing of what a session's documents actually cover, used to
// steer follow-up suggestions toward material the corpus can answer.
package topicindex

import (
	"context"
	"fmt"
	"strings"

	"ragchat/internal/persistence"
)

const (
	exploringInstruction = "Restrict follow-up suggestions to the topics indexed above."
	researchInstruction  = "Focus analysis on the areas these documents actually cover."
	learningInstruction  = "Use this index to guide what topic to explore next."
)

// Build concatenates "fileName:\n- topic\n..." for every READY document in
// the session with at least one topic, then appends a mode-specific
// instruction. Returns "" iff no READY document has topics.
func Build(ctx context.Context, docs persistence.DocumentStore, sessionID string, mode persistence.Mode) (string, error) {
	all, err := docs.ListBySession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	hasTopics := false
	for _, d := range all {
		if d.Status != persistence.DocumentStatusReady || len(d.Topics) == 0 {
			continue
		}
		hasTopics = true
		fmt.Fprintf(&b, "%s:\n", d.Filename)
		for _, topic := range d.Topics {
			fmt.Fprintf(&b, "- %s\n", topic)
		}
	}
	if !hasTopics {
		return "", nil
	}

	b.WriteString(instructionForMode(mode))
	b.WriteString("\n")
	return b.String(), nil
}

func instructionForMode(mode persistence.Mode) string {
	switch mode {
	case persistence.ModeResearch:
		return researchInstruction
	case persistence.ModeLearning:
		return learningInstruction
	default:
		return exploringInstruction
	}
}
