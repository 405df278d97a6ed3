package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CallJSON issues one non-streaming chat call asking the model to respond
// with a single JSON object matching the caller's shape, and decodes the
// response into out. Models occasionally wrap JSON in a markdown code fence
// even when told not to; stripJSONFence handles that before decoding.
func CallJSON(ctx context.Context, p Provider, model, system, user string, out any) error {
	msgs := []Message{
		{Role: "system", Content: system + "\n\nRespond with exactly one JSON object and nothing else: no prose, no markdown fence."},
		{Role: "user", Content: user},
	}
	resp, err := p.Chat(ctx, msgs, nil, model)
	if err != nil {
		return fmt.Errorf("llm: structured call: %w", err)
	}
	return json.Unmarshal([]byte(stripJSONFence(resp.Content)), out)
}

func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
