package llm

import "os"

// ContextSize returns an approximate context window (in tokens) for the given
// Anthropic model name.
//
// It uses a small built-in table of Claude model families and then consults
// environment-variable overrides for pinned snapshot IDs or self-hosted
// deployments fronted by a compatible API. The bool indicates whether the
// value came from a known mapping or explicit override (true) versus a
// conservative default fallback (false). The compactor uses this to decide
// when a chat transcript is approaching the model's window and needs
// summarizing.
func ContextSize(model string) (tokens int, known bool) {
	if model == "" {
		return 0, false
	}

	// Per-model override takes precedence, so a pinned snapshot or a
	// self-hosted model behind the same API can be budgeted correctly.
	if v, ok := lookupContextOverride(model); ok && v > 0 {
		return v, true
	}

	if size, ok := knownContextWindows[model]; ok {
		return size, true
	}
	for prefix, size := range knownContextWindows {
		if hasModelPrefix(model, prefix) {
			return size, true
		}
	}

	// Global override used as a catch-all for unknown models.
	if v, ok := lookupContextOverride("*"); ok && v > 0 {
		return v, true
	}

	// Conservative default when we know nothing.
	return 32_000, false
}

// knownContextWindows holds approximate context sizes for Claude model
// families, keyed by both the published alias and the dated snapshot IDs.
// Values are intentionally approximate; they are used only for compaction
// budgeting, not for provider feature gating.
var knownContextWindows = map[string]int{
	"claude-opus-4-5":   200_000,
	"claude-sonnet-4-5": 200_000,
	"claude-haiku-4-5":  200_000,

	"claude-opus-4-5-20251101":   200_000,
	"claude-sonnet-4-5-20250929": 200_000,
	"claude-haiku-4-5-20251001":  200_000,

	"claude-3-7-sonnet-latest": 200_000,
	"claude-3-5-sonnet":        200_000,
	"claude-3-5-haiku":         200_000,
	"claude-3-opus":            200_000,
	"claude-3-sonnet":          200_000,
	"claude-3-haiku":           200_000,
}

// lookupContextOverride checks for environment overrides.
//
// For a named model only MODEL_<SANITIZED_NAME>_CONTEXT_TOKENS is consulted.
// When model == "*", only the global catch-all RAGCHAT_CONTEXT_WINDOW_TOKENS
// is consulted; ContextSize asks for it after the built-in table misses.
func lookupContextOverride(model string) (int, bool) {
	if model == "*" {
		if v := os.Getenv("RAGCHAT_CONTEXT_WINDOW_TOKENS"); v != "" {
			if n, ok := parseIntEnv(v); ok {
				return n, true
			}
		}
		return 0, false
	}

	key := "MODEL_" + sanitizeModelForEnv(model) + "_CONTEXT_TOKENS"
	if v := os.Getenv(key); v != "" {
		if n, ok := parseIntEnv(v); ok {
			return n, true
		}
	}

	return 0, false
}

// sanitizeModelForEnv converts a model name into an env-var-friendly token.
func sanitizeModelForEnv(model string) string {
	out := make([]rune, 0, len(model))
	for _, r := range model {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// hasModelPrefix treats prefix matches as sufficient to select a context
// size. This allows a dated snapshot like "claude-3-5-sonnet-20241022" to
// match the "claude-3-5-sonnet" family entry.
func hasModelPrefix(model, prefix string) bool {
	if len(model) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if model[i] != prefix[i] {
			return false
		}
	}
	return true
}

// parseIntEnv parses a non-negative int from an environment variable string.
func parseIntEnv(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	n := 0
	found := false
	for _, r := range v {
		if r < '0' || r > '9' {
			continue
		}
		found = true
		n = n*10 + int(r-'0')
	}
	if !found {
		return 0, false
	}
	return n, true
}
