package config

import "testing"

func TestApplyDefaultsFillsRetrievalCounts(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)
	if cfg.Retrieval.CountExploring != 5 {
		t.Fatalf("expected exploring count 5, got %d", cfg.Retrieval.CountExploring)
	}
	if cfg.Retrieval.CountResearch != 10 {
		t.Fatalf("expected research count 10, got %d", cfg.Retrieval.CountResearch)
	}
	if cfg.Retrieval.CountLearning != 7 {
		t.Fatalf("expected learning count 7, got %d", cfg.Retrieval.CountLearning)
	}
	if cfg.Chunking.Size != 400 || cfg.Chunking.Overlap != 50 {
		t.Fatalf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Compaction.ThresholdFraction != 0.8 {
		t.Fatalf("expected compaction threshold 0.8, got %f", cfg.Compaction.ThresholdFraction)
	}
}

func TestValidateRequiresAnthropicKey(t *testing.T) {
	cfg := Config{Embedding: EmbeddingConfig{BaseURL: "http://localhost"}}
	if err := validate(cfg); err == nil {
		t.Fatalf("expected validation error when ANTHROPIC_API_KEY is missing")
	}
	cfg.Anthropic.APIKey = "sk-test"
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "b"); got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
}
