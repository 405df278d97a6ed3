package retrieve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"ragchat/internal/config"
)

type rerankReq struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	RawScores bool     `json:"raw_scores,omitempty"`
}

type rerankResp struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Rerank scores (query, candidate text) pairs against a cross-encoder
// endpoint and keeps the top 2*retrievalCount candidates sorted by rerank
// score. When the reranker is disabled, or the endpoint call fails, it falls
// back to the input order (already RRF-sorted) truncated to the same
// cutoff; callers should treat the fallback as a degraded-but-valid result
// rather than an error.
func Rerank(ctx context.Context, cfg config.RerankerConfig, query string, candidates []fusedCandidate, retrievalCount int) []fusedCandidate {
	cutoff := 2 * retrievalCount
	if cutoff <= 0 || cutoff > len(candidates) {
		cutoff = len(candidates)
	}
	if !cfg.Enabled || len(candidates) == 0 {
		return cloneCapped(candidates, cutoff)
	}

	scores, err := callReranker(ctx, cfg, query, candidates)
	if err != nil {
		return cloneCapped(candidates, cutoff)
	}

	out := make([]fusedCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		if i < len(scores) {
			out[i].Fused = scores[i]
			out[i].Reranked = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Fused > out[j].Fused })
	return cloneCapped(out, cutoff)
}

func callReranker(ctx context.Context, cfg config.RerankerConfig, query string, candidates []fusedCandidate) ([]float64, error) {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		if c.Text != "" {
			docs[i] = c.Text
		} else {
			docs[i] = c.Snippet
		}
	}
	reqBody, _ := json.Marshal(rerankReq{Query: query, Documents: docs, RawScores: cfg.RawScores})
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, cfg.BaseURL+"/rerank", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker error: %s: %s", resp.Status, string(b))
	}
	var rr rerankResp
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, err
	}
	scores := make([]float64, len(candidates))
	for _, r := range rr.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.Score
		}
	}
	return scores, nil
}

func cloneCapped(candidates []fusedCandidate, cutoff int) []fusedCandidate {
	if cutoff < len(candidates) {
		candidates = candidates[:cutoff]
	}
	out := make([]fusedCandidate, len(candidates))
	copy(out, candidates)
	return out
}
