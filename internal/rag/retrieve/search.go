package retrieve

import (
	"context"

	"ragchat/internal/config"
	"ragchat/internal/persistence/databases"
	"ragchat/internal/rag/embedder"
)

// Backends bundles the hybrid search dependencies a retrieval call needs.
type Backends struct {
	Search   databases.FullTextSearch
	Vector   databases.VectorStore
	Embedder embedder.Embedder
}

// instruction prefixes mirror the ones used at index time so queries and
// documents land in the same embedding space.
const queryInstructionPrefix = "Represent this question for retrieving relevant document passages: "

// SearchWithDetails runs the full C5 hybrid search pipeline for one query
// within a session: candidate pull (FTS + vector, anchored to AnchorDocIDs
// when set), Reciprocal Rank Fusion, optional cross-encoder reranking,
// round-robin diversity, and C6 confidence scoring. The session's Mode
// picks the default RetrievalCount (EXPLORING/RESEARCH/LEARNING) when the
// caller doesn't set it explicitly.
func SearchWithDetails(ctx context.Context, b Backends, query string, opt RetrieveOptions, rcfg config.RetrievalConfig, rrcfg config.RerankerConfig) (RetrieveResponse, error) {
	retrievalCount := RetrievalCountOrDefault(opt, rcfg.CountExploring, rcfg.CountResearch, rcfg.CountLearning)

	if opt.CandidatesMultiplier <= 0 {
		opt.CandidatesMultiplier = rcfg.CandidatesMultiplier
	}
	if opt.RRFK <= 0 {
		opt.RRFK = rcfg.RRFK
	}
	if opt.Alpha <= 0 {
		opt.Alpha = rcfg.Alpha
	}
	if opt.MaxPerDoc <= 0 {
		opt.MaxPerDoc = rcfg.MaxPerDoc
	}

	plan := BuildQueryPlan(ctx, query, retrievalCount, opt)

	var qvec []float32
	if b.Vector != nil && b.Embedder != nil && plan.VecK > 0 {
		emb, err := b.Embedder.EmbedBatch(ctx, []string{queryInstructionPrefix + plan.Query})
		if err != nil {
			return RetrieveResponse{}, err
		}
		if len(emb) > 0 {
			qvec = emb[0]
		}
	}

	ftRes, vecRes, diag, err := ParallelCandidates(ctx, b.Search, b.Vector, plan, qvec)
	if err != nil {
		return RetrieveResponse{}, err
	}

	fused := FuseRRF(ftRes, vecRes, opt)

	reranked := fused
	if opt.Rerank {
		reranked = Rerank(ctx, rrcfg, plan.Query, fused, retrievalCount)
	}

	final := Diversify(reranked, opt.MaxPerDoc, retrievalCount, opt.Diversify)
	confidence := ScoreConfidence(final, plan.Query)
	items := toRetrievedItems(final)

	if opt.IncludeSnippet {
		items = GenerateSnippets(ctx, b.Search, items, SnippetOptions{Lang: plan.Lang, Query: plan.Query})
	}
	if opt.IncludeText && b.Search != nil {
		if getter, ok := b.Search.(idGetter); ok {
			for i := range items {
				if items[i].Text != "" {
					continue
				}
				if doc, found, _ := getter.GetByID(ctx, items[i].ID); found {
					items[i].Text = doc.Text
				}
			}
		}
	}

	debug := map[string]any{
		"plan": map[string]any{
			"lang":            plan.Lang,
			"ftK":             plan.FtK,
			"vecK":            plan.VecK,
			"retrieval_count": retrievalCount,
		},
		"diagnostics": map[string]any{
			"ft_count":  diag.FtCount,
			"vec_count": diag.VecCount,
			"ft_ms":     diag.FtLatency.Milliseconds(),
			"vec_ms":    diag.VecLatency.Milliseconds(),
		},
	}

	return RetrieveResponse{Query: plan.Query, Items: items, Confidence: confidence, Debug: debug}, nil
}
