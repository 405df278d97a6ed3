package retrieve

import (
    "math"
    "sort"
    "strings"

    "ragchat/internal/persistence/databases"
)

// fusedCandidate is an internal structure used during fusion.
type fusedCandidate struct {
    ID        string
    DocID     string
    Source    string
    FtRank    int // 1-based; 0 if absent
    VecRank   int // 1-based; 0 if absent
    FtScore   float64
    VecScore  float64
    Fused     float64
    Snippet   string
    Text      string
    Metadata  map[string]string
    // Reranked is true once a cross-encoder score has replaced Fused.
    Reranked  bool
}

// FuseRRF performs Reciprocal Rank Fusion over FTS and vector candidates.
// Weights are derived from options.Alpha: w_ft=Alpha, w_vec=1-Alpha.
// kRRf sets the denominator constant (typical default ~60).
func FuseRRF(fts []databases.SearchResult, vec []databases.VectorResult, opt RetrieveOptions) []fusedCandidate {
    if len(opt.AnchorDocIDs) > 0 {
        fts = filterSearchResultsByAnchor(fts, opt.AnchorDocIDs)
        vec = filterVectorResultsByAnchor(vec, opt.AnchorDocIDs)
    }
    // ranks are 1-based; if absent, contribution is 0 from that source
    wft := opt.Alpha
    if wft <= 0 { wft = 0.5 }
    if wft > 1 { wft = 1 }
    wvec := 1 - wft
    krrf := opt.RRFK
    if krrf <= 0 { krrf = 60 }

    // Index positions
    ftPos := make(map[string]int, len(fts))
    ftByID := make(map[string]databases.SearchResult, len(fts))
    for i, r := range fts {
        ftPos[r.ID] = i + 1
        ftByID[r.ID] = r
    }
    vecPos := make(map[string]int, len(vec))
    vecByID := make(map[string]databases.VectorResult, len(vec))
    for i, r := range vec {
        vecPos[r.ID] = i + 1
        vecByID[r.ID] = r
    }

    // Collect union of IDs
    seen := map[string]struct{}{}
    ids := make([]string, 0, len(fts)+len(vec))
    add := func(id string) {
        if _, ok := seen[id]; !ok {
            seen[id] = struct{}{}
            ids = append(ids, id)
        }
    }
    for _, r := range fts { add(r.ID) }
    for _, r := range vec { add(r.ID) }

    out := make([]fusedCandidate, 0, len(ids))
    for _, id := range ids {
        fr := ftPos[id]
        vr := vecPos[id]
        // Compute RRF contributions only for present ranks
        fContrib := 0.0
        vContrib := 0.0
        if fr > 0 { fContrib = 1.0 / float64(krrf+fr) }
        if vr > 0 { vContrib = 1.0 / float64(krrf+vr) }
        fused := wft*fContrib + wvec*vContrib

        // Aggregate fields
        var snippet, text string
        md := map[string]string{}
        if r, ok := ftByID[id]; ok {
            snippet = r.Snippet
            text = r.Text
            for k, v := range r.Metadata { md[k] = v }
        }
        if r, ok := vecByID[id]; ok {
            for k, v := range r.Metadata { if _, exists := md[k]; !exists { md[k] = v } }
        }
        docID := deriveDocID(id, md)
        source := md["source"]

        out = append(out, fusedCandidate{
            ID: id, DocID: docID, Source: source,
            FtRank: fr, VecRank: vr,
            FtScore: fContrib, VecScore: vContrib,
            Fused: fused,
            Snippet: snippet, Text: text,
            Metadata: md,
        })
    }

    // Sort by fused desc, deterministic tie-breakers
    sort.Slice(out, func(i, j int) bool {
        if out[i].Fused != out[j].Fused {
            return out[i].Fused > out[j].Fused
        }
        // Prefer lower sum of ranks (better across lists)
        sri := safeRankSum(out[i].FtRank, out[i].VecRank)
        srj := safeRankSum(out[j].FtRank, out[j].VecRank)
        if sri != srj { return sri < srj }
        return out[i].ID < out[j].ID
    })
    return out
}

func safeRankSum(a, b int) int {
    if a == 0 { a = 1000000000 }
    if b == 0 { b = 1000000000 }
    // prevent overflow but keep large
    if a > 500000000 { a = 500000000 }
    if b > 500000000 { b = 500000000 }
    return a + b
}

// Diversify re-orders a score-sorted candidate list so that no document
// contributes more than maxPerDoc chunks among the top results: it takes one
// chunk per document per round, round-robin by document in the order each
// document first appears, until every document has hit the cap or the output
// has retrievalCount entries; leftover candidates (already capped out of the
// round-robin) then fill any remaining slots in their original score order.
// When diversify is false, the input order is returned, capped at
// retrievalCount.
func Diversify(ranked []fusedCandidate, maxPerDoc, retrievalCount int, diversify bool) []fusedCandidate {
    if retrievalCount <= 0 {
        retrievalCount = 10
    }
    if !diversify || maxPerDoc <= 0 || len(ranked) <= 1 {
        if retrievalCount < len(ranked) {
            return ranked[:retrievalCount]
        }
        return ranked
    }

    docOrder := make([]string, 0)
    groups := map[string][]fusedCandidate{}
    for _, c := range ranked {
        if _, ok := groups[c.DocID]; !ok {
            docOrder = append(docOrder, c.DocID)
        }
        groups[c.DocID] = append(groups[c.DocID], c)
    }

    selected := make([]fusedCandidate, 0, retrievalCount)
    cursor := make(map[string]int, len(docOrder))
    for round := 0; round < maxPerDoc && len(selected) < retrievalCount; round++ {
        for _, doc := range docOrder {
            if len(selected) >= retrievalCount {
                break
            }
            items := groups[doc]
            i := cursor[doc]
            if i >= len(items) || i >= maxPerDoc {
                continue
            }
            selected = append(selected, items[i])
            cursor[doc] = i + 1
        }
    }
    if len(selected) >= retrievalCount {
        return selected
    }

    // Fill remainder from whatever is left (chunks beyond each document's cap),
    // preserving overall rerank-score order.
    takenIDs := make(map[string]struct{}, len(selected))
    for _, c := range selected {
        takenIDs[c.ID] = struct{}{}
    }
    for _, c := range ranked {
        if len(selected) >= retrievalCount {
            break
        }
        if _, ok := takenIDs[c.ID]; ok {
            continue
        }
        selected = append(selected, c)
    }
    return selected
}

// toRetrievedItems converts fused/reranked candidates into the public
// RetrievedItem shape, carrying forward both fusion and rerank provenance.
func toRetrievedItems(candidates []fusedCandidate) []RetrievedItem {
    items := make([]RetrievedItem, 0, len(candidates))
    for _, c := range candidates {
        items = append(items, RetrievedItem{
            ID:       c.ID,
            DocID:    c.DocID,
            Score:    c.Fused,
            Snippet:  c.Snippet,
            Text:     c.Text,
            Metadata: c.Metadata,
            Explanation: map[string]any{
                "fused":    c.Fused,
                "ft_rank":  c.FtRank,
                "vec_rank": c.VecRank,
                "ft_rrf":   c.FtScore,
                "vec_rrf":  c.VecScore,
                "reranked": c.Reranked,
            },
        })
    }
    return items
}

func filterSearchResultsByAnchor(in []databases.SearchResult, anchorDocIDs []string) []databases.SearchResult {
    allowed := make(map[string]struct{}, len(anchorDocIDs))
    for _, id := range anchorDocIDs {
        allowed[id] = struct{}{}
    }
    out := make([]databases.SearchResult, 0, len(in))
    for _, r := range in {
        if _, ok := allowed[deriveDocID(r.ID, r.Metadata)]; ok {
            out = append(out, r)
        }
    }
    return out
}

func filterVectorResultsByAnchor(in []databases.VectorResult, anchorDocIDs []string) []databases.VectorResult {
    allowed := make(map[string]struct{}, len(anchorDocIDs))
    for _, id := range anchorDocIDs {
        allowed[id] = struct{}{}
    }
    out := make([]databases.VectorResult, 0, len(in))
    for _, r := range in {
        if _, ok := allowed[deriveDocID(r.ID, r.Metadata)]; ok {
            out = append(out, r)
        }
    }
    return out
}

func deriveDocID(chunkID string, md map[string]string) string {
    if d := md["doc_id"]; d != "" { return d }
    // best-effort: if chunk:<doc-id>:<i>
    if strings.HasPrefix(chunkID, "chunk:") {
        rest := strings.TrimPrefix(chunkID, "chunk:")
        // remove trailing index by cutting last ':' if present
        if idx := strings.LastIndex(rest, ":"); idx != -1 {
            return rest[:idx]
        }
    }
    // passthrough: maybe the ID is itself a doc id
    return chunkID
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func min(a, b int) int { if a < b { return a } ; return b }
func max(a, b int) int { if a > b { return a } ; return b }

// DeriveDocIDPublic exposes internal doc-id derivation for other packages.
func DeriveDocIDPublic(chunkID string, md map[string]string) string { return deriveDocID(chunkID, md) }

