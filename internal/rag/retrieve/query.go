package retrieve

import (
	"context"
	"math"
	"strings"
)

// Maximum number of allowed filter keys to avoid excessive allocation or overflow
const maxFilterEntries = 1000

// QueryPlan is the normalized retrieval plan derived from input query and options.
type QueryPlan struct {
	Query          string
	Lang           string
	FtK            int
	VecK           int
	Filters        map[string]string
	AnchorDocIDs   []string
	RetrievalCount int
}

// BuildQueryPlan normalizes the query, tags its language (detectLang always
// returns "english"), sizes
// the pre-fusion candidate pool at retrievalCount*CandidatesMultiplier, splits
// that pool between FTS and vector using Alpha, and carries forward any
// session-scoped metadata filters plus anchor document IDs.
func BuildQueryPlan(ctx context.Context, q string, retrievalCount int, opt RetrieveOptions) QueryPlan { // ctx reserved for future pluggable detectors
	_ = ctx
	nq := normalizeQuery(q)
	lang := detectLang(nq)

	mult := opt.CandidatesMultiplier
	if mult <= 0 {
		mult = 4
	}
	if retrievalCount <= 0 {
		retrievalCount = 10
	}
	pool := retrievalCount * mult
	if pool > 10000 {
		pool = 10000 // sanity cap to avoid runaway allocations
	}
	ftK, vecK := splitBudgets(pool, opt)

	// Defensive: only allow up to maxFilterEntries nonempty entries in the filters map,
	// regardless of the size of opt.Filter, to prevent excessive allocation or overflow.
	entriesAdded := 0
	filters := make(map[string]string, maxFilterEntries+2)
	for k, v := range opt.Filter {
		if entriesAdded >= maxFilterEntries {
			break
		}
		if v != "" {
			filters[k] = v
			entriesAdded++
		}
	}
	if opt.SessionID != "" {
		filters["session_id"] = opt.SessionID
	}
	if len(opt.AnchorDocIDs) > 0 {
		// Joined so backends that only accept flat string filters can still
		// narrow candidates; callers doing exact set membership should also
		// post-filter on QueryPlan.AnchorDocIDs directly.
		filters["doc_id_in"] = strings.Join(opt.AnchorDocIDs, ",")
	}
	if lang != "" {
		filters["lang"] = lang
	}

	return QueryPlan{
		Query: nq, Lang: lang, FtK: ftK, VecK: vecK,
		Filters: filters, AnchorDocIDs: opt.AnchorDocIDs,
		RetrievalCount: retrievalCount,
	}
}

func normalizeQuery(q string) string {
	// Collapse whitespace and trim. Keep case for display but search is case-insensitive in backends.
	s := strings.TrimSpace(q)
	// Replace multiple spaces with single
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		if r == '\n' || r == '\t' || r == '\r' {
			r = ' '
		}
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func detectLang(_ string) string {
	// Placeholder: default to english until a detector is plugged in
	return "english"
}

func splitBudgets(k int, opt RetrieveOptions) (int, int) {
	// Derive from Alpha where Alpha is the weight on FTS.
	a := opt.Alpha
	if a <= 0 {
		a = 0.5
	}
	if a > 1 {
		a = 1
	}
	ft := int(math.Ceil(float64(k) * a))
	vc := k - ft
	if ft == 0 && k > 0 {
		ft = 1
		vc = k - 1
	}
	if vc == 0 && k > 0 && k > 1 { // ensure both sides represented for k>1
		vc = 1
		ft = k - 1
	}
	return ft, vc
}
