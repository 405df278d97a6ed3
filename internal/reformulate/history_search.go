package reformulate

import (
	"context"

	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
)

// BleveHistorySearcher implements HistorySearcher over the chat-history
// full-text index: chat turns are indexed by id with session_id metadata at
// append time, so a BM25 query here only has to filter candidates down to the
// caller's session before resolving each hit back to a full ChatTurn.
type BleveHistorySearcher struct {
	Search databases.FullTextSearch
	Chat   persistence.ChatStore
}

func (s *BleveHistorySearcher) SearchTurns(ctx context.Context, sessionID, query string, limit int) ([]persistence.ChatTurn, error) {
	if limit <= 0 {
		limit = 5
	}
	// Over-fetch since results are filtered down to this session afterward.
	hits, err := s.Search.Search(ctx, query, limit*4)
	if err != nil {
		return nil, err
	}
	out := make([]persistence.ChatTurn, 0, limit)
	for _, h := range hits {
		if h.Metadata["session_id"] != sessionID {
			continue
		}
		t, err := s.Chat.GetTurn(ctx, h.ID)
		if err != nil {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
