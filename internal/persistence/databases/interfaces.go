package databases

import (
	"context"

	"ragchat/internal/persistence"
)

// SearchResult represents a single hit from the full-text search backend.
type SearchResult struct {
	ID       string
	Score    float64
	Snippet  string
	Text     string
	Metadata map[string]string
}

// FullTextSearch defines the minimum interface for a pluggable BM25 backend.
type FullTextSearch interface {
	Index(ctx context.Context, id string, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	SnippetForID(ctx context.Context, id string, query string) (string, bool)
}

// VectorResult represents a single nearest neighbor lookup result.
type VectorResult struct {
	ID       string
	Score    float64 // Higher is closer by default
	Metadata map[string]string
}

// VectorStore defines the minimum interface for a pluggable vector store.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
	Dimension() int
}

// Manager holds every concrete backend resolved from configuration plus the
// typed entity stores layered over the relational backend. The document
// corpus (Search/Vector) is a separate hybrid index from the memory engine's
// and the chat-history reformulator's, per the data model's "memory index"
// and "chat-history index" (distinct from the document hybrid index,
// deleted independently on session deletion).
type Manager struct {
	Search       FullTextSearch
	Vector       VectorStore
	MemorySearch FullTextSearch
	MemoryVector VectorStore
	ChatSearch   FullTextSearch
	Sessions     persistence.SessionStore
	Documents    persistence.DocumentStore
	Chunks       persistence.ChunkStore
	Images       persistence.ImageStore
	Chat         persistence.ChatStore
	Memories     persistence.MemoryStore
}

// Close releases any underlying pools/clients. It's a no-op for in-memory
// backends that don't hold resources.
func (m Manager) Close() {
	for _, c := range []any{m.Search, m.Vector, m.MemorySearch, m.MemoryVector, m.ChatSearch} {
		if cl, ok := c.(interface{ Close() error }); ok {
			_ = cl.Close()
		}
	}
}
