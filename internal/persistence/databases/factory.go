package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ragchat/internal/config"
)

// NewManager wires the hybrid store's three backends (full-text search,
// vector search, relational entity storage) based on configuration, sharing
// a single Postgres connection pool whenever more than one backend needs one.
func NewManager(ctx context.Context, cfg config.DBConfig) (Manager, error) {
	var m Manager

	searchDSN := cfg.Search.DSNOrDefault(cfg.DefaultDSN)
	vectorDSN := cfg.Vector.DSNOrDefault(cfg.DefaultDSN)
	relDSN := cfg.Relational.DSNOrDefault(cfg.DefaultDSN)

	var pool *pgxpool.Pool
	pgPool := func(dsn string) (*pgxpool.Pool, error) {
		if pool != nil {
			return pool, nil
		}
		p, err := newPgPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		pool = p
		return pool, nil
	}

	switch cfg.Search.Backend {
	case "bleve", "":
		idx, err := NewBleveSearch(cfg.Search.Index)
		if err != nil {
			return Manager{}, fmt.Errorf("open bleve index: %w", err)
		}
		m.Search = idx
	case "memory":
		m.Search = NewMemorySearch()
	case "postgres", "pg":
		if searchDSN == "" {
			return Manager{}, fmt.Errorf("search backend postgres requires a DSN")
		}
		p, err := pgPool(searchDSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (search): %w", err)
		}
		m.Search = NewPostgresSearch(p)
	case "none", "disabled":
		m.Search = noopSearch{}
	default:
		return Manager{}, fmt.Errorf("unsupported search backend: %s", cfg.Search.Backend)
	}

	switch cfg.Vector.Backend {
	case "qdrant", "":
		v, err := NewQdrantVector(vectorDSN, cfg.Vector.Index, cfg.Vector.Dimensions, cfg.Vector.Metric)
		if err != nil {
			return Manager{}, fmt.Errorf("connect qdrant: %w", err)
		}
		m.Vector = v
	case "memory":
		m.Vector = NewMemoryVector()
	case "postgres", "pgvector", "pg":
		if vectorDSN == "" {
			return Manager{}, fmt.Errorf("vector backend postgres requires a DSN")
		}
		p, err := pgPool(vectorDSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (vector): %w", err)
		}
		m.Vector = NewPostgresVector(p, cfg.Vector.Dimensions, cfg.Vector.Metric)
	case "none", "disabled":
		m.Vector = noopVector{}
	default:
		return Manager{}, fmt.Errorf("unsupported vector backend: %s", cfg.Vector.Backend)
	}

	// The memory engine (C8) and the chat-history reformulator (C7) each get
	// their own hybrid index, never the document corpus's. They're small,
	// session-scoped corpora that don't warrant the configured document
	// search backend's operational weight, and keeping them physically
	// separate rules out chunk/turn/memory cross-contamination in results
	// without adding a filter parameter to FullTextSearch.
	memSearch, err := NewBleveSearch("")
	if err != nil {
		return Manager{}, fmt.Errorf("open memory index: %w", err)
	}
	m.MemorySearch = memSearch
	m.MemoryVector = NewMemoryVector()

	chatSearch, err := NewBleveSearch("")
	if err != nil {
		return Manager{}, fmt.Errorf("open chat-history index: %w", err)
	}
	m.ChatSearch = chatSearch

	switch cfg.Relational.Backend {
	case "postgres", "":
		if relDSN == "" {
			return Manager{}, fmt.Errorf("relational backend postgres requires a DSN")
		}
		p, err := pgPool(relDSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (relational): %w", err)
		}
		m.Sessions = NewPostgresSessionStore(p)
		m.Documents = NewPostgresDocumentStore(p)
		m.Chunks = NewPostgresChunkStore(p)
		m.Images = NewPostgresImageStore(p)
		m.Chat = NewPostgresChatStore(p)
		m.Memories = NewPostgresMemoryStore(p)
	case "memory":
		m.Sessions = NewMemorySessionStore()
		m.Documents = NewMemoryDocumentStore()
		m.Chunks = NewMemoryChunkStore()
		m.Images = NewMemoryImageStore()
		m.Chat = NewMemoryChatStore()
		m.Memories = NewMemoryMemoryStore()
	default:
		return Manager{}, fmt.Errorf("unsupported relational backend: %s", cfg.Relational.Backend)
	}

	return m, nil
}

// no-op backends for "none" configuration.
type noopSearch struct{}

func (noopSearch) Index(context.Context, string, string, map[string]string) error { return nil }
func (noopSearch) Remove(context.Context, string) error                          { return nil }
func (noopSearch) Search(context.Context, string, int) ([]SearchResult, error)    { return nil, nil }
func (noopSearch) SnippetForID(context.Context, string, string) (string, bool)    { return "", false }

type noopVector struct{}

func (noopVector) Upsert(context.Context, string, []float32, map[string]string) error { return nil }
func (noopVector) Delete(context.Context, string) error                               { return nil }
func (noopVector) SimilaritySearch(context.Context, []float32, int, map[string]string) ([]VectorResult, error) {
	return nil, nil
}
func (noopVector) Dimension() int { return 0 }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
