package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ragchat/internal/chat"
	"ragchat/internal/compaction"
	"ragchat/internal/config"
	"ragchat/internal/documents"
	"ragchat/internal/httpapi"
	"ragchat/internal/llm/anthropic"
	"ragchat/internal/memory"
	"ragchat/internal/objectstore"
	"ragchat/internal/observability"
	"ragchat/internal/persistence/databases"
	"ragchat/internal/rag/embedder"
	"ragchat/internal/rag/enrich"
	"ragchat/internal/rag/index"
	"ragchat/internal/rag/retrieve"
	"ragchat/internal/reformulate"
	"ragchat/internal/resilience"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx := context.Background()
	shutdown, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	dbs, err := databases.NewManager(ctx, cfg.Databases)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init databases")
	}
	defer dbs.Close()

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init object store")
	}

	httpClient := observability.NewHTTPClient(nil)
	provider := anthropic.New(cfg.Anthropic, httpClient)
	emb := embedder.NewClient(cfg.Embedding, cfg.Embedding.Dimensions)

	enricher := &enrich.Enricher{Provider: provider, Model: cfg.Anthropic.Model, Cfg: cfg.Contextual}

	idx := &index.Indexer{
		Search:   dbs.Search,
		Vector:   dbs.Vector,
		Embedder: emb,
		Objects:  objects,
		Images:   dbs.Images,
		Chunks:   dbs.Chunks,
		Cfg:      cfg.Images,
	}

	lifecycle := documents.New(dbs.Sessions, dbs.Documents, dbs.Chunks, dbs.Images, dbs.Search, dbs.Vector, objects,
		enricher, idx, cfg.Documents, cfg.Images, cfg.Chunking)

	reformulateBreaker := resilience.NewBreaker("reformulate")
	reformulator := &reformulate.Reformulator{
		Chat:     dbs.Chat,
		History:  &reformulate.BleveHistorySearcher{Search: dbs.ChatSearch, Chat: dbs.Chat},
		Provider: provider,
		Model:    cfg.Anthropic.Model,
		Cfg:      cfg.Reformulate,
		Breaker:  reformulateBreaker,
	}

	memoryBreaker := resilience.NewBreaker("memory")
	memEngine := &memory.Engine{
		Store:    dbs.Memories,
		Search:   dbs.MemorySearch,
		Vector:   dbs.MemoryVector,
		Embedder: emb,
		Provider: provider,
		Model:    cfg.Anthropic.Model,
		Cfg:      cfg.Memory,
		Breaker:  memoryBreaker,
	}

	compactor := &compaction.Compactor{
		Chat:      dbs.Chat,
		Provider:  provider,
		Model:     cfg.Anthropic.Model,
		Cfg:       cfg.Compaction,
		Tokenizer: compaction.ApproxTokenizer{},
	}

	orchestrator := &chat.Orchestrator{
		Sessions:     dbs.Sessions,
		Chat:         dbs.Chat,
		Documents:    dbs.Documents,
		Reformulator: reformulator,
		Retrieve:     retrieve.Backends{Search: dbs.Search, Vector: dbs.Vector, Embedder: emb},
		RetrievalCfg: cfg.Retrieval,
		RerankerCfg:  cfg.Reranker,
		Memory:       memEngine,
		Compactor:    compactor,
		ChatSearch:   dbs.ChatSearch,
		Provider:     provider,
		Cfg:          cfg.Chat,
	}

	server := httpapi.NewServer(&httpapi.Server{
		Sessions:     dbs.Sessions,
		Documents:    dbs.Documents,
		Images:       dbs.Images,
		Chat:         dbs.Chat,
		Lifecycle:    lifecycle,
		Orchestrator: orchestrator,
		Objects:      objects,
		Breakers:     []*resilience.Breaker{reformulateBreaker, memoryBreaker},
	})

	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}
	log.Info().Str("addr", addr).Msg("ragchat listening")
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// newObjectStore picks S3 when a bucket is configured, otherwise an
// in-memory store suitable for local development.
func newObjectStore(ctx context.Context, cfg config.Config) (objectstore.ObjectStore, error) {
	if cfg.S3.Bucket == "" {
		return objectstore.NewMemoryStore(), nil
	}
	return objectstore.NewS3Store(ctx, cfg.S3)
}
