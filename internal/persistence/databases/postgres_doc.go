package databases

// This file documents the Postgres-backed database implementations and their
// expected extensions and schemas. It exists to keep SQL bootstrap centralized
// and easy to find. Production deployments should manage migrations with an
// external tool; our code performs best-effort CREATE IF NOT EXISTS for dev.

/*
Extensions
- vector: pgvector, backs the embeddings table (postgres_vector.go)
- pg_trgm: FTS helper extension bootstrapped alongside the documents table
  (postgres_search.go); tsquery itself doesn't require it, but it's cheap
  insurance for trigram-similarity fallbacks if BM25 recall is ever too low.

Entity tables (postgres_entities.go)
- sessions(id, title, mode, created_at, updated_at)
- rag_documents(id, session_id FK, title, filename, mime_type, size_bytes,
  status, failure_reason, summary, topics, chunk_count, created_at,
  updated_at)
  Index on (session_id)
- rag_chunks(id, document_id FK, session_id, idx, text, contextual_prefix,
  breadcrumb, offset_start, offset_end, associated_image_ids, created_at)
  Index on (document_id)
- rag_images(id, document_id FK, session_id, page_number, object_key,
  is_composite, source_image_ids, width, height, created_at)
  Index on (document_id)
- chat_turns(id, session_id FK, role, content, mode_used,
  retrieved_context_json, confidence, compacted, created_at)
  Index on (session_id, created_at)
- chat_summaries(id, session_id FK, content, covers_up_to_id, turn_count,
  created_at)
- memories(id, session_id FK, type, content, importance, created_at,
  last_accessed_at)
  Index on (session_id, importance DESC)

Search and vector tables bootstrapped by their own constructors rather than
postgres_entities.go, since they're only created when that backend is
selected over the Bleve/Qdrant alternatives:
- documents(id TEXT PRIMARY KEY, text TEXT NOT NULL, metadata JSONB,
  ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', text)) STORED)
  GIN index on ts. Backs the document corpus's FullTextSearch (chunk BM25
  lookups); chat-turn and memory search use in-memory Bleve indexes instead.
- embeddings(id TEXT PRIMARY KEY, vec vector(dimensions), metadata JSONB)
  Backs the document corpus's VectorStore (chunk embeddings); memory
  embeddings live in an in-memory vector store. dimensions is
  fixed at construction time from the configured embedding model; changing
  embedding models requires a fresh table.
*/
