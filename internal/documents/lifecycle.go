// Package documents implements the document lifecycle (C12): validating and
// staging an upload, running it through the parser/chunker/enricher/indexer
// pipeline in the background, and tearing down a document's index footprint
// on reprocess or delete.
package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"ragchat/internal/apperr"
	"ragchat/internal/config"
	"ragchat/internal/objectstore"
	"ragchat/internal/observability"
	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
	"ragchat/internal/rag/chunker"
	"ragchat/internal/rag/enrich"
	"ragchat/internal/rag/index"
	"ragchat/internal/rag/parser"
)

// Lifecycle owns the document state machine: PENDING on Upload, PROCESSING
// while the pipeline runs, then READY or FAILED. Processing runs on a
// bounded background pool (exec) against context.Background(), since a
// document's processing is not tied to the lifetime of the request that
// triggered it.
type Lifecycle struct {
	Sessions  persistence.SessionStore
	Documents persistence.DocumentStore
	Chunks    persistence.ChunkStore
	Images    persistence.ImageStore
	Search    databases.FullTextSearch
	Vector    databases.VectorStore
	Objects   objectstore.ObjectStore
	Enricher  *enrich.Enricher
	Indexer   *index.Indexer

	Cfg      config.DocumentsConfig
	ImageCfg config.ImageConfig
	ChunkCfg config.ChunkingConfig

	exec *executor
}

// New constructs a Lifecycle with its background worker pool started.
func New(sessions persistence.SessionStore, documents persistence.DocumentStore, chunks persistence.ChunkStore, images persistence.ImageStore, search databases.FullTextSearch, vector databases.VectorStore, objects objectstore.ObjectStore, enricher *enrich.Enricher, indexer *index.Indexer, cfg config.DocumentsConfig, imageCfg config.ImageConfig, chunkCfg config.ChunkingConfig) *Lifecycle {
	return &Lifecycle{
		Sessions:  sessions,
		Documents: documents,
		Chunks:    chunks,
		Images:    images,
		Search:    search,
		Vector:    vector,
		Objects:   objects,
		Enricher:  enricher,
		Indexer:   indexer,
		Cfg:       cfg,
		ImageCfg:  imageCfg,
		ChunkCfg:  chunkCfg,
		exec:      newExecutor(cfg.Workers, cfg.QueueSize),
	}
}

// Upload validates data against the configured MIME allow-list and size
// ceiling, stores the raw bytes, creates the Document row as PENDING, and
// schedules processing in the background. If the session has no title yet,
// the document's derived title backfills it (session-title auto-derivation).
func (l *Lifecycle) Upload(ctx context.Context, sessionID, filename, mimeType string, data []byte) (persistence.Document, error) {
	if l.Cfg.MaxUploadBytes > 0 && int64(len(data)) > l.Cfg.MaxUploadBytes {
		return persistence.Document{}, apperr.ErrDocumentTooLarge
	}
	if !l.mimeAllowed(mimeType) {
		return persistence.Document{}, apperr.ErrDocumentBadType
	}

	sess, err := l.Sessions.Get(ctx, sessionID)
	if err != nil {
		return persistence.Document{}, fmt.Errorf("documents: get session: %w", err)
	}

	title := titleFromFilename(filename)

	doc, err := l.Documents.Create(ctx, persistence.Document{
		SessionID: sessionID,
		Title:     title,
		Filename:  filename,
		MIMEType:  mimeType,
		SizeBytes: int64(len(data)),
		Status:    persistence.DocumentStatusPending,
	})
	if err != nil {
		return persistence.Document{}, fmt.Errorf("documents: create document row: %w", err)
	}

	if _, err := l.Objects.Put(ctx, objectstore.RawDocumentKey(sessionID, doc.ID), bytes.NewReader(data), objectstore.PutOptions{ContentType: mimeType}); err != nil {
		return persistence.Document{}, fmt.Errorf("documents: store raw upload: %w", err)
	}

	if strings.TrimSpace(sess.Title) == "" {
		if err := l.Sessions.UpdateTitle(ctx, sessionID, title); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("documents: backfill session title")
		}
	}

	if !l.exec.Submit(func(bg context.Context) { l.processDocument(bg, doc.ID) }) {
		observability.LoggerWithTrace(ctx).Warn().Str("document_id", doc.ID).Msg("documents: processing queue full, leaving document pending")
	}

	return doc, nil
}

func (l *Lifecycle) mimeAllowed(mimeType string) bool {
	for _, allowed := range l.Cfg.AllowedMIMETypes {
		if allowed == mimeType {
			return true
		}
	}
	return false
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// processDocument runs C1-C4 for a single document: parse, chunk, enrich,
// index. A failure at any stage marks the document FAILED with the error's
// message instead of propagating, since this runs detached from any
// request.
func (l *Lifecycle) processDocument(ctx context.Context, documentID string) {
	logger := observability.LoggerWithTrace(ctx).With().Str("document_id", documentID).Logger()

	doc, err := l.Documents.Get(ctx, documentID)
	if err != nil {
		logger.Error().Err(err).Msg("documents: load document for processing")
		return
	}

	if err := l.Documents.UpdateStatus(ctx, documentID, persistence.DocumentStatusProcessing, ""); err != nil {
		logger.Error().Err(err).Msg("documents: mark processing")
		return
	}

	if err := l.runPipeline(ctx, doc); err != nil {
		logger.Error().Err(err).Msg("documents: processing failed")
		if uerr := l.Documents.UpdateStatus(ctx, documentID, persistence.DocumentStatusFailed, err.Error()); uerr != nil {
			logger.Error().Err(uerr).Msg("documents: mark failed")
		}
		return
	}

	if err := l.Documents.UpdateStatus(ctx, documentID, persistence.DocumentStatusReady, ""); err != nil {
		logger.Error().Err(err).Msg("documents: mark ready")
	}
}

func (l *Lifecycle) runPipeline(ctx context.Context, doc persistence.Document) error {
	rc, _, err := l.Objects.Get(ctx, objectstore.RawDocumentKey(doc.SessionID, doc.ID))
	if err != nil {
		return fmt.Errorf("load raw upload: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read raw upload: %w", err)
	}

	mimeType := doc.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	parsed, err := parser.Parse(data, mimeType, l.ImageCfg)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	chunks := chunker.Chunk(parsed.FullText, parsed.Sections, l.ChunkCfg)

	analysis := enrich.Analysis{}
	var enriched []enrich.EnrichedChunk
	if l.Enricher != nil {
		analysis = l.Enricher.AnalyzeDocument(ctx, doc.Filename, parsed.FullText)
		contents := make([]string, len(chunks))
		for i, c := range chunks {
			contents[i] = c.Text
		}
		enriched = l.Enricher.EnrichChunks(ctx, analysis.Summary, contents)
	} else {
		enriched = make([]enrich.EnrichedChunk, len(chunks))
		for i, c := range chunks {
			enriched[i] = enrich.EnrichedChunk{EnrichedContent: c.Text}
		}
	}

	if err := l.Indexer.IndexDocument(ctx, doc, parsed, chunks, enriched); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	if err := l.Documents.UpdateEnrichment(ctx, doc.ID, analysis.Summary, analysis.Topics, len(chunks)); err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}

	return nil
}

// Reprocess re-runs C1-C4 for a FAILED document without requiring a new
// upload: it tears down any partial index state left by the failed attempt,
// then runs the pipeline fresh from the raw bytes already in object storage.
func (l *Lifecycle) Reprocess(ctx context.Context, documentID string) error {
	doc, err := l.Documents.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("documents: get document: %w", err)
	}

	if err := l.removeDocumentIndex(ctx, documentID); err != nil {
		return fmt.Errorf("documents: clear prior index state: %w", err)
	}

	if err := l.Documents.UpdateStatus(ctx, documentID, persistence.DocumentStatusPending, ""); err != nil {
		return fmt.Errorf("documents: reset status: %w", err)
	}

	if !l.exec.Submit(func(bg context.Context) { l.processDocument(bg, doc.ID) }) {
		return fmt.Errorf("documents: processing queue full")
	}
	return nil
}

// Delete removes a document's chunks and images from the hybrid index and
// blob store, then deletes the Document row.
func (l *Lifecycle) Delete(ctx context.Context, documentID string) error {
	if err := l.removeDocumentIndex(ctx, documentID); err != nil {
		return fmt.Errorf("documents: remove index: %w", err)
	}
	if err := l.Documents.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("documents: delete document row: %w", err)
	}
	return nil
}

// removeDocumentIndex tears down a document's footprint in the hybrid index
// and blob store: every chunk's FTS entry and content/title vectors, every
// image's blob, and finally the Chunk/Image rows themselves. Used by both
// Reprocess (to clear a partial attempt) and Delete.
func (l *Lifecycle) removeDocumentIndex(ctx context.Context, documentID string) error {
	chunks, err := l.Chunks.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	for _, c := range chunks {
		if l.Search != nil {
			if err := l.Search.Remove(ctx, c.ID); err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("chunk_id", c.ID).Msg("documents: remove chunk from search")
			}
		}
		if l.Vector != nil {
			if err := l.Vector.Delete(ctx, c.ID); err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("chunk_id", c.ID).Msg("documents: remove chunk content vector")
			}
			if err := l.Vector.Delete(ctx, c.ID+"#title"); err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("chunk_id", c.ID).Msg("documents: remove chunk title vector")
			}
		}
	}

	images, err := l.Images.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	if l.Objects != nil {
		for _, img := range images {
			if err := l.Objects.Delete(ctx, img.ObjectKey); err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("image_id", img.ID).Msg("documents: remove image blob")
			}
		}
	}

	if err := l.Chunks.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := l.Images.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	return nil
}
