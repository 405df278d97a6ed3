// Package index implements the hybrid indexer (C4): it stores a document's
// images in the blob store, persists its chunks, and writes each chunk into
// both halves of the document corpus's hybrid index (BM25 + vector), under a
// content embedding and a separate title/section embedding.
package index

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ragchat/internal/config"
	"ragchat/internal/objectstore"
	"ragchat/internal/observability"
	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
	"ragchat/internal/rag/chunker"
	"ragchat/internal/rag/embedder"
	"ragchat/internal/rag/enrich"
	"ragchat/internal/rag/parser"
)

// passageInstructionPrefix mirrors retrieve.queryInstructionPrefix so a
// query and the passages it's meant to match land in the same embedding
// space.
const passageInstructionPrefix = "Represent this document passage for retrieval: "

const maxEmbedChars = 5000

// Indexer wires a parsed, chunked, enriched document into persistence and
// the hybrid index.
type Indexer struct {
	Search   databases.FullTextSearch
	Vector   databases.VectorStore
	Embedder embedder.Embedder
	Objects  objectstore.ObjectStore
	Images   persistence.ImageStore
	Chunks   persistence.ChunkStore
	Cfg      config.ImageConfig
}

// IndexDocument stores doc's extracted images, persists its chunks (with
// AssociatedImageIDs resolved from the freshly assigned image IDs), and
// indexes every chunk's enriched text into the hybrid index. Chunks and
// enrichedChunks must be the same length and in the same order.
func (idx *Indexer) IndexDocument(ctx context.Context, doc persistence.Document, parsed parser.ParsedDocument, chunks []chunker.Chunk, enriched []enrich.EnrichedChunk) error {
	imageIDs, err := idx.storeImages(ctx, doc.SessionID, doc.ID, parsed.Images)
	if err != nil {
		return fmt.Errorf("index: store images: %w", err)
	}

	persistChunks := make([]persistence.Chunk, len(chunks))
	for i, c := range chunks {
		text := c.Text
		prefix := ""
		if i < len(enriched) {
			text = enriched[i].EnrichedContent
			prefix = enriched[i].ContextPrefix
		}

		var assoc []string
		for _, imgIdx := range c.AssociatedImageIndices {
			if imgIdx >= 0 && imgIdx < len(imageIDs) && imageIDs[imgIdx] != "" {
				assoc = append(assoc, imageIDs[imgIdx])
			}
		}

		persistChunks[i] = persistence.Chunk{
			DocumentID:         doc.ID,
			SessionID:          doc.SessionID,
			Index:              c.Index,
			Text:               text,
			ContextualPrefix:   prefix,
			Breadcrumb:         strings.Join(c.Breadcrumb, " > "),
			OffsetStart:        c.DocumentOffset,
			OffsetEnd:          c.DocumentOffset + len(c.Text),
			AssociatedImageIDs: assoc,
		}
	}

	if err := idx.Chunks.CreateBatch(ctx, persistChunks); err != nil {
		return fmt.Errorf("index: create chunks: %w", err)
	}

	for _, pc := range persistChunks {
		if err := idx.indexChunk(ctx, doc, pc); err != nil {
			return fmt.Errorf("index: chunk %s: %w", pc.ID, err)
		}
	}
	return nil
}

// indexChunk writes pc into the FTS index, a content-embedding vector under
// pc.ID, and - when pc carries a breadcrumb or the document has a title - a
// second, title/section-embedding vector under pc.ID+"#title" tagged with
// the same chunk_id so retrieve.canonicalizeVectorIDs folds it back onto the
// canonical chunk before fusion.
func (idx *Indexer) indexChunk(ctx context.Context, doc persistence.Document, pc persistence.Chunk) error {
	meta := map[string]string{
		"doc_id":      doc.ID,
		"filename":    doc.Filename,
		"breadcrumb":  pc.Breadcrumb,
		"chunk_index": strconv.Itoa(pc.Index),
		"image_ids":   strings.Join(pc.AssociatedImageIDs, ","),
	}

	if idx.Search != nil {
		if err := idx.Search.Index(ctx, pc.ID, pc.Text, meta); err != nil {
			return err
		}
	}

	if idx.Vector == nil || idx.Embedder == nil {
		return nil
	}

	content := truncate(pc.Text, maxEmbedChars)
	vecs, err := idx.Embedder.EmbedBatch(ctx, []string{passageInstructionPrefix + content})
	if err != nil {
		return err
	}
	if len(vecs) > 0 {
		contentMeta := withKind(meta, "chunk_id", pc.ID, "kind", "content")
		if err := idx.Vector.Upsert(ctx, pc.ID, vecs[0], contentMeta); err != nil {
			return err
		}
	}

	title := pc.Breadcrumb
	if title == "" {
		title = doc.Title
	}
	if title == "" {
		return nil
	}
	titleVecs, err := idx.Embedder.EmbedBatch(ctx, []string{passageInstructionPrefix + title})
	if err != nil {
		return err
	}
	if len(titleVecs) > 0 {
		titleMeta := withKind(meta, "chunk_id", pc.ID, "kind", "title")
		if err := idx.Vector.Upsert(ctx, pc.ID+"#title", titleVecs[0], titleMeta); err != nil {
			return err
		}
	}
	return nil
}

func withKind(base map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// storeImages writes each extracted image's bytes to the blob store at
// {BasePath}/{sessionID}/{documentID}/{index}.{ext} and persists its Image
// row, returning the assigned ID per input index (empty for any image
// skipped for exceeding MaxFileSizeBytes). Raw images are created before
// composites so a composite's SourceImageIDs can reference its members' real
// IDs (parser.Image always appends composites after the raw images they
// were built from).
func (idx *Indexer) storeImages(ctx context.Context, sessionID, documentID string, images []parser.Image) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}

	ids := make([]string, len(images))
	accepted := make([]bool, len(images))
	for i, img := range images {
		if idx.Cfg.MaxFileSizeBytes > 0 && int64(len(img.Data)) > idx.Cfg.MaxFileSizeBytes {
			observability.LoggerWithTrace(ctx).Warn().
				Str("document_id", documentID).Int("index", i).Int("bytes", len(img.Data)).
				Msg("index: skipping oversize image")
			continue
		}

		key := objectstore.ImageKey(idx.Cfg.BasePath, sessionID, documentID, i, extFor(img.MIMEType))
		if idx.Objects != nil {
			if _, err := idx.Objects.Put(ctx, key, strings.NewReader(string(img.Data)), objectstore.PutOptions{ContentType: img.MIMEType}); err != nil {
				return nil, fmt.Errorf("put image %d: %w", i, err)
			}
		}
		accepted[i] = true
	}

	if idx.Images == nil {
		return ids, nil
	}

	var rawIdx, compositeIdx []int
	for i, img := range images {
		if !accepted[i] {
			continue
		}
		if img.IsComposite {
			compositeIdx = append(compositeIdx, i)
		} else {
			rawIdx = append(rawIdx, i)
		}
	}

	if len(rawIdx) > 0 {
		raw := make([]persistence.Image, len(rawIdx))
		for n, i := range rawIdx {
			raw[n] = imageRow(images[i], sessionID, documentID, i, idx.Cfg.BasePath, nil)
		}
		if err := idx.Images.CreateBatch(ctx, raw); err != nil {
			return nil, fmt.Errorf("create images: %w", err)
		}
		for n, i := range rawIdx {
			ids[i] = raw[n].ID
		}
	}

	if len(compositeIdx) > 0 {
		composites := make([]persistence.Image, len(compositeIdx))
		for n, i := range compositeIdx {
			var sourceIDs []string
			for _, srcIdx := range images[i].SourceIndices {
				if srcIdx >= 0 && srcIdx < len(ids) && ids[srcIdx] != "" {
					sourceIDs = append(sourceIDs, ids[srcIdx])
				}
			}
			composites[n] = imageRow(images[i], sessionID, documentID, i, idx.Cfg.BasePath, sourceIDs)
		}
		if err := idx.Images.CreateBatch(ctx, composites); err != nil {
			return nil, fmt.Errorf("create composite images: %w", err)
		}
		for n, i := range compositeIdx {
			ids[i] = composites[n].ID
		}
	}

	return ids, nil
}

func imageRow(img parser.Image, sessionID, documentID string, index int, basePath string, sourceIDs []string) persistence.Image {
	return persistence.Image{
		DocumentID:     documentID,
		SessionID:      sessionID,
		PageNumber:     img.PageNumber,
		ObjectKey:      fmt.Sprintf("%s/%s/%s/%d.%s", basePath, sessionID, documentID, index, extFor(img.MIMEType)),
		IsComposite:    img.IsComposite,
		SourceImageIDs: sourceIDs,
		Width:          img.Width,
		Height:         img.Height,
	}
}

func extFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	default:
		return "bin"
	}
}
