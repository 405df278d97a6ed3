package databases

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// bleveDoc is the indexed document shape: chunk text plus the metadata
// fields used for filtering (doc_id, session_id).
type bleveDoc struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	DocID     string `json:"doc_id"`
}

// bleveSearch implements FullTextSearch on top of an in-process Bleve index,
// either memory-backed or persisted to a directory on disk.
type bleveSearch struct {
	mu    sync.RWMutex
	index bleve.Index
	raw   map[string]bleveDoc
}

// NewBleveSearch opens (or creates) a Bleve index at path. An empty path
// creates an in-memory-only index, matching the teacher's rule-based router
// index construction.
func NewBleveSearch(path string) (FullTextSearch, error) {
	im := newChunkIndexMapping()

	var index bleve.Index
	var err error
	if path == "" {
		index, err = bleve.NewMemOnly(im)
	} else if _, statErr := os.Stat(path); statErr == nil {
		index, err = bleve.Open(path)
	} else {
		index, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &bleveSearch{index: index, raw: make(map[string]bleveDoc)}, nil
}

func newChunkIndexMapping() *mapping.IndexMappingImpl {
	im := mapping.NewIndexMapping()

	docMapping := mapping.NewDocumentMapping()
	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("session_id", mapping.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("doc_id", mapping.NewKeywordFieldMapping())

	im.DefaultMapping = docMapping
	return im
}

func (b *bleveSearch) Index(_ context.Context, id string, text string, metadata map[string]string) error {
	d := bleveDoc{Text: text, SessionID: metadata["session_id"], DocID: metadata["doc_id"]}
	b.mu.Lock()
	b.raw[id] = d
	b.mu.Unlock()
	return b.index.Index(id, d)
}

func (b *bleveSearch) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	delete(b.raw, id)
	b.mu.Unlock()
	return b.index.Delete(id)
}

func (b *bleveSearch) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"text", "session_id", "doc_id"}

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	out := make([]SearchResult, 0, len(res.Hits))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, hit := range res.Hits {
		d := b.raw[hit.ID]
		snippet := d.Text
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		out = append(out, SearchResult{
			ID:      hit.ID,
			Score:   hit.Score,
			Snippet: snippet,
			Text:    d.Text,
			Metadata: map[string]string{
				"session_id": d.SessionID,
				"doc_id":     d.DocID,
			},
		})
	}
	return out, nil
}

func (b *bleveSearch) SnippetForID(_ context.Context, id string, _ string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.raw[id]
	if !ok {
		return "", false
	}
	snippet := d.Text
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return snippet, true
}

func (b *bleveSearch) Close() error {
	return b.index.Close()
}
