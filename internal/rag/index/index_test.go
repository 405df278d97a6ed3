package index

import (
	"context"
	"io"
	"testing"

	"ragchat/internal/config"
	"ragchat/internal/objectstore"
	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
	"ragchat/internal/rag/chunker"
	"ragchat/internal/rag/enrich"
	"ragchat/internal/rag/parser"
)

type fakeSearch struct {
	docs map[string]string
	meta map[string]map[string]string
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{docs: map[string]string{}, meta: map[string]map[string]string{}}
}

func (f *fakeSearch) Index(ctx context.Context, id, text string, metadata map[string]string) error {
	f.docs[id] = text
	f.meta[id] = metadata
	return nil
}
func (f *fakeSearch) Remove(ctx context.Context, id string) error {
	delete(f.docs, id)
	delete(f.meta, id)
	return nil
}
func (f *fakeSearch) Search(ctx context.Context, query string, limit int) ([]databases.SearchResult, error) {
	return nil, nil
}
func (f *fakeSearch) SnippetForID(ctx context.Context, id, query string) (string, bool) {
	return "", false
}

type fakeVector struct {
	vecs map[string][]float32
	meta map[string]map[string]string
}

func newFakeVector() *fakeVector {
	return &fakeVector{vecs: map[string][]float32{}, meta: map[string]map[string]string{}}
}

func (f *fakeVector) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	f.vecs[id] = vector
	f.meta[id] = metadata
	return nil
}
func (f *fakeVector) Delete(ctx context.Context, id string) error {
	delete(f.vecs, id)
	delete(f.meta, id)
	return nil
}
func (f *fakeVector) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]databases.VectorResult, error) {
	return nil, nil
}
func (f *fakeVector) Dimension() int { return 4 }

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3, 4}
	}
	return out, nil
}
func (fakeEmbedder) Name() string      { return "fake" }
func (fakeEmbedder) Dimension() int    { return 4 }
func (fakeEmbedder) Ping(context.Context) error { return nil }

type fakeObjects struct {
	put map[string][]byte
}

func newFakeObjects() *fakeObjects { return &fakeObjects{put: map[string][]byte{}} }

func (f *fakeObjects) Get(ctx context.Context, key string) (io.ReadCloser, objectstore.ObjectAttrs, error) {
	return nil, objectstore.ObjectAttrs{}, objectstore.ErrNotFound
}
func (f *fakeObjects) Put(ctx context.Context, key string, r io.Reader, opts objectstore.PutOptions) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.put[key] = b
	return "etag", nil
}
func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	delete(f.put, key)
	return nil
}
func (f *fakeObjects) List(ctx context.Context, opts objectstore.ListOptions) (objectstore.ListResult, error) {
	return objectstore.ListResult{}, nil
}
func (f *fakeObjects) Head(ctx context.Context, key string) (objectstore.ObjectAttrs, error) {
	return objectstore.ObjectAttrs{}, objectstore.ErrNotFound
}
func (f *fakeObjects) Copy(ctx context.Context, srcKey, dstKey string) error {
	f.put[dstKey] = f.put[srcKey]
	return nil
}
func (f *fakeObjects) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.put[key]
	return ok, nil
}

type fakeChunkStore struct {
	created []persistence.Chunk
	seq     int
}

func (f *fakeChunkStore) CreateBatch(ctx context.Context, chunks []persistence.Chunk) error {
	for i := range chunks {
		if chunks[i].ID == "" {
			f.seq++
			chunks[i].ID = "chunk_" + string(rune('a'+f.seq-1))
		}
	}
	f.created = append(f.created, chunks...)
	return nil
}
func (f *fakeChunkStore) Get(ctx context.Context, id string) (persistence.Chunk, error) {
	for _, c := range f.created {
		if c.ID == id {
			return c, nil
		}
	}
	return persistence.Chunk{}, persistence.ErrNotFound
}
func (f *fakeChunkStore) ListByDocument(ctx context.Context, documentID string) ([]persistence.Chunk, error) {
	return f.created, nil
}
func (f *fakeChunkStore) DeleteByDocument(ctx context.Context, documentID string) error { return nil }

type fakeImageStore struct {
	created []persistence.Image
	seq     int
}

func (f *fakeImageStore) CreateBatch(ctx context.Context, images []persistence.Image) error {
	for i := range images {
		if images[i].ID == "" {
			f.seq++
			images[i].ID = "image_" + string(rune('a'+f.seq-1))
		}
	}
	f.created = append(f.created, images...)
	return nil
}
func (f *fakeImageStore) Get(ctx context.Context, id string) (persistence.Image, error) {
	for _, img := range f.created {
		if img.ID == id {
			return img, nil
		}
	}
	return persistence.Image{}, persistence.ErrNotFound
}
func (f *fakeImageStore) ListByDocument(ctx context.Context, documentID string) ([]persistence.Image, error) {
	return f.created, nil
}
func (f *fakeImageStore) DeleteByDocument(ctx context.Context, documentID string) error { return nil }

func testIndexer() (*Indexer, *fakeSearch, *fakeVector, *fakeObjects, *fakeChunkStore, *fakeImageStore) {
	s := newFakeSearch()
	v := newFakeVector()
	o := newFakeObjects()
	c := &fakeChunkStore{}
	im := &fakeImageStore{}
	idx := &Indexer{
		Search:   s,
		Vector:   v,
		Embedder: fakeEmbedder{},
		Objects:  o,
		Images:   im,
		Chunks:   c,
		Cfg:      config.ImageConfig{BasePath: "docs", MaxFileSizeBytes: 100},
	}
	return idx, s, v, o, c, im
}

func TestIndexDocument_IndexesChunkIntoSearchAndVector(t *testing.T) {
	idx, search, vector, _, chunks, _ := testIndexer()
	doc := persistence.Document{ID: "doc1", SessionID: "sess1", Title: "My Doc", Filename: "my.md"}
	parsed := parser.ParsedDocument{FullText: "hello world"}
	cks := []chunker.Chunk{{Index: 0, Text: "hello world", Breadcrumb: []string{"Intro"}, DocumentOffset: 0}}
	enriched := []enrich.EnrichedChunk{{EnrichedContent: "hello world", ContextPrefix: ""}}

	if err := idx.IndexDocument(context.Background(), doc, parsed, cks, enriched); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks.created) != 1 {
		t.Fatalf("expected 1 persisted chunk, got %d", len(chunks.created))
	}
	id := chunks.created[0].ID
	if _, ok := search.docs[id]; !ok {
		t.Fatalf("expected chunk %s indexed in search", id)
	}
	if _, ok := vector.vecs[id]; !ok {
		t.Fatalf("expected content vector stored under canonical id %s", id)
	}
	titleMeta, ok := vector.meta[id+"#title"]
	if !ok {
		t.Fatalf("expected title vector stored under %s#title", id)
	}
	if titleMeta["chunk_id"] != id || titleMeta["kind"] != "title" {
		t.Fatalf("expected title vector tagged with chunk_id=%s kind=title, got %+v", id, titleMeta)
	}
	if vector.meta[id]["kind"] != "content" {
		t.Fatalf("expected content vector tagged kind=content, got %+v", vector.meta[id])
	}
}

func TestIndexDocument_SkipsTitleVectorWhenNoBreadcrumbOrTitle(t *testing.T) {
	idx, _, vector, _, chunks, _ := testIndexer()
	doc := persistence.Document{ID: "doc1", SessionID: "sess1"}
	cks := []chunker.Chunk{{Index: 0, Text: "plain text", Breadcrumb: nil, DocumentOffset: 0}}
	enriched := []enrich.EnrichedChunk{{EnrichedContent: "plain text"}}

	if err := idx.IndexDocument(context.Background(), doc, parser.ParsedDocument{}, cks, enriched); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := chunks.created[0].ID
	if _, ok := vector.vecs[id+"#title"]; ok {
		t.Fatalf("expected no title vector when chunk has no breadcrumb and doc has no title")
	}
}

func TestStoreImages_SkipsOversizeImage(t *testing.T) {
	idx, _, _, objects, _, images := testIndexer()
	small := parser.Image{Data: []byte("ok"), MIMEType: "image/png"}
	big := parser.Image{Data: make([]byte, 200), MIMEType: "image/png"}

	ids, err := idx.storeImages(context.Background(), "sess1", "doc1", []parser.Image{small, big})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids[0] == "" {
		t.Fatalf("expected small image to get an id")
	}
	if ids[1] != "" {
		t.Fatalf("expected oversize image to be skipped, got id %q", ids[1])
	}
	if len(images.created) != 1 {
		t.Fatalf("expected only 1 image row created, got %d", len(images.created))
	}
	if len(objects.put) != 1 {
		t.Fatalf("expected only 1 object put, got %d", len(objects.put))
	}
}

func TestStoreImages_CompositeGetsResolvedSourceImageIDs(t *testing.T) {
	idx, _, _, _, _, images := testIndexer()
	raw1 := parser.Image{Data: []byte("a"), MIMEType: "image/png"}
	raw2 := parser.Image{Data: []byte("b"), MIMEType: "image/png"}
	composite := parser.Image{Data: []byte("composite"), MIMEType: "image/png", IsComposite: true, SourceIndices: []int{0, 1}}

	ids, err := idx.storeImages(context.Background(), "sess1", "doc1", []parser.Image{raw1, raw2, composite})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids[0] == "" || ids[1] == "" || ids[2] == "" {
		t.Fatalf("expected all three images to get ids, got %v", ids)
	}

	var compositeRow persistence.Image
	found := false
	for _, img := range images.created {
		if img.ID == ids[2] {
			compositeRow = img
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find composite image row")
	}
	if len(compositeRow.SourceImageIDs) != 2 {
		t.Fatalf("expected composite to carry 2 source image ids, got %v", compositeRow.SourceImageIDs)
	}
	if compositeRow.SourceImageIDs[0] != ids[0] || compositeRow.SourceImageIDs[1] != ids[1] {
		t.Fatalf("expected composite source ids to match raw image ids %v/%v, got %v", ids[0], ids[1], compositeRow.SourceImageIDs)
	}
}
