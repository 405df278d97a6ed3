package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"ragchat/internal/config"
	"ragchat/internal/documents"
	"ragchat/internal/objectstore"
	"ragchat/internal/persistence"
	"ragchat/internal/persistence/databases"
	"ragchat/internal/rag/embedder"
	"ragchat/internal/rag/index"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]persistence.Session
	seq      int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]persistence.Session{}}
}

func (f *fakeSessionStore) Create(ctx context.Context, s persistence.Session) (persistence.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	s.ID = "sess_" + string(rune('a'+f.seq-1))
	f.sessions[s.ID] = s
	return s, nil
}
func (f *fakeSessionStore) Get(ctx context.Context, id string) (persistence.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return s, nil
}
func (f *fakeSessionStore) List(ctx context.Context) ([]persistence.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]persistence.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeSessionStore) UpdateTitle(ctx context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	s.Title = title
	f.sessions[id] = s
	return nil
}
func (f *fakeSessionStore) UpdateMode(ctx context.Context, id string, mode persistence.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	s.Mode = mode
	f.sessions[id] = s
	return nil
}
func (f *fakeSessionStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(f.sessions, id)
	return nil
}

type fakeDocumentStore struct {
	mu   sync.Mutex
	docs map[string]persistence.Document
	seq  int
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{docs: map[string]persistence.Document{}}
}

func (f *fakeDocumentStore) Create(ctx context.Context, d persistence.Document) (persistence.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	d.ID = "doc_" + string(rune('a'+f.seq-1))
	f.docs[d.ID] = d
	return d, nil
}
func (f *fakeDocumentStore) Get(ctx context.Context, id string) (persistence.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return persistence.Document{}, persistence.ErrNotFound
	}
	return d, nil
}
func (f *fakeDocumentStore) ListBySession(ctx context.Context, sessionID string) ([]persistence.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []persistence.Document
	for _, d := range f.docs {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeDocumentStore) UpdateStatus(ctx context.Context, id string, status persistence.DocumentStatus, failureReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[id]
	d.Status = status
	d.FailureReason = failureReason
	f.docs[id] = d
	return nil
}
func (f *fakeDocumentStore) UpdateEnrichment(ctx context.Context, id string, summary string, topics []string, chunkCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[id]
	d.Summary = summary
	d.Topics = topics
	d.ChunkCount = chunkCount
	f.docs[id] = d
	return nil
}
func (f *fakeDocumentStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

type fakeChunkStore struct {
	mu     sync.Mutex
	chunks map[string][]persistence.Chunk
}

func newFakeChunkStore() *fakeChunkStore { return &fakeChunkStore{chunks: map[string][]persistence.Chunk{}} }

func (f *fakeChunkStore) CreateBatch(ctx context.Context, chunks []persistence.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = "chunk_x"
		}
		f.chunks[chunks[i].DocumentID] = append(f.chunks[chunks[i].DocumentID], chunks[i])
	}
	return nil
}
func (f *fakeChunkStore) Get(ctx context.Context, id string) (persistence.Chunk, error) {
	return persistence.Chunk{}, persistence.ErrNotFound
}
func (f *fakeChunkStore) ListByDocument(ctx context.Context, documentID string) ([]persistence.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[documentID], nil
}
func (f *fakeChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, documentID)
	return nil
}

type fakeImageStore struct {
	mu     sync.Mutex
	images map[string]persistence.Image
	byDoc  map[string][]persistence.Image
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{images: map[string]persistence.Image{}, byDoc: map[string][]persistence.Image{}}
}

func (f *fakeImageStore) CreateBatch(ctx context.Context, images []persistence.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range images {
		if images[i].ID == "" {
			images[i].ID = "image_x"
		}
		f.images[images[i].ID] = images[i]
		f.byDoc[images[i].DocumentID] = append(f.byDoc[images[i].DocumentID], images[i])
	}
	return nil
}
func (f *fakeImageStore) Get(ctx context.Context, id string) (persistence.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return persistence.Image{}, persistence.ErrNotFound
	}
	return img, nil
}
func (f *fakeImageStore) ListByDocument(ctx context.Context, documentID string) ([]persistence.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byDoc[documentID], nil
}
func (f *fakeImageStore) DeleteByDocument(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byDoc, documentID)
	return nil
}

type fakeSearch struct{}

func (fakeSearch) Index(ctx context.Context, id, text string, metadata map[string]string) error {
	return nil
}
func (fakeSearch) Remove(ctx context.Context, id string) error { return nil }
func (fakeSearch) Search(ctx context.Context, query string, limit int) ([]databases.SearchResult, error) {
	return nil, nil
}
func (fakeSearch) SnippetForID(ctx context.Context, id, query string) (string, bool) { return "", false }

type fakeVector struct{}

func (fakeVector) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	return nil
}
func (fakeVector) Delete(ctx context.Context, id string) error { return nil }
func (fakeVector) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]databases.VectorResult, error) {
	return nil, nil
}
func (fakeVector) Dimension() int { return 4 }

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3, 4}
	}
	return out, nil
}
func (fakeEmbedder) Name() string               { return "fake" }
func (fakeEmbedder) Dimension() int             { return 4 }
func (fakeEmbedder) Ping(context.Context) error { return nil }

var _ embedder.Embedder = fakeEmbedder{}

type fakeObjects struct {
	mu  sync.Mutex
	put map[string][]byte
	ct  map[string]string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{put: map[string][]byte{}, ct: map[string]string{}}
}

func (f *fakeObjects) Get(ctx context.Context, key string) (io.ReadCloser, objectstore.ObjectAttrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.put[key]
	if !ok {
		return nil, objectstore.ObjectAttrs{}, objectstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), objectstore.ObjectAttrs{ContentType: f.ct[key]}, nil
}
func (f *fakeObjects) Put(ctx context.Context, key string, r io.Reader, opts objectstore.PutOptions) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.put[key] = b
	f.ct[key] = opts.ContentType
	f.mu.Unlock()
	return "etag", nil
}
func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put[dstKey] = f.put[srcKey]
	return nil
}
func (f *fakeObjects) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.put[key]
	return ok, nil
}

func testServer(t *testing.T) (*Server, *fakeSessionStore, *fakeDocumentStore, *fakeImageStore, *fakeObjects) {
	t.Helper()
	sessions := newFakeSessionStore()
	docs := newFakeDocumentStore()
	chunks := newFakeChunkStore()
	images := newFakeImageStore()
	objects := newFakeObjects()

	idx := &index.Indexer{
		Search:   fakeSearch{},
		Vector:   fakeVector{},
		Embedder: fakeEmbedder{},
		Objects:  objects,
		Images:   images,
		Chunks:   chunks,
		Cfg:      config.ImageConfig{BasePath: "docs", MaxFileSizeBytes: 1 << 20},
	}
	lifecycle := documents.New(sessions, docs, chunks, images, fakeSearch{}, fakeVector{}, objects, nil, idx,
		config.DocumentsConfig{
			AllowedMIMETypes: []string{"text/markdown", "text/plain"},
			MaxUploadBytes:   1 << 20,
			Workers:          2,
			QueueSize:        8,
		},
		config.ImageConfig{BasePath: "docs"},
		config.ChunkingConfig{Size: 400, Overlap: 50},
	)

	s := NewServer(&Server{
		Sessions:  sessions,
		Documents: docs,
		Images:    images,
		Lifecycle: lifecycle,
		Objects:   objects,
	})
	return s, sessions, docs, images, objects
}

func TestCreateSession_ReturnsCreatedSession(t *testing.T) {
	s, _, _, _, _ := testServer(t)
	body := bytes.NewBufferString(`{"title":"My Session"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got persistence.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Title != "My Session" || got.ID == "" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestGetSession_NotFoundReturnsStableErrorEnvelope(t *testing.T) {
	s, _, _, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if env.Code != "SESSION_001" || env.ErrorID == "" || env.Path != "/api/sessions/missing" {
		t.Fatalf("unexpected error envelope: %+v", env)
	}
}

func TestUploadDocument_MultipartCreatesPendingDocument(t *testing.T) {
	s, sessions, docs, _, objects := testServer(t)
	sess, _ := sessions.Create(context.Background(), persistence.Session{Title: ""})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "Notes.md")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("# Notes\n\nSome content.")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sess.ID+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got persistence.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != persistence.DocumentStatusPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
	if _, err := docs.Get(context.Background(), got.ID); err != nil {
		t.Fatalf("expected document row to exist: %v", err)
	}
	if len(objects.put) == 0 {
		t.Fatalf("expected raw bytes stored in object store")
	}
}

func TestGetImage_ServesBlobWithContentType(t *testing.T) {
	s, _, _, images, objects := testServer(t)
	images.images["image_1"] = persistence.Image{ID: "image_1", DocumentID: "doc_1", ObjectKey: "docs/sess1/doc_1/0.png"}
	objects.put["docs/sess1/doc_1/0.png"] = []byte("pngbytes")
	objects.ct["docs/sess1/doc_1/0.png"] = "image/png"

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess1/images/image_1", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("expected image/png content type, got %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != "pngbytes" {
		t.Fatalf("expected blob bytes passed through, got %q", rec.Body.String())
	}
}

func TestHealth_ReturnsOK(t *testing.T) {
	s, _, _, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSSEWriter_ForwardsEventsAsNamedFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w, ok := newSSEWriter(rec)
	if !ok {
		t.Fatalf("expected recorder to satisfy http.Flusher")
	}
	w.send("token", map[string]string{"content": "hi"})

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected text/event-stream content type, got %q", got)
	}
	body := rec.Body.String()
	if !bytes.Contains([]byte(body), []byte("event: token\ndata: {\"content\":\"hi\"}\n\n")) {
		t.Fatalf("unexpected SSE frame: %q", body)
	}
}
