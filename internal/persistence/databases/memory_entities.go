package databases

import (
	"context"
	"sort"
	"sync"
	"time"

	"ragchat/internal/persistence"
)

// memorySessionStore is a process-local SessionStore, useful for local
// development and tests where standing up Postgres is unnecessary.
type memorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]persistence.Session
}

func NewMemorySessionStore() persistence.SessionStore {
	return &memorySessionStore{sessions: make(map[string]persistence.Session)}
}

func (s *memorySessionStore) Create(_ context.Context, sess persistence.Session) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = newID("session")
	}
	if sess.Mode == "" {
		sess.Mode = persistence.ModeExploring
	}
	now := time.Now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memorySessionStore) Get(_ context.Context, id string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return sess, nil
}

func (s *memorySessionStore) List(_ context.Context) ([]persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memorySessionStore) UpdateTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	sess.Title = title
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *memorySessionStore) UpdateMode(_ context.Context, id string, mode persistence.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	sess.Mode = mode
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *memorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// memoryDocumentStore is a process-local DocumentStore.
type memoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]persistence.Document
}

func NewMemoryDocumentStore() persistence.DocumentStore {
	return &memoryDocumentStore{docs: make(map[string]persistence.Document)}
}

func (d *memoryDocumentStore) Create(_ context.Context, doc persistence.Document) (persistence.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc.ID == "" {
		doc.ID = newID("document")
	}
	if doc.Status == "" {
		doc.Status = persistence.DocumentStatusPending
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	d.docs[doc.ID] = doc
	return doc, nil
}

func (d *memoryDocumentStore) Get(_ context.Context, id string) (persistence.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.docs[id]
	if !ok {
		return persistence.Document{}, persistence.ErrNotFound
	}
	return doc, nil
}

func (d *memoryDocumentStore) ListBySession(_ context.Context, sessionID string) ([]persistence.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []persistence.Document
	for _, doc := range d.docs {
		if doc.SessionID == sessionID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *memoryDocumentStore) UpdateStatus(_ context.Context, id string, status persistence.DocumentStatus, failureReason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return persistence.ErrNotFound
	}
	doc.Status = status
	doc.FailureReason = failureReason
	doc.UpdatedAt = time.Now().UTC()
	d.docs[id] = doc
	return nil
}

func (d *memoryDocumentStore) UpdateEnrichment(_ context.Context, id string, summary string, topics []string, chunkCount int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return persistence.ErrNotFound
	}
	doc.Summary = summary
	doc.Topics = topics
	doc.ChunkCount = chunkCount
	doc.UpdatedAt = time.Now().UTC()
	d.docs[id] = doc
	return nil
}

func (d *memoryDocumentStore) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.docs, id)
	return nil
}

// memoryChunkStore is a process-local ChunkStore.
type memoryChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]persistence.Chunk
}

func NewMemoryChunkStore() persistence.ChunkStore {
	return &memoryChunkStore{chunks: make(map[string]persistence.Chunk)}
}

func (c *memoryChunkStore) CreateBatch(_ context.Context, chunks []persistence.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	for _, ch := range chunks {
		if ch.ID == "" {
			ch.ID = newID("chunk")
		}
		ch.CreatedAt = now
		c.chunks[ch.ID] = ch
	}
	return nil
}

func (c *memoryChunkStore) Get(_ context.Context, id string) (persistence.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chunks[id]
	if !ok {
		return persistence.Chunk{}, persistence.ErrNotFound
	}
	return ch, nil
}

func (c *memoryChunkStore) ListByDocument(_ context.Context, documentID string) ([]persistence.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []persistence.Chunk
	for _, ch := range c.chunks {
		if ch.DocumentID == documentID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (c *memoryChunkStore) DeleteByDocument(_ context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.chunks {
		if ch.DocumentID == documentID {
			delete(c.chunks, id)
		}
	}
	return nil
}

// memoryImageStore is a process-local ImageStore.
type memoryImageStore struct {
	mu     sync.RWMutex
	images map[string]persistence.Image
}

func NewMemoryImageStore() persistence.ImageStore {
	return &memoryImageStore{images: make(map[string]persistence.Image)}
}

func (im *memoryImageStore) CreateBatch(_ context.Context, images []persistence.Image) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	now := time.Now().UTC()
	for _, image := range images {
		if image.ID == "" {
			image.ID = newID("image")
		}
		image.CreatedAt = now
		im.images[image.ID] = image
	}
	return nil
}

func (im *memoryImageStore) Get(_ context.Context, id string) (persistence.Image, error) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	image, ok := im.images[id]
	if !ok {
		return persistence.Image{}, persistence.ErrNotFound
	}
	return image, nil
}

func (im *memoryImageStore) ListByDocument(_ context.Context, documentID string) ([]persistence.Image, error) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	var out []persistence.Image
	for _, image := range im.images {
		if image.DocumentID == documentID {
			out = append(out, image)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out, nil
}

func (im *memoryImageStore) DeleteByDocument(_ context.Context, documentID string) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	for id, image := range im.images {
		if image.DocumentID == documentID {
			delete(im.images, id)
		}
	}
	return nil
}

// memoryChatStore is a process-local ChatStore.
type memoryChatStore struct {
	mu        sync.RWMutex
	turns     map[string]persistence.ChatTurn
	bySession map[string][]string // session -> ordered turn IDs
	summaries map[string][]persistence.Summary
}

func NewMemoryChatStore() persistence.ChatStore {
	return &memoryChatStore{
		turns:     make(map[string]persistence.ChatTurn),
		bySession: make(map[string][]string),
		summaries: make(map[string][]persistence.Summary),
	}
}

func (s *memoryChatStore) AppendTurn(_ context.Context, t persistence.ChatTurn) (persistence.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = newID("turn")
	}
	t.CreatedAt = time.Now().UTC()
	s.turns[t.ID] = t
	s.bySession[t.SessionID] = append(s.bySession[t.SessionID], t.ID)
	return t, nil
}

func (s *memoryChatStore) GetTurn(_ context.Context, id string) (persistence.ChatTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.turns[id]
	if !ok {
		return persistence.ChatTurn{}, persistence.ErrNotFound
	}
	return t, nil
}

func (s *memoryChatStore) ListTurns(_ context.Context, sessionID string, limit int) ([]persistence.ChatTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySession[sessionID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]persistence.ChatTurn, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.turns[id])
	}
	return out, nil
}

func (s *memoryChatStore) MarkCompacted(_ context.Context, turnIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range turnIDs {
		t, ok := s.turns[id]
		if !ok {
			continue
		}
		t.Compacted = true
		s.turns[id] = t
	}
	return nil
}

func (s *memoryChatStore) CreateSummary(_ context.Context, sum persistence.Summary) (persistence.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum.ID == "" {
		sum.ID = newID("summary")
	}
	sum.CreatedAt = time.Now().UTC()
	s.summaries[sum.SessionID] = append(s.summaries[sum.SessionID], sum)
	return sum, nil
}

func (s *memoryChatStore) ListSummaries(_ context.Context, sessionID string) ([]persistence.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.Summary, len(s.summaries[sessionID]))
	copy(out, s.summaries[sessionID])
	return out, nil
}

// memoryMemoryStore is a process-local MemoryStore.
type memoryMemoryStore struct {
	mu   sync.RWMutex
	byID map[string]persistence.Memory
}

func NewMemoryMemoryStore() persistence.MemoryStore {
	return &memoryMemoryStore{byID: make(map[string]persistence.Memory)}
}

func (m *memoryMemoryStore) Create(_ context.Context, mem persistence.Memory) (persistence.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem.ID == "" {
		mem.ID = newID("memory")
	}
	mem.CreatedAt = time.Now().UTC()
	m.byID[mem.ID] = mem
	return mem, nil
}

func (m *memoryMemoryStore) ListBySession(_ context.Context, sessionID string) ([]persistence.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []persistence.Memory
	for _, mem := range m.byID {
		if mem.SessionID == sessionID {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out, nil
}

func (m *memoryMemoryStore) UpdateImportance(_ context.Context, id string, importance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.byID[id]
	if !ok {
		return persistence.ErrNotFound
	}
	mem.Importance = importance
	m.byID[id] = mem
	return nil
}

func (m *memoryMemoryStore) Touch(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		if mem, ok := m.byID[id]; ok {
			mem.LastAccessedAt = now
			m.byID[id] = mem
		}
	}
	return nil
}

func (m *memoryMemoryStore) Prune(_ context.Context, sessionID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessionMems []persistence.Memory
	for _, mem := range m.byID {
		if mem.SessionID == sessionID {
			sessionMems = append(sessionMems, mem)
		}
	}
	sort.Slice(sessionMems, func(i, j int) bool { return sessionMems[i].Importance > sessionMems[j].Importance })
	if keep < 0 {
		keep = 0
	}
	if keep >= len(sessionMems) {
		return nil
	}
	for _, mem := range sessionMems[keep:] {
		delete(m.byID, mem.ID)
	}
	return nil
}

func (m *memoryMemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}
