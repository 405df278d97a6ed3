package databases

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragchat/internal/persistence"
)

// bootstrapEntitySchema creates the relational tables backing Session,
// Document, Chunk, Image, ChatTurn, Summary and Memory. Best-effort, mirroring
// the teacher's pattern of ignoring bootstrap errors on non-superuser
// connections that already have the schema in place.
func bootstrapEntitySchema(pool *pgxpool.Pool) {
	ctx := context.Background()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT 'EXPLORING',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			title TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			mime_type TEXT NOT NULL DEFAULT '',
			size_bytes BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'PENDING',
			failure_reason TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			topics TEXT NOT NULL DEFAULT '',
			chunk_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS rag_documents_session_idx ON rag_documents(session_id)`,
		`CREATE TABLE IF NOT EXISTS rag_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL,
			idx INT NOT NULL,
			text TEXT NOT NULL,
			contextual_prefix TEXT NOT NULL DEFAULT '',
			breadcrumb TEXT NOT NULL DEFAULT '',
			offset_start INT NOT NULL DEFAULT 0,
			offset_end INT NOT NULL DEFAULT 0,
			associated_image_ids TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS rag_chunks_document_idx ON rag_chunks(document_id)`,
		`CREATE TABLE IF NOT EXISTS rag_images (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL,
			page_number INT NOT NULL DEFAULT 0,
			object_key TEXT NOT NULL DEFAULT '',
			is_composite BOOLEAN NOT NULL DEFAULT false,
			source_image_ids TEXT NOT NULL DEFAULT '',
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS rag_images_document_idx ON rag_images(document_id)`,
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			mode_used TEXT NOT NULL DEFAULT '',
			retrieved_context_json TEXT NOT NULL DEFAULT '',
			confidence TEXT NOT NULL DEFAULT '',
			compacted BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS chat_turns_session_idx ON chat_turns(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS chat_summaries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			covers_up_to_id TEXT NOT NULL DEFAULT '',
			turn_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS memories_session_idx ON memories(session_id, importance DESC)`,
	}
	for _, s := range stmts {
		_, _ = pool.Exec(ctx, s)
	}
}

func newID(prefix string) string { return prefix + "_" + uuid.NewString() }

func isNoRows(err error) bool { return err != nil && strings.Contains(err.Error(), "no rows") }

// pgSessionStore implements persistence.SessionStore.
type pgSessionStore struct{ pool *pgxpool.Pool }

func NewPostgresSessionStore(pool *pgxpool.Pool) persistence.SessionStore {
	bootstrapEntitySchema(pool)
	return &pgSessionStore{pool: pool}
}

func (s *pgSessionStore) Create(ctx context.Context, sess persistence.Session) (persistence.Session, error) {
	if sess.ID == "" {
		sess.ID = newID("session")
	}
	if sess.Mode == "" {
		sess.Mode = persistence.ModeExploring
	}
	now := time.Now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
INSERT INTO sessions(id, title, mode, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)
`, sess.ID, sess.Title, string(sess.Mode), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return persistence.Session{}, err
	}
	return sess, nil
}

func (s *pgSessionStore) Get(ctx context.Context, id string) (persistence.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, title, mode, created_at, updated_at FROM sessions WHERE id=$1`, id)
	var sess persistence.Session
	var mode string
	if err := row.Scan(&sess.ID, &sess.Title, &mode, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if isNoRows(err) {
			return persistence.Session{}, persistence.ErrNotFound
		}
		return persistence.Session{}, err
	}
	sess.Mode = persistence.Mode(mode)
	return sess, nil
}

func (s *pgSessionStore) List(ctx context.Context) ([]persistence.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, mode, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.Session
	for rows.Next() {
		var sess persistence.Session
		var mode string
		if err := rows.Scan(&sess.ID, &sess.Title, &mode, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sess.Mode = persistence.Mode(mode)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *pgSessionStore) UpdateTitle(ctx context.Context, id, title string) error {
	ct, err := s.pool.Exec(ctx, `UPDATE sessions SET title=$2, updated_at=now() WHERE id=$1`, id, title)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *pgSessionStore) UpdateMode(ctx context.Context, id string, mode persistence.Mode) error {
	ct, err := s.pool.Exec(ctx, `UPDATE sessions SET mode=$2, updated_at=now() WHERE id=$1`, id, string(mode))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *pgSessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	return err
}

// pgDocumentStore implements persistence.DocumentStore.
type pgDocumentStore struct{ pool *pgxpool.Pool }

func NewPostgresDocumentStore(pool *pgxpool.Pool) persistence.DocumentStore {
	bootstrapEntitySchema(pool)
	return &pgDocumentStore{pool: pool}
}

func (d *pgDocumentStore) Create(ctx context.Context, doc persistence.Document) (persistence.Document, error) {
	if doc.ID == "" {
		doc.ID = newID("document")
	}
	if doc.Status == "" {
		doc.Status = persistence.DocumentStatusPending
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	_, err := d.pool.Exec(ctx, `
INSERT INTO rag_documents(id, session_id, title, filename, mime_type, size_bytes, status, failure_reason, summary, topics, chunk_count, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, doc.ID, doc.SessionID, doc.Title, doc.Filename, doc.MIMEType, doc.SizeBytes, string(doc.Status), doc.FailureReason, doc.Summary, strings.Join(doc.Topics, "\x1f"), doc.ChunkCount, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return persistence.Document{}, err
	}
	return doc, nil
}

func scanDocument(row interface {
	Scan(dest ...any) error
}) (persistence.Document, error) {
	var doc persistence.Document
	var status, topics string
	if err := row.Scan(&doc.ID, &doc.SessionID, &doc.Title, &doc.Filename, &doc.MIMEType, &doc.SizeBytes, &status, &doc.FailureReason, &doc.Summary, &topics, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return persistence.Document{}, err
	}
	doc.Status = persistence.DocumentStatus(status)
	if topics != "" {
		doc.Topics = strings.Split(topics, "\x1f")
	}
	return doc, nil
}

func (d *pgDocumentStore) Get(ctx context.Context, id string) (persistence.Document, error) {
	row := d.pool.QueryRow(ctx, `
SELECT id, session_id, title, filename, mime_type, size_bytes, status, failure_reason, summary, topics, chunk_count, created_at, updated_at
FROM rag_documents WHERE id=$1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if isNoRows(err) {
			return persistence.Document{}, persistence.ErrNotFound
		}
		return persistence.Document{}, err
	}
	return doc, nil
}

func (d *pgDocumentStore) ListBySession(ctx context.Context, sessionID string) ([]persistence.Document, error) {
	rows, err := d.pool.Query(ctx, `
SELECT id, session_id, title, filename, mime_type, size_bytes, status, failure_reason, summary, topics, chunk_count, created_at, updated_at
FROM rag_documents WHERE session_id=$1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (d *pgDocumentStore) UpdateStatus(ctx context.Context, id string, status persistence.DocumentStatus, failureReason string) error {
	ct, err := d.pool.Exec(ctx, `
UPDATE rag_documents SET status=$2, failure_reason=$3, updated_at=now() WHERE id=$1`, id, string(status), failureReason)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// UpdateEnrichment records the C3 summary/topics and the final chunk count
// once C1-C4 processing has completed for a document.
func (d *pgDocumentStore) UpdateEnrichment(ctx context.Context, id string, summary string, topics []string, chunkCount int) error {
	ct, err := d.pool.Exec(ctx, `
UPDATE rag_documents SET summary=$2, topics=$3, chunk_count=$4, updated_at=now() WHERE id=$1`,
		id, summary, strings.Join(topics, "\x1f"), chunkCount)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (d *pgDocumentStore) Delete(ctx context.Context, id string) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM rag_documents WHERE id=$1`, id)
	return err
}

// pgChunkStore implements persistence.ChunkStore.
type pgChunkStore struct{ pool *pgxpool.Pool }

func NewPostgresChunkStore(pool *pgxpool.Pool) persistence.ChunkStore {
	bootstrapEntitySchema(pool)
	return &pgChunkStore{pool: pool}
}

func (c *pgChunkStore) CreateBatch(ctx context.Context, chunks []persistence.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	now := time.Now().UTC()
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = newID("chunk")
		}
		chunks[i].CreatedAt = now
		_, err := tx.Exec(ctx, `
INSERT INTO rag_chunks(id, document_id, session_id, idx, text, contextual_prefix, breadcrumb, offset_start, offset_end, associated_image_ids, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, chunks[i].ID, chunks[i].DocumentID, chunks[i].SessionID, chunks[i].Index, chunks[i].Text, chunks[i].ContextualPrefix, chunks[i].Breadcrumb, chunks[i].OffsetStart, chunks[i].OffsetEnd, strings.Join(chunks[i].AssociatedImageIDs, "\x1f"), chunks[i].CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func scanChunk(row interface{ Scan(dest ...any) error }) (persistence.Chunk, error) {
	var ch persistence.Chunk
	var imageIDs string
	if err := row.Scan(&ch.ID, &ch.DocumentID, &ch.SessionID, &ch.Index, &ch.Text, &ch.ContextualPrefix, &ch.Breadcrumb, &ch.OffsetStart, &ch.OffsetEnd, &imageIDs, &ch.CreatedAt); err != nil {
		return persistence.Chunk{}, err
	}
	if imageIDs != "" {
		ch.AssociatedImageIDs = strings.Split(imageIDs, "\x1f")
	}
	return ch, nil
}

func (c *pgChunkStore) Get(ctx context.Context, id string) (persistence.Chunk, error) {
	row := c.pool.QueryRow(ctx, `
SELECT id, document_id, session_id, idx, text, contextual_prefix, breadcrumb, offset_start, offset_end, associated_image_ids, created_at
FROM rag_chunks WHERE id=$1`, id)
	ch, err := scanChunk(row)
	if err != nil {
		if isNoRows(err) {
			return persistence.Chunk{}, persistence.ErrNotFound
		}
		return persistence.Chunk{}, err
	}
	return ch, nil
}

func (c *pgChunkStore) ListByDocument(ctx context.Context, documentID string) ([]persistence.Chunk, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, document_id, session_id, idx, text, contextual_prefix, breadcrumb, offset_start, offset_end, associated_image_ids, created_at
FROM rag_chunks WHERE document_id=$1 ORDER BY idx`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *pgChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM rag_chunks WHERE document_id=$1`, documentID)
	return err
}

// pgImageStore implements persistence.ImageStore.
type pgImageStore struct{ pool *pgxpool.Pool }

func NewPostgresImageStore(pool *pgxpool.Pool) persistence.ImageStore {
	bootstrapEntitySchema(pool)
	return &pgImageStore{pool: pool}
}

func (im *pgImageStore) CreateBatch(ctx context.Context, images []persistence.Image) error {
	if len(images) == 0 {
		return nil
	}
	tx, err := im.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	now := time.Now().UTC()
	for i := range images {
		if images[i].ID == "" {
			images[i].ID = newID("image")
		}
		images[i].CreatedAt = now
		_, err := tx.Exec(ctx, `
INSERT INTO rag_images(id, document_id, session_id, page_number, object_key, is_composite, source_image_ids, width, height, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, images[i].ID, images[i].DocumentID, images[i].SessionID, images[i].PageNumber, images[i].ObjectKey, images[i].IsComposite, strings.Join(images[i].SourceImageIDs, ","), images[i].Width, images[i].Height, images[i].CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func scanImage(row interface{ Scan(dest ...any) error }) (persistence.Image, error) {
	var image persistence.Image
	var sourceIDs string
	if err := row.Scan(&image.ID, &image.DocumentID, &image.SessionID, &image.PageNumber, &image.ObjectKey, &image.IsComposite, &sourceIDs, &image.Width, &image.Height, &image.CreatedAt); err != nil {
		return persistence.Image{}, err
	}
	if sourceIDs != "" {
		image.SourceImageIDs = strings.Split(sourceIDs, ",")
	}
	return image, nil
}

func (im *pgImageStore) Get(ctx context.Context, id string) (persistence.Image, error) {
	row := im.pool.QueryRow(ctx, `
SELECT id, document_id, session_id, page_number, object_key, is_composite, source_image_ids, width, height, created_at
FROM rag_images WHERE id=$1`, id)
	image, err := scanImage(row)
	if err != nil {
		if isNoRows(err) {
			return persistence.Image{}, persistence.ErrNotFound
		}
		return persistence.Image{}, err
	}
	return image, nil
}

func (im *pgImageStore) ListByDocument(ctx context.Context, documentID string) ([]persistence.Image, error) {
	rows, err := im.pool.Query(ctx, `
SELECT id, document_id, session_id, page_number, object_key, is_composite, source_image_ids, width, height, created_at
FROM rag_images WHERE document_id=$1 ORDER BY page_number`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.Image
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, image)
	}
	return out, rows.Err()
}

func (im *pgImageStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := im.pool.Exec(ctx, `DELETE FROM rag_images WHERE document_id=$1`, documentID)
	return err
}

// pgChatStore implements persistence.ChatStore.
type pgChatStore struct{ pool *pgxpool.Pool }

func NewPostgresChatStore(pool *pgxpool.Pool) persistence.ChatStore {
	bootstrapEntitySchema(pool)
	return &pgChatStore{pool: pool}
}

func (s *pgChatStore) AppendTurn(ctx context.Context, t persistence.ChatTurn) (persistence.ChatTurn, error) {
	if t.ID == "" {
		t.ID = newID("turn")
	}
	t.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
INSERT INTO chat_turns(id, session_id, role, content, mode_used, retrieved_context_json, confidence, compacted, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, t.ID, t.SessionID, string(t.Role), t.Content, string(t.ModeUsed), t.RetrievedContextJSON, t.Confidence, t.Compacted, t.CreatedAt)
	if err != nil {
		return persistence.ChatTurn{}, err
	}
	return t, nil
}

func (s *pgChatStore) GetTurn(ctx context.Context, id string) (persistence.ChatTurn, error) {
	var t persistence.ChatTurn
	var role, mode string
	err := s.pool.QueryRow(ctx, `
SELECT id, session_id, role, content, mode_used, retrieved_context_json, confidence, compacted, created_at
FROM chat_turns WHERE id=$1`, id).
		Scan(&t.ID, &t.SessionID, &role, &t.Content, &mode, &t.RetrievedContextJSON, &t.Confidence, &t.Compacted, &t.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return persistence.ChatTurn{}, persistence.ErrNotFound
		}
		return persistence.ChatTurn{}, err
	}
	t.Role = persistence.TurnRole(role)
	t.ModeUsed = persistence.Mode(mode)
	return t, nil
}

func (s *pgChatStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]persistence.ChatTurn, error) {
	query := `
SELECT id, session_id, role, content, mode_used, retrieved_context_json, confidence, compacted, created_at
FROM chat_turns WHERE session_id=$1 ORDER BY created_at`
	args := []any{sessionID}
	if limit > 0 {
		query = `
SELECT id, session_id, role, content, mode_used, retrieved_context_json, confidence, compacted, created_at
FROM (
  SELECT id, session_id, role, content, mode_used, retrieved_context_json, confidence, compacted, created_at
  FROM chat_turns WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2
) recent ORDER BY created_at`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.ChatTurn
	for rows.Next() {
		var t persistence.ChatTurn
		var role, mode string
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &mode, &t.RetrievedContextJSON, &t.Confidence, &t.Compacted, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = persistence.TurnRole(role)
		t.ModeUsed = persistence.Mode(mode)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *pgChatStore) MarkCompacted(ctx context.Context, turnIDs []string) error {
	if len(turnIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE chat_turns SET compacted=true WHERE id = ANY($1)`, turnIDs)
	return err
}

func (s *pgChatStore) CreateSummary(ctx context.Context, sum persistence.Summary) (persistence.Summary, error) {
	if sum.ID == "" {
		sum.ID = newID("summary")
	}
	sum.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
INSERT INTO chat_summaries(id, session_id, content, covers_up_to_id, turn_count, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, sum.ID, sum.SessionID, sum.Content, sum.CoversUpToID, sum.TurnCount, sum.CreatedAt)
	if err != nil {
		return persistence.Summary{}, err
	}
	return sum, nil
}

func (s *pgChatStore) ListSummaries(ctx context.Context, sessionID string) ([]persistence.Summary, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, content, covers_up_to_id, turn_count, created_at
FROM chat_summaries WHERE session_id=$1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.Summary
	for rows.Next() {
		var sum persistence.Summary
		if err := rows.Scan(&sum.ID, &sum.SessionID, &sum.Content, &sum.CoversUpToID, &sum.TurnCount, &sum.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// pgMemoryStore implements persistence.MemoryStore.
type pgMemoryStore struct{ pool *pgxpool.Pool }

func NewPostgresMemoryStore(pool *pgxpool.Pool) persistence.MemoryStore {
	bootstrapEntitySchema(pool)
	return &pgMemoryStore{pool: pool}
}

func (m *pgMemoryStore) Create(ctx context.Context, mem persistence.Memory) (persistence.Memory, error) {
	if mem.ID == "" {
		mem.ID = newID("memory")
	}
	mem.CreatedAt = time.Now().UTC()
	mem.LastAccessedAt = mem.CreatedAt
	_, err := m.pool.Exec(ctx, `
INSERT INTO memories(id, session_id, type, content, importance, created_at, last_accessed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, mem.ID, mem.SessionID, string(mem.Type), mem.Content, mem.Importance, mem.CreatedAt, mem.LastAccessedAt)
	if err != nil {
		return persistence.Memory{}, err
	}
	return mem, nil
}

func (m *pgMemoryStore) ListBySession(ctx context.Context, sessionID string) ([]persistence.Memory, error) {
	rows, err := m.pool.Query(ctx, `
SELECT id, session_id, type, content, importance, created_at, last_accessed_at
FROM memories WHERE session_id=$1 ORDER BY importance DESC, created_at DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.Memory
	for rows.Next() {
		var mem persistence.Memory
		var typ string
		if err := rows.Scan(&mem.ID, &mem.SessionID, &typ, &mem.Content, &mem.Importance, &mem.CreatedAt, &mem.LastAccessedAt); err != nil {
			return nil, err
		}
		mem.Type = persistence.MemoryType(typ)
		out = append(out, mem)
	}
	return out, rows.Err()
}

// UpdateImportance sets a memory's importance, used by dedup to bump an
// existing entry instead of inserting a near-duplicate.
func (m *pgMemoryStore) UpdateImportance(ctx context.Context, id string, importance float64) error {
	ct, err := m.pool.Exec(ctx, `UPDATE memories SET importance=$2 WHERE id=$1`, id, importance)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// Touch updates last_accessed_at for the given memory ids after a retrieval.
func (m *pgMemoryStore) Touch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.pool.Exec(ctx, `UPDATE memories SET last_accessed_at=now() WHERE id = ANY($1)`, ids)
	return err
}

// Prune keeps only the keep highest-importance memories for a session,
// deleting the rest.
func (m *pgMemoryStore) Prune(ctx context.Context, sessionID string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := m.pool.Exec(ctx, `
DELETE FROM memories
WHERE session_id=$1 AND id NOT IN (
  SELECT id FROM memories WHERE session_id=$1
  ORDER BY importance DESC, created_at DESC LIMIT $2
)`, sessionID, keep)
	return err
}

func (m *pgMemoryStore) Delete(ctx context.Context, id string) error {
	_, err := m.pool.Exec(ctx, `DELETE FROM memories WHERE id=$1`, id)
	return err
}

// marshalContext JSON-encodes v, returning "" when encoding fails. Nothing
// in the repository calls it.
func marshalContext(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
