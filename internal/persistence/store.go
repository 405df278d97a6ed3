// Package persistence defines the core data model (Session, Document, Chunk,
// Image, ChatTurn, Summary, Memory) and the store interfaces over it. Concrete
// backends (Postgres, Qdrant, Bleve, in-memory) live in the databases
// subpackage.
package persistence

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every store implementation.
var (
	ErrNotFound  = errors.New("persistence: not found")
	ErrForbidden = errors.New("persistence: forbidden")
	ErrConflict  = errors.New("persistence: conflict")
)

// Mode is the session's retrieval posture, driving retrieval count and
// topic-index flavor.
type Mode string

const (
	ModeExploring Mode = "EXPLORING"
	ModeResearch  Mode = "RESEARCH"
	ModeLearning  Mode = "LEARNING"
)

// Session is a user's document-chat workspace.
type Session struct {
	ID        string
	Title     string
	Mode      Mode
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStatus is the C12 document lifecycle state machine.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "PENDING"
	DocumentStatusProcessing DocumentStatus = "PROCESSING"
	DocumentStatusReady      DocumentStatus = "READY"
	DocumentStatusFailed     DocumentStatus = "FAILED"
)

// Document is an uploaded file within a Session.
type Document struct {
	ID            string
	SessionID     string
	Title         string
	Filename      string
	MIMEType      string
	SizeBytes     int64
	Status        DocumentStatus
	FailureReason string
	Summary       string
	Topics        []string
	ChunkCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Chunk is a section-aware slice of a Document's extracted text.
type Chunk struct {
	ID                 string
	DocumentID         string
	SessionID          string
	Index              int
	Text               string
	ContextualPrefix   string
	Breadcrumb         string
	OffsetStart        int
	OffsetEnd          int
	AssociatedImageIDs []string
	CreatedAt          time.Time
}

// Image is an extracted or composite image associated with a Document.
type Image struct {
	ID             string
	DocumentID     string
	SessionID      string
	PageNumber     int
	ObjectKey      string
	IsComposite    bool
	SourceImageIDs []string
	Width          int
	Height         int
	CreatedAt      time.Time
}

// TurnRole distinguishes user/assistant turns.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// ChatTurn is a single message within a Session's conversation.
type ChatTurn struct {
	ID                   string
	SessionID            string
	Role                 TurnRole
	Content              string
	ModeUsed             Mode
	RetrievedContextJSON string
	Confidence           string
	Compacted            bool
	CreatedAt            time.Time
}

// Summary is a compaction artifact replacing a contiguous run of ChatTurns.
type Summary struct {
	ID           string
	SessionID    string
	Content      string
	CoversUpToID string
	TurnCount    int
	CreatedAt    time.Time
}

// MemoryType distinguishes the kind of extracted long-term memory.
type MemoryType string

const (
	MemoryFact       MemoryType = "fact"
	MemoryPreference MemoryType = "preference"
	MemoryDecision   MemoryType = "decision"
)

// Memory is a cross-session durable fact extracted from conversation.
type Memory struct {
	ID             string
	SessionID      string
	Type           MemoryType
	Content        string
	Importance     float64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// SessionStore persists Session rows.
type SessionStore interface {
	Create(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context) ([]Session, error)
	UpdateTitle(ctx context.Context, id, title string) error
	UpdateMode(ctx context.Context, id string, mode Mode) error
	Delete(ctx context.Context, id string) error
}

// DocumentStore persists Document rows.
type DocumentStore interface {
	Create(ctx context.Context, d Document) (Document, error)
	Get(ctx context.Context, id string) (Document, error)
	ListBySession(ctx context.Context, sessionID string) ([]Document, error)
	UpdateStatus(ctx context.Context, id string, status DocumentStatus, failureReason string) error
	UpdateEnrichment(ctx context.Context, id string, summary string, topics []string, chunkCount int) error
	Delete(ctx context.Context, id string) error
}

// ChunkStore persists Chunk rows.
type ChunkStore interface {
	CreateBatch(ctx context.Context, chunks []Chunk) error
	Get(ctx context.Context, id string) (Chunk, error)
	ListByDocument(ctx context.Context, documentID string) ([]Chunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ImageStore persists Image rows.
type ImageStore interface {
	CreateBatch(ctx context.Context, images []Image) error
	Get(ctx context.Context, id string) (Image, error)
	ListByDocument(ctx context.Context, documentID string) ([]Image, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ChatStore persists ChatTurn and Summary rows.
type ChatStore interface {
	AppendTurn(ctx context.Context, t ChatTurn) (ChatTurn, error)
	GetTurn(ctx context.Context, id string) (ChatTurn, error)
	ListTurns(ctx context.Context, sessionID string, limit int) ([]ChatTurn, error)
	MarkCompacted(ctx context.Context, turnIDs []string) error
	CreateSummary(ctx context.Context, s Summary) (Summary, error)
	ListSummaries(ctx context.Context, sessionID string) ([]Summary, error)
}

// MemoryStore persists Memory rows.
type MemoryStore interface {
	Create(ctx context.Context, m Memory) (Memory, error)
	ListBySession(ctx context.Context, sessionID string) ([]Memory, error)
	UpdateImportance(ctx context.Context, id string, importance float64) error
	Touch(ctx context.Context, ids []string) error
	Prune(ctx context.Context, sessionID string, keep int) error
	Delete(ctx context.Context, id string) error
}
