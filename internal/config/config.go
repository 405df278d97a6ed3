// Package config loads process configuration from environment variables (with
// an optional local .env overlay and an optional YAML file overlay), applies
// defaults after the merge, and validates required fields. Every configured
// value can be set purely from the environment; the YAML overlay exists for
// operators who prefer a file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved process configuration.
type Config struct {
	Workdir  string
	LogPath  string
	LogLevel string

	Anthropic  AnthropicConfig
	Embedding  EmbeddingConfig
	Reranker   RerankerConfig
	S3         S3Config
	Databases  DBConfig
	Obs        ObsConfig
	Retrieval  RetrievalConfig
	Memory     MemoryConfig
	Compaction CompactionConfig
	Images     ImageConfig
	Reformulate ReformulationConfig
	Chunking   ChunkingConfig
	Contextual ContextualChunkingConfig
	HTTP       HTTPConfig
	Chat       ChatConfig
	Documents  DocumentsConfig
}

// AnthropicPromptCacheConfig controls Anthropic prompt-caching scope.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic chat provider.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

// EmbeddingConfig configures the embedding HTTP endpoint.
type EmbeddingConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	APIHeader string
	Headers   map[string]string
	Path      string
	Timeout   int
	Dimensions int
}

// RerankerConfig configures the cross-encoder reranker endpoint.
type RerankerConfig struct {
	Enabled   bool
	BaseURL   string
	RawScores bool
	Timeout   int
}

// S3SSEConfig controls server-side encryption of stored image blobs.
type S3SSEConfig struct {
	Mode     string // "", "sse-s3", "sse-kms"
	KMSKeyID string
}

// S3Config configures the object store backing document image blobs.
type S3Config struct {
	Endpoint              string
	Region                string
	Bucket                string
	Prefix                string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// BackendConfig configures one logical storage backend (search, vector, or
// relational) independently, since each may point at a different DSN.
type BackendConfig struct {
	Backend    string // "postgres" | "memory" | "none"
	DSN        string
	Index      string
	Dimensions int
	Metric     string // cosine|l2|ip|manhattan, vector store only
}

// DBConfig configures the three storage backends the hybrid store composes.
type DBConfig struct {
	DefaultDSN string
	Search     BackendConfig
	Vector     BackendConfig
	Relational BackendConfig
}

// ObsConfig configures tracing/metrics export.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// RetrievalConfig configures hybrid search fusion/rerank/diversity.
type RetrievalConfig struct {
	CandidatesMultiplier   int
	RRFK                   int
	Alpha                  float64
	MaxPerDoc              int
	SourceAnchoringEnabled bool
	CountExploring         int
	CountResearch          int
	CountLearning          int
}

// MemoryConfig configures the cross-session memory engine.
type MemoryConfig struct {
	Enabled               bool
	ExtractionThreshold    float64
	MaxPerSession          int
	SemanticWeight         float64
	CandidatePoolMultiplier int
}

// CompactionConfig configures chat history compaction.
type CompactionConfig struct {
	ThresholdFraction float64
	TargetTokens      int
	MinTurns          int
}

// ImageConfig configures image storage and spatial grouping.
type ImageConfig struct {
	BasePath             string
	MaxFileSizeBytes     int64
	SpatialThreshold     float64
	SpatialMinGroupSize  int
	CompositeDPI         int
	CompositePaddingPct  float64
}

// ReformulationConfig configures query reformulation.
type ReformulationConfig struct {
	Enabled           bool
	MinRecentMessages int
	HistoryWindow     int
	MaxQueryLength    int
}

// ChunkingConfig configures chunk sizing.
type ChunkingConfig struct {
	Size    int
	Overlap int
}

// ContextualChunkingConfig configures per-chunk contextual prefixing.
type ContextualChunkingConfig struct {
	Enabled        bool
	MaxSummaryChars int
}

// HTTPConfig configures the REST/SSE listener.
type HTTPConfig struct {
	Addr string
}

// ChatConfig configures the C11 chat orchestrator's model and prompt budget.
type ChatConfig struct {
	Model           string
	MaxPromptChars  int
	RecentTurnCount int
	SummaryCount    int
}

// DocumentsConfig configures C12's upload validation and processing pool.
type DocumentsConfig struct {
	AllowedMIMETypes []string
	MaxUploadBytes   int64
	Workers          int
	QueueSize        int
}

// Load resolves configuration from the environment, an optional local .env
// file, and an optional YAML file named by RAGCHAT_CONFIG_FILE. Environment
// variables always take precedence over the YAML overlay.
func Load() (Config, error) {
	_ = godotenv.Overload()

	var cfg Config
	if path := os.Getenv("RAGCHAT_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Workdir = firstNonEmpty(os.Getenv("WORKDIR"), cfg.Workdir)
	cfg.LogPath = firstNonEmpty(os.Getenv("LOG_PATH"), cfg.LogPath)
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), cfg.LogLevel)

	cfg.Anthropic.APIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), cfg.Anthropic.APIKey)
	cfg.Anthropic.Model = firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), cfg.Anthropic.Model)
	cfg.Anthropic.BaseURL = firstNonEmpty(os.Getenv("ANTHROPIC_BASE_URL"), cfg.Anthropic.BaseURL)
	cfg.Anthropic.PromptCache.Enabled = boolEnv("ANTHROPIC_PROMPT_CACHE_ENABLED", cfg.Anthropic.PromptCache.Enabled)
	cfg.Anthropic.PromptCache.CacheSystem = boolEnv("ANTHROPIC_PROMPT_CACHE_SYSTEM", cfg.Anthropic.PromptCache.CacheSystem)
	cfg.Anthropic.PromptCache.CacheTools = boolEnv("ANTHROPIC_PROMPT_CACHE_TOOLS", cfg.Anthropic.PromptCache.CacheTools)
	cfg.Anthropic.PromptCache.CacheMessages = boolEnv("ANTHROPIC_PROMPT_CACHE_MESSAGES", cfg.Anthropic.PromptCache.CacheMessages)

	cfg.Embedding.BaseURL = firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), cfg.Embedding.BaseURL)
	cfg.Embedding.Model = firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), cfg.Embedding.Model)
	cfg.Embedding.APIKey = firstNonEmpty(os.Getenv("EMBEDDING_API_KEY"), cfg.Embedding.APIKey)
	cfg.Embedding.APIHeader = firstNonEmpty(os.Getenv("EMBEDDING_API_HEADER"), cfg.Embedding.APIHeader)
	cfg.Embedding.Path = firstNonEmpty(os.Getenv("EMBEDDING_PATH"), cfg.Embedding.Path)
	cfg.Embedding.Timeout = intEnv("EMBEDDING_TIMEOUT_SECONDS", cfg.Embedding.Timeout)
	cfg.Embedding.Dimensions = intEnv("EMBEDDING_DIMENSIONS", cfg.Embedding.Dimensions)

	cfg.Reranker.Enabled = boolEnv("RERANKER_ENABLED", cfg.Reranker.Enabled)
	cfg.Reranker.BaseURL = firstNonEmpty(os.Getenv("RERANKER_BASE_URL"), cfg.Reranker.BaseURL)
	cfg.Reranker.RawScores = boolEnv("RERANKER_RAW_SCORES", cfg.Reranker.RawScores)
	cfg.Reranker.Timeout = intEnv("RERANKER_TIMEOUT_SECONDS", cfg.Reranker.Timeout)

	cfg.S3.Endpoint = firstNonEmpty(os.Getenv("S3_ENDPOINT"), cfg.S3.Endpoint)
	cfg.S3.Region = firstNonEmpty(os.Getenv("S3_REGION"), cfg.S3.Region)
	cfg.S3.Bucket = firstNonEmpty(os.Getenv("S3_BUCKET"), cfg.S3.Bucket)
	cfg.S3.Prefix = firstNonEmpty(os.Getenv("S3_PREFIX"), cfg.S3.Prefix)
	cfg.S3.AccessKey = firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), cfg.S3.AccessKey)
	cfg.S3.SecretKey = firstNonEmpty(os.Getenv("S3_SECRET_KEY"), cfg.S3.SecretKey)
	cfg.S3.UsePathStyle = boolEnv("S3_USE_PATH_STYLE", cfg.S3.UsePathStyle)
	cfg.S3.TLSInsecureSkipVerify = boolEnv("S3_TLS_INSECURE_SKIP_VERIFY", cfg.S3.TLSInsecureSkipVerify)
	cfg.S3.SSE.Mode = firstNonEmpty(os.Getenv("S3_SSE_MODE"), cfg.S3.SSE.Mode)
	cfg.S3.SSE.KMSKeyID = firstNonEmpty(os.Getenv("S3_SSE_KMS_KEY_ID"), cfg.S3.SSE.KMSKeyID)

	cfg.Databases.DefaultDSN = firstNonEmpty(os.Getenv("DATABASE_DSN"), cfg.Databases.DefaultDSN)
	applyBackendEnv(&cfg.Databases.Search, "SEARCH")
	applyBackendEnv(&cfg.Databases.Vector, "VECTOR")
	applyBackendEnv(&cfg.Databases.Relational, "RELATIONAL")

	cfg.Obs.ServiceName = firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), cfg.Obs.ServiceName)
	cfg.Obs.ServiceVersion = firstNonEmpty(os.Getenv("OTEL_SERVICE_VERSION"), cfg.Obs.ServiceVersion)
	cfg.Obs.Environment = firstNonEmpty(os.Getenv("OTEL_ENVIRONMENT"), cfg.Obs.Environment)
	cfg.Obs.OTLP = firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), cfg.Obs.OTLP)

	cfg.Retrieval.CandidatesMultiplier = intEnv("RETRIEVAL_CANDIDATES_MULTIPLIER", cfg.Retrieval.CandidatesMultiplier)
	cfg.Retrieval.RRFK = intEnv("RETRIEVAL_RRF_K", cfg.Retrieval.RRFK)
	cfg.Retrieval.Alpha = floatEnv("RETRIEVAL_ALPHA", cfg.Retrieval.Alpha)
	cfg.Retrieval.MaxPerDoc = intEnv("RETRIEVAL_MAX_PER_DOC", cfg.Retrieval.MaxPerDoc)
	cfg.Retrieval.SourceAnchoringEnabled = boolEnv("RETRIEVAL_SOURCE_ANCHORING_ENABLED", cfg.Retrieval.SourceAnchoringEnabled)
	cfg.Retrieval.CountExploring = intEnv("RETRIEVAL_COUNT_EXPLORING", cfg.Retrieval.CountExploring)
	cfg.Retrieval.CountResearch = intEnv("RETRIEVAL_COUNT_RESEARCH", cfg.Retrieval.CountResearch)
	cfg.Retrieval.CountLearning = intEnv("RETRIEVAL_COUNT_LEARNING", cfg.Retrieval.CountLearning)

	cfg.Memory.Enabled = boolEnv("MEMORY_ENABLED", cfg.Memory.Enabled)
	cfg.Memory.ExtractionThreshold = floatEnv("MEMORY_EXTRACTION_THRESHOLD", cfg.Memory.ExtractionThreshold)
	cfg.Memory.MaxPerSession = intEnv("MEMORY_MAX_PER_SESSION", cfg.Memory.MaxPerSession)
	cfg.Memory.SemanticWeight = floatEnv("MEMORY_SEMANTIC_WEIGHT", cfg.Memory.SemanticWeight)
	cfg.Memory.CandidatePoolMultiplier = intEnv("MEMORY_CANDIDATE_POOL_MULTIPLIER", cfg.Memory.CandidatePoolMultiplier)

	cfg.Compaction.ThresholdFraction = floatEnv("COMPACTION_THRESHOLD_FRACTION", cfg.Compaction.ThresholdFraction)
	cfg.Compaction.TargetTokens = intEnv("COMPACTION_TARGET_TOKENS", cfg.Compaction.TargetTokens)
	cfg.Compaction.MinTurns = intEnv("COMPACTION_MIN_TURNS", cfg.Compaction.MinTurns)

	cfg.Images.BasePath = firstNonEmpty(os.Getenv("IMAGE_STORAGE_BASE_PATH"), cfg.Images.BasePath)
	cfg.Images.MaxFileSizeBytes = int64Env("IMAGE_STORAGE_MAX_FILE_SIZE_BYTES", cfg.Images.MaxFileSizeBytes)
	cfg.Images.SpatialThreshold = floatEnv("IMAGE_GROUPING_SPATIAL_THRESHOLD", cfg.Images.SpatialThreshold)
	cfg.Images.SpatialMinGroupSize = intEnv("IMAGE_GROUPING_SPATIAL_MIN_GROUP_SIZE", cfg.Images.SpatialMinGroupSize)
	cfg.Images.CompositeDPI = intEnv("IMAGE_COMPOSITE_DPI", cfg.Images.CompositeDPI)
	cfg.Images.CompositePaddingPct = floatEnv("IMAGE_COMPOSITE_PADDING_PCT", cfg.Images.CompositePaddingPct)

	cfg.Reformulate.Enabled = boolEnv("QUERY_REFORMULATION_ENABLED", cfg.Reformulate.Enabled)
	cfg.Reformulate.MinRecentMessages = intEnv("QUERY_REFORMULATION_MIN_RECENT_MESSAGES", cfg.Reformulate.MinRecentMessages)
	cfg.Reformulate.HistoryWindow = intEnv("QUERY_REFORMULATION_HISTORY_WINDOW", cfg.Reformulate.HistoryWindow)
	cfg.Reformulate.MaxQueryLength = intEnv("QUERY_REFORMULATION_MAX_QUERY_LENGTH", cfg.Reformulate.MaxQueryLength)

	cfg.Chunking.Size = intEnv("CHUNKING_SIZE", cfg.Chunking.Size)
	cfg.Chunking.Overlap = intEnv("CHUNKING_OVERLAP", cfg.Chunking.Overlap)

	cfg.Contextual.Enabled = boolEnv("CONTEXTUAL_CHUNKING_ENABLED", cfg.Contextual.Enabled)
	cfg.Contextual.MaxSummaryChars = intEnv("CONTEXTUAL_CHUNKING_MAX_SUMMARY_CHARS", cfg.Contextual.MaxSummaryChars)

	cfg.HTTP.Addr = firstNonEmpty(os.Getenv("HTTP_ADDR"), cfg.HTTP.Addr)

	cfg.Chat.Model = firstNonEmpty(os.Getenv("CHAT_MODEL"), cfg.Chat.Model)
	cfg.Chat.MaxPromptChars = intEnv("CHAT_MAX_PROMPT_CHARS", cfg.Chat.MaxPromptChars)
	cfg.Chat.RecentTurnCount = intEnv("CHAT_RECENT_TURN_COUNT", cfg.Chat.RecentTurnCount)
	cfg.Chat.SummaryCount = intEnv("CHAT_SUMMARY_COUNT", cfg.Chat.SummaryCount)

	if v := os.Getenv("DOCUMENTS_ALLOWED_MIME_TYPES"); v != "" {
		cfg.Documents.AllowedMIMETypes = strings.Split(v, ",")
	}
	cfg.Documents.MaxUploadBytes = int64Env("DOCUMENTS_MAX_UPLOAD_BYTES", cfg.Documents.MaxUploadBytes)
	cfg.Documents.Workers = intEnv("DOCUMENTS_WORKERS", cfg.Documents.Workers)
	cfg.Documents.QueueSize = intEnv("DOCUMENTS_QUEUE_SIZE", cfg.Documents.QueueSize)
}

func applyBackendEnv(b *BackendConfig, prefix string) {
	b.Backend = firstNonEmpty(os.Getenv(prefix+"_BACKEND"), b.Backend)
	b.DSN = firstNonEmpty(os.Getenv(prefix+"_DSN"), b.DSN)
	b.Index = firstNonEmpty(os.Getenv(prefix+"_INDEX"), b.Index)
	b.Dimensions = intEnv(prefix+"_DIMENSIONS", b.Dimensions)
	b.Metric = firstNonEmpty(os.Getenv(prefix+"_METRIC"), b.Metric)
}

func applyDefaults(cfg *Config) {
	if cfg.Workdir == "" {
		cfg.Workdir = "./data"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = "claude-sonnet-4-5"
	}
	if cfg.Embedding.Path == "" {
		cfg.Embedding.Path = "/v1/embeddings"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Reranker.Timeout == 0 {
		cfg.Reranker.Timeout = 10
	}
	if cfg.Databases.Search.Backend == "" {
		cfg.Databases.Search.Backend = "bleve"
	}
	if cfg.Databases.Vector.Backend == "" {
		cfg.Databases.Vector.Backend = "qdrant"
	}
	if cfg.Databases.Relational.Backend == "" {
		cfg.Databases.Relational.Backend = "postgres"
	}
	if cfg.Databases.Vector.Metric == "" {
		cfg.Databases.Vector.Metric = "cosine"
	}
	if cfg.Databases.Vector.Dimensions == 0 {
		cfg.Databases.Vector.Dimensions = cfg.Embedding.Dimensions
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "ragchat"
	}
	if cfg.Retrieval.CandidatesMultiplier == 0 {
		cfg.Retrieval.CandidatesMultiplier = 4
	}
	if cfg.Retrieval.RRFK == 0 {
		cfg.Retrieval.RRFK = 60
	}
	if cfg.Retrieval.Alpha == 0 {
		cfg.Retrieval.Alpha = 0.5
	}
	if cfg.Retrieval.MaxPerDoc == 0 {
		cfg.Retrieval.MaxPerDoc = 3
	}
	if cfg.Retrieval.CountExploring == 0 {
		cfg.Retrieval.CountExploring = 5
	}
	if cfg.Retrieval.CountResearch == 0 {
		cfg.Retrieval.CountResearch = 10
	}
	if cfg.Retrieval.CountLearning == 0 {
		cfg.Retrieval.CountLearning = 7
	}
	if cfg.Memory.ExtractionThreshold == 0 {
		cfg.Memory.ExtractionThreshold = 0.6
	}
	if cfg.Memory.MaxPerSession == 0 {
		cfg.Memory.MaxPerSession = 200
	}
	if cfg.Memory.SemanticWeight == 0 {
		cfg.Memory.SemanticWeight = 0.7
	}
	if cfg.Memory.CandidatePoolMultiplier == 0 {
		cfg.Memory.CandidatePoolMultiplier = 3
	}
	if cfg.Compaction.ThresholdFraction == 0 {
		cfg.Compaction.ThresholdFraction = 0.8
	}
	if cfg.Compaction.TargetTokens == 0 {
		cfg.Compaction.TargetTokens = 2000
	}
	if cfg.Compaction.MinTurns == 0 {
		cfg.Compaction.MinTurns = 4
	}
	if cfg.Images.BasePath == "" {
		cfg.Images.BasePath = "documents"
	}
	if cfg.Images.MaxFileSizeBytes == 0 {
		cfg.Images.MaxFileSizeBytes = 50 * 1024 * 1024
	}
	if cfg.Images.SpatialThreshold == 0 {
		cfg.Images.SpatialThreshold = 100
	}
	if cfg.Images.SpatialMinGroupSize == 0 {
		cfg.Images.SpatialMinGroupSize = 2
	}
	if cfg.Images.CompositeDPI == 0 {
		cfg.Images.CompositeDPI = 150
	}
	if cfg.Images.CompositePaddingPct == 0 {
		cfg.Images.CompositePaddingPct = 0.05
	}
	if cfg.Reformulate.MinRecentMessages == 0 {
		cfg.Reformulate.MinRecentMessages = 2
	}
	if cfg.Reformulate.HistoryWindow == 0 {
		cfg.Reformulate.HistoryWindow = 10
	}
	if cfg.Reformulate.MaxQueryLength == 0 {
		cfg.Reformulate.MaxQueryLength = 2000
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 400
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 50
	}
	if cfg.Contextual.MaxSummaryChars == 0 {
		cfg.Contextual.MaxSummaryChars = 400
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = cfg.Anthropic.Model
	}
	if cfg.Chat.MaxPromptChars == 0 {
		cfg.Chat.MaxPromptChars = 60_000
	}
	if cfg.Chat.RecentTurnCount == 0 {
		cfg.Chat.RecentTurnCount = 10
	}
	if cfg.Chat.SummaryCount == 0 {
		cfg.Chat.SummaryCount = 5
	}
	if len(cfg.Documents.AllowedMIMETypes) == 0 {
		cfg.Documents.AllowedMIMETypes = []string{
			"application/pdf",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/epub+zip",
			"text/plain",
			"text/markdown",
			"text/html",
		}
	}
	if cfg.Documents.MaxUploadBytes == 0 {
		cfg.Documents.MaxUploadBytes = 50 * 1024 * 1024
	}
	if cfg.Documents.Workers == 0 {
		cfg.Documents.Workers = 4
	}
	if cfg.Documents.QueueSize == 0 {
		cfg.Documents.QueueSize = 64
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Anthropic.APIKey) == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY required")
	}
	if strings.TrimSpace(cfg.Embedding.BaseURL) == "" {
		return fmt.Errorf("EMBEDDING_BASE_URL required")
	}
	if cfg.Databases.Relational.Backend == "postgres" && strings.TrimSpace(firstNonEmpty(cfg.Databases.Relational.DSN, cfg.Databases.DefaultDSN)) == "" {
		return fmt.Errorf("DATABASE_DSN required for postgres backend")
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func boolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func intEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func int64Env(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func floatEnv(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// DSNOrDefault returns the effective DSN for a backend, falling back to the default.
func (b BackendConfig) DSNOrDefault(fallback string) string {
	return firstNonEmpty(b.DSN, fallback)
}
