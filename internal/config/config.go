package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

type Config struct {
	ClientID string `envconfig:"CLIENT_ID" default:"default"`

	QueueProvider string `envconfig:"QUEUE_PROVIDER" default:"memory"`
	VectorStore   string `envconfig:"VECTOR_STORE" default:"memory"`
	LLMProvider   string `envconfig:"LLM_PROVIDER" default:"gemini"`

	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"docrag"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"docrag"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD"`

	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/vectors.db"`

	EmbeddingDimensions int `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`

	GeminiAPIKey         string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbeddingModel string `envconfig:"GEMINI_EMBEDDING_MODEL" default:"text-embedding-004"`
	GeminiChatModel      string `envconfig:"GEMINI_CHAT_MODEL" default:"gemini-2.0-flash"`

	OpenAIBaseURL        string `envconfig:"OPENAI_BASE_URL"`
	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OpenAIEmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	OpenAIChatModel      string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-4o-mini"`

	DoclingURL   string `envconfig:"DOCLING_URL" default:"http://docling:5001"`
	XLSConverter string `envconfig:"XLS_CONVERTER" default:"soffice"`

	// Worker
	TaskData                string `envconfig:"TASK_DATA"`
	TaskTimeoutSeconds      int    `envconfig:"WORKER_TASK_TIMEOUT" default:"1800"`
	PollingIntervalSeconds  int    `envconfig:"WORKER_POLLING_INTERVAL" default:"5"`
	VisibilityTimeoutSecond int    `envconfig:"WORKER_VISIBILITY_TIMEOUT" default:"30"`
	MaxMessages             int    `envconfig:"WORKER_MAX_MESSAGES" default:"10"`

	// Watcher
	MonitoredDir       string        `envconfig:"MONITORED_DIR" default:"/data/monitored"`
	ReconcileInterval  time.Duration `envconfig:"RECONCILE_INTERVAL" default:"10m"`
	DefaultDocumentSet string        `envconfig:"DEFAULT_DOCUMENT_SET" default:"default"`

	// Ingestion
	UploadDir              string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	ChunkSize              int    `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap           int    `envconfig:"CHUNK_OVERLAP" default:"100"`
	UpsertBatchSize        int    `envconfig:"UPSERT_BATCH_SIZE" default:"64"`
	ContinueOnBatchFailure bool   `envconfig:"CONTINUE_ON_BATCH_FAILURE" default:"true"`
	IngestPoolSize         int    `envconfig:"INGEST_POOL_SIZE" default:"4"`

	// Server
	HealthPort    int    `envconfig:"HEALTH_PORT" default:"0"`
	QueryLogPath  string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell take precedence, a missing .env is fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("%w: CLIENT_ID", ErrMissingRequired)
	}
	if !slices.Contains(QueueProviders, c.QueueProvider) {
		return fmt.Errorf("%w: QUEUE_PROVIDER=%q", ErrInvalidValue, c.QueueProvider)
	}
	if !slices.Contains(VectorStores, c.VectorStore) {
		return fmt.Errorf("%w: VECTOR_STORE=%q", ErrInvalidValue, c.VectorStore)
	}
	if !slices.Contains(LLMProviders, c.LLMProvider) {
		return fmt.Errorf("%w: LLM_PROVIDER=%q", ErrInvalidValue, c.LLMProvider)
	}
	if c.NeedsPostgres() {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSIONS must be positive", ErrInvalidValue)
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_SIZE=%d CHUNK_OVERLAP=%d", ErrInvalidValue, c.ChunkSize, c.ChunkOverlap)
	}
	if c.UpsertBatchSize <= 0 {
		return fmt.Errorf("%w: UPSERT_BATCH_SIZE must be positive", ErrInvalidValue)
	}
	if c.TaskTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: WORKER_TASK_TIMEOUT must be positive", ErrInvalidValue)
	}
	if c.MaxMessages <= 0 {
		return fmt.Errorf("%w: WORKER_MAX_MESSAGES must be positive", ErrInvalidValue)
	}
	return nil
}

// NeedsPostgres reports whether any configured provider is backed by Postgres.
func (c *Config) NeedsPostgres() bool {
	return c.QueueProvider == ProviderPostgres || c.VectorStore == ProviderPostgres
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalSeconds) * time.Second
}

func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSecond) * time.Second
}

func (c *Config) BootstrapRetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}
