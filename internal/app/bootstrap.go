package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"docrag/internal/adapter/gemini"
	nsqadapter "docrag/internal/adapter/nsq"
	"docrag/internal/adapter/openai"
	"docrag/internal/adapter/pgqueue"
	"docrag/internal/adapter/pgvector"
	"docrag/internal/adapter/sqlite"
	wstore "docrag/internal/adapter/weaviate"
	"docrag/internal/config"
	"docrag/internal/queue"
	"docrag/internal/vectorstore"
)

var ErrLLMNotConfigured = errors.New("llm provider not configured")

// LLM is the model surface the runtime needs: document and query embeddings
// plus chat completion.
type LLM interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type Dependencies struct {
	// DB is nil unless a provider is backed by Postgres.
	DB          *sql.DB
	VectorStore vectorstore.Store
	Transport   queue.Transport
	// LLM is nil when no API key is configured.
	LLM LLM

	closers []io.Closer
}

// Close releases everything Bootstrap opened, last opened first.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Dependencies) onClose(c io.Closer) {
	d.closers = append(d.closers, c)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}
	fail := func(err error) (*Dependencies, error) {
		if cerr := deps.Close(); cerr != nil {
			slog.Warn("failed to release partial dependencies", "error", cerr)
		}
		return nil, err
	}

	if cfg.NeedsPostgres() {
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		deps.DB = db
		deps.onClose(db)
	}

	store, err := openVectorStore(ctx, cfg, deps)
	if err != nil {
		return fail(err)
	}
	deps.VectorStore = store

	transport, err := openTransport(ctx, cfg, deps.DB)
	if err != nil {
		return fail(err)
	}
	deps.Transport = transport
	deps.onClose(transport)

	llm, err := openLLM(ctx, cfg, deps)
	if err != nil {
		return fail(err)
	}
	deps.LLM = llm

	return deps, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := pingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, cfg.BootstrapRetryDelay()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := migrateUp(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func pingWithRetry(ctx context.Context, db pinger, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			if werr := wait(ctx, delay); werr != nil {
				return werr
			}
		}
	}
	if err == nil {
		err = db.PingContext(ctx)
	}
	return err
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied", "path", path)
	return nil
}

func openVectorStore(ctx context.Context, cfg *config.Config, deps *Dependencies) (vectorstore.Store, error) {
	dim := cfg.EmbeddingDimensions
	switch cfg.VectorStore {
	case config.ProviderPostgres:
		return pgvector.NewStore(deps.DB, dim), nil
	case config.ProviderWeaviate:
		client, err := wstore.NewClient(cfg.WeaviateHost, cfg.WeaviateScheme)
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		store := wstore.NewStore(client, dim)
		if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, cfg.BootstrapRetryDelay()); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		return store, nil
	case config.ProviderSQLite:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
				return nil, fmt.Errorf("sqlite dir: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, cfg.SQLitePath, dim)
		if err != nil {
			return nil, fmt.Errorf("sqlite open error: %w", err)
		}
		deps.onClose(store)
		return store, nil
	default:
		slog.Warn("using in-memory vector store, indexed chunks are lost on exit")
		return vectorstore.NewMemoryStore(dim), nil
	}
}

func openTransport(ctx context.Context, cfg *config.Config, db *sql.DB) (queue.Transport, error) {
	name := queue.Name(cfg.ClientID)
	switch cfg.QueueProvider {
	case config.ProviderPostgres:
		return pgqueue.NewTransport(db, name), nil
	case config.ProviderNSQ:
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		producer.SetLoggerLevel(nsq.LogLevelWarning)
		if cfg.NSQDHTTP != "" {
			// Consumers looking the topic up through nsqlookupd fail until it exists.
			if err := nsqadapter.CreateTopic(ctx, cfg.NSQDHTTP, name); err != nil {
				slog.Warn("failed to create NSQ topic", "topic", name, "error", err)
			}
		}
		return nsqadapter.NewTransport(nsqadapter.Config{
			NSQDAddr:    cfg.NSQDHost,
			LookupAddr:  cfg.NSQLookupd,
			Topic:       name,
			MaxInFlight: cfg.MaxMessages,
		}, producer), nil
	default:
		return queue.NewMemoryTransport(), nil
	}
}

func openLLM(ctx context.Context, cfg *config.Config, deps *Dependencies) (LLM, error) {
	switch cfg.LLMProvider {
	case config.LLMOpenAI:
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			slog.Warn("OPENAI_API_KEY not set, embedding and chat are disabled")
			return nil, nil
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:        cfg.OpenAIBaseURL,
			APIKey:         cfg.OpenAIAPIKey,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
			ChatModel:      cfg.OpenAIChatModel,
			Dimensions:     cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("openai client error: %w", err)
		}
		return client, nil
	default:
		if cfg.GeminiAPIKey == "" {
			slog.Warn("GEMINI_API_KEY not set, embedding and chat are disabled")
			return nil, nil
		}
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel, cfg.GeminiChatModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client error: %w", err)
		}
		deps.onClose(client)
		return client, nil
	}
}

// EnsureSchemaWithRetry calls EnsureSchema until it succeeds, waiting delay
// between attempts.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ensure schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			if werr := wait(ctx, delay); werr != nil {
				return werr
			}
		}
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
