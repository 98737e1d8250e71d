package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/panjf2000/ants/v2"

	"docrag/internal/blob"
	"docrag/internal/config"
	"docrag/internal/convert"
	"docrag/internal/documents"
	"docrag/internal/ingest"
	"docrag/internal/job"
	"docrag/internal/middleware"
	"docrag/internal/queue"
	"docrag/internal/retrieval"
	"docrag/internal/retry"
	"docrag/internal/summarize"
	"docrag/internal/summary"
	"docrag/internal/task"
	"docrag/internal/text"
	"docrag/internal/watcher"
	"docrag/internal/worker"
)

// ErrNoDatabase is returned by operations that need Postgres when no
// provider is configured for it.
var ErrNoDatabase = errors.New("operation requires a postgres-backed provider")

// Runtime holds the wired services shared by every command.
type Runtime struct {
	cfg  *config.Config
	deps *Dependencies

	Queue      *queue.Service
	Blobs      *blob.FileStore
	Converters *convert.StrategyProvider
	Pipeline   *ingest.Pipeline
	Summarizer *summarize.Summarizer
	Runner     *worker.Runner
	Poller     *worker.Poller
	Watcher    *watcher.Watcher
	Retrieval  *retrieval.Service
	Documents  *documents.Service
	// Jobs and Summaries are nil without a database.
	Jobs      *job.Service
	Summaries summary.Repository

	pool     *ants.Pool
	queryLog *retrieval.QueryLog
}

func NewRuntime(cfg *config.Config, deps *Dependencies) (*Runtime, error) {
	blobs, err := blob.NewFileStore(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	pool, err := ants.NewPool(cfg.IngestPoolSize)
	if err != nil {
		return nil, fmt.Errorf("ingest pool: %w", err)
	}

	queryLog, err := retrieval.OpenQueryLog(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("query log unavailable, queries will not be recorded", "path", cfg.QueryLogPath, "error", err)
	}

	llm := deps.LLM
	if llm == nil {
		llm = disabledLLM{}
	}

	rt := &Runtime{cfg: cfg, deps: deps, Blobs: blobs, pool: pool, queryLog: queryLog}

	rt.Queue = queue.NewService(deps.Transport, queue.WithRetryPolicy(retry.QueuePolicy))
	rt.Converters = convert.NewStrategyProvider(convert.DoclingFactory(cfg.DoclingURL))
	normalizer := convert.NewXLSNormalizer(cfg.XLSConverter)

	rt.Pipeline = ingest.New(deps.VectorStore, llm, rt.Converters,
		ingest.WithSplitter(text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)),
		ingest.WithNormalizer(normalizer),
		ingest.WithPool(pool),
		ingest.WithBatchSize(cfg.UpsertBatchSize),
		ingest.WithContinueOnBatchFailure(cfg.ContinueOnBatchFailure),
	)
	rt.Summarizer = summarize.New(llm, rt.Converters, normalizer)

	if deps.DB != nil {
		rt.Summaries = summary.NewPostgresRepo(deps.DB)
		rt.Jobs = job.NewService(job.NewPostgresRepo(deps.DB), rt.Queue)
	}

	registry := worker.NewRegistry()
	registry.Register(task.TypeIngest, worker.NewIngestHandler(rt.Pipeline, blobs))
	var summaries worker.SummaryStore
	if rt.Summaries != nil {
		summaries = rt.Summaries
	}
	registry.Register(task.TypeSummarize, worker.NewSummarizeHandler(rt.Summarizer, blobs, summaries))

	opts := []worker.RunnerOption{
		worker.WithTimeout(cfg.TaskTimeout()),
		worker.WithStatusReporter(rt.Queue),
	}
	if rt.Jobs != nil {
		opts = append(opts, worker.WithDeadLetter(rt.Jobs))
	}
	rt.Runner = worker.NewRunner(registry, opts...)
	rt.Poller = worker.NewPoller(rt.Queue, rt.Runner, worker.PollerConfig{
		MaxMessages:       cfg.MaxMessages,
		VisibilityTimeout: cfg.VisibilityTimeout(),
		PollingInterval:   cfg.PollingInterval(),
	})

	rt.Watcher = watcher.New(watcher.Config{
		Root:              cfg.MonitoredDir,
		DefaultSet:        cfg.DefaultDocumentSet,
		ReconcileInterval: cfg.ReconcileInterval,
		Pipeline:          string(convert.StrategyStandard),
	}, deps.VectorStore, rt.Queue)

	rt.Retrieval = retrieval.NewService(llm, deps.VectorStore, llm, queryLog)
	rt.Documents = documents.NewService(deps.VectorStore, blobs)

	return rt, nil
}

// Upload copies a local file into blob storage and queues it for ingestion.
func (r *Runtime) Upload(ctx context.Context, path, documentSet, pipeline, webhook string) (string, error) {
	if documentSet == "" {
		documentSet = r.cfg.DefaultDocumentSet
	}
	strategy, err := convert.ParseStrategy(pipeline)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, pipeline)
	}

	f, err := os.Open(filepath.Clean(path)) // #nosec G304 -- path comes from the operator's command line
	if err != nil {
		return "", err
	}
	defer f.Close()

	filename := filepath.Base(path)
	if _, err := r.Blobs.Upload(ctx, documentSet, filename, f); err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}

	payload := task.IngestPayload{Filename: filename, DocumentSet: documentSet, Pipeline: string(strategy)}
	return r.Queue.Submit(ctx, task.TypeIngest, payload, queue.WithWebhook(webhook))
}

// RequestSummary queues a summary of an already uploaded document.
func (r *Runtime) RequestSummary(ctx context.Context, filename, documentSet, webhook string) (string, error) {
	if documentSet == "" {
		documentSet = r.cfg.DefaultDocumentSet
	}
	payload := task.SummarizePayload{Filename: filename, DocumentSet: documentSet}
	return r.Queue.Submit(ctx, task.TypeSummarize, payload, queue.WithWebhook(webhook))
}

// Handler serves the health endpoint.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := map[string]any{"status": "ok", "polling": r.Poller.Running()}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.WarnContext(req.Context(), "failed to write health response", "error", err)
		}
	})
	return middleware.CorrelationID(mux)
}

// RunHealthServer serves Handler on port until ctx is cancelled.
func RunHealthServer(ctx context.Context, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down health server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("health server starting", "port", port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (r *Runtime) Close() error {
	var errs []error
	if err := r.Converters.Cleanup(); err != nil {
		errs = append(errs, err)
	}
	r.pool.Release()
	if err := r.queryLog.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.deps.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// disabledLLM stands in when no API key is configured. Its errors are
// permanent so callers do not retry them.
type disabledLLM struct{}

func (disabledLLM) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, retry.Permanent(ErrLLMNotConfigured)
}

func (disabledLLM) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, retry.Permanent(ErrLLMNotConfigured)
}

func (disabledLLM) Complete(context.Context, string, string) (string, error) {
	return "", retry.Permanent(ErrLLMNotConfigured)
}
