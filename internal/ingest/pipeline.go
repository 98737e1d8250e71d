// Package ingest turns a source document into indexed chunks:
// convert, chunk, embed, then upsert in batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/panjf2000/ants/v2"

	"docrag/internal/convert"
	"docrag/internal/retry"
	"docrag/internal/text"
	"docrag/internal/vectorstore"
)

const DefaultBatchSize = 64

var ErrEmbeddingFailed = errors.New("embedding failed")

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type ConverterProvider interface {
	Get(s convert.Strategy) (convert.Converter, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, src convert.Source) (convert.Source, func(), error)
}

// Request describes one document. Either Filepath or Content is set.
type Request struct {
	Filename    string
	DocumentSet string
	Filepath    string
	Content     []byte
	Strategy    convert.Strategy
}

type Pipeline struct {
	store      vectorstore.Store
	embedder   Embedder
	converters ConverterProvider
	normalizer Normalizer
	splitter   *text.Splitter
	pool       *ants.Pool

	batchSize         int
	continueOnFailure bool
	embedPolicy       retry.Policy
}

type Option func(*Pipeline)

func WithSplitter(s *text.Splitter) Option {
	return func(p *Pipeline) { p.splitter = s }
}

func WithNormalizer(n Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// WithPool runs conversion and embedding on pool instead of the caller's
// goroutine.
func WithPool(pool *ants.Pool) Option {
	return func(p *Pipeline) { p.pool = pool }
}

func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithContinueOnBatchFailure controls whether a failed upsert batch after
// the first aborts the remaining batches.
func WithContinueOnBatchFailure(b bool) Option {
	return func(p *Pipeline) { p.continueOnFailure = b }
}

func WithEmbeddingPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) { p.embedPolicy = policy }
}

func New(store vectorstore.Store, embedder Embedder, converters ConverterProvider, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:             store,
		embedder:          embedder,
		converters:        converters,
		splitter:          text.NewSplitter(text.DefaultChunkSize, text.DefaultChunkOverlap),
		batchSize:         DefaultBatchSize,
		continueOnFailure: true,
		embedPolicy:       retry.EmbeddingPolicy,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessBatch ingests each request independently and returns one outcome
// per request, in order.
func (p *Pipeline) ProcessBatch(ctx context.Context, reqs []Request) []Outcome {
	out := make([]Outcome, 0, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			out = append(out, failed(req, "cancelled: %v", err))
			continue
		}
		out = append(out, p.Process(ctx, req))
	}
	return out
}

func (p *Pipeline) Process(ctx context.Context, req Request) Outcome {
	if req.Strategy == "" {
		req.Strategy = convert.StrategyStandard
	}
	logger := slog.With("filename", req.Filename, "document_set", req.DocumentSet, "pipeline", req.Strategy)

	exists, err := p.store.Exists(ctx, req.Filename, req.DocumentSet)
	if err != nil {
		logger.WarnContext(ctx, "idempotency check failed, continuing", "error", err)
	} else if exists {
		logger.InfoContext(ctx, "document already indexed")
		return skipped(req, ReasonAlreadyIndexed)
	}

	src, cleanup, outcome, ok := p.prepareSource(req)
	defer cleanup()
	if !ok {
		logger.InfoContext(ctx, "source skipped", "reason", outcome.Reason)
		return outcome
	}

	var markdown string
	err = p.run(ctx, func() error {
		md, err := p.convert(ctx, req.Strategy, src)
		markdown = md
		return err
	})
	if errors.Is(err, convert.ErrUnreadable) {
		logger.WarnContext(ctx, "source unreadable", "error", err)
		return skipped(req, ReasonUnreadable)
	}
	if err != nil {
		logger.ErrorContext(ctx, "conversion failed", "error", err)
		return failed(req, "conversion failed: %v", err)
	}

	chunks, err := p.splitter.Split(markdown)
	if err != nil {
		return failed(req, "conversion failed: split: %v", err)
	}
	if len(chunks) == 0 {
		return skipped(req, ReasonNoContent)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var vectors [][]float32
	err = p.run(ctx, func() error {
		v, err := p.embed(ctx, texts)
		vectors = v
		return err
	})
	if err != nil {
		logger.ErrorContext(ctx, "embedding failed", "error", err)
		return failed(req, "embedding failed: %v", err)
	}

	records := make([]vectorstore.Chunk, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Chunk{
			ID:          vectorstore.ChunkID(req.DocumentSet, req.Filename, i),
			Vector:      vectors[i],
			Filename:    req.Filename,
			DocumentSet: req.DocumentSet,
			Content:     c.Content,
			Pipeline:    string(req.Strategy),
			Metadata: map[string]any{
				"chunk_index":  i,
				"content_type": string(c.Type),
			},
		}
	}

	failedBatches, err := p.upsert(ctx, logger, records)
	if err != nil {
		return failed(req, "upsert failed: %v", err)
	}

	outcome = completed(req, len(records), failedBatches)
	logger.InfoContext(ctx, "document indexed", "chunks", len(records), "failed_batches", failedBatches)
	return outcome
}

// prepareSource resolves the request to a readable file. ok is false when
// the returned outcome should be reported instead.
func (p *Pipeline) prepareSource(req Request) (src convert.Source, cleanup func(), outcome Outcome, ok bool) {
	cleanup = func() {}

	if req.Filepath == "" {
		if len(req.Content) == 0 {
			return src, cleanup, skipped(req, ReasonEmpty), false
		}
		dir, err := os.MkdirTemp("", "docrag-ingest-*")
		if err != nil {
			return src, cleanup, failed(req, "conversion failed: %v", err), false
		}
		cleanup = func() { os.RemoveAll(dir) }
		path := filepath.Join(dir, "source"+filepath.Ext(req.Filename))
		if err := os.WriteFile(path, req.Content, 0o600); err != nil {
			return src, cleanup, failed(req, "conversion failed: %v", err), false
		}
		return convert.Source{Path: path, Name: req.Filename}, cleanup, outcome, true
	}

	info, err := os.Stat(req.Filepath)
	if err != nil || info.IsDir() {
		return src, cleanup, skipped(req, ReasonUnreadable), false
	}
	if info.Size() == 0 {
		return src, cleanup, skipped(req, ReasonEmpty), false
	}
	f, err := os.Open(req.Filepath)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return src, cleanup, skipped(req, ReasonUnreadable), false
		}
		return src, cleanup, failed(req, "conversion failed: %v", err), false
	}
	f.Close()

	return convert.Source{Path: req.Filepath, Name: req.Filename}, cleanup, outcome, true
}

func (p *Pipeline) convert(ctx context.Context, strategy convert.Strategy, src convert.Source) (string, error) {
	if p.normalizer != nil {
		normalized, done, err := p.normalizer.Normalize(ctx, src)
		defer done()
		if err != nil {
			return "", err
		}
		src = normalized
	}

	converter, err := p.converters.Get(strategy)
	if err != nil {
		return "", err
	}
	conv, err := converter.Convert(ctx, src)
	if err != nil {
		return "", err
	}
	defer conv.Release()
	return conv.Markdown, nil
}

func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := retry.Do(ctx, p.embedPolicy, "embed_documents", func(ctx context.Context) error {
		v, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return retry.Permanent(fmt.Errorf("got %d vectors for %d chunks", len(v), len(texts)))
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// upsert writes records in batches. A failing first batch fails the document.
// Later failures are reported by batch index.
func (p *Pipeline) upsert(ctx context.Context, logger *slog.Logger, records []vectorstore.Chunk) ([]int, error) {
	var failedBatches []int
	batch := 0
	for start := 0; start < len(records); start, batch = start+p.batchSize, batch+1 {
		end := min(start+p.batchSize, len(records))
		err := p.store.Upsert(ctx, records[start:end])
		if err == nil {
			continue
		}
		if batch == 0 {
			logger.ErrorContext(ctx, "upsert failed", "batch", batch, "error", err)
			return nil, err
		}

		logger.WarnContext(ctx, "upsert batch failed", "batch", batch, "error", err)
		failedBatches = append(failedBatches, batch)
		if !p.continueOnFailure {
			for rest := batch + 1; rest*p.batchSize < len(records); rest++ {
				failedBatches = append(failedBatches, rest)
			}
			break
		}
	}
	return failedBatches, nil
}

// run executes fn on the pool when one is configured and waits for it or
// ctx. On cancellation fn keeps running in the background.
func (p *Pipeline) run(ctx context.Context, fn func() error) error {
	if p.pool == nil {
		return fn()
	}
	done := make(chan error, 1)
	if err := p.pool.Submit(func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
