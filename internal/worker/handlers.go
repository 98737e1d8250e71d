package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"docrag/internal/convert"
	"docrag/internal/ingest"
	"docrag/internal/summary"
	"docrag/internal/task"
)

type BlobStore interface {
	Download(ctx context.Context, documentSet, filename string) (string, error)
}

type Ingester interface {
	Process(ctx context.Context, req ingest.Request) ingest.Outcome
}

type Summarizer interface {
	Document(ctx context.Context, src convert.Source) (string, error)
}

type SummaryStore interface {
	Save(ctx context.Context, s *summary.Summary) error
}

// resolvePath returns the local file for a payload. Watcher tasks carry a
// filepath; uploads are fetched from the blob store.
func resolvePath(ctx context.Context, blobs BlobStore, documentSet, filename, filepath string) (string, error) {
	if filepath != "" {
		return filepath, nil
	}
	return blobs.Download(ctx, documentSet, filename)
}

type IngestHandler struct {
	pipeline Ingester
	blobs    BlobStore
}

func NewIngestHandler(pipeline Ingester, blobs BlobStore) *IngestHandler {
	return &IngestHandler{pipeline: pipeline, blobs: blobs}
}

// Execute reports skipped documents as completed; only failed outcomes fail
// the task.
func (h *IngestHandler) Execute(ctx context.Context, raw json.RawMessage) Result {
	var p task.IngestPayload
	if err := task.DecodePayload(raw, &p); err != nil {
		return Failed(err.Error())
	}
	slog.InfoContext(ctx, "starting ingestion", "filename", p.Filename, "document_set", p.DocumentSet)

	path, err := resolvePath(ctx, h.blobs, p.DocumentSet, p.Filename, p.Filepath)
	if err != nil {
		slog.ErrorContext(ctx, "download failed", "filename", p.Filename, "error", err)
		return Failed("Failed to download file: " + err.Error())
	}

	outcome := h.pipeline.Process(ctx, ingest.Request{
		Filename:    p.Filename,
		DocumentSet: p.DocumentSet,
		Filepath:    path,
		Strategy:    convert.Strategy(p.Pipeline),
	})
	if outcome.Kind == ingest.Failed {
		return Failed(outcome.String())
	}
	return Completed(outcome.String())
}

type SummarizeHandler struct {
	summarizer Summarizer
	blobs      BlobStore
	summaries  SummaryStore
}

// NewSummarizeHandler builds the handler. summaries may be nil, in which case
// results are only returned.
func NewSummarizeHandler(s Summarizer, blobs BlobStore, summaries SummaryStore) *SummarizeHandler {
	return &SummarizeHandler{summarizer: s, blobs: blobs, summaries: summaries}
}

func (h *SummarizeHandler) Execute(ctx context.Context, raw json.RawMessage) Result {
	var p task.SummarizePayload
	if err := task.DecodePayload(raw, &p); err != nil {
		return Failed(err.Error())
	}
	slog.InfoContext(ctx, "starting summarization", "filename", p.Filename, "document_set", p.DocumentSet)

	path, err := resolvePath(ctx, h.blobs, p.DocumentSet, p.Filename, p.Filepath)
	if err != nil {
		return Failed("Failed to download file: " + err.Error())
	}

	text, err := h.summarizer.Document(ctx, convert.Source{Path: path, Name: p.Filename})
	if err != nil {
		slog.ErrorContext(ctx, "summarization failed", "filename", p.Filename, "error", err)
		return Failed("Summarization failed: " + err.Error())
	}

	if h.summaries != nil {
		if err := h.summaries.Save(ctx, &summary.Summary{DocumentSet: p.DocumentSet, Filename: p.Filename, Text: text}); err != nil {
			slog.WarnContext(ctx, "failed to persist summary", "filename", p.Filename, "error", err)
		}
	}
	return Completed(text)
}
