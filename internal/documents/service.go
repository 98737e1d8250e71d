// Package documents lists and removes indexed documents.
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docrag/internal/vectorstore"
)

type Store interface {
	Delete(ctx context.Context, filename, documentSet string) error
	ListDistinctFilenames(ctx context.Context) ([]vectorstore.DocumentInfo, error)
	ListDistinctDocumentSets(ctx context.Context) ([]string, error)
}

type BlobDeleter interface {
	Delete(ctx context.Context, documentSet, filename string) error
}

type Service struct {
	store Store
	blobs BlobDeleter
}

func NewService(store Store, blobs BlobDeleter) *Service {
	return &Service{store: store, blobs: blobs}
}

// List returns indexed documents. An unavailable store yields an empty list.
func (s *Service) List(ctx context.Context) ([]vectorstore.DocumentInfo, error) {
	docs, err := s.store.ListDistinctFilenames(ctx)
	if errors.Is(err, vectorstore.ErrStoreUnavailable) {
		slog.WarnContext(ctx, "vector store unavailable, listing no documents", "error", err)
		return []vectorstore.DocumentInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []vectorstore.DocumentInfo{}
	}
	return docs, nil
}

func (s *Service) Sets(ctx context.Context) ([]string, error) {
	sets, err := s.store.ListDistinctDocumentSets(ctx)
	if errors.Is(err, vectorstore.ErrStoreUnavailable) {
		slog.WarnContext(ctx, "vector store unavailable, listing no sets", "error", err)
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if sets == nil {
		sets = []string{}
	}
	return sets, nil
}

// Delete removes the document's chunks and then its uploaded blob. A blob
// that does not exist is not an error.
func (s *Service) Delete(ctx context.Context, filename, documentSet string) error {
	if filename == "" {
		return errors.New("filename is required")
	}
	if err := s.store.Delete(ctx, filename, documentSet); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if s.blobs != nil && !vectorstore.IsWildcard(documentSet) {
		if err := s.blobs.Delete(ctx, documentSet, filename); err != nil {
			slog.WarnContext(ctx, "failed to delete blob", "filename", filename, "document_set", documentSet, "error", err)
		}
	}
	slog.InfoContext(ctx, "document deleted", "filename", filename, "document_set", documentSet)
	return nil
}
