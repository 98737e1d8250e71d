// Package vectorstore defines the contract every vector backend satisfies
// and the helpers shared between them.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PerDocumentChunks bounds how many chunks one document contributes to a
// search result.
const PerDocumentChunks = 3

// AllSets is the document set wildcard.
const AllSets = "all"

var (
	ErrStoreUnavailable  = errors.New("vector store unavailable")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

type Chunk struct {
	ID          string
	Vector      []float32
	Filename    string
	DocumentSet string
	Content     string
	Pipeline    string
	Metadata    map[string]any
}

type SearchResult struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	DocumentSet string         `json:"document_set"`
	Content     string         `json:"content"`
	Score       float32        `json:"score"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type DocumentInfo struct {
	Filename    string `json:"filename"`
	DocumentSet string `json:"document_set"`
	ChunkCount  int    `json:"chunk_count"`
}

type Store interface {
	// Search returns chunks from at most limit distinct documents, each
	// contributing up to PerDocumentChunks, ordered by descending score.
	Search(ctx context.Context, vector []float32, limit int, documentSet string) ([]SearchResult, error)
	// Upsert writes chunks atomically: either all of them are stored or none.
	Upsert(ctx context.Context, chunks []Chunk) error
	Delete(ctx context.Context, filename, documentSet string) error
	Exists(ctx context.Context, filename, documentSet string) (bool, error)
	ListDistinctFilenames(ctx context.Context) ([]DocumentInfo, error)
	ListDistinctDocumentSets(ctx context.Context) ([]string, error)
}

// IsWildcard reports whether documentSet disables set filtering.
func IsWildcard(documentSet string) bool {
	s := strings.TrimSpace(documentSet)
	return s == "" || strings.EqualFold(s, AllSets)
}

// ChunkID derives a stable id so re-upserting a chunk overwrites it.
func ChunkID(documentSet, filename string, index int) string {
	name := fmt.Sprintf("%s/%s#%d", documentSet, filename, index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Unavailable wraps a backend error so callers can match ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// CheckDimensions rejects chunks whose vectors do not match dim. A dim of
// zero disables the check.
func CheckDimensions(chunks []Chunk, dim int) error {
	if dim <= 0 {
		return nil
	}
	for _, c := range chunks {
		if len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %s has %d, want %d", ErrDimensionMismatch, c.ID, len(c.Vector), dim)
		}
	}
	return nil
}

// DecodeMetadata parses stored chunk metadata. Missing or corrupt metadata
// yields an empty, non-nil map.
func DecodeMetadata(raw []byte) map[string]any {
	md := make(map[string]any)
	if len(raw) == 0 {
		return md
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		for k, v := range decoded {
			md[k] = v
		}
	}
	return md
}
