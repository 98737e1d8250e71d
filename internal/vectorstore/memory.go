package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps chunks in a map. Search and listing scan every chunk,
// so they are O(corpus size).
type MemoryStore struct {
	mu     sync.RWMutex
	dim    int
	chunks map[string]Chunk
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, chunks: make(map[string]Chunk)}
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, limit int, documentSet string) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := IsWildcard(documentSet)
	var scored []SearchResult
	for _, c := range s.chunks {
		if !all && c.DocumentSet != documentSet {
			continue
		}
		scored = append(scored, SearchResult{
			ID:          c.ID,
			Filename:    c.Filename,
			DocumentSet: c.DocumentSet,
			Content:     c.Content,
			Score:       CosineSimilarity(vector, c.Vector),
			Metadata:    ChunkMetadata(c),
		})
	}
	return GroupByDocument(scored, limit, PerDocumentChunks), nil
}

func (s *MemoryStore) Upsert(_ context.Context, chunks []Chunk) error {
	if err := CheckDimensions(chunks, s.dim); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, filename, documentSet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := IsWildcard(documentSet)
	for id, c := range s.chunks {
		if c.Filename == filename && (all || c.DocumentSet == documentSet) {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, filename, documentSet string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := IsWildcard(documentSet)
	for _, c := range s.chunks {
		if c.Filename == filename && (all || c.DocumentSet == documentSet) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListDistinctFilenames(_ context.Context) ([]DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ set, name string }
	counts := make(map[key]int)
	for _, c := range s.chunks {
		counts[key{c.DocumentSet, c.Filename}]++
	}
	out := make([]DocumentInfo, 0, len(counts))
	for k, n := range counts {
		out = append(out, DocumentInfo{Filename: k.name, DocumentSet: k.set, ChunkCount: n})
	}
	SortDocuments(out)
	return out, nil
}

func (s *MemoryStore) ListDistinctDocumentSets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, c := range s.chunks {
		seen[c.DocumentSet] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for set := range seen {
		out = append(out, set)
	}
	sort.Strings(out)
	return out, nil
}

// Len counts stored chunks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// SortDocuments orders listings by document set, then filename.
func SortDocuments(docs []DocumentInfo) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].DocumentSet != docs[j].DocumentSet {
			return docs[i].DocumentSet < docs[j].DocumentSet
		}
		return docs[i].Filename < docs[j].Filename
	})
}

// ChunkMetadata flattens the identifying fields of c into its metadata.
func ChunkMetadata(c Chunk) map[string]any {
	md := make(map[string]any, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		md[k] = v
	}
	md["filename"] = c.Filename
	md["document_set"] = c.DocumentSet
	md["pipeline"] = c.Pipeline
	return md
}
