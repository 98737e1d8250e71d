// Package retrieval answers queries against the vector store: plain
// similarity search and retrieval-augmented answers.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docrag/internal/vectorstore"
)

const DefaultLimit = 10

const (
	answerSystemPrompt = "You are a helpful assistant. Answer the user's question based ONLY on the following context. " +
		"If the answer is not in the context, say so."
	NoResultsAnswer = "I couldn't find any relevant information in the knowledge base."
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int, documentSet string) ([]vectorstore.SearchResult, error)
}

type Answer struct {
	Answer  string                     `json:"answer"`
	Results []vectorstore.SearchResult `json:"results"`
}

type Service struct {
	embedder QueryEmbedder
	store    Searcher
	llm      Completer
	log      *QueryLog
}

// NewService builds the service. llm and l may be nil: Answer then fails
// and queries are not logged.
func NewService(e QueryEmbedder, s Searcher, llm Completer, l *QueryLog) *Service {
	return &Service{embedder: e, store: s, llm: llm, log: l}
}

// Search embeds query and returns matching chunks grouped by document. An
// unavailable store yields no results rather than an error.
func (s *Service) Search(ctx context.Context, query string, limit int, documentSet string) ([]vectorstore.SearchResult, error) {
	start := time.Now()
	results, err := s.search(ctx, query, limit, documentSet)
	s.log.Record(ctx, start, newRecord(ModeSearch, query, documentSet, results), err)
	return results, err
}

func (s *Service) search(ctx context.Context, query string, limit int, documentSet string) ([]vectorstore.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.store.Search(ctx, vec, limit, documentSet)
	if errors.Is(err, vectorstore.ErrStoreUnavailable) {
		slog.WarnContext(ctx, "vector store unavailable, returning no results", "error", err)
		results, err = []vectorstore.SearchResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []vectorstore.SearchResult{}
	}
	return results, nil
}

// Answer searches and asks the completion model to answer from the
// retrieved context only.
func (s *Service) Answer(ctx context.Context, question string, limit int, documentSet string) (*Answer, error) {
	if s.llm == nil {
		return nil, errors.New("completion model not configured")
	}
	start := time.Now()
	ans, err := s.answer(ctx, question, limit, documentSet)
	var results []vectorstore.SearchResult
	if ans != nil {
		results = ans.Results
	}
	s.log.Record(ctx, start, newRecord(ModeAnswer, question, documentSet, results), err)
	return ans, err
}

func (s *Service) answer(ctx context.Context, question string, limit int, documentSet string) (*Answer, error) {
	results, err := s.search(ctx, question, limit, documentSet)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Answer{Answer: NoResultsAnswer, Results: results}, nil
	}

	answer, err := s.llm.Complete(ctx, answerSystemPrompt, BuildPrompt(question, results))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &Answer{Answer: answer, Results: results}, nil
}

func newRecord(mode, query, documentSet string, results []vectorstore.SearchResult) QueryRecord {
	docs := make(map[string]struct{}, len(results))
	for _, r := range results {
		docs[r.DocumentSet+"/"+r.Filename] = struct{}{}
	}
	return QueryRecord{
		Mode:        mode,
		Query:       query,
		DocumentSet: documentSet,
		Chunks:      len(results),
		Documents:   len(docs),
	}
}

func BuildPrompt(question string, results []vectorstore.SearchResult) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Source '%s':\n%s", r.Filename, r.Content)
	}
	fmt.Fprintf(&b, "\n\nQuestion: %s", question)
	return b.String()
}
