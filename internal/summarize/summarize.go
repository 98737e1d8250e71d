// Package summarize produces a document summary with a map-reduce over
// large sections of the converted markdown.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"docrag/internal/convert"
)

const (
	SectionSize    = 100000
	SectionOverlap = 5000
)

const (
	singleSystemPrompt = "You are a helpful assistant that summarizes documents."
	singleUserPrompt   = "Please provide a concise summary of the following document content (converted to markdown):\n\n"

	mapSystemPrompt = "You are a helpful assistant reading a part of a larger document."
	mapUserPrompt   = "Please provide a concise summary of this section of the document:\n\n"

	reduceSystemPrompt = "You are a helpful assistant that consolidates summaries."
	reduceUserPrompt   = "Here are summaries of different sections of a document. Please combine them into one concise, cohesive summary of the entire document:\n\n"
)

var ErrEmptyDocument = errors.New("document is empty or could not be read")

type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type ConverterProvider interface {
	Get(s convert.Strategy) (convert.Converter, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, src convert.Source) (convert.Source, func(), error)
}

type Summarizer struct {
	llm        Completer
	converters ConverterProvider
	normalizer Normalizer
	splitter   textsplitter.RecursiveCharacter
}

func New(llm Completer, converters ConverterProvider, normalizer Normalizer) *Summarizer {
	return &Summarizer{
		llm:        llm,
		converters: converters,
		normalizer: normalizer,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(SectionSize),
			textsplitter.WithChunkOverlap(SectionOverlap),
		),
	}
}

// Document converts src with the standard strategy and summarizes it.
func (s *Summarizer) Document(ctx context.Context, src convert.Source) (string, error) {
	if s.normalizer != nil {
		normalized, done, err := s.normalizer.Normalize(ctx, src)
		defer done()
		if err != nil {
			return "", err
		}
		src = normalized
	}

	converter, err := s.converters.Get(convert.StrategyStandard)
	if err != nil {
		return "", err
	}
	conv, err := converter.Convert(ctx, src)
	if err != nil {
		return "", fmt.Errorf("error reading document: %w", err)
	}
	defer conv.Release()

	return s.Text(ctx, conv.Markdown)
}

// Text summarizes markdown in one pass when it fits a single section,
// otherwise summarizes each section and consolidates the results.
func (s *Summarizer) Text(ctx context.Context, markdown string) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", ErrEmptyDocument
	}
	sections, err := s.splitter.SplitText(markdown)
	if err != nil {
		return "", err
	}

	if len(sections) <= 1 {
		return s.llm.Complete(ctx, singleSystemPrompt, singleUserPrompt+markdown)
	}

	slog.InfoContext(ctx, "document too large, summarizing by section", "sections", len(sections))
	partials := make([]string, len(sections))
	for i, section := range sections {
		out, err := s.llm.Complete(ctx, mapSystemPrompt, mapUserPrompt+section)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			slog.ErrorContext(ctx, "section summary failed", "section", i, "error", err)
			out = fmt.Sprintf("[Error in chunk %d]", i)
		}
		partials[i] = out
	}

	return s.llm.Complete(ctx, reduceSystemPrompt, reduceUserPrompt+strings.Join(partials, "\n\n"))
}
