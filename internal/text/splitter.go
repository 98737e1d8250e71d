// Package text splits converted markdown into embeddable chunks.
package text

import (
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

type ChunkType string

const (
	ChunkTypeProse ChunkType = "prose"
	ChunkTypeTable ChunkType = "table"
	ChunkTypeCode  ChunkType = "code"
)

type Chunk struct {
	Content string
	Type    ChunkType
}

var (
	imagePlaceholderRe = regexp.MustCompile(`(?m)^\s*<!--\s*image\s*-->\s*$`)
	tocRe              = regexp.MustCompile(`(?mi)^#{1,3}\s+(?:table of )?contents?\s*\n(?:\s*[-*]\s*\[.*?\]\(#.*?\)\s*\n)*`)
	blankRunRe         = regexp.MustCompile(`\n{3,}`)
	tableRowRe         = regexp.MustCompile(`(?m)^\s*\|.*\|\s*$`)
)

// CleanMarkdown strips converter artifacts that carry no searchable text:
// image placeholders, link-only tables of contents and runs of blank lines.
func CleanMarkdown(md string) string {
	md = imagePlaceholderRe.ReplaceAllString(md, "")
	md = tocRe.ReplaceAllString(md, "")
	md = blankRunRe.ReplaceAllString(md, "\n\n")
	return strings.TrimSpace(md)
}

// Splitter is a recursive character splitter. Whitespace-only pieces are
// dropped.
type Splitter struct {
	inner textsplitter.RecursiveCharacter
}

func NewSplitter(size, overlap int) *Splitter {
	return &Splitter{
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}
}

func (s *Splitter) Split(md string) ([]Chunk, error) {
	md = CleanMarkdown(md)
	if md == "" {
		return nil, nil
	}
	parts, err := s.inner.SplitText(md)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Content: p, Type: DetectType(p)})
	}
	return chunks, nil
}

// DetectType labels a chunk by its dominant markdown construct.
func DetectType(content string) ChunkType {
	if strings.Contains(content, "```") {
		return ChunkTypeCode
	}
	lines := 0
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimSpace(l) != "" {
			lines++
		}
	}
	if lines > 0 && len(tableRowRe.FindAllString(content, -1))*2 > lines {
		return ChunkTypeTable
	}
	return ChunkTypeProse
}
