package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanMarkdown(t *testing.T) {
	in := "# Report\n\n<!-- image -->\n\n\n\n## Contents\n- [Intro](#intro)\n- [End](#end)\n\nBody text."
	assert.Equal(t, "# Report\n\nBody text.", CleanMarkdown(in))
}

func TestSplitter_Split(t *testing.T) {
	t.Run("Short Text Is One Chunk", func(t *testing.T) {
		chunks, err := NewSplitter(DefaultChunkSize, DefaultChunkOverlap).Split("A single paragraph.")
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "A single paragraph.", chunks[0].Content)
		assert.Equal(t, ChunkTypeProse, chunks[0].Type)
	})

	t.Run("Whitespace Only Yields Nothing", func(t *testing.T) {
		chunks, err := NewSplitter(DefaultChunkSize, DefaultChunkOverlap).Split(" \n\t\n ")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Long Text Respects Size", func(t *testing.T) {
		para := strings.Repeat("word ", 60)
		text := strings.Repeat(para+"\n\n", 10)
		chunks, err := NewSplitter(400, 40).Split(text)
		require.NoError(t, err)
		assert.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c.Content), 400)
			assert.NotEmpty(t, strings.TrimSpace(c.Content))
		}
	})
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    ChunkType
	}{
		{"prose", "Plain sentences about things.", ChunkTypeProse},
		{"code", "Example:\n```go\nfunc main() {}\n```", ChunkTypeCode},
		{"table", "| a | b |\n|---|---|\n| 1 | 2 |", ChunkTypeTable},
		{"mostly prose", "Intro line\nanother line\nthird line\n| a | b |", ChunkTypeProse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectType(tt.content))
		})
	}
}
