package summarize_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/convert"
	"docrag/internal/summarize"
)

type call struct {
	system string
	user   string
}

type fakeLLM struct {
	mu     sync.Mutex
	calls  []call
	failOn func(system, user string) bool
}

func (f *fakeLLM) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{system, user})
	if f.failOn != nil && f.failOn(system, user) {
		return "", errors.New("model overloaded")
	}
	if strings.Contains(system, "consolidates") {
		return "final summary", nil
	}
	return "partial", nil
}

type plainProvider struct{}

func (plainProvider) Get(convert.Strategy) (convert.Converter, error) {
	return convert.PlainTextConverter{}, nil
}

func TestSummarizer_SingleSection(t *testing.T) {
	llm := &fakeLLM{}
	s := summarize.New(llm, plainProvider{}, nil)

	out, err := s.Text(context.Background(), "A short memo about quarterly goals.")
	require.NoError(t, err)
	assert.Equal(t, "partial", out)
	require.Len(t, llm.calls, 1)
	assert.Equal(t, "You are a helpful assistant that summarizes documents.", llm.calls[0].system)
	assert.Contains(t, llm.calls[0].user, "quarterly goals")
}

func bigDocument() string {
	para := strings.Repeat("word ", 2000) + "\n\n"
	return strings.Repeat(para, 30)
}

func TestSummarizer_MapReduce(t *testing.T) {
	llm := &fakeLLM{}
	s := summarize.New(llm, plainProvider{}, nil)

	out, err := s.Text(context.Background(), bigDocument())
	require.NoError(t, err)
	assert.Equal(t, "final summary", out)

	require.Greater(t, len(llm.calls), 2)
	last := llm.calls[len(llm.calls)-1]
	assert.Equal(t, "You are a helpful assistant that consolidates summaries.", last.system)
	for _, c := range llm.calls[:len(llm.calls)-1] {
		assert.Equal(t, "You are a helpful assistant reading a part of a larger document.", c.system)
	}
}

func TestSummarizer_FailedSectionIsMarked(t *testing.T) {
	first := true
	llm := &fakeLLM{failOn: func(system, _ string) bool {
		if strings.Contains(system, "part of a larger") && first {
			first = false
			return true
		}
		return false
	}}
	s := summarize.New(llm, plainProvider{}, nil)

	_, err := s.Text(context.Background(), bigDocument())
	require.NoError(t, err)
	last := llm.calls[len(llm.calls)-1]
	assert.Contains(t, last.user, "[Error in chunk 0]")
}

func TestSummarizer_Empty(t *testing.T) {
	s := summarize.New(&fakeLLM{}, plainProvider{}, nil)
	_, err := s.Text(context.Background(), "  \n ")
	assert.ErrorIs(t, err, summarize.ErrEmptyDocument)
}

func TestSummarizer_Document(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memo.txt")
	require.NoError(t, os.WriteFile(path, []byte("Meeting notes for the launch."), 0o644))

	llm := &fakeLLM{}
	s := summarize.New(llm, plainProvider{}, convert.NewXLSNormalizer("soffice"))

	out, err := s.Document(context.Background(), convert.Source{Path: path, Name: "memo.txt"})
	require.NoError(t, err)
	assert.Equal(t, "partial", out)
	assert.Contains(t, llm.calls[0].user, "launch")
}
