package blob_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/blob"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	path, err := s.Upload(ctx, "finance", "q1/report.txt", strings.NewReader("numbers"))
	require.NoError(t, err)

	got, err := s.Download(ctx, "finance", "q1/report.txt")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "numbers", string(data))

	require.NoError(t, s.Delete(ctx, "finance", "q1/report.txt"))
	_, err = s.Download(ctx, "finance", "q1/report.txt")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "finance", "q1/report.txt"))
}

func TestFileStore_RejectsEscapingNames(t *testing.T) {
	s, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	tests := []struct{ set, name string }{
		{"finance", "../../etc/passwd"},
		{"..", "x.txt"},
		{"finance", "/abs.txt"},
		{"", "x.txt"},
		{"finance", ""},
	}
	for _, tt := range tests {
		_, err := s.Path(tt.set, tt.name)
		assert.ErrorIs(t, err, blob.ErrInvalidName, "%s/%s", tt.set, tt.name)
	}
}

func TestFileStore_UploadCancelled(t *testing.T) {
	s, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Upload(ctx, "set", "a.txt", strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Download(context.Background(), "set", "a.txt")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}
