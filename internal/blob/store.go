// Package blob stores uploaded documents on local disk, keyed by document
// set and filename.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidName = errors.New("invalid blob name")
)

type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root}, nil
}

// Path returns where {documentSet}/{filename} lives. Names escaping the root
// are rejected.
func (s *FileStore) Path(documentSet, filename string) (string, error) {
	if !filepath.IsLocal(documentSet) || strings.ContainsAny(documentSet, `/\`) || !filepath.IsLocal(filename) {
		return "", fmt.Errorf("%w: %s/%s", ErrInvalidName, documentSet, filename)
	}
	return filepath.Join(s.root, documentSet, filename), nil
}

func (s *FileStore) Upload(ctx context.Context, documentSet, filename string, r io.Reader) (string, error) {
	path, err := s.Path(documentSet, filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// Download returns the local path of the blob. The file store needs no copy.
func (s *FileStore) Download(_ context.Context, documentSet, filename string) (string, error) {
	path, err := s.Path(documentSet, filename)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, documentSet, filename)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func (s *FileStore) Delete(_ context.Context, documentSet, filename string) error {
	path, err := s.Path(documentSet, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
