// Package sqlite is an embedded vector store for single-node deployments.
// Vectors are kept as little-endian float32 blobs and scored in process.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"docrag/internal/vectorstore"
)

const schema = `CREATE TABLE IF NOT EXISTS document_chunks (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	document_set TEXT NOT NULL,
	content TEXT NOT NULL,
	pipeline TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_document_chunks_doc ON document_chunks (document_set, filename);`

type Store struct {
	db  *sql.DB
	dim int
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a throwaway store.
func Open(ctx context.Context, path string, dim int) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, vectorstore.Unavailable("open", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, vectorstore.Unavailable("migrate", err)
	}
	return &Store{db: db, dim: dim}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return v, nil
}

func setFilter(documentSet string) string {
	if vectorstore.IsWildcard(documentSet) {
		return ""
	}
	return documentSet
}

func (s *Store) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := vectorstore.CheckDimensions(chunks, s.dim); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vectorstore.Unavailable("upsert", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", c.ID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO document_chunks (id, filename, document_set, content, pipeline, metadata, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET filename = excluded.filename, document_set = excluded.document_set,
			content = excluded.content, pipeline = excluded.pipeline, metadata = excluded.metadata, embedding = excluded.embedding`,
			c.ID, c.Filename, c.DocumentSet, c.Content, c.Pipeline, string(metadata), encodeVector(c.Vector))
		if err != nil {
			return vectorstore.Unavailable("upsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return vectorstore.Unavailable("upsert", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, limit int, documentSet string) ([]vectorstore.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	set := setFilter(documentSet)
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, document_set, content, pipeline, metadata, embedding
		FROM document_chunks WHERE ? = '' OR document_set = ?`, set, set)
	if err != nil {
		return nil, vectorstore.Unavailable("search", err)
	}
	defer rows.Close()

	var scored []vectorstore.SearchResult
	for rows.Next() {
		var r vectorstore.SearchResult
		var pipeline, metadata string
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Filename, &r.DocumentSet, &r.Content, &pipeline, &metadata, &blob); err != nil {
			return nil, vectorstore.Unavailable("search", err)
		}
		v, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", r.ID, err)
		}
		r.Metadata = vectorstore.DecodeMetadata([]byte(metadata))
		r.Metadata["filename"] = r.Filename
		r.Metadata["document_set"] = r.DocumentSet
		r.Metadata["pipeline"] = pipeline
		r.Score = vectorstore.CosineSimilarity(vector, v)
		scored = append(scored, r)
	}
	if err := rows.Err(); err != nil {
		return nil, vectorstore.Unavailable("search", err)
	}
	return vectorstore.GroupByDocument(scored, limit, vectorstore.PerDocumentChunks), nil
}

func (s *Store) Delete(ctx context.Context, filename, documentSet string) error {
	set := setFilter(documentSet)
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE filename = ? AND (? = '' OR document_set = ?)`, filename, set, set)
	if err != nil {
		return vectorstore.Unavailable("delete", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, filename, documentSet string) (bool, error) {
	set := setFilter(documentSet)
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM document_chunks WHERE filename = ? AND (? = '' OR document_set = ?))`,
		filename, set, set).Scan(&exists)
	if err != nil {
		return false, vectorstore.Unavailable("exists", err)
	}
	return exists, nil
}

func (s *Store) ListDistinctFilenames(ctx context.Context) ([]vectorstore.DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, document_set, COUNT(*) FROM document_chunks
		GROUP BY document_set, filename ORDER BY document_set, filename`)
	if err != nil {
		return nil, vectorstore.Unavailable("list documents", err)
	}
	defer rows.Close()

	docs := []vectorstore.DocumentInfo{}
	for rows.Next() {
		var d vectorstore.DocumentInfo
		if err := rows.Scan(&d.Filename, &d.DocumentSet, &d.ChunkCount); err != nil {
			return nil, vectorstore.Unavailable("list documents", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, vectorstore.Unavailable("list documents", err)
	}
	return docs, nil
}

func (s *Store) ListDistinctDocumentSets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT document_set FROM document_chunks ORDER BY document_set`)
	if err != nil {
		return nil, vectorstore.Unavailable("list document sets", err)
	}
	defer rows.Close()

	sets := []string{}
	for rows.Next() {
		var set string
		if err := rows.Scan(&set); err != nil {
			return nil, vectorstore.Unavailable("list document sets", err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, vectorstore.Unavailable("list document sets", err)
	}
	return sets, nil
}
