// Package pgvector stores chunks in Postgres using the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"docrag/internal/vectorstore"
)

type Store struct {
	db  *sql.DB
	dim int
}

func NewStore(db *sql.DB, dim int) *Store {
	return &Store{db: db, dim: dim}
}

// Literal renders v in pgvector's text input format.
func Literal(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
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

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO document_chunks (id, filename, document_set, content, pipeline, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		ON CONFLICT (id) DO UPDATE SET filename = EXCLUDED.filename, document_set = EXCLUDED.document_set,
		content = EXCLUDED.content, pipeline = EXCLUDED.pipeline, metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding, updated_at = NOW()`)
	if err != nil {
		return vectorstore.Unavailable("upsert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Filename, c.DocumentSet, c.Content, c.Pipeline, metadata, Literal(c.Vector)); err != nil {
			return vectorstore.Unavailable("upsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return vectorstore.Unavailable("upsert", err)
	}
	return nil
}

// Search ranks chunks per document in SQL, keeps the best documents, then
// their top chunks.
func (s *Store) Search(ctx context.Context, vector []float32, limit int, documentSet string) ([]vectorstore.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `WITH ranked AS (
			SELECT id, filename, document_set, content, pipeline, metadata,
				1 - (embedding <=> $1::vector) AS score,
				ROW_NUMBER() OVER (PARTITION BY document_set, filename ORDER BY embedding <=> $1::vector) AS rank
			FROM document_chunks
			WHERE $2 = '' OR document_set = $2
		), best AS (
			SELECT document_set, filename, MAX(score) AS top FROM ranked
			GROUP BY document_set, filename
			ORDER BY top DESC
			LIMIT $3
		)
		SELECT r.id, r.filename, r.document_set, r.content, r.pipeline, r.metadata, r.score
		FROM ranked r JOIN best b ON r.document_set = b.document_set AND r.filename = b.filename
		WHERE r.rank <= $4
		ORDER BY r.score DESC`

	rows, err := s.db.QueryContext(ctx, query, Literal(vector), setFilter(documentSet), limit, vectorstore.PerDocumentChunks)
	if err != nil {
		return nil, vectorstore.Unavailable("search", err)
	}
	defer rows.Close()

	var results []vectorstore.SearchResult
	for rows.Next() {
		var r vectorstore.SearchResult
		var pipeline string
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.Filename, &r.DocumentSet, &r.Content, &pipeline, &metadata, &r.Score); err != nil {
			return nil, vectorstore.Unavailable("search", err)
		}
		r.Metadata = vectorstore.DecodeMetadata(metadata)
		r.Metadata["filename"] = r.Filename
		r.Metadata["document_set"] = r.DocumentSet
		r.Metadata["pipeline"] = pipeline
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, vectorstore.Unavailable("search", err)
	}
	return results, nil
}

func (s *Store) Delete(ctx context.Context, filename, documentSet string) error {
	query := `DELETE FROM document_chunks WHERE filename = $1 AND ($2 = '' OR document_set = $2)`
	if _, err := s.db.ExecContext(ctx, query, filename, setFilter(documentSet)); err != nil {
		return vectorstore.Unavailable("delete", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, filename, documentSet string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM document_chunks WHERE filename = $1 AND ($2 = '' OR document_set = $2))`
	if err := s.db.QueryRowContext(ctx, query, filename, setFilter(documentSet)).Scan(&exists); err != nil {
		return false, vectorstore.Unavailable("exists", err)
	}
	return exists, nil
}

func (s *Store) ListDistinctFilenames(ctx context.Context) ([]vectorstore.DocumentInfo, error) {
	query := `SELECT filename, document_set, COUNT(*) FROM document_chunks
		GROUP BY document_set, filename ORDER BY document_set, filename`
	rows, err := s.db.QueryContext(ctx, query)
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
