// Package summary persists document summaries produced by summarize tasks.
package summary

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("summary not found")

type Summary struct {
	DocumentSet string    `json:"document_set"`
	Filename    string    `json:"filename"`
	Text        string    `json:"summary"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Repository interface {
	Save(ctx context.Context, s *Summary) error
	Get(ctx context.Context, documentSet, filename string) (*Summary, error)
	List(ctx context.Context, documentSet string) ([]Summary, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save inserts or replaces the summary for (document_set, filename).
func (r *PostgresRepo) Save(ctx context.Context, s *Summary) error {
	query := `INSERT INTO summaries (document_set, filename, summary)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_set, filename) DO UPDATE SET summary = EXCLUDED.summary, updated_at = NOW()
		RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, s.DocumentSet, s.Filename, s.Text).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, documentSet, filename string) (*Summary, error) {
	s := &Summary{}
	query := `SELECT document_set, filename, summary, created_at, updated_at FROM summaries WHERE document_set = $1 AND filename = $2`
	err := r.db.QueryRowContext(ctx, query, documentSet, filename).Scan(&s.DocumentSet, &s.Filename, &s.Text, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// List returns summaries, newest first. An empty documentSet lists all sets.
func (r *PostgresRepo) List(ctx context.Context, documentSet string) ([]Summary, error) {
	query := `SELECT document_set, filename, summary, created_at, updated_at FROM summaries
		WHERE ($1 = '' OR document_set = $1) ORDER BY updated_at DESC`
	rows, err := r.db.QueryContext(ctx, query, documentSet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.DocumentSet, &s.Filename, &s.Text, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
