package summary_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/summary"
)

func TestPostgresRepo_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO summaries (document_set, filename, summary)`)).
		WithArgs("legal", "nda.pdf", "short summary").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	s := &summary.Summary{DocumentSet: "legal", Filename: "nda.pdf", Text: "short summary"}
	require.NoError(t, summary.NewPostgresRepo(db).Save(context.Background(), s))
	assert.Equal(t, now, s.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	cols := []string{"document_set", "filename", "summary", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT document_set").WithArgs("legal", "nda.pdf").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("legal", "nda.pdf", "text", now, now))
	mock.ExpectQuery("SELECT document_set").WithArgs("legal", "gone.pdf").
		WillReturnError(sql.ErrNoRows)

	repo := summary.NewPostgresRepo(db)
	s, err := repo.Get(context.Background(), "legal", "nda.pdf")
	require.NoError(t, err)
	assert.Equal(t, "text", s.Text)

	_, err = repo.Get(context.Background(), "legal", "gone.pdf")
	assert.ErrorIs(t, err, summary.ErrNotFound)
}

func TestPostgresRepo_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	cols := []string{"document_set", "filename", "summary", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT document_set").WithArgs("").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a", "one.pdf", "1", now, now).
			AddRow("b", "two.pdf", "2", now, now))

	list, err := summary.NewPostgresRepo(db).List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
