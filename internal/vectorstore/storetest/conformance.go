// Package storetest holds the behaviour every vectorstore.Store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/vectorstore"
)

// Dim is the vector size used by the suite. Backends under test must be
// configured for it.
const Dim = 3

func chunk(set, name string, i int, vec []float32) vectorstore.Chunk {
	return vectorstore.Chunk{
		ID:          vectorstore.ChunkID(set, name, i),
		Vector:      vec,
		Filename:    name,
		DocumentSet: set,
		Content:     fmt.Sprintf("%s chunk %d", name, i),
		Pipeline:    "standard",
		Metadata:    map[string]any{"chunk_index": i},
	}
}

// Run exercises newStore with the shared contract. Each subtest gets a fresh
// store.
func Run(t *testing.T, newStore func(t *testing.T) vectorstore.Store) {
	ctx := context.Background()

	t.Run("UpsertIsIdempotentPerID", func(t *testing.T) {
		s := newStore(t)
		c := chunk("demo", "a.txt", 0, []float32{1, 0, 0})
		require.NoError(t, s.Upsert(ctx, []vectorstore.Chunk{c}))
		require.NoError(t, s.Upsert(ctx, []vectorstore.Chunk{c}))

		docs, err := s.ListDistinctFilenames(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, vectorstore.DocumentInfo{Filename: "a.txt", DocumentSet: "demo", ChunkCount: 1}, docs[0])
	})

	t.Run("Exists", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, []vectorstore.Chunk{chunk("demo", "a.txt", 0, []float32{1, 0, 0})}))

		ok, err := s.Exists(ctx, "a.txt", "demo")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, "a.txt", "other")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.Exists(ctx, "a.txt", "all")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("SearchGroupsByDocument", func(t *testing.T) {
		s := newStore(t)
		var chunks []vectorstore.Chunk
		for d := 0; d < 8; d++ {
			for i := 0; i < 5; i++ {
				vec := []float32{1, float32(d) * 0.1, float32(i) * 0.01}
				chunks = append(chunks, chunk("demo", fmt.Sprintf("doc-%d.txt", d), i, vec))
			}
		}
		require.NoError(t, s.Upsert(ctx, chunks))

		results, err := s.Search(ctx, []float32{1, 0, 0}, 5, "demo")
		require.NoError(t, err)
		require.NotEmpty(t, results)

		perDoc := map[string]int{}
		for i, r := range results {
			perDoc[r.Filename]++
			if i > 0 {
				assert.LessOrEqual(t, r.Score, results[i-1].Score)
			}
		}
		assert.LessOrEqual(t, len(perDoc), 5)
		for name, n := range perDoc {
			assert.LessOrEqual(t, n, vectorstore.PerDocumentChunks, name)
		}
		assert.Equal(t, "doc-0.txt", results[0].Filename)
	})

	t.Run("SearchFiltersByDocumentSet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, []vectorstore.Chunk{
			chunk("a", "one.txt", 0, []float32{1, 0, 0}),
			chunk("b", "two.txt", 0, []float32{0, 1, 0}),
		}))

		onlyA, err := s.Search(ctx, []float32{0, 1, 0}, 10, "a")
		require.NoError(t, err)
		require.Len(t, onlyA, 1)
		assert.Equal(t, "one.txt", onlyA[0].Filename)

		for _, wildcard := range []string{"all", ""} {
			both, err := s.Search(ctx, []float32{0, 1, 0}, 10, wildcard)
			require.NoError(t, err)
			require.Len(t, both, 2)
			assert.Equal(t, "two.txt", both[0].Filename)
		}
	})

	t.Run("DeleteScopedToSet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, []vectorstore.Chunk{
			chunk("a", "same.txt", 0, []float32{1, 0, 0}),
			chunk("a", "same.txt", 1, []float32{1, 0, 0}),
			chunk("b", "same.txt", 0, []float32{1, 0, 0}),
			chunk("b", "keep.txt", 0, []float32{1, 0, 0}),
		}))

		require.NoError(t, s.Delete(ctx, "same.txt", "a"))
		ok, _ := s.Exists(ctx, "same.txt", "a")
		assert.False(t, ok)
		ok, _ = s.Exists(ctx, "same.txt", "b")
		assert.True(t, ok)

		require.NoError(t, s.Delete(ctx, "same.txt", "all"))
		docs, err := s.ListDistinctFilenames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []vectorstore.DocumentInfo{{Filename: "keep.txt", DocumentSet: "b", ChunkCount: 1}}, docs)
	})

	t.Run("ListsDocumentsAndSets", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, []vectorstore.Chunk{
			chunk("b", "x.txt", 0, []float32{1, 0, 0}),
			chunk("b", "x.txt", 1, []float32{1, 0, 0}),
			chunk("a", "y.txt", 0, []float32{1, 0, 0}),
		}))

		docs, err := s.ListDistinctFilenames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []vectorstore.DocumentInfo{
			{Filename: "y.txt", DocumentSet: "a", ChunkCount: 1},
			{Filename: "x.txt", DocumentSet: "b", ChunkCount: 2},
		}, docs)

		sets, err := s.ListDistinctDocumentSets(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, sets)
	})

	t.Run("RejectsWrongDimension", func(t *testing.T) {
		s := newStore(t)
		err := s.Upsert(ctx, []vectorstore.Chunk{chunk("a", "bad.txt", 0, []float32{1, 0})})
		assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

		ok, _ := s.Exists(ctx, "bad.txt", "a")
		assert.False(t, ok)
	})
}
