package vectorstore_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"docrag/internal/vectorstore"
)

func TestGroupByDocument(t *testing.T) {
	var in []vectorstore.SearchResult
	for d := 0; d < 10; d++ {
		for c := 0; c < 6; c++ {
			in = append(in, vectorstore.SearchResult{
				Filename:    fmt.Sprintf("f%d", d),
				DocumentSet: "s",
				Score:       float32(100-d*6-c) / 100,
			})
		}
	}

	out := vectorstore.GroupByDocument(in, 5, 3)

	assert.Len(t, out, 15)
	docs := map[string]int{}
	for _, r := range out {
		docs[r.Filename]++
	}
	assert.Len(t, docs, 5)
	for _, n := range docs {
		assert.Equal(t, 3, n)
	}
	assert.Equal(t, "f0", out[0].Filename)
}

func TestGroupByDocument_SameNameDifferentSets(t *testing.T) {
	in := []vectorstore.SearchResult{
		{Filename: "a", DocumentSet: "x", Score: 0.9},
		{Filename: "a", DocumentSet: "y", Score: 0.8},
	}
	out := vectorstore.GroupByDocument(in, 1, 3)
	assert.Len(t, out, 1)
	assert.Equal(t, "x", out[0].DocumentSet)
}

func TestGroupByDocument_Empty(t *testing.T) {
	assert.Nil(t, vectorstore.GroupByDocument(nil, 5, 3))
	assert.Nil(t, vectorstore.GroupByDocument([]vectorstore.SearchResult{{Filename: "a"}}, 0, 3))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, vectorstore.CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, vectorstore.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, vectorstore.CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, vectorstore.CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestIsWildcard(t *testing.T) {
	assert.True(t, vectorstore.IsWildcard(""))
	assert.True(t, vectorstore.IsWildcard("all"))
	assert.True(t, vectorstore.IsWildcard("ALL"))
	assert.False(t, vectorstore.IsWildcard("demo"))
}

func TestChunkID_Deterministic(t *testing.T) {
	a := vectorstore.ChunkID("demo", "a.txt", 0)
	assert.Equal(t, a, vectorstore.ChunkID("demo", "a.txt", 0))
	assert.NotEqual(t, a, vectorstore.ChunkID("demo", "a.txt", 1))
	assert.NotEqual(t, a, vectorstore.ChunkID("other", "a.txt", 0))
}
