package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"

	adapter "docrag/internal/adapter/weaviate"
	"docrag/internal/vectorstore"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) (*weaviate.Client, *httptest.Server) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)
	return client, ts
}

func graphqlQuery(t *testing.T, r *http.Request) string {
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	q, _ := body["query"].(string)
	return q
}

func testChunk(i int) vectorstore.Chunk {
	return vectorstore.Chunk{
		ID:          vectorstore.ChunkID("demo", "a.txt", i),
		Vector:      []float32{0.1, 0.2, 0.3},
		Filename:    "a.txt",
		DocumentSet: "demo",
		Content:     "content",
		Pipeline:    "standard",
		Metadata:    map[string]any{"chunk_index": i},
	}
}

// objectExists answers the per-id HEAD probe Upsert sends before writing.
func objectExists(w http.ResponseWriter, r *http.Request, ids ...string) bool {
	if r.Method != http.MethodHead {
		return false
	}
	id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	for _, known := range ids {
		if known == id {
			w.WriteHeader(http.StatusNoContent)
			return true
		}
	}
	w.WriteHeader(http.StatusNotFound)
	return true
}

func TestStore_Upsert(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if objectExists(w, r) {
			return
		}
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body struct {
			Objects []map[string]interface{} `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Objects, 1)
		props := body.Objects[0]["properties"].(map[string]interface{})
		assert.Equal(t, "a.txt", props["filename"])
		assert.Equal(t, "demo", props["documentSet"])
		assert.Equal(t, adapter.DocumentKey("demo", "a.txt"), props["documentKey"])

		json.NewEncoder(w).Encode([]interface{}{
			map[string]interface{}{"id": body.Objects[0]["id"], "class": adapter.ClassName, "result": map[string]interface{}{}},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	assert.NoError(t, store.Upsert(context.Background(), []vectorstore.Chunk{testChunk(0)}))
}

func TestStore_Upsert_RejectsWrongDimension(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	defer ts.Close()

	store := adapter.NewStore(client, 4)
	err := store.Upsert(context.Background(), []vectorstore.Chunk{testChunk(0)})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestStore_Upsert_RollsBackPartialBatch(t *testing.T) {
	ok := testChunk(0)
	bad := testChunk(1)
	var deleted []string

	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case objectExists(w, r):
		case r.URL.Path == "/v1/batch/objects":
			json.NewEncoder(w).Encode([]interface{}{
				map[string]interface{}{"id": ok.ID, "class": adapter.ClassName, "result": map[string]interface{}{}},
				map[string]interface{}{"id": bad.ID, "class": adapter.ClassName, "result": map[string]interface{}{
					"errors": map[string]interface{}{"error": []interface{}{map[string]interface{}{"message": "boom"}}},
				}},
			})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/objects/"):
			deleted = append(deleted, r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:])
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	err := store.Upsert(context.Background(), []vectorstore.Chunk{ok, bad})
	assert.ErrorIs(t, err, vectorstore.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{ok.ID}, deleted)
}

func TestStore_Upsert_PartialBatchKeepsExistingChunks(t *testing.T) {
	stored := testChunk(0)
	fresh := testChunk(1)
	bad := testChunk(2)
	var deleted []string

	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case objectExists(w, r, stored.ID):
		case r.URL.Path == "/v1/batch/objects":
			json.NewEncoder(w).Encode([]interface{}{
				map[string]interface{}{"id": stored.ID, "class": adapter.ClassName, "result": map[string]interface{}{}},
				map[string]interface{}{"id": fresh.ID, "class": adapter.ClassName, "result": map[string]interface{}{}},
				map[string]interface{}{"id": bad.ID, "class": adapter.ClassName, "result": map[string]interface{}{
					"errors": map[string]interface{}{"error": []interface{}{map[string]interface{}{"message": "boom"}}},
				}},
			})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/objects/"):
			deleted = append(deleted, r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:])
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	err := store.Upsert(context.Background(), []vectorstore.Chunk{stored, fresh, bad})
	assert.ErrorIs(t, err, vectorstore.ErrStoreUnavailable)
	assert.Equal(t, []string{fresh.ID}, deleted)
}

func TestStore_Upsert_ExistenceCheckFails(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/batch/objects" {
			t.Error("batch sent after failed existence check")
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	err := store.Upsert(context.Background(), []vectorstore.Chunk{testChunk(0)})
	assert.ErrorIs(t, err, vectorstore.ErrStoreUnavailable)
}

func TestStore_Search(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		q := graphqlQuery(t, r)
		assert.Contains(t, q, "nearVector")
		assert.Contains(t, q, "documentSet")
		assert.Contains(t, q, "limit: 24")

		hit := func(name, id string, distance float64) map[string]interface{} {
			return map[string]interface{}{
				"content":     "about " + name,
				"filename":    name,
				"documentSet": "demo",
				"pipeline":    "standard",
				"metadata":    `{"chunk_index": 0}`,
				"_additional": map[string]interface{}{"id": id, "distance": distance},
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					adapter.ClassName: []interface{}{
						hit("a.txt", "1", 0.1),
						hit("b.txt", "2", 0.3),
						hit("c.txt", "3", 0.5),
					},
				},
			},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	results, err := store.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 2, "demo")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.txt", results[0].Filename)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
	assert.Equal(t, "b.txt", results[1].Filename)
	assert.Equal(t, "demo", results[0].Metadata["document_set"])
	assert.Equal(t, float64(0), results[0].Metadata["chunk_index"])
}

func TestStore_Search_GraphQLError(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []interface{}{map[string]interface{}{"message": "class not found"}},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	_, err := store.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 5, "all")
	assert.ErrorIs(t, err, vectorstore.ErrStoreUnavailable)
}

func TestStore_Delete(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, http.MethodDelete, r.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		match := body["match"].(map[string]interface{})
		where := match["where"].(map[string]interface{})
		assert.Equal(t, []interface{}{"documentKey"}, where["path"])
		assert.Equal(t, adapter.DocumentKey("demo", "a.txt"), where["valueText"])

		json.NewEncoder(w).Encode(map[string]interface{}{})
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	assert.NoError(t, store.Delete(context.Background(), "a.txt", "demo"))
}

func TestStore_Exists(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		q := graphqlQuery(t, r)
		assert.Contains(t, q, "Aggregate")
		assert.Contains(t, q, "documentKey")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Aggregate": map[string]interface{}{
					adapter.ClassName: []interface{}{
						map[string]interface{}{"meta": map[string]interface{}{"count": 2.0}},
					},
				},
			},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	ok, err := store.Exists(context.Background(), "a.txt", "demo")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_ListDistinctFilenames(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		q := graphqlQuery(t, r)
		assert.Contains(t, q, "limit: 500")
		obj := func(set, name, id string) map[string]interface{} {
			return map[string]interface{}{
				"filename":    name,
				"documentSet": set,
				"_additional": map[string]interface{}{"id": id},
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					adapter.ClassName: []interface{}{
						obj("zeta", "b.txt", "1"),
						obj("alpha", "a.txt", "2"),
						obj("zeta", "b.txt", "3"),
					},
				},
			},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	docs, err := store.ListDistinctFilenames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []vectorstore.DocumentInfo{
		{Filename: "a.txt", DocumentSet: "alpha", ChunkCount: 1},
		{Filename: "b.txt", DocumentSet: "zeta", ChunkCount: 2},
	}, docs)

	sets, err := store.ListDistinctDocumentSets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, sets)
}

func TestStore_Unreachable(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer ts.Close()

	store := adapter.NewStore(client, 3)
	_, err := store.ListDistinctFilenames(context.Background())
	assert.ErrorIs(t, err, vectorstore.ErrStoreUnavailable)
}
