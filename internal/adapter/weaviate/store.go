package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docrag/internal/vectorstore"
)

// overfetch multiplies the per-document chunk budget when asking Weaviate for
// neighbours, so grouping still fills limit documents.
const overfetch = 4

const listPageSize = 500

type Store struct {
	client *weaviate.Client
	dim    int
}

func NewStore(client *weaviate.Client, dim int) *Store {
	return &Store{client: client, dim: dim}
}

// NewClient connects to the Weaviate instance at host.
func NewClient(host, scheme string) (*weaviate.Client, error) {
	return weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, &schemaClient{client: s.client})
}

// DocumentKey identifies a document across sets.
func DocumentKey(documentSet, filename string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentSet+"/"+filename)).String()
}

func eq(path, value string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{path}).
		WithOperator(filters.Equal).
		WithValueText(value)
}

func documentFilter(filename, documentSet string) *filters.WhereBuilder {
	if vectorstore.IsWildcard(documentSet) {
		return eq("filename", filename)
	}
	return eq("documentKey", DocumentKey(documentSet, filename))
}

func (s *Store) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := vectorstore.CheckDimensions(chunks, s.dim); err != nil {
		return err
	}

	objects := make([]*models.Object, 0, len(chunks))
	for i, c := range chunks {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", c.ID, err)
		}
		index := i
		if v, ok := c.Metadata["chunk_index"].(int); ok {
			index = v
		}
		objects = append(objects, &models.Object{
			Class: ClassName,
			ID:    strfmt.UUID(c.ID),
			Properties: map[string]interface{}{
				"content":     c.Content,
				"filename":    c.Filename,
				"documentSet": c.DocumentSet,
				"documentKey": DocumentKey(c.DocumentSet, c.Filename),
				"pipeline":    c.Pipeline,
				"chunkIndex":  index,
				"metadata":    string(metadata),
			},
			Vector: c.Vector,
		})
	}

	existing, err := s.existingIDs(ctx, chunks)
	if err != nil {
		return vectorstore.Unavailable("upsert", err)
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return vectorstore.Unavailable("upsert", err)
	}

	var written []string
	var failures []string
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			failures = append(failures, fmt.Sprintf("%s: %s", r.ID, r.Result.Errors.Error[0].Message))
			continue
		}
		if !existing[string(r.ID)] {
			written = append(written, string(r.ID))
		}
	}
	if len(failures) == 0 {
		return nil
	}

	// Weaviate batches are not transactional. Only objects this batch created
	// are removed; overwritten ones keep their new content.
	for _, id := range written {
		if err := s.client.Data().Deleter().WithClassName(ClassName).WithID(id).Do(ctx); err != nil {
			slog.WarnContext(ctx, "failed to roll back chunk", "id", id, "error", err)
		}
	}
	return vectorstore.Unavailable("upsert", errors.New(strings.Join(failures, "; ")))
}

// existingIDs reports which chunk ids are already stored.
func (s *Store) existingIDs(ctx context.Context, chunks []vectorstore.Chunk) (map[string]bool, error) {
	existing := make(map[string]bool)
	for _, c := range chunks {
		ok, err := s.client.Data().Checker().WithClassName(ClassName).WithID(c.ID).Do(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			existing[c.ID] = true
		}
	}
	return existing, nil
}

func (s *Store) Search(ctx context.Context, vector []float32, limit int, documentSet string) ([]vectorstore.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "filename"},
		{Name: "documentSet"},
		{Name: "pipeline"},
		{Name: "metadata"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	query := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithNearVector(nearVector).
		WithLimit(limit * vectorstore.PerDocumentChunks * overfetch).
		WithFields(fields...)
	if !vectorstore.IsWildcard(documentSet) {
		query = query.WithWhere(eq("documentSet", documentSet))
	}

	res, err := query.Do(ctx)
	if err != nil {
		return nil, vectorstore.Unavailable("search", err)
	}
	if len(res.Errors) > 0 {
		return nil, vectorstore.Unavailable("search", graphQLError(res.Errors))
	}

	var results []vectorstore.SearchResult
	for _, props := range objectsOf(res.Data, "Get") {
		var r vectorstore.SearchResult
		r.Content, _ = props["content"].(string)
		r.Filename, _ = props["filename"].(string)
		r.DocumentSet, _ = props["documentSet"].(string)
		raw, _ := props["metadata"].(string)
		r.Metadata = vectorstore.DecodeMetadata([]byte(raw))
		r.Metadata["filename"] = r.Filename
		r.Metadata["document_set"] = r.DocumentSet
		if pipeline, ok := props["pipeline"].(string); ok {
			r.Metadata["pipeline"] = pipeline
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			r.ID, _ = additional["id"].(string)
			if d, ok := additional["distance"].(float64); ok {
				r.Score = float32(1 - d)
			}
		}
		results = append(results, r)
	}

	return vectorstore.GroupByDocument(results, limit, vectorstore.PerDocumentChunks), nil
}

func (s *Store) Delete(ctx context.Context, filename, documentSet string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassName).
		WithOutput("minimal").
		WithWhere(documentFilter(filename, documentSet)).
		Do(ctx)
	if err != nil {
		return vectorstore.Unavailable("delete", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, filename, documentSet string) (bool, error) {
	n, err := s.count(ctx, documentFilter(filename, documentSet))
	if err != nil {
		return false, vectorstore.Unavailable("exists", err)
	}
	return n > 0, nil
}

// CountChunks returns the number of stored chunks across all sets.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	n, err := s.count(ctx, nil)
	if err != nil {
		return 0, vectorstore.Unavailable("count", err)
	}
	return n, nil
}

func (s *Store) count(ctx context.Context, where *filters.WhereBuilder) (int, error) {
	q := s.client.GraphQL().Aggregate().
		WithClassName(ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}})
	if where != nil {
		q = q.WithWhere(where)
	}
	res, err := q.Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, graphQLError(res.Errors)
	}
	for _, props := range objectsOf(res.Data, "Aggregate") {
		if meta, ok := props["meta"].(map[string]interface{}); ok {
			if count, ok := meta["count"].(float64); ok {
				return int(count), nil
			}
		}
	}
	return 0, nil
}

// ListDistinctFilenames walks the class with the cursor API. Aggregate
// group-by caps the number of groups, the cursor does not.
func (s *Store) ListDistinctFilenames(ctx context.Context) ([]vectorstore.DocumentInfo, error) {
	type key struct{ set, name string }
	counts := make(map[key]int)

	err := s.scan(ctx, func(props map[string]interface{}) {
		name, _ := props["filename"].(string)
		set, _ := props["documentSet"].(string)
		counts[key{set, name}]++
	})
	if err != nil {
		return nil, vectorstore.Unavailable("list documents", err)
	}

	docs := make([]vectorstore.DocumentInfo, 0, len(counts))
	for k, n := range counts {
		docs = append(docs, vectorstore.DocumentInfo{Filename: k.name, DocumentSet: k.set, ChunkCount: n})
	}
	vectorstore.SortDocuments(docs)
	return docs, nil
}

func (s *Store) ListDistinctDocumentSets(ctx context.Context) ([]string, error) {
	docs, err := s.ListDistinctFilenames(ctx)
	if err != nil {
		return nil, err
	}
	var sets []string
	for _, d := range docs {
		if len(sets) == 0 || sets[len(sets)-1] != d.DocumentSet {
			sets = append(sets, d.DocumentSet)
		}
	}
	return sets, nil
}

func (s *Store) scan(ctx context.Context, visit func(map[string]interface{})) error {
	fields := []graphql.Field{
		{Name: "filename"},
		{Name: "documentSet"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	after := ""
	for {
		q := s.client.GraphQL().Get().
			WithClassName(ClassName).
			WithLimit(listPageSize).
			WithFields(fields...)
		if after != "" {
			q = q.WithAfter(after)
		}
		res, err := q.Do(ctx)
		if err != nil {
			return err
		}
		if len(res.Errors) > 0 {
			return graphQLError(res.Errors)
		}

		page := objectsOf(res.Data, "Get")
		for _, props := range page {
			visit(props)
			if additional, ok := props["_additional"].(map[string]interface{}); ok {
				if id, ok := additional["id"].(string); ok {
					after = id
				}
			}
		}
		if len(page) < listPageSize {
			return nil
		}
	}
}

func objectsOf(data map[string]models.JSONObject, root string) []map[string]interface{} {
	byClass, ok := data[root].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := byClass[ClassName].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, o := range raw {
		if props, ok := o.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

func graphQLError(errs []*models.GraphQLError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
}
