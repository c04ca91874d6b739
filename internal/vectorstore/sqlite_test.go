package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kalambet/vecdocs/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	s := NewSQLiteStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s Store, name string, dim int, m Metric) {
	t.Helper()
	if err := s.CreateIndex(context.Background(), name, dim, m); err != nil {
		t.Fatalf("CreateIndex(%s): %v", name, err)
	}
}

func mustUpsert(t *testing.T, s Store, index string, ids []string, vecs [][]float32, meta []map[string]any) {
	t.Helper()
	if err := s.Upsert(context.Background(), index, ids, vecs, meta); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestCreateIndex_Idempotent(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "docs", 3, Cosine)
	mustCreate(t, s, "docs", 3, Cosine)

	err := s.CreateIndex(context.Background(), "docs", 4, Cosine)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("CreateIndex with other dimension: err = %v, want ErrDimensionMismatch", err)
	}
}

func TestCreateIndex_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		index  string
		dim    int
		metric Metric
		want   error
	}{
		{"bad name", "Bad Name", 3, Cosine, ErrInvalidIndexName},
		{"zero dimension", "docs", 0, Cosine, ErrInvalidDimension},
		{"unknown metric", "docs", 3, "manhattan", ErrInvalidMetric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.CreateIndex(ctx, tt.index, tt.dim, tt.metric); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateIndex_DefaultMetric(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "docs", 2, "")

	stats, err := s.DescribeIndex(context.Background(), "docs")
	if err != nil {
		t.Fatalf("DescribeIndex: %v", err)
	}
	if stats.Metric != Cosine {
		t.Errorf("metric = %q, want cosine", stats.Metric)
	}
}

func TestListAndDeleteIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "notes", 2, Cosine)
	mustCreate(t, s, "docs", 2, Cosine)

	names, err := s.ListIndexes(ctx)
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	if fmt.Sprint(names) != "[docs notes]" {
		t.Errorf("ListIndexes = %v, want [docs notes]", names)
	}

	if err := s.DeleteIndex(ctx, "docs"); err != nil {
		t.Fatalf("DeleteIndex: %v", err)
	}
	if err := s.DeleteIndex(ctx, "docs"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("DeleteIndex twice: err = %v, want ErrIndexNotFound", err)
	}
	if _, err := s.DescribeIndex(ctx, "docs"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("DescribeIndex after delete: err = %v, want ErrIndexNotFound", err)
	}
}

func TestUpsert_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "docs", 2, Cosine)

	err := s.Upsert(ctx, "docs", []string{"a", "b"}, [][]float32{{1, 0}}, []map[string]any{{}, {}})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("length mismatch: err = %v, want ErrLengthMismatch", err)
	}

	err = s.Upsert(ctx, "docs", []string{"a"}, [][]float32{{1, 0, 0}}, []map[string]any{{}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("dimension mismatch: err = %v, want ErrDimensionMismatch", err)
	}

	err = s.Upsert(ctx, "missing", []string{"a"}, [][]float32{{1, 0}}, []map[string]any{{}})
	if !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("missing index: err = %v, want ErrIndexNotFound", err)
	}
}

func TestQuery_OrdersByScoreAndTruncates(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "docs", 2, Cosine)
	mustUpsert(t, s, "docs",
		[]string{"far", "near", "mid"},
		[][]float32{{0, 1}, {1, 0}, {1, 1}},
		[]map[string]any{{"name": "far"}, {"name": "near"}, {"name": "mid"}},
	)

	res, err := s.Query(context.Background(), QueryParams{IndexName: "docs", Vector: []float32{1, 0}, TopK: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	if res[0].ID != "near" || res[1].ID != "mid" {
		t.Errorf("order = %s, %s; want near, mid", res[0].ID, res[1].ID)
	}
	if res[0].Score < 0.999 {
		t.Errorf("near score = %f, want ~1", res[0].Score)
	}
	if res[0].Metadata["name"] != "near" {
		t.Errorf("metadata = %v", res[0].Metadata)
	}
	if res[0].Vector != nil {
		t.Errorf("vector returned without IncludeVector")
	}
}

func TestQuery_MinScoreAndIncludeVector(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "docs", 2, Cosine)
	mustUpsert(t, s, "docs",
		[]string{"a", "b"},
		[][]float32{{1, 0}, {0, 1}},
		[]map[string]any{{}, {}},
	)

	floor := 0.5
	res, err := s.Query(context.Background(), QueryParams{
		IndexName: "docs", Vector: []float32{1, 0}, TopK: 10, MinScore: &floor, IncludeVector: true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 1 || res[0].ID != "a" {
		t.Fatalf("results = %+v, want only a", res)
	}
	if len(res[0].Vector) != 2 || res[0].Vector[0] != 1 {
		t.Errorf("vector = %v, want [1 0]", res[0].Vector)
	}
}

func TestQuery_Filter(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "docs", 2, Cosine)
	mustUpsert(t, s, "docs",
		[]string{"c1", "c2", "c3"},
		[][]float32{{1, 0}, {1, 0.1}, {1, 0.2}},
		[]map[string]any{
			{"documentId": "d1", "lang": "en", "chunkIndex": 0},
			{"documentId": "d1", "lang": "de", "chunkIndex": 1},
			{"documentId": "d2", "lang": "en", "chunkIndex": 0},
		},
	)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"document equality", Filter{"documentId": "d1"}, 2},
		{"$eq", Filter{"lang": map[string]any{"$eq": "en"}}, 2},
		{"$in", Filter{"lang": map[string]any{"$in": []any{"de", "fr"}}}, 1},
		{"numeric equality", Filter{"chunkIndex": 0}, 2},
		{"conjunction", Filter{"documentId": "d1", "lang": "en"}, 1},
		{"missing key", Filter{"author": "x"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Query(ctx, QueryParams{IndexName: "docs", Vector: []float32{1, 0}, TopK: 10, Filter: tt.filter})
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(res) != tt.want {
				t.Errorf("got %d results, want %d", len(res), tt.want)
			}
		})
	}

	_, err := s.Query(ctx, QueryParams{IndexName: "docs", Vector: []float32{1, 0}, TopK: 10, Filter: Filter{"lang": map[string]any{"$ne": "en"}}})
	if !errors.Is(err, ErrUnsupportedFilter) {
		t.Errorf("$ne filter: err = %v, want ErrUnsupportedFilter", err)
	}
}

func TestQuery_DimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "docs", 2, Cosine)

	_, err := s.Query(context.Background(), QueryParams{IndexName: "docs", Vector: []float32{1, 0, 0}, TopK: 1})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestQuery_Metrics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "l2", 2, Euclidean)
	mustCreate(t, s, "ip", 2, DotProduct)
	for _, idx := range []string{"l2", "ip"} {
		mustUpsert(t, s, idx, []string{"small", "big"}, [][]float32{{1, 0}, {3, 0}}, []map[string]any{{}, {}})
	}

	l2, err := s.Query(ctx, QueryParams{IndexName: "l2", Vector: []float32{1, 0}, TopK: 2})
	if err != nil {
		t.Fatalf("Query l2: %v", err)
	}
	if l2[0].ID != "small" || l2[0].Score != 1 || l2[1].Score != 1.0/3 {
		t.Errorf("euclidean results = %+v, want small (1) then big (1/3)", l2)
	}

	ip, err := s.Query(ctx, QueryParams{IndexName: "ip", Vector: []float32{1, 0}, TopK: 2})
	if err != nil {
		t.Fatalf("Query ip: %v", err)
	}
	if ip[0].ID != "big" || ip[0].Score != 3 {
		t.Errorf("dot product results = %+v, want big (3) first", ip)
	}
}

func TestEnumerate_ZeroVectorScan(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "docs", 2, Cosine)

	ids := make([]string, 25)
	vecs := make([][]float32, 25)
	meta := make([]map[string]any, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%02d", i)
		vecs[i] = []float32{float32(i + 1), 1}
		meta[i] = map[string]any{"documentId": fmt.Sprintf("d%d", i%5)}
	}
	mustUpsert(t, s, "docs", ids, vecs, meta)

	all, err := Enumerate(context.Background(), s, "docs", nil)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(all) != 25 {
		t.Fatalf("Enumerate returned %d records, want 25", len(all))
	}
	for _, r := range all {
		if r.Score != 0 {
			t.Fatalf("record %s score = %f, want 0 for unranked scan", r.ID, r.Score)
		}
	}
	if all[0].ID != "c00" {
		t.Errorf("first record = %s, want c00 (id order)", all[0].ID)
	}

	d3, err := Enumerate(context.Background(), s, "docs", Filter{"documentId": "d3"})
	if err != nil {
		t.Fatalf("Enumerate filtered: %v", err)
	}
	if len(d3) != 5 {
		t.Errorf("filtered Enumerate returned %d records, want 5", len(d3))
	}
}

func TestEnumerate_MissingIndex(t *testing.T) {
	s := newTestStore(t)
	if _, err := Enumerate(context.Background(), s, "missing", nil); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("err = %v, want ErrIndexNotFound", err)
	}
}

func TestDeleteVector_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "docs", 2, Cosine)
	mustUpsert(t, s, "docs", []string{"a"}, [][]float32{{1, 0}}, []map[string]any{{}})

	for i := range 2 {
		if err := s.DeleteVector(ctx, "docs", "a"); err != nil {
			t.Fatalf("DeleteVector #%d: %v", i+1, err)
		}
	}
	stats, _ := s.DescribeIndex(ctx, "docs")
	if stats.Count != 0 {
		t.Errorf("count = %d, want 0", stats.Count)
	}
}

func TestUpdateVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "docs", 2, Cosine)
	mustUpsert(t, s, "docs", []string{"a"}, [][]float32{{1, 0}}, []map[string]any{{"documentId": "d1", "title": "old"}})

	if err := s.UpdateVector(ctx, "docs", "a", []float32{0, 1}, map[string]any{"title": "new"}); err != nil {
		t.Fatalf("UpdateVector: %v", err)
	}

	res, err := s.Query(ctx, QueryParams{IndexName: "docs", Vector: []float32{0, 1}, TopK: 1, Filter: Filter{"documentId": "d1"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 1 || res[0].Score < 0.999 {
		t.Fatalf("results = %+v, want the updated vector", res)
	}
	if res[0].Metadata["title"] != "new" || res[0].Metadata["documentId"] != "d1" {
		t.Errorf("metadata = %v, want merged keys", res[0].Metadata)
	}

	if err := s.UpdateVector(ctx, "docs", "missing", []float32{0, 1}, nil); !errors.Is(err, ErrVectorNotFound) {
		t.Errorf("missing id: err = %v, want ErrVectorNotFound", err)
	}
	if err := s.UpdateVector(ctx, "docs", "a", nil, nil); !errors.Is(err, ErrNothingToUpdate) {
		t.Errorf("empty update: err = %v, want ErrNothingToUpdate", err)
	}
	if err := s.UpdateVector(ctx, "docs", "a", []float32{1}, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("short vector: err = %v, want ErrDimensionMismatch", err)
	}
}

func TestOpen_Backends(t *testing.T) {
	s, err := Open(context.Background(), BackendConfig{Backend: "sqlite", DataDir: ":memory:"})
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	s.Close()

	if _, err := Open(context.Background(), BackendConfig{Backend: "pinecone"}); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("Open(pinecone): err = %v, want ErrUnsupportedBackend", err)
	}
	if _, err := Open(context.Background(), BackendConfig{Backend: "pgvector"}); err == nil {
		t.Error("Open(pgvector) without DSN succeeded, want error")
	}
}
