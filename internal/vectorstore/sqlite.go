package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/vecdocs/internal/document"
	"github.com/kalambet/vecdocs/internal/storage"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps vectors in the embedded SQLite database and answers
// queries with a brute-force scan and a bounded top-K heap. Filters are
// evaluated in Go; a documentId equality filter narrows the scan in SQL.
type SQLiteStore struct {
	db *storage.Store
}

// NewSQLiteStore wraps an opened storage.Store.
func NewSQLiteStore(db *storage.Store) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) CreateIndex(ctx context.Context, name string, dimension int, metric Metric) error {
	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return ErrInvalidDimension
	}
	metric, err := ParseMetric(string(metric))
	if err != nil {
		return err
	}

	existing, err := s.db.GetIndex(ctx, name)
	switch {
	case err == nil:
		if existing.Dimension != dimension {
			return fmt.Errorf("%w: index %s has dimension %d, requested %d", ErrDimensionMismatch, name, existing.Dimension, dimension)
		}
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("looking up index %s: %w", name, err)
	}

	if err := s.db.SaveIndex(ctx, storage.IndexRecord{Name: name, Dimension: dimension, Metric: string(metric)}); err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteIndex(ctx context.Context, name string) error {
	if err := s.db.DeleteIndex(ctx, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		return fmt.Errorf("deleting index %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) ListIndexes(ctx context.Context) ([]string, error) {
	records, err := s.db.ListIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing indexes: %w", err)
	}
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names, nil
}

func (s *SQLiteStore) DescribeIndex(ctx context.Context, name string) (IndexStats, error) {
	idx, err := s.index(ctx, name)
	if err != nil {
		return IndexStats{}, err
	}
	count, err := s.db.CountVectors(ctx, name)
	if err != nil {
		return IndexStats{}, fmt.Errorf("counting vectors in %s: %w", name, err)
	}
	return IndexStats{Name: idx.Name, Dimension: idx.Dimension, Metric: Metric(idx.Metric), Count: count}, nil
}

func (s *SQLiteStore) index(ctx context.Context, name string) (storage.IndexRecord, error) {
	idx, err := s.db.GetIndex(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return idx, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if err != nil {
		return idx, fmt.Errorf("looking up index %s: %w", name, err)
	}
	return idx, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, index string, ids []string, vectors [][]float32, metadata []map[string]any) error {
	idx, err := s.index(ctx, index)
	if err != nil {
		return err
	}
	if err := checkUpsert(ids, vectors, metadata, idx.Dimension); err != nil {
		return err
	}

	rows := make([]storage.VectorRow, len(ids))
	for i, id := range ids {
		meta, err := json.Marshal(orEmpty(metadata[i]))
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", id, err)
		}
		docID, _ := metadata[i][document.KeyDocumentID].(string)
		rows[i] = storage.VectorRow{
			ID:         id,
			DocumentID: docID,
			Embedding:  encodeFloat32s(vectors[i]),
			Metadata:   string(meta),
		}
	}
	if err := s.db.UpsertVectors(ctx, index, rows); err != nil {
		return fmt.Errorf("upserting into %s: %w", index, err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, p QueryParams) ([]QueryResult, error) {
	idx, err := s.index(ctx, p.IndexName)
	if err != nil {
		return nil, err
	}
	if err := checkQuery(p, idx.Dimension); err != nil {
		return nil, err
	}
	conds, err := p.Filter.Conditions()
	if err != nil {
		return nil, err
	}

	unranked := isZero(p.Vector)
	sc := newScorer(Metric(idx.Metric), p.Vector)
	top := newTopK(p.TopK)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32
	err = s.db.ScanVectors(ctx, p.IndexName, documentIDOf(conds), func(r storage.VectorRow) error {
		var (
			score float64
			err   error
		)
		if !unranked {
			buf, err = decodeFloat32sInto(buf, r.Embedding)
			if err != nil {
				return fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
			}
			score = sc.score(buf)
		}
		if !passesMin(score, p.MinScore) || !top.wants(score, r.ID) {
			return nil
		}

		var meta map[string]any
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			return fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
		if !matches(conds, meta) {
			return nil
		}

		res := QueryResult{ID: r.ID, Score: score, Metadata: meta}
		if p.IncludeVector {
			res.Vector, err = decodeFloat32sInto(nil, r.Embedding)
			if err != nil {
				return fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
			}
		}
		top.push(res)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", p.IndexName, err)
	}
	return top.results(), nil
}

func (s *SQLiteStore) DeleteVector(ctx context.Context, index, id string) error {
	if _, err := s.index(ctx, index); err != nil {
		return err
	}
	if err := s.db.DeleteVector(ctx, index, id); err != nil {
		return fmt.Errorf("deleting %s from %s: %w", id, index, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateVector(ctx context.Context, index, id string, vector []float32, metadata map[string]any) error {
	if vector == nil && metadata == nil {
		return ErrNothingToUpdate
	}
	idx, err := s.index(ctx, index)
	if err != nil {
		return err
	}

	row, err := s.db.GetVector(ctx, index, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s in %s", ErrVectorNotFound, id, index)
	}
	if err != nil {
		return fmt.Errorf("loading %s from %s: %w", id, index, err)
	}

	if vector != nil {
		if len(vector) != idx.Dimension {
			return fmt.Errorf("%w: vector %s has %d dimensions, index has %d", ErrDimensionMismatch, id, len(vector), idx.Dimension)
		}
		row.Embedding = encodeFloat32s(vector)
	}
	if metadata != nil {
		var meta map[string]any
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			return fmt.Errorf("decoding metadata for %s: %w", id, err)
		}
		meta = orEmpty(meta)
		for k, v := range metadata {
			meta[k] = v
		}
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", id, err)
		}
		row.Metadata = string(b)
		if docID, ok := meta[document.KeyDocumentID].(string); ok {
			row.DocumentID = docID
		}
	}

	if err := s.db.UpsertVectors(ctx, index, []storage.VectorRow{row}); err != nil {
		return fmt.Errorf("updating %s in %s: %w", id, index, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// documentIDOf returns the document id when conds pin documentId to a single
// string, so the scan can use the document_id column.
func documentIDOf(conds []Condition) string {
	for _, c := range conds {
		if c.Key == document.KeyDocumentID && len(c.Values) == 1 {
			if s, ok := c.Values[0].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
