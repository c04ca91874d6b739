package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kalambet/vecdocs/internal/document"
)

// Compile-time check that PGStore implements Store.
var _ Store = (*PGStore)(nil)

const pgCatalog = "vecdocs_indexes"

// pgOps holds the pgvector operator class, distance operator and the
// expression turning that distance into a "higher is better" score.
type pgOps struct {
	opclass string
	op      string
	score   string
}

var pgMetricOps = map[Metric]pgOps{
	Cosine:     {"vector_cosine_ops", "<=>", "1 - (embedding <=> $1)"},
	Euclidean:  {"vector_l2_ops", "<->", "1 / (1 + (embedding <-> $1))"},
	DotProduct: {"vector_ip_ops", "<#>", "(embedding <#> $1) * -1"},
}

// PGStore keeps each index in its own PostgreSQL table with a pgvector
// column, an HNSW index and JSONB metadata.
type PGStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and prepares the pgvector extension and the
// index catalog.
func OpenPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	for _, stmt := range []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS ` + pgCatalog + ` (
			name       TEXT PRIMARY KEY,
			dimension  INTEGER NOT NULL,
			metric     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("preparing schema: %w", err)
		}
	}
	return &PGStore{db: db}, nil
}

func pgTable(index string) string {
	return pq.QuoteIdentifier("vecdocs_" + index)
}

// pgCreateStatements returns the DDL creating the table of one index.
func pgCreateStatements(index string, dimension int, metric Metric) []string {
	table := pgTable(index)
	ops := pgMetricOps[metric]
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			document_id TEXT NOT NULL DEFAULT '',
			embedding   vector(%d) NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}',
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table, dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s)",
			pq.QuoteIdentifier("vecdocs_"+index+"_hnsw"), table, ops.opclass),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (document_id)",
			pq.QuoteIdentifier("vecdocs_"+index+"_doc"), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (metadata jsonb_path_ops)",
			pq.QuoteIdentifier("vecdocs_"+index+"_meta"), table),
	}
}

func (s *PGStore) CreateIndex(ctx context.Context, name string, dimension int, metric Metric) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx, "SELECT dimension FROM "+pgCatalog+" WHERE name = $1 FOR UPDATE", name).Scan(&existing)
	switch {
	case err == nil:
		if existing != dimension {
			return fmt.Errorf("%w: index %s has dimension %d, requested %d", ErrDimensionMismatch, name, existing, dimension)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("looking up index %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO "+pgCatalog+" (name, dimension, metric) VALUES ($1, $2, $3)", name, dimension, string(metric)); err != nil {
		return fmt.Errorf("recording index %s: %w", name, err)
	}
	for _, stmt := range pgCreateStatements(name, dimension, metric) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating index %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *PGStore) DeleteIndex(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM "+pgCatalog+" WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("deleting index %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+pgTable(name)); err != nil {
		return fmt.Errorf("dropping index %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *PGStore) ListIndexes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM "+pgCatalog+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing indexes: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *PGStore) index(ctx context.Context, name string) (int, Metric, error) {
	var dim int
	var metric string
	err := s.db.QueryRowContext(ctx, "SELECT dimension, metric FROM "+pgCatalog+" WHERE name = $1", name).Scan(&dim, &metric)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if err != nil {
		return 0, "", fmt.Errorf("looking up index %s: %w", name, err)
	}
	return dim, Metric(metric), nil
}

func (s *PGStore) DescribeIndex(ctx context.Context, name string) (IndexStats, error) {
	dim, metric, err := s.index(ctx, name)
	if err != nil {
		return IndexStats{}, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pgTable(name)).Scan(&count); err != nil {
		return IndexStats{}, fmt.Errorf("counting vectors in %s: %w", name, err)
	}
	return IndexStats{Name: name, Dimension: dim, Metric: metric, Count: count}, nil
}

func (s *PGStore) Upsert(ctx context.Context, index string, ids []string, vectors [][]float32, metadata []map[string]any) error {
	dim, _, err := s.index(ctx, index)
	if err != nil {
		return err
	}
	if err := checkUpsert(ids, vectors, metadata, dim); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+pgTable(index)+` (id, document_id, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		meta, err := json.Marshal(orEmpty(metadata[i]))
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", id, err)
		}
		docID, _ := metadata[i][document.KeyDocumentID].(string)
		if _, err := stmt.ExecContext(ctx, id, docID, pgvector.NewVector(vectors[i]), string(meta)); err != nil {
			return fmt.Errorf("upserting vector %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// pgQuery builds the SELECT for a query. Ranked queries bind the query
// vector as $1 and order by distance; a zero vector yields an unranked scan
// ordered by id with score 0.
func pgQuery(index string, metric Metric, p QueryParams, conds []Condition) (string, []any, error) {
	ops, ok := pgMetricOps[metric]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidMetric, metric)
	}
	unranked := isZero(p.Vector)

	var args []any
	score := "0::float8"
	if !unranked {
		args = append(args, pgvector.NewVector(p.Vector))
		score = ops.score
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, metadata, ")
	sb.WriteString(score)
	sb.WriteString(" AS score")
	if p.IncludeVector {
		sb.WriteString(", embedding")
	}
	sb.WriteString(" FROM ")
	sb.WriteString(pgTable(index))

	where, args, err := pgWhere(conds, args)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	if unranked {
		sb.WriteString(" ORDER BY id")
	} else {
		sb.WriteString(" ORDER BY embedding ")
		sb.WriteString(ops.op)
		sb.WriteString(" $1, id")
	}
	args = append(args, p.TopK)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	return sb.String(), args, nil
}

// pgWhere translates conditions into JSONB containment tests, appending the
// bound values to args.
func pgWhere(conds []Condition, args []any) (string, []any, error) {
	terms := make([]string, 0, len(conds))
	for _, c := range conds {
		alts := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			b, err := json.Marshal(map[string]any{c.Key: v})
			if err != nil {
				return "", nil, fmt.Errorf("%w: %v", ErrUnsupportedFilter, err)
			}
			args = append(args, string(b))
			alts = append(alts, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
		}
		if len(alts) == 1 {
			terms = append(terms, alts[0])
		} else {
			terms = append(terms, "("+strings.Join(alts, " OR ")+")")
		}
	}
	return strings.Join(terms, " AND "), args, nil
}

func (s *PGStore) Query(ctx context.Context, p QueryParams) ([]QueryResult, error) {
	dim, metric, err := s.index(ctx, p.IndexName)
	if err != nil {
		return nil, err
	}
	if err := checkQuery(p, dim); err != nil {
		return nil, err
	}
	conds, err := p.Filter.Conditions()
	if err != nil {
		return nil, err
	}
	if p.TopK <= 0 {
		return []QueryResult{}, nil
	}

	query, args, err := pgQuery(p.IndexName, metric, p, conds)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", p.IndexName, err)
	}
	defer rows.Close()

	results := []QueryResult{}
	for rows.Next() {
		var (
			r    QueryResult
			meta []byte
			vec  pgvector.Vector
		)
		dest := []any{&r.ID, &meta, &r.Score}
		if p.IncludeVector {
			dest = append(dest, &vec)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		// Rows arrive by descending score, so the rest are below the floor too.
		if !passesMin(r.Score, p.MinScore) {
			break
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
		if p.IncludeVector {
			r.Vector = vec.Slice()
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PGStore) DeleteVector(ctx context.Context, index, id string) error {
	if _, _, err := s.index(ctx, index); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+pgTable(index)+" WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting %s from %s: %w", id, index, err)
	}
	return nil
}

// pgUpdate builds the UPDATE for UpdateVector. Metadata is merged with the
// JSONB concatenation operator.
func pgUpdate(index string, id string, vector []float32, metadata map[string]any) (string, []any, error) {
	args := []any{id}
	var sets []string
	if vector != nil {
		args = append(args, pgvector.NewVector(vector))
		sets = append(sets, fmt.Sprintf("embedding = $%d", len(args)))
	}
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return "", nil, fmt.Errorf("encoding metadata for %s: %w", id, err)
		}
		args = append(args, string(b))
		n := len(args)
		sets = append(sets,
			fmt.Sprintf("metadata = metadata || $%d::jsonb", n),
			fmt.Sprintf("document_id = COALESCE(($%d::jsonb)->>'%s', document_id)", n, document.KeyDocumentID),
		)
	}
	sets = append(sets, "updated_at = now()")
	return "UPDATE " + pgTable(index) + " SET " + strings.Join(sets, ", ") + " WHERE id = $1", args, nil
}

func (s *PGStore) UpdateVector(ctx context.Context, index, id string, vector []float32, metadata map[string]any) error {
	if vector == nil && metadata == nil {
		return ErrNothingToUpdate
	}
	dim, _, err := s.index(ctx, index)
	if err != nil {
		return err
	}
	if vector != nil && len(vector) != dim {
		return fmt.Errorf("%w: vector %s has %d dimensions, index has %d", ErrDimensionMismatch, id, len(vector), dim)
	}

	query, args, err := pgUpdate(index, id, vector, metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating %s in %s: %w", id, index, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s in %s", ErrVectorNotFound, id, index)
	}
	return nil
}

// Close closes the connection pool.
func (s *PGStore) Close() error {
	return s.db.Close()
}
