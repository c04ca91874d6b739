package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database holding the index catalog and vectors.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vecdocs.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Index catalog ---

// SaveIndex inserts a catalog entry. It fails if the name is taken.
func (s *Store) SaveIndex(ctx context.Context, idx IndexRecord) error {
	createdAt := idx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_indexes (name, dimension, metric, created_at) VALUES (?, ?, ?, ?)`,
		idx.Name, idx.Dimension, idx.Metric, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetIndex(ctx context.Context, name string) (IndexRecord, error) {
	var idx IndexRecord
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, dimension, metric, created_at FROM vector_indexes WHERE name = ?`, name,
	).Scan(&idx.Name, &idx.Dimension, &idx.Metric, &createdAt)
	if err == sql.ErrNoRows {
		return IndexRecord{}, ErrNotFound
	}
	if err != nil {
		return IndexRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return IndexRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	idx.CreatedAt = t
	return idx, nil
}

// ListIndexes returns all catalog entries ordered by name.
func (s *Store) ListIndexes(ctx context.Context) ([]IndexRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, dimension, metric, created_at FROM vector_indexes ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IndexRecord
	for rows.Next() {
		var idx IndexRecord
		var createdAt string
		if err := rows.Scan(&idx.Name, &idx.Dimension, &idx.Metric, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		idx.CreatedAt = t
		results = append(results, idx)
	}
	return results, rows.Err()
}

// DeleteIndex removes a catalog entry and, by cascade, its vectors.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM vector_indexes WHERE name = ?", name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Vectors ---

// UpsertVectors inserts or overwrites rows by id in a single transaction.
func (s *Store) UpsertVectors(ctx context.Context, index string, rows []VectorRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (index_name, id, document_id, embedding, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(index_name, id) DO UPDATE SET
			document_id = excluded.document_id,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range rows {
		meta := r.Metadata
		if meta == "" {
			meta = "{}"
		}
		if _, err := stmt.ExecContext(ctx, index, r.ID, r.DocumentID, r.Embedding, meta, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting vector %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetVector(ctx context.Context, index, id string) (VectorRow, error) {
	var r VectorRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, embedding, metadata FROM vectors WHERE index_name = ? AND id = ?`,
		index, id,
	).Scan(&r.ID, &r.DocumentID, &r.Embedding, &r.Metadata)
	if err == sql.ErrNoRows {
		return VectorRow{}, ErrNotFound
	}
	return r, err
}

// DeleteVector removes one row. Deleting a missing id is not an error.
func (s *Store) DeleteVector(ctx context.Context, index, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM vectors WHERE index_name = ? AND id = ?", index, id)
	return err
}

// ScanVectors calls fn for every row in index, narrowed to one document when
// documentID is non-empty. The row passed to fn is only valid during the call.
func (s *Store) ScanVectors(ctx context.Context, index, documentID string, fn func(VectorRow) error) error {
	query := "SELECT id, document_id, embedding, metadata FROM vectors WHERE index_name = ?"
	args := []any{index}
	if documentID != "" {
		query += " AND document_id = ?"
		args = append(args, documentID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r VectorRow
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Embedding, &r.Metadata); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountVectors returns the number of rows in index.
func (s *Store) CountVectors(ctx context.Context, index string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors WHERE index_name = ?", index).Scan(&count)
	return count, err
}
