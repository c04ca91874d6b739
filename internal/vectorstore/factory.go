package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/vecdocs/internal/storage"
)

// Backend tags accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPGVector = "pgvector"
	BackendQdrant   = "qdrant"
)

// BackendConfig selects and addresses a storage backend.
type BackendConfig struct {
	Backend     string
	DataDir     string // sqlite; ":memory:" for an in-memory database
	PostgresDSN string // pgvector
	Qdrant      QdrantConfig
}

// Open returns the Store for cfg.Backend.
func Open(ctx context.Context, cfg BackendConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite:
		db, err := storage.Open(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db), nil
	case BackendPGVector:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("pgvector backend: postgres DSN is empty")
		}
		return OpenPostgres(ctx, cfg.PostgresDSN)
	case BackendQdrant:
		return OpenQdrant(ctx, cfg.Qdrant)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}

// Backends lists the accepted backend tags.
func Backends() []string {
	return []string{BackendSQLite, BackendPGVector, BackendQdrant}
}
