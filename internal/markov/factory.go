package markov

import (
	"context"
	"strings"
)

// NewStore picks a backend: PostgreSQL when databaseURL is set, SQLite when
// sqlitePath is set, otherwise an in-memory table.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(sqlitePath) != "" {
		return NewSQLiteStore(ctx, strings.TrimSpace(sqlitePath))
	}
	return NewMemoryStore(), nil
}

// StoreMode names the backend for health output.
func StoreMode(s Store) string {
	switch s.(type) {
	case *PostgresStore:
		return "postgres"
	case *SQLiteStore:
		return "sqlite"
	case *MemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}
