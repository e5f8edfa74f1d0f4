package session

import (
	"context"
	"fmt"
	"strings"
)

// NewStore creates the configured store kind: memory, postgres or sqlite.
func NewStore(ctx context.Context, kind, databaseURL, sqlitePath string, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemoryStore(opts), nil
	case "postgres":
		if strings.TrimSpace(databaseURL) == "" {
			return nil, fmt.Errorf("postgres session store requires a database url")
		}
		return NewPostgresStore(ctx, databaseURL, opts)
	case "sqlite":
		return NewSQLiteStore(sqlitePath, opts)
	default:
		return nil, fmt.Errorf("unsupported session store %q", kind)
	}
}
