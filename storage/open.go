package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// Store is implemented by every board backend.
type Store interface {
	Load(ctx context.Context, key domain.BoardKey) (domain.Board, error)
	Save(ctx context.Context, b domain.Board) error
	Create(ctx context.Context, b domain.Board) error
}

// Options selects and configures a backend.
type Options struct {
	Backend          string
	ConnectionString string
	BoardsTable      string
	SQLitePath       string
	MySQLDSN         string
	// Redis is required by the redis backend.
	Redis *redis.Client
}

// Open builds the backend named by opts.Backend.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "tables":
		return NewTables(opts.ConnectionString, opts.BoardsTable)
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("storage: redis backend needs a redis client")
		}
		return NewRedis(opts.Redis), nil
	case "sqlite":
		db, err := OpenSQL("sqlite", opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQL(db), nil
	case "mysql":
		db, err := OpenSQL("mysql", opts.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return NewSQL(db), nil
	}
	return nil, fmt.Errorf("storage: unknown backend %q", opts.Backend)
}

// Prepare creates whatever the backend needs before first use: the table
// for Azure Tables, the schema for SQL. Other backends need nothing.
func Prepare(ctx context.Context, s Store) error {
	switch st := s.(type) {
	case *Tables:
		return st.EnsureTable(ctx)
	case *SQL:
		return st.Migrate()
	case *Cache:
		return Prepare(ctx, st.base)
	}
	return nil
}
