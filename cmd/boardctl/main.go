package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"prism-board/config"
	"prism-board/storage"
)

// getenv is swapped out in tests.
var getenv = os.Getenv

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "boardctl",
		Short:         "Operator tooling for the board service",
		Long:          "boardctl prepares board storage, seeds boards and mints test tokens. It reads the same environment variables as the service.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newInitStorageCmd())
	cmd.AddCommand(newCreateBoardCmd())
	cmd.AddCommand(newGenTokenCmd())
	return cmd
}

// openStore opens the backend configured in the environment.
func openStore() (storage.Store, func(), error) {
	cfg, err := config.Load(getenv)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Store == config.StoreMemory {
		return nil, nil, errors.New("BOARD_STORE=memory lives inside one process; pick a shared backend")
	}
	var rc *redis.Client
	if cfg.RedisConnStr != "" {
		opts, err := config.RedisOptions(cfg.RedisConnStr)
		if err != nil {
			return nil, nil, err
		}
		rc = redis.NewClient(opts)
	}
	s, err := storage.Open(storage.Options{
		Backend:          cfg.Store,
		ConnectionString: cfg.StorageConnStr,
		BoardsTable:      cfg.BoardsTable,
		SQLitePath:       cfg.SQLitePath,
		MySQLDSN:         cfg.MySQLDSN,
		Redis:            rc,
	})
	if err != nil {
		if rc != nil {
			_ = rc.Close()
		}
		return nil, nil, err
	}
	closeFn := func() {
		if sqlStore, ok := s.(*storage.SQL); ok {
			_ = sqlStore.Close()
		}
		if rc != nil {
			_ = rc.Close()
		}
	}
	return s, closeFn, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
