package core

import (
	"fmt"

	"refereecore/internal/infra/persistence/memory"
	"refereecore/internal/infra/persistence/postgres"
	"refereecore/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and parameterises a backend. An empty driver means sqlite.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the configured backend. The returned close
// function releases database handles and is never nil.
func OpenPersistentStore(cfg StorageConfig, engine *RulesEngine) (PersistentStore, func() error, error) {
	noClose := func() error { return nil }
	switch driver := cfg.Driver; driver {
	case StorageMemory:
		return memory.NewStore(engine), noClose, nil
	case StorageSQLite, "":
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, noClose, err
		}
		return store, store.Close, nil
	case StoragePostgres:
		store, err := postgres.NewStore(cfg.PostgresDSN, engine)
		if err != nil {
			return nil, noClose, err
		}
		return store, store.Close, nil
	default:
		return nil, noClose, fmt.Errorf("unknown storage driver %s", driver)
	}
}
