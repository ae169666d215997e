package core

import (
	"fmt"
	"os"
	"strings"

	"liveline/internal/infra/persistence/memory"
	"liveline/internal/infra/persistence/postgres"
	"liveline/internal/infra/persistence/sqlite"
	"liveline/pkg/domain"
)

// StorageDriver selects a persistence backend.
type StorageDriver string

// Supported storage drivers.
const (
	DriverMemory   StorageDriver = "memory"
	DriverSQLite   StorageDriver = "sqlite"
	DriverPostgres StorageDriver = "postgres"
)

// Environment variables consulted by OpenPersistentStoreFromEnv.
const (
	EnvStorageDriver = "LIVELINE_STORAGE_DRIVER"
	EnvSQLitePath    = "LIVELINE_SQLITE_PATH"
	EnvPostgresDSN   = "LIVELINE_POSTGRES_DSN"
)

const defaultSQLitePath = "liveline.db"

// OpenPersistentStore constructs the backend named by driver. The dsn is the
// database file path for sqlite and the connection string for postgres; empty
// values fall back to backend defaults. The rules engine applies to every
// backend, since all of them funnel writes through the in-memory transaction
// engine.
func OpenPersistentStore(driver StorageDriver, dsn string, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	switch driver {
	case DriverMemory:
		return memory.NewStore(engine), nil
	case DriverSQLite, "":
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		return sqlite.NewStore(dsn, engine)
	case DriverPostgres:
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// OpenPersistentStoreFromEnv selects the backend from the environment,
// defaulting to sqlite.
func OpenPersistentStoreFromEnv(engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(os.Getenv(EnvStorageDriver))))
	var dsn string
	switch driver {
	case DriverPostgres:
		dsn = os.Getenv(EnvPostgresDSN)
	default:
		dsn = os.Getenv(EnvSQLitePath)
	}
	return OpenPersistentStore(driver, dsn, engine)
}
