// Package store provides the pluggable persistence layer.
//
// A store driver owns all four tables (memories, core_blocks,
// core_block_candidates, core_block_history) and implements the narrow
// interfaces each consumer package declares for itself: the memory write
// path, dual-path recall, the maintenance sweep, and core-block
// consolidation. The [Driver] interface is their union.
//
// Drivers are pluggable via configuration:
//
//	[storage]
//	provider = "sqlite"   # or "postgres"
package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/backfill"
	"github.com/mnemolabs/mnemo/pkg/coreblock"
	"github.com/mnemolabs/mnemo/pkg/maintenance"
	"github.com/mnemolabs/mnemo/pkg/memory"
	"github.com/mnemolabs/mnemo/pkg/recall"
	"github.com/mnemolabs/mnemo/pkg/store/postgres"
	"github.com/mnemolabs/mnemo/pkg/store/sqlite"
)

// Driver is the full persistence surface. Every backend implements all of
// it; consumers depend only on the slice they declare.
type Driver interface {
	memory.Store
	recall.Store
	maintenance.Store
	coreblock.Store
	backfill.Store

	// Close releases driver resources.
	Close() error
}

// Config selects and configures a store backend.
type Config struct {
	// Provider selects the backend: "sqlite" or "postgres".
	Provider string

	// DBPath is the SQLite database file. Use ":memory:" for tests.
	DBPath string

	// DSN is the Postgres connection string.
	DSN string

	// Dimensions is the embedding vector width.
	Dimensions uint
}

// New constructs the configured store driver.
func New(c Config, logger *zap.Logger) (Driver, error) {
	switch c.Provider {
	case "", "sqlite":
		return sqlite.New(sqlite.Config{
			DBPath:     c.DBPath,
			Dimensions: c.Dimensions,
		}, logger)
	case "postgres":
		return postgres.New(postgres.Config{
			DSN:        c.DSN,
			Dimensions: c.Dimensions,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", c.Provider)
	}
}
