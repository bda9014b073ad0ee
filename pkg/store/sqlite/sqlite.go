// Package sqlite provides the SQLite store driver, using sqlite-vec for
// nearest-neighbor search and FTS5 for lexical search.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/embeddings"
)

// Config holds configuration for the SQLite driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the embedding vector width. Defaults to
	// embeddings.DefaultDimensions if zero.
	Dimensions uint
}

// queryer is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// every query method works both standalone and inside a transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Driver implements the store surfaces of the memory, recall, maintenance,
// and coreblock packages on SQLite.
type Driver struct {
	db     *sql.DB
	q      queryer
	logger *zap.Logger
}

// New opens (and migrates) a SQLite database with sqlite-vec loaded.
func New(c Config, logger *zap.Logger) (*Driver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	dimensions := c.Dimensions
	if dimensions == 0 {
		dimensions = embeddings.DefaultDimensions
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	if err := migrate(db, dimensions); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite store initialized",
		zap.String("db_path", c.DBPath),
		zap.Uint("dimensions", dimensions),
		zap.String("vec_version", vecVersion),
	)

	return &Driver{
		db:     db,
		q:      db,
		logger: logger,
	}, nil
}

func migrate(db *sql.DB, dimensions uint) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '{}',
			klass TEXT NOT NULL,
			importance REAL NOT NULL,
			manual_boost REAL NOT NULL DEFAULT 0,
			hits INTEGER NOT NULL DEFAULT 0,
			halflife_days REAL NOT NULL,
			last_access_at TIMESTAMP,
			source TEXT NOT NULL DEFAULT 'unknown',
			tombstoned_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_klass
			ON memories(klass) WHERE tombstoned_at IS NULL`,
		fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS memories_vec
				USING vec0(embedding float[%d] distance_metric=cosine)`,
			dimensions,
		),
		// External-content FTS index over memories.content, maintained
		// manually on every write.
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts
			USING fts5(content, content='memories', content_rowid='id')`,
		`CREATE TABLE IF NOT EXISTS core_blocks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			assistant_id TEXT NOT NULL,
			block_type TEXT NOT NULL,
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(assistant_id, block_type)
		)`,
		`CREATE TABLE IF NOT EXISTS core_block_candidates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			assistant_id TEXT NOT NULL,
			block_type TEXT NOT NULL,
			content TEXT NOT NULL,
			source_summary_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_scope
			ON core_block_candidates(assistant_id, block_type, status)`,
		`CREATE TABLE IF NOT EXISTS core_block_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			core_block_id INTEGER NOT NULL REFERENCES core_blocks(id),
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, reusing the bound transaction when
// the driver is already transactional.
func (d *Driver) withTx(ctx context.Context, fn func(q queryer) error) error {
	if tx, ok := d.q.(*sql.Tx); ok {
		return fn(tx)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// serializeFloat32 converts a float32 slice to the little-endian BLOB
// format sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts a little-endian byte slice back to a float32 slice.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// Close releases the underlying database handle.
func (d *Driver) Close() error {
	return d.db.Close()
}
