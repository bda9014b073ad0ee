// Package backfill re-embeds memories that were saved while the embedding
// provider was unavailable. The write path never fails a save on a missing
// embedding; this pass restores those rows to the vector recall path.
package backfill

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/embeddings"
	"github.com/mnemolabs/mnemo/pkg/memory"
)

const defaultBatchSize = 500

// Store is the slice of the persistence layer the backfill pass needs.
type Store interface {
	// ListActiveUnembedded returns active memories with no vector, oldest
	// first, capped at limit.
	ListActiveUnembedded(ctx context.Context, limit int) ([]memory.Memory, error)

	// SetEmbedding attaches a vector to a memory saved without one.
	SetEmbedding(ctx context.Context, id int64, embedding []float32) error
}

// Config is the configuration options for the backfill pass.
type Config struct {
	// BatchSize caps how many rows each scan pulls (defaults to 500).
	BatchSize int

	// NumWorkers is the number of concurrent embedding workers.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel.
	QueueSize uint
}

// Backfiller scans for unembedded memories and embeds them.
type Backfiller struct {
	store    Store
	embedder embeddings.Embedder
	config   Config
	logger   *zap.Logger
}

// NewBackfiller creates a Backfiller over the given store and embedder.
func NewBackfiller(store Store, embedder embeddings.Embedder, c Config, logger *zap.Logger) *Backfiller {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	return &Backfiller{
		store:    store,
		embedder: embedder,
		config:   c,
		logger:   logger,
	}
}

// Run embeds unembedded memories batch by batch until the scan comes back
// empty. Rows whose embedding fails are left for a later run.
func (b *Backfiller) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		memories, err := b.store.ListActiveUnembedded(ctx, b.config.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("listing unembedded memories: %w", err)
		}
		if len(memories) == 0 {
			break
		}

		pool := newPool(ctx, b, result)
		for _, m := range memories {
			pool.enqueue(job{id: m.ID, content: m.Content})
		}
		pool.close()

		result.Scanned += len(memories)

		// Failed rows stay unembedded and would come straight back on the
		// next scan; stop instead of retrying them in a loop.
		if result.Failed > 0 {
			break
		}
		if len(memories) < b.config.BatchSize {
			break
		}
	}

	b.logger.Info("embedding backfill complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("embedded", result.Embedded),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}
