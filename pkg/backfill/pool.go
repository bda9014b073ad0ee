package backfill

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// job is a single memory awaiting an embedding.
type job struct {
	id      int64
	content string
}

// pool embeds queued jobs concurrently. Workers share the run's Result,
// which guards its counters with a mutex, and the run's context so
// cancelling the run cancels in-flight embed and store calls.
type pool struct {
	ctx        context.Context
	backfiller *Backfiller
	queue      chan job
	wg         sync.WaitGroup
	result     *Result
}

// newPool creates a pool and starts its worker goroutines.
func newPool(ctx context.Context, b *Backfiller, result *Result) *pool {
	p := &pool{
		ctx:        ctx,
		backfiller: b,
		queue:      make(chan job, b.config.QueueSize),
		result:     result,
	}

	p.wg.Add(int(b.config.NumWorkers))
	for i := range b.config.NumWorkers {
		go p.worker(i)
	}

	return p
}

// enqueue submits a job, blocking until queue capacity frees up. A backfill
// pass has no hot path to protect, so jobs are never dropped.
func (p *pool) enqueue(j job) {
	p.queue <- j
}

// close signals workers to stop and waits for in-flight jobs to drain.
func (p *pool) close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the
// jobs queue.
func (p *pool) worker(id uint) {
	defer p.wg.Done()
	p.backfiller.logger.Debug("worker started", zap.Uint("worker_id", id))

	for j := range p.queue {
		p.processJob(j)
	}

	p.backfiller.logger.Debug("worker stopped", zap.Uint("worker_id", id))
}

// processJob embeds one memory and stores the vector. Failures are logged
// and counted but never abort the run.
func (p *pool) processJob(j job) {
	ctx := p.ctx
	b := p.backfiller

	embedding, err := b.embedder.Embed(ctx, j.content)
	if err != nil {
		b.logger.Warn("failed to generate embedding",
			zap.Int64("memory_id", j.id),
			zap.Error(err),
		)
		p.result.addFailed()
		return
	}

	if err := b.store.SetEmbedding(ctx, j.id, embedding); err != nil {
		b.logger.Warn("failed to store embedding",
			zap.Int64("memory_id", j.id),
			zap.Error(err),
		)
		p.result.addFailed()
		return
	}

	b.logger.Debug("stored embedding",
		zap.Int64("memory_id", j.id),
		zap.Int("embedding_dim", len(embedding)),
	)
	p.result.addEmbedded()
}
