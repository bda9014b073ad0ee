// Package maintenance implements the background sweep over the memory table:
// decay-based eviction of short-lived klasses, merging of near-duplicate
// pairs, and hard-deletion of expired tombstones.
//
// Sweeps are intended to run as externally triggered jobs (timer or
// endpoint). Nothing here prevents two sweeps from running concurrently;
// callers must single-flight the trigger per job type.
package maintenance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/eventstream"
	"github.com/mnemolabs/mnemo/pkg/eventstream/nop"
	"github.com/mnemolabs/mnemo/pkg/memory"
	"github.com/mnemolabs/mnemo/pkg/recall"
)

const (
	// DefaultEvictionThreshold is the decayed score below which ephemeral
	// and task memories are tombstoned.
	DefaultEvictionThreshold = 0.05

	// DefaultMergeThreshold is the cosine similarity above which an active
	// pair is considered duplicated.
	DefaultMergeThreshold = 0.90

	// DefaultTrashRetentionDays is how long tombstones survive before the
	// sweep hard-deletes them.
	DefaultTrashRetentionDays = 30

	// maxMergePairs caps how many duplicate pairs one sweep resolves.
	maxMergePairs = 50
)

// evictableKlasses are the only klasses decay-based eviction touches.
var evictableKlasses = []memory.Klass{memory.KlassEphemeral, memory.KlassTask}

// Store is the persistence surface the sweep needs. pkg/store drivers
// implement it.
type Store interface {
	// ListActiveByKlass returns active memories of the given klasses.
	ListActiveByKlass(ctx context.Context, klasses []memory.Klass) ([]memory.Memory, error)

	// ListActiveEmbedded returns active memories that carry an embedding.
	ListActiveEmbedded(ctx context.Context) ([]memory.Memory, error)

	SetTombstone(ctx context.Context, id int64, at time.Time) error

	// ReapTombstones hard-deletes memories tombstoned before the cutoff
	// and returns how many rows were removed.
	ReapTombstones(ctx context.Context, before time.Time) (int, error)
}

// Config tunes the sweep thresholds. Zero values take the defaults.
type Config struct {
	EvictionThreshold  float64
	MergeThreshold     float64
	TrashRetentionDays int
}

// Report summarizes one full sweep. Failed subtasks are recorded without
// aborting the others.
type Report struct {
	Evicted  int      `json:"evicted"`
	Merged   int      `json:"merged"`
	Reaped   int      `json:"reaped"`
	Failures []string `json:"failures,omitempty"`
}

// Sweeper runs the periodic maintenance pass over the memory table.
type Sweeper struct {
	store  Store
	config Config
	events eventstream.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewSweeper creates a sweeper with defaults filled in.
func NewSweeper(store Store, config Config, events eventstream.Publisher, logger *zap.Logger) *Sweeper {
	if config.EvictionThreshold <= 0 {
		config.EvictionThreshold = DefaultEvictionThreshold
	}
	if config.MergeThreshold <= 0 {
		config.MergeThreshold = DefaultMergeThreshold
	}
	if config.TrashRetentionDays <= 0 {
		config.TrashRetentionDays = DefaultTrashRetentionDays
	}
	if events == nil {
		events = nop.NewPublisher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:  store,
		config: config,
		events: events,
		logger: logger.With(zap.String("component", "maintenance")),
		now:    time.Now,
	}
}

// RunAll runs the three sweep subtasks independently; a failure in one is
// recorded in the report without aborting the others.
func (s *Sweeper) RunAll(ctx context.Context) Report {
	var report Report

	evicted, err := s.CleanupExpired(ctx)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("cleanup_expired: %v", err))
		s.logger.Error("cleanup_expired failed", zap.Error(err))
	}
	report.Evicted = evicted

	merged, err := s.MergeSimilar(ctx)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("merge_similar: %v", err))
		s.logger.Error("merge_similar failed", zap.Error(err))
	}
	report.Merged = merged

	reaped, err := s.CleanupTrash(ctx)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("cleanup_trash: %v", err))
		s.logger.Error("cleanup_trash failed", zap.Error(err))
	}
	report.Reaped = reaped

	s.logger.Info("sweep finished",
		zap.Int("evicted", report.Evicted),
		zap.Int("merged", report.Merged),
		zap.Int("reaped", report.Reaped),
		zap.Int("failures", len(report.Failures)),
	)

	return report
}

// CleanupExpired tombstones ephemeral and task memories whose unweighted
// decayed score fell below the eviction threshold.
func (s *Sweeper) CleanupExpired(ctx context.Context) (int, error) {
	candidates, err := s.store.ListActiveByKlass(ctx, evictableKlasses)
	if err != nil {
		return 0, fmt.Errorf("list evictable: %w", err)
	}

	now := s.now()
	evicted := 0
	for i := range candidates {
		score := recall.Score(&candidates[i], now, "")
		if score >= s.config.EvictionThreshold {
			continue
		}
		if err := s.store.SetTombstone(ctx, candidates[i].ID, now); err != nil {
			return evicted, fmt.Errorf("evict %d: %w", candidates[i].ID, err)
		}
		evicted++

		event := eventstream.NewEvent(eventstream.EventMemoryEvicted)
		event.MemoryID = candidates[i].ID
		s.publish(ctx, event)

		s.logger.Debug("evicted decayed memory",
			zap.Int64("id", candidates[i].ID),
			zap.String("klass", string(candidates[i].Klass)),
			zap.Float64("score", score),
		)
	}

	return evicted, nil
}

// similarPair is one near-duplicate candidate pair, ordered a before b by id.
type similarPair struct {
	a, b       *memory.Memory
	similarity float64
}

// MergeSimilar finds active pairs above the merge threshold and tombstones
// the chronologically older member of each, greedily so no id is resolved
// twice in one pass.
func (s *Sweeper) MergeSimilar(ctx context.Context) (int, error) {
	active, err := s.store.ListActiveEmbedded(ctx)
	if err != nil {
		return 0, fmt.Errorf("list embedded: %w", err)
	}

	var pairs []similarPair
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			sim := cosineSimilarity(active[i].Embedding, active[j].Embedding)
			if sim > s.config.MergeThreshold {
				pairs = append(pairs, similarPair{a: &active[i], b: &active[j], similarity: sim})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].similarity > pairs[j].similarity
	})
	if len(pairs) > maxMergePairs {
		pairs = pairs[:maxMergePairs]
	}

	now := s.now()
	resolved := make(map[int64]bool)
	merged := 0
	for _, p := range pairs {
		if resolved[p.a.ID] || resolved[p.b.ID] {
			continue
		}

		older, kept := olderOf(p.a, p.b)
		if err := s.store.SetTombstone(ctx, older.ID, now); err != nil {
			return merged, fmt.Errorf("merge %d into %d: %w", older.ID, kept.ID, err)
		}
		resolved[p.a.ID] = true
		resolved[p.b.ID] = true
		merged++

		event := eventstream.NewEvent(eventstream.EventMemoriesMerged)
		event.MemoryID = older.ID
		event.KeptID = kept.ID
		s.publish(ctx, event)

		s.logger.Debug("merged duplicate pair",
			zap.Int64("removed", older.ID),
			zap.Int64("kept", kept.ID),
			zap.Float64("similarity", p.similarity),
		)
	}

	return merged, nil
}

// CleanupTrash hard-deletes tombstones older than the retention window.
func (s *Sweeper) CleanupTrash(ctx context.Context) (int, error) {
	cutoff := s.now().AddDate(0, 0, -s.config.TrashRetentionDays)
	reaped, err := s.store.ReapTombstones(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap tombstones: %w", err)
	}

	if reaped > 0 {
		event := eventstream.NewEvent(eventstream.EventTrashReaped)
		event.Count = reaped
		s.publish(ctx, event)
	}

	return reaped, nil
}

func (s *Sweeper) publish(ctx context.Context, event eventstream.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// olderOf picks the pair member to tombstone: earlier creation time, lower
// id on a tie.
func olderOf(a, b *memory.Memory) (older, kept *memory.Memory) {
	if a.CreatedAt.Before(b.CreatedAt) {
		return a, b
	}
	if b.CreatedAt.Before(a.CreatedAt) {
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
