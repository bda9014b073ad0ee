// Package recall implements dual-path memory retrieval: vector and lexical
// candidates are fused, optionally re-ranked by the LLM, ordered by decayed
// relevance, and widened through shared tag vocabulary.
package recall

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/embeddings"
	"github.com/mnemolabs/mnemo/pkg/llm"
	"github.com/mnemolabs/mnemo/pkg/memory"
)

const (
	// VectorLimit and LexicalLimit cap each retrieval path's candidates.
	VectorLimit  = 20
	LexicalLimit = 20

	// MinSimilarity is the vector path's similarity floor.
	MinSimilarity = 0.35

	// PrimaryCutoff is the union size at or below which re-ranking is
	// skipped; it also sizes the fallback when re-ranking fails.
	PrimaryCutoff = 5

	// MaxResults caps the final result set, tag expansion included.
	MaxResults = 8

	// TagExpansionLimit caps how many memories tag expansion may append.
	TagExpansionLimit = 3
)

// Store is the persistence surface retrieval needs. pkg/store drivers
// implement it.
type Store interface {
	NearestActive(ctx context.Context, embedding []float32, limit int, minSimilarity float64) ([]memory.Match, error)

	// SearchLexical returns active memories matching the query under
	// full-text search, ordered by lexical relevance descending.
	SearchLexical(ctx context.Context, query string, limit int) ([]memory.Memory, error)

	// ListActiveByTagKeywords returns active memories sharing at least one
	// keyword in any tag list, newest first, excluding the given ids.
	ListActiveByTagKeywords(ctx context.Context, keywords []string, exclude []int64, limit int) ([]memory.Memory, error)

	// TouchMemories bumps hits and last-access for the given ids.
	TouchMemories(ctx context.Context, ids []int64, at time.Time) error
}

// Request is a recall query for one conversation turn.
type Request struct {
	Query string `json:"query"`

	// Mood is the user's current mood tag, if the caller tracks one.
	// Negative moods weight conflict and bond memories upward.
	Mood string `json:"mood,omitempty"`

	// Limit is the requested primary result count. Defaults to
	// PrimaryCutoff when zero or negative.
	Limit int `json:"limit,omitempty"`
}

// Item is one recalled memory shaped for prompt injection.
type Item struct {
	ID        int64       `json:"id"`
	Content   string      `json:"content"`
	Tags      memory.Tags `json:"tags,omitempty"`
	Source    string      `json:"source"`
	CreatedAt string      `json:"created_at"`
	Score     float64     `json:"score"`
}

// Result is the ordered recall result set.
type Result struct {
	Query string `json:"query"`
	Items []Item `json:"items"`
	Count int    `json:"count"`
}

// Retriever fuses vector and lexical retrieval over the memory store.
type Retriever struct {
	store    Store
	embedder embeddings.Embedder
	reranker llm.Completer
	logger   *zap.Logger
	now      func() time.Time
}

// NewRetriever creates a retriever. The embedder and reranker may each be
// nil; retrieval degrades to the paths that remain.
func NewRetriever(store Store, embedder embeddings.Embedder, reranker llm.Completer, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		logger:   logger.With(zap.String("component", "recall")),
		now:      time.Now,
	}
}

// Recall runs the dual-path retrieval pipeline for one query.
func (r *Retriever) Recall(ctx context.Context, req Request) (*Result, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = PrimaryCutoff
	}

	candidates, err := r.gather(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &Result{Query: req.Query, Items: []Item{}}, nil
	}

	primary := candidates
	if len(candidates) > PrimaryCutoff {
		primary = r.rerank(ctx, req.Query, candidates, limit)
	}

	now := r.now()
	sort.SliceStable(primary, func(i, j int) bool {
		return Score(&primary[i], now, req.Mood) > Score(&primary[j], now, req.Mood)
	})

	selected := r.expandByTags(ctx, primary)

	ids := make([]int64, len(selected))
	items := make([]Item, len(selected))
	for i := range selected {
		ids[i] = selected[i].ID
		items[i] = Item{
			ID:        selected[i].ID,
			Content:   selected[i].Content,
			Tags:      selected[i].Tags,
			Source:    selected[i].Source,
			CreatedAt: selected[i].CreatedAt.Local().Format(memory.StampLayout),
			Score:     Score(&selected[i], now, req.Mood),
		}
	}

	// Retrieval counts as use: bump hits and last-access so decay favors
	// what keeps coming up.
	if err := r.store.TouchMemories(ctx, ids, now); err != nil {
		r.logger.Warn("touch after recall failed", zap.Error(err))
	}

	return &Result{Query: req.Query, Items: items, Count: len(items)}, nil
}

// gather runs both retrieval paths and unions them by id, vector-path
// order first.
func (r *Retriever) gather(ctx context.Context, query string) ([]memory.Memory, error) {
	var union []memory.Memory
	seen := make(map[int64]bool)

	if r.embedder != nil {
		queryVec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			r.logger.Warn("query embedding failed, lexical-only recall", zap.Error(err))
		} else {
			matches, err := r.store.NearestActive(ctx, queryVec, VectorLimit, MinSimilarity)
			if err != nil {
				return nil, fmt.Errorf("vector path: %w", err)
			}
			for _, m := range matches {
				if seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				union = append(union, m.Memory)
			}
		}
	}

	lexical, err := r.store.SearchLexical(ctx, query, LexicalLimit)
	if err != nil {
		return nil, fmt.Errorf("lexical path: %w", err)
	}
	for _, m := range lexical {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		union = append(union, m)
	}

	r.logger.Debug("gathered candidates",
		zap.Int("union", len(union)),
	)

	return union, nil
}

// expandByTags appends up to TagExpansionLimit additional memories sharing
// keywords with the primary set, capped at MaxResults total.
func (r *Retriever) expandByTags(ctx context.Context, primary []memory.Memory) []memory.Memory {
	if len(primary) >= MaxResults {
		return primary[:MaxResults]
	}

	keywordSet := make(map[string]bool)
	var keywords []string
	exclude := make([]int64, len(primary))
	for i := range primary {
		exclude[i] = primary[i].ID
		for _, kw := range primary[i].Tags.Keywords() {
			if keywordSet[kw] {
				continue
			}
			keywordSet[kw] = true
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return primary
	}

	extra, err := r.store.ListActiveByTagKeywords(ctx, keywords, exclude, TagExpansionLimit)
	if err != nil {
		r.logger.Warn("tag expansion failed", zap.Error(err))
		return primary
	}

	for _, m := range extra {
		if len(primary) >= MaxResults {
			break
		}
		primary = append(primary, m)
	}

	return primary
}
