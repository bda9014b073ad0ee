// Package memory provides the long-term memory layer for the mnemo system.
//
// A Memory is a single durable fact distilled from conversation — not a raw
// message. Memories carry a klass (category with default importance and
// half-life), a tag vocabulary, an optional embedding, and soft-delete
// lifecycle state. The [Service] owns the write path: length validation,
// timestamp prefixing, embedding, near-duplicate detection, and the
// source-based permission rule for edits.
//
// Read-path ranking lives in pkg/recall; background eviction and merging in
// pkg/maintenance. Both operate on the same store but never bypass the
// lifecycle rules defined here.
package memory

import (
	"time"
)

// Tags maps a topic to the keyword strings filed under it,
// e.g. {"food": ["ramen", "spicy"], "people": ["mira"]}.
type Tags map[string][]string

// Keywords flattens all list-valued tag entries into a deduplicated
// keyword set, preserving first-seen order.
func (t Tags) Keywords() []string {
	seen := make(map[string]bool)
	var out []string
	for _, words := range t {
		for _, w := range words {
			if w == "" || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// Lifecycle is the explicit lifecycle state of a memory row.
type Lifecycle int

const (
	// LifecycleActive memories participate in retrieval and dedup.
	LifecycleActive Lifecycle = iota

	// LifecycleTombstoned memories are excluded from retrieval and dedup
	// but remain queryable for trash listing and restore until reaped.
	LifecycleTombstoned
)

// Memory is a single long-term fact.
type Memory struct {
	ID           int64      `json:"id"`
	Content      string     `json:"content"`
	Tags         Tags       `json:"tags,omitempty"`
	Embedding    []float32  `json:"-"`
	Klass        Klass      `json:"klass"`
	Importance   float64    `json:"importance"`
	ManualBoost  float64    `json:"manual_boost"`
	Hits         int        `json:"hits"`
	HalflifeDays float64    `json:"halflife_days"`
	LastAccessAt *time.Time `json:"last_access_at,omitempty"`
	Source       string     `json:"source"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Lifecycle reports the explicit lifecycle state derived from the
// tombstone timestamp, so callers never branch on nil directly.
func (m *Memory) Lifecycle() Lifecycle {
	if m.TombstonedAt != nil {
		return LifecycleTombstoned
	}
	return LifecycleActive
}

// AgeReference is the timestamp decay is measured from: the last access
// when one exists, creation otherwise.
func (m *Memory) AgeReference() time.Time {
	if m.LastAccessAt != nil {
		return *m.LastAccessAt
	}
	return m.CreatedAt
}

// Match pairs a memory with its cosine similarity to some query vector.
type Match struct {
	Memory
	Similarity float64 `json:"similarity"`
}
