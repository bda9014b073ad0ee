package testutils

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mnemolabs/mnemo/pkg/coreblock"
	"github.com/mnemolabs/mnemo/pkg/memory"
)

// MockStore is an in-memory store implementing the narrow persistence
// surfaces of pkg/memory, pkg/recall, pkg/maintenance, and pkg/coreblock.
// Ordering mirrors the SQL drivers so ranking tests hold against both.
type MockStore struct {
	Memories   map[int64]*memory.Memory
	Blocks     map[int64]*coreblock.CoreBlock
	Candidates map[int64]*coreblock.Candidate
	History    map[int64]*coreblock.HistoryEntry

	// Err causes every call to fail with it when set.
	Err error

	nextMemoryID    int64
	nextBlockID     int64
	nextCandidateID int64
	nextHistoryID   int64
}

func NewMockStore() *MockStore {
	return &MockStore{
		Memories:   make(map[int64]*memory.Memory),
		Blocks:     make(map[int64]*coreblock.CoreBlock),
		Candidates: make(map[int64]*coreblock.Candidate),
		History:    make(map[int64]*coreblock.HistoryEntry),
	}
}

// Seed inserts a memory directly, assigning an id when absent.
func (s *MockStore) Seed(m memory.Memory) *memory.Memory {
	if m.ID == 0 {
		s.nextMemoryID++
		m.ID = s.nextMemoryID
	} else if m.ID > s.nextMemoryID {
		s.nextMemoryID = m.ID
	}
	s.Memories[m.ID] = &m
	return &m
}

func (s *MockStore) InsertMemory(_ context.Context, m *memory.Memory) error {
	if s.Err != nil {
		return s.Err
	}
	s.nextMemoryID++
	m.ID = s.nextMemoryID
	clone := *m
	s.Memories[m.ID] = &clone
	return nil
}

func (s *MockStore) GetMemory(_ context.Context, id int64) (*memory.Memory, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	m, ok := s.Memories[id]
	if !ok {
		return nil, nil
	}
	clone := *m
	return &clone, nil
}

func (s *MockStore) UpdateMemory(_ context.Context, m *memory.Memory) error {
	if s.Err != nil {
		return s.Err
	}
	clone := *m
	s.Memories[m.ID] = &clone
	return nil
}

func (s *MockStore) SetTombstone(_ context.Context, id int64, at time.Time) error {
	if s.Err != nil {
		return s.Err
	}
	if m, ok := s.Memories[id]; ok {
		t := at
		m.TombstonedAt = &t
	}
	return nil
}

func (s *MockStore) ClearTombstone(_ context.Context, id int64) error {
	if s.Err != nil {
		return s.Err
	}
	if m, ok := s.Memories[id]; ok {
		m.TombstonedAt = nil
	}
	return nil
}

func (s *MockStore) NearestActive(_ context.Context, embedding []float32, limit int, minSimilarity float64) ([]memory.Match, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	var matches []memory.Match
	for _, m := range s.activeMemories() {
		if m.Embedding == nil {
			continue
		}
		sim := cosine(embedding, m.Embedding)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, memory.Match{Memory: *m, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MockStore) SearchLexical(_ context.Context, query string, limit int) ([]memory.Memory, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	terms := strings.Fields(strings.ToLower(query))
	var out []memory.Memory
	for _, m := range s.activeMemories() {
		content := strings.ToLower(m.Content)
		for _, term := range terms {
			if strings.Contains(content, term) {
				out = append(out, *m)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MockStore) ListActiveByTagKeywords(_ context.Context, keywords []string, exclude []int64, limit int) ([]memory.Memory, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	excluded := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	wanted := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		wanted[kw] = true
	}

	var out []memory.Memory
	for _, m := range s.activeMemories() {
		if excluded[m.ID] {
			continue
		}
		for _, kw := range m.Tags.Keywords() {
			if wanted[kw] {
				out = append(out, *m)
				break
			}
		}
	}

	// Newest first, like the SQL drivers.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MockStore) TouchMemories(_ context.Context, ids []int64, at time.Time) error {
	if s.Err != nil {
		return s.Err
	}
	for _, id := range ids {
		if m, ok := s.Memories[id]; ok {
			m.Hits++
			t := at
			m.LastAccessAt = &t
		}
	}
	return nil
}

func (s *MockStore) ListTrash(_ context.Context) ([]memory.Memory, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []memory.Memory
	for _, id := range s.memoryIDs() {
		if m := s.Memories[id]; m.TombstonedAt != nil {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TombstonedAt.After(*out[j].TombstonedAt)
	})
	return out, nil
}

func (s *MockStore) ListActiveByKlass(_ context.Context, klasses []memory.Klass) ([]memory.Memory, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	wanted := make(map[memory.Klass]bool, len(klasses))
	for _, k := range klasses {
		wanted[k] = true
	}
	var out []memory.Memory
	for _, m := range s.activeMemories() {
		if wanted[m.Klass] {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *MockStore) ListActiveEmbedded(_ context.Context) ([]memory.Memory, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []memory.Memory
	for _, m := range s.activeMemories() {
		if m.Embedding != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *MockStore) ListActiveUnembedded(_ context.Context, limit int) ([]memory.Memory, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []memory.Memory
	for _, id := range s.memoryIDs() {
		m := s.Memories[id]
		if m.TombstonedAt != nil || m.Embedding != nil {
			continue
		}
		out = append(out, *m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MockStore) SetEmbedding(_ context.Context, id int64, embedding []float32) error {
	if s.Err != nil {
		return s.Err
	}
	if m, ok := s.Memories[id]; ok {
		m.Embedding = append([]float32(nil), embedding...)
	}
	return nil
}

func (s *MockStore) ReapTombstones(_ context.Context, before time.Time) (int, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	count := 0
	for id, m := range s.Memories {
		if m.TombstonedAt != nil && m.TombstonedAt.Before(before) {
			delete(s.Memories, id)
			count++
		}
	}
	return count, nil
}

func (s *MockStore) WithinTx(_ context.Context, fn func(tx coreblock.Store) error) error {
	if s.Err != nil {
		return s.Err
	}
	return fn(s)
}

func (s *MockStore) GetCoreBlock(_ context.Context, assistantID string, blockType coreblock.BlockType) (*coreblock.CoreBlock, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	for _, id := range s.blockIDs() {
		b := s.Blocks[id]
		if b.AssistantID == assistantID && b.BlockType == blockType {
			clone := *b
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *MockStore) InsertCoreBlock(_ context.Context, b *coreblock.CoreBlock) error {
	if s.Err != nil {
		return s.Err
	}
	s.nextBlockID++
	b.ID = s.nextBlockID
	clone := *b
	s.Blocks[b.ID] = &clone
	return nil
}

func (s *MockStore) UpdateCoreBlock(_ context.Context, b *coreblock.CoreBlock) error {
	if s.Err != nil {
		return s.Err
	}
	clone := *b
	s.Blocks[b.ID] = &clone
	return nil
}

func (s *MockStore) ListCoreBlocks(_ context.Context, assistantID string) ([]coreblock.CoreBlock, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []coreblock.CoreBlock
	for _, id := range s.blockIDs() {
		b := s.Blocks[id]
		if assistantID == "" || b.AssistantID == assistantID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *MockStore) InsertHistory(_ context.Context, h *coreblock.HistoryEntry) error {
	if s.Err != nil {
		return s.Err
	}
	s.nextHistoryID++
	h.ID = s.nextHistoryID
	clone := *h
	s.History[h.ID] = &clone
	return nil
}

func (s *MockStore) ListHistory(_ context.Context, coreBlockID int64) ([]coreblock.HistoryEntry, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []coreblock.HistoryEntry
	for _, h := range s.History {
		if h.CoreBlockID == coreBlockID {
			out = append(out, *h)
		}
	}
	// Latest version first, like the SQL drivers.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func (s *MockStore) InsertCandidate(_ context.Context, c *coreblock.Candidate) error {
	if s.Err != nil {
		return s.Err
	}
	s.nextCandidateID++
	c.ID = s.nextCandidateID
	clone := *c
	s.Candidates[c.ID] = &clone
	return nil
}

func (s *MockStore) UpdateCandidate(_ context.Context, c *coreblock.Candidate) error {
	if s.Err != nil {
		return s.Err
	}
	clone := *c
	s.Candidates[c.ID] = &clone
	return nil
}

func (s *MockStore) DeleteCandidates(_ context.Context, ids []int64) error {
	if s.Err != nil {
		return s.Err
	}
	for _, id := range ids {
		delete(s.Candidates, id)
	}
	return nil
}

func (s *MockStore) ListCandidates(_ context.Context, assistantID string, blockType coreblock.BlockType, status coreblock.Status) ([]coreblock.Candidate, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []coreblock.Candidate
	for _, id := range s.candidateIDs() {
		c := s.Candidates[id]
		if c.AssistantID == assistantID && c.BlockType == blockType && c.Status == status {
			out = append(out, *c)
		}
	}
	// Newest first, like the SQL drivers.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MockStore) ListAdopted(_ context.Context, assistantID string) ([]coreblock.Candidate, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []coreblock.Candidate
	for _, id := range s.candidateIDs() {
		c := s.Candidates[id]
		if c.Status != coreblock.StatusAdopted {
			continue
		}
		if assistantID != "" && c.AssistantID != assistantID {
			continue
		}
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AssistantID != out[j].AssistantID {
			return out[i].AssistantID < out[j].AssistantID
		}
		if out[i].BlockType != out[j].BlockType {
			return out[i].BlockType < out[j].BlockType
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MockStore) Close() error {
	return nil
}

// activeMemories returns non-tombstoned memories in ascending id order.
func (s *MockStore) activeMemories() []*memory.Memory {
	var out []*memory.Memory
	for _, id := range s.memoryIDs() {
		if m := s.Memories[id]; m.TombstonedAt == nil {
			out = append(out, m)
		}
	}
	return out
}

func (s *MockStore) memoryIDs() []int64 {
	ids := make([]int64, 0, len(s.Memories))
	for id := range s.Memories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *MockStore) blockIDs() []int64 {
	ids := make([]int64, 0, len(s.Blocks))
	for id := range s.Blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *MockStore) candidateIDs() []int64 {
	ids := make([]int64, 0, len(s.Candidates))
	for id := range s.Candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// cosine returns the cosine similarity of two vectors, 0 on mismatch.
func cosine(a, b []float32) float64 {
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
