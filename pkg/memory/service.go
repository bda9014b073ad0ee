package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/embeddings"
	"github.com/mnemolabs/mnemo/pkg/eventstream"
	"github.com/mnemolabs/mnemo/pkg/eventstream/nop"
	"github.com/mnemolabs/mnemo/pkg/utils"
)

const (
	// MaxContentChars is the input content limit, measured before the
	// timestamp prefix is added.
	MaxContentChars = 120

	// DuplicateThreshold is the cosine similarity above which a save is
	// treated as a near-duplicate of an existing active memory.
	DuplicateThreshold = 0.88

	// SourceUnknown marks rows whose provenance was never recorded; any
	// caller may edit them.
	SourceUnknown = "unknown"

	// AutoExtractPrefix marks rows written by the background extraction
	// pipeline, as "auto_extract:<assistant>".
	AutoExtractPrefix = "auto_extract"

	// StampLayout is the local-time layout prefixed onto stored content.
	StampLayout = "2006-01-02 15:04"
)

// Store is the persistence surface the write path needs. pkg/store drivers
// implement it.
type Store interface {
	InsertMemory(ctx context.Context, m *Memory) error
	GetMemory(ctx context.Context, id int64) (*Memory, error)
	UpdateMemory(ctx context.Context, m *Memory) error
	SetTombstone(ctx context.Context, id int64, at time.Time) error
	ClearTombstone(ctx context.Context, id int64) error

	// NearestActive returns active memories ordered by descending cosine
	// similarity to the embedding, filtered to similarity >= minSimilarity.
	NearestActive(ctx context.Context, embedding []float32, limit int, minSimilarity float64) ([]Match, error)

	// ListTrash returns tombstoned memories, newest tombstone first.
	ListTrash(ctx context.Context) ([]Memory, error)
}

// Service owns the memory write path. All user-facing rejections
// (over-length, duplicate, permission denied, not found) are reported in the
// result value so a tool-calling loop always receives something it can
// serialize; Go errors are reserved for store and other fatal failures.
type Service struct {
	store    Store
	embedder embeddings.Embedder
	events   eventstream.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a memory service. The embedder may be nil, in which
// case saves degrade to lexical-only retrieval.
func NewService(store Store, embedder embeddings.Embedder, events eventstream.Publisher, logger *zap.Logger) *Service {
	if events == nil {
		events = nop.NewPublisher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		embedder: embedder,
		events:   events,
		logger:   logger.With(zap.String("component", "memory")),
		now:      time.Now,
	}
}

// SaveRequest is a request to store a new long-term fact.
type SaveRequest struct {
	Content string `json:"content"`
	Klass   Klass  `json:"klass"`
	Tags    Tags   `json:"tags,omitempty"`
	Source  string `json:"source,omitempty"`
}

// SaveResult reports the outcome of a save.
type SaveResult struct {
	// Memory is the inserted row, nil when nothing was written.
	Memory *Memory `json:"memory,omitempty"`

	// Duplicate is set when an active memory above DuplicateThreshold
	// already exists. ExistingID identifies it; ExistingContent is
	// returned to interactive callers so they can decide what to do.
	Duplicate       bool   `json:"duplicate,omitempty"`
	Discarded       bool   `json:"discarded,omitempty"`
	ExistingID      int64  `json:"existing_id,omitempty"`
	ExistingContent string `json:"existing_content,omitempty"`

	// Error carries a user-facing rejection such as over-length content.
	Error string `json:"error,omitempty"`
}

// Save validates, stamps, embeds, dedup-checks, and inserts a memory.
//
// The dedup check is read-then-write: two near-simultaneous saves of
// near-identical content can both pass it and both insert. That race is
// accepted; the maintenance sweep's merge pass reconciles it later.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	if utf8.RuneCountInString(req.Content) > MaxContentChars {
		return &SaveResult{Error: fmt.Sprintf("content exceeds %d characters", MaxContentChars)}, nil
	}

	klass, profile := ProfileFor(req.Klass)
	source := req.Source
	if source == "" {
		source = SourceUnknown
	}

	now := s.now()
	stamped := stampContent(req.Content, now)

	embedding := s.embed(ctx, stamped)

	if embedding != nil {
		matches, err := s.store.NearestActive(ctx, embedding, 1, 0)
		if err != nil {
			return nil, fmt.Errorf("dedup check: %w", err)
		}
		if len(matches) > 0 && matches[0].Similarity > DuplicateThreshold {
			existing := matches[0]
			if strings.HasPrefix(source, AutoExtractPrefix) {
				s.logger.Debug("discarding auto-extracted near-duplicate",
					zap.Int64("existing_id", existing.ID),
					zap.Float64("similarity", existing.Similarity),
					zap.String("content", utils.Truncate(req.Content, 80)),
				)
				return &SaveResult{Duplicate: true, Discarded: true, ExistingID: existing.ID}, nil
			}
			return &SaveResult{
				Duplicate:       true,
				ExistingID:      existing.ID,
				ExistingContent: existing.Content,
			}, nil
		}
	}

	m := &Memory{
		Content:      stamped,
		Tags:         req.Tags,
		Embedding:    embedding,
		Klass:        klass,
		Importance:   profile.Importance,
		HalflifeDays: profile.HalflifeDays,
		Source:       source,
		CreatedAt:    now,
	}
	if err := s.store.InsertMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	event := eventstream.NewEvent(eventstream.EventMemorySaved)
	event.MemoryID = m.ID
	s.publish(ctx, event)

	s.logger.Info("memory saved",
		zap.Int64("id", m.ID),
		zap.String("klass", string(klass)),
		zap.String("source", source),
		zap.Bool("embedded", embedding != nil),
	)

	return &SaveResult{Memory: m}, nil
}

// UpdateRequest is a request to edit a memory's content and/or tags.
// Nil fields are left untouched.
type UpdateRequest struct {
	ID      int64   `json:"id"`
	Source  string  `json:"source"`
	Content *string `json:"content,omitempty"`
	Tags    *Tags   `json:"tags,omitempty"`
}

// UpdateResult reports the outcome of an update.
type UpdateResult struct {
	Memory *Memory `json:"memory,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Update edits a memory's content and/or tags, enforcing the source
// permission rule. A content edit re-stamps and re-embeds; a tag-only edit
// does not touch the embedding.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	m, err := s.store.GetMemory(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("get memory %d: %w", req.ID, err)
	}
	if m == nil {
		return &UpdateResult{Error: "memory not found"}, nil
	}
	if !canModify(m.Source, req.Source) {
		return &UpdateResult{Error: permissionDenied(m.Source, req.Source)}, nil
	}

	if req.Content != nil {
		if utf8.RuneCountInString(*req.Content) > MaxContentChars {
			return &UpdateResult{Error: fmt.Sprintf("content exceeds %d characters", MaxContentChars)}, nil
		}
		m.Content = stampContent(*req.Content, s.now())
		m.Embedding = s.embed(ctx, m.Content)
	}
	if req.Tags != nil {
		m.Tags = *req.Tags
	}

	if err := s.store.UpdateMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("update memory %d: %w", req.ID, err)
	}

	return &UpdateResult{Memory: m}, nil
}

// DeleteResult reports the outcome of a delete or restore.
type DeleteResult struct {
	Error string `json:"error,omitempty"`
}

// Delete tombstones a memory, enforcing the source permission rule.
func (s *Service) Delete(ctx context.Context, id int64, source string) (*DeleteResult, error) {
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get memory %d: %w", id, err)
	}
	if m == nil {
		return &DeleteResult{Error: "memory not found"}, nil
	}
	if !canModify(m.Source, source) {
		return &DeleteResult{Error: permissionDenied(m.Source, source)}, nil
	}
	if m.Lifecycle() == LifecycleTombstoned {
		return &DeleteResult{Error: "memory already deleted"}, nil
	}

	if err := s.store.SetTombstone(ctx, id, s.now()); err != nil {
		return nil, fmt.Errorf("tombstone memory %d: %w", id, err)
	}

	event := eventstream.NewEvent(eventstream.EventMemoryDeleted)
	event.MemoryID = id
	s.publish(ctx, event)

	return &DeleteResult{}, nil
}

// Restore clears a memory's tombstone.
func (s *Service) Restore(ctx context.Context, id int64) (*DeleteResult, error) {
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get memory %d: %w", id, err)
	}
	if m == nil {
		return &DeleteResult{Error: "memory not found"}, nil
	}
	if m.Lifecycle() != LifecycleTombstoned {
		return &DeleteResult{Error: "memory is not deleted"}, nil
	}

	if err := s.store.ClearTombstone(ctx, id); err != nil {
		return nil, fmt.Errorf("restore memory %d: %w", id, err)
	}

	event := eventstream.NewEvent(eventstream.EventMemoryRestored)
	event.MemoryID = id
	s.publish(ctx, event)

	return &DeleteResult{}, nil
}

// Trash lists tombstoned memories awaiting reaping.
func (s *Service) Trash(ctx context.Context) ([]Memory, error) {
	return s.store.ListTrash(ctx)
}

// embed requests an embedding, degrading to nil on failure.
func (s *Service) embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding failed, saving without vector", zap.Error(err))
		return nil
	}
	return vec
}

func (s *Service) publish(ctx context.Context, event eventstream.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// canModify implements the source permission rule: a caller may modify a
// memory it wrote, a memory with unrecorded provenance, or a memory the
// extraction pipeline wrote on its behalf.
func canModify(stored, caller string) bool {
	if stored == caller || stored == SourceUnknown {
		return true
	}
	return strings.HasPrefix(stored, AutoExtractPrefix+":"+caller)
}

func permissionDenied(stored, caller string) string {
	return fmt.Sprintf("permission denied: memory belongs to %q, not %q", stored, caller)
}

func stampContent(content string, at time.Time) string {
	return fmt.Sprintf("[%s] %s", at.Local().Format(StampLayout), content)
}
