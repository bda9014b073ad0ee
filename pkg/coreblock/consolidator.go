package coreblock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/eventstream"
	"github.com/mnemolabs/mnemo/pkg/eventstream/nop"
	"github.com/mnemolabs/mnemo/pkg/llm"
)

const (
	// DefaultAdoptThreshold is how many independent occurrences promote a
	// pending candidate to adopted.
	DefaultAdoptThreshold = 2

	// RewriteTargetChars is the length the merge prompt asks for. The
	// fallback concatenation may exceed it.
	RewriteTargetChars = 500
)

// Store is the persistence surface consolidation needs. pkg/store drivers
// implement it. GetCoreBlock returns (nil, nil) when no block exists.
type Store interface {
	// WithinTx runs fn against a store bound to one transaction, committing
	// on nil and rolling back on error.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	GetCoreBlock(ctx context.Context, assistantID string, blockType BlockType) (*CoreBlock, error)
	InsertCoreBlock(ctx context.Context, b *CoreBlock) error
	UpdateCoreBlock(ctx context.Context, b *CoreBlock) error
	ListCoreBlocks(ctx context.Context, assistantID string) ([]CoreBlock, error)

	InsertHistory(ctx context.Context, h *HistoryEntry) error
	ListHistory(ctx context.Context, coreBlockID int64) ([]HistoryEntry, error)

	InsertCandidate(ctx context.Context, c *Candidate) error
	UpdateCandidate(ctx context.Context, c *Candidate) error
	DeleteCandidates(ctx context.Context, ids []int64) error

	// ListCandidates returns candidates of the given status for one
	// (assistant, block type), newest first.
	ListCandidates(ctx context.Context, assistantID string, blockType BlockType, status Status) ([]Candidate, error)

	// ListAdopted returns adopted candidates, all assistants when
	// assistantID is empty.
	ListAdopted(ctx context.Context, assistantID string) ([]Candidate, error)
}

// Config tunes consolidation. Zero values take the defaults.
type Config struct {
	AdoptThreshold int
}

// Consolidator runs the candidate state machine over summary-derived
// signals and the adopted-candidate rewrite.
type Consolidator struct {
	store  Store
	llm    llm.Completer
	config Config
	events eventstream.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewConsolidator creates a consolidator with defaults filled in.
func NewConsolidator(store Store, completer llm.Completer, config Config, events eventstream.Publisher, logger *zap.Logger) *Consolidator {
	if config.AdoptThreshold <= 0 {
		config.AdoptThreshold = DefaultAdoptThreshold
	}
	if events == nil {
		events = nop.NewPublisher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{
		store:  store,
		llm:    completer,
		config: config,
		events: events,
		logger: logger.With(zap.String("component", "coreblock")),
		now:    time.Now,
	}
}

// proposal is one extracted {block_type, content} signal.
type proposal struct {
	BlockType BlockType `json:"block_type"`
	Content   string    `json:"content"`
}

// SignalRequest carries one freshly generated conversation summary.
type SignalRequest struct {
	SummaryID   string `json:"summary_id"`
	AssistantID string `json:"assistant_id"`
	Summary     string `json:"summary"`
}

// SignalReport counts what happened to one summary's proposals.
type SignalReport struct {
	Proposals  int `json:"proposals"`
	Duplicates int `json:"duplicates"`
	Bumped     int `json:"bumped"`
	Adopted    int `json:"adopted"`
	Created    int `json:"created"`
}

// CollectSignals extracts durable-fact proposals from a summary and runs
// each through the candidate state machine. Extraction failure skips the
// summary entirely; classification failures default to treating the
// proposal as new material. All of one summary's proposals commit in a
// single transaction.
func (c *Consolidator) CollectSignals(ctx context.Context, req SignalRequest) (*SignalReport, error) {
	if strings.TrimSpace(req.Summary) == "" {
		return &SignalReport{}, nil
	}

	human, err := c.store.GetCoreBlock(ctx, req.AssistantID, BlockTypeHuman)
	if err != nil {
		return nil, fmt.Errorf("get human block: %w", err)
	}
	persona, err := c.store.GetCoreBlock(ctx, req.AssistantID, BlockTypePersona)
	if err != nil {
		return nil, fmt.Errorf("get persona block: %w", err)
	}

	proposals := c.extractProposals(ctx, req, blockContent(human), blockContent(persona))
	report := &SignalReport{Proposals: len(proposals)}
	if len(proposals) == 0 {
		return report, nil
	}

	err = c.store.WithinTx(ctx, func(tx Store) error {
		for _, p := range proposals {
			if err := c.processProposal(ctx, tx, req, p, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect signals for summary %s: %w", req.SummaryID, err)
	}

	c.logger.Info("signals collected",
		zap.String("summary_id", req.SummaryID),
		zap.String("assistant_id", req.AssistantID),
		zap.Int("proposals", report.Proposals),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("adopted", report.Adopted),
		zap.Int("created", report.Created),
	)

	return report, nil
}

// processProposal runs one proposal through the state machine: fast-path
// and LLM duplicate checks against the existing block, then against pending
// candidates newest first, then a fresh pending row.
func (c *Consolidator) processProposal(ctx context.Context, tx Store, req SignalRequest, p proposal, report *SignalReport) error {
	block, err := tx.GetCoreBlock(ctx, req.AssistantID, p.BlockType)
	if err != nil {
		return fmt.Errorf("get %s block: %w", p.BlockType, err)
	}

	if existing := blockContent(block); existing != "" {
		if fastDuplicate(existing, p.Content) || c.classifyRelation(ctx, existing, p.Content) == relationDuplicate {
			report.Duplicates++
			return c.recordCandidate(ctx, tx, req, p, StatusDuplicate)
		}
	}

	pending, err := tx.ListCandidates(ctx, req.AssistantID, p.BlockType, StatusPending)
	if err != nil {
		return fmt.Errorf("list pending candidates: %w", err)
	}
	for i := range pending {
		cand := &pending[i]
		if !fastDuplicate(cand.Content, p.Content) && c.classifyRelation(ctx, cand.Content, p.Content) != relationDuplicate {
			continue
		}

		cand.OccurrenceCount++
		cand.SourceSummaryID = req.SummaryID
		if cand.OccurrenceCount >= c.config.AdoptThreshold {
			cand.Status = StatusAdopted
			report.Adopted++
		} else {
			report.Bumped++
		}
		if err := tx.UpdateCandidate(ctx, cand); err != nil {
			return fmt.Errorf("update candidate %d: %w", cand.ID, err)
		}
		return nil
	}

	status := StatusPending
	if c.config.AdoptThreshold <= 1 {
		status = StatusAdopted
		report.Adopted++
	} else {
		report.Created++
	}
	return c.recordCandidate(ctx, tx, req, p, status)
}

func (c *Consolidator) recordCandidate(ctx context.Context, tx Store, req SignalRequest, p proposal, status Status) error {
	cand := &Candidate{
		AssistantID:     req.AssistantID,
		BlockType:       p.BlockType,
		Content:         p.Content,
		SourceSummaryID: req.SummaryID,
		Status:          status,
		OccurrenceCount: 1,
		CreatedAt:       c.now(),
	}
	if err := tx.InsertCandidate(ctx, cand); err != nil {
		return fmt.Errorf("insert %s candidate: %w", status, err)
	}
	return nil
}

// extractProposals asks the LLM for {block_type, content} proposals.
// Any failure yields an empty set; the summary is simply skipped.
func (c *Consolidator) extractProposals(ctx context.Context, req SignalRequest, human, persona string) []proposal {
	if c.llm == nil {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current human block:\n%s\n\n", orEmpty(human))
	fmt.Fprintf(&sb, "Current persona block:\n%s\n\n", orEmpty(persona))
	fmt.Fprintf(&sb, "Conversation summary:\n%s", req.Summary)

	completion, err := c.llm.Complete(ctx, llm.CompletionRequest{
		System: extractionSystemPrompt,
		Prompt: sb.String(),
		JSON:   true,
	})
	if err != nil {
		c.logger.Warn("proposal extraction failed, skipping summary",
			zap.String("summary_id", req.SummaryID),
			zap.Error(err),
		)
		return nil
	}

	var raw []proposal
	if err := llm.DecodeJSON(completion, &raw); err != nil {
		c.logger.Warn("proposal extraction returned unusable output",
			zap.String("summary_id", req.SummaryID),
			zap.Error(err),
		)
		return nil
	}

	proposals := raw[:0]
	for _, p := range raw {
		p.Content = strings.TrimSpace(p.Content)
		if p.Content == "" || !p.BlockType.Valid() {
			continue
		}
		proposals = append(proposals, p)
	}
	return proposals
}

type relation string

const (
	relationDuplicate relation = "duplicate"
	relationConflict  relation = "conflict"
	relationDifferent relation = "different"
)

// classifyRelation asks the LLM how a proposal relates to existing text.
// Any failure defaults to different so nothing merges on bad output.
func (c *Consolidator) classifyRelation(ctx context.Context, existing, proposed string) relation {
	if c.llm == nil {
		return relationDifferent
	}

	prompt := fmt.Sprintf("Existing text:\n%s\n\nProposed fact:\n%s", existing, proposed)
	completion, err := c.llm.Complete(ctx, llm.CompletionRequest{
		System: relationSystemPrompt,
		Prompt: prompt,
		JSON:   true,
	})
	if err != nil {
		c.logger.Warn("relation classification failed, treating as different", zap.Error(err))
		return relationDifferent
	}

	var parsed struct {
		Relation relation `json:"relation"`
	}
	if err := llm.DecodeJSON(completion, &parsed); err != nil {
		c.logger.Warn("relation classification returned unusable output", zap.Error(err))
		return relationDifferent
	}

	switch parsed.Relation {
	case relationDuplicate, relationConflict:
		return parsed.Relation
	default:
		return relationDifferent
	}
}

// RewriteReport counts one rewrite pass.
type RewriteReport struct {
	BlocksRewritten     int `json:"blocks_rewritten"`
	CandidatesProcessed int `json:"candidates_processed"`
}

// groupKey identifies one (assistant, block type) rewrite group.
type groupKey struct {
	assistantID string
	blockType   BlockType
}

// RewriteAdopted folds adopted candidates into their blocks, one
// transaction per (assistant, block type) group. Every processed candidate
// is consumed whether or not the block content changed. Pass an empty
// assistantID to process all assistants.
func (c *Consolidator) RewriteAdopted(ctx context.Context, assistantID string) (*RewriteReport, error) {
	adopted, err := c.store.ListAdopted(ctx, assistantID)
	if err != nil {
		return nil, fmt.Errorf("list adopted candidates: %w", err)
	}

	groups := make(map[groupKey][]Candidate)
	var order []groupKey
	for _, cand := range adopted {
		key := groupKey{assistantID: cand.AssistantID, blockType: cand.BlockType}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], cand)
	}

	report := &RewriteReport{}
	for _, key := range order {
		rewritten, err := c.rewriteGroup(ctx, key, groups[key])
		if err != nil {
			return report, err
		}
		if rewritten {
			report.BlocksRewritten++
		}
		report.CandidatesProcessed += len(groups[key])
	}

	c.logger.Info("rewrite finished",
		zap.String("assistant_id", assistantID),
		zap.Int("blocks_rewritten", report.BlocksRewritten),
		zap.Int("candidates_processed", report.CandidatesProcessed),
	)

	return report, nil
}

// rewriteGroup merges one group's candidates into its block and consumes
// the candidate rows, all in one transaction.
func (c *Consolidator) rewriteGroup(ctx context.Context, key groupKey, candidates []Candidate) (bool, error) {
	merged := false
	err := c.store.WithinTx(ctx, func(tx Store) error {
		block, err := tx.GetCoreBlock(ctx, key.assistantID, key.blockType)
		if err != nil {
			return fmt.Errorf("get %s block: %w", key.blockType, err)
		}

		current := blockContent(block)
		next := c.mergeContents(ctx, current, candidates)

		if next != current {
			now := c.now()
			if block == nil {
				block = &CoreBlock{
					AssistantID: key.assistantID,
					BlockType:   key.blockType,
					Content:     next,
					Version:     1,
					UpdatedAt:   now,
				}
				if err := tx.InsertCoreBlock(ctx, block); err != nil {
					return fmt.Errorf("insert %s block: %w", key.blockType, err)
				}
			} else {
				snapshot := &HistoryEntry{
					CoreBlockID: block.ID,
					Content:     block.Content,
					Version:     block.Version,
					CreatedAt:   now,
				}
				if err := tx.InsertHistory(ctx, snapshot); err != nil {
					return fmt.Errorf("snapshot %s block: %w", key.blockType, err)
				}
				block.Content = next
				block.Version++
				block.UpdatedAt = now
				if err := tx.UpdateCoreBlock(ctx, block); err != nil {
					return fmt.Errorf("update %s block: %w", key.blockType, err)
				}
			}
			merged = true
		}

		ids := make([]int64, len(candidates))
		for i := range candidates {
			ids[i] = candidates[i].ID
		}
		if err := tx.DeleteCandidates(ctx, ids); err != nil {
			return fmt.Errorf("consume candidates: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rewrite %s/%s: %w", key.assistantID, key.blockType, err)
	}

	if merged {
		event := eventstream.NewEvent(eventstream.EventCoreBlockRewritten)
		event.AssistantID = key.assistantID
		event.BlockType = string(key.blockType)
		event.Count = len(candidates)
		if err := c.events.Publish(ctx, event); err != nil {
			c.logger.Warn("event publish failed",
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
		}
	}

	return merged, nil
}

// mergeContents asks the LLM to consolidate, falling back to naive
// concatenation so a dead LLM never blocks the update.
func (c *Consolidator) mergeContents(ctx context.Context, current string, candidates []Candidate) string {
	if c.llm != nil {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Current block:\n%s\n\nNew facts:\n", orEmpty(current))
		for _, cand := range candidates {
			fmt.Fprintf(&sb, "- %s\n", cand.Content)
		}

		completion, err := c.llm.Complete(ctx, llm.CompletionRequest{
			System: mergeSystemPrompt,
			Prompt: sb.String(),
		})
		if err == nil {
			if merged := strings.TrimSpace(completion); merged != "" {
				return merged
			}
		} else {
			c.logger.Warn("merge completion failed, concatenating", zap.Error(err))
		}
	}

	parts := make([]string, 0, len(candidates)+1)
	if current != "" {
		parts = append(parts, current)
	}
	for _, cand := range candidates {
		parts = append(parts, cand.Content)
	}
	return strings.Join(parts, "\n")
}

// Blocks lists an assistant's core blocks.
func (c *Consolidator) Blocks(ctx context.Context, assistantID string) ([]CoreBlock, error) {
	return c.store.ListCoreBlocks(ctx, assistantID)
}

// History lists a block's prior versions.
func (c *Consolidator) History(ctx context.Context, coreBlockID int64) ([]HistoryEntry, error) {
	return c.store.ListHistory(ctx, coreBlockID)
}

// fastDuplicate reports whether the proposal already appears in the text
// after case and whitespace normalization.
func fastDuplicate(existing, proposed string) bool {
	ne, np := normalize(existing), normalize(proposed)
	if np == "" {
		return false
	}
	return ne == np || strings.Contains(ne, np)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func blockContent(b *CoreBlock) string {
	if b == nil {
		return ""
	}
	return b.Content
}

func orEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(empty)"
	}
	return s
}
