// Package coreblock maintains the durable per-assistant text blocks that
// summarize what is known about the user and the assistant persona. New
// knowledge enters as candidates extracted from conversation summaries and
// must recur before it is folded into a block.
package coreblock

import "time"

// BlockType identifies which durable block a row belongs to.
type BlockType string

const (
	// BlockTypeHuman holds durable facts about the user.
	BlockTypeHuman BlockType = "human"

	// BlockTypePersona holds durable facts about the assistant persona.
	BlockTypePersona BlockType = "persona"
)

// BlockTypes lists the valid block types.
var BlockTypes = []BlockType{BlockTypeHuman, BlockTypePersona}

// Valid reports whether the block type is one of the known values.
func (t BlockType) Valid() bool {
	return t == BlockTypeHuman || t == BlockTypePersona
}

// Status is a candidate's position in its lifecycle. Adopted rows are
// deleted once a rewrite consumes them; duplicate rows are terminal records
// and never applied.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDuplicate Status = "duplicate"
	StatusAdopted   Status = "adopted"
)

// CoreBlock is one durable text block per (assistant, block type).
type CoreBlock struct {
	ID          int64     `json:"id"`
	AssistantID string    `json:"assistant_id"`
	BlockType   BlockType `json:"block_type"`
	Content     string    `json:"content"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Candidate is a proposed block update awaiting repeated confirmation.
type Candidate struct {
	ID              int64     `json:"id"`
	AssistantID     string    `json:"assistant_id"`
	BlockType       BlockType `json:"block_type"`
	Content         string    `json:"content"`
	SourceSummaryID string    `json:"source_summary_id"`
	Status          Status    `json:"status"`
	OccurrenceCount int       `json:"occurrence_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// HistoryEntry is an append-only snapshot of a block taken immediately
// before an overwrite.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	CoreBlockID int64     `json:"core_block_id"`
	Content     string    `json:"content"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}
