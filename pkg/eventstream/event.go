// Package eventstream publishes memory lifecycle events to an event stream
// backend. Events are informational: every publish is best-effort and no
// engine operation depends on delivery.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventMemorySaved is emitted after a new memory row is inserted.
	EventMemorySaved = "mnemo.memory.saved"

	// EventMemoryDeleted is emitted when a memory is tombstoned by an
	// explicit delete.
	EventMemoryDeleted = "mnemo.memory.deleted"

	// EventMemoryRestored is emitted when a tombstoned memory is restored.
	EventMemoryRestored = "mnemo.memory.restored"

	// EventMemoryEvicted is emitted when the maintenance sweep tombstones
	// a memory whose decayed score fell below the eviction threshold.
	EventMemoryEvicted = "mnemo.memory.evicted"

	// EventMemoriesMerged is emitted when the maintenance sweep resolves a
	// near-duplicate pair by tombstoning the older member.
	EventMemoriesMerged = "mnemo.memory.merged"

	// EventTrashReaped is emitted after expired tombstones are hard-deleted.
	EventTrashReaped = "mnemo.memory.trash_reaped"

	// EventCoreBlockRewritten is emitted after a core block is overwritten
	// with consolidated candidate content.
	EventCoreBlockRewritten = "mnemo.coreblock.rewritten"
)

// Event is a transport-neutral memory lifecycle event payload.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	// MemoryID identifies the affected memory for per-row events.
	MemoryID int64 `json:"memory_id,omitempty"`

	// KeptID identifies the surviving member of a merged pair.
	KeptID int64 `json:"kept_id,omitempty"`

	// AssistantID and BlockType identify the affected core block.
	AssistantID string `json:"assistant_id,omitempty"`
	BlockType   string `json:"block_type,omitempty"`

	// Count carries the row count for batch events such as trash reaping.
	Count int `json:"count,omitempty"`
}

// NewEvent creates an event of the given type with schema version, a fresh
// event ID, and the emission timestamp filled in.
func NewEvent(eventType string) Event {
	return Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
	}
}
