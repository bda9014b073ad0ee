package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mnemolabs/mnemo/pkg/coreblock"
)

// WithinTx runs fn against a driver bound to one transaction, committing on
// nil and rolling back on error. Nested calls reuse the outer transaction.
func (d *Driver) WithinTx(ctx context.Context, fn func(tx coreblock.Store) error) error {
	return d.withTx(ctx, func(q queryer) error {
		return fn(&Driver{db: d.db, q: q, logger: d.logger})
	})
}

// GetCoreBlock fetches one block by scope. Returns (nil, nil) when no block
// exists yet.
func (d *Driver) GetCoreBlock(ctx context.Context, assistantID string, blockType coreblock.BlockType) (*coreblock.CoreBlock, error) {
	var b coreblock.CoreBlock
	err := d.q.QueryRowContext(ctx, `
		SELECT id, assistant_id, block_type, content, version, updated_at
		FROM core_blocks
		WHERE assistant_id = ? AND block_type = ?
	`, assistantID, string(blockType)).Scan(
		&b.ID, &b.AssistantID, &b.BlockType, &b.Content, &b.Version, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s block for %s: %w", blockType, assistantID, err)
	}
	return &b, nil
}

// InsertCoreBlock writes a new block and records its assigned id.
func (d *Driver) InsertCoreBlock(ctx context.Context, b *coreblock.CoreBlock) error {
	result, err := d.q.ExecContext(ctx, `
		INSERT INTO core_blocks (assistant_id, block_type, content, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, b.AssistantID, string(b.BlockType), b.Content, b.Version, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting %s block for %s: %w", b.BlockType, b.AssistantID, err)
	}
	b.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting block id: %w", err)
	}
	return nil
}

// UpdateCoreBlock overwrites a block's content, version, and update time.
func (d *Driver) UpdateCoreBlock(ctx context.Context, b *coreblock.CoreBlock) error {
	if _, err := d.q.ExecContext(ctx, `
		UPDATE core_blocks SET content = ?, version = ?, updated_at = ?
		WHERE id = ?
	`, b.Content, b.Version, b.UpdatedAt, b.ID); err != nil {
		return fmt.Errorf("updating block %d: %w", b.ID, err)
	}
	return nil
}

// ListCoreBlocks returns an assistant's blocks, all assistants when
// assistantID is empty.
func (d *Driver) ListCoreBlocks(ctx context.Context, assistantID string) ([]coreblock.CoreBlock, error) {
	query := `
		SELECT id, assistant_id, block_type, content, version, updated_at
		FROM core_blocks
	`
	var args []any
	if assistantID != "" {
		query += ` WHERE assistant_id = ?`
		args = append(args, assistantID)
	}
	query += ` ORDER BY assistant_id, block_type`

	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying blocks: %w", err)
	}
	defer rows.Close()

	var blocks []coreblock.CoreBlock
	for rows.Next() {
		var b coreblock.CoreBlock
		if err := rows.Scan(&b.ID, &b.AssistantID, &b.BlockType, &b.Content, &b.Version, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating blocks: %w", err)
	}
	return blocks, nil
}

// InsertHistory appends one pre-overwrite snapshot.
func (d *Driver) InsertHistory(ctx context.Context, h *coreblock.HistoryEntry) error {
	result, err := d.q.ExecContext(ctx, `
		INSERT INTO core_block_history (core_block_id, content, version, created_at)
		VALUES (?, ?, ?, ?)
	`, h.CoreBlockID, h.Content, h.Version, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting history for block %d: %w", h.CoreBlockID, err)
	}
	h.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting history id: %w", err)
	}
	return nil
}

// ListHistory returns a block's snapshots, newest first.
func (d *Driver) ListHistory(ctx context.Context, coreBlockID int64) ([]coreblock.HistoryEntry, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, core_block_id, content, version, created_at
		FROM core_block_history
		WHERE core_block_id = ?
		ORDER BY version DESC
	`, coreBlockID)
	if err != nil {
		return nil, fmt.Errorf("querying history for block %d: %w", coreBlockID, err)
	}
	defer rows.Close()

	var entries []coreblock.HistoryEntry
	for rows.Next() {
		var h coreblock.HistoryEntry
		if err := rows.Scan(&h.ID, &h.CoreBlockID, &h.Content, &h.Version, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

// InsertCandidate writes a new candidate and records its assigned id.
func (d *Driver) InsertCandidate(ctx context.Context, c *coreblock.Candidate) error {
	result, err := d.q.ExecContext(ctx, `
		INSERT INTO core_block_candidates
			(assistant_id, block_type, content, source_summary_id, status, occurrence_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.AssistantID, string(c.BlockType), c.Content, c.SourceSummaryID,
		string(c.Status), c.OccurrenceCount, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting %s candidate: %w", c.Status, err)
	}
	c.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting candidate id: %w", err)
	}
	return nil
}

// UpdateCandidate rewrites a candidate's mutable columns.
func (d *Driver) UpdateCandidate(ctx context.Context, c *coreblock.Candidate) error {
	if _, err := d.q.ExecContext(ctx, `
		UPDATE core_block_candidates
		SET status = ?, occurrence_count = ?, source_summary_id = ?
		WHERE id = ?
	`, string(c.Status), c.OccurrenceCount, c.SourceSummaryID, c.ID); err != nil {
		return fmt.Errorf("updating candidate %d: %w", c.ID, err)
	}
	return nil
}

// DeleteCandidates removes consumed candidate rows.
func (d *Driver) DeleteCandidates(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf(
		`DELETE FROM core_block_candidates WHERE id IN (%s)`,
		placeholders(len(ids)),
	)
	if _, err := d.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting candidates: %w", err)
	}
	return nil
}

// ListCandidates returns candidates of one status for a scope, newest first.
func (d *Driver) ListCandidates(ctx context.Context, assistantID string, blockType coreblock.BlockType, status coreblock.Status) ([]coreblock.Candidate, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, assistant_id, block_type, content, source_summary_id, status, occurrence_count, created_at
		FROM core_block_candidates
		WHERE assistant_id = ? AND block_type = ? AND status = ?
		ORDER BY created_at DESC, id DESC
	`, assistantID, string(blockType), string(status))
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	return collectCandidates(rows)
}

// ListAdopted returns adopted candidates, all assistants when assistantID
// is empty.
func (d *Driver) ListAdopted(ctx context.Context, assistantID string) ([]coreblock.Candidate, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, assistant_id, block_type, content, source_summary_id, status, occurrence_count, created_at
		FROM core_block_candidates
		WHERE status = ?
	`)
	args := []any{string(coreblock.StatusAdopted)}
	if assistantID != "" {
		sb.WriteString(` AND assistant_id = ?`)
		args = append(args, assistantID)
	}
	sb.WriteString(` ORDER BY assistant_id, block_type, id`)

	rows, err := d.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying adopted candidates: %w", err)
	}
	defer rows.Close()

	return collectCandidates(rows)
}

func collectCandidates(rows *sql.Rows) ([]coreblock.Candidate, error) {
	var candidates []coreblock.Candidate
	for rows.Next() {
		var c coreblock.Candidate
		if err := rows.Scan(
			&c.ID, &c.AssistantID, &c.BlockType, &c.Content,
			&c.SourceSummaryID, &c.Status, &c.OccurrenceCount, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}
	return candidates, nil
}
