package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/memory"
)

const memoryColumns = `m.id, m.content, m.tags, m.klass, m.importance, m.manual_boost,
	m.hits, m.halflife_days, m.last_access_at, m.source, m.tombstoned_at, m.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(s rowScanner, extra ...any) (*memory.Memory, error) {
	var (
		m            memory.Memory
		tagsJSON     []byte
		lastAccess   sql.NullTime
		tombstonedAt sql.NullTime
	)
	dest := []any{
		&m.ID, &m.Content, &tagsJSON, &m.Klass, &m.Importance, &m.ManualBoost,
		&m.Hits, &m.HalflifeDays, &lastAccess, &m.Source, &tombstonedAt, &m.CreatedAt,
	}
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	if len(tagsJSON) > 0 && string(tagsJSON) != "{}" {
		if err := json.Unmarshal(tagsJSON, &m.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags for memory %d: %w", m.ID, err)
		}
	}
	if lastAccess.Valid {
		t := lastAccess.Time
		m.LastAccessAt = &t
	}
	if tombstonedAt.Valid {
		t := tombstonedAt.Time
		m.TombstonedAt = &t
	}
	return &m, nil
}

func encodeTags(tags memory.Tags) ([]byte, error) {
	if len(tags) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	return raw, nil
}

// nullableVector renders an embedding for a vector-typed parameter,
// NULL when absent.
func nullableVector(v []float32) any {
	if v == nil {
		return nil
	}
	return encodeVector(v)
}

// InsertMemory writes a memory row and records its assigned id.
func (d *Driver) InsertMemory(ctx context.Context, m *memory.Memory) error {
	tagsJSON, err := encodeTags(m.Tags)
	if err != nil {
		return err
	}

	err = d.q.QueryRowContext(ctx, `
		INSERT INTO memories (content, tags, klass, importance, manual_boost,
			hits, halflife_days, source, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9::vector)
		RETURNING id
	`, m.Content, tagsJSON, string(m.Klass), m.Importance, m.ManualBoost,
		m.HalflifeDays, m.Source, m.CreatedAt, nullableVector(m.Embedding),
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	return nil
}

// GetMemory fetches one memory by id, embedding included. Returns
// (nil, nil) when the id does not exist.
func (d *Driver) GetMemory(ctx context.Context, id int64) (*memory.Memory, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT `+memoryColumns+`, m.embedding::text FROM memories m WHERE m.id = $1`, id)

	var embText sql.NullString
	m, err := scanMemory(row, &embText)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting memory %d: %w", id, err)
	}
	if embText.Valid {
		m.Embedding, err = decodeVector(embText.String)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UpdateMemory rewrites a memory's content, tags, boost, and vector.
func (d *Driver) UpdateMemory(ctx context.Context, m *memory.Memory) error {
	tagsJSON, err := encodeTags(m.Tags)
	if err != nil {
		return err
	}

	if _, err := d.q.ExecContext(ctx, `
		UPDATE memories
		SET content = $1, tags = $2, manual_boost = $3, embedding = $4::vector
		WHERE id = $5
	`, m.Content, tagsJSON, m.ManualBoost, nullableVector(m.Embedding), m.ID); err != nil {
		return fmt.Errorf("updating memory %d: %w", m.ID, err)
	}
	return nil
}

// SetTombstone soft-deletes a memory.
func (d *Driver) SetTombstone(ctx context.Context, id int64, at time.Time) error {
	if _, err := d.q.ExecContext(ctx,
		`UPDATE memories SET tombstoned_at = $1 WHERE id = $2`, at, id,
	); err != nil {
		return fmt.Errorf("tombstoning memory %d: %w", id, err)
	}
	return nil
}

// ClearTombstone restores a soft-deleted memory.
func (d *Driver) ClearTombstone(ctx context.Context, id int64) error {
	if _, err := d.q.ExecContext(ctx,
		`UPDATE memories SET tombstoned_at = NULL WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("restoring memory %d: %w", id, err)
	}
	return nil
}

// NearestActive returns active memories by descending cosine similarity to
// the embedding, filtered to similarity >= minSimilarity.
func (d *Driver) NearestActive(ctx context.Context, embedding []float32, limit int, minSimilarity float64) ([]memory.Match, error) {
	if limit <= 0 || len(embedding) == 0 {
		return nil, nil
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+memoryColumns+`, 1 - (m.embedding <=> $1::vector) AS similarity
		FROM memories m
		WHERE m.tombstoned_at IS NULL
			AND m.embedding IS NOT NULL
			AND 1 - (m.embedding <=> $1::vector) >= $2
		ORDER BY m.embedding <=> $1::vector
		LIMIT $3
	`, encodeVector(embedding), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("querying nearest memories: %w", err)
	}
	defer rows.Close()

	var matches []memory.Match
	for rows.Next() {
		var similarity float64
		m, err := scanMemory(rows, &similarity)
		if err != nil {
			return nil, fmt.Errorf("scanning nearest memory: %w", err)
		}
		matches = append(matches, memory.Match{Memory: *m, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nearest memories: %w", err)
	}

	d.logger.Debug("vector search",
		zap.Int("matches", len(matches)),
	)

	return matches, nil
}

// SearchLexical returns active memories matching the query under tsvector
// full-text search, best rank first.
func (d *Driver) SearchLexical(ctx context.Context, query string, limit int) ([]memory.Memory, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories m
		WHERE m.tombstoned_at IS NULL
			AND to_tsvector('english', m.content) @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(to_tsvector('english', m.content), plainto_tsquery('english', $1)) DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying lexical matches: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// ListActiveByTagKeywords returns active memories whose tag lists share at
// least one keyword, newest first, excluding the given ids.
func (d *Driver) ListActiveByTagKeywords(ctx context.Context, keywords []string, exclude []int64, limit int) ([]memory.Memory, error) {
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}
	if exclude == nil {
		exclude = []int64{}
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories m
		WHERE m.tombstoned_at IS NULL
			AND NOT (m.id = ANY($2))
			AND EXISTS (
				SELECT 1
				FROM jsonb_each(m.tags) e,
					jsonb_array_elements_text(e.value) kw
				WHERE kw = ANY($1)
			)
		ORDER BY m.created_at DESC
		LIMIT $3
	`, keywords, exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("querying by tag keywords: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// TouchMemories bumps hits and last-access for the given ids.
func (d *Driver) TouchMemories(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := d.q.ExecContext(ctx,
		`UPDATE memories SET hits = hits + 1, last_access_at = $1 WHERE id = ANY($2)`,
		at, ids,
	); err != nil {
		return fmt.Errorf("touching memories: %w", err)
	}
	return nil
}

// ListTrash returns tombstoned memories, newest tombstone first.
func (d *Driver) ListTrash(ctx context.Context) ([]memory.Memory, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories m
		WHERE m.tombstoned_at IS NOT NULL
		ORDER BY m.tombstoned_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying trash: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// ListActiveByKlass returns active memories of the given klasses.
func (d *Driver) ListActiveByKlass(ctx context.Context, klasses []memory.Klass) ([]memory.Memory, error) {
	if len(klasses) == 0 {
		return nil, nil
	}

	names := make([]string, len(klasses))
	for i, k := range klasses {
		names[i] = string(k)
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories m
		WHERE m.tombstoned_at IS NULL AND m.klass = ANY($1)
		ORDER BY m.id
	`, names)
	if err != nil {
		return nil, fmt.Errorf("querying by klass: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// ListActiveEmbedded returns active memories that carry an embedding,
// vectors included.
func (d *Driver) ListActiveEmbedded(ctx context.Context) ([]memory.Memory, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+memoryColumns+`, m.embedding::text
		FROM memories m
		WHERE m.tombstoned_at IS NULL AND m.embedding IS NOT NULL
		ORDER BY m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying embedded memories: %w", err)
	}
	defer rows.Close()

	var memories []memory.Memory
	for rows.Next() {
		var embText string
		m, err := scanMemory(rows, &embText)
		if err != nil {
			return nil, fmt.Errorf("scanning embedded memory: %w", err)
		}
		m.Embedding, err = decodeVector(embText)
		if err != nil {
			return nil, err
		}
		memories = append(memories, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedded memories: %w", err)
	}
	return memories, nil
}

// ListActiveUnembedded returns active memories with no vector, oldest
// first, capped at limit.
func (d *Driver) ListActiveUnembedded(ctx context.Context, limit int) ([]memory.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories m
		WHERE m.tombstoned_at IS NULL AND m.embedding IS NULL
		ORDER BY m.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unembedded memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// SetEmbedding attaches a vector to a memory saved without one.
func (d *Driver) SetEmbedding(ctx context.Context, id int64, embedding []float32) error {
	if _, err := d.q.ExecContext(ctx,
		`UPDATE memories SET embedding = $1::vector WHERE id = $2`,
		encodeVector(embedding), id,
	); err != nil {
		return fmt.Errorf("setting embedding for memory %d: %w", id, err)
	}
	return nil
}

// ReapTombstones hard-deletes memories tombstoned before the cutoff.
func (d *Driver) ReapTombstones(ctx context.Context, before time.Time) (int, error) {
	result, err := d.q.ExecContext(ctx,
		`DELETE FROM memories WHERE tombstoned_at IS NOT NULL AND tombstoned_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("reaping tombstones: %w", err)
	}
	reaped, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting reaped tombstones: %w", err)
	}
	return int(reaped), nil
}

func collectMemories(rows *sql.Rows) ([]memory.Memory, error) {
	var memories []memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		memories = append(memories, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}
	return memories, nil
}
