package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/memory"
)

const memoryColumns = `m.id, m.content, m.tags, m.klass, m.importance, m.manual_boost,
	m.hits, m.halflife_days, m.last_access_at, m.source, m.tombstoned_at, m.created_at`

// knnSlack widens KNN queries so enough rows survive the active filter;
// tombstoned rows keep their vectors until reaping.
const knnSlack = 4

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(s rowScanner) (*memory.Memory, error) {
	var (
		m            memory.Memory
		tagsJSON     string
		lastAccess   sql.NullTime
		tombstonedAt sql.NullTime
	)
	err := s.Scan(
		&m.ID, &m.Content, &tagsJSON, &m.Klass, &m.Importance, &m.ManualBoost,
		&m.Hits, &m.HalflifeDays, &lastAccess, &m.Source, &tombstonedAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tagsJSON != "" && tagsJSON != "{}" {
		if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
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

func encodeTags(tags memory.Tags) (string, error) {
	if len(tags) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(raw), nil
}

// InsertMemory writes a memory row, its FTS entry, and its vector when one
// is present. The assigned id is written back into m.
func (d *Driver) InsertMemory(ctx context.Context, m *memory.Memory) error {
	tagsJSON, err := encodeTags(m.Tags)
	if err != nil {
		return err
	}

	return d.withTx(ctx, func(q queryer) error {
		result, err := q.ExecContext(ctx, `
			INSERT INTO memories (content, tags, klass, importance, manual_boost,
				hits, halflife_days, last_access_at, source, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, NULL, ?, ?)
		`, m.Content, tagsJSON, string(m.Klass), m.Importance, m.ManualBoost,
			m.HalflifeDays, m.Source, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting memory: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting memory id: %w", err)
		}
		m.ID = id

		if _, err := q.ExecContext(ctx,
			`INSERT INTO memories_fts(rowid, content) VALUES (?, ?)`,
			id, m.Content,
		); err != nil {
			return fmt.Errorf("indexing memory %d: %w", id, err)
		}

		if m.Embedding != nil {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO memories_vec(rowid, embedding) VALUES (?, ?)`,
				id, serializeFloat32(m.Embedding),
			); err != nil {
				return fmt.Errorf("inserting embedding for memory %d: %w", id, err)
			}
		}
		return nil
	})
}

// GetMemory fetches one memory by id, embedding included. Returns
// (nil, nil) when the id does not exist.
func (d *Driver) GetMemory(ctx context.Context, id int64) (*memory.Memory, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories m WHERE m.id = ?`, id)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting memory %d: %w", id, err)
	}

	var blob []byte
	err = d.q.QueryRowContext(ctx,
		`SELECT embedding FROM memories_vec WHERE rowid = ?`, id,
	).Scan(&blob)
	switch err {
	case nil:
		m.Embedding, err = deserializeFloat32(blob)
		if err != nil {
			return nil, err
		}
	case sql.ErrNoRows:
		// saved without a vector
	default:
		return nil, fmt.Errorf("getting embedding for memory %d: %w", id, err)
	}

	return m, nil
}

// UpdateMemory rewrites a memory's content, tags, and vector. The FTS entry
// is replaced; the old vector is dropped and re-inserted only when the
// updated memory carries one (vec0 does not support UPDATE).
func (d *Driver) UpdateMemory(ctx context.Context, m *memory.Memory) error {
	tagsJSON, err := encodeTags(m.Tags)
	if err != nil {
		return err
	}

	return d.withTx(ctx, func(q queryer) error {
		var oldContent string
		err := q.QueryRowContext(ctx,
			`SELECT content FROM memories WHERE id = ?`, m.ID,
		).Scan(&oldContent)
		if err != nil {
			return fmt.Errorf("getting memory %d for update: %w", m.ID, err)
		}

		if _, err := q.ExecContext(ctx, `
			UPDATE memories SET content = ?, tags = ?, manual_boost = ?
			WHERE id = ?
		`, m.Content, tagsJSON, m.ManualBoost, m.ID); err != nil {
			return fmt.Errorf("updating memory %d: %w", m.ID, err)
		}

		// External-content FTS requires the prior content to unindex.
		if _, err := q.ExecContext(ctx,
			`INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', ?, ?)`,
			m.ID, oldContent,
		); err != nil {
			return fmt.Errorf("unindexing memory %d: %w", m.ID, err)
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO memories_fts(rowid, content) VALUES (?, ?)`,
			m.ID, m.Content,
		); err != nil {
			return fmt.Errorf("reindexing memory %d: %w", m.ID, err)
		}

		if _, err := q.ExecContext(ctx,
			`DELETE FROM memories_vec WHERE rowid = ?`, m.ID,
		); err != nil {
			return fmt.Errorf("deleting old embedding for memory %d: %w", m.ID, err)
		}
		if m.Embedding != nil {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO memories_vec(rowid, embedding) VALUES (?, ?)`,
				m.ID, serializeFloat32(m.Embedding),
			); err != nil {
				return fmt.Errorf("re-inserting embedding for memory %d: %w", m.ID, err)
			}
		}
		return nil
	})
}

// SetTombstone soft-deletes a memory. Its FTS and vector entries stay in
// place; retrieval filters on the tombstone column.
func (d *Driver) SetTombstone(ctx context.Context, id int64, at time.Time) error {
	if _, err := d.q.ExecContext(ctx,
		`UPDATE memories SET tombstoned_at = ? WHERE id = ?`, at, id,
	); err != nil {
		return fmt.Errorf("tombstoning memory %d: %w", id, err)
	}
	return nil
}

// ClearTombstone restores a soft-deleted memory.
func (d *Driver) ClearTombstone(ctx context.Context, id int64) error {
	if _, err := d.q.ExecContext(ctx,
		`UPDATE memories SET tombstoned_at = NULL WHERE id = ?`, id,
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

	// KNN via vec0 MATCH; oversample so tombstoned rows filtered by the
	// join do not starve the result.
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+memoryColumns+`, v.distance
		FROM memories_vec v
		INNER JOIN memories m ON m.id = v.rowid
		WHERE v.embedding MATCH ?
			AND v.k = ?
			AND m.tombstoned_at IS NULL
		ORDER BY v.distance
	`, serializeFloat32(embedding), limit*knnSlack)
	if err != nil {
		return nil, fmt.Errorf("querying nearest memories: %w", err)
	}
	defer rows.Close()

	var matches []memory.Match
	for rows.Next() {
		var (
			m            memory.Memory
			tagsJSON     string
			lastAccess   sql.NullTime
			tombstonedAt sql.NullTime
			distance     float64
		)
		if err := rows.Scan(
			&m.ID, &m.Content, &tagsJSON, &m.Klass, &m.Importance, &m.ManualBoost,
			&m.Hits, &m.HalflifeDays, &lastAccess, &m.Source, &tombstonedAt, &m.CreatedAt,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("scanning nearest memory: %w", err)
		}
		if tagsJSON != "" && tagsJSON != "{}" {
			if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
				return nil, fmt.Errorf("decoding tags for memory %d: %w", m.ID, err)
			}
		}
		if lastAccess.Valid {
			t := lastAccess.Time
			m.LastAccessAt = &t
		}

		// cosine distance to similarity
		similarity := 1.0 - distance
		if similarity < minSimilarity {
			continue
		}
		matches = append(matches, memory.Match{Memory: m, Similarity: similarity})
		if len(matches) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nearest memories: %w", err)
	}

	d.logger.Debug("vector search",
		zap.Int("matches", len(matches)),
	)

	return matches, nil
}

// SearchLexical returns active memories matching the query under FTS5,
// best rank first. Queries are tokenized before matching so raw user input
// cannot break the MATCH syntax.
func (d *Driver) SearchLexical(ctx context.Context, query string, limit int) ([]memory.Memory, error) {
	match := ftsQuery(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories_fts f
		INNER JOIN memories m ON m.id = f.rowid
		WHERE memories_fts MATCH ?
			AND m.tombstoned_at IS NULL
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("querying lexical matches: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// ftsQuery rewrites free text into an OR of quoted tokens.
func ftsQuery(query string) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i := range tokens {
		tokens[i] = `"` + tokens[i] + `"`
	}
	return strings.Join(tokens, " OR ")
}

// ListActiveByTagKeywords returns active memories whose tag lists share at
// least one keyword, newest first, excluding the given ids.
func (d *Driver) ListActiveByTagKeywords(ctx context.Context, keywords []string, exclude []int64, limit int) ([]memory.Memory, error) {
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}

	args := make([]any, 0, len(keywords)+len(exclude)+1)
	for _, kw := range keywords {
		args = append(args, kw)
	}
	excludeClause := ""
	if len(exclude) > 0 {
		excludeClause = fmt.Sprintf("AND m.id NOT IN (%s)", placeholders(len(exclude)))
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	args = append(args, limit)

	// json_tree walks every nested tag list; 'text' nodes are the keywords.
	query := fmt.Sprintf(`
		SELECT DISTINCT `+memoryColumns+`
		FROM memories m, json_tree(m.tags) jt
		WHERE m.tombstoned_at IS NULL
			AND jt.type = 'text'
			AND jt.value IN (%s)
			%s
		ORDER BY m.created_at DESC
		LIMIT ?
	`, placeholders(len(keywords)), excludeClause)

	rows, err := d.q.QueryContext(ctx, query, args...)
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

	args := make([]any, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(
		`UPDATE memories SET hits = hits + 1, last_access_at = ? WHERE id IN (%s)`,
		placeholders(len(ids)),
	)
	if _, err := d.q.ExecContext(ctx, query, args...); err != nil {
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

	args := make([]any, len(klasses))
	for i, k := range klasses {
		args[i] = string(k)
	}

	query := fmt.Sprintf(`
		SELECT `+memoryColumns+`
		FROM memories m
		WHERE m.tombstoned_at IS NULL AND m.klass IN (%s)
		ORDER BY m.id
	`, placeholders(len(klasses)))

	rows, err := d.q.QueryContext(ctx, query, args...)
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
		SELECT `+memoryColumns+`
		FROM memories m
		WHERE m.tombstoned_at IS NULL
			AND m.id IN (SELECT rowid FROM memories_vec)
		ORDER BY m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying embedded memories: %w", err)
	}

	// Collect rows before issuing embedding lookups; SQLite serializes on
	// a single connection.
	memories, err := collectMemories(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range memories {
		var blob []byte
		err := d.q.QueryRowContext(ctx,
			`SELECT embedding FROM memories_vec WHERE rowid = ?`, memories[i].ID,
		).Scan(&blob)
		if err != nil {
			return nil, fmt.Errorf("getting embedding for memory %d: %w", memories[i].ID, err)
		}
		memories[i].Embedding, err = deserializeFloat32(blob)
		if err != nil {
			return nil, err
		}
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
		WHERE m.tombstoned_at IS NULL
			AND m.id NOT IN (SELECT rowid FROM memories_vec)
		ORDER BY m.id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unembedded memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// SetEmbedding attaches a vector to a memory saved without one. Any stale
// vector is dropped first (vec0 does not support UPDATE).
func (d *Driver) SetEmbedding(ctx context.Context, id int64, embedding []float32) error {
	return d.withTx(ctx, func(q queryer) error {
		if _, err := q.ExecContext(ctx,
			`DELETE FROM memories_vec WHERE rowid = ?`, id,
		); err != nil {
			return fmt.Errorf("deleting stale embedding for memory %d: %w", id, err)
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO memories_vec(rowid, embedding) VALUES (?, ?)`,
			id, serializeFloat32(embedding),
		); err != nil {
			return fmt.Errorf("inserting embedding for memory %d: %w", id, err)
		}
		return nil
	})
}

// ReapTombstones hard-deletes memories tombstoned before the cutoff,
// removing their FTS and vector entries with them.
func (d *Driver) ReapTombstones(ctx context.Context, before time.Time) (int, error) {
	reaped := 0
	err := d.withTx(ctx, func(q queryer) error {
		rows, err := q.QueryContext(ctx,
			`SELECT id, content FROM memories WHERE tombstoned_at IS NOT NULL AND tombstoned_at < ?`,
			before,
		)
		if err != nil {
			return fmt.Errorf("querying expired tombstones: %w", err)
		}

		type doomed struct {
			id      int64
			content string
		}
		var victims []doomed
		for rows.Next() {
			var v doomed
			if err := rows.Scan(&v.id, &v.content); err != nil {
				rows.Close()
				return fmt.Errorf("scanning tombstone: %w", err)
			}
			victims = append(victims, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating tombstones: %w", err)
		}

		for _, v := range victims {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', ?, ?)`,
				v.id, v.content,
			); err != nil {
				return fmt.Errorf("unindexing memory %d: %w", v.id, err)
			}
			if _, err := q.ExecContext(ctx,
				`DELETE FROM memories_vec WHERE rowid = ?`, v.id,
			); err != nil {
				return fmt.Errorf("deleting embedding for memory %d: %w", v.id, err)
			}
			if _, err := q.ExecContext(ctx,
				`DELETE FROM memories WHERE id = ?`, v.id,
			); err != nil {
				return fmt.Errorf("deleting memory %d: %w", v.id, err)
			}
		}
		reaped = len(victims)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reaped, nil
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
