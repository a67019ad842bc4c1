// Package postgres implements store.Repository on PostgreSQL via lib/pq.
// The SQL surface mirrors the sqlite backend; embeddings are bytea in the
// same little-endian float32 encoding, ranked in-process.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id BIGSERIAL PRIMARY KEY,
	handle TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	conversation_id BIGINT NOT NULL REFERENCES conversations(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS summaries (
	id BIGSERIAL PRIMARY KEY,
	conversation_id BIGINT NOT NULL REFERENCES conversations(id),
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_messages (
	external_id TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	id BIGSERIAL PRIMARY KEY,
	content TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'general',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	embedding BYTEA,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id BIGSERIAL PRIMARY KEY,
	content TEXT NOT NULL,
	project TEXT NOT NULL DEFAULT '',
	embedding BYTEA,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sticky_categories (
	conversation_id BIGINT PRIMARY KEY REFERENCES conversations(id),
	categories TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS traces (
	id TEXT PRIMARY KEY,
	handle TEXT NOT NULL,
	input TEXT NOT NULL DEFAULT '',
	output TEXT NOT NULL DEFAULT '',
	external_message_id TEXT NOT NULL DEFAULT '',
	message_type TEXT NOT NULL DEFAULT 'text',
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_traces_handle ON traces(handle, started_at);
CREATE INDEX IF NOT EXISTS idx_traces_external ON traces(external_message_id);

CREATE TABLE IF NOT EXISTS trace_spans (
	id TEXT PRIMARY KEY,
	trace_id TEXT NOT NULL REFERENCES traces(id),
	parent_id TEXT,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	input TEXT NOT NULL DEFAULT '',
	output TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_spans_trace ON trace_spans(trace_id);

CREATE TABLE IF NOT EXISTS trace_scores (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT NOT NULL,
	span_id TEXT,
	name TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	source TEXT NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_trace ON trace_scores(trace_id);

CREATE TABLE IF NOT EXISTS eval_dataset (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT NOT NULL,
	entry_type TEXT NOT NULL,
	input TEXT NOT NULL DEFAULT '',
	output TEXT NOT NULL DEFAULT '',
	expected_output TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS prompt_versions (
	id BIGSERIAL PRIMARY KEY,
	prompt_name TEXT NOT NULL,
	version INTEGER NOT NULL,
	content TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT FALSE,
	created_by TEXT NOT NULL DEFAULT 'human',
	approved_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(prompt_name, version)
);

CREATE TABLE IF NOT EXISTS cron_jobs (
	id BIGSERIAL PRIMARY KEY,
	handle TEXT NOT NULL,
	schedule TEXT NOT NULL,
	message TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
`

// Store implements store.Repository on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

// Open connects to PostgreSQL and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock and by
// callers that manage the pool themselves; the schema is not created.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- conversations ---

func (s *Store) GetOrCreateConversation(ctx context.Context, handle string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (handle, created_at) VALUES ($1, $2) ON CONFLICT (handle) DO NOTHING`,
		handle, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to upsert conversation: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE handle = $1`, handle).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to load conversation: %w", err)
	}
	return id, nil
}

func (s *Store) SaveMessage(ctx context.Context, conversationID int64, role models.Role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		conversationID, string(role), content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *Store) GetRecentMessages(ctx context.Context, conversationID int64, limit, offset int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *Store) GetLatestSummary(ctx context.Context, conversationID int64) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM summaries WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1`,
		conversationID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load summary: %w", err)
	}
	return content, nil
}

func (s *Store) SaveSummary(ctx context.Context, conversationID int64, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries (conversation_id, content, created_at) VALUES ($1, $2, $3)`,
		conversationID, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// --- dedup ---

func (s *Store) InsertProcessedMessage(ctx context.Context, externalID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (external_id, processed_at) VALUES ($1, $2) ON CONFLICT (external_id) DO NOTHING`,
		externalID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record processed message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// --- memories ---

func (s *Store) AddMemory(ctx context.Context, content, category string, embedding []float32) (int64, error) {
	var blob []byte
	if len(embedding) > 0 {
		blob = store.EncodeVector(embedding)
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO memories (content, category, active, embedding, created_at) VALUES ($1, $2, TRUE, $3, $4) RETURNING id`,
		content, category, blob, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add memory: %w", err)
	}
	return id, nil
}

func (s *Store) GetActiveMemories(ctx context.Context) ([]models.Memory, error) {
	return s.scanMemories(ctx,
		`SELECT id, content, category, active, created_at FROM memories WHERE active ORDER BY id`)
}

func (s *Store) ListMemories(ctx context.Context) ([]models.Memory, error) {
	return s.scanMemories(ctx,
		`SELECT id, content, category, active, created_at FROM memories ORDER BY id`)
}

func (s *Store) scanMemories(ctx context.Context, query string, args ...any) ([]models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var out []models.Memory
	for rows.Next() {
		var m models.Memory
		if err := rows.Scan(&m.ID, &m.Content, &m.Category, &m.Active, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeactivateMemory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CleanupExpiredSelfCorrections(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET active = FALSE WHERE category = $1 AND active AND created_at < $2`,
		models.CategorySelfCorrection, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup self-corrections: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) SearchSimilarMemories(ctx context.Context, embedding []float32, topK int) ([]store.ScoredMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, category, embedding FROM memories WHERE active AND embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory embeddings: %w", err)
	}
	defer rows.Close()

	var hits []store.ScoredMemory
	var vecs [][]float32
	for rows.Next() {
		var h store.ScoredMemory
		var blob []byte
		if err := rows.Scan(&h.ID, &h.Content, &h.Category, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan memory embedding: %w", err)
		}
		vec, err := store.DecodeVector(blob)
		if err != nil {
			continue
		}
		hits = append(hits, h)
		vecs = append(vecs, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return store.RankMemories(embedding, hits, vecs, topK), nil
}

// --- notes ---

func (s *Store) AddNote(ctx context.Context, content, project string, embedding []float32) (int64, error) {
	var blob []byte
	if len(embedding) > 0 {
		blob = store.EncodeVector(embedding)
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO notes (content, project, embedding, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		content, project, blob, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add note: %w", err)
	}
	return id, nil
}

func (s *Store) SearchSimilarNotes(ctx context.Context, embedding []float32, topK int) ([]store.ScoredNote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, project, embedding FROM notes WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query note embeddings: %w", err)
	}
	defer rows.Close()

	var hits []store.ScoredNote
	var vecs [][]float32
	for rows.Next() {
		var h store.ScoredNote
		var blob []byte
		if err := rows.Scan(&h.ID, &h.Content, &h.Project, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan note embedding: %w", err)
		}
		vec, err := store.DecodeVector(blob)
		if err != nil {
			continue
		}
		hits = append(hits, h)
		vecs = append(vecs, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return store.RankNotes(embedding, hits, vecs, topK), nil
}

// --- sticky categories ---

func (s *Store) GetStickyCategories(ctx context.Context, conversationID int64) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT categories FROM sticky_categories WHERE conversation_id = $1`, conversationID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sticky categories: %w", err)
	}
	var cats []string
	if err := json.Unmarshal([]byte(raw), &cats); err != nil {
		return nil, fmt.Errorf("failed to decode sticky categories: %w", err)
	}
	return cats, nil
}

func (s *Store) SaveStickyCategories(ctx context.Context, conversationID int64, categories []string) error {
	raw, err := json.Marshal(categories)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sticky_categories (conversation_id, categories, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id) DO UPDATE SET categories = EXCLUDED.categories, updated_at = EXCLUDED.updated_at`,
		conversationID, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save sticky categories: %w", err)
	}
	return nil
}

func (s *Store) ClearStickyCategories(ctx context.Context, conversationID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sticky_categories WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to clear sticky categories: %w", err)
	}
	return nil
}

// --- tracing ---

func (s *Store) SaveTrace(ctx context.Context, trace *models.Trace) error {
	meta, err := encodeMetadata(trace.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO traces (id, handle, input, output, external_message_id, message_type, status, started_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trace.ID, trace.Handle, trace.Input, trace.Output, trace.ExternalMessageID,
		string(trace.MessageType), string(trace.Status), trace.StartedAt, meta)
	if err != nil {
		return fmt.Errorf("failed to save trace: %w", err)
	}
	return nil
}

func (s *Store) FinishTrace(ctx context.Context, id string, status models.TraceStatus, output, externalMessageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE traces SET status = $1, output = $2,
		 external_message_id = CASE WHEN $3 != '' THEN $3 ELSE external_message_id END,
		 ended_at = $4 WHERE id = $5`,
		string(status), output, externalMessageID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish trace: %w", err)
	}
	return nil
}

func (s *Store) SaveSpan(ctx context.Context, span *models.Span) error {
	meta, err := encodeMetadata(span.Metadata)
	if err != nil {
		return err
	}
	var parent any
	if span.ParentID != nil {
		parent = *span.ParentID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trace_spans (id, trace_id, parent_id, name, kind, input, output, status, started_at, ended_at, duration_ms, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		span.ID, span.TraceID, parent, span.Name, string(span.Kind), span.Input, span.Output,
		string(span.Status), span.StartedAt, span.EndedAt, span.DurationMS, meta)
	if err != nil {
		return fmt.Errorf("failed to save span: %w", err)
	}
	return nil
}

func (s *Store) FinishSpan(ctx context.Context, id string, status models.TraceStatus, output string, endedAt time.Time, durationMS int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trace_spans SET status = $1, output = $2, ended_at = $3, duration_ms = $4 WHERE id = $5`,
		string(status), output, endedAt, durationMS, id)
	if err != nil {
		return fmt.Errorf("failed to finish span: %w", err)
	}
	return nil
}

func (s *Store) SaveScore(ctx context.Context, score *models.Score) error {
	var spanID any
	if score.SpanID != nil {
		spanID = *score.SpanID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trace_scores (trace_id, span_id, name, value, source, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		score.TraceID, spanID, score.Name, score.Value, string(score.Source), score.Comment, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	return nil
}

func (s *Store) GetLatestTraceID(ctx context.Context, handle string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM traces WHERE handle = $1 ORDER BY started_at DESC LIMIT 1`, handle).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load latest trace: %w", err)
	}
	return id, nil
}

func (s *Store) GetTraceIDByExternalID(ctx context.Context, externalMessageID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM traces WHERE external_message_id = $1 ORDER BY started_at DESC LIMIT 1`,
		externalMessageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load trace by external id: %w", err)
	}
	return id, nil
}

func (s *Store) GetRecentTraces(ctx context.Context, limit int) ([]models.Trace, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handle, input, output, message_type, status, started_at, ended_at
		 FROM traces ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent traces: %w", err)
	}
	defer rows.Close()

	var traces []models.Trace
	for rows.Next() {
		var (
			tr      models.Trace
			msgType string
			status  string
			endedAt sql.NullTime
		)
		if err := rows.Scan(&tr.ID, &tr.Handle, &tr.Input, &tr.Output,
			&msgType, &status, &tr.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		tr.MessageType = models.MessageType(msgType)
		tr.Status = models.TraceStatus(status)
		if endedAt.Valid {
			t := endedAt.Time
			tr.EndedAt = &t
		}
		traces = append(traces, tr)
	}
	return traces, rows.Err()
}

func (s *Store) GetTraceScores(ctx context.Context, traceID string) ([]models.Score, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, span_id, name, value, source, comment, created_at
		 FROM trace_scores WHERE trace_id = $1 ORDER BY created_at`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trace scores: %w", err)
	}
	defer rows.Close()

	var scores []models.Score
	for rows.Next() {
		var (
			sc     models.Score
			spanID sql.NullString
			source string
		)
		if err := rows.Scan(&sc.TraceID, &spanID, &sc.Name, &sc.Value,
			&source, &sc.Comment, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		sc.Source = models.ScoreSource(source)
		if spanID.Valid {
			id := spanID.String
			sc.SpanID = &id
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

func (s *Store) DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM trace_scores WHERE trace_id IN (SELECT id FROM traces WHERE started_at < $1)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete old scores: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM trace_spans WHERE trace_id IN (SELECT id FROM traces WHERE started_at < $1)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete old spans: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old traces: %w", err)
	}
	return res.RowsAffected()
}

// --- eval dataset ---

func (s *Store) AddDatasetEntry(ctx context.Context, entry *models.EvalDatasetEntry) (int64, error) {
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return 0, err
	}
	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO eval_dataset (trace_id, entry_type, input, output, expected_output, tags, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		entry.TraceID, string(entry.EntryType), entry.Input, entry.Output, entry.ExpectedOutput,
		string(tags), meta, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add dataset entry: %w", err)
	}
	return id, nil
}

func (s *Store) AddDatasetTags(ctx context.Context, entryID int64, tags []string) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT tags FROM eval_dataset WHERE id = $1`, entryID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load dataset entry: %w", err)
	}
	var existing []string
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		existing = nil
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range tags {
		if !seen[t] {
			existing = append(existing, t)
			seen[t] = true
		}
	}
	merged, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE eval_dataset SET tags = $1 WHERE id = $2`, string(merged), entryID)
	return err
}

func (s *Store) GetDatasetStats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_type, COUNT(*) FROM eval_dataset GROUP BY entry_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		stats[typ] = n
	}
	return stats, rows.Err()
}

// --- prompt versions ---

func (s *Store) SavePromptVersion(ctx context.Context, pv *models.PromptVersion) (int64, error) {
	version := pv.Version
	if version == 0 {
		err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE prompt_name = $1`,
			pv.PromptName).Scan(&version)
		if err != nil {
			return 0, fmt.Errorf("failed to compute next version: %w", err)
		}
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO prompt_versions (prompt_name, version, content, is_active, created_by, created_at)
		 VALUES ($1, $2, $3, FALSE, $4, $5) RETURNING id`,
		pv.PromptName, version, pv.Content, pv.CreatedBy, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save prompt version: %w", err)
	}
	pv.Version = version
	return id, nil
}

func (s *Store) GetActivePrompt(ctx context.Context, name string) (*models.PromptVersion, error) {
	return s.scanPrompt(ctx,
		`SELECT id, prompt_name, version, content, is_active, created_by, approved_at, created_at
		 FROM prompt_versions WHERE prompt_name = $1 AND is_active`, name)
}

func (s *Store) GetPromptVersion(ctx context.Context, name string, version int) (*models.PromptVersion, error) {
	return s.scanPrompt(ctx,
		`SELECT id, prompt_name, version, content, is_active, created_by, approved_at, created_at
		 FROM prompt_versions WHERE prompt_name = $1 AND version = $2`, name, version)
}

func (s *Store) scanPrompt(ctx context.Context, query string, args ...any) (*models.PromptVersion, error) {
	var pv models.PromptVersion
	var approved sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&pv.ID, &pv.PromptName, &pv.Version, &pv.Content, &pv.IsActive, &pv.CreatedBy, &approved, &pv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt version: %w", err)
	}
	if approved.Valid {
		t := approved.Time
		pv.ApprovedAt = &t
	}
	return &pv, nil
}

func (s *Store) ListPromptVersions(ctx context.Context, name string) ([]models.PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt_name, version, content, is_active, created_by, approved_at, created_at
		 FROM prompt_versions WHERE prompt_name = $1 ORDER BY version`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt versions: %w", err)
	}
	defer rows.Close()

	var out []models.PromptVersion
	for rows.Next() {
		var pv models.PromptVersion
		var approved sql.NullTime
		if err := rows.Scan(&pv.ID, &pv.PromptName, &pv.Version, &pv.Content, &pv.IsActive, &pv.CreatedBy, &approved, &pv.CreatedAt); err != nil {
			return nil, err
		}
		if approved.Valid {
			t := approved.Time
			pv.ApprovedAt = &t
		}
		out = append(out, pv)
	}
	return out, rows.Err()
}

func (s *Store) ActivatePromptVersion(ctx context.Context, name string, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin activation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE prompt_versions SET is_active = FALSE WHERE prompt_name = $1`, name); err != nil {
		return fmt.Errorf("failed to deactivate previous version: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE prompt_versions SET is_active = TRUE, approved_at = $1 WHERE prompt_name = $2 AND version = $3`,
		time.Now().UTC(), name, version)
	if err != nil {
		return fmt.Errorf("failed to activate version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

// --- cron jobs ---

func (s *Store) AddCronJob(ctx context.Context, job *models.CronJob) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO cron_jobs (handle, schedule, message, active, created_at) VALUES ($1, $2, $3, TRUE, $4) RETURNING id`,
		job.Handle, job.Schedule, job.Message, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add cron job: %w", err)
	}
	return id, nil
}

func (s *Store) ListCronJobs(ctx context.Context, handle string) ([]models.CronJob, error) {
	return s.scanCronJobs(ctx,
		`SELECT id, handle, schedule, message, active, created_at FROM cron_jobs WHERE handle = $1 ORDER BY id`, handle)
}

func (s *Store) GetActiveCronJobs(ctx context.Context) ([]models.CronJob, error) {
	return s.scanCronJobs(ctx,
		`SELECT id, handle, schedule, message, active, created_at FROM cron_jobs WHERE active ORDER BY id`)
}

func (s *Store) scanCronJobs(ctx context.Context, query string, args ...any) ([]models.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cron jobs: %w", err)
	}
	defer rows.Close()

	var out []models.CronJob
	for rows.Next() {
		var j models.CronJob
		if err := rows.Scan(&j.ID, &j.Handle, &j.Schedule, &j.Message, &j.Active, &j.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) SetCronJobActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE cron_jobs SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update cron job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCronJob(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cron job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(raw), nil
}
