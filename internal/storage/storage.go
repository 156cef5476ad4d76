// Package storage is the typed SQL persistence layer (C1). It holds no
// business logic: callers get a connection-pooled Store, an idempotent
// schema migration on startup, and typed CRUD for the five relational
// tables of §3. Everything above "how do I get this row in and out of
// Postgres" belongs in internal/cache and internal/services instead.
//
// Grounded on l7n102031-go-agent-memory/supabase.go's pgxpool + raw-SQL
// pattern (connection setup, idempotent CREATE TABLE IF NOT EXISTS
// schema init, JSON-marshalled auxiliary columns) adapted from its
// single agent_messages/agent_summaries pair to this domain's five
// tables. PersonaTokenUsage (§3) has no table of its own: it is a 1:1
// extension of a persona row (prompt_tokens/completion_tokens/
// total_tokens columns on personas), folding six entities into the
// five tables §4.1 names.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telebot-agent/chatengine/internal/errs"
	"github.com/telebot-agent/chatengine/internal/types"
)

// Store wraps a Postgres connection pool with typed row CRUD.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL, runs the idempotent schema migration,
// and returns a ready Store. A failure to connect is structural (abort
// startup); once connected, a failed migration is also structural.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for the sync engine to run its
// single per-cycle transaction against.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id BIGINT PRIMARY KEY,
			api_key TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			temperature DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			token_limit BIGINT NOT NULL DEFAULT 0,
			current_persona TEXT NOT NULL DEFAULT 'default',
			enabled_tools JSONB NOT NULL DEFAULT '{}',
			title_model TEXT NOT NULL DEFAULT '',
			tts_voice TEXT NOT NULL DEFAULT '',
			tts_style TEXT NOT NULL DEFAULT '',
			tts_endpoint TEXT NOT NULL DEFAULT '',
			api_presets JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS personas (
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			current_session_id BIGINT NOT NULL DEFAULT 0,
			prompt_tokens BIGINT NOT NULL DEFAULT 0,
			completion_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_personas_user ON personas (user_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			persona_name TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_persona ON sessions (user_id, persona_name)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			session_id BIGINT NOT NULL,
			seq BIGSERIAL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversation_messages (session_id)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			embedding TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories (user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- UserSettings ---

func (s *Store) UpsertUserSettings(ctx context.Context, tx pgx.Tx, us *types.UserSettings) error {
	enabledTools, err := json.Marshal(us.EnabledTools)
	if err != nil {
		return err
	}
	presets, err := json.Marshal(us.APIPresets)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_settings
			(user_id, api_key, base_url, model, temperature, token_limit,
			 current_persona, enabled_tools, title_model, tts_voice,
			 tts_style, tts_endpoint, api_presets)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (user_id) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			base_url = EXCLUDED.base_url,
			model = EXCLUDED.model,
			temperature = EXCLUDED.temperature,
			token_limit = EXCLUDED.token_limit,
			current_persona = EXCLUDED.current_persona,
			enabled_tools = EXCLUDED.enabled_tools,
			title_model = EXCLUDED.title_model,
			tts_voice = EXCLUDED.tts_voice,
			tts_style = EXCLUDED.tts_style,
			tts_endpoint = EXCLUDED.tts_endpoint,
			api_presets = EXCLUDED.api_presets
	`, us.UserID, us.APIKey, us.BaseURL, us.Model, us.Temperature, us.TokenLimit,
		us.CurrentPersona, enabledTools, us.TitleModel, us.TTSVoice,
		us.TTSStyle, us.TTSEndpoint, presets)
	return err
}

func (s *Store) GetUserSettings(ctx context.Context, userID int64) (*types.UserSettings, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, api_key, base_url, model, temperature, token_limit,
		       current_persona, enabled_tools, title_model, tts_voice,
		       tts_style, tts_endpoint, api_presets
		FROM user_settings WHERE user_id = $1
	`, userID)

	var us types.UserSettings
	var enabledTools, presets []byte
	if err := row.Scan(&us.UserID, &us.APIKey, &us.BaseURL, &us.Model, &us.Temperature,
		&us.TokenLimit, &us.CurrentPersona, &enabledTools, &us.TitleModel,
		&us.TTSVoice, &us.TTSStyle, &us.TTSEndpoint, &presets); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(enabledTools, &us.EnabledTools)
	_ = json.Unmarshal(presets, &us.APIPresets)
	return &us, nil
}

func (s *Store) ListAllUserSettings(ctx context.Context) ([]*types.UserSettings, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM user_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	var out []*types.UserSettings
	for _, id := range ids {
		us, err := s.GetUserSettings(ctx, id)
		if err != nil {
			return nil, err
		}
		if us != nil {
			out = append(out, us)
		}
	}
	return out, nil
}

// --- Personas ---

func (s *Store) UpsertPersona(ctx context.Context, tx pgx.Tx, p *types.Persona) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO personas (user_id, name, system_prompt, current_session_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, name) DO UPDATE SET
			system_prompt = EXCLUDED.system_prompt,
			current_session_id = EXCLUDED.current_session_id
	`, p.UserID, p.Name, p.SystemPrompt, p.CurrentSessionID)
	return err
}

func (s *Store) DeletePersona(ctx context.Context, tx pgx.Tx, userID int64, name string) error {
	_, err := tx.Exec(ctx, `DELETE FROM personas WHERE user_id = $1 AND name = $2`, userID, name)
	return err
}

func (s *Store) GetPersonas(ctx context.Context, userID int64) ([]*types.Persona, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, name, system_prompt, current_session_id
		FROM personas WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Persona
	for rows.Next() {
		var p types.Persona
		if err := rows.Scan(&p.UserID, &p.Name, &p.SystemPrompt, &p.CurrentSessionID); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// validateTokenInvariant checks §3's PersonaTokenUsage invariant:
// total = prompt + completion.
func validateTokenInvariant(t *types.PersonaTokenUsage) error {
	if t.TotalTokens != t.PromptTokens+t.CompletionTokens {
		return errs.SchemaInvariantViolated("total_tokens != prompt+completion", nil)
	}
	return nil
}

func (s *Store) UpsertPersonaTokens(ctx context.Context, tx pgx.Tx, t *types.PersonaTokenUsage) error {
	if err := validateTokenInvariant(t); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE personas SET prompt_tokens = $3, completion_tokens = $4, total_tokens = $5
		WHERE user_id = $1 AND name = $2
	`, t.UserID, t.PersonaName, t.PromptTokens, t.CompletionTokens, t.TotalTokens)
	return err
}

// --- Sessions ---

// InsertSession inserts a new session row and returns its DB-assigned id.
func (s *Store) InsertSession(ctx context.Context, tx pgx.Tx, sess *types.Session) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO sessions (user_id, persona_name, title, created_at)
		VALUES ($1,$2,$3,$4) RETURNING id
	`, sess.UserID, sess.PersonaName, sess.Title, sess.CreatedAt).Scan(&id)
	return id, err
}

func (s *Store) UpdateSessionTitle(ctx context.Context, tx pgx.Tx, sessionID int64, title string) error {
	_, err := tx.Exec(ctx, `UPDATE sessions SET title = $2 WHERE id = $1`, sessionID, title)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, tx pgx.Tx, sessionID int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM conversation_messages WHERE session_id = $1`, sessionID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	return err
}

func (s *Store) GetSessions(ctx context.Context, userID int64, personaName string) ([]*types.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, persona_name, title, created_at
		FROM sessions WHERE user_id = $1 AND persona_name = $2
		ORDER BY created_at ASC
	`, userID, personaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		var sess types.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.PersonaName, &sess.Title, &sess.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// ConversationLength returns the number of persisted rows for a
// session, used by the sync engine to decide which in-memory messages
// are already durable.
func (s *Store) ConversationLength(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM conversation_messages WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

// ClearConversationMessages deletes every persisted row for a session,
// for /clear: the sync engine runs this before re-inserting whatever
// the cache holds after the clear.
func (s *Store) ClearConversationMessages(ctx context.Context, tx pgx.Tx, sessionID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM conversation_messages WHERE session_id = $1`, sessionID)
	return err
}

func (s *Store) InsertConversationMessage(ctx context.Context, tx pgx.Tx, m *types.ConversationMessage) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO conversation_messages (session_id, role, content, created_at)
		VALUES ($1,$2,$3,$4)
	`, m.SessionID, string(m.Role), m.Content, m.CreatedAt)
	return err
}

func (s *Store) GetConversation(ctx context.Context, sessionID int64) ([]*types.ConversationMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, role, content, created_at
		FROM conversation_messages WHERE session_id = $1
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.ConversationMessage
	for rows.Next() {
		var m types.ConversationMessage
		var role string
		if err := rows.Scan(&m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = types.Role(role)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Memories ---

func (s *Store) InsertMemory(ctx context.Context, tx pgx.Tx, m *types.Memory) (int64, error) {
	var embedding *string
	if m.HasEmbedding() {
		buf, err := json.Marshal(m.Embedding)
		if err != nil {
			return 0, err
		}
		str := string(buf)
		embedding = &str
	}

	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO memories (user_id, content, source, embedding, created_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id
	`, m.UserID, m.Content, string(m.Source), embedding, m.CreatedAt).Scan(&id)
	return id, err
}

func (s *Store) DeleteMemory(ctx context.Context, tx pgx.Tx, memoryID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM memories WHERE id = $1`, memoryID)
	return err
}

func (s *Store) ClearMemories(ctx context.Context, tx pgx.Tx, userID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM memories WHERE user_id = $1`, userID)
	return err
}

func (s *Store) GetMemories(ctx context.Context, userID int64) ([]*types.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, content, source, embedding, created_at
		FROM memories WHERE user_id = $1 ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		var m types.Memory
		var source string
		var embedding *string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &source, &embedding, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Source = types.MemorySource(source)
		if embedding != nil {
			_ = json.Unmarshal([]byte(*embedding), &m.Embedding)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// BeginTx starts the single transaction a sync cycle runs all of its
// writes through.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// Now returns time.Now(); nothing in this module calls it.
func Now() time.Time { return time.Now() }
