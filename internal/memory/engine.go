package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Engine is the local sqlite memory backend.
type Engine struct {
	db *sql.DB
	mu sync.Mutex

	extractor  Extractor
	extractMu  sync.Mutex
	extracting map[string]bool
	extractWg  sync.WaitGroup
}

var _ Gateway = (*Engine)(nil)

func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db, extracting: map[string]bool{}}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

// SetExtractor installs the conversation extractor used by auto-extract.
func (e *Engine) SetExtractor(x Extractor) {
	e.extractMu.Lock()
	defer e.extractMu.Unlock()
	e.extractor = x
}

// Close waits for running extractions and closes the database.
func (e *Engine) Close() error {
	e.extractWg.Wait()
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_type ON memories(user_id, memory_type, id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(user_id, category)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			content='memories',
			content_rowid='id',
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.id, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.id, old.content);
			INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TABLE IF NOT EXISTS preferences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(user_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			extracted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_pending ON conversations(user_id, extracted, id)`,
		`CREATE TABLE IF NOT EXISTS auto_extract (
			user_id TEXT PRIMARY KEY,
			trigger_type TEXT NOT NULL,
			threshold INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}

	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// AddMemory stores a record. Preferences additionally upsert the
// preference table from metadata "key" and "value".
func (e *Engine) AddMemory(ctx context.Context, userID, content, memoryType string, metadata map[string]any) error {
	if err := checkType(memoryType); err != nil {
		return err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("add memory: empty content")
	}

	if memoryType == TypePreference {
		key, value := preferenceFromMetadata(content, metadata)
		if key == "" {
			return fmt.Errorf("add memory: preference needs a metadata key")
		}
		if err := e.SetPreference(ctx, userID, key, value); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insertMemory(ctx, e.db, userID, memoryType, content, metadata)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (e *Engine) insertMemory(ctx context.Context, x execer, userID, memoryType, content string, metadata map[string]any) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	category := ""
	if c, ok := metadata["category"].(string); ok {
		category = strings.TrimSpace(c)
	}
	_, err = x.ExecContext(ctx, `
		INSERT INTO memories (user_id, memory_type, category, content, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, userID, memoryType, category, content, meta)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (e *Engine) SetPreference(ctx context.Context, userID, key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, userID, strings.TrimSpace(key), strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

func (e *Engine) GetPreferences(ctx context.Context, userID string) ([]Preference, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT key, value FROM preferences WHERE user_id = ? ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	result := make([]Preference, 0)
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return result, nil
}

// GetFacts returns the newest facts first. An empty category matches all.
func (e *Engine) GetFacts(ctx context.Context, userID, category string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, memory_type, content, metadata, created_at FROM memories WHERE user_id = ? AND memory_type = ?`
	args := []any{userID, TypeFact}
	if c := strings.TrimSpace(category); c != "" {
		q += ` AND category = ?`
		args = append(args, c)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (e *Engine) GetEpisodes(ctx context.Context, userID string, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := e.db.QueryContext(ctx, `
		SELECT content, created_at FROM memories
		WHERE user_id = ? AND memory_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, userID, TypeEpisodic, limit)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	result := make([]Episode, 0)
	for rows.Next() {
		var ep Episode
		if err := rows.Scan(&ep.Content, &ep.Timestamp); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		result = append(result, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return result, nil
}

func (e *Engine) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	p := &UserProfile{UserID: userID}
	row := e.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN memory_type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN memory_type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN memory_type = ? THEN 1 ELSE 0 END), 0)
		FROM memories WHERE user_id = ?
	`, TypeDocument, TypeFact, TypeEpisodic, userID)
	if err := row.Scan(&p.DocumentsCount, &p.FactsCount, &p.EpisodesCount); err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM preferences WHERE user_id = ?`, userID).Scan(&p.PreferencesCount); err != nil {
		return nil, fmt.Errorf("count preferences: %w", err)
	}
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE user_id = ?`, userID).Scan(&p.MessagesCount); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return p, nil
}

// AppendConversation stores the messages of one turn and kicks off
// extraction once enough unextracted messages have accumulated.
func (e *Engine) AppendConversation(ctx context.Context, userID, sessionID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	e.mu.Lock()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("begin append: %w", err)
	}
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (user_id, session_id, role, content) VALUES (?, ?, ?, ?)
		`, userID, sessionID, strings.TrimSpace(m.Role), m.Content); err != nil {
			_ = tx.Rollback()
			e.mu.Unlock()
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("commit append: %w", err)
	}
	e.mu.Unlock()

	e.maybeExtract(ctx, userID)
	return nil
}

func (e *Engine) EnableAutoExtract(ctx context.Context, userID, trigger string, threshold int) error {
	trigger = strings.TrimSpace(trigger)
	if trigger != "message_count" {
		return fmt.Errorf("enable auto extract: unsupported trigger %q", trigger)
	}
	if threshold <= 0 {
		return fmt.Errorf("enable auto extract: threshold must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO auto_extract (user_id, trigger_type, threshold) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET trigger_type = excluded.trigger_type, threshold = excluded.threshold, updated_at = datetime('now')
	`, userID, trigger, threshold)
	if err != nil {
		return fmt.Errorf("enable auto extract: %w", err)
	}
	return nil
}

func (e *Engine) autoExtractThreshold(ctx context.Context, userID string) (int, error) {
	var threshold int
	err := e.db.QueryRowContext(ctx, `SELECT threshold FROM auto_extract WHERE user_id = ?`, userID).Scan(&threshold)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query auto extract: %w", err)
	}
	return threshold, nil
}

func (e *Engine) pendingCount(ctx context.Context, userID string) (int, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE user_id = ? AND extracted = 0`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending messages: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	result := make([]Record, 0)
	for rows.Next() {
		var (
			r    Record
			id   int64
			meta string
		)
		if err := rows.Scan(&id, &r.Type, &r.Content, &meta, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		r.ID = strconv.FormatInt(id, 10)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return result, nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func preferenceFromMetadata(content string, metadata map[string]any) (string, string) {
	key, _ := metadata["key"].(string)
	key = strings.TrimSpace(key)
	value := content
	if v, ok := metadata["value"]; ok && v != nil {
		value = fmt.Sprint(v)
	}
	return key, value
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}
