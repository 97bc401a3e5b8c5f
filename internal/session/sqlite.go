package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/stagehand/internal/memory"
	"github.com/nugget/stagehand/internal/vars"
	"github.com/nugget/stagehand/internal/workflow"
)

// SQLiteStore is a [Store] backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a session database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			current_stage_id TEXT NOT NULL DEFAULT '',
			previous_stage_id TEXT NOT NULL DEFAULT '',
			variables TEXT NOT NULL DEFAULT '{}',
			stage_history TEXT NOT NULL DEFAULT '[]',
			summary TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_name TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			metadata TEXT,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements [Store].
func (s *SQLiteStore) Load(id string) (*workflow.Session, []memory.Message, error) {
	var (
		sess               workflow.Session
		variables, history string
		updatedAt          string
	)
	err := s.db.QueryRow(`
		SELECT id, agent_id, current_stage_id, previous_stage_id, variables, stage_history, summary, updated_at
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.AgentID, &sess.CurrentStageID, &sess.PreviousStageID,
		&variables, &history, &sess.Summary, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query session: %w", err)
	}

	sess.Variables = vars.Map{}
	if err := json.Unmarshal([]byte(variables), &sess.Variables); err != nil {
		return nil, nil, fmt.Errorf("decode variables: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &sess.StageHistory); err != nil {
		return nil, nil, fmt.Errorf("decode stage history: %w", err)
	}
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	messages, err := s.messages(id)
	if err != nil {
		return nil, nil, err
	}
	return &sess, messages, nil
}

func (s *SQLiteStore) messages(sessionID string) ([]memory.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, tool_name, tool_calls, metadata, timestamp
		FROM messages WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []memory.Message
	for rows.Next() {
		var (
			m                   memory.Message
			toolCalls, metadata sql.NullString
			ts                  string
		)
		if err := rows.Scan(&m.Role, &m.Content, &m.ToolName, &toolCalls, &metadata, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Save implements [Store]. The session row and its full message log are
// written in one transaction.
func (s *SQLiteStore) Save(sess *workflow.Session, messages []memory.Message) error {
	variables, err := json.Marshal(sess.Variables)
	if err != nil {
		return fmt.Errorf("encode variables: %w", err)
	}
	history := sess.StageHistory
	if history == nil {
		history = []string{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode stage history: %w", err)
	}
	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, agent_id, current_stage_id, previous_stage_id, variables, stage_history, summary, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			current_stage_id = excluded.current_stage_id,
			previous_stage_id = excluded.previous_stage_id,
			variables = excluded.variables,
			stage_history = excluded.stage_history,
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`, sess.ID, sess.AgentID, sess.CurrentStageID, sess.PreviousStageID,
		string(variables), string(historyJSON), sess.Summary, updatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (session_id, seq, role, content, tool_name, tool_calls, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range messages {
		toolCalls, err := nullJSON(m.ToolCalls, len(m.ToolCalls) > 0)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		metadata, err := nullJSON(m.Metadata, len(m.Metadata) > 0)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := stmt.Exec(sess.ID, i, m.Role, m.Content, m.ToolName, toolCalls, metadata,
			m.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete implements [Store].
func (s *SQLiteStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

func nullJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
