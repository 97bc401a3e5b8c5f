package brain

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when an item id does not exist.
var ErrNotFound = errors.New("knowledge item not found")

// Item is one stored piece of knowledge owned by an agent.
type Item struct {
	ID               string            `json:"id"`
	AgentID          string            `json:"agent_id"`
	Topic            string            `json:"topic"`
	RawContent       string            `json:"raw_content"`
	FormattedContent string            `json:"formatted_content"`
	ContentType      string            `json:"content_type"`
	Embedding        []float32         `json:"-"`
	Keywords         []string          `json:"keywords"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	IsActive         bool              `json:"is_active"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Topic is a lightweight index entry for authoring tools.
type Topic struct {
	ID          string `json:"id"`
	Topic       string `json:"topic"`
	ContentType string `json:"content_type"`
}

// ItemStore is the persistence the retriever needs.
type ItemStore interface {
	Insert(item *Item) error
	ActiveItems(agentID string) ([]Item, error)
	ListTopics(agentID string) ([]Topic, error)
	SetActive(id string, active bool) error
}

// Store persists knowledge items in SQLite. Embeddings are stored as
// little-endian float32 blobs.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a knowledge database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates a store on an existing connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_items (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			raw_content TEXT NOT NULL,
			formatted_content TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text',
			embedding BLOB,
			keywords TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_agent ON knowledge_items(agent_id, is_active);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores item, assigning an id and timestamps when unset.
func (s *Store) Insert(item *Item) error {
	if item.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		item.ID = id.String()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}

	keywords, err := json.Marshal(item.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO knowledge_items (id, agent_id, topic, raw_content, formatted_content,
			content_type, embedding, keywords, metadata, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.AgentID, item.Topic, item.RawContent, item.FormattedContent,
		item.ContentType, encodeEmbedding(item.Embedding), string(keywords), string(metadata),
		item.IsActive, item.CreatedAt.Format(time.RFC3339), item.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// Get returns one item by id, active or not.
func (s *Store) Get(id string) (*Item, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_id, topic, raw_content, formatted_content, content_type,
			embedding, keywords, metadata, is_active, created_at, updated_at
		FROM knowledge_items WHERE id = ?
	`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// ActiveItems returns every active item for agentID in insertion order.
func (s *Store) ActiveItems(agentID string) ([]Item, error) {
	rows, err := s.db.Query(`
		SELECT id, agent_id, topic, raw_content, formatted_content, content_type,
			embedding, keywords, metadata, is_active, created_at, updated_at
		FROM knowledge_items
		WHERE agent_id = ? AND is_active = 1
		ORDER BY created_at, id
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListTopics returns the active topics for agentID ordered by topic.
func (s *Store) ListTopics(agentID string) ([]Topic, error) {
	rows, err := s.db.Query(`
		SELECT id, topic, content_type FROM knowledge_items
		WHERE agent_id = ? AND is_active = 1
		ORDER BY topic COLLATE NOCASE, id
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Topic, &t.ContentType); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// SetActive flips the active flag of an item.
func (s *Store) SetActive(id string, active bool) error {
	res, err := s.db.Exec(`UPDATE knowledge_items SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (*Item, error) {
	var (
		item                 Item
		embedding            []byte
		keywords, metadata   string
		createdAt, updatedAt string
	)
	err := sc.Scan(&item.ID, &item.AgentID, &item.Topic, &item.RawContent, &item.FormattedContent,
		&item.ContentType, &embedding, &keywords, &metadata, &item.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.Embedding = decodeEmbedding(embedding)
	if err := json.Unmarshal([]byte(keywords), &item.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", item.ID, err)
	}
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &item, nil
}

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	result := make([]float32, len(data)/4)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return result
}
