// Package session persists conversation sessions and their message logs.
//
// The conversation engine reads a session before a turn and writes it
// back after; nothing in between touches storage. Save replaces the
// message log wholesale because summarization rewrites it.
package session

import (
	"errors"
	"sync"

	"github.com/nugget/stagehand/internal/memory"
	"github.com/nugget/stagehand/internal/workflow"
)

// ErrNotFound is returned by Load for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Store loads and saves sessions with their message logs.
type Store interface {
	Load(id string) (*workflow.Session, []memory.Message, error)
	Save(sess *workflow.Session, messages []memory.Message) error
	Delete(id string) error
}

type memoryRecord struct {
	sess     *workflow.Session
	messages []memory.Message
}

// MemoryStore is an in-process [Store]. It copies on the way in and out
// so callers never share state with it.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

// Load implements [Store].
func (s *MemoryStore) Load(id string) (*workflow.Session, []memory.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return rec.sess.Clone(), append([]memory.Message(nil), rec.messages...), nil
}

// Save implements [Store].
func (s *MemoryStore) Save(sess *workflow.Session, messages []memory.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[sess.ID] = memoryRecord{
		sess:     sess.Clone(),
		messages: append([]memory.Message(nil), messages...),
	}
	return nil
}

// Delete implements [Store]. Deleting an unknown id is not an error.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}
