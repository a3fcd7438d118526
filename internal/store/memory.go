package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// MemoryStore is an in-memory Repository for tests. Save deep-copies the
// document through JSON so later mutations by the caller cannot leak into
// the stored state.
type MemoryStore struct {
	mu    sync.Mutex
	doc   []byte
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, os.ErrNotExist
	}
	var doc Document
	if err := json.Unmarshal(m.doc, &doc); err != nil {
		return nil, &ValidationError{Field: "document", Detail: err.Error()}
	}
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (m *MemoryStore) Save(ctx context.Context, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal session document: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = data
	m.saves++
	return nil
}

// Saves reports how many commits have been made.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
