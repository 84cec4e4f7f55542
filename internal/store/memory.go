package store

import (
	"context"
	"sync"
)

// Memory is the map-backed driver. It honors the full Store contract,
// including the change feed, and doubles as the test double for everything
// that takes a Store.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]Document
	closed bool

	feed *feed
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: map[string]Document{},
		feed: newFeed(),
	}
}

func (m *Memory) Get(_ context.Context, path string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *Memory) Set(_ context.Context, path string, doc Document) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, existed := m.docs[path]
	stored := normalizeForJSON(doc).Clone()
	m.docs[path] = stored
	m.mu.Unlock()

	m.emit(path, existed, stored)
	return nil
}

func (m *Memory) Merge(_ context.Context, path string, patch Document) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	base, existed := m.docs[path]
	merged := mergeDocs(base.Clone(), patch)
	m.docs[path] = merged
	m.mu.Unlock()

	m.emit(path, existed, merged)
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, existed := m.docs[path]
	delete(m.docs, path)
	m.mu.Unlock()

	if existed {
		collection, id := SplitPath(path)
		m.feed.publish(collection, Event{Type: Removed, Path: path, ID: id})
	}
	return nil
}

func (m *Memory) List(_ context.Context, collection string) (map[string]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := map[string]Document{}
	for path, doc := range m.docs {
		if c, id := SplitPath(path); c == collection {
			out[id] = doc.Clone()
		}
	}
	return out, nil
}

func (m *Memory) Watch(collection string) (<-chan Event, func(), error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, nil, ErrClosed
	}
	ch, unsub := m.feed.subscribe(collection, 0)
	return ch, unsub, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.feed.closeAll()
	return nil
}

func (m *Memory) emit(path string, existed bool, doc Document) {
	typ := Added
	if existed {
		typ = Modified
	}
	collection, id := SplitPath(path)
	m.feed.publish(collection, Event{Type: typ, Path: path, ID: id, Doc: doc.Clone()})
}
