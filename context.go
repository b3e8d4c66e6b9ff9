package sedonadb

import (
	"context"
	"sync"
)

// queryStore tracks the cancel functions of in-flight queries.
type queryStore interface {
	add(queryID string, cancel context.CancelFunc)
	remove(queryID string)
	cancelAll() int
}

// ctxStore is a thread-safe implementation of queryStore using a queryID->cancel map.
type ctxStore struct {
	mu    sync.Mutex
	store map[string]context.CancelFunc
}

// newContextStore creates a new instance of ctxStore.
func newContextStore() *ctxStore {
	return &ctxStore{
		store: make(map[string]context.CancelFunc),
	}
}

func (s *ctxStore) add(queryID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[queryID] = cancel
}

func (s *ctxStore) remove(queryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, queryID)
}

// cancelAll cancels every registered query and returns how many there were.
func (s *ctxStore) cancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.store)
	for id, cancel := range s.store {
		cancel()
		delete(s.store, id)
	}
	return n
}

func (s *ctxStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.store)
}
