// Package session keeps the small key/value state a messaging backend needs
// to resume after a restart, such as the Matrix sync token.
package session

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
)

// Well-known keys.
const (
	KeyNextBatch = "matrix.next_batch"
	KeyFilterID  = "matrix.filter_id"
	KeySelfID    = "self_id"
)

// Backend persists the whole key/value set at once.
type Backend interface {
	// Load returns the saved values, or an empty map when nothing was saved.
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
}

// Store is an in-memory view of the session backed by a Backend. It is safe
// for concurrent use.
type Store struct {
	mu      sync.Mutex
	saveMu  sync.Mutex
	values  map[string]string
	dirty   bool
	backend Backend
	logger  *slog.Logger
}

func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		values:  map[string]string{},
		backend: backend,
		logger:  logger.With("component", "session"),
	}
}

// Load replaces the in-memory values with the persisted ones. Unlike
// history, a broken session is an error: resuming from a wrong sync token
// would replay or skip messages.
func (s *Store) Load(ctx context.Context) error {
	values, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}
	if values == nil {
		values = map[string]string{}
	}
	s.mu.Lock()
	s.values = values
	s.dirty = false
	s.mu.Unlock()
	s.logger.Debug("session loaded", "keys", len(values))
	return nil
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.values[key]; ok && old == value {
		return
	}
	s.values[key] = value
	s.dirty = true
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// Keys returns the stored keys, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save persists the values if they changed since the last Load or Save.
func (s *Store) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := maps.Clone(s.values)
	s.dirty = false
	s.mu.Unlock()

	if err := s.backend.Save(ctx, snapshot); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	s.logger.Debug("session saved", "keys", len(snapshot))
	return nil
}
