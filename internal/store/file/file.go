// Package file is the local fallback backend: one JSON file per record
// kind, each a mapping from opaque key to record.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yerzhan-dev/manybot/internal/store"
)

type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Put(ctx context.Context, kind store.Kind, key string, rec []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read(kind)
	if err != nil {
		return err
	}

	recs[key] = json.RawMessage(rec)
	return s.write(kind, recs)
}

func (s *Store) Get(ctx context.Context, kind store.Kind, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read(kind)
	if err != nil {
		return nil, err
	}

	rec, ok := recs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, kind store.Kind) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read(kind)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(recs))
	for key, rec := range recs {
		out[key] = rec
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, kind store.Kind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read(kind)
	if err != nil {
		return err
	}

	if _, ok := recs[key]; !ok {
		return store.ErrNotFound
	}

	delete(recs, key)
	return s.write(kind, recs)
}

func (s *Store) read(kind store.Kind) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path(kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("failed to read %s collection: %w", kind, err)
	}

	recs := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("failed to parse %s collection: %w", kind, err)
	}
	return recs, nil
}

func (s *Store) write(kind store.Kind, recs map[string]json.RawMessage) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s collection: %w", kind, err)
	}

	if err := os.WriteFile(s.path(kind), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s collection: %w", kind, err)
	}
	return nil
}

func (s *Store) path(kind store.Kind) string {
	return filepath.Join(s.dir, string(kind)+".json")
}
