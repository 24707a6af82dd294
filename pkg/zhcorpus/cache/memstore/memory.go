// Package memstore is an in-memory cache.Manifest for tests and for runs
// that keep no manifest on disk.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/cache"
)

// Store is an in-memory implementation of cache.Manifest.
type Store struct {
	mu     sync.RWMutex
	stages map[string][]cache.Entry
}

// New creates an empty store.
func New() *Store {
	return &Store{stages: make(map[string][]cache.Entry)}
}

// Close implements cache.Manifest.
func (s *Store) Close() error { return nil }

// Entries implements cache.Manifest.
func (s *Store) Entries(ctx context.Context, stage string) ([]cache.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []cache.Entry
	if stage != "" {
		out = slices.Clone(s.stages[stage])
	} else {
		for _, entries := range s.stages {
			out = append(out, entries...)
		}
	}
	slices.SortFunc(out, func(a, b cache.Entry) int {
		if c := strings.Compare(a.Stage, b.Stage); c != 0 {
			return c
		}
		return strings.Compare(a.Artifact, b.Artifact)
	})
	return out, nil
}

// Replace implements cache.Manifest.
func (s *Store) Replace(ctx context.Context, stage string, entries []cache.Entry) error {
	for _, e := range entries {
		if e.Stage != stage {
			return fmt.Errorf("artifact %s belongs to stage %s, not %s", e.Artifact, e.Stage, stage)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(entries) == 0 {
		delete(s.stages, stage)
		return nil
	}
	s.stages[stage] = slices.Clone(entries)
	return nil
}

// Delete implements cache.Manifest.
func (s *Store) Delete(ctx context.Context, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.stages, stage)
	return nil
}
