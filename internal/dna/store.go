// Package dna stores the design tokens ("design DNA") extracted for each
// project so later generation stages can stay visually consistent.
//
// Merging is last-extraction-wins per token name; a merge never removes
// tokens that are absent from the new extraction. Reading a project that has
// no tokens yet returns an empty mapping, which means "no constraints".
package dna

import (
	"context"
	"sync"

	"github.com/agentoven/uiforge/pkg/models"
)

// Store owns merge and read of design DNA. Extraction itself happens elsewhere.
type Store interface {
	// ExtractAndMerge merges tokens into the project's DNA and returns the
	// resulting full mapping.
	ExtractAndMerge(ctx context.Context, projectID string, tokens []models.DesignToken) (models.DesignDNA, error)

	// Read returns the current DNA, or an empty mapping when none exists.
	Read(ctx context.Context, projectID string) (models.DesignDNA, error)

	Kind() string
	Close() error
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]models.DesignDNA
}

// NewMemoryStore creates an empty in-memory DNA store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]models.DesignDNA),
	}
}

func (s *MemoryStore) Kind() string { return "memory" }

func (s *MemoryStore) ExtractAndMerge(_ context.Context, projectID string, tokens []models.DesignToken) (models.DesignDNA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.projects[projectID]
	if !ok {
		current = make(models.DesignDNA, len(tokens))
		s.projects[projectID] = current
	}
	for _, tok := range tokens {
		if tok.Name == "" {
			continue
		}
		current[tok.Name] = tok
	}

	return current.Clone(), nil
}

func (s *MemoryStore) Read(_ context.Context, projectID string) (models.DesignDNA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.projects[projectID].Clone(), nil
}

func (s *MemoryStore) Close() error { return nil }
