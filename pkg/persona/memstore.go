package persona

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemStore is an in-process ConfigStore + StoryStore, usually seeded from a
// YAML fixture. It is the default backing for single-process runs and tests;
// production deployments swap in the SurrealDB store.
type MemStore struct {
	mu         sync.RWMutex
	identities map[string]Identity
	configs    []SemanticConfig
	stories    map[string][]LifeStory
}

// fixture mirrors the personas.yml layout.
type fixture struct {
	Personas []Identity       `yaml:"personas"`
	Configs  []SemanticConfig `yaml:"configs"`
	Stories  []LifeStory      `yaml:"stories"`
}

func NewMemStore() *MemStore {
	return &MemStore{
		identities: make(map[string]Identity),
		stories:    make(map[string][]LifeStory),
	}
}

// LoadMemStore reads a YAML fixture file into a fresh MemStore.
func LoadMemStore(path string) (*MemStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona fixture: %w", err)
	}

	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse persona fixture: %w", err)
	}

	s := NewMemStore()
	for _, id := range f.Personas {
		s.PutIdentity(id)
	}
	for _, cfg := range f.Configs {
		s.PutSemanticConfig(cfg)
	}
	for _, story := range f.Stories {
		s.PutStory(story)
	}
	return s, nil
}

func (s *MemStore) PutIdentity(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id.ID] = id
}

func (s *MemStore) PutSemanticConfig(cfg SemanticConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// At most one config per (persona, organization) pair.
	for i, existing := range s.configs {
		if existing.PersonaName == cfg.PersonaName && existing.OrganizationID == cfg.OrganizationID {
			s.configs[i] = cfg
			return
		}
	}
	s.configs = append(s.configs, cfg)
}

func (s *MemStore) PutStory(story LifeStory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stories[story.PersonaID] = append(s.stories[story.PersonaID], story)
}

func (s *MemStore) GetIdentity(_ context.Context, personaID string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[personaID]
	if !ok {
		return nil, ErrNotFound
	}
	return &id, nil
}

// GetSemanticConfig resolves the org-scoped config first, then the global
// fallback (empty organization).
func (s *MemStore) GetSemanticConfig(_ context.Context, personaName, organizationID string) (*SemanticConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if organizationID != "" {
		for _, cfg := range s.configs {
			if cfg.PersonaName == personaName && cfg.OrganizationID == organizationID {
				c := cfg
				return &c, nil
			}
		}
	}
	for _, cfg := range s.configs {
		if cfg.PersonaName == personaName && cfg.OrganizationID == "" {
			c := cfg
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// GetLifeStories returns active stories only.
func (s *MemStore) GetLifeStories(_ context.Context, personaID string) ([]LifeStory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []LifeStory
	for _, story := range s.stories[personaID] {
		if story.Active {
			active = append(active, story)
		}
	}
	return active, nil
}
