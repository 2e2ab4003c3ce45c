package persona

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a persona or config doesn't exist.
// Callers degrade (fallback identity, no anecdotes) rather than failing the
// turn.
var ErrNotFound = errors.New("persona: not found")

// ConfigStore resolves persona identities and semantic configs. An empty
// organizationID means the global fallback config.
type ConfigStore interface {
	GetIdentity(ctx context.Context, personaID string) (*Identity, error)
	GetSemanticConfig(ctx context.Context, personaName, organizationID string) (*SemanticConfig, error)
}

// StoryStore returns a persona's active anecdote library.
type StoryStore interface {
	GetLifeStories(ctx context.Context, personaID string) ([]LifeStory, error)
}
