// Package session tracks short-term per-conversation state: which anecdotes
// a persona has already told a given user and the emotional tones of the
// last few replies. State is ephemeral by design; it lives for the process
// (in-memory store) or a TTL (redis store), never in durable storage.
package session

import "context"

// ToneHistoryLimit caps how many recent emotional tones are remembered per
// conversation. Oldest entries are evicted first.
const ToneHistoryLimit = 5

// Memory is a snapshot of one (persona, user) conversation's state. It is a
// value copy; mutations go through the Store.
type Memory struct {
	UsedStoryIDs map[string]bool `json:"used_story_ids"`
	ToneHistory  []string        `json:"tone_history"`
	LastReply    string          `json:"last_reply"`
}

// Used reports whether a story has already been told in this conversation.
func (m Memory) Used(storyID string) bool {
	return m.UsedStoryIDs[storyID]
}

// Store hands out and mutates conversation memories. Implementations must
// serialize access per key while letting distinct keys proceed in parallel.
type Store interface {
	// Get returns a snapshot for the (personaID, userID) key, lazily
	// creating empty state on first use. An empty userID means "anonymous".
	Get(ctx context.Context, personaID, userID string) (Memory, error)

	// MarkUsed records that a story was told and pushes its emotional tone,
	// capping the tone history at ToneHistoryLimit.
	MarkUsed(ctx context.Context, personaID, userID, storyID, tone string) error

	// SetLastReply remembers the most recent accepted assistant reply, used
	// by the exact-repetition audit check.
	SetLastReply(ctx context.Context, personaID, userID, reply string) error

	// Evict drops all state for a key.
	Evict(ctx context.Context, personaID, userID string) error
}

func key(personaID, userID string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return personaID + ":" + userID
}
