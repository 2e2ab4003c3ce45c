package session

import (
	"context"
	"sync"
)

// MemStore is the in-process Store. A global mutex guards the key map while
// each entry carries its own lock, so rapid double-submits on one
// conversation serialize without stalling unrelated conversations.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	mem Memory
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*entry)}
}

func (s *MemStore) entryFor(personaID, userID string) *entry {
	k := key(personaID, userID)

	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[k]; ok {
		return e
	}
	e = &entry{mem: Memory{UsedStoryIDs: make(map[string]bool)}}
	s.entries[k] = e
	return e
}

func (s *MemStore) Get(_ context.Context, personaID, userID string) (Memory, error) {
	e := s.entryFor(personaID, userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.mem), nil
}

func (s *MemStore) MarkUsed(_ context.Context, personaID, userID, storyID, tone string) error {
	e := s.entryFor(personaID, userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mem.UsedStoryIDs[storyID] = true
	e.mem.ToneHistory = append(e.mem.ToneHistory, tone)
	if len(e.mem.ToneHistory) > ToneHistoryLimit {
		e.mem.ToneHistory = e.mem.ToneHistory[len(e.mem.ToneHistory)-ToneHistoryLimit:]
	}
	return nil
}

func (s *MemStore) SetLastReply(_ context.Context, personaID, userID, reply string) error {
	e := s.entryFor(personaID, userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mem.LastReply = reply
	return nil
}

func (s *MemStore) Evict(_ context.Context, personaID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key(personaID, userID))
	return nil
}

// snapshot deep-copies a Memory so callers can't mutate shared state.
func snapshot(m Memory) Memory {
	out := Memory{
		UsedStoryIDs: make(map[string]bool, len(m.UsedStoryIDs)),
		ToneHistory:  append([]string(nil), m.ToneHistory...),
		LastReply:    m.LastReply,
	}
	for id := range m.UsedStoryIDs {
		out.UsedStoryIDs[id] = true
	}
	return out
}
