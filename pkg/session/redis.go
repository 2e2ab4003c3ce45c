package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an idle conversation's state survives in redis.
const DefaultTTL = 24 * time.Hour

// RedisStore keeps conversation state in redis with a sliding TTL, so memory
// is bounded without explicit eviction and survives process restarts.
// Read-modify-write cycles for a key are serialized through a local per-key
// mutex; a single responder process owns its conversations, so no cross-
// process locking is needed.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRedisStore(url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// NewRedisStoreWithClient wires an existing client, used by tests with
// miniredis.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *RedisStore) redisKey(personaID, userID string) string {
	k := "session:" + key(personaID, userID)
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) lockFor(k string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

func (s *RedisStore) load(ctx context.Context, k string) (Memory, error) {
	data, err := s.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return Memory{UsedStoryIDs: make(map[string]bool)}, nil
	}
	if err != nil {
		return Memory{}, err
	}

	var m Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return Memory{}, fmt.Errorf("failed to decode session state: %w", err)
	}
	if m.UsedStoryIDs == nil {
		m.UsedStoryIDs = make(map[string]bool)
	}
	return m, nil
}

func (s *RedisStore) save(ctx context.Context, k string, m Memory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	return s.client.Set(ctx, k, data, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, personaID, userID string) (Memory, error) {
	k := s.redisKey(personaID, userID)
	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()
	return s.load(ctx, k)
}

func (s *RedisStore) MarkUsed(ctx context.Context, personaID, userID, storyID, tone string) error {
	k := s.redisKey(personaID, userID)
	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()

	m, err := s.load(ctx, k)
	if err != nil {
		return err
	}
	m.UsedStoryIDs[storyID] = true
	m.ToneHistory = append(m.ToneHistory, tone)
	if len(m.ToneHistory) > ToneHistoryLimit {
		m.ToneHistory = m.ToneHistory[len(m.ToneHistory)-ToneHistoryLimit:]
	}
	return s.save(ctx, k, m)
}

func (s *RedisStore) SetLastReply(ctx context.Context, personaID, userID, reply string) error {
	k := s.redisKey(personaID, userID)
	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()

	m, err := s.load(ctx, k)
	if err != nil {
		return err
	}
	m.LastReply = reply
	return s.save(ctx, k, m)
}

func (s *RedisStore) Evict(ctx context.Context, personaID, userID string) error {
	k := s.redisKey(personaID, userID)
	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()
	return s.client.Del(ctx, k).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
