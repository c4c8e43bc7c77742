package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memShards = 32

// MemStore is the in-process session store. Histories are sharded by
// session id so unrelated conversations never contend on one lock.
type MemStore struct {
	shards     [memShards]memShard
	maxHistory int
}

type memShard struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewMemStore returns an empty in-process store.
func NewMemStore(maxHistory int) *MemStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	s := &MemStore{maxHistory: maxHistory}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string][]Turn)
	}
	return s
}

func (s *MemStore) shard(sessionID string) *memShard {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.shards[h.Sum32()%memShards]
}

// Append adds a turn and trims the log to 2×maxHistory entries.
func (s *MemStore) Append(_ context.Context, sessionID string, role Role, content string) error {
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	turns := append(sh.sessions[sessionID], Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if limit := 2 * s.maxHistory; len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	sh.sessions[sessionID] = turns
	return nil
}

// History returns a copy of the session's turns in append order.
func (s *MemStore) History(_ context.Context, sessionID string) ([]Turn, error) {
	sh := s.shard(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	turns := sh.sessions[sessionID]
	if len(turns) == 0 {
		return nil, nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Clear removes the session's turn log.
func (s *MemStore) Clear(_ context.Context, sessionID string) error {
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, sessionID)
	return nil
}

// Exists reports whether the session has any turns.
func (s *MemStore) Exists(_ context.Context, sessionID string) (bool, error) {
	sh := s.shard(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.sessions[sessionID]) > 0, nil
}

// Close is a no-op for the in-process store.
func (s *MemStore) Close() error { return nil }
