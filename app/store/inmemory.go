package store

import (
	"maps"
	"slices"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/miguelrodriguezrv/snapkv/app/value"
)

// InMemoryStore keeps values in insertion order so Keys reports keys the way
// they were first written. Overwriting a key keeps its position.
type InMemoryStore struct {
	values    *orderedmap.OrderedMap[string, value.Value]
	deadlines map[string]int64
	mu        sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		values:    orderedmap.New[string, value.Value](),
		deadlines: make(map[string]int64),
	}
}

func (s *InMemoryStore) Get(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.Get(key)
}

func (s *InMemoryStore) Set(key string, v value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.Set(key, v)
	delete(s.deadlines, key)
}

func (s *InMemoryStore) SetWithDeadline(key string, v value.Value, deadlineMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.Set(key, v)
	s.deadlines[key] = deadlineMs
}

func (s *InMemoryStore) SetDeadline(key string, deadlineMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values.Get(key); !ok {
		return false
	}
	s.deadlines[key] = deadlineMs
	return true
}

func (s *InMemoryStore) Deadline(key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deadline, ok := s.deadlines[key]
	return deadline, ok
}

func (s *InMemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(key)
}

func (s *InMemoryStore) delete(key string) bool {
	_, existed := s.values.Delete(key)
	delete(s.deadlines, key)
	return existed
}

func (s *InMemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, s.values.Len())
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.Len()
}

func (s *InMemoryStore) ExpiresLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deadlines)
}

// EvictIfExpired removes key when its deadline has been reached and reports
// whether it did.
func (s *InMemoryStore) EvictIfExpired(key string, nowMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.deadlines[key]
	if !ok || !Expired(deadline, nowMs) {
		return false
	}
	s.delete(key)
	return true
}

// EvictExpired removes every entry whose deadline has been reached and
// returns how many were removed.
func (s *InMemoryStore) EvictExpired(nowMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, deadline := range s.deadlines {
		if Expired(deadline, nowMs) {
			s.delete(key)
			removed++
		}
	}
	return removed
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = orderedmap.New[string, value.Value]()
	s.deadlines = make(map[string]int64)
}

func (s *InMemoryStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Values:    make(map[string]value.Value, s.values.Len()),
		Deadlines: maps.Clone(s.deadlines),
	}
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		snap.Values[pair.Key] = pair.Value
	}
	return snap
}

// Restore replaces the whole key space. Keys are inserted in sorted order and
// deadlines without a matching value are dropped.
func (s *InMemoryStore) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = orderedmap.New[string, value.Value]()
	s.deadlines = make(map[string]int64)
	for _, key := range slices.Sorted(maps.Keys(snap.Values)) {
		s.values.Set(key, snap.Values[key])
		if deadline, ok := snap.Deadlines[key]; ok {
			s.deadlines[key] = deadline
		}
	}
}
