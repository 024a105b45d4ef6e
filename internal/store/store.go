package store

import (
	"strings"
	"sync"
)

// HeartbeatKey is filtered out of change notifications by both the store
// and the protocol controller, per the base protocol's convention that
// liveness pings never reach application logic.
const HeartbeatKey = "__heartbeat__"

// reservedExact lists exact key names that are replicated like any other
// gossip state but are never returned by a user-facing Keys() glob
// enumeration (resource:*, assign:*).
var reservedExact = map[string]bool{
	"leader":         true,
	"vote":           true,
	"prio":           true,
	"private:status": true,
}

// ChangeFunc is invoked for every applied change, in the order the store
// observed it. source is this peer's own name for a local Set/Delete and
// the originating peer's name for a gossip-replicated change. It is called
// after the store's mutex has been released, on the goroutine that made
// the change. The store does not serialize these calls: a Set made from
// inside the callback invokes it again before the outer call returns, and
// changes applied from different goroutines can run it concurrently.
type ChangeFunc func(source, key string, value Value)

// Publisher is the thin interface the store uses to hand a local write to
// the gossip layer for replication. internal/gossip implements it.
type Publisher interface {
	Publish(key string, value Value)
}

// Store is the per-peer replicated key-value map.
type Store struct {
	mu        sync.Mutex
	entries   map[string]Value
	onChange  ChangeFunc
	publisher Publisher
	self      string
}

// New creates an empty store for the peer named self. SetPublisher must be
// called before any Set/Delete for changes to actually replicate.
func New(self string) *Store {
	return &Store{entries: make(map[string]Value), self: self}
}

// SetPublisher wires the gossip layer that replicates local writes.
func (s *Store) SetPublisher(p Publisher) { s.publisher = p }

// OnChange registers the single change-notification callback. Only one
// subscriber is supported, matching the base protocol's single controller.
func (s *Store) OnChange(fn ChangeFunc) { s.onChange = fn }

// Set upserts a key, replicates it via the gossip layer, and delivers a
// local change notification with source == self.
func (s *Store) Set(key string, value Value) {
	s.apply(s.self, key, value)
	if s.publisher != nil {
		s.publisher.Publish(key, value)
	}
}

// Delete tombstones a key (equivalent to Set(k, deleted-value-of-same-kind)).
func (s *Store) Delete(key string) {
	if v, ok := s.Get(key); ok {
		s.Set(key, DeletedValue(v.Kind))
		return
	}
	s.Set(key, DeletedValue(kindForKey(key)))
}

// Get returns the last value observed locally for key.
func (s *Store) Get(key string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// Keys enumerates keys matching "prefix*" (the only glob shape the base
// protocol uses). Reserved keys are never returned even if prefix is empty.
func (s *Store) Keys(prefixGlob string) []string {
	prefix := strings.TrimSuffix(prefixGlob, "*")
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.entries {
		if reservedExact[k] {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// ApplyRemote is called by the gossip layer when it observes a replicated
// change. internal/gossip also delivers this peer's own writes back here
// as a synchronous self-echo, so a local Set with a publisher wired is
// applied and notified twice, both times with source == this peer's name.
func (s *Store) ApplyRemote(source, key string, value Value) {
	s.apply(source, key, value)
}

func (s *Store) apply(source, key string, value Value) {
	if key == HeartbeatKey {
		return
	}
	s.mu.Lock()
	s.entries[key] = value
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(source, key, value)
	}
}

// Self returns this peer's name.
func (s *Store) Self() string { return s.self }

// Snapshot returns a copy of every entry, for persistence.
func (s *Store) Snapshot() map[string]Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Value, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// LoadSnapshot seeds the store from persisted state at startup, without
// triggering change notifications or re-publishing to the gossip layer.
func (s *Store) LoadSnapshot(entries map[string]Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.entries[k] = v
	}
}

func kindForKey(key string) Kind {
	switch {
	case strings.HasPrefix(key, "resource:"):
		return KindResource
	case strings.HasPrefix(key, "assign:"):
		return KindAssignment
	case key == "private:status":
		return KindStatus
	default:
		return KindResource
	}
}
