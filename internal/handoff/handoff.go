// Package handoff keeps the named values each pipeline step produces, scoped
// to one run, so a run can be inspected after it finishes.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a slot was never written.
var ErrNotFound = errors.New("handoff: slot not found")

// Slot is one stored value.
type Slot struct {
	Step  string          `json:"step"`
	Name  string          `json:"slot"`
	Value json.RawMessage `json:"value"`
}

// Store persists JSON-encoded slots keyed by run, step, and slot name.
type Store interface {
	Put(ctx context.Context, runID, step, slot string, value any) error
	Get(ctx context.Context, runID, step, slot string, dst any) error
	List(ctx context.Context, runID string) ([]Slot, error)
	Close() error
}

// Key is the storage key for a slot.
func Key(runID, step, slot string) string {
	return fmt.Sprintf("handoff:%s:%s:%s", runID, step, slot)
}

func runPrefix(runID string) string {
	return fmt.Sprintf("handoff:%s:", runID)
}

// parseKey splits a key produced by Key back into step and slot.
func parseKey(runID, key string) (step, slot string, ok bool) {
	rest, found := strings.CutPrefix(key, runPrefix(runID))
	if !found {
		return "", "", false
	}
	step, slot, ok = strings.Cut(rest, ":")
	return step, slot, ok
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Step != slots[j].Step {
			return slots[i].Step < slots[j].Step
		}
		return slots[i].Name < slots[j].Name
	})
}

// MemoryStore keeps slots in process memory. Slots older than the TTL are
// hidden from reads and swept on the next Put, so a long-running scheduler
// holds at most one TTL worth of runs.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// NewMemoryStore creates an empty MemoryStore. A ttl of 0 keeps slots forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{slots: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

// Put stores value under its slot key and drops expired slots.
func (m *MemoryStore) Put(_ context.Context, runID, step, slot string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal slot %s/%s: %w", step, slot, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.slots {
		if e.expired(now) {
			delete(m.slots, key)
		}
	}

	entry := memoryEntry{data: data}
	if m.ttl > 0 {
		entry.expires = now.Add(m.ttl)
	}
	m.slots[Key(runID, step, slot)] = entry
	return nil
}

// Get decodes a stored slot into dst.
func (m *MemoryStore) Get(_ context.Context, runID, step, slot string, dst any) error {
	m.mu.RLock()
	e, ok := m.slots[Key(runID, step, slot)]
	now := m.now()
	m.mu.RUnlock()
	if !ok || e.expired(now) {
		return ErrNotFound
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return fmt.Errorf("unmarshal slot %s/%s: %w", step, slot, err)
	}
	return nil
}

// List returns every live slot of a run ordered by step then slot name.
func (m *MemoryStore) List(_ context.Context, runID string) ([]Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	out := make([]Slot, 0)
	for key, e := range m.slots {
		if e.expired(now) {
			continue
		}
		step, slot, ok := parseKey(runID, key)
		if !ok {
			continue
		}
		out = append(out, Slot{Step: step, Name: slot, Value: append(json.RawMessage(nil), e.data...)})
	}
	sortSlots(out)
	return out, nil
}

// Len reports how many slots are held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
