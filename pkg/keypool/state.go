package keypool

import (
	"context"
	"sync"
)

// EntryState is the shared cooldown state of one credential.
// CooldownUntil is unix milliseconds, 0 when the credential was never
// penalized.
type EntryState struct {
	CooldownUntil int64 `json:"cooldownUntil"`
	Disabled      bool  `json:"disabled"`
}

// State is the pool state shared between processes: per-credential
// cooldowns plus usage counts keyed by model and calendar day.
type State struct {
	Entries map[string]EntryState       `json:"entries"`
	Usage   map[string]map[string]int64 `json:"usage"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Entries: make(map[string]EntryState),
		Usage:   make(map[string]map[string]int64),
	}
}

func (s *State) normalize() {
	if s.Entries == nil {
		s.Entries = make(map[string]EntryState)
	}
	if s.Usage == nil {
		s.Usage = make(map[string]map[string]int64)
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := NewState()
	for id, e := range s.Entries {
		out.Entries[id] = e
	}
	for model, days := range s.Usage {
		m := make(map[string]int64, len(days))
		for day, n := range days {
			m[day] = n
		}
		out.Usage[model] = m
	}
	return out
}

// RecordUsage increments the counter for model on day (YYYY-MM-DD).
func (s *State) RecordUsage(model, day string) {
	s.normalize()
	days, ok := s.Usage[model]
	if !ok {
		days = make(map[string]int64)
		s.Usage[model] = days
	}
	days[day]++
}

// StateStore persists State. Implementations are read-then-write with no
// transaction: concurrent pools may overwrite each other's updates.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// MemoryStore keeps State in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
	loads int
	saves int
}

var _ StateStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: NewState()}
}

func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.state = state.Clone()
	return nil
}

// Snapshot returns a copy of the stored state.
func (m *MemoryStore) Snapshot() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Counts returns how many times Load and Save were called.
func (m *MemoryStore) Counts() (loads, saves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads, m.saves
}
