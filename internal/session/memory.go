package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process. The map lock is only held to find or
// insert an entry; each entry has its own lock so appends to different
// sessions never contend. Lock order is entry before map.
type MemoryStore struct {
	opts     Options
	mu       sync.Mutex
	sessions map[string]*memoryEntry
}

type memoryEntry struct {
	mu      sync.Mutex
	s       *Session
	removed bool
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:     opts.withDefaults(),
		sessions: make(map[string]*memoryEntry),
	}
}

func (m *MemoryStore) lookup(id string) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// evictLocked requires e.mu to be held.
func (m *MemoryStore) evictLocked(id string, e *memoryEntry) {
	e.removed = true
	m.mu.Lock()
	if m.sessions[id] == e {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
}

// live locks and returns the entry for id when present and unexpired.
func (m *MemoryStore) live(id string) (*memoryEntry, bool) {
	e := m.lookup(id)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, false
	}
	if m.opts.expired(e.s.LastActiveAt, m.opts.Now()) {
		m.evictLocked(id, e)
		e.mu.Unlock()
		return nil, false
	}
	return e, true
}

func (m *MemoryStore) CreateOrGet(_ context.Context, p StartParams) (*Session, bool, error) {
	for {
		if e, ok := m.live(p.ID); ok {
			out := clone(e.s)
			e.mu.Unlock()
			return out, false, nil
		}

		now := m.opts.Now().UTC()
		e := &memoryEntry{s: &Session{
			ID:           p.ID,
			BoothID:      p.BoothID,
			Personality:  p.Personality,
			Mode:         p.Mode,
			CreatedAt:    now,
			LastActiveAt: now,
		}}

		m.mu.Lock()
		if _, raced := m.sessions[p.ID]; raced {
			// Lost a race with a concurrent start; the next pass returns its session.
			m.mu.Unlock()
			continue
		}
		m.sessions[p.ID] = e
		m.mu.Unlock()
		return clone(e.s), true, nil
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	e, ok := m.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	defer e.mu.Unlock()
	return clone(e.s), nil
}

func (m *MemoryStore) AppendTurns(_ context.Context, id, mode string, turns ...Turn) (*Session, error) {
	e, ok := m.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	defer e.mu.Unlock()

	now := m.opts.Now().UTC()
	for _, t := range turns {
		if t.At.IsZero() {
			t.At = now
		}
		e.s.History = append(e.s.History, t)
	}
	e.s.History = trimHistory(e.s.History, m.opts.HistoryMaxTurns)
	if mode != "" {
		e.s.Mode = mode
	}
	e.s.LastActiveAt = now
	return clone(e.s), nil
}

func (m *MemoryStore) Release(_ context.Context, id string) error {
	e := m.lookup(id)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	m.evictLocked(id, e)
	e.mu.Unlock()
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	removed := 0
	for _, id := range ids {
		e := m.lookup(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		if !e.removed && m.opts.expired(e.s.LastActiveAt, m.opts.Now()) {
			m.evictLocked(id, e)
			removed++
		}
		e.mu.Unlock()
	}
	return removed, nil
}

// Len reports the number of physically present records, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) Close() error { return nil }
