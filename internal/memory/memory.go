// Package memory keeps the question/answer history of each chat session.
package memory

import (
	"sync"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
)

// Memory is the ordered turn history of one conversation.
type Memory struct {
	mu       sync.Mutex
	turns    []models.Turn
	maxTurns int
	lastUsed time.Time
}

// New returns an empty memory. maxTurns <= 0 keeps every turn.
func New(maxTurns int) *Memory {
	return &Memory{maxTurns: maxTurns, lastUsed: time.Now()}
}

// Append records a completed exchange, dropping the oldest turns beyond maxTurns.
func (m *Memory) Append(t models.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	if m.maxTurns > 0 && len(m.turns) > m.maxTurns {
		m.turns = append([]models.Turn(nil), m.turns[len(m.turns)-m.maxTurns:]...)
	}
	m.lastUsed = time.Now()
}

// History returns a copy of the turns, oldest first.
func (m *Memory) History() []models.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	m.lastUsed = time.Now()
}

func (m *Memory) touch(now time.Time) {
	m.mu.Lock()
	m.lastUsed = now
	m.mu.Unlock()
}

func (m *Memory) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed
}

// Registry maps session IDs to their memories.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Memory
	maxTurns int
	idleTTL  time.Duration
}

// NewRegistry creates a registry. idleTTL <= 0 disables sweeping.
func NewRegistry(maxTurns int, idleTTL time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Memory),
		maxTurns: maxTurns,
		idleTTL:  idleTTL,
	}
}

// Get returns the memory for id, creating it on first use.
func (r *Registry) Get(id string) *Memory {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[id]
	if !ok {
		m = New(r.maxTurns)
		r.sessions[id] = m
		return m
	}
	m.touch(time.Now())
	return m
}

func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions idle for longer than the TTL and reports how many
// were removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, m := range r.sessions {
		if now.Sub(m.idleSince()) > r.idleTTL {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
