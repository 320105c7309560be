package registry

import (
	"github.com/google/uuid"
	"sort"
	"sync"
	"time"
)

// Stopper is the part of a capture handle the registry needs to hold on to.
type Stopper interface {
	Stop(grace time.Duration)
}

// Entry is one active capture.
type Entry struct {
	RecordingId uuid.UUID
	Title       string
	StartedAt   time.Time
	Capture     Stopper
}

// Registry is the authoritative in-memory set of currently-active captures.
// TryInsert is the single admission-control point: two concurrent starts for
// the same recording race on one mutex and exactly one wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

func New() *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]Entry),
	}
}

// TryInsert atomically inserts the entry unless the id is already present.
// Returns false when a capture for this recording is already registered.
func (r *Registry) TryInsert(e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.RecordingId]; exists {
		return false
	}
	r.entries[e.RecordingId] = e
	return true
}

// Bind attaches the capture handle to an existing entry. The entry is
// reserved via TryInsert before the process launches, so the handle arrives
// a moment later. Returns false when the entry is gone, meaning a stop
// already claimed this recording while the process was launching.
func (r *Registry) Bind(id uuid.UUID, capture Stopper) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.Capture = capture
	r.entries[id] = e
	return true
}

func (r *Registry) Get(id uuid.UUID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Snapshot returns a consistent point-in-time copy of all entries,
// ordered by start time.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
