package review

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Repository defines the concurrency-safe contract for tracking open
// montage sessions.
type Repository interface {
	// CreateSession records a new session. The ID must be unused.
	CreateSession(st *SessionState) error

	// GetSession returns the session with the given ID.
	GetSession(id SessionID) (*SessionState, bool)

	// Touch marks the session as used at t.
	Touch(id SessionID, t time.Time) error

	// RemoveSession forgets the session and returns it so the caller can stop
	// it. Removing an unknown session returns ErrSessionNotFound.
	RemoveSession(id SessionID) (*SessionState, error)

	// IdleSessions lists sessions not touched since before, oldest first.
	IdleSessions(before time.Time) []SessionID

	// ListSessionIDs returns every open session.
	ListSessionIDs() []SessionID

	// ActiveSessionCount returns the number of open sessions.
	// Used for metrics.
	ActiveSessionCount() int
}

var (
	// ErrSessionNotFound is returned for IDs with no open session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when creating a session whose ID is taken.
	ErrSessionExists = errors.New("session already exists")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// CreateSession implements Repository.CreateSession.
func (r *InMemoryRepository) CreateSession(st *SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetSession(st.ID); exists {
		return ErrSessionExists
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	if st.LastSeen.IsZero() {
		st.LastSeen = st.CreatedAt
	}
	r.store.SetSession(st)
	return nil
}

// GetSession implements Repository.GetSession.
func (r *InMemoryRepository) GetSession(id SessionID) (*SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetSession(id)
}

// Touch implements Repository.Touch.
func (r *InMemoryRepository) Touch(id SessionID, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.store.GetSession(id)
	if !ok {
		return ErrSessionNotFound
	}
	if t.After(st.LastSeen) {
		st.LastSeen = t
	}
	return nil
}

// RemoveSession implements Repository.RemoveSession.
func (r *InMemoryRepository) RemoveSession(id SessionID) (*SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.store.GetSession(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	r.store.DeleteSession(id)
	return st, nil
}

// IdleSessions implements Repository.IdleSessions.
func (r *InMemoryRepository) IdleSessions(before time.Time) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []*SessionState
	for _, id := range r.store.ListSessionIDs() {
		if st, ok := r.store.GetSession(id); ok && st.LastSeen.Before(before) {
			idle = append(idle, st)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].LastSeen.Before(idle[j].LastSeen) })

	ids := make([]SessionID, 0, len(idle))
	for _, st := range idle {
		ids = append(ids, st.ID)
	}
	return ids
}

// ListSessionIDs implements Repository.ListSessionIDs.
func (r *InMemoryRepository) ListSessionIDs() []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.ListSessionIDs()
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListSessionIDs())
}
