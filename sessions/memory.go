package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a map guarded by an RWMutex. Stored
// sessions are never mutated after insert — Save and Patch replace the
// pointer — so snapshots taken under RLock stay valid after the lock
// is released. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Get retrieves a session by ID.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

// Save persists a session, stamping UpdatedAt and setting CreatedAt on
// first save. The timestamps are written back to sess as well.
func (m *MemoryStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return ErrInvalidSession
	}
	if sess.ID == "" {
		return ErrInvalidID
	}

	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	stored := cloneSession(sess)
	if stored == nil {
		return fmt.Errorf("%w: metadata is not serializable", ErrInvalidSession)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = stored
	return nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// List returns sessions ordered and paginated per opts.
func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Session, error) {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.mu.RUnlock()

	sortSessions(all, opts.SortBy, opts.SortOrder)
	page := applyPagination(all, opts.Offset, opts.Limit)

	out := make([]*Session, len(page))
	for i, sess := range page {
		out[i] = cloneSession(sess)
	}
	return out, nil
}

// Patch merges fields into an existing session and returns the updated
// copy.
func (m *MemoryStore) Patch(ctx context.Context, id string, fields map[string]any) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	updated := cloneSession(current)
	if err := applyPatch(updated, fields); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now()

	m.sessions[id] = updated
	return cloneSession(updated), nil
}

// cloneSession deep-copies a session via a JSON round-trip so callers
// can't reach stored metadata through shared references. Returns nil
// when the session doesn't survive serialization.
func cloneSession(sess *Session) *Session {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil
	}
	var out Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}
