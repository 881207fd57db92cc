// Package sessions persists gateway UI sessions.
//
// A Session records one user-facing conversation: which agent it talks
// to, a display title, and free-form metadata attached by the UI. The
// gateway's sessions_* methods are thin wrappers over a Store, so every
// client speaking the gateway protocol shares the same persistence.
//
// Two backends are provided: MemoryStore for tests and single-process
// deployments, and RedisStore for anything that must survive a restart
// or serve several gateway replicas.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Session is one user-facing conversation session.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sort fields accepted by ListOptions.SortBy.
const (
	SortByCreatedAt = "created_at"
	SortByUpdatedAt = "updated_at"
)

// DefaultListLimit caps List results when ListOptions.Limit is zero.
const DefaultListLimit = 100

// ListOptions provides pagination and ordering for List.
type ListOptions struct {
	// Limit caps the number of sessions returned (default 100).
	Limit int

	// Offset skips that many sessions for pagination.
	Offset int

	// SortBy selects the sort field: "created_at" or "updated_at"
	// (default "updated_at").
	SortBy string

	// SortOrder is "asc" or "desc" (default "desc").
	SortOrder string
}

// Store is the persistence interface for sessions.
type Store interface {
	// Get retrieves a session by ID.
	Get(ctx context.Context, id string) (*Session, error)

	// Save persists a session, stamping UpdatedAt and setting
	// CreatedAt on first save.
	Save(ctx context.Context, sess *Session) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// List returns sessions ordered and paginated per opts.
	List(ctx context.Context, opts ListOptions) ([]*Session, error)

	// Patch merges fields into an existing session and returns the
	// updated copy. Recognized fields are "title", "agentId" and
	// "metadata"; metadata objects merge key by key.
	Patch(ctx context.Context, id string, fields map[string]any) (*Session, error)
}

// Common errors returned by session stores.
var (
	// ErrNotFound is returned when a session doesn't exist.
	ErrNotFound = errors.New("sessions: session not found")

	// ErrInvalidID is returned when a session ID is empty.
	ErrInvalidID = errors.New("sessions: invalid session ID")

	// ErrInvalidSession is returned when a session or patch is malformed.
	ErrInvalidSession = errors.New("sessions: invalid session")
)

// applyPatch merges fields into sess. Unknown field names are rejected
// so a typo'd patch fails loudly instead of silently doing nothing.
func applyPatch(sess *Session, fields map[string]any) error {
	for name, value := range fields {
		switch name {
		case "title":
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: field title must be a string", ErrInvalidSession)
			}
			sess.Title = str
		case "agentId":
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: field agentId must be a string", ErrInvalidSession)
			}
			sess.AgentID = str
		case "metadata":
			patch, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: field metadata must be an object", ErrInvalidSession)
			}
			if sess.Metadata == nil {
				sess.Metadata = make(map[string]any, len(patch))
			}
			for k, v := range patch {
				sess.Metadata[k] = v
			}
		default:
			return fmt.Errorf("%w: unknown field %q", ErrInvalidSession, name)
		}
	}
	return nil
}

// sortSessions orders list by the given field and direction.
func sortSessions(list []*Session, sortBy, sortOrder string) {
	ascending := sortOrder == "asc"
	sort.Slice(list, func(i, j int) bool {
		var less bool
		switch sortBy {
		case SortByCreatedAt:
			less = list[i].CreatedAt.Before(list[j].CreatedAt)
		case SortByUpdatedAt, "":
			less = list[i].UpdatedAt.Before(list[j].UpdatedAt)
		default:
			return false
		}

		if ascending {
			return less
		}
		return !less
	})
}

// applyPagination applies offset and limit to the session list.
func applyPagination(list []*Session, offset, limit int) []*Session {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	if offset >= len(list) {
		return []*Session{}
	}

	end := offset + limit
	if end > len(list) {
		end = len(list)
	}

	return list[offset:end]
}
