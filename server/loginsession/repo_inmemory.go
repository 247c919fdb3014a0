package loginsession

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jrsteele09/go-session-keeper/internal/errors"
)

var _ Repo = (*InMemoryLoginSessionRepo)(nil)

// InMemoryLoginSessionRepo is an in-memory implementation of Repo
type InMemoryLoginSessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]Session             // sessionID -> Session
	byUser   map[string]map[string]struct{} // userID -> sessionIDs
}

// NewInMemoryLoginSessionRepo creates a new in-memory login session repository
func NewInMemoryLoginSessionRepo() *InMemoryLoginSessionRepo {
	return &InMemoryLoginSessionRepo{
		sessions: make(map[string]Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Upsert creates or updates a login session
func (r *InMemoryLoginSessionRepo) Upsert(session Session) error {
	if session.ID == "" {
		return fmt.Errorf("[InMemoryLoginSessionRepo Upsert] session id is required: %w", errors.ErrValidation)
	}
	if session.UserID == "" {
		return fmt.Errorf("[InMemoryLoginSessionRepo Upsert] user id is required: %w", errors.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[session.ID]; ok && old.UserID != session.UserID {
		r.unindex(old)
	}
	r.sessions[session.ID] = session
	if _, ok := r.byUser[session.UserID]; !ok {
		r.byUser[session.UserID] = make(map[string]struct{})
	}
	r.byUser[session.UserID][session.ID] = struct{}{}
	return nil
}

// Get retrieves a login session by ID
func (r *InMemoryLoginSessionRepo) Get(sessionID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("[InMemoryLoginSessionRepo Get] session %s: %w", sessionID, errors.ErrNotFound)
	}
	return session, nil
}

// Delete removes a login session. Deleting an unknown session is not an error.
func (r *InMemoryLoginSessionRepo) Delete(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(r.sessions, sessionID)
	r.unindex(session)
	return nil
}

// ListByUser returns the user's sessions, oldest first
func (r *InMemoryLoginSessionRepo) ListByUser(userID string) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		out = append(out, r.sessions[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InMemoryLoginSessionRepo) unindex(session Session) {
	ids := r.byUser[session.UserID]
	delete(ids, session.ID)
	if len(ids) == 0 {
		delete(r.byUser, session.UserID)
	}
}
