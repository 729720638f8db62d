// Package session tracks browser sessions for the presence flows.
package session

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/platform/id"
	"github.com/louisbranch/presence.space/internal/services/presence/geofence"
)

// ErrNotFound indicates the session does not exist or has expired.
var ErrNotFound = apperrors.New(apperrors.CodeSessionNotFound, "session not found")

// Session is the mutable per-browser flow state.
//
// UserID is set once the user fully authenticates. PendingUserID tracks the
// user mid-ceremony before both factors pass. PendingLocation stashes the
// geofence-validated position between attendance challenge issue and
// completion so the recorded event uses the position claimed up front.
type Session struct {
	ID              string
	UserID          string
	PendingUserID   string
	PendingLocation *geofence.Location
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Authenticated reports whether the session has a fully verified user.
func (s Session) Authenticated() bool {
	return s.UserID != ""
}

// Store keeps sessions in memory with TTL-based expiry.
type Store struct {
	ttl         time.Duration
	clock       func() time.Time
	idGenerator func() (string, error)

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore builds an in-memory session store.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{
		ttl:         ttl,
		clock:       time.Now,
		idGenerator: id.NewID,
		sessions:    make(map[string]*Session),
	}
}

// WithClock overrides the store clock, used by tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Create starts a new anonymous session.
func (s *Store) Create() (Session, error) {
	sessionID, err := s.idGenerator()
	if err != nil {
		return Session{}, err
	}
	now := s.clock().UTC()
	session := &Session{
		ID:        sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()
	return *session, nil
}

// Get returns a copy of the session, or ErrNotFound if missing or expired.
// The copy is fully detached: mutating it never reaches the live session.
func (s *Store) Get(sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if session.ExpiresAt.Before(s.clock().UTC()) {
		delete(s.sessions, sessionID)
		return Session{}, ErrNotFound
	}
	out := *session
	if session.PendingLocation != nil {
		location := *session.PendingLocation
		out.PendingLocation = &location
	}
	return out, nil
}

// Update applies fn to the live session under the store lock.
func (s *Store) Update(sessionID string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.ExpiresAt.Before(s.clock().UTC()) {
		delete(s.sessions, sessionID)
		return ErrNotFound
	}
	fn(session)
	return nil
}

// Destroy removes the session. Destroying a missing session is a no-op.
func (s *Store) Destroy(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// DeleteExpired removes sessions past their TTL.
func (s *Store) DeleteExpired() {
	now := s.clock().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, session := range s.sessions {
		if session.ExpiresAt.Before(now) {
			delete(s.sessions, sessionID)
		}
	}
}

// StartCleanup sweeps expired sessions until the context is canceled.
func (s *Store) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.DeleteExpired()
			}
		}
	}()
}
