package storage

import (
	"context"
	"time"

	"github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/services/presence/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// UserStore persists presence user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
}

// Credential stores a WebAuthn credential for a user.
//
// SignCount mirrors the authenticator usage counter inside CredentialJSON so
// replay audits can query it without decoding the credential payload.
type Credential struct {
	CredentialID   string
	UserID         string
	CredentialJSON string
	SignCount      uint32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	PutCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
}

// FaceTemplate records one enrolled biometric reference for a user.
type FaceTemplate struct {
	ID        string
	UserID    string
	Reference string
	CreatedAt time.Time
}

// FaceTemplateStore persists biometric reference handles.
type FaceTemplateStore interface {
	PutFaceTemplate(ctx context.Context, template FaceTemplate) error
	ListFaceTemplatesByUser(ctx context.Context, userID string) ([]FaceTemplate, error)
}

// AttendanceEvent is one immutable recorded presence event.
type AttendanceEvent struct {
	ID         string
	UserID     string
	RecordedAt time.Time
	Latitude   float64
	Longitude  float64
}

// AttendanceStore appends and reads per-user attendance events.
type AttendanceStore interface {
	AppendAttendanceEvent(ctx context.Context, event AttendanceEvent) error
	ListAttendanceByUser(ctx context.Context, userID string) ([]AttendanceEvent, error)
}

// Challenge stores one issued ceremony challenge for a session and purpose.
type Challenge struct {
	ID          string
	SessionID   string
	Purpose     string
	UserID      string
	SessionJSON string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// ChallengeStore persists issued ceremony challenges.
//
// PutChallenge replaces any prior challenge for the same (session, purpose)
// pair. ClaimChallenge removes and returns the stored challenge exactly once;
// concurrent claims for the same pair must yield one winner and ErrNotFound
// for the rest.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, challenge Challenge) error
	ClaimChallenge(ctx context.Context, sessionID string, purpose string) (Challenge, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}
