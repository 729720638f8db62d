// Package flow drives the multi-factor presence flows: registration, login,
// and attendance marking.
package flow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/platform/id"
	"github.com/louisbranch/presence.space/internal/services/presence/biometric"
	"github.com/louisbranch/presence.space/internal/services/presence/ceremony"
	"github.com/louisbranch/presence.space/internal/services/presence/challenge"
	"github.com/louisbranch/presence.space/internal/services/presence/geofence"
	"github.com/louisbranch/presence.space/internal/services/presence/session"
	"github.com/louisbranch/presence.space/internal/services/presence/storage"
	"github.com/louisbranch/presence.space/internal/services/presence/user"
)

// Factor selects which second factor a flow verifies.
type Factor string

const (
	FactorPasskey Factor = "passkey"
	FactorFace    Factor = "face"
)

// Valid reports whether the factor is known.
func (f Factor) Valid() bool {
	return f == FactorPasskey || f == FactorFace
}

var (
	// ErrInvalidCredentials covers both unknown email and wrong password so
	// responses do not reveal which one failed.
	ErrInvalidCredentials = apperrors.New(apperrors.CodeSessionUnauthorized, "invalid email or password")
	// ErrUnauthenticated indicates the session has not completed login.
	ErrUnauthenticated = apperrors.New(apperrors.CodeSessionUnauthorized, "session is not authenticated")
	// ErrRegistrationPending indicates the session already has a registration
	// or login ceremony in flight.
	ErrRegistrationPending = apperrors.New(apperrors.CodeRegistrationPending, "a ceremony is already pending for this session")
	// ErrReplaySuspected indicates a cloned or replayed authenticator.
	ErrReplaySuspected = apperrors.New(apperrors.CodeCredentialReplaySuspected, "authenticator counter did not advance")
)

// Deps wires the flow service's collaborators.
type Deps struct {
	Users        storage.UserStore
	Credentials  storage.CredentialStore
	Templates    storage.FaceTemplateStore
	Attendance   storage.AttendanceStore
	Sessions     *session.Store
	Ledger       *challenge.Ledger
	Orchestrator *biometric.Orchestrator
	Verifier     biometric.Verifier
	Fence        *geofence.Validator
	Provider     ceremony.Provider
	Parser       ceremony.Parser

	EnrollmentSamples int
}

// Service coordinates sessions, ceremonies, geofencing, and biometric
// verification for the presence flows.
type Service struct {
	users        storage.UserStore
	credentials  storage.CredentialStore
	templates    storage.FaceTemplateStore
	attendance   storage.AttendanceStore
	sessions     *session.Store
	ledger       *challenge.Ledger
	orchestrator *biometric.Orchestrator
	verifier     biometric.Verifier
	fence        *geofence.Validator
	provider     ceremony.Provider
	parser       ceremony.Parser

	enrollmentSamples int
	clock             func() time.Time
	idGenerator       func() (string, error)
}

// New builds the flow service, rejecting missing collaborators up front.
func New(deps Deps) (*Service, error) {
	switch {
	case deps.Users == nil, deps.Credentials == nil, deps.Templates == nil, deps.Attendance == nil:
		return nil, fmt.Errorf("flow: storage is not configured")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("flow: session store is not configured")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("flow: challenge ledger is not configured")
	case deps.Orchestrator == nil || deps.Verifier == nil:
		return nil, fmt.Errorf("flow: biometric orchestrator is not configured")
	case deps.Fence == nil:
		return nil, fmt.Errorf("flow: geofence validator is not configured")
	case deps.Provider == nil:
		return nil, fmt.Errorf("flow: ceremony provider is not configured")
	}
	parser := deps.Parser
	if parser == nil {
		parser = ceremony.DefaultParser{}
	}
	samples := deps.EnrollmentSamples
	if samples <= 0 {
		samples = 10
	}
	return &Service{
		users:             deps.Users,
		credentials:       deps.Credentials,
		templates:         deps.Templates,
		attendance:        deps.Attendance,
		sessions:          deps.Sessions,
		ledger:            deps.Ledger,
		orchestrator:      deps.Orchestrator,
		verifier:          deps.Verifier,
		fence:             deps.Fence,
		provider:          deps.Provider,
		parser:            parser,
		enrollmentSamples: samples,
		clock:             time.Now,
		idGenerator:       id.NewID,
	}, nil
}

// WithClock overrides the service clock, used by tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Logout destroys the session and drops any in-flight verification for it.
func (s *Service) Logout(sessionID string) {
	s.orchestrator.Discard(sessionID)
	s.sessions.Destroy(sessionID)
}

// abandonCeremony returns the session to its pre-ceremony state after a
// failed completion, so the session can begin again.
func (s *Service) abandonCeremony(sessionID string) {
	_ = s.sessions.Update(sessionID, func(live *session.Session) {
		live.PendingUserID = ""
	})
}

// ListAttendance returns the authenticated user's recorded events.
func (s *Service) ListAttendance(ctx context.Context, sessionID string) ([]storage.AttendanceEvent, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}
	return s.attendance.ListAttendanceByUser(ctx, sess.UserID)
}

// ceremonyUser adapts a stored user and credentials to the relying party API.
type ceremonyUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (c ceremonyUser) WebAuthnID() []byte                         { return []byte(c.user.ID) }
func (c ceremonyUser) WebAuthnName() string                       { return c.user.Email }
func (c ceremonyUser) WebAuthnDisplayName() string                { return c.user.Email }
func (c ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return c.credentials }

// loadCeremonyUser assembles the relying party view of a stored user.
func (s *Service) loadCeremonyUser(ctx context.Context, userID string) (ceremonyUser, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return ceremonyUser{}, fmt.Errorf("load user: %w", err)
	}
	stored, err := s.credentials.ListCredentialsByUser(ctx, userID)
	if err != nil {
		return ceremonyUser{}, fmt.Errorf("list credentials: %w", err)
	}
	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, record := range stored {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return ceremonyUser{}, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return ceremonyUser{user: u, credentials: credentials}, nil
}

// credentialKey is the storage key for a WebAuthn credential id.
func credentialKey(credentialID []byte) string {
	return base64.RawURLEncoding.EncodeToString(credentialID)
}

// persistCredential stores or updates the validated credential record.
func (s *Service) persistCredential(ctx context.Context, userID string, credential *webauthn.Credential, createdAt time.Time, lastUsedAt *time.Time) error {
	payload, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	now := s.clock().UTC()
	return s.credentials.PutCredential(ctx, storage.Credential{
		CredentialID:   credentialKey(credential.ID),
		UserID:         userID,
		CredentialJSON: string(payload),
		SignCount:      credential.Authenticator.SignCount,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
		LastUsedAt:     lastUsedAt,
	})
}

// auditCounter flags cloned or replayed authenticators.
//
// A counter that fails to advance past the stored value is suspect, except
// when both are zero: authenticators without counters always report zero and
// stay valid.
func auditCounter(stored storage.Credential, validated *webauthn.Credential) error {
	if validated.Authenticator.CloneWarning {
		return ErrReplaySuspected
	}
	newCount := validated.Authenticator.SignCount
	if newCount == 0 && stored.SignCount == 0 {
		return nil
	}
	if newCount <= stored.SignCount {
		return ErrReplaySuspected
	}
	return nil
}
