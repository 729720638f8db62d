package flow

import (
	"context"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/services/presence/biometric"
	"github.com/louisbranch/presence.space/internal/services/presence/ceremony"
	"github.com/louisbranch/presence.space/internal/services/presence/session"
	"github.com/louisbranch/presence.space/internal/services/presence/user"
)

// LoginInput carries the password check plus the chosen second factor.
type LoginInput struct {
	Email    string
	Password string
	Factor   Factor
	// ProbePath is the uploaded probe image for the face factor.
	ProbePath string
}

// LoginChallenge is the result of starting a login.
//
// The passkey factor returns an assertion for the client to sign and finish
// later; the face factor resolves synchronously, so Authenticated reports the
// terminal result with no second round trip.
type LoginChallenge struct {
	Assertion     *protocol.CredentialAssertion
	Authenticated bool
}

// BeginLogin checks the password and starts the chosen second factor.
func (s *Service) BeginLogin(ctx context.Context, sessionID string, input LoginInput) (LoginChallenge, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return LoginChallenge{}, err
	}
	if sess.PendingUserID != "" {
		return LoginChallenge{}, ErrRegistrationPending
	}
	if !input.Factor.Valid() {
		return LoginChallenge{}, apperrors.New(apperrors.CodeInvalidInput, fmt.Sprintf("unknown factor %q", input.Factor))
	}

	account, err := s.authenticatePassword(ctx, input.Email, input.Password)
	if err != nil {
		return LoginChallenge{}, err
	}

	switch input.Factor {
	case FactorFace:
		return s.beginFaceLogin(ctx, sessionID, account, input.ProbePath)
	default:
		return s.beginPasskeyLogin(ctx, sessionID, account)
	}
}

// authenticatePassword resolves the account by email and checks the password,
// collapsing both failure modes into one error.
func (s *Service) authenticatePassword(ctx context.Context, email, password string) (user.User, error) {
	account, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return user.User{}, ErrInvalidCredentials
		}
		return user.User{}, fmt.Errorf("load user by email: %w", err)
	}
	if !account.CheckPassword(password) {
		return user.User{}, ErrInvalidCredentials
	}
	return account, nil
}

func (s *Service) beginPasskeyLogin(ctx context.Context, sessionID string, account user.User) (LoginChallenge, error) {
	owner, err := s.loadCeremonyUser(ctx, account.ID)
	if err != nil {
		return LoginChallenge{}, err
	}
	if len(owner.credentials) == 0 {
		return LoginChallenge{}, apperrors.New(apperrors.CodeCredentialNotFound, "no passkey registered for this user")
	}

	assertion, sessionData, err := s.provider.BeginLogin(owner)
	if err != nil {
		return LoginChallenge{}, fmt.Errorf("begin login ceremony: %w", err)
	}
	if err := s.ledger.Issue(ctx, sessionID, ceremony.PurposeLogin, account.ID, sessionData); err != nil {
		return LoginChallenge{}, err
	}
	err = s.sessions.Update(sessionID, func(live *session.Session) {
		live.PendingUserID = account.ID
	})
	if err != nil {
		return LoginChallenge{}, err
	}
	return LoginChallenge{Assertion: assertion}, nil
}

// beginFaceLogin dispatches the probe and blocks for the outcome. No location
// travels with a login verification, so a match never records attendance.
func (s *Service) beginFaceLogin(ctx context.Context, sessionID string, account user.User, probePath string) (LoginChallenge, error) {
	err := s.orchestrator.Dispatch(ctx, biometric.Request{
		SessionID: sessionID,
		UserID:    account.ID,
		ProbePath: probePath,
	})
	if err != nil {
		return LoginChallenge{}, err
	}
	outcome, err := s.orchestrator.Resolve(ctx, sessionID)
	if err != nil {
		return LoginChallenge{}, err
	}
	if outcome.Status != biometric.StatusMatched {
		return LoginChallenge{}, outcome.Err
	}

	err = s.sessions.Update(sessionID, func(live *session.Session) {
		live.UserID = account.ID
	})
	if err != nil {
		return LoginChallenge{}, err
	}
	return LoginChallenge{Authenticated: true}, nil
}

// FinishLogin consumes the login challenge, validates the assertion, audits
// the authenticator counter, and marks the session authenticated. A failed
// completion abandons the ceremony; the session can begin again.
func (s *Service) FinishLogin(ctx context.Context, sessionID string, response []byte) (user.User, error) {
	consumed, err := s.ledger.Consume(ctx, sessionID, ceremony.PurposeLogin)
	if err != nil {
		s.abandonCeremony(sessionID)
		return user.User{}, err
	}
	account, err := s.validateAssertion(ctx, consumed.UserID, consumed.Data, response)
	if err != nil {
		s.abandonCeremony(sessionID)
		return user.User{}, err
	}
	err = s.sessions.Update(sessionID, func(live *session.Session) {
		live.UserID = account.ID
		live.PendingUserID = ""
	})
	if err != nil {
		return user.User{}, err
	}
	return account, nil
}

// validateAssertion runs ceremony validation and the replay audit, then
// persists the advanced counter.
func (s *Service) validateAssertion(ctx context.Context, userID string, data webauthn.SessionData, response []byte) (user.User, error) {
	owner, err := s.loadCeremonyUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "authenticator response is not parsable", err)
	}
	validated, err := s.provider.ValidateLogin(owner, data, parsed)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "authenticator response does not satisfy the challenge", err)
	}

	stored, err := s.credentials.GetCredential(ctx, credentialKey(validated.ID))
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return user.User{}, apperrors.New(apperrors.CodeCredentialNotFound, "asserted credential is not registered")
		}
		return user.User{}, fmt.Errorf("load credential: %w", err)
	}
	if err := auditCounter(stored, validated); err != nil {
		return user.User{}, err
	}

	usedAt := s.clock().UTC()
	if err := s.persistCredential(ctx, userID, validated, stored.CreatedAt, &usedAt); err != nil {
		return user.User{}, err
	}
	return owner.user, nil
}
