package flow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-webauthn/webauthn/protocol"
	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/services/presence/ceremony"
	"github.com/louisbranch/presence.space/internal/services/presence/session"
	"github.com/louisbranch/presence.space/internal/services/presence/storage"
	"github.com/louisbranch/presence.space/internal/services/presence/user"
)

// RegisterInput starts a registration: account details plus the biometric
// enrollment batch captured by the client.
type RegisterInput struct {
	Email       string
	Password    string
	SamplePaths []string
}

// BeginRegistration creates the account, enrolls the face reference, and
// issues the passkey creation challenge.
//
// The enrollment batch must carry exactly the configured number of samples.
// Account creation and enrollment happen before the ceremony so a user never
// holds a passkey without a biometric reference.
func (s *Service) BeginRegistration(ctx context.Context, sessionID string, input RegisterInput) (*protocol.CredentialCreation, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.PendingUserID != "" {
		return nil, ErrRegistrationPending
	}

	normalized, err := user.NormalizeCreateUserInput(user.CreateUserInput{
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		return nil, err
	}
	if len(input.SamplePaths) != s.enrollmentSamples {
		return nil, apperrors.WithMetadata(apperrors.CodeEnrollmentBatchSize,
			fmt.Sprintf("enrollment requires exactly %d samples", s.enrollmentSamples),
			map[string]string{
				"required": strconv.Itoa(s.enrollmentSamples),
				"received": strconv.Itoa(len(input.SamplePaths)),
			})
	}

	created, err := s.createOrRestartUser(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if err := s.verifier.Enroll(ctx, created.ID, input.SamplePaths); err != nil {
		return nil, err
	}
	if err := s.ensureFaceTemplate(ctx, created.ID); err != nil {
		return nil, err
	}

	creation, sessionData, err := s.provider.BeginRegistration(ceremonyUser{user: created})
	if err != nil {
		return nil, fmt.Errorf("begin registration ceremony: %w", err)
	}
	if err := s.ledger.Issue(ctx, sessionID, ceremony.PurposeRegister, created.ID, sessionData); err != nil {
		return nil, err
	}
	err = s.sessions.Update(sessionID, func(live *session.Session) {
		live.PendingUserID = created.ID
	})
	if err != nil {
		return nil, err
	}
	return creation, nil
}

// createOrRestartUser creates the account, or restarts an abandoned
// registration for the same email.
//
// An account counts as registered once it holds a credential; a record left
// behind by a failed enrollment or an unfinished ceremony is reclaimed with a
// fresh password hash rather than blocking the email forever.
func (s *Service) createOrRestartUser(ctx context.Context, input user.CreateUserInput) (user.User, error) {
	existing, err := s.users.GetUserByEmail(ctx, input.Email)
	switch {
	case err == nil:
		credentials, listErr := s.credentials.ListCredentialsByUser(ctx, existing.ID)
		if listErr != nil {
			return user.User{}, fmt.Errorf("list credentials: %w", listErr)
		}
		if len(credentials) > 0 {
			return user.User{}, apperrors.New(apperrors.CodeUserAlreadyExists, "an account with this email already exists")
		}
		refreshed, createErr := user.CreateUser(input, s.clock, s.idGenerator)
		if createErr != nil {
			return user.User{}, createErr
		}
		refreshed.ID = existing.ID
		refreshed.CreatedAt = existing.CreatedAt
		if putErr := s.users.PutUser(ctx, refreshed); putErr != nil {
			return user.User{}, fmt.Errorf("store user: %w", putErr)
		}
		return refreshed, nil
	case apperrors.GetCode(err) == apperrors.CodeNotFound:
		created, createErr := user.CreateUser(input, s.clock, s.idGenerator)
		if createErr != nil {
			return user.User{}, createErr
		}
		if putErr := s.users.PutUser(ctx, created); putErr != nil {
			return user.User{}, fmt.Errorf("store user: %w", putErr)
		}
		return created, nil
	default:
		return user.User{}, fmt.Errorf("check email uniqueness: %w", err)
	}
}

// ensureFaceTemplate records the matcher reference handle once per user; a
// restarted enrollment overwrites the matcher-side reference, not the row.
func (s *Service) ensureFaceTemplate(ctx context.Context, userID string) error {
	templates, err := s.templates.ListFaceTemplatesByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list face templates: %w", err)
	}
	if len(templates) > 0 {
		return nil
	}
	templateID, err := s.idGenerator()
	if err != nil {
		return fmt.Errorf("generate template id: %w", err)
	}
	err = s.templates.PutFaceTemplate(ctx, storage.FaceTemplate{
		ID:        templateID,
		UserID:    userID,
		Reference: "faces/" + userID,
		CreatedAt: s.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("store face template: %w", err)
	}
	return nil
}

// FinishRegistration consumes the registration challenge, validates the
// authenticator response, and stores the new credential. The session becomes
// authenticated for the registered user. A failed completion abandons the
// ceremony; the session can begin again.
func (s *Service) FinishRegistration(ctx context.Context, sessionID string, response []byte) (user.User, error) {
	account, err := s.finishRegistration(ctx, sessionID, response)
	if err != nil {
		s.abandonCeremony(sessionID)
		return user.User{}, err
	}
	return account, nil
}

func (s *Service) finishRegistration(ctx context.Context, sessionID string, response []byte) (user.User, error) {
	consumed, err := s.ledger.Consume(ctx, sessionID, ceremony.PurposeRegister)
	if err != nil {
		return user.User{}, err
	}

	owner, err := s.loadCeremonyUser(ctx, consumed.UserID)
	if err != nil {
		return user.User{}, err
	}
	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "authenticator response is not parsable", err)
	}
	credential, err := s.provider.CreateCredential(owner, consumed.Data, parsed)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "authenticator response does not satisfy the challenge", err)
	}

	if err := s.persistCredential(ctx, owner.user.ID, credential, s.clock().UTC(), nil); err != nil {
		return user.User{}, err
	}
	err = s.sessions.Update(sessionID, func(live *session.Session) {
		live.UserID = owner.user.ID
		live.PendingUserID = ""
	})
	if err != nil {
		return user.User{}, err
	}
	return owner.user, nil
}
