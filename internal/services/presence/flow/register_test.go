package flow

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/services/presence/challenge"
	"github.com/louisbranch/presence.space/internal/services/presence/user"
)

func registerInput() RegisterInput {
	return RegisterInput{
		Email:       "alice@example.com",
		Password:    "secret",
		SamplePaths: []string{"a.jpg", "b.jpg", "c.jpg"},
	}
}

func TestBeginRegistrationIssuesCreation(t *testing.T) {
	h := newHarness(t)
	sessionID := h.newSession(t)

	creation, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput())
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if creation == nil {
		t.Fatal("expected creation options")
	}

	stored, err := h.users.GetUserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if h.verifier.enrolls != 1 || len(h.verifier.lastEnroll) != 3 {
		t.Fatalf("enrolls = %d with %d samples, want 1 with 3", h.verifier.enrolls, len(h.verifier.lastEnroll))
	}
	templates, err := h.templates.ListFaceTemplatesByUser(context.Background(), stored.ID)
	if err != nil || len(templates) != 1 {
		t.Fatalf("templates = %v (%v), want 1", templates, err)
	}

	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.PendingUserID != stored.ID {
		t.Fatalf("pending user = %q, want %q", sess.PendingUserID, stored.ID)
	}
	if sess.Authenticated() {
		t.Fatal("session must not be authenticated before the ceremony finishes")
	}
}

func TestBeginRegistrationRejectsBadBatch(t *testing.T) {
	h := newHarness(t)
	sessionID := h.newSession(t)

	input := registerInput()
	input.SamplePaths = input.SamplePaths[:2]
	_, err := h.service.BeginRegistration(context.Background(), sessionID, input)
	if apperrors.GetCode(err) != apperrors.CodeEnrollmentBatchSize {
		t.Fatalf("begin = %v, want batch size error", err)
	}
	if apperrors.GetMetadata(err)["required"] != "3" {
		t.Fatalf("metadata = %v, want required batch size", apperrors.GetMetadata(err))
	}
	if h.verifier.enrolls != 0 {
		t.Fatal("verifier must not run for a rejected batch")
	}
}

func TestBeginRegistrationRejectsDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	h.registerUser(t, "alice@example.com", "secret")
	sessionID := h.newSession(t)

	_, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput())
	if apperrors.GetCode(err) != apperrors.CodeUserAlreadyExists {
		t.Fatalf("begin = %v, want already exists", err)
	}
}

func TestBeginRegistrationRejectsInvalidEmail(t *testing.T) {
	h := newHarness(t)
	sessionID := h.newSession(t)

	input := registerInput()
	input.Email = "not-an-email"
	if _, err := h.service.BeginRegistration(context.Background(), sessionID, input); !errors.Is(err, user.ErrInvalidEmail) {
		t.Fatalf("begin = %v, want invalid email", err)
	}
}

func TestBeginRegistrationRejectsWhilePending(t *testing.T) {
	h := newHarness(t)
	sessionID := h.newSession(t)

	if _, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput()); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	input := registerInput()
	input.Email = "bob@example.com"
	if _, err := h.service.BeginRegistration(context.Background(), sessionID, input); !errors.Is(err, ErrRegistrationPending) {
		t.Fatalf("second begin = %v, want ErrRegistrationPending", err)
	}
}

func TestBeginRegistrationEnrollFailure(t *testing.T) {
	h := newHarness(t)
	h.verifier.enrollErr = apperrors.New(apperrors.CodeVerifierFailure, "no face found")
	sessionID := h.newSession(t)

	_, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput())
	if apperrors.GetCode(err) != apperrors.CodeVerifierFailure {
		t.Fatalf("begin = %v, want verifier failure", err)
	}

	stored, err := h.users.GetUserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("user lookup: %v", err)
	}
	templates, _ := h.templates.ListFaceTemplatesByUser(context.Background(), stored.ID)
	if len(templates) != 0 {
		t.Fatal("no template should be stored when enrollment fails")
	}
}

func TestBeginRegistrationRestartsAbandonedAccount(t *testing.T) {
	h := newHarness(t)
	h.verifier.enrollErr = apperrors.New(apperrors.CodeVerifierFailure, "no face found")
	sessionID := h.newSession(t)

	if _, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput()); err == nil {
		t.Fatal("expected enrollment failure")
	}
	abandoned, err := h.users.GetUserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("user lookup: %v", err)
	}

	// The same email registers again once the record holds no credential.
	h.verifier.enrollErr = nil
	retrySession := h.newSession(t)
	if _, err := h.service.BeginRegistration(context.Background(), retrySession, registerInput()); err != nil {
		t.Fatalf("retry begin: %v", err)
	}
	retried, err := h.users.GetUserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("user lookup after retry: %v", err)
	}
	if retried.ID != abandoned.ID {
		t.Fatalf("user id = %q, want reclaimed %q", retried.ID, abandoned.ID)
	}
	templates, _ := h.templates.ListFaceTemplatesByUser(context.Background(), retried.ID)
	if len(templates) != 1 {
		t.Fatalf("templates = %d, want exactly 1 after restart", len(templates))
	}
}

func TestFinishRegistrationStoresCredential(t *testing.T) {
	h := newHarness(t)
	sessionID := h.newSession(t)

	if _, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	account, err := h.service.FinishRegistration(context.Background(), sessionID, []byte(`{}`))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if account.Email != "alice@example.com" {
		t.Fatalf("email = %q", account.Email)
	}

	stored, err := h.credentials.GetCredential(context.Background(), credentialKey([]byte("cred-1")))
	if err != nil {
		t.Fatalf("credential not stored: %v", err)
	}
	if stored.UserID != account.ID {
		t.Fatalf("credential owner = %q, want %q", stored.UserID, account.ID)
	}

	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.Authenticated() || sess.UserID != account.ID || sess.PendingUserID != "" {
		t.Fatalf("session = %+v, want authenticated with no pending user", sess)
	}

	credentials, err := h.credentials.ListCredentialsByUser(context.Background(), account.ID)
	if err != nil || len(credentials) != 1 {
		t.Fatalf("credentials = %v (%v), want exactly 1", credentials, err)
	}
	events, _ := h.attendance.ListAttendanceByUser(context.Background(), account.ID)
	if len(events) != 0 {
		t.Fatal("registration must not record attendance")
	}
}

func TestFinishRegistrationConsumesChallengeOnce(t *testing.T) {
	h := newHarness(t)
	sessionID := h.newSession(t)

	if _, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := h.service.FinishRegistration(context.Background(), sessionID, []byte(`{}`)); err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if _, err := h.service.FinishRegistration(context.Background(), sessionID, []byte(`{}`)); !errors.Is(err, challenge.ErrNotFound) {
		t.Fatalf("second finish = %v, want challenge not found", err)
	}
}

func TestFinishRegistrationWithoutBegin(t *testing.T) {
	h := newHarness(t)
	sessionID := h.newSession(t)

	if _, err := h.service.FinishRegistration(context.Background(), sessionID, []byte(`{}`)); !errors.Is(err, challenge.ErrNotFound) {
		t.Fatalf("finish = %v, want challenge not found", err)
	}
}

func TestFinishRegistrationFailureReturnsSessionToStart(t *testing.T) {
	h := newHarness(t)
	sessionID := h.newSession(t)

	if _, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	h.provider.createErr = errors.New("challenge mismatch")
	if _, err := h.service.FinishRegistration(context.Background(), sessionID, []byte(`{}`)); err == nil {
		t.Fatal("expected finish to fail")
	}

	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.PendingUserID != "" {
		t.Fatalf("pending user = %q, want cleared after failed finish", sess.PendingUserID)
	}

	h.provider.createErr = nil
	if _, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput()); err != nil {
		t.Fatalf("begin after failed finish: %v", err)
	}
	if _, err := h.service.FinishRegistration(context.Background(), sessionID, []byte(`{}`)); err != nil {
		t.Fatalf("finish after retry: %v", err)
	}
}

func TestFinishRegistrationInvalidResponse(t *testing.T) {
	h := newHarness(t)
	h.provider.createErr = errors.New("challenge mismatch")
	sessionID := h.newSession(t)

	if _, err := h.service.BeginRegistration(context.Background(), sessionID, registerInput()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err := h.service.FinishRegistration(context.Background(), sessionID, []byte(`{}`))
	if apperrors.GetCode(err) != apperrors.CodeChallengeMismatch {
		t.Fatalf("finish = %v, want challenge mismatch", err)
	}
}
