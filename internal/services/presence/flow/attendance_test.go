package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/services/presence/challenge"
)

func TestBeginAttendanceRequiresAuth(t *testing.T) {
	h := newHarness(t)
	sessionID := h.newSession(t)

	_, err := h.service.BeginAttendance(context.Background(), sessionID, AttendanceInput{
		Location: nearbyLocation, Factor: FactorPasskey,
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("begin = %v, want unauthenticated", err)
	}
}

func TestBeginAttendanceOutOfRange(t *testing.T) {
	h := newHarness(t)
	account := h.registerUser(t, "alice@example.com", "secret")
	sessionID := h.authedSession(t, account.ID)

	_, err := h.service.BeginAttendance(context.Background(), sessionID, AttendanceInput{
		Location: remoteLocation, Factor: FactorFace, ProbePath: "probe.jpg",
	})
	if apperrors.GetCode(err) != apperrors.CodeGeofenceOutOfRange {
		t.Fatalf("begin = %v, want out of range", err)
	}
	if apperrors.GetMetadata(err)["distance_m"] == "" {
		t.Fatalf("metadata = %v, want distance", apperrors.GetMetadata(err))
	}

	// The fence is checked before any factor work starts.
	if h.verifier.verifies != 0 {
		t.Fatal("verifier must not run for an out-of-range claim")
	}
	if _, err := h.service.FinishAttendance(context.Background(), sessionID, []byte(`{}`)); !errors.Is(err, challenge.ErrNotFound) {
		t.Fatalf("finish = %v, want no issued challenge", err)
	}
}

func TestPasskeyAttendanceFlow(t *testing.T) {
	h := newHarness(t)
	account := h.registerUser(t, "alice@example.com", "secret")
	sessionID := h.authedSession(t, account.ID)

	result, err := h.service.BeginAttendance(context.Background(), sessionID, AttendanceInput{
		Location: nearbyLocation, Factor: FactorPasskey,
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if result.Assertion == nil || result.Event != nil {
		t.Fatalf("result = %+v, want assertion only", result)
	}

	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.PendingLocation == nil || sess.PendingLocation.Latitude != nearbyLocation.Latitude {
		t.Fatalf("pending location = %+v, want claim captured at begin", sess.PendingLocation)
	}

	event, err := h.service.FinishAttendance(context.Background(), sessionID, []byte(`{}`))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if event.UserID != account.ID || event.Latitude != nearbyLocation.Latitude || event.Longitude != nearbyLocation.Longitude {
		t.Fatalf("event = %+v, want begin-time location", event)
	}

	events, err := h.attendance.ListAttendanceByUser(context.Background(), account.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v (%v), want exactly 1", events, err)
	}

	sess, err = h.sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("get session after finish: %v", err)
	}
	if sess.PendingLocation != nil {
		t.Fatal("pending location must be cleared after recording")
	}
}

func TestFinishAttendanceKeepsBeginTimeLocation(t *testing.T) {
	h := newHarness(t)
	account := h.registerUser(t, "alice@example.com", "secret")
	sessionID := h.authedSession(t, account.ID)

	input := AttendanceInput{Location: nearbyLocation, Factor: FactorPasskey}
	if _, err := h.service.BeginAttendance(context.Background(), sessionID, input); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Later claims must not displace the stashed position.
	input.Location = remoteLocation
	snapshot, err := h.sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	snapshot.PendingLocation.Latitude = remoteLocation.Latitude
	snapshot.PendingLocation.Longitude = remoteLocation.Longitude

	event, err := h.service.FinishAttendance(context.Background(), sessionID, []byte(`{}`))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if event.Latitude != nearbyLocation.Latitude || event.Longitude != nearbyLocation.Longitude {
		t.Fatalf("event at (%v, %v), want begin-time location", event.Latitude, event.Longitude)
	}
}

func TestFinishAttendanceConsumesChallengeOnce(t *testing.T) {
	h := newHarness(t)
	account := h.registerUser(t, "alice@example.com", "secret")
	sessionID := h.authedSession(t, account.ID)

	if _, err := h.service.BeginAttendance(context.Background(), sessionID, AttendanceInput{
		Location: nearbyLocation, Factor: FactorPasskey,
	}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := h.service.FinishAttendance(context.Background(), sessionID, []byte(`{}`)); err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if _, err := h.service.FinishAttendance(context.Background(), sessionID, []byte(`{}`)); !errors.Is(err, challenge.ErrNotFound) {
		t.Fatalf("second finish = %v, want challenge not found", err)
	}

	events, _ := h.attendance.ListAttendanceByUser(context.Background(), account.ID)
	if len(events) != 1 {
		t.Fatalf("events = %d, want exactly 1 despite the retry", len(events))
	}
}

func TestFinishAttendanceReplaySuspectedRecordsNothing(t *testing.T) {
	h := newHarness(t)
	account := h.registerUser(t, "alice@example.com", "secret")
	sessionID := h.authedSession(t, account.ID)

	seedCredentialCount(t, h, 7)
	h.provider.validateCredential = &webauthn.Credential{
		ID:            []byte("cred-1"),
		Authenticator: webauthn.Authenticator{SignCount: 3},
	}

	if _, err := h.service.BeginAttendance(context.Background(), sessionID, AttendanceInput{
		Location: nearbyLocation, Factor: FactorPasskey,
	}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := h.service.FinishAttendance(context.Background(), sessionID, []byte(`{}`)); !errors.Is(err, ErrReplaySuspected) {
		t.Fatalf("finish = %v, want replay suspected", err)
	}

	events, _ := h.attendance.ListAttendanceByUser(context.Background(), account.ID)
	if len(events) != 0 {
		t.Fatal("no event may be recorded on a suspected replay")
	}
}

func TestFaceAttendanceMatchRecordsEvent(t *testing.T) {
	h := newHarness(t)
	account := h.registerUser(t, "alice@example.com", "secret")
	sessionID := h.authedSession(t, account.ID)

	result, err := h.service.BeginAttendance(context.Background(), sessionID, AttendanceInput{
		Location: nearbyLocation, Factor: FactorFace, ProbePath: "probe.jpg",
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if result.Event == nil || result.Assertion != nil {
		t.Fatalf("result = %+v, want recorded event", result)
	}
	if result.Event.Latitude != nearbyLocation.Latitude {
		t.Fatalf("event location = %+v, want dispatch-time claim", result.Event)
	}

	events, _ := h.attendance.ListAttendanceByUser(context.Background(), account.ID)
	if len(events) != 1 {
		t.Fatalf("events = %d, want exactly 1", len(events))
	}
}

func TestFaceAttendanceMismatchRecordsNothing(t *testing.T) {
	h := newHarness(t)
	account := h.registerUser(t, "alice@example.com", "secret")
	h.verifier.match = false
	sessionID := h.authedSession(t, account.ID)

	_, err := h.service.BeginAttendance(context.Background(), sessionID, AttendanceInput{
		Location: nearbyLocation, Factor: FactorFace, ProbePath: "probe.jpg",
	})
	if apperrors.GetCode(err) != apperrors.CodeFaceMismatch {
		t.Fatalf("begin = %v, want face mismatch", err)
	}

	events, _ := h.attendance.ListAttendanceByUser(context.Background(), account.ID)
	if len(events) != 0 {
		t.Fatal("no event may be recorded on mismatch")
	}
}

func TestListAttendanceReturnsRecordedEvents(t *testing.T) {
	h := newHarness(t)
	account := h.registerUser(t, "alice@example.com", "secret")
	sessionID := h.authedSession(t, account.ID)

	if _, err := h.service.BeginAttendance(context.Background(), sessionID, AttendanceInput{
		Location: nearbyLocation, Factor: FactorFace, ProbePath: "probe.jpg",
	}); err != nil {
		t.Fatalf("begin: %v", err)
	}

	events, err := h.service.ListAttendance(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
}
