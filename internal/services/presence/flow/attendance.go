package flow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-webauthn/webauthn/protocol"
	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/services/presence/biometric"
	"github.com/louisbranch/presence.space/internal/services/presence/ceremony"
	"github.com/louisbranch/presence.space/internal/services/presence/geofence"
	"github.com/louisbranch/presence.space/internal/services/presence/session"
	"github.com/louisbranch/presence.space/internal/services/presence/storage"
)

// AttendanceInput starts an attendance mark: the claimed position plus the
// chosen verification factor.
type AttendanceInput struct {
	Location  geofence.Location
	Factor    Factor
	ProbePath string
}

// AttendanceChallenge is the result of starting an attendance mark.
//
// The passkey factor returns an assertion to finish later; the face factor
// resolves synchronously and Event carries the recorded attendance.
type AttendanceChallenge struct {
	Assertion *protocol.CredentialAssertion
	Event     *storage.AttendanceEvent
}

// BeginAttendance validates the geofence and starts the chosen factor.
//
// The fence is checked before any challenge is issued or probe dispatched: a
// user outside the radius learns only the distance, and no verification work
// starts on their behalf. The claimed location is captured here and reused at
// completion regardless of later claims.
func (s *Service) BeginAttendance(ctx context.Context, sessionID string, input AttendanceInput) (AttendanceChallenge, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return AttendanceChallenge{}, err
	}
	if !sess.Authenticated() {
		return AttendanceChallenge{}, ErrUnauthenticated
	}
	if !input.Factor.Valid() {
		return AttendanceChallenge{}, apperrors.New(apperrors.CodeInvalidInput, fmt.Sprintf("unknown factor %q", input.Factor))
	}

	result, err := s.fence.Evaluate(input.Location)
	if err != nil {
		return AttendanceChallenge{}, err
	}
	if !result.WithinRadius {
		return AttendanceChallenge{}, apperrors.WithMetadata(apperrors.CodeGeofenceOutOfRange,
			"claimed location is outside the attendance zone",
			map[string]string{
				"distance_m": strconv.FormatFloat(result.DistanceMeters, 'f', 1, 64),
				"radius_m":   strconv.FormatFloat(s.fence.Radius(), 'f', 1, 64),
			})
	}

	switch input.Factor {
	case FactorFace:
		return s.beginFaceAttendance(ctx, sessionID, sess.UserID, input)
	default:
		return s.beginPasskeyAttendance(ctx, sessionID, sess.UserID, input.Location)
	}
}

func (s *Service) beginPasskeyAttendance(ctx context.Context, sessionID, userID string, location geofence.Location) (AttendanceChallenge, error) {
	owner, err := s.loadCeremonyUser(ctx, userID)
	if err != nil {
		return AttendanceChallenge{}, err
	}
	if len(owner.credentials) == 0 {
		return AttendanceChallenge{}, apperrors.New(apperrors.CodeCredentialNotFound, "no passkey registered for this user")
	}

	assertion, sessionData, err := s.provider.BeginLogin(owner)
	if err != nil {
		return AttendanceChallenge{}, fmt.Errorf("begin attendance ceremony: %w", err)
	}
	if err := s.ledger.Issue(ctx, sessionID, ceremony.PurposeAttendance, userID, sessionData); err != nil {
		return AttendanceChallenge{}, err
	}
	err = s.sessions.Update(sessionID, func(live *session.Session) {
		live.PendingLocation = &location
	})
	if err != nil {
		return AttendanceChallenge{}, err
	}
	return AttendanceChallenge{Assertion: assertion}, nil
}

// beginFaceAttendance dispatches the probe with the validated location and
// blocks for the outcome; the orchestrator records the event on match.
func (s *Service) beginFaceAttendance(ctx context.Context, sessionID, userID string, input AttendanceInput) (AttendanceChallenge, error) {
	location := input.Location
	err := s.orchestrator.Dispatch(ctx, biometric.Request{
		SessionID: sessionID,
		UserID:    userID,
		ProbePath: input.ProbePath,
		Location:  &location,
	})
	if err != nil {
		return AttendanceChallenge{}, err
	}
	outcome, err := s.orchestrator.Resolve(ctx, sessionID)
	if err != nil {
		return AttendanceChallenge{}, err
	}
	if outcome.Status != biometric.StatusMatched {
		return AttendanceChallenge{}, outcome.Err
	}
	return AttendanceChallenge{Event: outcome.Event}, nil
}

// FinishAttendance consumes the attendance challenge, validates the
// assertion, and appends exactly one event using the location captured when
// the challenge was issued.
func (s *Service) FinishAttendance(ctx context.Context, sessionID string, response []byte) (storage.AttendanceEvent, error) {
	consumed, err := s.ledger.Consume(ctx, sessionID, ceremony.PurposeAttendance)
	if err != nil {
		return storage.AttendanceEvent{}, err
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return storage.AttendanceEvent{}, err
	}
	if sess.UserID != consumed.UserID {
		return storage.AttendanceEvent{}, ErrUnauthenticated
	}
	if sess.PendingLocation == nil {
		return storage.AttendanceEvent{}, apperrors.New(apperrors.CodeInvalidInput, "no location captured for this attendance ceremony")
	}
	location := *sess.PendingLocation

	if _, err := s.validateAssertion(ctx, consumed.UserID, consumed.Data, response); err != nil {
		return storage.AttendanceEvent{}, err
	}

	eventID, err := s.idGenerator()
	if err != nil {
		return storage.AttendanceEvent{}, fmt.Errorf("generate event id: %w", err)
	}
	event := storage.AttendanceEvent{
		ID:         eventID,
		UserID:     consumed.UserID,
		RecordedAt: s.clock().UTC(),
		Latitude:   location.Latitude,
		Longitude:  location.Longitude,
	}
	if err := s.attendance.AppendAttendanceEvent(ctx, event); err != nil {
		return storage.AttendanceEvent{}, fmt.Errorf("record attendance: %w", err)
	}
	err = s.sessions.Update(sessionID, func(live *session.Session) {
		live.PendingLocation = nil
	})
	if err != nil {
		return storage.AttendanceEvent{}, err
	}
	return event, nil
}
