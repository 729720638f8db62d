package biometric

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/platform/id"
	"github.com/louisbranch/presence.space/internal/services/presence/geofence"
	"github.com/louisbranch/presence.space/internal/services/presence/storage"
)

var (
	// ErrAlreadyPending indicates the session already has an in-flight verification.
	ErrAlreadyPending = apperrors.New(apperrors.CodeVerificationAlreadyPending, "a verification is already pending for this session")
	// ErrNoTemplate indicates the user has no enrolled biometric reference.
	ErrNoTemplate = apperrors.New(apperrors.CodeEnrollmentNoTemplate, "no biometric reference enrolled for this user")
	// ErrNoPending indicates no verification was dispatched for the session.
	ErrNoPending = apperrors.New(apperrors.CodeNotFound, "no verification pending for this session")
	// ErrMismatch indicates the probe did not match the enrolled reference.
	ErrMismatch = apperrors.New(apperrors.CodeFaceMismatch, "face does not match the enrolled reference")
)

// Status is the terminal state of a dispatched verification.
type Status string

const (
	StatusMatched    Status = "matched"
	StatusMismatched Status = "mismatched"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

// Outcome reports how a dispatched verification ended.
//
// Err carries the domain error for every non-matched status. Event is set
// only when a matched verification carried a location and recorded attendance.
type Outcome struct {
	Status Status
	Err    error
	Event  *storage.AttendanceEvent
}

// Request describes one verification to dispatch.
//
// Location is captured here, at dispatch time; a later outcome uses this value
// even if the caller's position claim changes while the matcher runs. A nil
// location means the verification authenticates without recording attendance.
type Request struct {
	SessionID string
	UserID    string
	ProbePath string
	Location  *geofence.Location
}

type pendingVerification struct {
	done    chan struct{}
	outcome Outcome
}

// Orchestrator dispatches verifications to the matcher and tracks one
// in-flight verification per session.
type Orchestrator struct {
	verifier    Verifier
	templates   storage.FaceTemplateStore
	attendance  storage.AttendanceStore
	timeout     time.Duration
	clock       func() time.Time
	idGenerator func() (string, error)

	mu      sync.Mutex
	pending map[string]*pendingVerification
}

// NewOrchestrator builds an orchestrator with the configured hard timeout.
func NewOrchestrator(verifier Verifier, templates storage.FaceTemplateStore, attendance storage.AttendanceStore, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{
		verifier:    verifier,
		templates:   templates,
		attendance:  attendance,
		timeout:     timeout,
		clock:       time.Now,
		idGenerator: id.NewID,
		pending:     make(map[string]*pendingVerification),
	}
}

// WithClock overrides the orchestrator clock, used by tests.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Dispatch starts a verification for the session.
//
// It rejects the request when the user has no enrolled reference or when a
// verification is already in flight for the session; concurrent dispatches for
// one session admit exactly one. A finished verification the caller never
// resolved does not block the session: its entry is dropped and the new
// dispatch proceeds. The matcher runs detached from the caller's context so an
// abandoned request cannot cancel a verification mid-flight.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) error {
	if req.SessionID == "" || req.UserID == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "session id and user id are required")
	}
	if req.ProbePath == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "probe image is required")
	}

	templates, err := o.templates.ListFaceTemplatesByUser(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("list face templates: %w", err)
	}
	if len(templates) == 0 {
		return ErrNoTemplate
	}

	o.mu.Lock()
	if existing, exists := o.pending[req.SessionID]; exists {
		select {
		case <-existing.done:
			// Terminal but never resolved; its result is thrown away.
			delete(o.pending, req.SessionID)
		default:
			o.mu.Unlock()
			return ErrAlreadyPending
		}
	}
	p := &pendingVerification{done: make(chan struct{})}
	o.pending[req.SessionID] = p
	o.mu.Unlock()

	go o.verify(p, req)
	return nil
}

// Resolve blocks until the session's verification reaches a terminal state,
// then removes it so the session can dispatch again.
func (o *Orchestrator) Resolve(ctx context.Context, sessionID string) (Outcome, error) {
	o.mu.Lock()
	p, ok := o.pending[sessionID]
	o.mu.Unlock()
	if !ok {
		return Outcome{}, ErrNoPending
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	o.mu.Lock()
	if o.pending[sessionID] == p {
		delete(o.pending, sessionID)
	}
	o.mu.Unlock()
	return p.outcome, nil
}

// Discard drops any pending verification for the session. The matcher worker,
// if still running, finishes against the detached entry and its result is
// thrown away.
func (o *Orchestrator) Discard(sessionID string) {
	o.mu.Lock()
	delete(o.pending, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) verify(p *pendingVerification, req Request) {
	defer close(p.done)

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	matched, err := o.verifier.Verify(ctx, req.UserID, req.ProbePath)
	switch {
	case err != nil && apperrors.GetCode(err) == apperrors.CodeVerifierTimeout:
		p.outcome = Outcome{Status: StatusTimedOut, Err: err}
	case err != nil && ctx.Err() != nil:
		p.outcome = Outcome{Status: StatusTimedOut,
			Err: apperrors.Wrap(apperrors.CodeVerifierTimeout, "verification did not finish in time", ctx.Err())}
	case err != nil:
		p.outcome = Outcome{Status: StatusFailed, Err: err}
	case !matched:
		p.outcome = Outcome{Status: StatusMismatched, Err: ErrMismatch}
	default:
		p.outcome = o.matchedOutcome(ctx, req)
	}
}

// matchedOutcome records attendance for a matched verification that carried a
// location. The event uses the location captured at dispatch.
func (o *Orchestrator) matchedOutcome(ctx context.Context, req Request) Outcome {
	if req.Location == nil {
		return Outcome{Status: StatusMatched}
	}

	eventID, err := o.idGenerator()
	if err != nil {
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("generate event id: %w", err)}
	}
	event := storage.AttendanceEvent{
		ID:         eventID,
		UserID:     req.UserID,
		RecordedAt: o.clock().UTC(),
		Latitude:   req.Location.Latitude,
		Longitude:  req.Location.Longitude,
	}
	if err := o.attendance.AppendAttendanceEvent(ctx, event); err != nil {
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("record attendance: %w", err)}
	}
	return Outcome{Status: StatusMatched, Event: &event}
}
