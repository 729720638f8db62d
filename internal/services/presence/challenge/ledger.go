// Package challenge issues and consumes single-use ceremony challenges.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
	"github.com/louisbranch/presence.space/internal/platform/id"
	"github.com/louisbranch/presence.space/internal/services/presence/ceremony"
	"github.com/louisbranch/presence.space/internal/services/presence/storage"
)

var (
	// ErrNotFound indicates no challenge was issued, or it was already consumed.
	ErrNotFound = apperrors.New(apperrors.CodeChallengeNotFound, "no challenge issued for this session and purpose")
	// ErrExpired indicates the challenge TTL elapsed before consumption.
	ErrExpired = apperrors.New(apperrors.CodeChallengeExpired, "challenge expired")
	// ErrMismatch indicates the presented response does not correspond to the
	// issued challenge; the determination is delegated to the ceremony verifier.
	ErrMismatch = apperrors.New(apperrors.CodeChallengeMismatch, "response does not match the issued challenge")
)

// Consumed is a claimed challenge ready for ceremony validation.
type Consumed struct {
	UserID string
	Data   webauthn.SessionData
}

// Ledger stores issued challenges and enforces single-use consumption.
//
// State per (session, purpose) moves Unissued → Issued → {Consumed |
// Expired}; reissuing while Issued supersedes the prior challenge rather than
// stacking.
type Ledger struct {
	store       storage.ChallengeStore
	ttl         time.Duration
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewLedger builds a ledger over the given store with the ceremony TTL.
func NewLedger(store storage.ChallengeStore, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Ledger{
		store:       store,
		ttl:         ttl,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// WithClock overrides the ledger clock, used by tests.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Issue stores the ceremony session data as the challenge for (session,
// purpose), superseding any prior issued challenge for the pair.
func (l *Ledger) Issue(ctx context.Context, sessionID string, purpose ceremony.Purpose, userID string, data *webauthn.SessionData) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("challenge store is not configured")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if !purpose.Valid() {
		return fmt.Errorf("unknown challenge purpose %q", purpose)
	}
	if data == nil {
		return fmt.Errorf("ceremony session data is required")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode ceremony session: %w", err)
	}
	challengeID, err := l.idGenerator()
	if err != nil {
		return fmt.Errorf("generate challenge id: %w", err)
	}

	now := l.clock().UTC()
	return l.store.PutChallenge(ctx, storage.Challenge{
		ID:          challengeID,
		SessionID:   sessionID,
		Purpose:     string(purpose),
		UserID:      userID,
		SessionJSON: string(payload),
		IssuedAt:    now,
		ExpiresAt:   now.Add(l.ttl),
	})
}

// Consume atomically claims the challenge for (session, purpose).
//
// A second consume for the same pair reports ErrNotFound; an elapsed TTL
// reports ErrExpired. Response/challenge correspondence is NOT checked here —
// that is the ceremony verifier's job once the caller validates the response
// against the returned session data.
func (l *Ledger) Consume(ctx context.Context, sessionID string, purpose ceremony.Purpose) (Consumed, error) {
	if l == nil || l.store == nil {
		return Consumed{}, fmt.Errorf("challenge store is not configured")
	}
	if sessionID == "" {
		return Consumed{}, fmt.Errorf("session id is required")
	}
	if !purpose.Valid() {
		return Consumed{}, fmt.Errorf("unknown challenge purpose %q", purpose)
	}

	claimed, err := l.store.ClaimChallenge(ctx, sessionID, string(purpose))
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return Consumed{}, ErrNotFound
		}
		return Consumed{}, fmt.Errorf("claim challenge: %w", err)
	}
	if claimed.ExpiresAt.Before(l.clock().UTC()) {
		return Consumed{}, ErrExpired
	}

	var data webauthn.SessionData
	if err := json.Unmarshal([]byte(claimed.SessionJSON), &data); err != nil {
		return Consumed{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	return Consumed{UserID: claimed.UserID, Data: data}, nil
}

// Sweep removes expired challenges; called by the periodic cleanup loop.
func (l *Ledger) Sweep(ctx context.Context) error {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.DeleteExpiredChallenges(ctx, l.clock().UTC())
}
