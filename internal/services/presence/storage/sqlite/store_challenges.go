package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/presence.space/internal/services/presence/storage"
)

// PutChallenge stores a ceremony challenge, superseding any prior challenge
// for the same (session, purpose) pair.
func (s *Store) PutChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(challenge.ID) == "" {
		return fmt.Errorf("challenge id is required")
	}
	if strings.TrimSpace(challenge.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(challenge.Purpose) == "" {
		return fmt.Errorf("purpose is required")
	}
	if strings.TrimSpace(challenge.SessionJSON) == "" {
		return fmt.Errorf("session json is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO challenges (id, session_id, purpose, user_id, session_json, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, purpose) DO UPDATE SET
			id = excluded.id,
			user_id = excluded.user_id,
			session_json = excluded.session_json,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at`,
		challenge.ID, challenge.SessionID, challenge.Purpose, challenge.UserID,
		challenge.SessionJSON, toMillis(challenge.IssuedAt), toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

// ClaimChallenge removes and returns the challenge for (session, purpose).
//
// The delete is guarded by the challenge row ID so concurrent claims observe
// exactly one winner: the loser's delete affects zero rows and reports
// ErrNotFound.
func (s *Store) ClaimChallenge(ctx context.Context, sessionID string, purpose string) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Challenge{}, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return storage.Challenge{}, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(purpose) == "" {
		return storage.Challenge{}, fmt.Errorf("purpose is required")
	}

	var challenge storage.Challenge
	var issuedAt int64
	var expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, session_id, purpose, user_id, session_json, issued_at, expires_at
		FROM challenges WHERE session_id = ? AND purpose = ?`,
		sessionID, purpose,
	).Scan(&challenge.ID, &challenge.SessionID, &challenge.Purpose, &challenge.UserID,
		&challenge.SessionJSON, &issuedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, fmt.Errorf("claim challenge: %w", err)
	}
	challenge.IssuedAt = fromMillis(issuedAt)
	challenge.ExpiresAt = fromMillis(expiresAt)

	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM challenges WHERE session_id = ? AND purpose = ? AND id = ?`,
		sessionID, purpose, challenge.ID,
	)
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("claim challenge: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("claim challenge: %w", err)
	}
	if rows != 1 {
		return storage.Challenge{}, storage.ErrNotFound
	}
	return challenge, nil
}

// DeleteExpiredChallenges removes challenges whose TTL elapsed.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM challenges WHERE expires_at < ?`, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("delete expired challenges: %w", err)
	}
	return nil
}
