// Package biometric orchestrates asynchronous face verification against an
// external matcher process.
package biometric

import "context"

// Verifier runs biometric enrollment and verification.
//
// Enroll builds a stored reference for the user from a batch of probe images.
// Verify compares a single probe against the user's stored reference and
// reports whether it matched.
type Verifier interface {
	Enroll(ctx context.Context, userID string, probePaths []string) error
	Verify(ctx context.Context, userID string, probePath string) (bool, error)
}
