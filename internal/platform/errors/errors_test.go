package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	base := New(CodeChallengeNotFound, "no challenge issued")
	other := New(CodeChallengeNotFound, "different message, same code")
	if !stderrors.Is(base, other) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(base, New(CodeChallengeExpired, "expired")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestGetCodeThroughWrapping(t *testing.T) {
	cause := stderrors.New("disk full")
	wrapped := Wrap(CodeVerifierFailure, "verifier exec failed", cause)
	chained := fmt.Errorf("mark attendance: %w", wrapped)

	if got := GetCode(chained); got != CodeVerifierFailure {
		t.Fatalf("GetCode = %q, want %q", got, CodeVerifierFailure)
	}
	if !stderrors.Is(chained, cause) {
		t.Fatal("expected cause to remain in the chain")
	}
}

func TestGetCodeUnknownForPlainErrors(t *testing.T) {
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("GetCode = %q, want %q", got, CodeUnknown)
	}
}

func TestGetMetadata(t *testing.T) {
	err := WithMetadata(CodeGeofenceOutOfRange, "outside fence", map[string]string{
		"distance_m": "150",
	})
	metadata := GetMetadata(fmt.Errorf("wrap: %w", err))
	if metadata["distance_m"] != "150" {
		t.Fatalf("metadata distance_m = %q, want %q", metadata["distance_m"], "150")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeInvalidLocation, http.StatusBadRequest},
		{CodeGeofenceOutOfRange, http.StatusForbidden},
		{CodeUserAlreadyExists, http.StatusConflict},
		{CodeChallengeNotFound, http.StatusNotFound},
		{CodeCredentialReplaySuspected, http.StatusUnauthorized},
		{CodeVerificationAlreadyPending, http.StatusConflict},
		{CodeVerifierTimeout, http.StatusGatewayTimeout},
		{CodeVerifierFailure, http.StatusBadGateway},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
	if got := HTTPStatus(stderrors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("HTTPStatus(plain) = %d, want 500", got)
	}
}
