// Package errors provides structured error handling for the presence service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidLocation Code = "INVALID_LOCATION"

	// Identity errors
	CodeUserEmptyEmail       Code = "USER_EMPTY_EMAIL"
	CodeUserInvalidEmail     Code = "USER_INVALID_EMAIL"
	CodeUserEmptyPassword    Code = "USER_EMPTY_PASSWORD"
	CodeUserAlreadyExists    Code = "USER_ALREADY_EXISTS"
	CodeUserNotFound         Code = "USER_NOT_FOUND"
	CodeSessionUnauthorized  Code = "SESSION_UNAUTHORIZED"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeRegistrationPending  Code = "REGISTRATION_ALREADY_PENDING"
	CodeEnrollmentBatchSize  Code = "ENROLLMENT_BATCH_SIZE"
	CodeEnrollmentNoTemplate Code = "ENROLLMENT_NO_TEMPLATE"

	// Geofence errors
	CodeGeofenceOutOfRange Code = "GEOFENCE_OUT_OF_RANGE"

	// Challenge errors
	CodeChallengeNotFound Code = "CHALLENGE_NOT_FOUND"
	CodeChallengeExpired  Code = "CHALLENGE_EXPIRED"
	CodeChallengeMismatch Code = "CHALLENGE_MISMATCH"

	// Credential errors
	CodeCredentialNotFound        Code = "CREDENTIAL_NOT_FOUND"
	CodeCredentialReplaySuspected Code = "CREDENTIAL_REPLAY_SUSPECTED"

	// Biometric verification errors
	CodeVerificationAlreadyPending Code = "VERIFICATION_ALREADY_PENDING"
	CodeVerifierFailure            Code = "VERIFIER_FAILURE"
	CodeVerifierTimeout            Code = "VERIFIER_TIMEOUT"
	CodeFaceMismatch               Code = "FACE_MISMATCH"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps the error code to an HTTP status for the REST boundary.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidInput, CodeInvalidLocation, CodeUserEmptyEmail,
		CodeUserInvalidEmail, CodeUserEmptyPassword, CodeEnrollmentBatchSize,
		CodeChallengeExpired, CodeChallengeMismatch:
		return http.StatusBadRequest
	case CodeUserAlreadyExists:
		return http.StatusConflict
	case CodeUserNotFound, CodeSessionNotFound, CodeChallengeNotFound,
		CodeCredentialNotFound, CodeNotFound, CodeEnrollmentNoTemplate:
		return http.StatusNotFound
	case CodeSessionUnauthorized, CodeFaceMismatch, CodeCredentialReplaySuspected:
		return http.StatusUnauthorized
	case CodeGeofenceOutOfRange:
		return http.StatusForbidden
	case CodeRegistrationPending, CodeVerificationAlreadyPending:
		return http.StatusConflict
	case CodeVerifierTimeout:
		return http.StatusGatewayTimeout
	case CodeVerifierFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
