// Package errors provides structured error handling with error codes for simple-session.
//
// Every failure the login flow can surface is one of a small set of codes, so the
// UI layer can decide between "show inline", "wait and retry" and "surface verbatim"
// without string matching.
//
// # Basic Usage
//
//	err := errors.New(errors.ErrCodeRateLimitExceeded, "too many sign-in attempts")
//	err := errors.Wrap(providerErr, errors.ErrCodeProviderUnavailable, "identity provider unreachable")
//
//	if errors.IsCode(err, errors.ErrCode2FAInvalid) {
//		// clear the code input
//	}
//
// # Error Codes
//
// Sign-in taxonomy:
//   - ErrCodeInvalidCredentials: rejected password, shown inline
//   - ErrCodeRateLimitExceeded: attempt budget exhausted, no provider call was made
//   - ErrCodeProviderUnavailable: transient provider failure, retried by the user
//   - ErrCodeConfiguration: provider misconfiguration, surfaced verbatim
//   - ErrCode2FAExpired: the challenge expired and a new one was issued
//   - ErrCode2FAInvalid: wrong or malformed code
//
// Flow guards:
//   - ErrCodeVerificationInProgress: a provider call is already in flight
//   - ErrCodeInvalidState: the operation does not apply to the current state
//   - ErrCodeSuspiciousActivity: only sign-out is accepted
//   - ErrCodeAttemptAbandoned: the attempt was abandoned while a call was in flight
//
// # HTTP Mapping
//
//	status := errors.MapErrorCodeToHTTPStatus(errors.GetCode(err))
package errors
