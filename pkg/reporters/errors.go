package reporters

import (
	"fmt"
)

// AuthorizationErrorCode is the stable code carried by every AuthorizationError.
const AuthorizationErrorCode = "DATADOG_AUTHORIZATION_ERROR"

// AuthorizationError is returned when Datadog rejects the credentials,
// usually because of an invalid API key.  It is never retried.
type AuthorizationError struct {
	Status int
	Err    error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("could not authenticate with Datadog (status %d): %v", e.Status, e.Err)
}

// Code returns AuthorizationErrorCode.
func (e *AuthorizationError) Code() string {
	return AuthorizationErrorCode
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// DeliveryError is returned when a batch could not be delivered, either
// because the retries ran out, the response was not retryable, or the
// context was cancelled while waiting to retry.
type DeliveryError struct {
	// Attempts is the number of requests made, including the first one.
	Attempts int
	// Status is the HTTP status of the last response, or 0 if there was none.
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("failed to deliver metrics: %v", e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("failed to deliver metrics after %d attempt(s), last status %d: %v", e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("failed to deliver metrics after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// statusError is a non-2xx response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("bad status code: %d", e.status)
	}
	return fmt.Sprintf("bad status code: %d: %s", e.status, e.body)
}
