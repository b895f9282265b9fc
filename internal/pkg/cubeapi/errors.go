package cubeapi

import "fmt"

/*
 *   Error taxonomy for the cloud pipeline.  Auth failures halt the whole
 *   pipeline, transient failures are retryable at the call site, the rest
 *   are terminal for the specific operation only.
 */

// AuthError indicates the platform rejected our credentials or token.
// Fatal for the pipeline until resolved.
type AuthError struct {
	Code int
	Msg  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s (code %d)", e.Msg, e.Code)
}

// TransientError wraps a network error, timeout or 5xx response.  The
// operation may be retried with backoff by the caller.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// UserNotFoundError is returned when the platform has no account matching
// the supplied username.  Terminal for setup.
type UserNotFoundError struct {
	Username string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("no user found for username [%s]", e.Username)
}

// CommandRejectedError carries a platform-level business rejection of a
// device command (device offline, value refused).  Never retried here.
type CommandRejectedError struct {
	DeviceID string
	Code     int
	Msg      string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("command rejected for device %s: %s (code %d)", e.DeviceID, e.Msg, e.Code)
}

// APIError is any other non-success platform envelope
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform error: %s (code %d)", e.Msg, e.Code)
}
