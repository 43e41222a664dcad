// Package protocol defines the error taxonomy shared by the vehicle-cloud client packages.
//
// Errors are categorized along two axes: whether the triggering command may have been executed
// despite the error, and whether the condition is likely transient. Public client operations
// convert these errors into negative results or cached fallbacks; they are never fatal.
package protocol

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a command that might have been
	// executed. For example, if a client times out while waiting for a response, then the client
	// cannot tell if the command was received.
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition.
	Temporary() bool
}

var (
	// ErrAuthenticationFailed indicates the client could not obtain or refresh an access token.
	ErrAuthenticationFailed = NewError("authentication failed", false, true)
	// ErrBadResponse indicates the vendor cloud returned a body that does not match the
	// documented shape for the endpoint.
	ErrBadResponse = NewError("invalid response from vehicle cloud", true, false)
	// ErrNoStatus indicates the status feed omitted the telemetry item list.
	ErrNoStatus = NewError("status response missing telemetry items", false, true)
)

// CommandError wraps an error with success and transience hints.
type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

// NewError creates a categorized error.
func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// HttpError represents a non-2xx response from the vendor cloud.
type HttpError struct {
	Code    int
	Message string
}

func (e *HttpError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

func (e *HttpError) MayHaveSucceeded() bool {
	if e.Code >= 400 && e.Code < 500 {
		return false
	}
	return e.Code != http.StatusServiceUnavailable
}

func (e *HttpError) Temporary() bool {
	return e.Code == http.StatusServiceUnavailable ||
		e.Code == http.StatusGatewayTimeout ||
		e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests
}

// RateLimitError indicates the local inter-command cooldown is still active. The command was
// rejected before any network traffic.
type RateLimitError struct {
	Remaining time.Duration
}

// RemainingSeconds reports the wait rounded up to whole seconds, as shown to users.
func (e *RateLimitError) RemainingSeconds() int {
	return int((e.Remaining + time.Second - 1) / time.Second)
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("please wait %ds before sending another command", e.RemainingSeconds())
}

func (e *RateLimitError) MayHaveSucceeded() bool { return false }

func (e *RateLimitError) Temporary() bool { return true }

// CommandRejectedError indicates the vendor cloud accepted the request but reported a failure.
// Message and Code are surfaced verbatim from the response body.
type CommandRejectedError struct {
	Code    string
	Message string
}

func (e *CommandRejectedError) Error() string {
	if e.Message == "" {
		return "command rejected by vehicle cloud"
	}
	return e.Message
}

func (e *CommandRejectedError) MayHaveSucceeded() bool { return false }

func (e *CommandRejectedError) Temporary() bool { return false }

// MayHaveSucceeded returns true if err indicates the command may have been executed but the
// client did not receive confirmation.
func MayHaveSucceeded(err error) bool {
	if commErr, ok := err.(Error); ok && commErr.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err indicates the operation failed due to a possibly transient
// condition that does not require user action to resolve.
func Temporary(err error) bool {
	if commErr, ok := err.(Error); ok && commErr.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if the client should retry the operation that triggered err.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(Error); ok {
		return !e.MayHaveSucceeded() && e.Temporary()
	}
	return false
}
