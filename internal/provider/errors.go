package provider

import (
	"errors"
	"fmt"

	"github.com/nhle/mailhub/internal/model"
)

// AuthError indicates a missing or rejected credential on a single
// provider call (HTTP 401/403 or a failed IMAP/SMTP login). It is the
// trigger for the one reactive refresh-and-retry cycle.
type AuthError struct {
	Provider model.Provider
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// AuthExpiredError indicates that a refresh attempt failed, or that a
// call retried after a successful refresh was still unauthorized. The
// account has been flipped to expired by the time this is returned.
type AuthExpiredError struct {
	Provider  model.Provider
	AccountID string
	Cause     error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("authorization expired (%s, account %s): %v",
		e.Provider, e.AccountID, e.Cause)
}

func (e *AuthExpiredError) Unwrap() error { return e.Cause }

// IsAuthExpired reports whether err is an AuthExpiredError.
func IsAuthExpired(err error) bool {
	var expErr *AuthExpiredError
	return errors.As(err, &expErr)
}

// TransientError indicates a 5xx response or a network failure. It is
// not retried beyond the single post-refresh retry.
type TransientError struct {
	Provider model.Provider
	Message  string
	Cause    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error (%s): %s", e.Provider, e.Message)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var trErr *TransientError
	return errors.As(err, &trErr)
}

// ValidationError indicates that a request is missing a required
// field or uses an unsupported folder/action combination.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// PartialBatchError reports a batch modify in which some ids failed.
// The full per-id results are carried so callers can return them.
type PartialBatchError struct {
	Results []ActionResult
}

func (e *PartialBatchError) Error() string {
	failed := 0
	for _, r := range e.Results {
		if !r.OK {
			failed++
		}
	}
	return fmt.Sprintf("%d of %d batch items failed", failed, len(e.Results))
}
