package roblox

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when a username or account id does not
	// resolve to an existing (non-banned) account.
	ErrUserNotFound = errors.New("roblox user not found")

	// ErrNoCredentials is returned by calls that need the ranking account's
	// cookie when none is configured.
	ErrNoCredentials = errors.New("roblox cookie not configured")
)

// APIError is a non-2xx response from a Roblox endpoint.
type APIError struct {
	Op      string // logical operation, e.g. "assign_role"
	Status  int
	Code    int    // first error code in the body, if any
	Message string // first error message in the body, or the raw body
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("roblox %s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("roblox %s: HTTP %d: %s", e.Op, e.Status, e.Message)
}

// errorBody is the envelope Roblox uses for failures.
type errorBody struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}
