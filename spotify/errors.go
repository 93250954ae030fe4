package spotify

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn is returned when no unexpired access token is available
	ErrNotLoggedIn = errors.New("not logged in to Spotify")

	// ErrLoginTimeout is returned when no token arrives before the login timeout
	ErrLoginTimeout = errors.New("timed out waiting for Spotify login")

	// ErrMissingCodeOrState is returned for a callback without code or state
	ErrMissingCodeOrState = errors.New("callback is missing code or state")

	// ErrMissingVerifier is returned when the callback arrives but no login is pending
	ErrMissingVerifier = errors.New("missing PKCE code verifier")

	// ErrEmptyQuery is returned by SearchTracks for a blank query
	ErrEmptyQuery = errors.New("search query is empty")
)

// StateMismatchError reports a callback whose state does not match the one
// stored when the login started. The stored state is never part of it.
type StateMismatchError struct {
	Actual  string
	Pending bool
}

func (e *StateMismatchError) Error() string {
	if !e.Pending {
		return fmt.Sprintf("state mismatch: no login pending, got %q", e.Actual)
	}
	return fmt.Sprintf("state mismatch: got %q, which does not belong to the pending login", e.Actual)
}

// AuthorizationError is the error the authorization server put in the
// redirect, e.g. access_denied when the user declines.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization error: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization error: %s", e.Code)
}
