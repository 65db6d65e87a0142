package model

import "errors"

var (
	// ErrAccountMismatch indicates the installation's account is not the
	// account that administers the App.
	ErrAccountMismatch = errors.New("installation account does not match app owner")

	// ErrIncompleteSearch indicates GitHub search timed out and returned a
	// partial result set.
	ErrIncompleteSearch = errors.New("search results incomplete")
)

// FetchError reports a failed upstream listing, search, or pagination call.
// It is recoverable: the next read retries.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return "fetch " + e.Op + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AuthError reports a failed credential exchange or installation ownership check.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return "auth " + e.Op + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
