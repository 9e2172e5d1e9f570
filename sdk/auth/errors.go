package auth

import (
	"errors"

	coreauth "github.com/aquila-desktop/aquila-auth/internal/auth"
)

// ErrStopped is returned by coordinator methods after Stop.
var ErrStopped = errors.New("auth coordinator: stopped")

// Re-exported taxonomy so callers of this package need not import the internal one.
var (
	ErrAlreadyInProgress   = coreauth.ErrAlreadyInProgress
	ErrNoActiveSession     = coreauth.ErrNoActiveSession
	ErrNoPendingLogin      = coreauth.ErrNoPendingLogin
	ErrListenerUnavailable = coreauth.ErrListenerUnavailable
	ErrInvalidGrant        = coreauth.ErrInvalidGrant
	ErrStorageError        = coreauth.ErrStorageError
)
