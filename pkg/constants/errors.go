package constants

import "errors"

// Validation errors. They are returned synchronously, before any write is attempted.
var (
	ErrInvalidKind   = errors.New("invalid entity kind")
	ErrInvalidEntity = errors.New("invalid entity")
	ErrInvalidPath   = errors.New("invalid backend path")
	ErrAssetTooLarge = errors.New("asset exceeds maximum size")
	ErrNotFound      = errors.New("not found")
)

// Share token errors. A failed join never mutates session state.
var (
	ErrTokenMalformed = errors.New("share token is malformed")
	ErrTokenInvalid   = errors.New("share token is invalid")
	ErrTokenExpired   = errors.New("share token has expired")
	ErrTokenUsed      = errors.New("share token already used")
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// Lifecycle errors.
var (
	ErrClosed           = errors.New("closed")
	ErrSwitchInProgress = errors.New("session switch already in progress")
	ErrNoIdentity       = errors.New("no identity")
	ErrNoSharedSession  = errors.New("no shared session active")
)

// Transport errors.
var (
	ErrIDInUse            = errors.New("id already in use")
	ErrTimeout            = errors.New("timeout")
	ErrMethodNotAvailable = errors.New("method not available on this connection")
	ErrSubscriptionClosed = errors.New("subscription closed")
)
