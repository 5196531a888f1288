package activitypub

import "errors"

// Validation errors, reported to the caller as is.
var (
	ErrInvalidUsername = errors.New("username must match ^[a-z0-9_-]{1,50}$")
	ErrInvalidName     = errors.New("display name must not be empty")
	ErrEmptyContent    = errors.New("post content must not be empty")
)

// Referential misses. Inbound activities failing with one of these are
// discarded rather than retried, since the sender is at fault.
var (
	ErrNotLocalActor   = errors.New("not a local actor")
	ErrUnknownActor    = errors.New("unknown actor")
	ErrInvalidActivity = errors.New("invalid activity")
)

// IsDiscard reports whether err means the inbound activity should be dropped
// with a success status.
func IsDiscard(err error) bool {
	return errors.Is(err, ErrNotLocalActor) || errors.Is(err, ErrUnknownActor) || errors.Is(err, ErrInvalidActivity)
}
