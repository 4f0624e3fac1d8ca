// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrRoomNotFound indicates the store definitively reported the room absent.
	ErrRoomNotFound = errors.New("room not found")

	// ErrStoreUnavailable indicates the shared backend could not be reached.
	// Callers must treat this as "unknown", never as "absent": acting on it
	// as if the room were empty loses data.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrFileNotFound indicates a file entry does not exist in the room.
	ErrFileNotFound = errors.New("file not found")

	// ErrTextNotFound indicates a text entry does not exist in the room.
	ErrTextNotFound = errors.New("text not found")

	// ErrUnknownEvent indicates an envelope carried a type outside the
	// closed event vocabulary.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrInvalidEvent indicates a recognised event with a malformed payload.
	ErrInvalidEvent = errors.New("invalid event payload")

	// ErrNegotiationClosed indicates an operation on a cleaned-up negotiation context.
	ErrNegotiationClosed = errors.New("negotiation context closed")

	// ErrNotSearching indicates a matchmaking operation for a device that is not queued.
	ErrNotSearching = errors.New("device not searching")
)
