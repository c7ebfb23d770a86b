package casting

import "errors"

// Protocol errors. Events failing with one of these are dropped without
// touching room state.
var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrBadPayload       = errors.New("malformed payload")
	ErrNotMember        = errors.New("sender is not in a room")
	ErrNotCaster        = errors.New("sender is not the room's caster")
	ErrAlreadyCasting   = errors.New("sender is already casting in another room")
	ErrRoomTaken        = errors.New("room has another caster")
	ErrCasterCannotJoin = errors.New("a caster cannot join another room")
)

// ErrHandlerPanic wraps a recovered panic from an event handler.
var ErrHandlerPanic = errors.New("event handler panicked")
