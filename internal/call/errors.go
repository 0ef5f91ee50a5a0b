package call

import "errors"

var (
	// ErrNotReady is returned when an action is not valid in the session's
	// current phase.
	ErrNotReady = errors.New("call session not ready")

	// ErrEnded is returned by every action once the session has ended.
	ErrEnded = errors.New("call session ended")
)
