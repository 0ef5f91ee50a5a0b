package peer

import "errors"

var (
	// ErrInvalidState is returned when an operation is not valid in the
	// connection's current negotiation state.
	ErrInvalidState = errors.New("invalid negotiation state")

	// ErrNegotiation wraps malformed or unexpected session descriptions and
	// failures to generate or apply them.
	ErrNegotiation = errors.New("negotiation failed")

	// ErrCandidate wraps failures to apply a remote ICE candidate.
	ErrCandidate = errors.New("ice candidate rejected")

	// ErrClosed is returned once the connection has been closed, or when an
	// operation's result was discarded because a reset or close overtook it.
	ErrClosed = errors.New("peer connection closed")
)
