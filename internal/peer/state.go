package peer

// State is the negotiation state of a connection.
type State string

const (
	StateNew          State = "new"
	StateLocalOffer   State = "local-offer-set"
	StateRemoteOffer  State = "remote-offer-set"
	StateLocalAnswer  State = "local-answer-set"
	StateRemoteAnswer State = "remote-answer-set"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

// rank orders states along both negotiation paths so transitions only
// ever move forward.
func (s State) rank() int {
	switch s {
	case StateNew:
		return 0
	case StateLocalOffer, StateRemoteOffer:
		return 1
	case StateLocalAnswer, StateRemoteAnswer:
		return 2
	case StateConnected:
		return 3
	case StateClosed:
		return 4
	}
	return -1
}

// Negotiated reports whether both descriptions are in place.
func (s State) Negotiated() bool {
	return s == StateLocalAnswer || s == StateRemoteAnswer || s == StateConnected
}
