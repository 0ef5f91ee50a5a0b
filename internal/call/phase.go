package call

// Phase is the lifecycle position of a Session.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseCapturing
	PhaseNegotiating
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCapturing:
		return "capturing"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

// InCall reports whether inbound signals are handled in this phase.
func (p Phase) InCall() bool {
	return p == PhaseNegotiating || p == PhaseActive
}
