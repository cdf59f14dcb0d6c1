package circuitbreaker

type State int

const (
	// StateClosed - requests reach the upstream
	StateClosed State = iota

	// StateOpen - requests fail fast until the open timeout elapses
	StateOpen

	// StateHalfOpen - a trial request decides whether to close again
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
