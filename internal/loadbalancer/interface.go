package loadbalancer

// Strategy picks one upstream target per request.
type Strategy interface {
	// Next selects a target from the currently healthy ones, or "" when
	// targets is empty.
	Next(targets []string) string

	Name() string
}

// ConnectionTracker is implemented by strategies that need to know when a
// request to a target starts and ends.
type ConnectionTracker interface {
	Acquire(target string)
	Release(target string)
}
