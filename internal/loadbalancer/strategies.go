package loadbalancer

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

type RoundRobin struct {
	current atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	n := r.current.Add(1) - 1
	return targets[n%uint64(len(targets))]
}

func (r *RoundRobin) Name() string {
	return RoundRobinName
}

type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

func (Random) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	return targets[rand.Intn(len(targets))]
}

func (Random) Name() string {
	return RandomName
}

// LeastConnections prefers the target with the fewest in-flight
// requests; ties go to the earliest target in the list.
type LeastConnections struct {
	mu          sync.Mutex
	connections map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		connections: make(map[string]int),
	}
}

func (l *LeastConnections) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	selected := targets[0]
	minConn := l.connections[selected]

	for _, target := range targets[1:] {
		if conn := l.connections[target]; conn < minConn {
			minConn = conn
			selected = target
		}
	}

	return selected
}

func (l *LeastConnections) Acquire(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connections[target]++
}

func (l *LeastConnections) Release(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[target] > 0 {
		l.connections[target]--
	}
}

func (l *LeastConnections) Name() string {
	return LeastConnectionsName
}
