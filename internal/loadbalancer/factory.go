package loadbalancer

import (
	"fmt"
	"strings"
)

const (
	RoundRobinName       = "round_robin"
	RandomName           = "random"
	LeastConnectionsName = "least_connections"
)

// NewStrategy resolves a strategy by its config name. Hyphens are accepted
// in place of underscores and an empty name selects round robin.
func NewStrategy(name string) (Strategy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_") {
	case RoundRobinName, "":
		return NewRoundRobin(), nil
	case RandomName:
		return NewRandom(), nil
	case LeastConnectionsName:
		return NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q (want %s, %s or %s)",
			name, RoundRobinName, RandomName, LeastConnectionsName)
	}
}
