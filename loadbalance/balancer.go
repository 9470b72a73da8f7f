// Package loadbalance chooses which server instance receives a call when a
// client resolves its endpoint through a registry.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances, stateless methods
//   - WeightedRandom:  instances of different capacity
//   - ConsistentHash:  the same method always lands on the same instance
package loadbalance

import (
	"errors"
	"fmt"
	"strings"

	"formrpc/registry"
)

var ErrNoInstances = errors.New("no instances available")

// Balancer selects one instance per call. key is the remote method name;
// strategies that do not need affinity ignore it. Implementations must be
// safe for concurrent use.
type Balancer interface {
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// ByName returns the strategy registered under name.
func ByName(name string) (Balancer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "roundrobin", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted", "weightedrandom", "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "hash", "consistenthash", "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
