// Package loadbalance selects one endpoint among the instances a discovery
// lookup returned.
//
//   - RoundRobin:      stateless peers with equal capacity
//   - WeightedRandom:  heterogeneous peers (different CPU/memory)
//   - ConsistentHash:  key affinity for stateful peers
package loadbalance

import "peerrpc/discovery"

// Balancer picks a target instance before each connection is chosen.
// Implementations must be goroutine-safe.
type Balancer interface {
	Pick(instances []discovery.Instance) (*discovery.Instance, error)

	// Name returns the strategy name, for logging.
	Name() string
}
