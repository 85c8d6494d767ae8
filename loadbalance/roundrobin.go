package loadbalance

import (
	"errors"
	"sync/atomic"

	"peerrpc/discovery"
)

// ErrNoInstances is returned when a lookup produced an empty instance list.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// RoundRobin distributes picks evenly across instances in order, using an
// atomic counter for lock-free goroutine safety.
type RoundRobin struct {
	counter atomic.Int64
}

func (b *RoundRobin) Pick(instances []discovery.Instance) (*discovery.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	index := b.counter.Add(1) % int64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
