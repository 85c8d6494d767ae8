package loadbalance

import (
	"math/rand"

	"peerrpc/discovery"
)

// WeightedRandom picks instances with probability proportional to their
// Weight. Instances with non-positive weight are never picked unless every
// weight is non-positive, in which case selection is uniform.
type WeightedRandom struct{}

func (b *WeightedRandom) Pick(instances []discovery.Instance) (*discovery.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	totalWeight := 0
	for _, inst := range instances {
		if inst.Weight > 0 {
			totalWeight += inst.Weight
		}
	}
	if totalWeight == 0 {
		return &instances[rand.Intn(len(instances))], nil
	}

	r := rand.Intn(totalWeight)
	for i := range instances {
		if instances[i].Weight <= 0 {
			continue
		}
		r -= instances[i].Weight
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandom) Name() string {
	return "WeightedRandom"
}
