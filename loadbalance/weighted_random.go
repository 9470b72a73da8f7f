package loadbalance

import (
	"math/rand/v2"

	"formrpc/registry"
)

// WeightedRandomBalancer picks instances with probability proportional to
// their Weight. Instances with no positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	totalWeight := 0
	for _, v := range instances {
		totalWeight += weightOf(v)
	}

	r := rand.IntN(totalWeight)
	for i := range instances {
		r -= weightOf(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weightOf(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
