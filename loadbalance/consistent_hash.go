package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"peerrpc/discovery"
)

// ConsistentHash maps keys to instances on a hash ring, so the same key
// keeps hitting the same peer until the ring changes — useful when peers
// hold per-key state or caches.
//
// Each real instance is projected onto the ring as N virtual nodes; without
// them a handful of instances could cluster on the ring and skew the load.
type ConsistentHash struct {
	replicas int
	ring     []uint32 // sorted hash positions
	nodes    map[uint32]*discovery.Instance
}

// NewConsistentHash builds an empty ring with 100 virtual nodes per
// instance.
func NewConsistentHash() *ConsistentHash {
	return &ConsistentHash{
		replicas: 100,
		nodes:    make(map[uint32]*discovery.Instance),
	}
}

// Add places an instance onto the ring. Not goroutine-safe with Pick;
// populate the ring before use.
func (b *ConsistentHash) Add(instance *discovery.Instance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Pick returns the instance owning key: the first ring node clockwise from
// the key's hash, wrapping to the start of the ring past the end.
//
// Pick is key-based rather than list-based, so ConsistentHash does not
// implement the Balancer interface directly.
func (b *ConsistentHash) Pick(key string) (*discovery.Instance, error) {
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHash) Name() string {
	return "ConsistentHash"
}
