package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"formrpc/registry"
)

// ConsistentHashBalancer maps each key (the method name) onto a hash ring
// so a given method keeps hitting the same instance while the instance set
// is stable. Every instance owns replicas virtual nodes to even out the ring.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.Mutex
	signature string // instance set the ring was built from
	ring      []uint32
	nodes     map[uint32]registry.ServiceInstance
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// Add places an instance on the ring. Pick rebuilds the ring itself when the
// discovered set changes, so Add is only needed to pre-seed a ring.
func (b *ConsistentHashBalancer) Add(instance registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nodes == nil {
		b.nodes = make(map[uint32]registry.ServiceInstance)
	}
	b.addLocked(instance)
	b.sortLocked()
	b.signature = ""
}

func (b *ConsistentHashBalancer) addLocked(instance registry.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
}

func (b *ConsistentHashBalancer) sortLocked() {
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

func (b *ConsistentHashBalancer) rebuildLocked(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	sig := strings.Join(addrs, "\x00")
	if sig == b.signature && len(b.ring) > 0 {
		return
	}
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]registry.ServiceInstance, len(instances)*b.replicas)
	for _, inst := range instances {
		b.addLocked(inst)
	}
	b.sortLocked()
	b.signature = sig
}

// Pick hashes key and walks clockwise to the first virtual node. When
// instances is non-empty the ring is first synced to it.
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(instances) > 0 {
		b.rebuildLocked(instances)
	}
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

	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
