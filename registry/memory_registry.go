package registry

import (
	"context"
	"sync"
)

// MemoryRegistry keeps instances in process. It ignores TTLs and suits tests
// and single-host setups without etcd.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string][]Instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{instances: make(map[string][]Instance)}
}

func (m *MemoryRegistry) Register(ctx context.Context, name string, inst Instance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.instances[name]
	for i, cur := range list {
		if cur.Addr == inst.Addr {
			list[i] = inst
			return nil
		}
	}
	m.instances[name] = append(list, inst)
	return nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, name string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.instances[name]
	for i, inst := range list {
		if inst.Addr == addr {
			m.instances[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryRegistry) Discover(ctx context.Context, name string) ([]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Instance(nil), m.instances[name]...), nil
}
