package presence

import (
	"context"
	"sync"
)

// MemoryRegistry is the in-process fallback backend. It is race-free within
// one process but invisible to other coordinator instances, a documented
// consistency degradation while the shared store is down.
type MemoryRegistry struct {
	mu sync.Mutex
	// room -> device -> set of connection ids
	rooms map[string]map[string]map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rooms: make(map[string]map[string]map[string]struct{})}
}

func (m *MemoryRegistry) Join(_ context.Context, roomID, deviceID, connID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices, ok := m.rooms[roomID]
	if !ok {
		devices = make(map[string]map[string]struct{})
		m.rooms[roomID] = devices
	}
	conns, ok := devices[deviceID]
	if !ok {
		conns = make(map[string]struct{})
		devices[deviceID] = conns
	}
	conns[connID] = struct{}{}
	return len(devices), nil
}

func (m *MemoryRegistry) Leave(_ context.Context, roomID, deviceID, connID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices, ok := m.rooms[roomID]
	if !ok {
		return 0, nil
	}
	if conns, ok := devices[deviceID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(devices, deviceID)
		}
	}
	if len(devices) == 0 {
		delete(m.rooms, roomID)
		return 0, nil
	}
	return len(devices), nil
}

func (m *MemoryRegistry) Count(_ context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[roomID]), nil
}
