// Package relay routes events to live connections: room-scoped broadcast,
// per-device fan-out, and point-to-point delivery. Ordering is FIFO per
// connection only; nothing is queued across a disconnect, and the room
// snapshot re-sent on rejoin is the only recovery path.
package relay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/models"
)

// Sender is one attached connection's outbound queue. Enqueue must not
// block; it reports false when the connection's buffer is full.
type Sender interface {
	ConnID() string
	Enqueue(data []byte) bool
}

type attachment struct {
	sender   Sender
	deviceID string
	roomID   string
}

// Relay tracks which connections belong to which rooms and devices.
type Relay struct {
	mu      sync.RWMutex
	conns   map[string]attachment
	rooms   map[string]map[string]struct{}
	devices map[string]map[string]struct{}
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Relay {
	return &Relay{
		conns:   make(map[string]attachment),
		rooms:   make(map[string]map[string]struct{}),
		devices: make(map[string]map[string]struct{}),
		logger:  logger,
	}
}

// Attach registers a connection under its device and room.
func (r *Relay) Attach(sender Sender, deviceID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID := sender.ConnID()
	r.conns[connID] = attachment{sender: sender, deviceID: deviceID, roomID: roomID}
	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = make(map[string]struct{})
	}
	r.rooms[roomID][connID] = struct{}{}
	if _, ok := r.devices[deviceID]; !ok {
		r.devices[deviceID] = make(map[string]struct{})
	}
	r.devices[deviceID][connID] = struct{}{}
}

// Detach removes a connection from all routing tables.
func (r *Relay) Detach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	if conns, ok := r.rooms[att.roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.rooms, att.roomID)
		}
	}
	if conns, ok := r.devices[att.deviceID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.devices, att.deviceID)
		}
	}
}

// DeviceOnline reports whether the device has at least one live connection.
func (r *Relay) DeviceOnline(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices[deviceID]) > 0
}

// BroadcastToRoom fans an event out to every connection in the room.
func (r *Relay) BroadcastToRoom(roomID string, env models.Envelope) {
	r.broadcastRoom(roomID, "", env)
}

// BroadcastToRoomExcept skips one connection, typically the originator.
func (r *Relay) BroadcastToRoomExcept(roomID, exceptConnID string, env models.Envelope) {
	r.broadcastRoom(roomID, exceptConnID, env)
}

func (r *Relay) broadcastRoom(roomID, exceptConnID string, env models.Envelope) {
	data, err := env.Encode()
	if err != nil {
		r.logger.Error("encode event", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID := range r.rooms[roomID] {
		if connID == exceptConnID {
			continue
		}
		r.deliver(connID, data)
	}
}

// SendToConnection delivers to one connection; a miss is a no-op because
// delivery across disconnects is explicitly not guaranteed.
func (r *Relay) SendToConnection(connID string, env models.Envelope) {
	data, err := env.Encode()
	if err != nil {
		r.logger.Error("encode event", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.deliver(connID, data)
}

// SendToDevice fans out to all of the device's connections.
func (r *Relay) SendToDevice(deviceID string, env models.Envelope) {
	data, err := env.Encode()
	if err != nil {
		r.logger.Error("encode event", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID := range r.devices[deviceID] {
		r.deliver(connID, data)
	}
}

func (r *Relay) deliver(connID string, data []byte) {
	att, ok := r.conns[connID]
	if !ok {
		return
	}
	if !att.sender.Enqueue(data) {
		r.logger.Warn("dropping event, send buffer full", zap.String("conn", connID))
	}
}
