// Package presence tracks which devices hold open connections to which
// rooms. A device with several tabs counts once: the room count is the
// cardinality of the device set, not the connection count.
package presence

import "context"

// Registry is one presence backend. Implementations must be safe for
// concurrent use.
type Registry interface {
	// Join adds connID to the device's per-room connection set and the
	// device to the room's device set, then returns the room's device count.
	Join(ctx context.Context, roomID, deviceID, connID string) (int, error)
	// Leave removes connID; when the device's last connection goes, the
	// device leaves the room's device set. Returns the remaining count.
	Leave(ctx context.Context, roomID, deviceID, connID string) (int, error)
	// Count returns the number of distinct devices present in the room.
	Count(ctx context.Context, roomID string) (int, error)
}
