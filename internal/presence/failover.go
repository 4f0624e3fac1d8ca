package presence

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Failover fronts a shared primary backend with an in-process fallback.
// Every mutation is mirrored into the fallback so its view stays warm; when
// the primary errors the fallback value is returned instead. Presence is
// advisory, so Failover never surfaces an error to callers; degradation is
// logged once per state change, not once per operation.
type Failover struct {
	primary  Registry
	fallback Registry
	logger   *zap.Logger
	degraded atomic.Bool
}

// NewFailover wires the dual-backend registry. primary may be nil when the
// shared store was never configured; the fallback then serves alone.
func NewFailover(primary, fallback Registry, logger *zap.Logger) *Failover {
	return &Failover{primary: primary, fallback: fallback, logger: logger}
}

// Degraded reports whether the last primary operation failed.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

func (f *Failover) Join(ctx context.Context, roomID, deviceID, connID string) int {
	local, _ := f.fallback.Join(ctx, roomID, deviceID, connID)
	if f.primary == nil {
		return local
	}
	shared, err := f.primary.Join(ctx, roomID, deviceID, connID)
	if err != nil {
		f.markDegraded(err)
		return local
	}
	f.markHealthy()
	return shared
}

func (f *Failover) Leave(ctx context.Context, roomID, deviceID, connID string) int {
	local, _ := f.fallback.Leave(ctx, roomID, deviceID, connID)
	if f.primary == nil {
		return local
	}
	shared, err := f.primary.Leave(ctx, roomID, deviceID, connID)
	if err != nil {
		f.markDegraded(err)
		return local
	}
	f.markHealthy()
	return shared
}

func (f *Failover) Count(ctx context.Context, roomID string) int {
	if f.primary != nil {
		if shared, err := f.primary.Count(ctx, roomID); err == nil {
			f.markHealthy()
			return shared
		} else {
			f.markDegraded(err)
		}
	}
	local, _ := f.fallback.Count(ctx, roomID)
	return local
}

func (f *Failover) markDegraded(err error) {
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("presence degraded to in-process fallback", zap.Error(err))
	}
}

func (f *Failover) markHealthy() {
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Info("presence shared backend recovered")
	}
}
