package content

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/errs"
	"github.com/mossy-p/roomdrop/internal/models"
)

// Failover fronts the shared content backend with an in-process mirror.
// Writes land in both; while the primary is unreachable the mirror serves
// alone. Definite backend answers (not-found and the like) pass through
// unchanged; only errs.ErrStoreUnavailable triggers the fallback path.
//
// When the primary is unreachable AND the mirror has no record of a room,
// Get still reports ErrStoreUnavailable: the room's state is unknown, not
// absent, and callers must not destroy anything on that basis.
type Failover struct {
	primary  Store
	fallback Store
	logger   *zap.Logger
	degraded atomic.Bool
}

func NewFailover(primary, fallback Store, logger *zap.Logger) *Failover {
	return &Failover{primary: primary, fallback: fallback, logger: logger}
}

// Degraded reports whether the last primary operation failed.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

func (f *Failover) GetOrCreate(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	mirror, _ := f.fallback.GetOrCreate(ctx, roomID)
	if f.primary == nil {
		return mirror, nil
	}
	snap, err := f.primary.GetOrCreate(ctx, roomID)
	if f.unavailable(err) {
		return mirror, nil
	}
	return snap, err
}

func (f *Failover) Get(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	if f.primary == nil {
		return f.fallback.Get(ctx, roomID)
	}
	snap, err := f.primary.Get(ctx, roomID)
	if !f.unavailable(err) {
		return snap, err
	}
	snap, ferr := f.fallback.Get(ctx, roomID)
	if errors.Is(ferr, errs.ErrRoomNotFound) {
		// Mirror miss proves nothing while the primary is down.
		return models.RoomSnapshot{}, err
	}
	return snap, ferr
}

func (f *Failover) Register(ctx context.Context, rec models.RoomRecord) error {
	_ = f.fallback.Register(ctx, rec)
	if f.primary == nil {
		return nil
	}
	if err := f.primary.Register(ctx, rec); f.unavailable(err) {
		return nil
	} else {
		return err
	}
}

func (f *Failover) ResolveCode(ctx context.Context, code string) (string, error) {
	if f.primary != nil {
		id, err := f.primary.ResolveCode(ctx, code)
		if !f.unavailable(err) {
			return id, err
		}
	}
	return f.fallback.ResolveCode(ctx, code)
}

func (f *Failover) AppendText(ctx context.Context, roomID string, entry models.TextEntry) error {
	_ = f.fallback.AppendText(ctx, roomID, entry)
	if f.primary == nil {
		return nil
	}
	if err := f.primary.AppendText(ctx, roomID, entry); !f.unavailable(err) {
		return err
	}
	return nil
}

func (f *Failover) RemoveText(ctx context.Context, roomID, id string) error {
	ferr := f.fallback.RemoveText(ctx, roomID, id)
	if f.primary == nil {
		return ferr
	}
	err := f.primary.RemoveText(ctx, roomID, id)
	if f.unavailable(err) {
		return ferr
	}
	return err
}

func (f *Failover) ClearTexts(ctx context.Context, roomID string) error {
	_ = f.fallback.ClearTexts(ctx, roomID)
	if f.primary == nil {
		return nil
	}
	if err := f.primary.ClearTexts(ctx, roomID); !f.unavailable(err) {
		return err
	}
	return nil
}

func (f *Failover) AppendFile(ctx context.Context, roomID string, entry models.FileEntry) error {
	_ = f.fallback.AppendFile(ctx, roomID, entry)
	if f.primary == nil {
		return nil
	}
	if err := f.primary.AppendFile(ctx, roomID, entry); !f.unavailable(err) {
		return err
	}
	return nil
}

func (f *Failover) RemoveFile(ctx context.Context, roomID, id string) (models.FileEntry, error) {
	mirror, ferr := f.fallback.RemoveFile(ctx, roomID, id)
	if f.primary == nil {
		return mirror, ferr
	}
	entry, err := f.primary.RemoveFile(ctx, roomID, id)
	if f.unavailable(err) {
		return mirror, ferr
	}
	return entry, err
}

func (f *Failover) RemoveRoom(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	mirror, ferr := f.fallback.RemoveRoom(ctx, roomID)
	if f.primary == nil {
		return mirror, ferr
	}
	snap, err := f.primary.RemoveRoom(ctx, roomID)
	if f.unavailable(err) {
		return mirror, ferr
	}
	return snap, err
}

func (f *Failover) ListRooms(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	if local, err := f.fallback.ListRooms(ctx); err == nil {
		for _, id := range local {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if f.primary != nil {
		shared, err := f.primary.ListRooms(ctx)
		if !f.unavailable(err) && err == nil {
			for _, id := range shared {
				if _, ok := seen[id]; !ok {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids, nil
}

// unavailable reports whether err means the primary is unreachable, flipping
// the degraded flag with a single log line per state change.
func (f *Failover) unavailable(err error) bool {
	if err == nil {
		if f.degraded.CompareAndSwap(true, false) {
			f.logger.Info("content shared backend recovered")
		}
		return false
	}
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		return false
	}
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("content degraded to in-process fallback", zap.Error(err))
	}
	return true
}
