package content

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/blob"
	"github.com/mossy-p/roomdrop/internal/errs"
	"github.com/mossy-p/roomdrop/internal/models"
)

// Notifier delivers room-scoped events; satisfied by the relay.
type Notifier interface {
	BroadcastToRoom(roomID string, env models.Envelope)
}

// Sweeper periodically evicts texts and files older than their retention
// windows, releasing blobs and announcing each evicted file.
type Sweeper struct {
	store    Store
	blobs    blob.Storage
	notify   Notifier
	logger   *zap.Logger
	interval time.Duration
	textTTL  time.Duration
	fileTTL  time.Duration
	now      func() time.Time
}

func NewSweeper(store Store, blobs blob.Storage, notify Notifier, logger *zap.Logger, interval, textTTL, fileTTL time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		blobs:    blobs,
		notify:   notify,
		logger:   logger,
		interval: interval,
		textTTL:  textTTL,
		fileTTL:  fileTTL,
		now:      time.Now,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce scans every known room once.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		s.logger.Warn("sweep: list rooms", zap.Error(err))
		return
	}
	for _, roomID := range rooms {
		s.sweepRoom(ctx, roomID)
	}
}

func (s *Sweeper) sweepRoom(ctx context.Context, roomID string) {
	snap, err := s.store.Get(ctx, roomID)
	if err != nil {
		// An unavailable read means the room's state is unknown, not empty.
		// Evicting on it would destroy content for a room that still exists,
		// so the room is skipped until a definite read succeeds.
		if errors.Is(err, errs.ErrStoreUnavailable) {
			s.logger.Debug("sweep: room state unknown, skipping", zap.String("room", roomID))
			return
		}
		if errors.Is(err, errs.ErrRoomNotFound) {
			return
		}
		s.logger.Warn("sweep: read room", zap.String("room", roomID), zap.Error(err))
		return
	}

	now := s.now()

	textCutoff := now.Add(-s.textTTL)
	for _, t := range snap.Texts {
		if t.Timestamp.After(textCutoff) {
			continue
		}
		// Implicit text drops are silent; only explicit deletes are announced.
		if err := s.store.RemoveText(ctx, roomID, t.ID); err != nil && !errors.Is(err, errs.ErrTextNotFound) {
			s.logger.Warn("sweep: evict text", zap.String("room", roomID), zap.Error(err))
		}
	}

	for _, f := range snap.Files {
		expired := !f.ExpiresAt.IsZero() && !now.Before(f.ExpiresAt)
		if !expired && now.Sub(f.UploadedAt) < s.fileTTL {
			continue
		}
		entry, err := s.store.RemoveFile(ctx, roomID, f.ID)
		if err != nil {
			if !errors.Is(err, errs.ErrFileNotFound) {
				s.logger.Warn("sweep: evict file", zap.String("room", roomID), zap.Error(err))
			}
			continue
		}
		if err := s.blobs.Delete(ctx, entry.ID); err != nil {
			s.logger.Warn("sweep: delete blob", zap.String("file", entry.ID), zap.Error(err))
		}
		s.notify.BroadcastToRoom(roomID, models.MustEvent(models.EventFileDeleted, models.FileDeletedPayload{
			ID:     entry.ID,
			Reason: "expired",
		}))
		s.logger.Info("file expired",
			zap.String("room", roomID),
			zap.String("file", entry.ID),
		)
	}
}
