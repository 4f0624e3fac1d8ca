package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/errs"
	"github.com/mossy-p/roomdrop/internal/identity"
	"github.com/mossy-p/roomdrop/internal/models"
)

type roomInfoResponse struct {
	RoomID    string    `json:"roomId"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	UserCount int       `json:"userCount"`
}

type roomSnapshotResponse struct {
	RoomID    string             `json:"roomId"`
	Code      string             `json:"code,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	Texts     []models.TextEntry `json:"texts"`
	Files     []models.FileEntry `json:"files"`
	UserCount int                `json:"userCount"`
}

// RoomInfo resolves the caller's locality room, creating it lazily. Devices
// behind the same public address share a room without exchanging anything.
// An explicit ?room= code or id overrides locality.
func (a *API) RoomInfo(c *gin.Context) {
	ctx := c.Request.Context()

	roomID := ""
	if explicit := c.Query("room"); explicit != "" {
		roomID = explicit
		if identity.IsRoomCode(explicit) {
			id, err := a.store.ResolveCode(ctx, explicit)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
				return
			}
			roomID = id
		}
	} else {
		roomID = identity.LocalRoomID(c.ClientIP())
	}

	snap, err := a.store.Get(ctx, roomID)
	if errors.Is(err, errs.ErrRoomNotFound) {
		rec := models.RoomRecord{
			Version:   models.RoomRecordVersion,
			ID:        roomID,
			Code:      identity.NewRoomCode(),
			CreatedAt: time.Now().UTC(),
		}
		if err := a.store.Register(ctx, rec); err != nil {
			a.logger.Warn("register room", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Room unavailable"})
			return
		}
		snap = models.RoomSnapshot{Room: rec}
	} else if err != nil {
		a.logger.Warn("resolve room", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Room unavailable"})
		return
	}

	c.JSON(http.StatusOK, roomInfoResponse{
		RoomID:    snap.Room.ID,
		Code:      snap.Room.Code,
		CreatedAt: snap.Room.CreatedAt,
		UserCount: a.presence.Count(ctx, snap.Room.ID),
	})
}

// GetRoom returns a full snapshot by room id or short code.
func (a *API) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("roomId")
	if identity.IsRoomCode(roomID) {
		id, err := a.store.ResolveCode(ctx, roomID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		roomID = id
	}

	snap, err := a.store.Get(ctx, roomID)
	if errors.Is(err, errs.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		// Unknown is not absent: a backend outage must not read as 404.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Room unavailable"})
		return
	}

	c.JSON(http.StatusOK, roomSnapshotResponse{
		RoomID:    snap.Room.ID,
		Code:      snap.Room.Code,
		CreatedAt: snap.Room.CreatedAt,
		Texts:     snap.Texts,
		Files:     snap.Files,
		UserCount: a.presence.Count(ctx, roomID),
	})
}
