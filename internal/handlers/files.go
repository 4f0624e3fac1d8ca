package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/errs"
	"github.com/mossy-p/roomdrop/internal/identity"
	"github.com/mossy-p/roomdrop/internal/models"
)

// Upload accepts one multipart file for a room, stores the payload, records
// the entry with its derived expiry, and announces it to the room.
func (a *API) Upload(c *gin.Context) {
	ctx := c.Request.Context()

	// The cap must be in place before anything parses the multipart body;
	// reading a form field first would consume the body uncapped.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.MaxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	roomID := c.PostForm("roomId")
	if roomID == "" {
		roomID = c.Query("roomId")
	}
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	if _, err := a.store.GetOrCreate(ctx, roomID); err != nil {
		a.logger.Warn("upload: load room", zap.String("room", roomID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Room unavailable"})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer src.Close()

	fileID := identity.NewEntryID()
	size, err := a.blobs.Save(ctx, fileID, src)
	if err != nil {
		a.logger.Error("upload: save blob", zap.String("file", fileID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	now := time.Now().UTC()
	entry := models.FileEntry{
		ID:           fileID,
		OriginalName: header.Filename,
		Size:         size,
		UploadedAt:   now,
		ExpiresAt:    now.Add(a.fileTTL()),
		DownloadURL:  a.cfg.PublicBaseURL + "/api/file/" + fileID,
	}
	if err := a.store.AppendFile(ctx, roomID, entry); err != nil {
		_ = a.blobs.Delete(ctx, fileID)
		a.logger.Warn("upload: record entry", zap.String("room", roomID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to record file"})
		return
	}

	a.relay.BroadcastToRoom(roomID, models.MustEvent(models.EventFileShared, entry))
	a.logger.Info("file shared",
		zap.String("room", roomID),
		zap.String("file", fileID),
		zap.Int64("size", size),
	)
	c.JSON(http.StatusCreated, entry)
}

// Download streams a stored payload. Production deployments front this with
// a CDN; the engine only guarantees the blob exists until eviction.
func (a *API) Download(c *gin.Context) {
	fileID := c.Param("fileId")
	r, err := a.blobs.Open(c.Request.Context(), fileID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	defer r.Close()
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, r)
}

// DeleteFile removes a file on request, ahead of its retention expiry.
func (a *API) DeleteFile(c *gin.Context) {
	ctx := c.Request.Context()
	fileID := c.Param("fileId")
	roomID := c.Query("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	entry, err := a.store.RemoveFile(ctx, roomID, fileID)
	if errors.Is(err, errs.ErrFileNotFound) || errors.Is(err, errs.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	if err != nil {
		a.logger.Warn("delete file", zap.String("file", fileID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to delete file"})
		return
	}

	if err := a.blobs.Delete(ctx, entry.ID); err != nil {
		a.logger.Warn("delete blob", zap.String("file", entry.ID), zap.Error(err))
	}
	a.relay.BroadcastToRoom(roomID, models.MustEvent(models.EventFileDeleted, models.FileDeletedPayload{
		ID:     entry.ID,
		Reason: "deleted",
	}))
	c.JSON(http.StatusOK, gin.H{"message": "File deleted"})
}
