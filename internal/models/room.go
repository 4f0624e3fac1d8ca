package models

import "time"

// RoomRecordVersion is bumped on any backward-incompatible change to
// RoomRecord so stale or partial writes are detectable on read.
const RoomRecordVersion = 1

// MaxTextsPerRoom caps the text list; the oldest entries are dropped
// silently when an append would exceed it.
const MaxTextsPerRoom = 100

// RoomRecord is the versioned metadata stored for a room.
type RoomRecord struct {
	Version   int       `json:"v"`
	ID        string    `json:"id"`
	Code      string    `json:"code"` // short shareable code (e.g. "ABCD123")
	CreatedAt time.Time `json:"createdAt"`
}

// TextEntry is one shared text in a room's ordered list.
type TextEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

// FileEntry describes a shared file; the payload itself lives in blob storage.
type FileEntry struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	DownloadURL  string    `json:"downloadUrl"`
}

// RoomSnapshot is the full content view sent to a joining connection.
type RoomSnapshot struct {
	Room  RoomRecord
	Texts []TextEntry
	Files []FileEntry
}
