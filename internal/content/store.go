// Package content holds the ephemeral per-room text and file lists and the
// retention sweeper that evicts them.
package content

import (
	"context"

	"github.com/mossy-p/roomdrop/internal/models"
)

// Store is one content backend. Get must distinguish a definite miss
// (errs.ErrRoomNotFound) from an unreachable backend (errs.ErrStoreUnavailable):
// "unknown" is never "empty", and only definite answers may feed destructive
// decisions.
type Store interface {
	// GetOrCreate returns the room's snapshot, lazily creating the room.
	GetOrCreate(ctx context.Context, roomID string) (models.RoomSnapshot, error)
	// Get returns the snapshot of an existing room.
	Get(ctx context.Context, roomID string) (models.RoomSnapshot, error)
	// Register stores a room record and its code mapping.
	Register(ctx context.Context, rec models.RoomRecord) error
	// ResolveCode maps a short room code to the canonical room id.
	ResolveCode(ctx context.Context, code string) (string, error)

	// AppendText appends to the room's ordered text list, trimming the
	// oldest entries beyond models.MaxTextsPerRoom server-side.
	AppendText(ctx context.Context, roomID string, entry models.TextEntry) error
	// RemoveText deletes one text by id.
	RemoveText(ctx context.Context, roomID, id string) error
	// ClearTexts empties the room's text list.
	ClearTexts(ctx context.Context, roomID string) error

	// AppendFile records a shared file entry.
	AppendFile(ctx context.Context, roomID string, entry models.FileEntry) error
	// RemoveFile deletes one file entry by id, returning it so the caller
	// can release the blob.
	RemoveFile(ctx context.Context, roomID, id string) (models.FileEntry, error)

	// RemoveRoom deletes the room and all content, returning the final
	// snapshot so blobs can be released.
	RemoveRoom(ctx context.Context, roomID string) (models.RoomSnapshot, error)
	// ListRooms returns ids of rooms with stored content or metadata.
	ListRooms(ctx context.Context) ([]string, error)
}
