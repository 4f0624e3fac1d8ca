package content

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/errs"
	"github.com/mossy-p/roomdrop/internal/models"
)

type fakeNotifier struct {
	events []struct {
		roomID string
		env    models.Envelope
	}
}

func (f *fakeNotifier) BroadcastToRoom(roomID string, env models.Envelope) {
	f.events = append(f.events, struct {
		roomID string
		env    models.Envelope
	}{roomID, env})
}

func newTestSweeper(store Store, blobs *recordingBlobs, notify *fakeNotifier, now time.Time) *Sweeper {
	s := NewSweeper(store, blobs, notify, zap.NewNop(), time.Second, 30*time.Minute, 2*time.Minute)
	s.now = func() time.Time { return now }
	return s
}

// recordingBlobs satisfies blob.Storage without touching disk.
type recordingBlobs struct {
	deleted []string
}

func (r *recordingBlobs) Save(context.Context, string, io.Reader) (int64, error) {
	return 0, nil
}

func (r *recordingBlobs) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errs.ErrFileNotFound
}

func (r *recordingBlobs) Delete(_ context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

func TestSweeper_EvictsExpiredFileExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	blobs := &recordingBlobs{}
	notify := &fakeNotifier{}

	uploaded := time.Now().UTC().Add(-150 * time.Second)
	require.NoError(t, store.AppendFile(ctx, "r1", models.FileEntry{
		ID:         "f1",
		UploadedAt: uploaded,
		ExpiresAt:  uploaded.Add(2 * time.Minute),
	}))

	s := newTestSweeper(store, blobs, notify, time.Now().UTC())
	s.SweepOnce(ctx)

	require.Equal(t, []string{"f1"}, blobs.deleted)
	require.Len(t, notify.events, 1)
	require.Equal(t, models.EventFileDeleted, notify.events[0].env.Type)

	var payload models.FileDeletedPayload
	require.NoError(t, json.Unmarshal(notify.events[0].env.Payload, &payload))
	require.Equal(t, "f1", payload.ID)
	require.Equal(t, "expired", payload.Reason)

	// Gone from the next snapshot, and a second sweep emits nothing more.
	snap, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	require.Empty(t, snap.Files)

	s.SweepOnce(ctx)
	require.Len(t, notify.events, 1)
}

func TestSweeper_KeepsFreshContent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	blobs := &recordingBlobs{}
	notify := &fakeNotifier{}
	now := time.Now().UTC()

	require.NoError(t, store.AppendText(ctx, "r1", models.TextEntry{ID: "t1", Timestamp: now.Add(-time.Minute)}))
	require.NoError(t, store.AppendFile(ctx, "r1", models.FileEntry{
		ID: "f1", UploadedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Minute),
	}))

	newTestSweeper(store, blobs, notify, now).SweepOnce(ctx)

	snap, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, snap.Texts, 1)
	require.Len(t, snap.Files, 1)
	require.Empty(t, notify.events)
}

func TestSweeper_EvictsStaleTextsSilently(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	blobs := &recordingBlobs{}
	notify := &fakeNotifier{}
	now := time.Now().UTC()

	require.NoError(t, store.AppendText(ctx, "r1", models.TextEntry{ID: "old", Timestamp: now.Add(-time.Hour)}))
	require.NoError(t, store.AppendText(ctx, "r1", models.TextEntry{ID: "new", Timestamp: now}))

	newTestSweeper(store, blobs, notify, now).SweepOnce(ctx)

	snap, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, snap.Texts, 1)
	require.Equal(t, "new", snap.Texts[0].ID)
	// Text eviction emits no events.
	require.Empty(t, notify.events)
}

// unavailableStore answers every read with "unknown", as a flaky shared
// backend would.
type unavailableStore struct {
	Store
	removedFiles int
}

func (u *unavailableStore) Get(context.Context, string) (models.RoomSnapshot, error) {
	return models.RoomSnapshot{}, errs.ErrStoreUnavailable
}

func (u *unavailableStore) ListRooms(context.Context) ([]string, error) {
	return []string{"r1"}, nil
}

func (u *unavailableStore) RemoveFile(ctx context.Context, roomID, id string) (models.FileEntry, error) {
	u.removedFiles++
	return u.Store.RemoveFile(ctx, roomID, id)
}

func TestSweeper_UnknownReadIsNotEmpty(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.AppendFile(ctx, "r1", models.FileEntry{
		ID:         "f1",
		UploadedAt: time.Now().UTC().Add(-time.Hour),
	}))
	store := &unavailableStore{Store: inner}
	blobs := &recordingBlobs{}
	notify := &fakeNotifier{}

	newTestSweeper(store, blobs, notify, time.Now().UTC()).SweepOnce(ctx)

	// A read miss caused by backend latency must not trigger eviction.
	require.Zero(t, store.removedFiles)
	require.Empty(t, blobs.deleted)
	require.Empty(t, notify.events)
}
