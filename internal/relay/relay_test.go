package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/models"
)

type fakeSender struct {
	id     string
	full   bool
	frames [][]byte
}

func (f *fakeSender) ConnID() string { return f.id }

func (f *fakeSender) Enqueue(data []byte) bool {
	if f.full {
		return false
	}
	f.frames = append(f.frames, data)
	return true
}

func (f *fakeSender) types(t *testing.T) []models.EventType {
	t.Helper()
	out := make([]models.EventType, 0, len(f.frames))
	for _, frame := range f.frames {
		var env models.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env.Type)
	}
	return out
}

func TestBroadcastToRoom(t *testing.T) {
	r := New(zap.NewNop())
	a := &fakeSender{id: "conn-a"}
	b := &fakeSender{id: "conn-b"}
	c := &fakeSender{id: "conn-c"}
	r.Attach(a, "dev-a", "room-1")
	r.Attach(b, "dev-b", "room-1")
	r.Attach(c, "dev-c", "room-2")

	r.BroadcastToRoom("room-1", models.MustEvent(models.EventUserCount, models.UserCountPayload{Count: 2}))

	require.Len(t, a.frames, 1)
	require.Len(t, b.frames, 1)
	require.Empty(t, c.frames)
}

func TestBroadcastToRoomExcept(t *testing.T) {
	r := New(zap.NewNop())
	a := &fakeSender{id: "conn-a"}
	b := &fakeSender{id: "conn-b"}
	r.Attach(a, "dev-a", "room-1")
	r.Attach(b, "dev-b", "room-1")

	r.BroadcastToRoomExcept("room-1", "conn-a", models.MustEvent(models.EventUserCount, models.UserCountPayload{Count: 2}))

	require.Empty(t, a.frames)
	require.Len(t, b.frames, 1)
}

func TestSendToDevice_FansOutToAllConnections(t *testing.T) {
	r := New(zap.NewNop())
	phone := &fakeSender{id: "conn-phone"}
	laptop := &fakeSender{id: "conn-laptop"}
	other := &fakeSender{id: "conn-other"}
	r.Attach(phone, "dev-a", "room-1")
	r.Attach(laptop, "dev-a", "room-2")
	r.Attach(other, "dev-b", "room-1")

	r.SendToDevice("dev-a", models.MustEvent(models.EventCallIncoming, models.CallIncomingPayload{CallerID: "dev-b"}))

	require.Len(t, phone.frames, 1)
	require.Len(t, laptop.frames, 1)
	require.Empty(t, other.frames)
}

func TestSendToConnection_MissIsNoOp(t *testing.T) {
	r := New(zap.NewNop())
	a := &fakeSender{id: "conn-a"}
	r.Attach(a, "dev-a", "room-1")

	r.SendToConnection("conn-gone", models.MustEvent(models.EventTextsCleared, nil))
	r.SendToConnection("conn-a", models.MustEvent(models.EventTextsCleared, nil))

	require.Equal(t, []models.EventType{models.EventTextsCleared}, a.types(t))
}

func TestDetach(t *testing.T) {
	r := New(zap.NewNop())
	a := &fakeSender{id: "conn-a"}
	b := &fakeSender{id: "conn-b"}
	r.Attach(a, "dev-a", "room-1")
	r.Attach(b, "dev-a", "room-1")

	require.True(t, r.DeviceOnline("dev-a"))
	r.Detach("conn-a")
	require.True(t, r.DeviceOnline("dev-a"))

	r.BroadcastToRoom("room-1", models.MustEvent(models.EventUserCount, models.UserCountPayload{Count: 1}))
	require.Empty(t, a.frames)
	require.Len(t, b.frames, 1)

	r.Detach("conn-b")
	require.False(t, r.DeviceOnline("dev-a"))

	// Detaching an unknown connection is harmless.
	r.Detach("conn-b")
}

func TestRoomSwitch(t *testing.T) {
	r := New(zap.NewNop())
	a := &fakeSender{id: "conn-a"}
	r.Attach(a, "dev-a", "room-1")
	r.Detach("conn-a")
	r.Attach(a, "dev-a", "room-2")

	r.BroadcastToRoom("room-1", models.MustEvent(models.EventUserCount, models.UserCountPayload{Count: 0}))
	require.Empty(t, a.frames)
	r.BroadcastToRoom("room-2", models.MustEvent(models.EventUserCount, models.UserCountPayload{Count: 1}))
	require.Len(t, a.frames, 1)
}

func TestFullBufferDropsFrame(t *testing.T) {
	r := New(zap.NewNop())
	a := &fakeSender{id: "conn-a", full: true}
	b := &fakeSender{id: "conn-b"}
	r.Attach(a, "dev-a", "room-1")
	r.Attach(b, "dev-b", "room-1")

	r.BroadcastToRoom("room-1", models.MustEvent(models.EventUserCount, models.UserCountPayload{Count: 2}))

	require.Empty(t, a.frames)
	require.Len(t, b.frames, 1)
}

func TestPerConnectionOrder(t *testing.T) {
	r := New(zap.NewNop())
	a := &fakeSender{id: "conn-a"}
	r.Attach(a, "dev-a", "room-1")

	r.BroadcastToRoom("room-1", models.MustEvent(models.EventTextShared, models.TextEntry{ID: "t1", Content: "first"}))
	r.BroadcastToRoom("room-1", models.MustEvent(models.EventTextShared, models.TextEntry{ID: "t2", Content: "second"}))
	r.SendToConnection("conn-a", models.MustEvent(models.EventTextsCleared, nil))

	require.Equal(t, []models.EventType{
		models.EventTextShared,
		models.EventTextShared,
		models.EventTextsCleared,
	}, a.types(t))

	var entry models.TextEntry
	var env models.Envelope
	require.NoError(t, json.Unmarshal(a.frames[0], &env))
	require.NoError(t, json.Unmarshal(env.Payload, &entry))
	require.Equal(t, "first", entry.Content)
}
