package content

import (
	"context"
	"sync"
	"time"

	"github.com/mossy-p/roomdrop/internal/errs"
	"github.com/mossy-p/roomdrop/internal/models"
)

// MemoryStore is the in-process fallback backend. It serves a single
// coordinator instance only.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*memoryRoom
	codes map[string]string
}

type memoryRoom struct {
	record models.RoomRecord
	texts  []models.TextEntry
	files  []models.FileEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*memoryRoom),
		codes: make(map[string]string),
	}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, roomID string) (models.RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		room = &memoryRoom{record: models.RoomRecord{
			Version:   models.RoomRecordVersion,
			ID:        roomID,
			CreatedAt: time.Now().UTC(),
		}}
		m.rooms[roomID] = room
	}
	return room.snapshot(), nil
}

func (m *MemoryStore) Get(_ context.Context, roomID string) (models.RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return models.RoomSnapshot{}, errs.ErrRoomNotFound
	}
	return room.snapshot(), nil
}

func (m *MemoryStore) Register(_ context.Context, rec models.RoomRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[rec.ID]
	if !ok {
		room = &memoryRoom{}
		m.rooms[rec.ID] = room
	}
	room.record = rec
	if rec.Code != "" {
		m.codes[rec.Code] = rec.ID
	}
	return nil
}

func (m *MemoryStore) ResolveCode(_ context.Context, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[code]
	if !ok {
		return "", errs.ErrRoomNotFound
	}
	return id, nil
}

func (m *MemoryStore) AppendText(_ context.Context, roomID string, entry models.TextEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room := m.roomLocked(roomID)
	room.texts = append(room.texts, entry)
	if excess := len(room.texts) - models.MaxTextsPerRoom; excess > 0 {
		room.texts = append([]models.TextEntry(nil), room.texts[excess:]...)
	}
	return nil
}

func (m *MemoryStore) RemoveText(_ context.Context, roomID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return errs.ErrRoomNotFound
	}
	for i, t := range room.texts {
		if t.ID == id {
			room.texts = append(room.texts[:i], room.texts[i+1:]...)
			return nil
		}
	}
	return errs.ErrTextNotFound
}

func (m *MemoryStore) ClearTexts(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[roomID]; ok {
		room.texts = nil
	}
	return nil
}

func (m *MemoryStore) AppendFile(_ context.Context, roomID string, entry models.FileEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room := m.roomLocked(roomID)
	room.files = append(room.files, entry)
	return nil
}

func (m *MemoryStore) RemoveFile(_ context.Context, roomID, id string) (models.FileEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return models.FileEntry{}, errs.ErrRoomNotFound
	}
	for i, f := range room.files {
		if f.ID == id {
			room.files = append(room.files[:i], room.files[i+1:]...)
			return f, nil
		}
	}
	return models.FileEntry{}, errs.ErrFileNotFound
}

func (m *MemoryStore) RemoveRoom(_ context.Context, roomID string) (models.RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return models.RoomSnapshot{}, errs.ErrRoomNotFound
	}
	snap := room.snapshot()
	delete(m.rooms, roomID)
	if room.record.Code != "" {
		delete(m.codes, room.record.Code)
	}
	return snap, nil
}

func (m *MemoryStore) ListRooms(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStore) roomLocked(roomID string) *memoryRoom {
	room, ok := m.rooms[roomID]
	if !ok {
		room = &memoryRoom{record: models.RoomRecord{
			Version:   models.RoomRecordVersion,
			ID:        roomID,
			CreatedAt: time.Now().UTC(),
		}}
		m.rooms[roomID] = room
	}
	return room
}

func (r *memoryRoom) snapshot() models.RoomSnapshot {
	return models.RoomSnapshot{
		Room:  r.record,
		Texts: append([]models.TextEntry(nil), r.texts...),
		Files: append([]models.FileEntry(nil), r.files...),
	}
}
