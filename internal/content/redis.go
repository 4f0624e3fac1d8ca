package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/roomdrop/internal/errs"
	"github.com/mossy-p/roomdrop/internal/models"
)

// RedisStore keeps room content in the shared backend. Lists are appended
// with a server-side trim so the text cap holds under concurrent appenders,
// and file entries live in a hash keyed by id for atomic removal.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func roomKey(roomID string) string  { return "room:" + roomID }
func codeKey(code string) string    { return "code:" + code }
func textsKey(roomID string) string { return "room:" + roomID + ":texts" }
func filesKey(roomID string) string { return "room:" + roomID + ":files" }

const roomsIndexKey = "rooms:index"

// unavailable tags any backend failure so callers can tell "unreachable"
// from "definitely absent".
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", errs.ErrStoreUnavailable, op, err)
}

func (s *RedisStore) GetOrCreate(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	snap, err := s.Get(ctx, roomID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, errs.ErrRoomNotFound) {
		return models.RoomSnapshot{}, err
	}

	rec := models.RoomRecord{
		Version:   models.RoomRecordVersion,
		ID:        roomID,
		CreatedAt: time.Now().UTC(),
	}
	data, _ := json.Marshal(rec)
	// SetNX keeps the first writer's record under a create race.
	created, err := s.client.SetNX(ctx, roomKey(roomID), data, s.ttl).Result()
	if err != nil {
		return models.RoomSnapshot{}, unavailable("create room", err)
	}
	if err := s.client.SAdd(ctx, roomsIndexKey, roomID).Err(); err != nil {
		return models.RoomSnapshot{}, unavailable("index room", err)
	}
	if !created {
		return s.Get(ctx, roomID)
	}
	return models.RoomSnapshot{Room: rec, Texts: []models.TextEntry{}, Files: []models.FileEntry{}}, nil
}

func (s *RedisStore) Get(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.RoomSnapshot{}, errs.ErrRoomNotFound
	}
	if err != nil {
		return models.RoomSnapshot{}, unavailable("get room", err)
	}

	var rec models.RoomRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return models.RoomSnapshot{}, fmt.Errorf("room %s: corrupt record: %w", roomID, err)
	}
	if rec.Version != models.RoomRecordVersion {
		return models.RoomSnapshot{}, fmt.Errorf("room %s: unsupported record version %d", roomID, rec.Version)
	}

	rawTexts, err := s.client.LRange(ctx, textsKey(roomID), 0, -1).Result()
	if err != nil {
		return models.RoomSnapshot{}, unavailable("get texts", err)
	}
	texts := make([]models.TextEntry, 0, len(rawTexts))
	for _, raw := range rawTexts {
		var t models.TextEntry
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		texts = append(texts, t)
	}

	rawFiles, err := s.client.HGetAll(ctx, filesKey(roomID)).Result()
	if err != nil {
		return models.RoomSnapshot{}, unavailable("get files", err)
	}
	files := make([]models.FileEntry, 0, len(rawFiles))
	for _, raw := range rawFiles {
		var f models.FileEntry
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].UploadedAt.Before(files[j].UploadedAt) })

	return models.RoomSnapshot{Room: rec, Texts: texts, Files: files}, nil
}

func (s *RedisStore) Register(ctx context.Context, rec models.RoomRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal room record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomKey(rec.ID), data, s.ttl)
	pipe.SAdd(ctx, roomsIndexKey, rec.ID)
	if rec.Code != "" {
		pipe.Set(ctx, codeKey(rec.Code), rec.ID, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("register room", err)
	}
	return nil
}

func (s *RedisStore) ResolveCode(ctx context.Context, code string) (string, error) {
	id, err := s.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", errs.ErrRoomNotFound
	}
	if err != nil {
		return "", unavailable("resolve code", err)
	}
	return id, nil
}

func (s *RedisStore) AppendText(ctx context.Context, roomID string, entry models.TextEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal text entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, textsKey(roomID), data)
	pipe.LTrim(ctx, textsKey(roomID), -int64(models.MaxTextsPerRoom), -1)
	pipe.Expire(ctx, textsKey(roomID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("append text", err)
	}
	return nil
}

func (s *RedisStore) RemoveText(ctx context.Context, roomID, id string) error {
	raw, err := s.client.LRange(ctx, textsKey(roomID), 0, -1).Result()
	if err != nil {
		return unavailable("remove text", err)
	}
	for _, item := range raw {
		var t models.TextEntry
		if json.Unmarshal([]byte(item), &t) == nil && t.ID == id {
			if err := s.client.LRem(ctx, textsKey(roomID), 1, item).Err(); err != nil {
				return unavailable("remove text", err)
			}
			return nil
		}
	}
	return errs.ErrTextNotFound
}

func (s *RedisStore) ClearTexts(ctx context.Context, roomID string) error {
	if err := s.client.Del(ctx, textsKey(roomID)).Err(); err != nil {
		return unavailable("clear texts", err)
	}
	return nil
}

func (s *RedisStore) AppendFile(ctx context.Context, roomID string, entry models.FileEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal file entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, filesKey(roomID), entry.ID, data)
	pipe.Expire(ctx, filesKey(roomID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("append file", err)
	}
	return nil
}

func (s *RedisStore) RemoveFile(ctx context.Context, roomID, id string) (models.FileEntry, error) {
	raw, err := s.client.HGet(ctx, filesKey(roomID), id).Result()
	if errors.Is(err, redis.Nil) {
		return models.FileEntry{}, errs.ErrFileNotFound
	}
	if err != nil {
		return models.FileEntry{}, unavailable("remove file", err)
	}
	var f models.FileEntry
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return models.FileEntry{}, fmt.Errorf("room %s: corrupt file entry %s: %w", roomID, id, err)
	}
	if err := s.client.HDel(ctx, filesKey(roomID), id).Err(); err != nil {
		return models.FileEntry{}, unavailable("remove file", err)
	}
	return f, nil
}

func (s *RedisStore) RemoveRoom(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	snap, err := s.Get(ctx, roomID)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, roomKey(roomID), textsKey(roomID), filesKey(roomID))
	if snap.Room.Code != "" {
		pipe.Del(ctx, codeKey(snap.Room.Code))
	}
	pipe.SRem(ctx, roomsIndexKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.RoomSnapshot{}, unavailable("remove room", err)
	}
	return snap, nil
}

func (s *RedisStore) ListRooms(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, roomsIndexKey).Result()
	if err != nil {
		return nil, unavailable("list rooms", err)
	}
	return ids, nil
}
