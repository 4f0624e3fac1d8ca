package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry keeps presence in shared Redis sets so every coordinator
// instance observes the same counts. Set add/remove/cardinality are atomic
// server-side, so there is no read-modify-write race between instances.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry builds a registry over an already-connected client.
// ttl bounds how long abandoned room keys survive.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func devicesKey(roomID string) string {
	return "presence:" + roomID + ":devices"
}

func connsKey(roomID, deviceID string) string {
	return "presence:" + roomID + ":conns:" + deviceID
}

func (r *RedisRegistry) Join(ctx context.Context, roomID, deviceID, connID string) (int, error) {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, connsKey(roomID, deviceID), connID)
	pipe.SAdd(ctx, devicesKey(roomID), deviceID)
	pipe.Expire(ctx, connsKey(roomID, deviceID), r.ttl)
	pipe.Expire(ctx, devicesKey(roomID), r.ttl)
	card := pipe.SCard(ctx, devicesKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("presence join %s: %w", roomID, err)
	}
	return int(card.Val()), nil
}

func (r *RedisRegistry) Leave(ctx context.Context, roomID, deviceID, connID string) (int, error) {
	if err := r.client.SRem(ctx, connsKey(roomID, deviceID), connID).Err(); err != nil {
		return 0, fmt.Errorf("presence leave %s: %w", roomID, err)
	}
	remaining, err := r.client.SCard(ctx, connsKey(roomID, deviceID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence leave %s: %w", roomID, err)
	}
	if remaining == 0 {
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, connsKey(roomID, deviceID))
		pipe.SRem(ctx, devicesKey(roomID), deviceID)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("presence leave %s: %w", roomID, err)
		}
	}
	card, err := r.client.SCard(ctx, devicesKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count %s: %w", roomID, err)
	}
	return int(card), nil
}

func (r *RedisRegistry) Count(ctx context.Context, roomID string) (int, error) {
	card, err := r.client.SCard(ctx, devicesKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count %s: %w", roomID, err)
	}
	return int(card), nil
}
