package remote

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlPosition = 24 * time.Hour

// SnapshotStore keeps the last confirmed serialized position per game.
type SnapshotStore interface {
	Load(ctx context.Context, gameID int) (string, error)
	Save(ctx context.Context, gameID int, fen string) error
}

// RedisStore is a SnapshotStore backed by Redis.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb, ttl: ttlPosition} }

func (s *RedisStore) keyPosition(gameID int) string {
	return "arboard:game:" + strconv.Itoa(gameID) + ":fen"
}

// Load returns "" when nothing is stored for the game.
func (s *RedisStore) Load(ctx context.Context, gameID int) (string, error) {
	v, err := s.rdb.Get(ctx, s.keyPosition(gameID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *RedisStore) Save(ctx context.Context, gameID int, fen string) error {
	return s.rdb.Set(ctx, s.keyPosition(gameID), fen, s.ttl).Err()
}
