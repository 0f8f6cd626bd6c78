package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edibez/cryptochat/pkg/types"
)

const (
	SnapshotKey = "cryptochat:catalog:all"
	SnapshotTTL = 25 * time.Hour
)

// RedisSnapshot stores the catalog in redis as one JSON list
type RedisSnapshot struct {
	redis *redis.Client
}

// NewRedisSnapshot creates a snapshotter on client
func NewRedisSnapshot(client *redis.Client) *RedisSnapshot {
	return &RedisSnapshot{redis: client}
}

// Save replaces the stored records
func (s *RedisSnapshot) Save(ctx context.Context, records []types.CoinRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := s.redis.Set(ctx, SnapshotKey, data, SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("store in redis: %w", err)
	}
	return nil
}

// Load returns the stored records, or none when no snapshot exists
func (s *RedisSnapshot) Load(ctx context.Context) ([]types.CoinRecord, error) {
	data, err := s.redis.Get(ctx, SnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []types.CoinRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode catalog snapshot: %w", err)
	}
	return records, nil
}
