package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"couponbay/internal/models"

	"github.com/redis/go-redis/v9"
)

// CacheService wraps Redis with JSON serialization and the trust profile
// read-side cache. Transactions and coupons are deliberately not cached;
// their state is the correctness-critical part and is always read from the
// database.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client: client,
		ttl:    defaultTTL,
	}
}

// Base operations
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Key generation
func (s *CacheService) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

// Trust profile caching
func (s *CacheService) CacheTrustProfile(ctx context.Context, profile *models.TrustProfile) error {
	key := s.GenerateKey("trust", "user", profile.UserID)
	return s.Set(ctx, key, profile)
}

func (s *CacheService) GetTrustProfile(ctx context.Context, userID uint) (*models.TrustProfile, error) {
	var profile models.TrustProfile
	key := s.GenerateKey("trust", "user", userID)
	found, err := s.Get(ctx, key, &profile)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, redis.Nil
	}
	return &profile, nil
}

func (s *CacheService) InvalidateTrustProfile(ctx context.Context, userID uint) error {
	return s.Delete(ctx, s.GenerateKey("trust", "user", userID))
}

// HealthCheck pings the Redis server.
func (s *CacheService) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// FlushAll clears the entire cache. Used on startup so stale entries never
// survive a deploy.
func (s *CacheService) FlushAll(ctx context.Context) error {
	return s.client.FlushAll(ctx).Err()
}

// Close closes the underlying Redis connection.
func (s *CacheService) Close() error {
	return s.client.Close()
}
