package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerbeat/ostinato/internal/common"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/service"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// Config holds connection settings for the Redis listing cache.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis implements the listing cache on a Redis server. Listings are stored
// as JSON under per-owner keys with a TTL, so a crashed invalidation can
// only serve stale data briefly.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ service.ListingCache = (*Redis)(nil)

// NewRedis connects to the configured Redis server and verifies the
// connection before returning.
func NewRedis(cfg Config) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &Redis{client: client, ttl: ttl}, nil
}

// GetListing returns the cached listing for an owner, or ok=false on a miss.
func (r *Redis) GetListing(ctx context.Context, ownerID string, includeInactive bool) ([]model.RecurringDefinition, bool) {
	key := listingKey(ownerID, includeInactive)

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			common.LogDebug("listing cache read failed", common.Fields{"key": key, "error": err.Error()})
		}
		return nil, false
	}

	var defs []model.RecurringDefinition
	if err := json.Unmarshal(raw, &defs); err != nil {
		// A corrupt value is as good as a miss; drop it.
		common.LogDebug("listing cache entry corrupt", common.Fields{"key": key, "error": err.Error()})
		_ = r.client.Del(ctx, key).Err()
		return nil, false
	}

	return defs, true
}

// SetListing stores a listing under the owner's key.
func (r *Redis) SetListing(ctx context.Context, ownerID string, includeInactive bool, defs []model.RecurringDefinition) {
	key := listingKey(ownerID, includeInactive)

	raw, err := json.Marshal(defs)
	if err != nil {
		common.LogDebug("listing cache marshal failed", common.Fields{"key": key, "error": err.Error()})
		return
	}

	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		common.LogDebug("listing cache write failed", common.Fields{"key": key, "error": err.Error()})
	}
}

// InvalidateOwner drops both listing flavors for an owner.
func (r *Redis) InvalidateOwner(ctx context.Context, ownerID string) {
	if err := r.client.Del(ctx, ownerKeys(ownerID)...).Err(); err != nil {
		common.LogDebug("listing cache invalidation failed", common.Fields{"owner_id": ownerID, "error": err.Error()})
	}
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
