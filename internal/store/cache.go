package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

// LatestTTL: poslední hodnota expiruje, aby z cache zmizela mrtvá zařízení.
const LatestTTL = 24 * time.Hour

// LatestKey vrací klíč poslední hodnoty, např. "telemetry:last:dev-001".
func LatestKey(deviceID string) string {
	return "telemetry:last:" + deviceID
}

// Latest je "hot storage" posledních hodnot.
type Latest interface {
	Set(ctx context.Context, r telemetry.Reading) error
	Get(ctx context.Context, deviceID string) (telemetry.Reading, error)
	Close() error
}

// LatestCache drží poslední měření každého zařízení ve Valkey (Redis protokol).
type LatestCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLatestCache se připojí k Valkey a ověří spojení.
func NewLatestCache(ctx context.Context, addr string) (*LatestCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Valkey není dostupný: %w", err)
	}
	return &LatestCache{rdb: rdb, ttl: LatestTTL}, nil
}

// Set přepíše poslední hodnotu zařízení.
func (c *LatestCache) Set(ctx context.Context, r telemetry.Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, LatestKey(r.DeviceID), b, c.ttl).Err()
}

// Get vrátí poslední hodnotu, nebo ErrNotFound.
func (c *LatestCache) Get(ctx context.Context, deviceID string) (telemetry.Reading, error) {
	b, err := c.rdb.Get(ctx, LatestKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return telemetry.Reading{}, ErrNotFound
	}
	if err != nil {
		return telemetry.Reading{}, fmt.Errorf("čtení z Valkey: %w", err)
	}

	var r telemetry.Reading
	if err := json.Unmarshal(b, &r); err != nil {
		return telemetry.Reading{}, fmt.Errorf("poškozená hodnota v cache: %w", err)
	}
	return r, nil
}

func (c *LatestCache) Close() error {
	return c.rdb.Close()
}

// CachedStore zapisuje do historie (Cold Path) i do cache (Hot Path).
type CachedStore struct {
	Store
	cache Latest
}

// NewCachedStore obalí úložiště cache posledních hodnot.
func NewCachedStore(s Store, cache Latest) *CachedStore {
	return &CachedStore{Store: s, cache: cache}
}

// Append nejdřív zapíše historii. Chyba cache není kritická pro integritu dat
// (máme je v DB), vrací se zabalená v ErrCacheUpdate.
func (s *CachedStore) Append(ctx context.Context, r telemetry.Reading) error {
	if err := s.Store.Append(ctx, r); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, r); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUpdate, err)
	}
	return nil
}

// Latest čte poslední hodnotu z cache.
func (s *CachedStore) Latest(ctx context.Context, deviceID string) (telemetry.Reading, error) {
	return s.cache.Get(ctx, deviceID)
}

func (s *CachedStore) Close() error {
	return errors.Join(s.cache.Close(), s.Store.Close())
}
