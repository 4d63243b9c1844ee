package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

type RedisCacheConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

func DefaultRedisCacheConfig() *RedisCacheConfig {
	return &RedisCacheConfig{
		Host:     "localhost",
		Port:     6379,
		Password: "",
		DB:       0,
		PoolSize: 10,
	}
}

func NewRedisCache(config *RedisCacheConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisCacheConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ctx:    ctx,
	}, nil
}

func (rc *RedisCache) Get(key string) (string, error) {
	val, err := rc.client.Get(rc.ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("key not found: %s", key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

func (rc *RedisCache) Set(key string, value interface{}, ttl time.Duration) error {
	var data string
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		jsonData, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		data = string(jsonData)
	}

	err := rc.client.Set(rc.ctx, key, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// GetJSON retrieves and unmarshals JSON data from cache
func (rc *RedisCache) GetJSON(key string, dest interface{}) error {
	val, err := rc.Get(key)
	if err != nil {
		return err
	}

	err = json.Unmarshal([]byte(val), dest)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON for key %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals and stores JSON data in cache with TTL
func (rc *RedisCache) SetJSON(key string, value interface{}, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return rc.Set(key, jsonData, ttl)
}

// Delete removes a key from cache
func (rc *RedisCache) Delete(key string) error {
	err := rc.client.Del(rc.ctx, key).Err()
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// DeletePattern removes all keys matching a pattern
// Example: DeletePattern("orderbook:*") removes all orderbook caches
func (rc *RedisCache) DeletePattern(pattern string) error {
	var cursor uint64
	var keys []string

	for {
		var scanKeys []string
		var err error
		scanKeys, cursor, err = rc.client.Scan(rc.ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}

		keys = append(keys, scanKeys...)

		if cursor == 0 {
			break
		}
	}

	if len(keys) > 0 {
		err := rc.client.Del(rc.ctx, keys...).Err()
		if err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}

	return nil
}

// Exists checks if a key exists in cache
func (rc *RedisCache) Exists(key string) (bool, error) {
	count, err := rc.client.Exists(rc.ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key existence: %w", err)
	}
	return count > 0, nil
}

// Increment atomically increments a key's value
func (rc *RedisCache) Increment(key string) (int64, error) {
	val, err := rc.client.Incr(rc.ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}
	return val, nil
}

// SetNX sets a key only if it doesn't exist (SET if Not eXists).
// Used for submit idempotency and distributed locks.
func (rc *RedisCache) SetNX(key string, value interface{}, ttl time.Duration) (bool, error) {
	var data string
	switch v := value.(type) {
	case string:
		data = v
	default:
		jsonData, err := json.Marshal(value)
		if err != nil {
			return false, fmt.Errorf("failed to marshal value: %w", err)
		}
		data = string(jsonData)
	}

	ok, err := rc.client.SetNX(rc.ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}
	return ok, nil
}

// Publish sends a message to a pub/sub channel
func (rc *RedisCache) Publish(channel string, message interface{}) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := rc.client.Publish(rc.ctx, channel, jsonData).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a subscription to one or more pub/sub channels
func (rc *RedisCache) Subscribe(channels ...string) *redis.PubSub {
	return rc.client.Subscribe(rc.ctx, channels...)
}

// GetStats returns Redis pool statistics
func (rc *RedisCache) GetStats() map[string]interface{} {
	poolStats := rc.client.PoolStats()

	return map[string]interface{}{
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}
}

// Ping checks if Redis connection is alive
func (rc *RedisCache) Ping() error {
	return rc.client.Ping(rc.ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (rc *RedisCache) GetClient() *redis.Client {
	return rc.client
}

// KeyBuilder provides structured key naming conventions
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a new key builder with optional prefix
func NewKeyBuilder(prefix string) *KeyBuilder {
	return &KeyBuilder{prefix: prefix}
}

func (kb *KeyBuilder) build(suffix string) string {
	if kb.prefix != "" {
		return kb.prefix + ":" + suffix
	}
	return suffix
}

// QuoteKey returns key for the per-symbol quote snapshot
// Format: quote:{symbol}
func (kb *KeyBuilder) QuoteKey(symbol string) string {
	return kb.build(fmt.Sprintf("quote:%s", symbol))
}

// OrderbookKey returns key for aggregated book depth
// Format: orderbook:{symbol}
func (kb *KeyBuilder) OrderbookKey(symbol string) string {
	return kb.build(fmt.Sprintf("orderbook:%s", symbol))
}

// TradesKey returns key for recent trades cache
// Format: trades:{symbol}:latest
func (kb *KeyBuilder) TradesKey(symbol string) string {
	return kb.build(fmt.Sprintf("trades:%s:latest", symbol))
}

// OrderKey returns key for individual order cache
// Format: order:{orderId}
func (kb *KeyBuilder) OrderKey(orderID string) string {
	return kb.build(fmt.Sprintf("order:%s", orderID))
}

// IdempotencyKey returns key for submit idempotency tracking
// Format: idempotency:{token}
func (kb *KeyBuilder) IdempotencyKey(token string) string {
	return kb.build(fmt.Sprintf("idempotency:%s", token))
}

// LockKey returns key for distributed locks
// Format: lock:{resource}
func (kb *KeyBuilder) LockKey(resource string) string {
	return kb.build(fmt.Sprintf("lock:%s", resource))
}

// PubSubChannel returns channel name for pub/sub
// Format: channel:{topic}
func (kb *KeyBuilder) PubSubChannel(topic string) string {
	return kb.build(fmt.Sprintf("channel:%s", topic))
}
