// Package pricecache reads catalog prices that an external process keeps in Redis.
package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/platform/config"
)

const (
	productKeyPrefix = "price:product:"
	toppingKeyPrefix = "price:topping:"
)

// ErrCorruptEntry reports a cached value that is not valid price JSON.
var ErrCorruptEntry = errors.New("pricecache: corrupt entry")

// Client is the subset of redis.Cmdable the reader uses.
type Client interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisReader loads price entries with one MGET per lookup.
type RedisReader struct {
	client  Client
	timeout time.Duration
}

// NewRedisClient dials the cache described by cfg.
func NewRedisClient(cfg config.PriceCacheConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}

// NewRedisReader wraps client. A non-positive timeout leaves the caller's deadline in charge.
func NewRedisReader(client Client, timeout time.Duration) *RedisReader {
	return &RedisReader{client: client, timeout: timeout}
}

type productValue struct {
	ProductID      string                      `json:"productId"`
	Configurations map[string]map[string]int64 `json:"configurations"`
}

type toppingValue struct {
	ToppingID string `json:"toppingId"`
	Price     int64  `json:"price"`
}

// Products returns the cached entries for ids. Ids without an entry are absent from the map.
func (r *RedisReader) Products(ctx context.Context, ids []string) (map[string]domain.ProductPriceEntry, error) {
	out := make(map[string]domain.ProductPriceEntry, len(ids))
	err := r.mget(ctx, productKeyPrefix, ids, func(id string, raw []byte) error {
		var v productValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		out[id] = domain.ProductPriceEntry{ProductID: id, Configurations: v.Configurations}
		return nil
	})
	return out, err
}

// Toppings returns the cached entries for ids. Ids without an entry are absent from the map.
func (r *RedisReader) Toppings(ctx context.Context, ids []string) (map[string]domain.ToppingPriceEntry, error) {
	out := make(map[string]domain.ToppingPriceEntry, len(ids))
	err := r.mget(ctx, toppingKeyPrefix, ids, func(id string, raw []byte) error {
		var v toppingValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if v.Price < 0 {
			return fmt.Errorf("negative price %d", v.Price)
		}
		out[id] = domain.ToppingPriceEntry{ToppingID: id, Price: v.Price}
		return nil
	})
	return out, err
}

// Ping checks connectivity.
func (r *RedisReader) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pricecache: ping: %w", err)
	}
	return nil
}

func (r *RedisReader) mget(ctx context.Context, prefix string, ids []string, decode func(id string, raw []byte) error) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = prefix + id
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("pricecache: mget %s*: %w", prefix, err)
	}
	for i, value := range values {
		if i >= len(ids) || value == nil {
			continue
		}
		var raw []byte
		switch v := value.(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		default:
			return fmt.Errorf("%w: %s has type %T", ErrCorruptEntry, keys[i], value)
		}
		if err := decode(ids[i], raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptEntry, keys[i], err)
		}
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
