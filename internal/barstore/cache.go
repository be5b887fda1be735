package barstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a read-through cache for bar tables, keyed by (symbol,
// interval).
type Cache interface {
	Get(symbol, interval string) (*BarTable, bool)
	Put(symbol, interval string, bt *BarTable)
}

// RedisCache is the optional read-through cache used when the daemon
// config sets redis_addr. A Redis outage degrades silently to a cache
// miss -- bars are still served from disk, they are just not cached.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
}

// NewRedisCache connects to addr. The connection is lazy: go-redis
// dials on first command, so construction never fails.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		ctx:    context.Background(),
	}
}

type cachedBars struct {
	Timestamp    []time.Time `json:"timestamp"`
	Open         []float64   `json:"open"`
	High         []float64   `json:"high"`
	Low          []float64   `json:"low"`
	Close        []float64   `json:"close"`
	Volume       []float64   `json:"volume"`
	VolumeFilled bool        `json:"volume_filled"`
}

func cacheKey(symbol, interval string) string {
	return fmt.Sprintf("marcus:bars:%s:%s", symbol, interval)
}

// Get returns the cached bar table, or (nil, false) on a miss or
// Redis error.
func (r *RedisCache) Get(symbol, interval string) (*BarTable, bool) {
	raw, err := r.client.Get(r.ctx, cacheKey(symbol, interval)).Bytes()
	if err != nil {
		return nil, false
	}
	var cb cachedBars
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, false
	}
	return &BarTable{
		Symbol:       symbol,
		Interval:     interval,
		Timestamp:    cb.Timestamp,
		Open:         cb.Open,
		High:         cb.High,
		Low:          cb.Low,
		Close:        cb.Close,
		Volume:       cb.Volume,
		VolumeFilled: cb.VolumeFilled,
	}, true
}

// Put stores the bar table. Errors are swallowed -- caching is a
// performance optimization, not a correctness requirement.
func (r *RedisCache) Put(symbol, interval string, bt *BarTable) {
	cb := cachedBars{
		Timestamp:    bt.Timestamp,
		Open:         bt.Open,
		High:         bt.High,
		Low:          bt.Low,
		Close:        bt.Close,
		Volume:       bt.Volume,
		VolumeFilled: bt.VolumeFilled,
	}
	raw, err := json.Marshal(cb)
	if err != nil {
		return
	}
	r.client.Set(r.ctx, cacheKey(symbol, interval), raw, r.ttl)
}
