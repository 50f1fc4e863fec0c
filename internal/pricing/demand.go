package pricing

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisDemand reads occupancy rates published by the inventory side into
// Redis.  The room specific key wins over the global one.
type RedisDemand struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisDemand(rdb *redis.Client) *RedisDemand {
	return &RedisDemand{rdb: rdb, prefix: "occupancy"}
}

// Occupancy implements DemandSignal.  Values may be written either as a
// fraction (0.85) or a percentage (85).
func (d *RedisDemand) Occupancy(ctx context.Context, roomID string) (float64, bool, error) {
	if d == nil || d.rdb == nil {
		return 0, false, nil
	}
	for _, key := range []string{d.prefix + ":" + roomID, d.prefix + ":global"} {
		raw, err := d.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			continue
		}
		if v > 1 {
			v = v / 100
		}
		return v, true, nil
	}
	return 0, false, nil
}
