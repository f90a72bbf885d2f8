package governor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisWindow keeps the sliding window in a Redis sorted set so multiple
// replicas share one view of a caller's budget. Each member is one admitted
// event scored by its unix-nano timestamp.
type RedisWindow struct {
	client *goredis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisWindow(client *goredis.Client, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{
		client: client,
		limit:  limit,
		window: window,
		prefix: "governor:window:",
	}
}

func (w *RedisWindow) Admit(ctx context.Context, key string, now time.Time) (bool, time.Duration, error) {
	redisKey := w.prefix + key
	cutoff := now.Add(-w.window).UnixNano()

	pipe := w.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate window read: %w", err)
	}

	if countCmd.Val() >= int64(w.limit) {
		oldest, err := w.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err != nil {
			return false, 0, fmt.Errorf("rate window oldest: %w", err)
		}
		retryAfter := w.window
		if len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(w.window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return false, retryAfter, nil
	}

	pipe = w.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, goredis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + ":" + strconv.FormatInt(int64(countCmd.Val()), 10),
	})
	pipe.Expire(ctx, redisKey, w.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate window write: %w", err)
	}
	return true, 0, nil
}
