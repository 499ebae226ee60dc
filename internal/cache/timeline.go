// Package cache owns the redis key schemas of the delivery pipeline:
// per-user timeline lists and trending counters. All timeline mutations
// are pipelined MULTI/EXEC batches so concurrent fanout workers cannot
// interleave a prepend with a trim.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TimelineCache 按用户有界时间线（post id 列表，新在前）
type TimelineCache struct {
	rdb *redis.Client
	max int64
	ttl time.Duration
}

func NewTimelineCache(rdb *redis.Client, maxEntries int64, ttl time.Duration) *TimelineCache {
	if maxEntries <= 0 { maxEntries = 800 }
	if ttl <= 0 { ttl = 72 * time.Hour }
	return &TimelineCache{rdb: rdb, max: maxEntries, ttl: ttl}
}

func (c *TimelineCache) Key(userID string) string { return "timeline:" + userID }

func (c *TimelineCache) Max() int64 { return c.max }

// Push 对一批用户原子地 prepend + trim + 续期。
// 这是被熔断器包裹的调用单元。
func (c *TimelineCache) Push(ctx context.Context, userIDs []string, postID int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	id := strconv.FormatInt(postID, 10)
	pipe := c.rdb.TxPipeline()
	for _, uid := range userIDs {
		key := c.Key(uid)
		pipe.LPush(ctx, key, id)
		pipe.LTrim(ctx, key, 0, c.max-1)
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Read 读取缓存时间线；key 不存在返回空切片（冷缓存不是错误）
func (c *TimelineCache) Read(ctx context.Context, userID string) ([]int64, error) {
	vals, err := c.rdb.LRange(ctx, c.Key(userID), 0, c.max-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

// Overwrite 整体覆盖（时间线重建）；与在线扇出并发安全，后写覆盖
func (c *TimelineCache) Overwrite(ctx context.Context, userID string, postIDs []int64) error {
	key := c.Key(userID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(postIDs) > 0 {
		if int64(len(postIDs)) > c.max {
			postIDs = postIDs[:c.max]
		}
		vals := make([]interface{}, len(postIDs))
		for i, id := range postIDs {
			vals[i] = strconv.FormatInt(id, 10)
		}
		pipe.RPush(ctx, key, vals...)
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *TimelineCache) Len(ctx context.Context, userID string) (int64, error) {
	return c.rdb.LLen(ctx, c.Key(userID)).Result()
}
