package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ViewHourly = "trending:hourly"
	ViewDaily  = "trending:daily"

	bucketPrefix = "trend:"
)

// TrendEntry 榜单一项
type TrendEntry struct {
	Hashtag string  `json:"hashtag"`
	Score   float64 `json:"score"`
}

// TrendStore 分钟桶计数 + 小时/天两个有序榜单
type TrendStore struct {
	rdb       *redis.Client
	bucketTTL time.Duration
}

func NewTrendStore(rdb *redis.Client, bucketTTL time.Duration) *TrendStore {
	if bucketTTL <= 0 { bucketTTL = 2 * time.Hour }
	return &TrendStore{rdb: rdb, bucketTTL: bucketTTL}
}

// BucketKey trend:<tag>:<unix 分钟>
func BucketKey(tag string, at time.Time) string {
	return fmt.Sprintf("%s%s:%d", bucketPrefix, tag, at.Unix()/60)
}

// Incr 桶计数与两个榜单在同一 MULTI 内原子递增
func (s *TrendStore) Incr(ctx context.Context, tag string, weight float64, at time.Time) error {
	key := BucketKey(tag, at)
	pipe := s.rdb.TxPipeline()
	pipe.IncrByFloat(ctx, key, weight)
	pipe.Expire(ctx, key, s.bucketTTL)
	pipe.ZIncrBy(ctx, ViewHourly, weight, tag)
	pipe.ZIncrBy(ctx, ViewDaily, weight, tag)
	_, err := pipe.Exec(ctx)
	return err
}

// TopK 榜单 range 读，读路径无计算
func (s *TrendStore) TopK(ctx context.Context, view string, k int64) ([]TrendEntry, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, view, 0, k-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]TrendEntry, 0, len(zs))
	for _, z := range zs {
		tag, _ := z.Member.(string)
		out = append(out, TrendEntry{Hashtag: tag, Score: z.Score})
	}
	return out, nil
}

// Decay 小时榜整体乘 factor（ZUNIONSTORE 自并带权）
func (s *TrendStore) Decay(ctx context.Context, factor float64) error {
	return s.rdb.ZUnionStore(ctx, ViewHourly, &redis.ZStore{
		Keys:    []string{ViewHourly},
		Weights: []float64{factor},
	}).Err()
}

// RemoveBelow 两个榜单清掉低于下限的条目
func (s *TrendStore) RemoveBelow(ctx context.Context, floor float64) error {
	max := "(" + strconv.FormatFloat(floor, 'f', -1, 64)
	pipe := s.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, ViewHourly, "-inf", max)
	pipe.ZRemRangeByScore(ctx, ViewDaily, "-inf", max)
	_, err := pipe.Exec(ctx)
	return err
}

// BucketScore 读桶当前值（不存在为 0）
func (s *TrendStore) BucketScore(ctx context.Context, tag string, at time.Time) (float64, error) {
	v, err := s.rdb.Get(ctx, BucketKey(tag, at)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// CleanupBuckets 删除保留窗口之外的分钟桶（TTL 的兜底）
func (s *TrendStore) CleanupBuckets(ctx context.Context, retention time.Duration, now time.Time) error {
	cutoff := now.Add(-retention).Unix() / 60
	iter := s.rdb.Scan(ctx, 0, bucketPrefix+"*", 256).Iterator()
	var stale []string
	for iter.Next(ctx) {
		key := iter.Val()
		idx := strings.LastIndex(key, ":")
		if idx < 0 {
			continue
		}
		minute, err := strconv.ParseInt(key[idx+1:], 10, 64)
		if err != nil {
			continue
		}
		if minute < cutoff {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, stale...).Err()
}
