package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feed-service/config"
	"github.com/d60-Lab/feed-service/internal/cache"
)

func TestDrainSuccessDiscardsJob(t *testing.T) {
	_, rdb := setupRedis(t)
	m := newMetrics(t)
	tl := cache.NewTimelineCache(rdb, 10, time.Hour)
	queue := NewRetryQueue(rdb, config.RetryQueueConfig{
		Key: "fanout:retry", DrainBatch: 16, MaxRetries: 2, DrainRate: 10000,
	}, m)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, FanoutJob{PostID: 5, AuthorID: "a", FollowerIDs: []string{"f1", "f2"}}))
	depth, _ := queue.Depth(ctx)
	require.Equal(t, int64(1), depth)

	n := queue.DrainOnce(ctx, tl, nil)
	assert.Equal(t, 1, n)

	depth, _ = queue.Depth(ctx)
	assert.Zero(t, depth)
	ids, err := tl.Read(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids)
}

func TestDrainFailureRequeuesWithRetryCount(t *testing.T) {
	_, queueRdb := setupRedis(t)
	cacheMr, cacheRdb := setupRedis(t)
	m := newMetrics(t)
	tl := cache.NewTimelineCache(cacheRdb, 10, time.Hour)
	// DrainBatch=1：失败回队的任务不会在同一轮被再次弹出
	queue := NewRetryQueue(queueRdb, config.RetryQueueConfig{
		Key: "fanout:retry", DrainBatch: 1, MaxRetries: 2, DrainRate: 10000,
	}, m)
	ctx := context.Background()

	cacheMr.SetError("connection refused")
	require.NoError(t, queue.Enqueue(ctx, FanoutJob{PostID: 5, AuthorID: "a", FollowerIDs: []string{"f1"}}))

	queue.DrainOnce(ctx, tl, nil)

	depth, _ := queue.Depth(ctx)
	require.Equal(t, int64(1), depth)
	raw, err := queueRdb.LIndex(ctx, "fanout:retry", 0).Result()
	require.NoError(t, err)
	var job FanoutJob
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, 1, job.Retries)
	assert.NotEmpty(t, job.LastError)
}

func TestDrainDropsJobAfterMaxRetries(t *testing.T) {
	_, queueRdb := setupRedis(t)
	cacheMr, cacheRdb := setupRedis(t)
	m := newMetrics(t)
	tl := cache.NewTimelineCache(cacheRdb, 10, time.Hour)
	queue := NewRetryQueue(queueRdb, config.RetryQueueConfig{
		Key: "fanout:retry", DrainBatch: 1, MaxRetries: 2, DrainRate: 10000,
	}, m)
	ctx := context.Background()

	cacheMr.SetError("connection refused")
	require.NoError(t, queue.Enqueue(ctx, FanoutJob{PostID: 5, AuthorID: "a", FollowerIDs: []string{"f1"}}))

	// 每轮失败 +1，超过 MaxRetries=2 后丢弃
	for i := 0; i < 3; i++ {
		queue.DrainOnce(ctx, tl, nil)
	}
	depth, _ := queue.Depth(ctx)
	assert.Zero(t, depth, "job dropped permanently after retry budget")

	// 丢弃后不再回队
	queue.DrainOnce(ctx, tl, nil)
	depth, _ = queue.Depth(ctx)
	assert.Zero(t, depth)
}
