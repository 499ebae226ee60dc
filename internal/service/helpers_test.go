package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/feed-service/config"
	"github.com/d60-Lab/feed-service/internal/cache"
	"github.com/d60-Lab/feed-service/internal/model"
	"github.com/d60-Lab/feed-service/internal/repository"
	"github.com/d60-Lab/feed-service/pkg/metrics"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.Post{}, &model.Follow{}, &model.Fan{},
		&model.Like{}, &model.Outbox{}, &model.IdempotencyKey{},
	))
	return db
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newMetrics(t *testing.T) *metrics.Metrics {
	m, err := metrics.New()
	require.NoError(t, err)
	return m
}

func seedUser(t *testing.T, db *gorm.DB, id string) {
	require.NoError(t, db.Create(&model.User{
		ID: id, Username: id, Email: id + "@example.com", Password: "p",
	}).Error)
}

// seedFollowers 让 fanIDs 全部关注 author
func seedFollowers(t *testing.T, db *gorm.DB, followRepo repository.FollowRepository, author string, fanIDs []string) {
	for _, id := range fanIDs {
		seedUser(t, db, id)
		require.NoError(t, followRepo.Create(context.Background(), id, author))
	}
}

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		Window:       time.Second,
		ResetTimeout: 100 * time.Millisecond,
		MinRequests:  2,
		FailureRatio: 0.5,
		CallTimeout:  200 * time.Millisecond,
	}
}

func testFanoutConfig() config.FanoutConfig {
	return config.FanoutConfig{
		TimelineMax:        10,
		TimelineTTL:        time.Hour,
		CelebrityThreshold: 3,
		FollowerPage:       2,
		WriteChunk:         2,
		DedupeCap:          100,
		RetryAttempts:      1,
	}
}

func newTestPush(t *testing.T, tl *cache.TimelineCache, queueRdb *redis.Client, m *metrics.Metrics) (*ProtectedPush, *RetryQueue) {
	queue := NewRetryQueue(queueRdb, config.RetryQueueConfig{
		Key: "fanout:retry", DrainBatch: 16, MaxRetries: 2,
		DrainInterval: 10 * time.Millisecond, DrainRate: 10000,
	}, m)
	return NewProtectedPush("test-cache", testBreakerConfig(), tl, queue, m), queue
}
