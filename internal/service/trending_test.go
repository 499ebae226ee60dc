package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feed-service/config"
	"github.com/d60-Lab/feed-service/internal/cache"
	"github.com/d60-Lab/feed-service/internal/event"
	"github.com/d60-Lab/feed-service/internal/model"
	"github.com/d60-Lab/feed-service/internal/repository"
)

func newTrendingFixture(t *testing.T) (*TrendingAggregator, *cache.TrendStore, *model.Post) {
	db := setupDB(t)
	_, rdb := setupRedis(t)
	store := cache.NewTrendStore(rdb, 2*time.Hour)
	posts := repository.NewPostRepository(db)

	p := model.Post{AuthorID: "a", Body: "#golang rocks", CreatedAt: time.Now()}
	p.SetHashtags([]string{"golang"})
	require.NoError(t, db.Create(&p).Error)

	agg := NewTrendingAggregator(store, posts, newMetrics(t), config.TrendingConfig{
		LikeWeight: 0.3, DecayFactor: 0.9, DecayInterval: time.Minute,
		ScoreFloor: 0.1, BucketRetention: 24 * time.Hour,
	})
	return agg, store, &p
}

func postCreatedEvent(n int, postID int64, at time.Time) event.Event {
	return event.Event{PostCreated: &event.PostCreated{
		Envelope: event.Envelope{
			Type: event.TypePostCreated, MessageID: fmt.Sprintf("pc-%d", n), Timestamp: at.UnixMilli(),
		},
		PostID: postID, AuthorID: "a", Content: "#golang rocks",
		Hashtags: []string{"golang"}, CreatedAt: at.UnixMilli(),
	}}
}

func postLikedEvent(n int, postID int64, at time.Time) event.Event {
	return event.Event{PostLiked: &event.PostLiked{
		Envelope: event.Envelope{
			Type: event.TypePostLiked, MessageID: fmt.Sprintf("pl-%d", n), Timestamp: at.UnixMilli(),
		},
		UserID: fmt.Sprintf("u%d", n), PostID: postID,
	}}
}

func TestTrendingWeightsAndDecay(t *testing.T) {
	agg, store, post := newTrendingFixture(t)
	ctx := context.Background()
	at := time.Now()

	// 10 次发帖 ×1.0 + 10 次点赞 ×0.3 = 13.0
	for i := 0; i < 10; i++ {
		require.NoError(t, agg.Handle(ctx, postCreatedEvent(i, post.ID, at)))
		require.NoError(t, agg.Handle(ctx, postLikedEvent(i, post.ID, at)))
	}

	top, err := agg.TopTrending(ctx, "hourly", 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "golang", top[0].Hashtag)
	assert.InDelta(t, 13.0, top[0].Score, 1e-9)

	bucket, err := store.BucketScore(ctx, "golang", at)
	require.NoError(t, err)
	assert.InDelta(t, 13.0, bucket, 1e-9)

	// 衰减只作用于小时榜
	agg.MaintainOnce(ctx)
	hourly, err := store.TopK(ctx, cache.ViewHourly, 1)
	require.NoError(t, err)
	assert.InDelta(t, 11.7, hourly[0].Score, 1e-9)
	daily, err := store.TopK(ctx, cache.ViewDaily, 1)
	require.NoError(t, err)
	assert.InDelta(t, 13.0, daily[0].Score, 1e-9)
}

func TestTrendingRedeliveredMessageCountedOnce(t *testing.T) {
	agg, _, post := newTrendingFixture(t)
	ctx := context.Background()
	ev := postCreatedEvent(1, post.ID, time.Now())

	require.NoError(t, agg.Handle(ctx, ev))
	require.NoError(t, agg.Handle(ctx, ev))

	top, err := agg.TopTrending(ctx, "hourly", 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.InDelta(t, 1.0, top[0].Score, 1e-9)
}

func TestTrendingLikeOfMissingPostAcked(t *testing.T) {
	agg, _, _ := newTrendingFixture(t)
	ctx := context.Background()

	// 被赞帖已不存在：不报错（即会被 ack），榜单不动
	require.NoError(t, agg.Handle(ctx, postLikedEvent(1, 99999, time.Now())))
	top, err := agg.TopTrending(ctx, "hourly", 10)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestTrendingFloorCleanup(t *testing.T) {
	agg, store, _ := newTrendingFixture(t)
	ctx := context.Background()
	at := time.Now()

	require.NoError(t, store.Incr(ctx, "hot", 5.0, at))
	require.NoError(t, store.Incr(ctx, "cold", 0.05, at))

	agg.MaintainOnce(ctx)

	hourly, err := store.TopK(ctx, cache.ViewHourly, 10)
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.Equal(t, "hot", hourly[0].Hashtag)
}
