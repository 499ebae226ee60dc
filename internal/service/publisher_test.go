package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/feed-service/internal/event"
	"github.com/d60-Lab/feed-service/internal/eventlog"
	"github.com/d60-Lab/feed-service/internal/model"
	"github.com/d60-Lab/feed-service/internal/repository"
)

func newPublisher(t *testing.T) (*Publisher, *gorm.DB) {
	db := setupDB(t)
	pub := NewPublisher(db,
		repository.NewIdempotencyRepository(db),
		repository.NewPostRepository(db))
	return pub, db
}

func outboxRows(t *testing.T, db *gorm.DB) []model.Outbox {
	var rows []model.Outbox
	require.NoError(t, db.Order("created_at").Find(&rows).Error)
	return rows
}

func TestCreatePostWritesOutboxSameTransaction(t *testing.T) {
	pub, db := newPublisher(t)
	ctx := context.Background()
	seedUser(t, db, "alice")

	post, err := pub.CreatePost(ctx, PostInput{
		AuthorID: "alice", Body: "hello #go", Hashtags: []string{"go"},
	})
	require.NoError(t, err)
	require.NotZero(t, post.ID)

	rows := outboxRows(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, event.TypePostCreated, rows[0].EventType)
	assert.Equal(t, "alice", rows[0].PartitionKey)
	assert.Equal(t, model.OutboxPending, rows[0].Status)

	ev, err := event.Decode([]byte(rows[0].Payload))
	require.NoError(t, err)
	require.NotNil(t, ev.PostCreated)
	assert.Equal(t, post.ID, ev.PostCreated.PostID)
	assert.Equal(t, []string{"go"}, ev.PostCreated.Hashtags)
	assert.NotEmpty(t, ev.PostCreated.MessageID)
}

func TestCreatePostIdempotencyKey(t *testing.T) {
	pub, db := newPublisher(t)
	ctx := context.Background()
	seedUser(t, db, "alice")

	first, err := pub.CreatePost(ctx, PostInput{
		AuthorID: "alice", Body: "once", IdempotencyKey: "req-1",
	})
	require.NoError(t, err)
	second, err := pub.CreatePost(ctx, PostInput{
		AuthorID: "alice", Body: "once", IdempotencyKey: "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&model.Post{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, outboxRows(t, db), 1, "retry must not emit a second event")
}

func TestCreatePostRejectsEmptyBody(t *testing.T) {
	pub, _ := newPublisher(t)
	_, err := pub.CreatePost(context.Background(), PostInput{AuthorID: "alice"})
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestReplyAndRepostMaintainParentCounters(t *testing.T) {
	pub, db := newPublisher(t)
	ctx := context.Background()
	seedUser(t, db, "alice")

	parent, err := pub.CreatePost(ctx, PostInput{AuthorID: "alice", Body: "root"})
	require.NoError(t, err)
	_, err = pub.CreatePost(ctx, PostInput{AuthorID: "alice", Body: "re", ReplyTo: &parent.ID})
	require.NoError(t, err)
	_, err = pub.CreatePost(ctx, PostInput{AuthorID: "alice", RepostOf: &parent.ID})
	require.NoError(t, err)

	var got model.Post
	require.NoError(t, db.First(&got, parent.ID).Error)
	assert.Equal(t, int64(1), got.ReplyCount)
	assert.Equal(t, int64(1), got.RepostCount)
}

func TestLikePostIdempotent(t *testing.T) {
	pub, db := newPublisher(t)
	ctx := context.Background()
	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	post, err := pub.CreatePost(ctx, PostInput{AuthorID: "alice", Body: "hi"})
	require.NoError(t, err)

	require.NoError(t, pub.LikePost(ctx, "bob", post.ID))
	require.NoError(t, pub.LikePost(ctx, "bob", post.ID))

	var got model.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Equal(t, int64(1), got.LikeCount)

	likeEvents := 0
	for _, row := range outboxRows(t, db) {
		if row.EventType == event.TypePostLiked {
			likeEvents++
		}
	}
	assert.Equal(t, 1, likeEvents)
}

func TestLikeMissingPost(t *testing.T) {
	pub, db := newPublisher(t)
	seedUser(t, db, "bob")
	err := pub.LikePost(context.Background(), "bob", 404)
	assert.ErrorIs(t, err, repository.ErrPostNotFound)
}

func TestOutboxRelayPublishesAndMarksDone(t *testing.T) {
	pub, db := newPublisher(t)
	_, rdb := setupRedis(t)
	ctx := context.Background()
	seedUser(t, db, "alice")

	stream := eventlog.NewStream("events:feed", 4)
	relay := NewOutboxRelay(db, eventlog.NewPublisher(rdb, stream, 1000), 1, 64, 10*time.Millisecond)

	post, err := pub.CreatePost(ctx, PostInput{AuthorID: "alice", Body: "hi"})
	require.NoError(t, err)

	n, err := relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 事件落在作者 partition key 对应的 stream 上
	key := stream.Key(stream.PartitionFor("alice"))
	msgs, err := rdb.XRange(ctx, key, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	payload, _ := msgs[0].Values["payload"].(string)
	ev, err := event.Decode([]byte(payload))
	require.NoError(t, err)
	require.NotNil(t, ev.PostCreated)
	assert.Equal(t, post.ID, ev.PostCreated.PostID)

	rows := outboxRows(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, model.OutboxDone, rows[0].Status)
	require.NotNil(t, rows[0].PublishedAt)

	// 再跑一轮没有 pending 可认领
	n, err = relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
