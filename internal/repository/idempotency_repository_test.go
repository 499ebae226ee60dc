package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feed-service/internal/model"
)

func TestIdempotencyGetSkipsExpired(t *testing.T) {
	db := setupDB(t)
	repo := NewIdempotencyRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.IdempotencyKey{
		ID: "live", UserID: "u1", Key: "k-live", PostID: 1,
		ExpiresAt: time.Now().Add(time.Hour),
	}).Error)
	require.NoError(t, db.Create(&model.IdempotencyKey{
		ID: "stale", UserID: "u1", Key: "k-stale", PostID: 2,
		ExpiresAt: time.Now().Add(-time.Hour),
	}).Error)

	rec, err := repo.Get(ctx, "u1", "k-live")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.PostID)

	// 过期记录视同不存在，调用方会重新发帖
	rec, err = repo.Get(ctx, "u1", "k-stale")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPurgeExpiredRemovesOnlyStaleRows(t *testing.T) {
	db := setupDB(t)
	repo := NewIdempotencyRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.IdempotencyKey{
		ID: "live", UserID: "u1", Key: "k-live", PostID: 1,
		ExpiresAt: time.Now().Add(time.Hour),
	}).Error)
	for i, id := range []string{"stale-a", "stale-b"} {
		require.NoError(t, db.Create(&model.IdempotencyKey{
			ID: id, UserID: "u2", Key: id, PostID: int64(10 + i),
			ExpiresAt: time.Now().Add(-time.Minute),
		}).Error)
	}

	require.NoError(t, repo.PurgeExpired(ctx))

	var left []model.IdempotencyKey
	require.NoError(t, db.Find(&left).Error)
	require.Len(t, left, 1)
	assert.Equal(t, "live", left[0].ID)
}
