package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/feed-service/internal/model"
)

// IdempotencyRepository 写接口幂等键查存；写入在发帖事务内完成
type IdempotencyRepository interface {
	Get(ctx context.Context, userID, key string) (*model.IdempotencyKey, error)
	PurgeExpired(ctx context.Context) error
}

type idempotencyRepository struct{ db *gorm.DB }

func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Get(ctx context.Context, userID, key string) (*model.IdempotencyKey, error) {
	var rec model.IdempotencyKey
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND key = ? AND expires_at > ?", userID, key, time.Now()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *idempotencyRepository) PurgeExpired(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&model.IdempotencyKey{}).Error
}
