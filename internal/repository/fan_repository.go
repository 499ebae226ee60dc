package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/feed-service/internal/model"
)

// FanRepository 粉丝表读侧；写侧在 FollowRepository 事务内维护
type FanRepository interface {
	ListFans(ctx context.Context, userID string, offset, limit int) ([]*model.Fan, error)
	// ListFanIDs 按页取粉丝 id，扇出全量遍历用
	ListFanIDs(ctx context.Context, userID string, offset, limit int) ([]string, error)
	CountFans(ctx context.Context, userID string) (int64, error)
}

type fanRepository struct{ db *gorm.DB }

func NewFanRepository(db *gorm.DB) FanRepository { return &fanRepository{db: db} }

func (r *fanRepository) ListFans(ctx context.Context, userID string, offset, limit int) ([]*model.Fan, error) {
	var res []*model.Fan
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

func (r *fanRepository) ListFanIDs(ctx context.Context, userID string, offset, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Fan{}).
		Select("fan_id").
		Where("user_id = ?", userID).
		Order("created_at").
		Offset(offset).Limit(limit).
		Scan(&ids).Error
	return ids, err
}

func (r *fanRepository) CountFans(ctx context.Context, userID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Fan{}).Where("user_id = ?", userID).Count(&cnt).Error
	return cnt, err
}
