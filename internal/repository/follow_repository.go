package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feed-service/internal/model"
)

type FollowRepository interface {
	// Create 建边：follows + fans 冗余 + followee 粉丝数/大 V 标记，同一事务
	Create(ctx context.Context, followerID, followeeID string) error
	Delete(ctx context.Context, followerID, followeeID string) error
	Exists(ctx context.Context, followerID, followeeID string) (bool, error)
	ListFollowings(ctx context.Context, followerID string, offset, limit int) ([]*model.Follow, error)
	// CelebrityFollowees 请求者关注的大 V id（读路径 pull 用）
	CelebrityFollowees(ctx context.Context, followerID string) ([]string, error)
	// NonCelebrityFollowees 请求者关注的非大 V id（时间线重建用）
	NonCelebrityFollowees(ctx context.Context, followerID string) ([]string, error)
}

type followRepository struct {
	db        *gorm.DB
	threshold int64
}

func NewFollowRepository(db *gorm.DB, celebrityThreshold int64) FollowRepository {
	return &followRepository{db: db, threshold: celebrityThreshold}
}

func (r *followRepository) Create(ctx context.Context, followerID, followeeID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f := &model.Follow{ID: uuid.New().String(), FollowerID: followerID, FolloweeID: followeeID}
		// 幂等：重复关注不报错、不重复计数
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(f)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		fan := &model.Fan{ID: uuid.New().String(), UserID: followeeID, FanID: followerID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(fan).Error; err != nil {
			return err
		}
		return r.recalc(tx, followeeID, +1)
	})
}

func (r *followRepository) Delete(ctx context.Context, followerID, followeeID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
			Delete(&model.Follow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Where("user_id = ? AND fan_id = ?", followeeID, followerID).
			Delete(&model.Fan{}).Error; err != nil {
			return err
		}
		return r.recalc(tx, followeeID, -1)
	})
}

// recalc 调整粉丝数并按阈值重算大 V 标记
func (r *followRepository) recalc(tx *gorm.DB, userID string, delta int64) error {
	if err := tx.Model(&model.User{}).Where("id = ?", userID).
		Update("follower_count", gorm.Expr("follower_count + ?", delta)).Error; err != nil {
		return err
	}
	return tx.Model(&model.User{}).Where("id = ?", userID).
		Update("celebrity", gorm.Expr("follower_count >= ?", r.threshold)).Error
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *followRepository) ListFollowings(ctx context.Context, followerID string, offset, limit int) ([]*model.Follow, error) {
	var res []*model.Follow
	err := r.db.WithContext(ctx).Where("follower_id = ?", followerID).Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

func (r *followRepository) CelebrityFollowees(ctx context.Context, followerID string) ([]string, error) {
	return r.followeesByCelebrity(ctx, followerID, true)
}

func (r *followRepository) NonCelebrityFollowees(ctx context.Context, followerID string) ([]string, error) {
	return r.followeesByCelebrity(ctx, followerID, false)
}

func (r *followRepository) followeesByCelebrity(ctx context.Context, followerID string, celebrity bool) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Table("follows").
		Select("follows.followee_id").
		Joins("JOIN users ON users.id = follows.followee_id").
		Where("follows.follower_id = ? AND users.celebrity = ?", followerID, celebrity).
		Scan(&ids).Error
	return ids, err
}
