package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/feed-service/internal/model"
)

type PostRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Post, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.Post, error)
	// RecentByAuthors 拉取一组作者的近期未删除帖子，时间倒序；
	// before > 0 时只取 id < before 的帖子（游标翻页窗口随之后移）
	RecentByAuthors(ctx context.Context, authorIDs []string, before int64, limit int) ([]model.Post, error)
	// LikedSet 请求者对一批帖子的点赞状态
	LikedSet(ctx context.Context, userID string, postIDs []int64) (map[int64]bool, error)
	// RepostedSet 请求者对一批帖子的转发状态
	RepostedSet(ctx context.Context, userID string, postIDs []int64) (map[int64]bool, error)
}

type postRepository struct{ db *gorm.DB }

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func (r *postRepository) GetByID(ctx context.Context, id int64) (*model.Post, error) {
	var p model.Post
	err := r.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) GetByIDs(ctx context.Context, ids []int64) ([]model.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res []model.Post
	err := r.db.WithContext(ctx).
		Where("id IN ? AND deleted = ?", ids, false).
		Find(&res).Error
	return res, err
}

func (r *postRepository) RecentByAuthors(ctx context.Context, authorIDs []string, before int64, limit int) ([]model.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).
		Where("author_id IN ? AND deleted = ?", authorIDs, false)
	if before > 0 {
		q = q.Where("id < ?", before)
	}
	var res []model.Post
	err := q.Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *postRepository) LikedSet(ctx context.Context, userID string, postIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Like{}).
		Select("post_id").
		Where("user_id = ? AND post_id IN ?", userID, postIDs).
		Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *postRepository) RepostedSet(ctx context.Context, userID string, postIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Post{}).
		Select("repost_of").
		Where("author_id = ? AND repost_of IN ? AND deleted = ?", userID, postIDs, false).
		Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
