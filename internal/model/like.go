package model

import "time"

// Like 点赞记录；(user_id, post_id) 唯一，重复点赞幂等
type Like struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"type:varchar(36);index:idx_like_pair,unique;not null"`
	PostID    int64  `gorm:"index:idx_like_pair,unique;index:idx_like_post;not null"`
	CreatedAt time.Time
}

func (Like) TableName() string { return "likes" }
