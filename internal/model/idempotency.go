package model

import "time"

// IdempotencyKey 写接口幂等记录：同一 (user, key) 重试直接返回原结果，
// 不会二次发布事件
type IdempotencyKey struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `gorm:"type:varchar(36);uniqueIndex:ux_idem_user_key,priority:1;not null"`
	Key       string    `gorm:"type:varchar(128);uniqueIndex:ux_idem_user_key,priority:2;not null"`
	PostID    int64     `gorm:"not null"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (IdempotencyKey) TableName() string { return "idempotency_keys" }
