package model

import "time"

// User 用户（含大 V 标记，随关注边变更事务内重算）
type User struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	Username      string `gorm:"type:varchar(64);uniqueIndex"`
	Email         string `gorm:"type:varchar(128)"`
	Password      string `gorm:"type:varchar(128)"`
	Age           int
	FollowerCount int64 `gorm:"not null;default:0"`
	// Celebrity = FollowerCount >= 阈值；大 V 永不 push 扇出
	Celebrity bool `gorm:"not null;default:false;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }
