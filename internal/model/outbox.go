package model

import "time"

// Outbox 事件外发盒：写路径与 post/like 同事务落一行，
// relay 认领后发布到事件流
type Outbox struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	EventType string `gorm:"type:varchar(32);not null"`
	// 分区键（作者 id），保证同作者事件同分区有序
	PartitionKey string    `gorm:"type:varchar(36);index"`
	Payload      string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
	Status       string    `gorm:"type:varchar(16);index"` // pending, processing, done
	PublishedAt  *time.Time
}

func (Outbox) TableName() string { return "outbox" }

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
)
