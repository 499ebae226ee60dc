package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/feed-service/internal/eventlog"
	"github.com/d60-Lab/feed-service/internal/model"
	"github.com/d60-Lab/feed-service/pkg/logger"
)

// OutboxRelay 从 outbox 认领 pending 事件并发布到事件流。
// 写路径只负责落行，发布完全异步，创建请求不等 broker。
type OutboxRelay struct {
	db           *gorm.DB
	pub          *eventlog.Publisher
	claimLimit   int
	pollInterval time.Duration
	workers      int
}

func NewOutboxRelay(db *gorm.DB, pub *eventlog.Publisher, workers, claimLimit int, pollInterval time.Duration) *OutboxRelay {
	if workers <= 0 { workers = 2 }
	if claimLimit <= 0 { claimLimit = 128 }
	if pollInterval <= 0 { pollInterval = 50 * time.Millisecond }
	return &OutboxRelay{db: db, pub: pub, workers: workers, claimLimit: claimLimit, pollInterval: pollInterval}
}

// Start 启动若干 worker 轮询处理 outbox；返回停止函数。
func (r *OutboxRelay) Start() func(context.Context) error {
	stop := make(chan struct{})
	for i := 0; i < r.workers; i++ {
		go r.loop(stop)
	}
	return func(ctx context.Context) error { close(stop); return nil }
}

func (r *OutboxRelay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.ProcessOnce(context.Background()); err != nil {
				logger.Warn("relay: claim failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce claim 一批 pending 并逐条发布；发布失败回 pending 等下一轮
func (r *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	type row struct {
		ID           string
		PartitionKey string
		Payload      string
	}
	var batch []row
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := `
            SELECT id, partition_key, payload
            FROM outbox
            WHERE status = 'pending'
            ORDER BY created_at
            LIMIT ?`
		if tx.Dialector.Name() == "postgres" {
			q += " FOR UPDATE SKIP LOCKED"
		}
		if err := tx.Raw(q, r.claimLimit).Scan(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.Outbox{}).Where("id IN ?", ids).
			Update("status", model.OutboxProcessing).Error
	})
	if err != nil {
		return 0, err
	}

	published := 0
	for _, b := range batch {
		if err := r.pub.Publish(ctx, b.PartitionKey, []byte(b.Payload)); err != nil {
			logger.Warn("relay: publish failed, row back to pending",
				zap.String("outbox_id", b.ID), zap.Error(err))
			_ = r.db.WithContext(ctx).Model(&model.Outbox{}).Where("id = ?", b.ID).
				Update("status", model.OutboxPending).Error
			continue
		}
		now := time.Now()
		_ = r.db.WithContext(ctx).Model(&model.Outbox{}).Where("id = ?", b.ID).
			Updates(map[string]any{"status": model.OutboxDone, "published_at": now}).Error
		published++
	}
	return published, nil
}
