package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/feed-service/config"
	"github.com/d60-Lab/feed-service/internal/cache"
	"github.com/d60-Lab/feed-service/internal/errclass"
	"github.com/d60-Lab/feed-service/pkg/logger"
	"github.com/d60-Lab/feed-service/pkg/metrics"
)

// FanoutJob 熔断降级时落入重试队列的待写任务
type FanoutJob struct {
	PostID      int64    `json:"postId"`
	AuthorID    string   `json:"authorId"`
	FollowerIDs []string `json:"followerIds"`
	Retries     int      `json:"retries"`
	LastError   string   `json:"lastError,omitempty"`
	EnqueuedAt  int64    `json:"enqueuedAt"`
}

// RetryQueue Redis list 承载的持久重试队列。
// 多个 drainer 并发 pop-and-requeue 是 at-least-once 语义，安全。
type RetryQueue struct {
	rdb *redis.Client
	cfg config.RetryQueueConfig
	m   *metrics.Metrics
}

func NewRetryQueue(rdb *redis.Client, cfg config.RetryQueueConfig, m *metrics.Metrics) *RetryQueue {
	if cfg.Key == "" { cfg.Key = "fanout:retry" }
	if cfg.DrainBatch <= 0 { cfg.DrainBatch = 64 }
	if cfg.MaxRetries <= 0 { cfg.MaxRetries = 5 }
	if cfg.DrainInterval <= 0 { cfg.DrainInterval = 5 * time.Second }
	if cfg.DrainRate <= 0 { cfg.DrainRate = 200 }
	return &RetryQueue{rdb: rdb, cfg: cfg, m: m}
}

// Enqueue 入队失败即该任务的数据丢失点，必须大声上报
func (q *RetryQueue) Enqueue(ctx context.Context, job FanoutJob) error {
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, q.cfg.Key, payload).Err(); err != nil {
		logger.Error("retryqueue: enqueue failed, fanout job lost",
			zap.Int64("post_id", job.PostID), zap.String("author_id", job.AuthorID),
			zap.Int("followers", len(job.FollowerIDs)), zap.Error(err))
		sentry.CaptureException(err)
		return err
	}
	q.observeDepth(ctx)
	return nil
}

func (q *RetryQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.cfg.Key).Result()
}

func (q *RetryQueue) observeDepth(ctx context.Context) {
	if n, err := q.Depth(ctx); err == nil {
		q.m.SetQueueDepth(n)
	}
}

// StartDrain 周期性排水：ctx 取消后退出
func (q *RetryQueue) StartDrain(ctx context.Context, tl *cache.TimelineCache) {
	go func() {
		limiter := rate.NewLimiter(rate.Limit(q.cfg.DrainRate), q.cfg.DrainBatch)
		ticker := time.NewTicker(q.cfg.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.DrainOnce(ctx, tl, limiter)
			}
		}
	}()
}

// DrainOnce 弹出一批任务并裸写缓存（绕过熔断器：批大小本身就是节流）。
// 成功丢弃；失败带重试计数回队尾；超限则丢弃并记永久失败。
func (q *RetryQueue) DrainOnce(ctx context.Context, tl *cache.TimelineCache, limiter *rate.Limiter) int {
	processed := 0
	for i := 0; i < q.cfg.DrainBatch; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		raw, err := q.rdb.LPop(ctx, q.cfg.Key).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			logger.Warn("retryqueue: pop failed", zap.Error(err))
			break
		}
		var job FanoutJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			logger.Error("retryqueue: corrupt job dropped", zap.String("raw", raw), zap.Error(err))
			continue
		}
		if err := tl.Push(ctx, job.FollowerIDs, job.PostID); err != nil {
			job.Retries++
			job.LastError = err.Error()
			if job.Retries > q.cfg.MaxRetries {
				// 有界数据丢失：该帖未进这批粉丝的缓存，可由时间线重建恢复
				permErr := fmt.Errorf("%w: %s", errclass.ErrPermanent, job.LastError)
				logger.Error("retryqueue: job permanently failed, dropping",
					zap.Int64("post_id", job.PostID), zap.String("author_id", job.AuthorID),
					zap.Int("followers", len(job.FollowerIDs)), zap.Int("retries", job.Retries),
					zap.Stringer("error_class", errclass.Classify(permErr)),
					zap.String("last_error", job.LastError))
				sentry.CaptureException(permErr)
				continue
			}
			logger.Warn("retryqueue: job failed, requeueing",
				zap.Int64("post_id", job.PostID), zap.Int("retries", job.Retries),
				zap.Stringer("error_class", errclass.Classify(err)), zap.Error(err))
			if payload, mErr := json.Marshal(job); mErr == nil {
				if pErr := q.rdb.RPush(ctx, q.cfg.Key, payload).Err(); pErr != nil {
					logger.Error("retryqueue: requeue failed, fanout job lost",
						zap.Int64("post_id", job.PostID), zap.Error(pErr))
					sentry.CaptureException(pErr)
				}
			}
			continue
		}
		processed++
	}
	q.observeDepth(ctx)
	return processed
}
