package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feed-service/config"
	"github.com/d60-Lab/feed-service/internal/cache"
	"github.com/d60-Lab/feed-service/internal/errclass"
	"github.com/d60-Lab/feed-service/internal/event"
	"github.com/d60-Lab/feed-service/internal/repository"
	"github.com/d60-Lab/feed-service/pkg/logger"
	"github.com/d60-Lab/feed-service/pkg/metrics"
)

// MaxTrendingLimit 榜单读上限
const MaxTrendingLimit = 50

// TrendingAggregator 独立消费组：发帖话题按权重 1.0 计数，
// 被赞帖的话题按较小权重计间接热度；周期任务做衰减与清理。
type TrendingAggregator struct {
	store  *cache.TrendStore
	posts  repository.PostRepository
	dedupe *DedupeSet
	m      *metrics.Metrics
	cfg    config.TrendingConfig
}

func NewTrendingAggregator(store *cache.TrendStore, posts repository.PostRepository, m *metrics.Metrics, cfg config.TrendingConfig) *TrendingAggregator {
	if cfg.LikeWeight <= 0 { cfg.LikeWeight = 0.3 }
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 { cfg.DecayFactor = 0.9 }
	if cfg.DecayInterval <= 0 { cfg.DecayInterval = 5 * time.Minute }
	if cfg.ScoreFloor <= 0 { cfg.ScoreFloor = 0.1 }
	if cfg.BucketRetention <= 0 { cfg.BucketRetention = 24 * time.Hour }
	return &TrendingAggregator{
		store:  store,
		posts:  posts,
		dedupe: NewDedupeSet(0),
		m:      m,
		cfg:    cfg,
	}
}

// Handle 实现 eventlog.Handler
func (t *TrendingAggregator) Handle(ctx context.Context, ev event.Event) error {
	id := ev.MessageID()
	if id != "" && t.dedupe.Seen(id) {
		return nil
	}
	switch {
	case ev.PostCreated != nil:
		pc := ev.PostCreated
		at := time.UnixMilli(pc.Timestamp)
		for _, tag := range pc.Hashtags {
			if err := t.store.Incr(ctx, tag, 1.0, at); err != nil {
				return err
			}
		}
		t.m.TrendEvent(ctx, event.TypePostCreated)
	case ev.PostLiked != nil:
		pl := ev.PostLiked
		post, err := t.posts.GetByID(ctx, pl.PostID)
		if errclass.Classify(err) == errclass.NotFound {
			// 被赞帖已删：无话题可计，ack 掉
			t.dedupe.Add(id)
			return nil
		}
		if err != nil {
			return err
		}
		at := time.UnixMilli(pl.Timestamp)
		for _, tag := range post.HashtagList() {
			if err := t.store.Incr(ctx, tag, t.cfg.LikeWeight, at); err != nil {
				return err
			}
		}
		t.m.TrendEvent(ctx, event.TypePostLiked)
	default:
		return nil
	}
	if id != "" {
		t.dedupe.Add(id)
	}
	return nil
}

// StartMaintenance 固定间隔跑衰减 + 下限清理 + 过期桶删除，
// 与事件消费完全独立
func (t *TrendingAggregator) StartMaintenance(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.cfg.DecayInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.MaintainOnce(ctx)
			}
		}
	}()
}

// MaintainOnce 单轮维护；错误只记日志，下一轮自然重试
func (t *TrendingAggregator) MaintainOnce(ctx context.Context) {
	if err := t.store.Decay(ctx, t.cfg.DecayFactor); err != nil {
		logger.Warn("trending: decay failed", zap.Error(err))
	}
	if err := t.store.RemoveBelow(ctx, t.cfg.ScoreFloor); err != nil {
		logger.Warn("trending: floor cleanup failed", zap.Error(err))
	}
	if err := t.store.CleanupBuckets(ctx, t.cfg.BucketRetention, time.Now()); err != nil {
		logger.Warn("trending: bucket cleanup failed", zap.Error(err))
	}
}

// TopTrending 榜单 range 读
func (t *TrendingAggregator) TopTrending(ctx context.Context, view string, limit int) ([]cache.TrendEntry, error) {
	if limit <= 0 || limit > MaxTrendingLimit {
		limit = MaxTrendingLimit
	}
	if view != cache.ViewDaily {
		view = cache.ViewHourly
	}
	return t.store.TopK(ctx, view, int64(limit))
}
