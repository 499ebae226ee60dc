package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/d60-Lab/feed-service/config"
	"github.com/d60-Lab/feed-service/internal/errclass"
	"github.com/d60-Lab/feed-service/internal/event"
	"github.com/d60-Lab/feed-service/internal/model"
	"github.com/d60-Lab/feed-service/internal/repository"
	"github.com/d60-Lab/feed-service/pkg/logger"
	"github.com/d60-Lab/feed-service/pkg/metrics"
)

// FanoutWorker 消费 post_created 并决定投递策略：
// 普通作者 push 进粉丝缓存，大 V 跳过（读路径 pull），
// 失败只进指标与重试队列，绝不反向阻塞写路径。
type FanoutWorker struct {
	users  repository.UserRepository
	fans   repository.FanRepository
	dedupe *DedupeSet
	push   *ProtectedPush
	m      *metrics.Metrics

	followerPage  int
	writeChunk    int
	retryAttempts int
}

func NewFanoutWorker(users repository.UserRepository, fans repository.FanRepository, push *ProtectedPush, m *metrics.Metrics, cfg config.FanoutConfig) *FanoutWorker {
	if cfg.FollowerPage <= 0 { cfg.FollowerPage = 1000 }
	if cfg.WriteChunk <= 0 { cfg.WriteChunk = 200 }
	if cfg.RetryAttempts <= 0 { cfg.RetryAttempts = 3 }
	return &FanoutWorker{
		users:         users,
		fans:          fans,
		dedupe:        NewDedupeSet(cfg.DedupeCap),
		push:          push,
		m:             m,
		followerPage:  cfg.FollowerPage,
		writeChunk:    cfg.WriteChunk,
		retryAttempts: cfg.RetryAttempts,
	}
}

// Handle 实现 eventlog.Handler。返回错误会让消息留在 pending 重投，
// 因此只有「重投可能成功」的失败才返回错误。
func (w *FanoutWorker) Handle(ctx context.Context, ev event.Event) error {
	pc := ev.PostCreated
	if pc == nil {
		return nil
	}
	if w.dedupe.Seen(pc.MessageID) {
		w.m.FanoutOutcome(ctx, metrics.ResultDeduped)
		return nil
	}
	start := time.Now()

	author, err := w.getAuthor(ctx, pc.AuthorID)
	if errclass.Classify(err) == errclass.NotFound {
		// 发布与消费之间作者被删：重投无意义，显式 ack 并计数
		logger.Warn("fanout: author missing, skipping",
			zap.Int64("post_id", pc.PostID), zap.String("author_id", pc.AuthorID))
		w.m.FanoutOutcome(ctx, metrics.ResultAuthorMissing)
		w.dedupe.Add(pc.MessageID)
		return nil
	}
	if err != nil {
		w.m.FanoutOutcome(ctx, metrics.ResultError)
		return err
	}

	if author.Celebrity {
		// 热点规避：千万级粉丝逐一写缓存不可行，大 V 帖子读时 pull
		w.m.FanoutOutcome(ctx, metrics.ResultSkippedCelebrity)
		w.dedupe.Add(pc.MessageID)
		return nil
	}

	followers, err := w.listFollowers(ctx, pc.AuthorID)
	if err != nil {
		w.m.FanoutOutcome(ctx, metrics.ResultError)
		return err
	}

	// 作者自己的时间线总是收到，哪怕零粉丝
	targets := append(followers, pc.AuthorID)
	failed := false
	for _, chunk := range chunks(targets, w.writeChunk) {
		job := FanoutJob{PostID: pc.PostID, AuthorID: pc.AuthorID, FollowerIDs: chunk}
		deferred, err := w.push.Do(ctx, job)
		if err != nil {
			failed = true
			logger.Warn("fanout: cache write failed",
				zap.Int64("post_id", pc.PostID), zap.Int("chunk", len(chunk)), zap.Error(err))
			continue
		}
		if deferred {
			logger.Info("fanout: chunk deferred to retry queue",
				zap.Int64("post_id", pc.PostID), zap.Int("chunk", len(chunk)))
		}
	}

	// 写失败不重投整条事件：部分粉丝已写入，重投会放大写量；
	// 缺口由重试队列与时间线重建兜底
	w.dedupe.Add(pc.MessageID)
	if failed {
		w.m.FanoutOutcome(ctx, metrics.ResultError)
	} else {
		w.m.FanoutOutcome(ctx, metrics.ResultSuccess)
	}
	w.m.FanoutDuration(ctx, time.Since(start).Seconds(), len(followers))
	return nil
}

func (w *FanoutWorker) getAuthor(ctx context.Context, id string) (*model.User, error) {
	var u *model.User
	op := func() error {
		got, err := w.users.GetByID(ctx, id)
		if err != nil {
			// not-found 不可能被重试修好，瞬时错误才退避
			if errclass.Classify(err) == errclass.NotFound {
				return backoff.Permanent(err)
			}
			return err
		}
		u = got
		return nil
	}
	if err := backoff.Retry(op, w.newBackoff(ctx)); err != nil {
		return nil, err
	}
	return u, nil
}

// listFollowers 分页拉全量粉丝 id，单页瞬时错误做退避重试
func (w *FanoutWorker) listFollowers(ctx context.Context, authorID string) ([]string, error) {
	var all []string
	offset := 0
	for {
		var page []string
		op := func() error {
			got, err := w.fans.ListFanIDs(ctx, authorID, offset, w.followerPage)
			if err != nil {
				return err
			}
			page = got
			return nil
		}
		if err := backoff.Retry(op, w.newBackoff(ctx)); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < w.followerPage {
			return all, nil
		}
		offset += w.followerPage
	}
}

func (w *FanoutWorker) newBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(50*time.Millisecond)),
		uint64(w.retryAttempts)), ctx)
}

func chunks(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
