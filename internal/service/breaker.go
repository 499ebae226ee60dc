package service

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/d60-Lab/feed-service/config"
	"github.com/d60-Lab/feed-service/internal/cache"
	"github.com/d60-Lab/feed-service/internal/errclass"
	"github.com/d60-Lab/feed-service/pkg/logger"
	"github.com/d60-Lab/feed-service/pkg/metrics"
)

// ProtectedPush 熔断器包裹的时间线批量写。
// Closed 直通；滚动窗口内失败率超阈值（且有最小流量）转 Open；
// Open 直接走降级（入重试队列）；reset 超时后 Half-Open 放一条试探。
// 只有连接层错误计入失败率，per-key 错误不触发熔断。
type ProtectedPush struct {
	cb    *gobreaker.CircuitBreaker
	tl    *cache.TimelineCache
	queue *RetryQueue
	cfg   config.BreakerConfig
	m     *metrics.Metrics
	name  string
}

func NewProtectedPush(name string, cfg config.BreakerConfig, tl *cache.TimelineCache, queue *RetryQueue, m *metrics.Metrics) *ProtectedPush {
	p := &ProtectedPush{tl: tl, queue: queue, cfg: cfg, m: m, name: name}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // half-open 只放一条试探
		Interval:    cfg.Window,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errclass.IsConnection(err)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("breaker: state change",
				zap.String("call_site", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
			m.SetBreakerState(name, stateValue(to))
		},
	})
	m.SetBreakerState(name, stateValue(gobreaker.StateClosed))
	return p
}

// Do 尝试受保护写。返回 deferred=true 表示已降级入队（调用方视为已处理）。
// 非连接层写错误原样返回，由调用方记日志与指标，绝不向写路径传播。
func (p *ProtectedPush) Do(ctx context.Context, job FanoutJob) (deferred bool, err error) {
	_, err = p.cb.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		return nil, p.tl.Push(cctx, job.FollowerIDs, job.PostID)
	})
	if err == nil {
		return false, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		job.LastError = errclass.ErrDegraded.Error()
		if qErr := p.queue.Enqueue(ctx, job); qErr != nil {
			return false, qErr
		}
		return true, nil
	}
	return false, err
}

// State 当前熔断状态（测试与探活用）
func (p *ProtectedPush) State() gobreaker.State { return p.cb.State() }

func stateValue(s gobreaker.State) int64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
