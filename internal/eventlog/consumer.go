package eventlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feed-service/internal/event"
	"github.com/d60-Lab/feed-service/pkg/logger"
)

// Handler 处理一条已解码事件。返回 nil 即视为处理完成（ack）；
// 返回错误则不 ack，留在 pending 列表等待重投。
type Handler func(ctx context.Context, ev event.Event) error

// ConsumerOptions 消费组参数
type ConsumerOptions struct {
	Group        string
	Consumer     string
	ReadBatch    int64
	BlockTimeout time.Duration
	ClaimMinIdle time.Duration
}

// Consumer 一个消费组实例：每分区一个 goroutine，分区内串行，分区间并发
type Consumer struct {
	rdb    *redis.Client
	stream Stream
	opts   ConsumerOptions
	h      Handler

	wg sync.WaitGroup
}

func NewConsumer(rdb *redis.Client, stream Stream, opts ConsumerOptions, h Handler) *Consumer {
	if opts.ReadBatch <= 0 {
		opts.ReadBatch = 64
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 2 * time.Second
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = 30 * time.Second
	}
	return &Consumer{rdb: rdb, stream: stream, opts: opts, h: h}
}

// Start 创建消费组并启动分区循环；ctx 取消后 Wait 返回
func (c *Consumer) Start(ctx context.Context) error {
	for p := 0; p < c.stream.Partitions; p++ {
		if err := c.ensureGroup(ctx, c.stream.Key(p)); err != nil {
			return err
		}
	}
	for p := 0; p < c.stream.Partitions; p++ {
		c.wg.Add(1)
		go func(part int) {
			defer c.wg.Done()
			c.run(ctx, part)
		}(p)
	}
	return nil
}

// Wait 阻塞到所有分区循环退出
func (c *Consumer) Wait() { c.wg.Wait() }

func (c *Consumer) ensureGroup(ctx context.Context, key string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, key, c.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) run(ctx context.Context, part int) {
	key := c.stream.Key(part)
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	)
	lastClaim := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		// 周期性认领超时未 ack 的 pending（其他消费者崩溃遗留）
		if time.Since(lastClaim) >= c.opts.ClaimMinIdle {
			c.claimStale(ctx, key)
			lastClaim = time.Now()
		}
		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			Streams:  []string{key, ">"},
			Count:    c.opts.ReadBatch,
			Block:    c.opts.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return
				}
				bo.Reset()
				continue
			}
			d := bo.NextBackOff()
			logger.Warn("eventlog: read failed, backing off",
				zap.String("stream", key), zap.Duration("sleep", d), zap.Error(err))
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
			continue
		}
		bo.Reset()
		for _, s := range res {
			for _, msg := range s.Messages {
				c.dispatch(ctx, key, msg)
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, key string, msg redis.XMessage) {
	raw, _ := msg.Values["payload"].(string)
	ev, err := event.Decode([]byte(raw))
	if err != nil {
		// 毒消息：ack 掉并告警，重投不可能修复
		logger.Error("eventlog: undecodable message, dropping",
			zap.String("stream", key), zap.String("id", msg.ID), zap.Error(err))
		_ = c.rdb.XAck(ctx, key, c.opts.Group, msg.ID).Err()
		return
	}
	if err := c.h(ctx, ev); err != nil {
		// 不 ack：留在 PEL，超时后由 claimStale 重投
		logger.Warn("eventlog: handler failed, message left pending",
			zap.String("stream", key), zap.String("id", msg.ID),
			zap.String("message_id", ev.MessageID()), zap.Error(err))
		return
	}
	_ = c.rdb.XAck(ctx, key, c.opts.Group, msg.ID).Err()
}

func (c *Consumer) claimStale(ctx context.Context, key string) {
	start := "0-0"
	for {
		msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   key,
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			MinIdle:  c.opts.ClaimMinIdle,
			Start:    start,
			Count:    c.opts.ReadBatch,
		}).Result()
		if err != nil {
			return
		}
		for _, msg := range msgs {
			c.dispatch(ctx, key, msg)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}
