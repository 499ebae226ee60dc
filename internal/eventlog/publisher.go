package eventlog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Publisher 按 partition key 追加事件到对应分区 stream
type Publisher struct {
	rdb    *redis.Client
	stream Stream
	maxLen int64
}

func NewPublisher(rdb *redis.Client, stream Stream, maxLen int64) *Publisher {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Publisher{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Publish 追加一条事件；broker 瞬时错误做有限指数退避
func (p *Publisher) Publish(ctx context.Context, partitionKey string, payload []byte) error {
	key := p.stream.Key(p.stream.PartitionFor(partitionKey))
	op := func() error {
		return p.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]interface{}{"payload": payload},
		}).Err()
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(50*time.Millisecond)), 3), ctx)
	return backoff.Retry(op, bo)
}
