package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feed-service/internal/event"
)

func setup(t *testing.T, partitions int) (*redis.Client, Stream) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, NewStream("events:test", partitions)
}

func encodePostCreated(t *testing.T, msgID, author string, postID int64) []byte {
	data, err := event.Encode(event.Event{PostCreated: &event.PostCreated{
		Envelope: event.NewEnvelope(event.TypePostCreated, msgID),
		PostID:   postID,
		AuthorID: author,
	}})
	require.NoError(t, err)
	return data
}

func TestPartitionForIsStable(t *testing.T) {
	s := NewStream("events:test", 8)
	p := s.PartitionFor("author-1")
	for i := 0; i < 10; i++ {
		assert.Equal(t, p, s.PartitionFor("author-1"))
	}
	assert.Less(t, p, 8)
}

func TestPublishConsumeAck(t *testing.T) {
	rdb, stream := setup(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := NewPublisher(rdb, stream, 1000)
	require.NoError(t, pub.Publish(ctx, "author-1", encodePostCreated(t, "m-1", "author-1", 1)))
	require.NoError(t, pub.Publish(ctx, "author-1", encodePostCreated(t, "m-2", "author-1", 2)))

	var mu sync.Mutex
	var got []string
	c := NewConsumer(rdb, stream, ConsumerOptions{
		Group: "fanout", Consumer: "c1",
		BlockTimeout: 50 * time.Millisecond,
	}, func(_ context.Context, ev event.Event) error {
		mu.Lock()
		got = append(got, ev.MessageID())
		mu.Unlock()
		return nil
	})
	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 3*time.Second, 10*time.Millisecond)

	// 同作者同分区，分区内保序
	mu.Lock()
	assert.Equal(t, []string{"m-1", "m-2"}, got)
	mu.Unlock()

	// 全部 ack，无 pending
	require.Eventually(t, func() bool {
		key := stream.Key(stream.PartitionFor("author-1"))
		p, err := rdb.XPending(ctx, key, "fanout").Result()
		return err == nil && p.Count == 0
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	c.Wait()
}

func TestHandlerErrorLeavesPending(t *testing.T) {
	rdb, stream := setup(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := NewPublisher(rdb, stream, 1000)
	require.NoError(t, pub.Publish(ctx, "a", encodePostCreated(t, "m-bad", "a", 1)))

	handled := make(chan struct{}, 8)
	c := NewConsumer(rdb, stream, ConsumerOptions{
		Group: "fanout", Consumer: "c1",
		BlockTimeout: 50 * time.Millisecond,
	}, func(_ context.Context, _ event.Event) error {
		handled <- struct{}{}
		return errors.New("transient failure")
	})
	require.NoError(t, c.Start(ctx))

	select {
	case <-handled:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never invoked")
	}

	require.Eventually(t, func() bool {
		p, err := rdb.XPending(ctx, stream.Key(0), "fanout").Result()
		return err == nil && p.Count == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	c.Wait()
}

func TestIndependentGroupsBothSeeEvents(t *testing.T) {
	rdb, stream := setup(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := NewPublisher(rdb, stream, 1000)
	require.NoError(t, pub.Publish(ctx, "a", encodePostCreated(t, "m-1", "a", 1)))

	counts := make(map[string]*sync.WaitGroup)
	for _, g := range []string{"fanout", "trending"} {
		wg := &sync.WaitGroup{}
		wg.Add(1)
		counts[g] = wg
		c := NewConsumer(rdb, stream, ConsumerOptions{
			Group: g, Consumer: g + "-1",
			BlockTimeout: 50 * time.Millisecond,
		}, func(_ context.Context, _ event.Event) error {
			wg.Done()
			return nil
		})
		require.NoError(t, c.Start(ctx))
	}

	done := make(chan struct{})
	go func() {
		counts["fanout"].Wait()
		counts["trending"].Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all groups consumed the event")
	}
}

func TestUndecodableMessageIsDropped(t *testing.T) {
	rdb, stream := setup(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream.Key(0),
		Values: map[string]interface{}{"payload": "not json"},
	}).Err())

	c := NewConsumer(rdb, stream, ConsumerOptions{
		Group: "fanout", Consumer: "c1",
		BlockTimeout: 50 * time.Millisecond,
	}, func(_ context.Context, _ event.Event) error {
		t.Error("handler must not run for undecodable payloads")
		return nil
	})
	require.NoError(t, c.Start(ctx))

	// 毒消息被 ack 丢弃，pending 清零
	require.Eventually(t, func() bool {
		p, err := rdb.XPending(ctx, stream.Key(0), "fanout").Result()
		return err == nil && p.Count == 0
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	c.Wait()
}
