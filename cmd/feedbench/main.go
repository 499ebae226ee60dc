package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/feed-service/config"
	"github.com/d60-Lab/feed-service/internal/cache"
	"github.com/d60-Lab/feed-service/internal/eventlog"
	"github.com/d60-Lab/feed-service/internal/model"
	"github.com/d60-Lab/feed-service/internal/repository"
	"github.com/d60-Lab/feed-service/internal/service"
	"github.com/d60-Lab/feed-service/pkg/database"
	"github.com/d60-Lab/feed-service/pkg/metrics"
	"github.com/d60-Lab/feed-service/pkg/redisx"
)

func must[T any](v T, err error) T { if err != nil { panic(err) }; return v }

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 { return 0 }
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 { k = 0 }
	if k >= len(xs) { k = len(xs) - 1 }
	return xs[k]
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 { return v }
	}
	return def
}

// 本地端到端扇出延迟基准：发帖 -> outbox -> stream -> 粉丝缓存落地
func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	rdb := must(redisx.New(cfg.Redis))
	defer rdb.Close()

	N := envInt("N", 5000)       // fans of the author
	POSTS := envInt("POSTS", 50) // posts to publish

	ctx := context.Background()
	m := must(metrics.New())

	followRepo := repository.NewFollowRepository(db, cfg.Fanout.CelebrityThreshold)
	fanRepo := repository.NewFanRepository(db)
	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	idemRepo := repository.NewIdempotencyRepository(db)

	stream := eventlog.NewStream(cfg.EventLog.StreamPrefix+":bench", cfg.EventLog.Partitions)
	pub := eventlog.NewPublisher(rdb, stream, cfg.EventLog.MaxLen)
	tlCache := cache.NewTimelineCache(rdb, cfg.Fanout.TimelineMax, cfg.Fanout.TimelineTTL)
	retryQueue := service.NewRetryQueue(rdb, cfg.RetryQueue, m)
	push := service.NewProtectedPush("timeline-cache-bench", cfg.Breaker, tlCache, retryQueue, m)
	publisher := service.NewPublisher(db, idemRepo, postRepo)
	relay := service.NewOutboxRelay(db, pub, 2, cfg.EventLog.RelayClaim, cfg.EventLog.RelayInterval)
	fanout := service.NewFanoutWorker(userRepo, fanRepo, push, m, cfg.Fanout)

	// seed author + fans
	author := model.User{ID: "bench-author", Username: "bench-author", Email: "a@example.com", Password: "p"}
	_ = db.Where("id = ?", author.ID).FirstOrCreate(&author).Error
	for i := 0; i < N; i++ {
		id := uuid.New().String()
		_ = db.Create(&model.User{ID: id, Username: "u" + id[:8], Email: id[:8] + "@example.com", Password: "p"}).Error
		_ = followRepo.Create(ctx, id, author.ID)
	}
	fanIDs := must(fanRepo.ListFanIDs(ctx, author.ID, 0, 1))

	consumer := eventlog.NewConsumer(rdb, stream, eventlog.ConsumerOptions{
		Group: "fanout", Consumer: "bench",
	}, fanout.Handle)
	cctx, cancel := context.WithCancel(ctx)
	must(0, consumer.Start(cctx))
	stopRelay := relay.Start()

	// publish and wait for each post to land in one probe fan's cache
	land := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		post := must(publisher.CreatePost(ctx, service.PostInput{AuthorID: author.ID, Body: fmt.Sprintf("hello %d", i)}))
		for {
			ids := must(tlCache.Read(ctx, fanIDs[0]))
			if len(ids) > 0 && ids[0] == post.ID {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		land = append(land, time.Since(st))
	}

	_ = stopRelay(ctx)
	cancel()
	consumer.Wait()

	var sum time.Duration
	for _, d := range land { sum += d }
	fmt.Printf("N=%d POSTS=%d\n", N, POSTS)
	fmt.Printf("publish->fan cache landing: avg=%v p95=%v p99=%v\n",
		sum/time.Duration(len(land)), pct(land, 0.95), pct(land, 0.99))
}
