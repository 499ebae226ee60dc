package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/feed-service/config"
	"github.com/d60-Lab/feed-service/internal/api"
	"github.com/d60-Lab/feed-service/internal/api/handler"
	"github.com/d60-Lab/feed-service/internal/cache"
	"github.com/d60-Lab/feed-service/internal/eventlog"
	"github.com/d60-Lab/feed-service/internal/repository"
	"github.com/d60-Lab/feed-service/internal/service"
	"github.com/d60-Lab/feed-service/pkg/database"
	"github.com/d60-Lab/feed-service/pkg/logger"
	"github.com/d60-Lab/feed-service/pkg/metrics"
	"github.com/d60-Lab/feed-service/pkg/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Dev); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	// 显式构造 client handle，依赖注入到各 worker，无包级单例
	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Fatal("init db", zap.Error(err))
	}
	rdb, err := redisx.New(cfg.Redis)
	if err != nil {
		logger.Fatal("init redis", zap.Error(err))
	}
	defer rdb.Close()

	m, err := metrics.New()
	if err != nil {
		logger.Fatal("init metrics", zap.Error(err))
	}

	followRepo := repository.NewFollowRepository(db, cfg.Fanout.CelebrityThreshold)
	fanRepo := repository.NewFanRepository(db)
	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	idemRepo := repository.NewIdempotencyRepository(db)

	stream := eventlog.NewStream(cfg.EventLog.StreamPrefix, cfg.EventLog.Partitions)
	pub := eventlog.NewPublisher(rdb, stream, cfg.EventLog.MaxLen)

	tlCache := cache.NewTimelineCache(rdb, cfg.Fanout.TimelineMax, cfg.Fanout.TimelineTTL)
	trendStore := cache.NewTrendStore(rdb, cfg.Trending.BucketTTL)

	retryQueue := service.NewRetryQueue(rdb, cfg.RetryQueue, m)
	push := service.NewProtectedPush("timeline-cache", cfg.Breaker, tlCache, retryQueue, m)

	publisher := service.NewPublisher(db, idemRepo, postRepo)
	relay := service.NewOutboxRelay(db, pub, 2, cfg.EventLog.RelayClaim, cfg.EventLog.RelayInterval)
	fanout := service.NewFanoutWorker(userRepo, fanRepo, push, m, cfg.Fanout)
	timelineSvc := service.NewTimelineService(tlCache, postRepo, followRepo)
	trending := service.NewTrendingAggregator(trendStore, postRepo, m, cfg.Trending)
	relSvc := service.NewRelationshipService(followRepo, fanRepo, userRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopRelay := relay.Start()
	retryQueue.StartDrain(ctx, tlCache)
	trending.StartMaintenance(ctx)
	publisher.StartPurge(ctx, time.Hour)

	instance := uuid.New().String()[:8]
	consumerOpts := func(group string) eventlog.ConsumerOptions {
		return eventlog.ConsumerOptions{
			Group:        group,
			Consumer:     group + "-" + instance,
			ReadBatch:    cfg.EventLog.ReadBatch,
			BlockTimeout: cfg.EventLog.BlockTimeout,
			ClaimMinIdle: cfg.EventLog.ClaimMinIdle,
		}
	}
	fanoutConsumer := eventlog.NewConsumer(rdb, stream, consumerOpts("fanout"), fanout.Handle)
	trendConsumer := eventlog.NewConsumer(rdb, stream, consumerOpts("trending"), trending.Handle)
	if err := fanoutConsumer.Start(ctx); err != nil {
		logger.Fatal("start fanout consumer", zap.Error(err))
	}
	if err := trendConsumer.Start(ctx); err != nil {
		logger.Fatal("start trending consumer", zap.Error(err))
	}

	h := handler.New(relSvc, publisher, timelineSvc, trending)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.NewRouter(cfg.Server.Mode, h)}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = stopRelay(shutdownCtx)
	cancel()
	fanoutConsumer.Wait()
	trendConsumer.Wait()
}
