package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 服务全量配置
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	EventLog   EventLogConfig   `mapstructure:"eventlog"`
	Fanout     FanoutConfig     `mapstructure:"fanout"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	RetryQueue RetryQueueConfig `mapstructure:"retryqueue"`
	Trending   TrendingConfig   `mapstructure:"trending"`
	Log        LogConfig        `mapstructure:"log"`
	SentryDSN  string           `mapstructure:"sentry_dsn"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"` // debug / release
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres / sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// EventLogConfig 事件流配置（分区 stream + 消费组）
type EventLogConfig struct {
	StreamPrefix  string        `mapstructure:"stream_prefix"`
	Partitions    int           `mapstructure:"partitions"`
	MaxLen        int64         `mapstructure:"max_len"`
	BlockTimeout  time.Duration `mapstructure:"block_timeout"`
	ClaimMinIdle  time.Duration `mapstructure:"claim_min_idle"`
	ReadBatch     int64         `mapstructure:"read_batch"`
	RelayInterval time.Duration `mapstructure:"relay_interval"`
	RelayClaim    int           `mapstructure:"relay_claim"`
}

type FanoutConfig struct {
	TimelineMax        int64         `mapstructure:"timeline_max"`
	TimelineTTL        time.Duration `mapstructure:"timeline_ttl"`
	CelebrityThreshold int64         `mapstructure:"celebrity_threshold"`
	FollowerPage       int           `mapstructure:"follower_page"`
	WriteChunk         int           `mapstructure:"write_chunk"`
	DedupeCap          int           `mapstructure:"dedupe_cap"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
}

type BreakerConfig struct {
	Window       time.Duration `mapstructure:"window"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

type RetryQueueConfig struct {
	Key           string        `mapstructure:"key"`
	DrainInterval time.Duration `mapstructure:"drain_interval"`
	DrainBatch    int           `mapstructure:"drain_batch"`
	DrainRate     float64       `mapstructure:"drain_rate"` // jobs/second
	MaxRetries    int           `mapstructure:"max_retries"`
}

type TrendingConfig struct {
	LikeWeight      float64       `mapstructure:"like_weight"`
	DecayFactor     float64       `mapstructure:"decay_factor"`
	DecayInterval   time.Duration `mapstructure:"decay_interval"`
	ScoreFloor      float64       `mapstructure:"score_floor"`
	BucketTTL       time.Duration `mapstructure:"bucket_ttl"`
	BucketRetention time.Duration `mapstructure:"bucket_retention"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Dev   bool   `mapstructure:"dev"`
}

// Load 读取 config.yaml 并套用 FEED_ 环境变量覆盖
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 本地缺省运行允许无配置文件
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=feed port=5432 sslmode=disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", time.Second)
	v.SetDefault("redis.write_timeout", time.Second)

	v.SetDefault("eventlog.stream_prefix", "events:feed")
	v.SetDefault("eventlog.partitions", 8)
	v.SetDefault("eventlog.max_len", 100000)
	v.SetDefault("eventlog.block_timeout", 2*time.Second)
	v.SetDefault("eventlog.claim_min_idle", 30*time.Second)
	v.SetDefault("eventlog.read_batch", 64)
	v.SetDefault("eventlog.relay_interval", 50*time.Millisecond)
	v.SetDefault("eventlog.relay_claim", 128)

	v.SetDefault("fanout.timeline_max", 800)
	v.SetDefault("fanout.timeline_ttl", 72*time.Hour)
	v.SetDefault("fanout.celebrity_threshold", 10000)
	v.SetDefault("fanout.follower_page", 1000)
	v.SetDefault("fanout.write_chunk", 200)
	v.SetDefault("fanout.dedupe_cap", 10000)
	v.SetDefault("fanout.retry_attempts", 3)

	v.SetDefault("breaker.window", 10*time.Second)
	v.SetDefault("breaker.reset_timeout", 30*time.Second)
	v.SetDefault("breaker.min_requests", 10)
	v.SetDefault("breaker.failure_ratio", 0.5)
	v.SetDefault("breaker.call_timeout", 500*time.Millisecond)

	v.SetDefault("retryqueue.key", "fanout:retry")
	v.SetDefault("retryqueue.drain_interval", 5*time.Second)
	v.SetDefault("retryqueue.drain_batch", 64)
	v.SetDefault("retryqueue.drain_rate", 200.0)
	v.SetDefault("retryqueue.max_retries", 5)

	v.SetDefault("trending.like_weight", 0.3)
	v.SetDefault("trending.decay_factor", 0.9)
	v.SetDefault("trending.decay_interval", 5*time.Minute)
	v.SetDefault("trending.score_floor", 0.1)
	v.SetDefault("trending.bucket_ttl", 2*time.Hour)
	v.SetDefault("trending.bucket_retention", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dev", false)
}
