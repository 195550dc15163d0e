package redis

import (
	"context"
	"time"

	"attention-monitor/pkg/config"

	"github.com/go-redis/redis/v8"
)

// pingTimeout 启动探测与 /healthz 共用
const pingTimeout = 2 * time.Second

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端；PoolSize 需覆盖消费者、入口转发与查询接口的并发
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	return redis.NewClient(opts)
}

// Ping 测试Redis连接（带超时）
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	return client.Close()
}
