package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config 用于初始化 Redis
type Config struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	PingTimeout time.Duration // 默认 3s
}

// NewClient 创建客户端并 Ping 一次，失败时关闭并返回错误。
func NewClient(c Config) (*redis.Client, error) {
	if c.Addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.PingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", c.Addr)
	}
	return rdb, nil
}
