package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisOptions configures the pub/sub publisher.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

type redisPublisher struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, opts RedisOptions) (Publisher, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = "imagegen"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisPublisher{rdb: rdb, prefix: prefix}, nil
}

func (p *redisPublisher) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, Subject(p.prefix, event.Type), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *redisPublisher) Close() error {
	return p.rdb.Close()
}
