package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
)

// Redis is a Broker over Redis streams. Every subscriber reads the stream
// directly, without consumer groups, so each node sees every message.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
}

// NewRedis connects to the server described by cfg
func NewRedis(cfg config.RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.KeyPrefix)
}

// NewRedisWithClient uses an existing client. The broker owns it and closes it on Close.
func NewRedisWithClient(client redis.UniversalClient, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "mcp:broker:"
	}
	return &Redis{client: client, keyPrefix: keyPrefix, maxLen: 10000}
}

// Ping checks the connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	key := r.streamKey(topic)
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", key, err)
	}
	return id, nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string, handler Handler) error {
	key := r.streamKey(topic)
	// the latest id is resolved once so nothing published between reads is missed
	startID := "$"
	if last, err := r.client.XRevRangeN(ctx, key, "+", "-", 1).Result(); err == nil && len(last) > 0 {
		startID = last[0].ID
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, startID},
			Count:   16,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("failed to read stream %s: %w", key, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				startID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				if err := handler(ctx, Envelope{ID: msg.ID, Data: []byte(data)}); err != nil {
					return err
				}
			}
		}
	}
}

// Cleanup deletes the stream backing topic
func (r *Redis) Cleanup(ctx context.Context, topic string) error {
	if err := r.client.Del(ctx, r.streamKey(topic)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to clean up topic %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) streamKey(topic string) string {
	return r.keyPrefix + "stream:" + topic
}
