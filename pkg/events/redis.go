// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key defaults
const (
	DefaultChannel   = "billbridge:events"
	DefaultStatusKey = "billbridge:status"
)

// RedisOptions configures a Redis publisher
type RedisOptions struct {
	Address   string
	Password  string
	DB        int
	Channel   string
	StatusKey string
}

// Redis publishes events as JSON on a pub/sub channel and keeps the latest
// status event under a plain key for pollers
type Redis struct {
	client    *redis.Client
	channel   string
	statusKey string
}

// NewRedis connects and pings the server
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.StatusKey == "" {
		opts.StatusKey = DefaultStatusKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", opts.Address, err)
	}
	return &Redis{client: client, channel: opts.Channel, statusKey: opts.StatusKey}, nil
}

// Publish implements Publisher
func (r *Redis) Publish(ctx context.Context, e Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Publish(ctx, r.channel, data)
	if e.Kind == KindStatus {
		pipe.Set(ctx, r.statusKey, data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close implements Publisher
func (r *Redis) Close() error {
	return r.client.Close()
}

// Encode renders an event as the JSON document published to Redis
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}
