/*
Copyright 2025 The rtcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package routecache

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisResolverConfig holds the configuration for the RedisResolver.
type RedisResolverConfig struct {
	Address string `json:"address,omitempty"` // Redis server address
	// Key is the hash holding the routing table, one field per destination.
	Key string `json:"key,omitempty"`
	// Channel is the pub/sub channel route changes are announced on.
	Channel string `json:"channel,omitempty"`
}

func DefaultRedisResolverConfig() *RedisResolverConfig {
	return &RedisResolverConfig{
		Address: "redis://127.0.0.1:6379",
		Key:     "rtcore:routes",
		Channel: "rtcore:routes:events",
	}
}

// routeRecord is the msgpack encoding of a Route in the routing table hash.
type routeRecord struct {
	Gateway   string `msgpack:"gw"`
	Interface string `msgpack:"if"`
	MTU       int    `msgpack:"mtu"`
}

// EventOp is the kind of a routing table change.
type EventOp string

const (
	EventSet   EventOp = "set"
	EventDel   EventOp = "del"
	EventFlush EventOp = "flush"
)

// Event announces a routing table change.
type Event struct {
	Op          EventOp `msgpack:"op"`
	Destination string  `msgpack:"dst,omitempty"`
}

// NewRedisResolver creates a new RedisResolver instance.
func NewRedisResolver(ctx context.Context, config *RedisResolverConfig) (*RedisResolver, error) {
	if config == nil {
		config = DefaultRedisResolverConfig()
	}
	defaults := DefaultRedisResolverConfig()
	if config.Key == "" {
		config.Key = defaults.Key
	}
	if config.Channel == "" {
		config.Channel = defaults.Channel
	}

	if !strings.HasPrefix(config.Address, "redis://") &&
		!strings.HasPrefix(config.Address, "rediss://") &&
		!strings.HasPrefix(config.Address, "unix://") {
		config.Address = "redis://" + config.Address
	}

	redisOpt, err := redis.ParseURL(config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redisURL: %w", err)
	}

	redisClient := redis.NewClient(redisOpt)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisResolver{
		RedisClient: redisClient,
		key:         config.Key,
		channel:     config.Channel,
	}, nil
}

// RedisResolver implements the Resolver interface over a routing table
// kept in a Redis hash. Writes through it are announced on a pub/sub
// channel so that an Invalidator can keep caches coherent.
type RedisResolver struct {
	RedisClient *redis.Client
	key         string
	channel     string
}

var _ Resolver = &RedisResolver{}

// Channel returns the pub/sub channel route changes are announced on.
func (r *RedisResolver) Channel() string {
	return r.channel
}

// Resolve fetches the route to dst.
func (r *RedisResolver) Resolve(ctx context.Context, dst netip.Addr) (Route, error) {
	raw, err := r.RedisClient.HGet(ctx, r.key, dst.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Route{}, fmt.Errorf("%w: %s", ErrNoRoute, dst)
		}
		return Route{}, fmt.Errorf("failed to get route from Redis: %w", err)
	}

	var rec routeRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return Route{}, fmt.Errorf("failed to decode route to %s: %w", dst, err)
	}

	route := Route{Destination: dst, Interface: rec.Interface, MTU: rec.MTU}
	if rec.Gateway != "" {
		if route.Gateway, err = netip.ParseAddr(rec.Gateway); err != nil {
			return Route{}, fmt.Errorf("failed to decode gateway of %s: %w", dst, err)
		}
	}

	return route, nil
}

// SetRoute stores route in the routing table and announces the change.
func (r *RedisResolver) SetRoute(ctx context.Context, route Route) error {
	if !route.Destination.IsValid() {
		return fmt.Errorf("%w: no destination", ErrInvalidRoute)
	}

	rec := routeRecord{Interface: route.Interface, MTU: route.MTU}
	if route.Gateway.IsValid() {
		rec.Gateway = route.Gateway.String()
	}
	raw, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode route to %s: %w", route.Destination, err)
	}

	dst := route.Destination.String()
	return r.exec(ctx, Event{Op: EventSet, Destination: dst}, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, r.key, dst, raw)
	})
}

// DeleteRoute removes the route to dst and announces the change.
func (r *RedisResolver) DeleteRoute(ctx context.Context, dst netip.Addr) error {
	return r.exec(ctx, Event{Op: EventDel, Destination: dst.String()}, func(pipe redis.Pipeliner) {
		pipe.HDel(ctx, r.key, dst.String())
	})
}

// Flush removes the whole routing table and announces the change.
func (r *RedisResolver) Flush(ctx context.Context) error {
	return r.exec(ctx, Event{Op: EventFlush}, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, r.key)
	})
}

// Close closes the Redis client.
func (r *RedisResolver) Close() error {
	return r.RedisClient.Close()
}

// exec runs a table write followed by its announcement in one round trip.
func (r *RedisResolver) exec(ctx context.Context, event Event, write func(redis.Pipeliner)) error {
	payload, err := msgpack.Marshal(&event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Op, err)
	}

	pipe := r.RedisClient.Pipeline()
	write(pipe)
	pipe.Publish(ctx, r.channel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to apply %s to Redis: %w", event.Op, err)
	}

	return nil
}
