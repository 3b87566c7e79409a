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
	"fmt"
	"net/netip"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"k8s.io/klog/v2"

	"github.com/rtcore/rtcore/pkg/utils/logging"
)

// How long to wait before resubscribing after a failure.
const retryInterval = 5 * time.Second

// Invalidator subscribes to routing table announcements and drops the
// affected routes from a Cache. Dropped routes are resolved again on their
// next lookup.
type Invalidator struct {
	client  *redis.Client
	channel string
	cache   Cache
}

// NewInvalidator creates an Invalidator for the announcements of resolver.
func NewInvalidator(resolver *RedisResolver, cache Cache) *Invalidator {
	return &Invalidator{
		client:  resolver.RedisClient,
		channel: resolver.Channel(),
		cache:   cache,
	}
}

// Start subscribes to the announcement channel and applies announcements
// until ctx is canceled. It resubscribes after failures.
func (i *Invalidator) Start(ctx context.Context) {
	logger := klog.FromContext(ctx).WithName("route-invalidator")

	for {
		if err := i.run(ctx); err != nil {
			logger.Error(err, "subscription failed", "channel", i.channel)
		}

		// wait before retrying, unless the context has been canceled.
		select {
		case <-time.After(retryInterval):
			logger.Info("resubscribing", "channel", i.channel)
		case <-ctx.Done():
			logger.Info("shutting down route-invalidator")
			return
		}
	}
}

func (i *Invalidator) run(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("route-invalidator")

	pubsub := i.client.Subscribe(ctx, i.channel)
	defer pubsub.Close()

	// wait for the subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", i.channel, err)
	}
	logger.Info("subscribed", "channel", i.channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", i.channel)
			}
			if err := i.apply(ctx, []byte(msg.Payload)); err != nil {
				logger.V(logging.DEBUG).Error(err, "failed to apply announcement")
			}
		}
	}
}

func (i *Invalidator) apply(ctx context.Context, payload []byte) error {
	var event Event
	if err := msgpack.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to decode announcement: %w", err)
	}

	klog.FromContext(ctx).V(logging.TRACE).Info("route announcement",
		"op", event.Op, "destination", event.Destination)

	switch event.Op {
	case EventSet, EventDel:
		dst, err := netip.ParseAddr(event.Destination)
		if err != nil {
			return fmt.Errorf("invalid destination in %s announcement: %w", event.Op, err)
		}
		return i.cache.Remove(ctx, dst)
	case EventFlush:
		return i.cache.Invalidate(ctx)
	default:
		return fmt.Errorf("unknown announcement %q", event.Op)
	}
}
