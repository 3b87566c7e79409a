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

// Package routecache caches resolved host routes in RCU-published
// snapshots. Lookups never take a lock; writers derive a new snapshot from
// the current one and the superseded snapshot is released after a grace
// period.
package routecache

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/rtcore/rtcore/pkg/metrics"
	"github.com/rtcore/rtcore/pkg/rcu"
	"github.com/rtcore/rtcore/pkg/utils/logging"
)

var (
	// errUnchanged aborts a snapshot update that would not change anything.
	errUnchanged = errors.New("routecache: snapshot unchanged")
	// errStale aborts caching a route resolved before an invalidation.
	errStale = errors.New("routecache: route invalidated while resolving")
)

// Cache defines the interface of a route cache.
//
// Cache operations are thread-safe and can be performed concurrently.
type Cache interface {
	// Lookup returns the route to dst, resolving and caching it on a miss.
	Lookup(ctx context.Context, dst netip.Addr) (Route, error)
	// Insert caches route, replacing any route to the same destination.
	Insert(ctx context.Context, route Route) error
	// Remove drops the cached route to dst, if any.
	Remove(ctx context.Context, dst netip.Addr) error
	// Invalidate drops every cached route.
	Invalidate(ctx context.Context) error
	// Snapshot returns a reference to the current snapshot. The caller must
	// Release it.
	Snapshot() *rcu.Ref[RouteMap]
	// Len returns the number of cached routes.
	Len() int
	// Close releases the cache and its final snapshot.
	Close(ctx context.Context) error
}

// NewCache creates a Cache given a Config, wrapped in metrics if enabled.
func NewCache(ctx context.Context, domain *rcu.Domain, resolver Resolver, cfg *Config) (Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rc, err := New(ctx, domain, resolver, cfg)
	if err != nil {
		return nil, err
	}

	// wrap in metrics only if enabled
	if cfg.EnableMetrics {
		metrics.Register()
		if cfg.MetricsLoggingInterval > 0 {
			// this is non-blocking
			metrics.StartMetricsLogging(ctx, cfg.MetricsLoggingInterval)
		}
		return NewInstrumentedCache(rc), nil
	}

	return rc, nil
}

// RouteCache is the RCU-backed Cache.
type RouteCache struct {
	cache    *rcu.Cache[RouteMap]
	resolver Resolver

	// generation advances on every Remove and Invalidate.
	generation atomic.Uint64

	maxEntries    int
	maxSize       uint64
	enableMetrics bool
}

var _ Cache = &RouteCache{}

// New creates a RouteCache publishing an empty snapshot in domain. A nil
// resolver makes every miss fail with ErrNoRoute.
func New(ctx context.Context, domain *rcu.Domain, resolver Resolver, cfg *Config) (*RouteCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxEntries < 0 {
		return nil, fmt.Errorf("maxEntries must not be negative, got %d", cfg.MaxEntries)
	}
	maxSize, err := cfg.maxSize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize route cache: %w", err)
	}

	cache, err := rcu.New(domain, NewRouteMap(),
		rcu.WithName[RouteMap]("routecache"),
		rcu.WithContext[RouteMap](ctx),
		rcu.WithDeleterFunc((*RouteMap).release),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize route cache: %w", err)
	}

	return &RouteCache{
		cache:         cache,
		resolver:      resolver,
		maxEntries:    cfg.MaxEntries,
		maxSize:       maxSize,
		enableMetrics: cfg.EnableMetrics,
	}, nil
}

// Lookup returns the route to dst from the current snapshot. On a miss the
// route is resolved and inserted; a resolved route that does not fit the
// budget is still returned, just not cached. A route whose destination was
// removed or invalidated while it was being resolved is returned but not
// cached.
func (c *RouteCache) Lookup(ctx context.Context, dst netip.Addr) (Route, error) {
	ref := c.cache.Read()
	routes := ref.Value()
	if routes == nil {
		ref.Release()
		return Route{}, rcu.ErrClosed
	}
	route, ok := routes.Get(dst)
	ref.Release()

	if ok {
		if c.enableMetrics {
			metrics.RouteHits.Inc()
		}
		return route, nil
	}

	if c.resolver == nil {
		return Route{}, fmt.Errorf("%w: %s", ErrNoRoute, dst)
	}

	generation := c.generation.Load()
	route, err := c.resolver.Resolve(ctx, dst)
	if err != nil {
		return Route{}, fmt.Errorf("failed to resolve %s: %w", dst, err)
	}

	if err := c.insert(ctx, route, func() bool {
		return c.generation.Load() == generation
	}); err != nil {
		klog.FromContext(ctx).V(logging.DEBUG).Info("resolved route not cached",
			"destination", dst, "reason", err.Error())
	}

	return route, nil
}

// Insert caches route. If the resulting snapshot exceeds the budget,
// ErrNoMemory is returned and the current snapshot stays published.
func (c *RouteCache) Insert(ctx context.Context, route Route) error {
	return c.insert(ctx, route, nil)
}

// insert caches route unless current, checked under the writer mutex,
// reports that the route went stale.
func (c *RouteCache) insert(ctx context.Context, route Route, current func() bool) error {
	if !route.Destination.IsValid() {
		return fmt.Errorf("%w: no destination", ErrInvalidRoute)
	}

	return c.modify(ctx, func(old *RouteMap) (*RouteMap, error) {
		if current != nil && !current() {
			return nil, errStale
		}
		if cur, ok := old.Get(route.Destination); ok && cur == route {
			return nil, errUnchanged
		}

		next := old.with(route)
		if err := c.checkBudget(next); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// Remove drops the route to dst.
func (c *RouteCache) Remove(ctx context.Context, dst netip.Addr) error {
	c.generation.Add(1)
	return c.modify(ctx, func(old *RouteMap) (*RouteMap, error) {
		if _, ok := old.Get(dst); !ok {
			return nil, errUnchanged
		}
		return old.without(dst), nil
	})
}

// Invalidate publishes an empty snapshot.
func (c *RouteCache) Invalidate(ctx context.Context) error {
	c.generation.Add(1)
	return c.modify(ctx, func(old *RouteMap) (*RouteMap, error) {
		if old.Len() == 0 {
			return nil, errUnchanged
		}
		return NewRouteMap(), nil
	})
}

// Snapshot returns a reference to the current snapshot.
// The value is nil once the cache is closed.
func (c *RouteCache) Snapshot() *rcu.Ref[RouteMap] {
	return c.cache.Read()
}

// Len returns the number of cached routes, zero once the cache is closed.
func (c *RouteCache) Len() int {
	var n int
	c.cache.With(func(m *RouteMap) {
		if m != nil {
			n = m.Len()
		}
	})
	return n
}

// Stats returns the counters of the underlying RCU cache.
func (c *RouteCache) Stats() rcu.Stats {
	return c.cache.Stats()
}

// Barrier waits until every superseded snapshot has been released.
func (c *RouteCache) Barrier(ctx context.Context) error {
	return c.cache.Barrier(ctx)
}

// Close stops the cache and releases its final snapshot.
func (c *RouteCache) Close(ctx context.Context) error {
	return c.cache.Close(ctx)
}

func (c *RouteCache) modify(ctx context.Context, fn func(old *RouteMap) (*RouteMap, error)) error {
	err := c.cache.Modify(fn)
	switch {
	case err == nil:
		if logger := klog.FromContext(ctx).V(logging.TRACE); logger.Enabled() {
			c.cache.With(func(m *RouteMap) {
				logger.Info("published route snapshot", "routes", m.Len(),
					"size", humanize.IBytes(m.Size()), "digest", m.Digest())
			})
		}
		return nil
	case errors.Is(err, errUnchanged):
		return nil
	case errors.Is(err, errStale), errors.Is(err, rcu.ErrClosed):
		return err
	case errors.Is(err, ErrNoMemory):
		if c.enableMetrics {
			metrics.RouteAllocFailures.Inc()
		}
		return err
	default:
		return fmt.Errorf("failed to update route snapshot: %w", err)
	}
}

func (c *RouteCache) checkBudget(next *RouteMap) error {
	if c.maxEntries > 0 && next.Len() > c.maxEntries {
		return fmt.Errorf("%w: %d routes > %d", ErrNoMemory, next.Len(), c.maxEntries)
	}
	if c.maxSize > 0 && next.Size() > c.maxSize {
		return fmt.Errorf("%w: %s > %s", ErrNoMemory,
			humanize.IBytes(next.Size()), humanize.IBytes(c.maxSize))
	}
	return nil
}
