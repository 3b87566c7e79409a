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

package rcu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/rtcore/rtcore/pkg/metrics"
	"github.com/rtcore/rtcore/pkg/utils/logging"
)

var (
	// ErrClosed is returned by updates on a closed Cache.
	ErrClosed = errors.New("rcu: cache is closed")
	// ErrNilSnapshot is returned when nil is published as a snapshot.
	ErrNilSnapshot = errors.New("rcu: nil snapshot")
)

const barrierPollInterval = 100 * time.Microsecond

// Deleter destroys a snapshot once no reader can observe it.
type Deleter[T any] interface {
	Delete(value *T)
}

// DeleterFunc adapts a function to the Deleter interface.
type DeleterFunc[T any] func(value *T)

// Delete calls f(value).
func (f DeleterFunc[T]) Delete(value *T) { f(value) }

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithDeleter sets the Deleter called on superseded snapshots.
// Without one, superseded snapshots are left to the garbage collector.
func WithDeleter[T any](d Deleter[T]) Option[T] {
	return func(c *Cache[T]) { c.deleter = d }
}

// WithDeleterFunc is WithDeleter for a plain function.
func WithDeleterFunc[T any](fn func(*T)) Option[T] {
	return WithDeleter[T](DeleterFunc[T](fn))
}

// WithName names the cache in logs and in its reclamation queue.
func WithName[T any](name string) Option[T] {
	return func(c *Cache[T]) { c.name = name }
}

// WithContext sets the context the reclaimer logs with.
func WithContext[T any](ctx context.Context) Option[T] {
	return func(c *Cache[T]) { c.ctx = ctx }
}

// noCopy lets go vet's copylocks check flag copied Refs.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type retired[T any] struct {
	value *T
}

// Cache publishes immutable snapshots of a T to lock-free readers.
//
// Readers call Read and see the snapshot that was published when their
// critical section began, for as long as they hold the Ref. Writers are
// serialized by a mutex; a superseded snapshot is handed to the Deleter by
// a background reclaimer once a grace period of the Domain has elapsed.
type Cache[T any] struct {
	name    string
	ctx     context.Context //nolint:containedctx // reclaimer lifetime
	domain  *Domain
	deleter Deleter[T]

	ptr atomic.Pointer[T]

	// mu serializes writers. Readers never take it.
	mu      sync.Mutex
	closing bool

	// closeMu serializes Close. A Close that fails leaves the teardown
	// where it stopped; the next Close resumes it.
	closeMu sync.Mutex
	closed  bool
	final   *T
	swapped bool

	queue workqueue.TypedInterface[*retired[T]]
	done  chan struct{}

	updates   atomic.Uint64
	retiredN  atomic.Uint64
	reclaimed atomic.Uint64
}

// New creates a Cache publishing initial in domain and starts its
// reclaimer.
func New[T any](domain *Domain, initial *T, opts ...Option[T]) (*Cache[T], error) {
	if domain == nil {
		return nil, fmt.Errorf("rcu: domain is required")
	}
	if initial == nil {
		return nil, ErrNilSnapshot
	}

	c := &Cache[T]{
		name:   "rcu",
		ctx:    context.Background(),
		domain: domain,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.queue = workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[*retired[T]]{
		Name: c.name,
	})
	c.ptr.Store(initial)

	go c.reclaimLoop()

	return c, nil
}

// Ref is a reference to a snapshot, valid until Release. Refs are handed
// out by pointer and must not be copied.
type Ref[T any] struct {
	noCopy noCopy //nolint:unused // checked by go vet

	section  ReadSection
	value    *T
	released bool
}

// Value returns the referenced snapshot. The snapshot must not be mutated.
func (r *Ref[T]) Value() *T {
	return r.value
}

// Release ends the read-side critical section. Calling it more than once
// is a no-op. A Ref is owned by a single goroutine.
func (r *Ref[T]) Release() {
	if r.released {
		return
	}
	r.released = true
	r.section.Unlock()
}

// Read begins a read-side critical section and returns a reference to the
// currently published snapshot. It never blocks and takes no lock.
// The value is nil once the Cache is closed.
func (c *Cache[T]) Read() *Ref[T] {
	section := c.domain.ReadLock()
	return &Ref[T]{section: section, value: c.ptr.Load()}
}

// With calls fn with the current snapshot inside a read-side critical
// section.
func (c *Cache[T]) With(fn func(value *T)) {
	ref := c.Read()
	defer ref.Release()
	fn(ref.Value())
}

// Load returns the current snapshot without a critical section. Only safe
// for values whose Deleter does not invalidate them.
func (c *Cache[T]) Load() *T {
	return c.ptr.Load()
}

// Update publishes value as the new snapshot and schedules the superseded
// one for reclamation. It returns once value is visible to new readers and
// does not wait for the grace period.
func (c *Cache[T]) Update(value *T) error {
	if value == nil {
		return ErrNilSnapshot
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrClosed
	}
	c.publishLocked(value)

	return nil
}

// Modify builds a new snapshot from the current one under the writer mutex
// and publishes it. If fn fails, the current snapshot stays published and
// the error is returned.
func (c *Cache[T]) Modify(fn func(old *T) (*T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrClosed
	}

	value, err := fn(c.ptr.Load())
	if err != nil {
		return err
	}
	if value == nil {
		return ErrNilSnapshot
	}
	c.publishLocked(value)

	return nil
}

func (c *Cache[T]) publishLocked(value *T) {
	old := c.ptr.Swap(value)
	c.updates.Add(1)
	metrics.SnapshotUpdates.Inc()

	if old != nil && old != value {
		c.retiredN.Add(1)
		c.queue.Add(&retired[T]{value: old})
	}

	klog.FromContext(c.ctx).V(logging.DEBUG).Info("published snapshot",
		"cache", c.name, "updates", c.updates.Load())
}

// Barrier waits until every snapshot superseded before the call has been
// destroyed.
func (c *Cache[T]) Barrier(ctx context.Context) error {
	target := c.retiredN.Load()
	if c.reclaimed.Load() >= target {
		return nil
	}

	return wait.PollUntilContextCancel(ctx, barrierPollInterval, true,
		func(context.Context) (bool, error) {
			return c.reclaimed.Load() >= target, nil
		})
}

// Close stops accepting updates, waits for pending reclamation and destroys
// the final snapshot after a grace period. Readers must not use the Cache
// after Close. If ctx ends first, Close returns its error and a later Close
// resumes the teardown. Once Close has succeeded, further calls are no-ops.
func (c *Cache[T]) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}

	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	if err := c.Barrier(ctx); err != nil {
		return fmt.Errorf("failed to drain reclamation of %s: %w", c.name, err)
	}

	c.queue.ShutDown()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !c.swapped {
		c.final = c.ptr.Swap(nil)
		c.swapped = true
	}
	if c.final != nil {
		if err := c.domain.Synchronize(ctx); err != nil {
			return fmt.Errorf("failed to wait for readers of %s: %w", c.name, err)
		}
		c.destroy(c.final)
		c.final = nil
	}
	c.closed = true

	klog.FromContext(ctx).V(logging.DEFAULT).Info("closed rcu cache", "cache", c.name,
		"updates", c.updates.Load(), "reclaimed", c.reclaimed.Load())

	return nil
}

// Stats holds the counters of a Cache.
type Stats struct {
	Updates   uint64
	Retired   uint64
	Reclaimed uint64
}

// Pending returns how many retired snapshots await reclamation.
func (s Stats) Pending() uint64 {
	return s.Retired - s.Reclaimed
}

// Stats returns the counters of the Cache.
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Updates:   c.updates.Load(),
		Retired:   c.retiredN.Load(),
		Reclaimed: c.reclaimed.Load(),
	}
}

func (c *Cache[T]) destroy(value *T) {
	if c.deleter != nil {
		c.deleter.Delete(value)
	}
}

// reclaimLoop drains the retired queue. Every batch costs one grace period:
// all items taken before Synchronize were unpublished before it started.
func (c *Cache[T]) reclaimLoop() {
	defer close(c.done)

	logger := klog.FromContext(c.ctx).WithName("rcu.reclaimer").WithValues("cache", c.name)
	for {
		item, shutdown := c.queue.Get()
		if shutdown {
			return
		}

		batch := []*retired[T]{item}
		for c.queue.Len() > 0 {
			next, shutdown := c.queue.Get()
			if shutdown {
				break
			}
			batch = append(batch, next)
		}

		// retired snapshots are destroyed even if the owner's context ends
		if err := c.domain.Synchronize(context.WithoutCancel(c.ctx)); err != nil {
			logger.Error(err, "grace period failed, leaking snapshots", "count", len(batch))
			for _, r := range batch {
				c.queue.Done(r)
			}
			continue
		}

		for _, r := range batch {
			c.destroy(r.value)
			c.queue.Done(r)
			c.reclaimed.Add(1)
			metrics.SnapshotsReclaimed.Inc()
		}

		logger.V(logging.TRACE).Info("reclaimed snapshots", "count", len(batch))
	}
}
