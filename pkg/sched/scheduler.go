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

package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/rtcore/rtcore/pkg/metrics"
	"github.com/rtcore/rtcore/pkg/utils/logging"
)

// Scheduler owns the CPUs and tracks every thread created on them.
type Scheduler struct {
	cfg    *Config
	clock  clock.WithDelayedExecution
	cpus   []*CPU
	logger klog.Logger
	nextID atomic.Uint64

	mu       sync.Mutex
	threads  map[uint64]*Thread
	history  *lru.Cache[uint64, Stats] // nil when HistorySize is zero
	shutdown bool
}

// New creates a Scheduler given a Config.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	s := &Scheduler{
		cfg:     cfg,
		clock:   clock.RealClock{},
		logger:  klog.FromContext(ctx).WithName("sched"),
		threads: make(map[uint64]*Thread),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.HistorySize > 0 {
		history, err := lru.New[uint64, Stats](cfg.HistorySize)
		if err != nil {
			return nil, fmt.Errorf("failed to create thread history: %w", err)
		}
		s.history = history
	}

	s.cpus = make([]*CPU, cfg.CPUs)
	for i := range s.cpus {
		s.cpus[i] = newCPU(s, i)
	}

	if cfg.EnableMetrics {
		metrics.Register()
		if cfg.MetricsLoggingInterval > 0 {
			// this is non-blocking
			metrics.StartMetricsLogging(ctx, cfg.MetricsLoggingInterval)
		}
	}

	s.logger.V(logging.DEFAULT).Info("scheduler created", "cpus", cfg.CPUs,
		"hostAffinity", cfg.HostAffinity)

	return s, nil
}

// Clock returns the clock the scheduler accounts time with.
func (s *Scheduler) Clock() clock.WithDelayedExecution {
	return s.clock
}

// CPU returns the CPU with the given index.
func (s *Scheduler) CPU(id int) (*CPU, error) {
	if id < 0 || id >= len(s.cpus) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidCPU, id, len(s.cpus))
	}
	return s.cpus[id], nil
}

// CPUs returns all CPUs.
func (s *Scheduler) CPUs() []*CPU {
	return append([]*CPU(nil), s.cpus...)
}

// NewThread creates a thread running body. The thread must be pinned and
// started before it runs.
func (s *Scheduler) NewThread(body func(*Thread), attr Attr) (*Thread, error) {
	if body == nil {
		return nil, fmt.Errorf("sched: thread body is required")
	}
	if attr.Priority == 0 {
		attr.Priority = MinPriority
	}
	if attr.Priority < MinPriority {
		return nil, fmt.Errorf("%w: %d < %d", ErrInvalidPriority, attr.Priority, MinPriority)
	}
	if attr.TimeSlice < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeSlice, attr.TimeSlice)
	}

	id := s.nextID.Add(1)
	if attr.Name == "" {
		attr.Name = fmt.Sprintf("thread-%d", id)
	}

	t := &Thread{
		id:     id,
		name:   attr.Name,
		body:   body,
		sched:  s,
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	t.prio.Store(int64(attr.Priority))
	t.slice.Store(int64(attr.TimeSlice))

	s.mu.Lock()
	s.threads[id] = t
	s.mu.Unlock()

	return t, nil
}

// Thread returns a thread that has not been destroyed.
func (s *Scheduler) Thread(id uint64) (*Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	return t, ok
}

// ThreadStats returns the counters of a live thread, or the final counters
// of a destroyed one while it is still in the history.
func (s *Scheduler) ThreadStats(id uint64) (Stats, bool) {
	if t, ok := s.Thread(id); ok {
		return t.Stats(), true
	}
	if s.history == nil {
		return Stats{}, false
	}
	return s.history.Get(id)
}

// LiveThreads returns the ids of all threads not yet destroyed.
func (s *Scheduler) LiveThreads() sets.Set[uint64] {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := sets.New[uint64]()
	for id := range s.threads {
		ids.Insert(id)
	}
	return ids
}

// Shutdown refuses new admissions and waits until every started thread has
// returned from its body. Stopping the threads is up to their owners.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	pending := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		if t.State() != StateCreated {
			pending = append(pending, t)
		}
	}
	s.mu.Unlock()

	s.logger.V(logging.DEFAULT).Info("shutting down scheduler", "threads", len(pending))
	for _, t := range pending {
		if err := t.Join(ctx); err != nil {
			return fmt.Errorf("scheduler shutdown: %w", err)
		}
	}
	s.logger.V(logging.DEFAULT).Info("scheduler shut down")

	return nil
}

func (s *Scheduler) admitting(t *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return fmt.Errorf("%w: cannot start %s", ErrShutdown, t.name)
	}
	return nil
}

func (s *Scheduler) release(t *Thread, stats Stats) {
	s.mu.Lock()
	delete(s.threads, t.id)
	s.mu.Unlock()

	if s.history != nil {
		s.history.Add(t.id, stats)
	}
}
