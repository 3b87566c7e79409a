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

package workload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rtcore/rtcore/pkg/sched"
)

// Body is a thread body that returns once stop is raised.
type Body func(th *sched.Thread, stop *atomic.Bool)

// Group owns a set of threads sharing one stop flag. Close stops the
// threads, waits for each to leave its body and destroys them exactly once.
type Group struct {
	sched *sched.Scheduler
	stop  atomic.Bool

	mu      sync.Mutex
	threads []*sched.Thread
	closed  bool
}

// NewGroup creates an empty Group on s.
func NewGroup(s *sched.Scheduler) *Group {
	return &Group{sched: s}
}

// Spawn creates a thread running body and pins it to cpu. The thread is
// not started.
func (g *Group) Spawn(cpu *sched.CPU, attr sched.Attr, body Body) (*sched.Thread, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("workload group is closed")
	}

	th, err := g.sched.NewThread(func(th *sched.Thread) {
		body(th, &g.stop)
	}, attr)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	if err := th.Pin(cpu); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to pin %s: %w", th.Name(), err), th.Destroy())
	}

	g.threads = append(g.threads, th)
	return th, nil
}

// Start starts every thread not started yet.
func (g *Group) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, th := range g.threads {
		if th.State() != sched.StateCreated {
			continue
		}
		if err := th.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", th.Name(), err)
		}
	}
	return nil
}

// Threads returns the threads in spawn order.
func (g *Group) Threads() []*sched.Thread {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*sched.Thread(nil), g.threads...)
}

// Stop raises the stop flag.
func (g *Group) Stop() {
	g.stop.Store(true)
}

// Stopped reports whether the stop flag is raised.
func (g *Group) Stopped() bool {
	return g.stop.Load()
}

// Close stops the threads, waits for them to terminate and destroys them.
// If ctx ends first, no thread is destroyed and Close may be retried.
func (g *Group) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.Stop()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, th := range g.threads {
		if th.State() == sched.StateCreated {
			continue
		}
		eg.Go(func() error {
			return th.Join(egCtx)
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("failed to join workload threads: %w", err)
	}

	var errs []error
	for _, th := range g.threads {
		errs = append(errs, th.Destroy())
	}
	g.closed = true

	return errors.Join(errs...)
}
