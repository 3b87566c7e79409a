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
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/rtcore/rtcore/pkg/metrics"
	"github.com/rtcore/rtcore/pkg/utils/logging"
)

// CPU is one scheduling domain: a runqueue and at most one running thread.
//
// Dispatch rule: the highest-priority ready thread runs. A ready thread of
// strictly higher priority preempts the running one regardless of its
// remaining slice, and the preempted thread keeps its place at the head of
// its priority. Threads of equal priority rotate round-robin: slice expiry
// or Yield moves the running thread to the tail of its priority.
type CPU struct {
	id     int
	label  string
	sched  *Scheduler
	clock  clock.WithDelayedExecution
	logger klog.Logger

	mu       sync.Mutex
	rq       runqueue
	current  *Thread
	runStart time.Time
	timer    clock.Timer

	// Set without mu by slice timers, so clock callbacks never wait on mu.
	gen         atomic.Uint64 // grant generation of the current thread
	expired     atomic.Uint64 // generation whose slice has run out
	needResched atomic.Bool
}

func newCPU(s *Scheduler, id int) *CPU {
	return &CPU{
		id:     id,
		label:  strconv.Itoa(id),
		sched:  s,
		clock:  s.clock,
		logger: s.logger.WithValues("cpu", id),
	}
}

// ID returns the CPU index.
func (c *CPU) ID() int { return c.id }

// Current returns the running thread, or nil when idle.
func (c *CPU) Current() *Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Runnable returns the number of ready threads, the running one excluded.
func (c *CPU) Runnable() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rq.len()
}

// Ready returns the ready threads in dispatch order.
func (c *CPU) Ready() []*Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rq.threads()
}

func (c *CPU) admit(t *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t.state.Store(int32(StateReady))
	c.makeReadyLocked(t)

	c.logger.V(logging.DEBUG).Info("admitted thread", "thread", t.name,
		"priority", t.Priority(), "slice", t.TimeSlice())
	if c.sched.cfg.EnableMetrics {
		metrics.ThreadsStarted.Inc()
	}
}

func (c *CPU) wake(t *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.State() != StateWaiting {
		return
	}
	t.state.Store(int32(StateReady))
	c.makeReadyLocked(t)
}

// makeReadyLocked queues t and runs it at once on an idle CPU, or requests
// preemption when it outranks the running thread.
func (c *CPU) makeReadyLocked(t *Thread) {
	c.rq.pushBack(t)

	switch {
	case c.current == nil:
		c.dispatchLocked(c.rq.pop(), c.clock.Now())
	case t.Priority() > c.current.Priority():
		c.needResched.Store(true)
	}
	c.recordRunnableLocked()
}

// reschedule is the scheduling point of the running thread t. A yielding
// thread or one whose slice expired rotates behind its equals; otherwise t
// was asked to make way for a higher-priority thread and stays in front.
func (c *CPU) reschedule(t *Thread, yield bool) {
	c.mu.Lock()
	if c.current != t {
		c.mu.Unlock()
		return
	}

	c.needResched.Store(false)
	now := c.clock.Now()
	c.accountLocked(now)

	rotate := yield || (t.TimeSlice() > 0 && c.expired.Load() == c.gen.Load())
	if rotate {
		c.rq.pushBack(t)
	} else {
		c.rq.pushFront(t)
	}

	next := c.rq.pop()
	if next == t {
		if rotate {
			c.stopTimerLocked()
			c.grantSliceLocked(t)
		}
		c.mu.Unlock()
		return
	}

	t.state.Store(int32(StateReady))
	if !rotate && c.sched.cfg.EnableMetrics {
		metrics.Preemptions.WithLabelValues(c.label).Inc()
	}
	c.dispatchLocked(next, now)
	c.recordRunnableLocked()
	c.mu.Unlock()

	<-t.resume
}

func (c *CPU) sleep(t *Thread, d time.Duration) {
	if d <= 0 {
		c.reschedule(t, true)
		return
	}

	c.mu.Lock()
	if c.current != t {
		c.mu.Unlock()
		return
	}

	now := c.clock.Now()
	c.accountLocked(now)
	t.state.Store(int32(StateWaiting))
	c.clock.AfterFunc(d, func() { go c.wake(t) })

	c.dispatchLocked(c.rq.pop(), now)
	c.recordRunnableLocked()
	c.mu.Unlock()

	<-t.resume
}

func (c *CPU) exit(t *Thread) {
	c.mu.Lock()
	now := c.clock.Now()
	c.accountLocked(now)
	runtime := t.runtime
	t.state.Store(int32(StateTerminated))
	c.dispatchLocked(c.rq.pop(), now)
	c.recordRunnableLocked()
	c.mu.Unlock()

	close(t.done)

	c.logger.V(logging.DEBUG).Info("thread exited", "thread", t.name,
		"switches", t.Switches(), "runtime", runtime)
	if c.sched.cfg.EnableMetrics {
		metrics.ThreadsExited.Inc()
	}
}

// dispatchLocked hands the CPU to next, or idles it when next is nil.
func (c *CPU) dispatchLocked(next *Thread, now time.Time) {
	c.stopTimerLocked()
	c.needResched.Store(false)

	prev := c.current
	c.current = next
	if next == nil {
		c.logger.V(logging.TRACE).Info("cpu idle")
		return
	}

	c.runStart = now
	next.state.Store(int32(StateRunning))
	c.grantSliceLocked(next)
	next.switches.Add(1)

	if c.sched.cfg.EnableMetrics {
		metrics.ContextSwitches.WithLabelValues(c.label).Inc()
	}
	if logger := c.logger.V(logging.TRACE); logger.Enabled() {
		from := ""
		if prev != nil {
			from = prev.name
		}
		logger.Info("context switch", "from", from, "to", next.name,
			"priority", next.Priority(), "switches", next.Switches())
	}

	next.resume <- struct{}{}
}

// grantSliceLocked starts a new slice for the running thread t.
func (c *CPU) grantSliceLocked(t *Thread) {
	gen := c.gen.Add(1)

	slice := t.TimeSlice()
	if slice <= 0 {
		return
	}
	c.timer = c.clock.AfterFunc(slice, func() {
		if c.gen.Load() != gen {
			return
		}
		c.expired.Store(gen)
		c.needResched.Store(true)
	})
}

func (c *CPU) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// accountLocked charges the time since the last accounting to the running
// thread.
func (c *CPU) accountLocked(now time.Time) {
	if c.current == nil {
		return
	}
	if d := now.Sub(c.runStart); d > 0 {
		c.current.runtime += d
	}
	c.runStart = now
}

func (c *CPU) runtimeOf(t *Thread) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := t.runtime
	if c.current == t {
		if d := c.clock.Since(c.runStart); d > 0 {
			r += d
		}
	}
	return r
}

func (c *CPU) setPriority(t *Thread, prio int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch t.State() {
	case StateReady:
		c.rq.remove(t)
		t.prio.Store(int64(prio))
		c.rq.pushBack(t)
		if c.current != nil && prio > c.current.Priority() {
			c.needResched.Store(true)
		}
	case StateRunning:
		t.prio.Store(int64(prio))
		if highest, ok := c.rq.highest(); ok && highest > prio {
			c.needResched.Store(true)
		}
	default:
		t.prio.Store(int64(prio))
	}
}

func (c *CPU) setTimeSlice(t *Thread, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t.slice.Store(int64(d))
	if c.current == t {
		c.stopTimerLocked()
		c.grantSliceLocked(t)
	}
}

func (c *CPU) recordRunnableLocked() {
	if c.sched.cfg.EnableMetrics {
		metrics.Runnable.WithLabelValues(c.label).Set(float64(c.rq.len()))
	}
}
