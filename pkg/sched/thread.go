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
	"time"
)

// State is the lifecycle state of a Thread.
type State int32

const (
	// StateCreated threads are configurable and not yet admitted.
	StateCreated State = iota
	// StateReady threads wait in their CPU's runqueue.
	StateReady
	// StateRunning threads hold their CPU.
	StateRunning
	// StateWaiting threads sleep outside the runqueue.
	StateWaiting
	// StateTerminated threads have returned from their body.
	StateTerminated
	// StateDestroyed threads have been released by their owner.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Attr holds the creation attributes of a Thread.
type Attr struct {
	// Name is used in logs and statistics.
	Name string
	// Priority is the realtime priority. Zero means MinPriority.
	Priority int
	// TimeSlice bounds a contiguous run among equal-priority threads.
	// Zero means run until preempted, blocked or yielding.
	TimeSlice time.Duration
}

// Stats is a point-in-time view of a Thread's scheduling counters.
type Stats struct {
	ID        uint64        `json:"id"`
	Name      string        `json:"name"`
	CPU       int           `json:"cpu"`
	Priority  int           `json:"priority"`
	TimeSlice time.Duration `json:"timeSlice"`
	State     State         `json:"state"`
	Switches  uint64        `json:"switches"`
	Runtime   time.Duration `json:"runtime"`
}

// Thread is a realtime-scheduled thread of execution.
//
// The body runs on its own goroutine, but only while the thread holds its
// CPU. Preemption requested by a slice timer or by a higher-priority thread
// takes effect at the body's next Checkpoint, Yield or Sleep call, or when
// the body returns.
type Thread struct {
	id    uint64
	name  string
	body  func(*Thread)
	sched *Scheduler

	// mu serializes pinning, admission and destruction.
	mu  sync.Mutex
	cpu atomic.Pointer[CPU]

	prio  atomic.Int64
	slice atomic.Int64
	state atomic.Int32

	switches atomic.Uint64
	// runtime is guarded by the CPU's mutex.
	runtime time.Duration

	resume chan struct{}
	done   chan struct{}
}

// ID returns the thread's identity.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// CPU returns the CPU the thread is pinned to, or nil.
func (t *Thread) CPU() *CPU { return t.cpu.Load() }

// Priority returns the realtime priority.
func (t *Thread) Priority() int { return int(t.prio.Load()) }

// TimeSlice returns the configured time slice.
func (t *Thread) TimeSlice() time.Duration { return time.Duration(t.slice.Load()) }

// State returns the lifecycle state.
func (t *Thread) State() State { return State(t.state.Load()) }

// Switches returns how many times the thread was switched in.
func (t *Thread) Switches() uint64 { return t.switches.Load() }

// Runtime returns the accumulated run time, including the current run.
func (t *Thread) Runtime() time.Duration {
	c := t.CPU()
	if c == nil {
		return 0
	}
	return c.runtimeOf(t)
}

// Stats returns the thread's counters.
func (t *Thread) Stats() Stats {
	cpu := -1
	if c := t.CPU(); c != nil {
		cpu = c.ID()
	}
	return Stats{
		ID:        t.id,
		Name:      t.name,
		CPU:       cpu,
		Priority:  t.Priority(),
		TimeSlice: t.TimeSlice(),
		State:     t.State(),
		Switches:  t.Switches(),
		Runtime:   t.Runtime(),
	}
}

// Pin binds the thread to cpu. Only legal before Start.
func (t *Thread) Pin(cpu *CPU) error {
	if cpu == nil || cpu.sched != t.sched {
		return fmt.Errorf("%w: cannot pin %s", ErrInvalidCPU, t.name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() != StateCreated {
		return fmt.Errorf("%w: cannot pin %s", ErrAlreadyStarted, t.name)
	}
	t.cpu.Store(cpu)

	return nil
}

// SetRealtimePriority sets the realtime priority. A ready thread rotates
// to the tail of its new priority; a running thread that is now outranked
// is preempted.
func (t *Thread) SetRealtimePriority(prio int) error {
	if prio < MinPriority {
		return fmt.Errorf("%w: %d < %d", ErrInvalidPriority, prio, MinPriority)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if c := t.CPU(); c != nil && t.State() != StateCreated {
		c.setPriority(t, prio)
		return nil
	}
	t.prio.Store(int64(prio))

	return nil
}

// SetRealtimeTimeSlice sets the time slice; zero means unlimited. A running
// thread starts a fresh slice.
func (t *Thread) SetRealtimeTimeSlice(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeSlice, d)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if c := t.CPU(); c != nil && t.State() != StateCreated {
		c.setTimeSlice(t, d)
		return nil
	}
	t.slice.Store(int64(d))

	return nil
}

// Start admits the thread into its CPU's runqueue.
func (t *Thread) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() != StateCreated {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, t.name)
	}
	c := t.CPU()
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotPinned, t.name)
	}
	if err := t.sched.admitting(t); err != nil {
		return err
	}

	go t.run()
	c.admit(t)

	return nil
}

func (t *Thread) run() {
	<-t.resume

	c := t.CPU()
	if t.sched.cfg.HostAffinity {
		// the locked OS thread is discarded with the goroutine
		if err := bindHostCPU(c.ID()); err != nil {
			c.logger.Error(err, "failed to bind host cpu", "thread", t.name)
		}
	}

	t.body(t)
	c.exit(t)
}

// Checkpoint is a preemption point. It returns immediately unless the CPU
// has a pending reschedule, in which case the thread may be switched out
// and resumes here once selected again. Only the thread's own body may
// call it.
func (t *Thread) Checkpoint() {
	c := t.CPU()
	if c.needResched.Load() {
		c.reschedule(t, false)
	}
}

// Yield moves the thread behind every ready thread of equal priority.
// Only the thread's own body may call it.
func (t *Thread) Yield() {
	t.CPU().reschedule(t, true)
}

// Sleep takes the thread off its CPU for d. Only the thread's own body may
// call it.
func (t *Thread) Sleep(d time.Duration) {
	t.CPU().sleep(t, d)
}

// Done is closed once the thread has returned from its body.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Join waits until the thread has returned from its body.
func (t *Thread) Join(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("join %s: %w", t.name, ctx.Err())
	}
}

// Destroy releases the thread. The thread must never have been started or
// must have terminated; destroying a runnable thread is refused. Later
// calls are no-ops.
func (t *Thread) Destroy() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case StateDestroyed:
		return nil
	case StateCreated, StateTerminated:
	default:
		return fmt.Errorf("%w: %s is %s", ErrThreadRunnable, t.name, t.State())
	}

	stats := t.Stats()
	t.state.Store(int32(StateDestroyed))
	stats.State = StateDestroyed
	t.sched.release(t, stats)

	return nil
}
