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
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/rtcore/rtcore/pkg/metrics"
)

const defaultPollInterval = 50 * time.Microsecond

// DomainConfig holds the configuration for a grace-period Domain.
type DomainConfig struct {
	// Slots is the number of striped reader counters. Readers spread over
	// the slots the way per-CPU counters spread over CPUs.
	// If zero, GOMAXPROCS is used.
	Slots int `json:"slots"`
	// PollInterval is how often a waiting writer rescans the counters.
	PollInterval time.Duration `json:"pollInterval"`
}

// DefaultDomainConfig returns a default configuration for a Domain.
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		Slots:        runtime.GOMAXPROCS(0),
		PollInterval: defaultPollInterval,
	}
}

// slot holds the reader counts of both phases.
type slot struct {
	active [2]atomic.Int64
	// cacheline padding, keeps neighbouring slots off the same line
	_ [48]byte
}

// Domain tracks read-side critical sections and detects grace periods.
//
// Every reader increments a counter of the currently active phase on entry
// and decrements the same counter on exit. A grace period waits for the
// inactive phase to drain, flips the active phase and then waits for the
// previously active phase to drain. Readers never block and never take a
// lock; only writers wait.
type Domain struct {
	phase atomic.Uint32
	slots []slot

	// gpMu serializes grace periods.
	gpMu         sync.Mutex
	pollInterval time.Duration
	completed    atomic.Uint64
}

// NewDomain creates a Domain given a DomainConfig.
func NewDomain(cfg *DomainConfig) *Domain {
	if cfg == nil {
		cfg = DefaultDomainConfig()
	}

	slots := cfg.Slots
	if slots <= 0 {
		slots = runtime.GOMAXPROCS(0)
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Domain{
		slots:        make([]slot, slots),
		pollInterval: interval,
	}
}

// ReadSection is an open read-side critical section.
type ReadSection struct {
	slot  *slot
	phase uint32
}

// ReadLock begins a read-side critical section. It never blocks.
// Sections may nest and may be held by any number of goroutines.
func (d *Domain) ReadLock() ReadSection {
	s := &d.slots[rand.IntN(len(d.slots))] //nolint:gosec // slot spreading only
	p := d.phase.Load() & 1
	s.active[p].Add(1)

	return ReadSection{slot: s, phase: p}
}

// Unlock ends the read-side critical section.
func (r ReadSection) Unlock() {
	r.slot.active[r.phase].Add(-1)
}

// Synchronize blocks until a full grace period has elapsed: every read-side
// critical section that began before the call has ended.
func (d *Domain) Synchronize(ctx context.Context) error {
	d.gpMu.Lock()
	defer d.gpMu.Unlock()

	start := time.Now()
	cur := d.phase.Load() & 1

	// stragglers that sampled the phase before the previous flip
	if err := d.waitDrained(ctx, cur^1); err != nil {
		return fmt.Errorf("failed to drain inactive phase: %w", err)
	}

	d.phase.Store(cur ^ 1)

	if err := d.waitDrained(ctx, cur); err != nil {
		return fmt.Errorf("failed to drain active phase: %w", err)
	}

	d.completed.Add(1)
	metrics.GracePeriodLatency.Observe(time.Since(start).Seconds())

	return nil
}

// GracePeriods returns the number of grace periods completed so far.
func (d *Domain) GracePeriods() uint64 {
	return d.completed.Load()
}

// Readers returns the number of open read-side critical sections.
func (d *Domain) Readers() int64 {
	var n int64
	for i := range d.slots {
		n += d.slots[i].active[0].Load() + d.slots[i].active[1].Load()
	}
	return n
}

func (d *Domain) drained(phase uint32) bool {
	for i := range d.slots {
		if d.slots[i].active[phase].Load() != 0 {
			return false
		}
	}
	return true
}

func (d *Domain) waitDrained(ctx context.Context, phase uint32) error {
	if d.drained(phase) {
		return nil
	}

	return wait.PollUntilContextCancel(ctx, d.pollInterval, true,
		func(context.Context) (bool, error) {
			return d.drained(phase), nil
		})
}
