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

package sched_test

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/rtcore/rtcore/pkg/sched"
)

const (
	waitFor = 5 * time.Second
	tick    = time.Millisecond
)

// newTestScheduler creates a scheduler driven by a fake clock.
func newTestScheduler(t *testing.T, cpus int) (*sched.Scheduler, *testingclock.FakeClock) {
	t.Helper()

	clk := testingclock.NewFakeClock(time.Now())
	cfg := sched.DefaultConfig()
	cfg.CPUs = cpus

	s, err := sched.New(t.Context(), cfg, sched.WithClock(clk))
	require.NoError(t, err)

	return s, clk
}

// spin is a compute-bound body that reaches a preemption point on every
// iteration until stop is set.
func spin(stop *atomic.Bool) func(*sched.Thread) {
	return func(th *sched.Thread) {
		for !stop.Load() {
			th.Checkpoint()
			runtime.Gosched()
		}
	}
}

// startThread creates, pins and starts a thread on cpu.
func startThread(t *testing.T, s *sched.Scheduler, cpu *sched.CPU,
	body func(*sched.Thread), attr sched.Attr,
) *sched.Thread {
	t.Helper()

	th, err := s.NewThread(body, attr)
	require.NoError(t, err)
	require.NoError(t, th.Pin(cpu))
	require.NoError(t, th.Start())

	return th
}

// stopAndDestroy raises stop, waits for every thread to leave its body and
// destroys them.
func stopAndDestroy(t *testing.T, stop *atomic.Bool, threads ...*sched.Thread) {
	t.Helper()

	stop.Store(true)

	ctx, cancel := context.WithTimeout(t.Context(), waitFor)
	defer cancel()

	for _, th := range threads {
		require.NoError(t, th.Join(ctx))
		require.NoError(t, th.Destroy())
	}
}

func mustCPU(t *testing.T, s *sched.Scheduler, id int) *sched.CPU {
	t.Helper()

	cpu, err := s.CPU(id)
	require.NoError(t, err)
	return cpu
}
