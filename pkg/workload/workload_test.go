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

package workload_test

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcore/rtcore/pkg/sched"
	"github.com/rtcore/rtcore/pkg/workload"
)

func newScheduler(t *testing.T) *sched.Scheduler {
	t.Helper()

	s, err := sched.New(t.Context(), sched.DefaultConfig())
	require.NoError(t, err)
	return s
}

func testConfig() *workload.Config {
	cfg := workload.DefaultConfig()
	cfg.TimeSlice = 2 * time.Millisecond
	return cfg
}

func TestFib(t *testing.T) {
	assert.Equal(t, 0, workload.Fib(0))
	assert.Equal(t, 1, workload.Fib(1))
	assert.Equal(t, 55, workload.Fib(10))
}

func TestRuntimeEqualized(t *testing.T) {
	s := newScheduler(t)

	res, err := workload.RuntimeEqualized(t.Context(), s, testConfig())
	require.NoError(t, err)

	assert.True(t, res.Passed, "switches: %v", res.Switches)
	assert.Len(t, res.Switches, 5)
	for _, n := range res.Switches {
		assert.Positive(t, n)
	}
	assert.Empty(t, s.LiveThreads())
}

func TestPriorityPrecedence(t *testing.T) {
	s := newScheduler(t)

	res, err := workload.PriorityPrecedence(t.Context(), s, testConfig())
	require.NoError(t, err)

	assert.True(t, res.Passed, "runtimes: %v", res.Runtimes)
	assert.Positive(t, res.Runtimes[0])
	assert.Zero(t, res.Runtimes[1])
	assert.Empty(t, s.LiveThreads())
}

func TestRunReportsSummary(t *testing.T) {
	s := newScheduler(t)

	var out bytes.Buffer
	report, err := workload.Run(t.Context(), s, testConfig(), &out)
	require.NoError(t, err)

	assert.False(t, report.Failed())
	assert.Equal(t,
		"PASS: runtime_equalized\nPASS: priority_precedence\nSUMMARY: 2 tests, 0 failures\n",
		out.String())
}

func TestReportCountsFailures(t *testing.T) {
	var out bytes.Buffer
	report := workload.NewReport(&out)

	report.Add(&workload.Result{Name: "a", Passed: true})
	report.Add(&workload.Result{Name: "b"})
	report.Summary()

	assert.True(t, report.Failed())
	assert.Equal(t, "PASS: a\nFAIL: b\nSUMMARY: 2 tests, 1 failures\n", out.String())
}

func TestInvalidConfig(t *testing.T) {
	s := newScheduler(t)

	cfg := testConfig()
	cfg.ControlPriority = 2
	_, err := workload.RuntimeEqualized(t.Context(), s, cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.CPU = 3
	_, err = workload.PriorityPrecedence(t.Context(), s, cfg)
	assert.ErrorIs(t, err, sched.ErrInvalidCPU)
}

func TestGroupCloseDestroysOnce(t *testing.T) {
	s := newScheduler(t)
	cpu, err := s.CPU(0)
	require.NoError(t, err)

	group := workload.NewGroup(s)
	var iterations atomic.Int64
	for range 3 {
		_, err := group.Spawn(cpu, sched.Attr{Priority: 1, TimeSlice: time.Millisecond},
			func(th *sched.Thread, stop *atomic.Bool) {
				for !stop.Load() {
					iterations.Add(1)
					th.Checkpoint()
				}
			})
		require.NoError(t, err)
	}
	// never started
	idle, err := group.Spawn(cpu, sched.Attr{}, workload.Spin(1))
	require.NoError(t, err)

	threads := group.Threads()
	for _, th := range threads[:3] {
		require.NoError(t, th.Start())
	}
	require.Eventually(t, func() bool { return iterations.Load() > 0 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, group.Close(ctx))
	require.NoError(t, group.Close(ctx))

	assert.True(t, group.Stopped())
	for _, th := range threads {
		assert.Equal(t, sched.StateDestroyed, th.State())
	}
	assert.Equal(t, sched.StateDestroyed, idle.State())
	assert.Empty(t, s.LiveThreads())

	_, err = group.Spawn(cpu, sched.Attr{}, workload.Spin(1))
	assert.Error(t, err)
}
