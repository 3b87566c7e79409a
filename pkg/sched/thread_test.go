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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcore/rtcore/pkg/sched"
)

func TestThreadContractViolations(t *testing.T) {
	s, _ := newTestScheduler(t, 1)
	cpu := mustCPU(t, s, 0)
	other, _ := newTestScheduler(t, 1)
	foreign := mustCPU(t, other, 0)

	var stop atomic.Bool
	th, err := s.NewThread(spin(&stop), sched.Attr{Name: "t"})
	require.NoError(t, err)

	assert.Equal(t, sched.MinPriority, th.Priority())
	assert.ErrorIs(t, th.Start(), sched.ErrNotPinned)
	assert.ErrorIs(t, th.Pin(nil), sched.ErrInvalidCPU)
	assert.ErrorIs(t, th.Pin(foreign), sched.ErrInvalidCPU)
	assert.ErrorIs(t, th.SetRealtimePriority(sched.MinPriority-1), sched.ErrInvalidPriority)
	assert.ErrorIs(t, th.SetRealtimeTimeSlice(-time.Millisecond), sched.ErrInvalidTimeSlice)

	require.NoError(t, th.Pin(cpu))
	require.NoError(t, th.Start())

	assert.ErrorIs(t, th.Pin(cpu), sched.ErrAlreadyStarted)
	assert.ErrorIs(t, th.Start(), sched.ErrAlreadyStarted)
	assert.ErrorIs(t, th.Destroy(), sched.ErrThreadRunnable)

	stopAndDestroy(t, &stop, th)
}

func TestNewThreadValidatesAttr(t *testing.T) {
	s, _ := newTestScheduler(t, 1)
	body := func(*sched.Thread) {}

	_, err := s.NewThread(nil, sched.Attr{})
	assert.Error(t, err)

	_, err = s.NewThread(body, sched.Attr{Priority: -1})
	assert.ErrorIs(t, err, sched.ErrInvalidPriority)

	_, err = s.NewThread(body, sched.Attr{TimeSlice: -time.Second})
	assert.ErrorIs(t, err, sched.ErrInvalidTimeSlice)

	th, err := s.NewThread(body, sched.Attr{Priority: 7, TimeSlice: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 7, th.Priority())
	assert.Equal(t, time.Second, th.TimeSlice())
	assert.Equal(t, sched.StateCreated, th.State())
	assert.Nil(t, th.CPU())
	assert.Equal(t, -1, th.Stats().CPU)
	assert.NotEmpty(t, th.Name())
	require.NoError(t, th.Destroy())
}

func TestSchedulerRejectsUnknownCPU(t *testing.T) {
	s, _ := newTestScheduler(t, 2)

	_, err := s.CPU(2)
	assert.ErrorIs(t, err, sched.ErrInvalidCPU)
	_, err = s.CPU(-1)
	assert.ErrorIs(t, err, sched.ErrInvalidCPU)
	assert.Len(t, s.CPUs(), 2)
}

func TestConfigValidate(t *testing.T) {
	cfg := sched.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.CPUs = 0
	assert.Error(t, cfg.Validate())

	cfg = sched.DefaultConfig()
	cfg.HistorySize = -1
	assert.Error(t, cfg.Validate())

	_, err := sched.New(t.Context(), &sched.Config{})
	assert.Error(t, err)
}

func TestSetTimeSliceWhileRunningRestartsSlice(t *testing.T) {
	s, clk := newTestScheduler(t, 1)
	cpu := mustCPU(t, s, 0)

	var stop atomic.Bool
	a := startThread(t, s, cpu, spin(&stop), sched.Attr{Name: "a"})
	b := startThread(t, s, cpu, spin(&stop), sched.Attr{Name: "b"})

	// without a slice a never gives up the cpu
	clk.Step(time.Second)
	assert.Same(t, a, cpu.Current())

	require.NoError(t, a.SetRealtimeTimeSlice(slice))
	require.Eventually(t, clk.HasWaiters, waitFor, tick)
	clk.Step(slice)

	require.Eventually(t, func() bool { return cpu.Current() == b }, waitFor, tick)
	assert.Equal(t, sched.StateReady, a.State())

	stopAndDestroy(t, &stop, a, b)
}

func TestHostAffinity(t *testing.T) {
	cfg := sched.DefaultConfig()
	cfg.HostAffinity = true

	s, err := sched.New(t.Context(), cfg)
	require.NoError(t, err)
	cpu := mustCPU(t, s, 0)

	ran := make(chan struct{})
	th := startThread(t, s, cpu, func(*sched.Thread) { close(ran) }, sched.Attr{})

	<-ran
	require.NoError(t, th.Join(t.Context()))
	require.NoError(t, th.Destroy())
	assert.Equal(t, sched.StateDestroyed, th.State())
}
