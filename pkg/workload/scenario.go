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
	"time"

	"k8s.io/klog/v2"

	"github.com/rtcore/rtcore/pkg/sched"
	"github.com/rtcore/rtcore/pkg/utils"
	"github.com/rtcore/rtcore/pkg/utils/logging"
)

// Config holds the configuration of the scheduler scenarios.
type Config struct {
	// CPU is the CPU every scenario thread is pinned to.
	CPU int `json:"cpu"`
	// Threads is the number of equal-priority threads in RuntimeEqualized.
	Threads int `json:"threads"`
	// Rounds is the number of full round-robin rounds to run for.
	Rounds int `json:"rounds"`
	// TimeSlice is the realtime time slice of the workload threads.
	TimeSlice time.Duration `json:"timeSlice"`
	// FibN sizes the compute kernel between two preemption points.
	FibN int `json:"fibN"`
	// ControlPriority is the priority of the controlling thread. It must
	// exceed every workload priority so the controller is never starved.
	ControlPriority int `json:"controlPriority"`
}

// DefaultConfig returns a default configuration for the scenarios.
func DefaultConfig() *Config {
	return &Config{
		Threads:         5,
		Rounds:          3,
		TimeSlice:       10 * time.Millisecond,
		FibN:            10,
		ControlPriority: 10,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Threads <= 0:
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	case c.Rounds <= 0:
		return fmt.Errorf("rounds must be positive, got %d", c.Rounds)
	case c.TimeSlice <= 0:
		return fmt.Errorf("timeSlice must be positive, got %s", c.TimeSlice)
	case c.ControlPriority <= 2:
		return fmt.Errorf("controlPriority must exceed the workload priorities, got %d", c.ControlPriority)
	}
	return nil
}

// Result is the outcome of one scenario.
type Result struct {
	Name     string          `json:"name"`
	Passed   bool            `json:"passed"`
	Switches []uint64        `json:"switches"`
	Runtimes []time.Duration `json:"runtimes"`
}

// RuntimeEqualized runs cfg.Threads equal-priority threads with equal time
// slices on one CPU for cfg.Rounds full rounds and passes if their context
// switch counts differ by at most one.
func RuntimeEqualized(ctx context.Context, s *sched.Scheduler, cfg *Config) (*Result, error) {
	cpu, err := prepare(s, cfg)
	if err != nil {
		return nil, err
	}

	group := NewGroup(s)
	for i := range cfg.Threads {
		if _, err := group.Spawn(cpu, sched.Attr{
			Name:      fmt.Sprintf("equalized-%d", i),
			Priority:  1,
			TimeSlice: cfg.TimeSlice,
		}, Spin(cfg.FibN)); err != nil {
			return nil, closeOnError(ctx, group, err)
		}
	}

	res := &Result{Name: "runtime_equalized"}
	wait := cfg.TimeSlice * time.Duration(cfg.Threads*cfg.Rounds)
	err = control(ctx, s, cpu, cfg.ControlPriority, wait, group.Start, func() {
		res.observe(group.Threads())
		group.Stop()
	})
	if err := group.Close(ctx); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	res.Passed = utils.Spread(res.Switches) <= 1
	klog.FromContext(ctx).V(logging.DEFAULT).Info("scenario finished", "name", res.Name,
		"passed", res.Passed, "switches", res.Switches)

	return res, nil
}

// PriorityPrecedence runs an always-runnable priority 2 thread with a time
// slice next to a priority 1 thread on one CPU for three slices and passes
// if only the priority 2 thread accumulated run time.
func PriorityPrecedence(ctx context.Context, s *sched.Scheduler, cfg *Config) (*Result, error) {
	cpu, err := prepare(s, cfg)
	if err != nil {
		return nil, err
	}

	group := NewGroup(s)
	if _, err := group.Spawn(cpu, sched.Attr{
		Name:      "precedence-high",
		Priority:  2,
		TimeSlice: cfg.TimeSlice,
	}, Spin(cfg.FibN)); err != nil {
		return nil, closeOnError(ctx, group, err)
	}
	if _, err := group.Spawn(cpu, sched.Attr{
		Name:     "precedence-low",
		Priority: 1,
	}, Spin(cfg.FibN)); err != nil {
		return nil, closeOnError(ctx, group, err)
	}

	res := &Result{Name: "priority_precedence"}
	err = control(ctx, s, cpu, cfg.ControlPriority, 3*cfg.TimeSlice, group.Start, func() {
		res.observe(group.Threads())
		group.Stop()
	})
	if err := group.Close(ctx); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	res.Passed = res.Runtimes[0] > 0 && res.Runtimes[1] == 0
	klog.FromContext(ctx).V(logging.DEFAULT).Info("scenario finished", "name", res.Name,
		"passed", res.Passed, "runtimes", res.Runtimes)

	return res, nil
}

func (r *Result) observe(threads []*sched.Thread) {
	r.Switches = utils.SliceMap(threads, (*sched.Thread).Switches)
	r.Runtimes = utils.SliceMap(threads, (*sched.Thread).Runtime)
}

func prepare(s *sched.Scheduler, cfg *Config) (*sched.CPU, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload config: %w", err)
	}
	cpu, err := s.CPU(cfg.CPU)
	if err != nil {
		return nil, fmt.Errorf("invalid workload config: %w", err)
	}
	return cpu, nil
}

func closeOnError(ctx context.Context, group *Group, err error) error {
	if closeErr := group.Close(ctx); closeErr != nil {
		return fmt.Errorf("%w (cleanup: %w)", err, closeErr)
	}
	return err
}

// control runs a controlling thread at prio on cpu. While it holds the CPU
// it calls start, so the started threads queue up behind it, then sleeps
// for d and calls observe, so observe sees the threads with none of them
// running.
func control(ctx context.Context, s *sched.Scheduler, cpu *sched.CPU, prio int,
	d time.Duration, start func() error, observe func(),
) error {
	var startErr error
	th, err := s.NewThread(func(th *sched.Thread) {
		if startErr = start(); startErr != nil {
			return
		}
		th.Sleep(d)
		observe()
	}, sched.Attr{Name: "control", Priority: prio})
	if err != nil {
		return fmt.Errorf("failed to create control thread: %w", err)
	}
	if err := th.Pin(cpu); err != nil {
		return errors.Join(fmt.Errorf("failed to pin control thread: %w", err), th.Destroy())
	}
	if err := th.Start(); err != nil {
		return errors.Join(fmt.Errorf("failed to start control thread: %w", err), th.Destroy())
	}

	if err := th.Join(ctx); err != nil {
		return err
	}
	if startErr != nil {
		return errors.Join(startErr, th.Destroy())
	}
	return th.Destroy()
}
