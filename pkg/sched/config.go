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
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

const (
	// MinPriority is the lowest realtime priority. Higher values always
	// preempt lower ones on the same CPU.
	MinPriority = 1

	defaultHistorySize = 1024
)

// Config holds the configuration for the Scheduler.
type Config struct {
	// CPUs is the number of CPUs, each with its own runqueue.
	CPUs int `json:"cpus"`
	// HostAffinity binds the goroutine of every thread to a host CPU
	// derived from its pinned CPU. Linux only; ignored elsewhere.
	HostAffinity bool `json:"hostAffinity"`
	// HistorySize is the number of destroyed threads whose final
	// statistics are retained.
	HistorySize int `json:"historySize"`

	// EnableMetrics toggles whether switches/preemptions/admissions are
	// recorded.
	EnableMetrics bool `json:"enableMetrics"`
	// MetricsLoggingInterval defines the interval at which metrics are logged.
	// If zero, metrics logging is disabled.
	// Requires `EnableMetrics` to be true.
	MetricsLoggingInterval time.Duration `json:"metricsLoggingInterval"`
}

// DefaultConfig returns a default configuration for the Scheduler.
func DefaultConfig() *Config {
	return &Config{
		CPUs:        1,
		HistorySize: defaultHistorySize,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.CPUs <= 0 {
		return fmt.Errorf("cpus must be positive, got %d", c.CPUs)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("historySize must not be negative, got %d", c.HistorySize)
	}
	return nil
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for time slices, sleeps and run-time
// accounting.
func WithClock(clk clock.WithDelayedExecution) Option {
	return func(s *Scheduler) { s.clock = clk }
}
