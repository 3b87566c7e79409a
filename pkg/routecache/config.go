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

package routecache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	// ErrNoMemory is returned when a new snapshot would exceed the cache
	// budget. The previous snapshot stays published.
	ErrNoMemory = errors.New("routecache: snapshot exceeds memory budget")
	// ErrInvalidRoute is returned for routes without a valid destination.
	ErrInvalidRoute = errors.New("routecache: invalid route")
)

// Config holds the configuration for the RouteCache.
type Config struct {
	// MaxEntries bounds the number of routes in one snapshot.
	// If zero, the number of routes is not bounded.
	MaxEntries int `json:"maxEntries"`
	// MaxSnapshotSize bounds the estimated memory footprint of one snapshot.
	// Supports human-readable formats like "1MiB", "512KiB", etc.
	MaxSnapshotSize string `json:"maxSnapshotSize,omitempty"`

	// EnableMetrics toggles whether lookups/hits/allocation failures are
	// recorded.
	EnableMetrics bool `json:"enableMetrics"`
	// MetricsLoggingInterval defines the interval at which metrics are logged.
	// If zero, metrics logging is disabled.
	// Requires `EnableMetrics` to be true.
	MetricsLoggingInterval time.Duration `json:"metricsLoggingInterval"`
}

// DefaultConfig returns a default configuration for the RouteCache.
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      4096,
		MaxSnapshotSize: "1MiB",
	}
}

func (c *Config) maxSize() (uint64, error) {
	if c.MaxSnapshotSize == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(c.MaxSnapshotSize)
	if err != nil {
		return 0, fmt.Errorf("invalid maxSnapshotSize %q: %w", c.MaxSnapshotSize, err)
	}
	return size, nil
}
