// Copyright 2025 The rtcore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//nolint:testpackage // need to test unexported helpers
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()

	families, err := metrics.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]struct{}, len(families))
	for _, f := range families {
		names[f.GetName()] = struct{}{}
	}
	assert.Contains(t, names, "rtcore_sched_threads_started_total")
	assert.Contains(t, names, "rtcore_rcu_updates_total")
	assert.Contains(t, names, "rtcore_routecache_lookup_requests_total")
}

func TestCounterValue(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total"})
	c.Add(3)

	v, ok := counterValue(c)
	assert.True(t, ok)
	assert.InDelta(t, 3.0, v, 0)
}

func TestLogMetricsDoesNotPanicWithoutSamples(t *testing.T) {
	assert.NotPanics(t, func() { logMetrics(t.Context()) })
}
