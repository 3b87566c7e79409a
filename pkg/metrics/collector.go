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

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// ContextSwitches counts threads switched in, per CPU.
	ContextSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtcore", Subsystem: "sched", Name: "context_switches_total",
		Help: "Total number of context switches into a realtime thread",
	}, []string{"cpu"})
	// Preemptions counts running threads displaced by a higher-priority thread.
	Preemptions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtcore", Subsystem: "sched", Name: "preemptions_total",
		Help: "Total number of priority preemptions",
	}, []string{"cpu"})
	ThreadsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcore", Subsystem: "sched", Name: "threads_started_total",
		Help: "Total number of threads admitted to a runqueue",
	})
	ThreadsExited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcore", Subsystem: "sched", Name: "threads_exited_total",
		Help: "Total number of threads that left their run loop",
	})
	// Runnable tracks the runqueue length of each CPU, running thread excluded.
	Runnable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rtcore", Subsystem: "sched", Name: "runnable_threads",
		Help: "Number of ready threads waiting on a CPU",
	}, []string{"cpu"})

	SnapshotUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcore", Subsystem: "rcu", Name: "updates_total",
		Help: "Total number of published snapshots",
	})
	SnapshotsReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcore", Subsystem: "rcu", Name: "reclaimed_total",
		Help: "Total number of superseded snapshots destroyed after a grace period",
	})
	// GracePeriodLatency logs how long a grace period took to elapse.
	GracePeriodLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rtcore", Subsystem: "rcu", Name: "grace_period_seconds",
		Help:    "Latency of grace periods in seconds",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	})

	// RouteLookups counts how many Lookup() calls have been made.
	RouteLookups = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcore", Subsystem: "routecache", Name: "lookup_requests_total",
		Help: "Total number of route lookups",
	})
	// RouteHits counts lookups served from the published snapshot.
	RouteHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcore", Subsystem: "routecache", Name: "lookup_hits_total",
		Help: "Number of route lookups found in the cache",
	})
	// RouteAllocFailures counts snapshots rejected by the memory budget.
	RouteAllocFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcore", Subsystem: "routecache", Name: "alloc_failures_total",
		Help: "Number of snapshot updates rejected by the memory budget",
	})
	// RouteLookupLatency logs latency of lookup calls.
	RouteLookupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rtcore", Subsystem: "routecache", Name: "lookup_latency_seconds",
		Help:    "Latency of Lookup calls in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Collectors returns a slice of all registered Prometheus collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ContextSwitches, Preemptions, ThreadsStarted, ThreadsExited, Runnable,
		SnapshotUpdates, SnapshotsReclaimed, GracePeriodLatency,
		RouteLookups, RouteHits, RouteAllocFailures, RouteLookupLatency,
	}
}

var registerMetricsOnce = sync.Once{}

// Register registers all metrics with K8s registry.
func Register() {
	registerMetricsOnce.Do(func() {
		metrics.Registry.MustRegister(Collectors()...)
	})
}

// StartMetricsLogging spawns a goroutine that logs current metric values every
// interval until ctx is done.
func StartMetricsLogging(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logMetrics(ctx)
			}
		}
	}()
}

func counterValue(c prometheus.Counter) (float64, bool) {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0, false
	}
	return m.GetCounter().GetValue(), true
}

func logMetrics(ctx context.Context) {
	started, ok := counterValue(ThreadsStarted)
	if !ok {
		return
	}
	exited, ok := counterValue(ThreadsExited)
	if !ok {
		return
	}
	updates, ok := counterValue(SnapshotUpdates)
	if !ok {
		return
	}
	reclaimed, ok := counterValue(SnapshotsReclaimed)
	if !ok {
		return
	}
	lookups, ok := counterValue(RouteLookups)
	if !ok {
		return
	}
	hits, ok := counterValue(RouteHits)
	if !ok {
		return
	}

	var gpMetric dto.Metric
	if err := GracePeriodLatency.Write(&gpMetric); err != nil {
		return
	}
	gpCount := gpMetric.GetHistogram().GetSampleCount()
	gpSum := gpMetric.GetHistogram().GetSampleSum()
	gpAvg := 0.0
	if gpCount > 0 {
		gpAvg = gpSum / float64(gpCount)
	}

	klog.FromContext(ctx).WithName("metrics").Info("metrics beat",
		"threads_started", started,
		"threads_exited", exited,
		"snapshot_updates", updates,
		"snapshots_reclaimed", reclaimed,
		"route_lookups", lookups,
		"route_hits", hits,
		"grace_periods", gpCount,
		"grace_period_avg", gpAvg,
	)
}
