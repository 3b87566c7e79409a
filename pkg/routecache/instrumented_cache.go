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
	"context"
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rtcore/rtcore/pkg/metrics"
	"github.com/rtcore/rtcore/pkg/rcu"
)

type instrumentedCache struct {
	next Cache
}

// NewInstrumentedCache wraps a Cache and emits metrics for Lookup.
func NewInstrumentedCache(next Cache) Cache {
	return &instrumentedCache{next: next}
}

func (m *instrumentedCache) Lookup(ctx context.Context, dst netip.Addr) (Route, error) {
	timer := prometheus.NewTimer(metrics.RouteLookupLatency)
	defer timer.ObserveDuration()

	metrics.RouteLookups.Inc()

	return m.next.Lookup(ctx, dst)
}

func (m *instrumentedCache) Insert(ctx context.Context, route Route) error {
	return m.next.Insert(ctx, route)
}

func (m *instrumentedCache) Remove(ctx context.Context, dst netip.Addr) error {
	return m.next.Remove(ctx, dst)
}

func (m *instrumentedCache) Invalidate(ctx context.Context) error {
	return m.next.Invalidate(ctx)
}

func (m *instrumentedCache) Snapshot() *rcu.Ref[RouteMap] {
	return m.next.Snapshot()
}

func (m *instrumentedCache) Len() int {
	return m.next.Len()
}

func (m *instrumentedCache) Close(ctx context.Context) error {
	return m.next.Close(ctx)
}
