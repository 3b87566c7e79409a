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
	"encoding/binary"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// routeEntryOverhead approximates the per-entry cost of a RouteMap: the map
// bucket share, the key and the Route header.
const routeEntryOverhead = 96

// Route is a resolved route to a single destination host.
type Route struct {
	Destination netip.Addr `json:"destination"`
	Gateway     netip.Addr `json:"gateway"`
	Interface   string     `json:"interface"`
	MTU         int        `json:"mtu"`
}

func (r Route) String() string {
	return fmt.Sprintf("%s via %s dev %s mtu %d", r.Destination, r.Gateway, r.Interface, r.MTU)
}

func (r Route) size() uint64 {
	return routeEntryOverhead + uint64(len(r.Interface))
}

// RouteMap is an immutable snapshot of cached routes keyed by destination.
// A published RouteMap is never modified; writers derive a new one.
type RouteMap struct {
	routes map[netip.Addr]Route
	digest uint64
	size   uint64

	released atomic.Bool
}

// NewRouteMap builds a snapshot holding routes. Later routes replace earlier
// ones with the same destination.
func NewRouteMap(routes ...Route) *RouteMap {
	m := make(map[netip.Addr]Route, len(routes))
	for _, r := range routes {
		m[r.Destination] = r
	}
	return newRouteMap(m)
}

func newRouteMap(routes map[netip.Addr]Route) *RouteMap {
	m := &RouteMap{
		routes: routes,
		digest: digest(routes),
	}
	for _, r := range routes {
		m.size += r.size()
	}
	return m
}

// Get returns the route to dst.
func (m *RouteMap) Get(dst netip.Addr) (Route, bool) {
	r, ok := m.routes[dst]
	return r, ok
}

// Len returns the number of cached routes.
func (m *RouteMap) Len() int {
	return len(m.routes)
}

// Digest returns the xxhash digest of the snapshot contents.
func (m *RouteMap) Digest() uint64 {
	return m.digest
}

// Size returns the estimated memory footprint in bytes.
func (m *RouteMap) Size() uint64 {
	return m.size
}

// Routes returns the cached routes ordered by destination.
func (m *RouteMap) Routes() []Route {
	out := slices.Collect(maps.Values(m.routes))
	slices.SortFunc(out, func(a, b Route) int {
		return a.Destination.Compare(b.Destination)
	})
	return out
}

// Verify reports whether the snapshot still matches its digest and has not
// been released.
func (m *RouteMap) Verify() bool {
	return !m.released.Load() && digest(m.routes) == m.digest
}

// Released reports whether the snapshot has been reclaimed.
func (m *RouteMap) Released() bool {
	return m.released.Load()
}

// with returns a copy of m holding route.
func (m *RouteMap) with(route Route) *RouteMap {
	next := maps.Clone(m.routes)
	if next == nil {
		next = make(map[netip.Addr]Route, 1)
	}
	next[route.Destination] = route
	return newRouteMap(next)
}

// without returns a copy of m lacking dst.
func (m *RouteMap) without(dst netip.Addr) *RouteMap {
	next := maps.Clone(m.routes)
	delete(next, dst)
	return newRouteMap(next)
}

// release drops the contents of a snapshot no reader can observe anymore.
func (m *RouteMap) release() {
	m.released.Store(true)
	clear(m.routes)
}

func digest(routes map[netip.Addr]Route) uint64 {
	keys := slices.SortedFunc(maps.Keys(routes), func(a, b netip.Addr) int {
		return a.Compare(b)
	})

	h := xxhash.New()
	var mtu [8]byte
	for _, k := range keys {
		r := routes[k]
		_, _ = h.Write(r.Destination.AsSlice())
		_, _ = h.Write(r.Gateway.AsSlice())
		_, _ = h.WriteString(r.Interface)
		binary.BigEndian.PutUint64(mtu[:], uint64(r.MTU)) //nolint:gosec // bit pattern only
		_, _ = h.Write(mtu[:])
	}
	return h.Sum64()
}
