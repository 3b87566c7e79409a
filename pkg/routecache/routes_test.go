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

//nolint:testpackage // need to test snapshot derivation
package routecache

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoute(dst string) Route {
	return Route{
		Destination: netip.MustParseAddr(dst),
		Gateway:     netip.MustParseAddr("192.168.0.1"),
		Interface:   "eth0",
		MTU:         1500,
	}
}

func TestDigestIsOrderIndependent(t *testing.T) {
	a, b, c := testRoute("10.0.0.1"), testRoute("10.0.0.2"), testRoute("fd00::1")

	m1 := NewRouteMap(a, b, c)
	m2 := NewRouteMap(c, a, b)

	assert.Equal(t, m1.Digest(), m2.Digest())
	assert.Equal(t, m1.Size(), m2.Size())
	assert.Equal(t, []Route{a, b, c}, m2.Routes())
	assert.True(t, m1.Verify())
}

func TestDerivedSnapshotsLeaveOriginalIntact(t *testing.T) {
	a, b := testRoute("10.0.0.1"), testRoute("10.0.0.2")
	base := NewRouteMap(a)
	digest := base.Digest()

	grown := base.with(b)
	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, grown.Len())
	assert.NotEqual(t, digest, grown.Digest())
	assert.Greater(t, grown.Size(), base.Size())

	shrunk := grown.without(a.Destination)
	assert.Equal(t, 2, grown.Len())
	_, ok := shrunk.Get(a.Destination)
	assert.False(t, ok)

	assert.Equal(t, digest, base.Digest())
	assert.True(t, base.Verify())
	assert.True(t, grown.Verify())
}

func TestReplacingRouteChangesDigest(t *testing.T) {
	r := testRoute("10.0.0.1")
	m := NewRouteMap(r)

	r.MTU = 9000
	next := m.with(r)

	got, ok := next.Get(r.Destination)
	require.True(t, ok)
	assert.Equal(t, 9000, got.MTU)
	assert.Equal(t, 1, next.Len())
	assert.NotEqual(t, m.Digest(), next.Digest())
}

func TestReleaseClearsSnapshot(t *testing.T) {
	m := NewRouteMap(testRoute("10.0.0.1"))
	m.release()

	assert.True(t, m.Released())
	assert.False(t, m.Verify())
	assert.Equal(t, 0, m.Len())
}

func TestEmptySnapshot(t *testing.T) {
	m := NewRouteMap()

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, uint64(0), m.Size())
	assert.Empty(t, m.Routes())
	assert.True(t, m.Verify())

	next := m.without(netip.MustParseAddr("10.0.0.1"))
	assert.Equal(t, 0, next.Len())
}
