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

package routecache_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rtcore/rtcore/pkg/rcu"
	"github.com/rtcore/rtcore/pkg/routecache"
)

// RedisSuite runs a RouteCache over a RedisResolver backed by miniredis,
// with an Invalidator keeping the cache coherent with the table.
type RedisSuite struct {
	suite.Suite

	ctx      context.Context
	cancel   context.CancelFunc
	server   *miniredis.Miniredis
	resolver *routecache.RedisResolver
	cache    *routecache.RouteCache
}

func (s *RedisSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var err error
	s.server, err = miniredis.Run()
	s.Require().NoError(err)

	s.resolver, err = routecache.NewRedisResolver(s.ctx, &routecache.RedisResolverConfig{
		Address: s.server.Addr(),
	})
	s.Require().NoError(err)

	s.cache, err = routecache.New(s.ctx, rcu.NewDomain(nil), s.resolver, nil)
	s.Require().NoError(err)

	go routecache.NewInvalidator(s.resolver, s.cache).Start(s.ctx)

	s.Require().Eventually(func() bool {
		return s.server.PubSubNumSub(s.resolver.Channel())[s.resolver.Channel()] == 1
	}, 5*time.Second, time.Millisecond)
}

func (s *RedisSuite) TearDownTest() {
	s.cancel()
	s.NoError(s.cache.Close(context.Background()))
	s.NoError(s.resolver.Close())
	s.server.Close()
}

// drain waits until every announcement published so far has been applied.
// Announcements are delivered in order, so the removal of a marker route
// comes last.
func (s *RedisSuite) drain() {
	marker := route("203.0.113.1", 1500)
	s.Require().NoError(s.cache.Insert(s.ctx, marker))
	s.Require().NoError(s.resolver.DeleteRoute(s.ctx, marker.Destination))

	s.Require().Eventually(func() bool {
		ref := s.cache.Snapshot()
		defer ref.Release()
		_, ok := ref.Value().Get(marker.Destination)
		return !ok
	}, 5*time.Second, time.Millisecond)
}

func (s *RedisSuite) TestResolveRoundTrip() {
	r := route("10.0.0.1", 9000)
	s.Require().NoError(s.resolver.SetRoute(s.ctx, r))

	got, err := s.resolver.Resolve(s.ctx, r.Destination)
	s.Require().NoError(err)
	s.Equal(r, got)

	_, err = s.resolver.Resolve(s.ctx, netip.MustParseAddr("10.0.0.2"))
	s.ErrorIs(err, routecache.ErrNoRoute)
}

func (s *RedisSuite) TestRouteWithoutGateway() {
	r := routecache.Route{Destination: netip.MustParseAddr("fd00::7"), Interface: "lo", MTU: 65536}
	s.Require().NoError(s.resolver.SetRoute(s.ctx, r))

	got, err := s.resolver.Resolve(s.ctx, r.Destination)
	s.Require().NoError(err)
	s.Equal(r, got)
	s.False(got.Gateway.IsValid())
}

func (s *RedisSuite) TestTableEncoding() {
	r := route("10.0.0.1", 1400)
	s.Require().NoError(s.resolver.SetRoute(s.ctx, r))

	raw := s.server.HGet("rtcore:routes", "10.0.0.1")
	var rec map[string]any
	s.Require().NoError(msgpack.Unmarshal([]byte(raw), &rec))
	s.Equal("10.0.0.254", rec["gw"])
	s.Equal("eth0", rec["if"])
}

func (s *RedisSuite) TestLookupPopulatesCache() {
	r := route("10.0.0.1", 1500)
	s.Require().NoError(s.resolver.SetRoute(s.ctx, r))
	s.drain()

	got, err := s.cache.Lookup(s.ctx, r.Destination)
	s.Require().NoError(err)
	s.Equal(r, got)
	s.Equal(1, s.cache.Len())

	// served from the snapshot even once the table loses the route
	s.server.HDel("rtcore:routes", "10.0.0.1")
	got, err = s.cache.Lookup(s.ctx, r.Destination)
	s.Require().NoError(err)
	s.Equal(r, got)
}

func (s *RedisSuite) TestUpdateAnnouncementInvalidatesRoute() {
	r := route("10.0.0.1", 1500)
	s.Require().NoError(s.cache.Insert(s.ctx, r))

	r.MTU = 9000
	s.Require().NoError(s.resolver.SetRoute(s.ctx, r))
	s.Eventually(func() bool { return s.cache.Len() == 0 }, 5*time.Second, time.Millisecond)

	got, err := s.cache.Lookup(s.ctx, r.Destination)
	s.Require().NoError(err)
	s.Equal(9000, got.MTU)
}

func (s *RedisSuite) TestDeleteAnnouncementInvalidatesRoute() {
	r := route("10.0.0.1", 1500)
	s.Require().NoError(s.resolver.SetRoute(s.ctx, r))
	s.drain()
	_, err := s.cache.Lookup(s.ctx, r.Destination)
	s.Require().NoError(err)
	s.Require().Equal(1, s.cache.Len())

	s.Require().NoError(s.resolver.DeleteRoute(s.ctx, r.Destination))
	s.Eventually(func() bool { return s.cache.Len() == 0 }, 5*time.Second, time.Millisecond)

	_, err = s.cache.Lookup(s.ctx, r.Destination)
	s.ErrorIs(err, routecache.ErrNoRoute)
}

func (s *RedisSuite) TestFlushAnnouncementInvalidatesCache() {
	s.Require().NoError(s.cache.Insert(s.ctx, route("10.0.0.1", 1500)))
	s.Require().NoError(s.cache.Insert(s.ctx, route("10.0.0.2", 1500)))

	s.Require().NoError(s.resolver.Flush(s.ctx))
	s.Eventually(func() bool { return s.cache.Len() == 0 }, 5*time.Second, time.Millisecond)
}

func (s *RedisSuite) TestMalformedAnnouncementIsIgnored() {
	s.Require().NoError(s.cache.Insert(s.ctx, route("10.0.0.1", 1500)))

	s.server.Publish(s.resolver.Channel(), "not msgpack")
	payload, err := msgpack.Marshal(&routecache.Event{Op: routecache.EventDel, Destination: "nonsense"})
	s.Require().NoError(err)
	s.server.Publish(s.resolver.Channel(), string(payload))

	// a flush afterwards proves the subscriber survived both
	s.Require().NoError(s.resolver.Flush(s.ctx))
	s.Eventually(func() bool { return s.cache.Len() == 0 }, 5*time.Second, time.Millisecond)
}

// TestRedisSuite runs the RedisSuite using testify's suite runner.
func TestRedisSuite(t *testing.T) {
	suite.Run(t, new(RedisSuite))
}
