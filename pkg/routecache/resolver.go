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
	"errors"
	"fmt"
	"net/netip"
)

// ErrNoRoute is returned when the routing table has no route to a host.
var ErrNoRoute = errors.New("routecache: no route to host")

// Resolver looks up routes in the full routing table.
type Resolver interface {
	// Resolve returns the route to dst, or an error wrapping ErrNoRoute.
	Resolve(ctx context.Context, dst netip.Addr) (Route, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, dst netip.Addr) (Route, error)

// Resolve calls f(ctx, dst).
func (f ResolverFunc) Resolve(ctx context.Context, dst netip.Addr) (Route, error) {
	return f(ctx, dst)
}

// StaticResolver resolves routes from a fixed table.
type StaticResolver struct {
	routes map[netip.Addr]Route
}

var _ Resolver = &StaticResolver{}

// NewStaticResolver creates a StaticResolver holding routes.
func NewStaticResolver(routes ...Route) *StaticResolver {
	table := make(map[netip.Addr]Route, len(routes))
	for _, r := range routes {
		table[r.Destination] = r
	}
	return &StaticResolver{routes: table}
}

func (s *StaticResolver) Resolve(_ context.Context, dst netip.Addr) (Route, error) {
	r, ok := s.routes[dst]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrNoRoute, dst)
	}
	return r, nil
}
