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

package main

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/rtcore/rtcore/pkg/rcu"
	"github.com/rtcore/rtcore/pkg/routecache"
	"github.com/rtcore/rtcore/pkg/sched"
	"github.com/rtcore/rtcore/pkg/workload"
)

const envRedisAddr = "REDIS_ADDR"

// Config holds the configuration of the rtcore self-test.
type Config struct {
	Scheduler  *sched.Config      `json:"scheduler"`
	Workload   *workload.Config   `json:"workload"`
	RCU        *rcu.DomainConfig  `json:"rcu"`
	RouteCache *routecache.Config `json:"routeCache"`
	// Redis enables the Redis routing table. If nil, Routes are served
	// from memory.
	Redis *routecache.RedisResolverConfig `json:"redis,omitempty"`
	// Routes seed the routing table and are looked up through the cache.
	Routes []routecache.Route `json:"routes"`
}

// NewDefaultConfig returns a default configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Scheduler:  sched.DefaultConfig(),
		Workload:   workload.DefaultConfig(),
		RCU:        rcu.DefaultDomainConfig(),
		RouteCache: routecache.DefaultConfig(),
	}
}

// loadConfig reads a YAML configuration file over the defaults. An empty
// path yields the defaults. REDIS_ADDR enables the Redis routing table.
func loadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if addr := os.Getenv(envRedisAddr); addr != "" {
		if cfg.Redis == nil {
			cfg.Redis = routecache.DefaultRedisResolverConfig()
		}
		cfg.Redis.Address = addr
	}

	return cfg, nil
}
