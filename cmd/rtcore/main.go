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
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/rtcore/rtcore/pkg/rcu"
	"github.com/rtcore/rtcore/pkg/routecache"
	"github.com/rtcore/rtcore/pkg/sched"
	"github.com/rtcore/rtcore/pkg/workload"
)

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := klog.FromContext(ctx)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	failed, err := run(ctx, *configPath)
	if err != nil {
		logger.Error(err, "Failed to run rtcore self-test")
		klog.FlushAndExit(klog.ExitFlushTimeout, 2)
	}
	klog.Flush()
	if failed {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) (bool, error) {
	logger := klog.FromContext(ctx)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return false, err
	}

	s, err := sched.New(ctx, cfg.Scheduler)
	if err != nil {
		return false, fmt.Errorf("failed to create scheduler: %w", err)
	}

	logger.Info("Running scheduler scenarios...")
	report, err := workload.Run(ctx, s, cfg.Workload, os.Stdout)
	if err != nil {
		return false, fmt.Errorf("failed to run scenarios: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return false, err
	}

	logger.Info("Exercising route cache...")
	if err := runRouteCache(ctx, cfg); err != nil {
		return false, fmt.Errorf("route cache: %w", err)
	}

	return report.Failed(), nil
}

func runRouteCache(ctx context.Context, cfg *Config) error {
	logger := klog.FromContext(ctx)
	domain := rcu.NewDomain(cfg.RCU)

	var resolver routecache.Resolver = routecache.NewStaticResolver(cfg.Routes...)
	var redisResolver *routecache.RedisResolver
	if cfg.Redis != nil {
		var err error
		redisResolver, err = routecache.NewRedisResolver(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisResolver.Close()

		for _, r := range cfg.Routes {
			if err := redisResolver.SetRoute(ctx, r); err != nil {
				return err
			}
		}
		resolver = redisResolver
	}

	cache, err := routecache.NewCache(ctx, domain, resolver, cfg.RouteCache)
	if err != nil {
		return err
	}

	invalidatorCtx, stopInvalidator := context.WithCancel(ctx)
	defer stopInvalidator()
	if redisResolver != nil {
		go routecache.NewInvalidator(redisResolver, cache).Start(invalidatorCtx)
	}

	for _, r := range cfg.Routes {
		got, err := cache.Lookup(ctx, r.Destination)
		if err != nil {
			logger.Error(err, "Lookup failed", "destination", r.Destination)
			continue
		}
		fmt.Fprintf(os.Stdout, "route: %s\n", got)
	}

	snapshot := cache.Snapshot()
	logger.Info("Route cache snapshot", "routes", snapshot.Value().Len(),
		"digest", snapshot.Value().Digest())
	snapshot.Release()

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return cache.Close(closeCtx)
}
