// Copyright 2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpdisco

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (c *Cache) startRefresh() {
	if c.refreshWindow <= 0 {
		close(c.doneSignal)
		return
	}
	c.logger.Debug("starting background refresh",
		zap.Duration("window", c.refreshWindow),
		zap.Int("max_concurrent_updates", c.maxConcurrentUpdates))
	go c.refreshLoop()
}

func (c *Cache) refreshLoop() {
	defer close(c.doneSignal)

	timer := c.clock.NewTimer(c.refreshWindow)
	for {
		select {
		case <-c.ctx.Done():
			timer.Stop()
			c.logger.Debug("background refresh stopped")
			return
		case <-timer.Chan():
		}
		c.refreshAll()
		timer.Reset(c.refreshWindow)
	}
}

// refreshAll re-resolves every service that is in the cache when the
// cycle starts. It never adds services. Failures leave the previous
// endpoints in place and are only logged.
func (c *Cache) refreshAll() {
	services := c.Services()
	if len(services) > 0 {
		var failed atomic.Int64
		var grp errgroup.Group
		grp.SetLimit(c.maxConcurrentUpdates)
		for _, service := range services {
			grp.Go(func() error {
				if _, err := c.Resolve(c.ctx, service); err != nil {
					failed.Add(1)
					if c.ctx.Err() == nil {
						c.logger.Warn("refresh failed; keeping cached endpoints",
							zap.String("service", service),
							zap.Error(err))
					}
				}
				return nil
			})
		}
		_ = grp.Wait()
		c.metrics.observeRefreshCycle(int(failed.Load()))
		c.logger.Debug("refresh cycle complete",
			zap.Int("services", len(services)),
			zap.Int64("failed", failed.Load()))
	} else {
		c.metrics.observeRefreshCycle(0)
	}
	if c.cycleHook != nil {
		c.cycleHook(len(services))
	}
}
