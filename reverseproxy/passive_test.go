// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestPassiveEvaluator(clock Clock) (*PassiveEvaluator, *HealthUpdater) {
	updater := NewHealthUpdater(nil, clock)
	policies := NewPolicyRegistry(nil, map[string]PassivePolicy{
		DefaultPassivePolicyName: TransportFailureRatePolicy{},
	})
	return NewPassiveEvaluator(clock, policies, updater, nil), updater
}

func pcWithError(kind ForwarderError) *ProxyContext {
	pc := &ProxyContext{Features: &FeatureBag{}}
	if kind != ErrNone {
		pc.setError(kind, nil)
	}
	return pc
}

// TestPassiveEvaluatorClientCancellationNeverCountsAgainstDestination
// checks that a canceled request is recorded as an observation but not a
// failure.
func TestPassiveEvaluatorClientCancellationNeverCountsAgainstDestination(t *testing.T) {
	clock := NewManualClock(int64(time.Second))
	ev, _ := newTestPassiveEvaluator(clock)

	cluster := NewCluster("c1", ClusterConfigSnapshot{
		PassiveHealthCheck: PassiveHealthCheckConfig{
			DetectionWindowSize: 10 * time.Second,
			MinimalTotalCount:   1,
			DefaultRateLimit:    0.5,
		},
	})
	dest := NewDestination("d1", "http://a")

	pc := pcWithError(ErrRequestCanceled)
	ev.requestProxied(pc, cluster, dest)

	total, failed := dest.slidingCounter(clock).snapshot()
	assert.Equal(t, uint32(1), total)
	assert.Equal(t, uint32(0), failed)
	assert.Equal(t, HealthHealthy, dest.Health())
}

func TestPassiveEvaluatorMarksUnhealthyOnceRateLimitReached(t *testing.T) {
	clock := NewManualClock(int64(time.Second))
	ev, _ := newTestPassiveEvaluator(clock)

	cluster := NewCluster("c1", ClusterConfigSnapshot{
		PassiveHealthCheck: PassiveHealthCheckConfig{
			DetectionWindowSize: 10 * time.Second,
			MinimalTotalCount:   1,
			DefaultRateLimit:    0.5,
			ReactivationPeriod:  time.Second,
		},
	})
	dest := NewDestination("d1", "http://a")

	ev.requestProxied(pcWithError(ErrRequest), cluster, dest)
	assert.Equal(t, HealthUnhealthy, dest.Health())
}

func TestPassiveEvaluatorReactivationPeriodIsMaxOfConfiguredAndWindow(t *testing.T) {
	clock := NewManualClock(int64(time.Second))
	ev, _ := newTestPassiveEvaluator(clock)

	cluster := NewCluster("c1", ClusterConfigSnapshot{
		PassiveHealthCheck: PassiveHealthCheckConfig{
			DetectionWindowSize: 50 * time.Second,
			MinimalTotalCount:   1,
			DefaultRateLimit:    0.5,
			ReactivationPeriod:  10 * time.Second,
		},
	})
	dest := NewDestination("d1", "http://a")

	ev.requestProxied(pcWithError(ErrRequest), cluster, dest)
	assert.Equal(t, HealthUnhealthy, dest.Health())

	// 10s after the failure the destination should still be excluded,
	// since the window size (50s) dominates the configured reactivation
	// period (10s).
	clock.Advance(10 * time.Second)
	assert.Equal(t, HealthUnhealthy, dest.Health())

	clock.Advance(40 * time.Second)
	assert.Equal(t, HealthUnknown, dest.Health())
}

func TestPassiveEvaluatorSuccessDoesNotCountAsFailure(t *testing.T) {
	clock := NewManualClock(int64(time.Second))
	ev, _ := newTestPassiveEvaluator(clock)

	cluster := NewCluster("c1", ClusterConfigSnapshot{
		PassiveHealthCheck: PassiveHealthCheckConfig{
			DetectionWindowSize: 10 * time.Second,
			MinimalTotalCount:   1,
			DefaultRateLimit:    0.5,
		},
	})
	dest := NewDestination("d1", "http://a")

	ev.requestProxied(pcWithError(ErrNone), cluster, dest)
	assert.Equal(t, HealthHealthy, dest.Health())
}
