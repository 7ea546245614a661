// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"time"

	"go.uber.org/zap"
)

// HealthVerdict is what an ActivePolicy or PassivePolicy hands back for
// one destination: a health state, plus — for Unhealthy — how long the
// destination should stay excluded before HealthUpdater reconsiders it.
type HealthVerdict struct {
	Health             Health
	ReactivationPeriod time.Duration
}

// HealthUpdater is the single writer of Destination.Health: everything
// else only reads it. It applies verdicts from both the active prober
// and the passive evaluator, and owns the reactivation timer that
// returns an Unhealthy destination to HealthUnknown once its period
// elapses.
//
// Grounded on caddyhttp/proxy/upstream.go's healthCheckWorker combined
// with UpstreamHost.Unhealthy: that code flips a host back to healthy by
// letting MaxFails decay with time via periodic re-checks, while this
// core is told explicitly when a destination reactivates, so that
// implicit decay becomes an explicit Clock.AfterFunc per destination, reset
// rather than accumulated on a repeated Unhealthy verdict.
type HealthUpdater struct {
	Logger *zap.Logger
	Clock  Clock
}

// NewHealthUpdater constructs a HealthUpdater. A nil logger becomes
// zap.NewNop(); a nil clock becomes NewClock().
func NewHealthUpdater(logger *zap.Logger, clock Clock) *HealthUpdater {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewClock()
	}
	return &HealthUpdater{Logger: logger, Clock: clock}
}

// setPassive applies one PassivePolicy verdict for a single destination.
// reactivationPeriod is computed by the caller (PassiveEvaluator:
// max(cluster.reactivationPeriod, detectionWindowSize)) rather than
// carried on the verdict itself, since the passive path's reactivation
// period depends on the detection window, not on the policy.
func (u *HealthUpdater) setPassive(cluster *Cluster, dest *Destination, verdict HealthVerdict, reactivationPeriod time.Duration) {
	verdict.ReactivationPeriod = reactivationPeriod
	u.apply(cluster, dest, verdict)
}

// setActive applies one probe batch's worth of ActivePolicy verdicts,
// each already carrying its own ReactivationPeriod.
func (u *HealthUpdater) setActive(cluster *Cluster, verdicts []DestinationVerdict) {
	for _, v := range verdicts {
		u.apply(cluster, v.Destination, v.Verdict)
	}
}

// apply is the single code path both setPassive and setActive funnel
// through, so the reset-not-cumulative reactivation-timer discipline is
// enforced exactly once.
func (u *HealthUpdater) apply(cluster *Cluster, dest *Destination, verdict HealthVerdict) {
	clusterID := ""
	if cluster != nil {
		clusterID = cluster.ID
	}

	dest.mu.Lock()
	defer dest.mu.Unlock()

	if dest.reactivationCancel != nil {
		dest.reactivationCancel()
		dest.reactivationCancel = nil
	}

	switch verdict.Health {
	case HealthUnhealthy:
		dest.health.Store(int32(HealthUnhealthy))
		period := verdict.ReactivationPeriod
		dest.reactivationCancel = u.Clock.AfterFunc(period, func() {
			u.reactivate(dest)
		})
		u.Logger.Info("destination marked unhealthy",
			zap.String("cluster_id", clusterID),
			zap.String("destination_id", dest.ID),
			zap.Duration("reactivation_period", period))
	default:
		dest.health.Store(int32(HealthHealthy))
		u.Logger.Debug("destination marked healthy",
			zap.String("cluster_id", clusterID),
			zap.String("destination_id", dest.ID))
	}
}

// reactivate returns a destination to HealthUnknown once its
// reactivation period has elapsed without an intervening verdict. A
// destination only ever leaves Unhealthy this way or via a fresh Healthy
// verdict — never on its own.
func (u *HealthUpdater) reactivate(dest *Destination) {
	dest.mu.Lock()
	defer dest.mu.Unlock()
	if dest.health.Load() != int32(HealthUnhealthy) {
		return
	}
	dest.health.Store(int32(HealthUnknown))
	dest.reactivationCancel = nil
	u.Logger.Debug("destination reactivated", zap.String("destination_id", dest.ID))
}
