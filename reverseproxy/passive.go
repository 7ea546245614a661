// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"go.uber.org/zap"
)

// PassiveEvaluator is invoked by the surrounding pipeline once per
// completed forwarded request — never by the Forwarder itself, keeping
// the hot path minimal. It turns the request's recorded outcome into a
// SlidingCounter observation and, through the configured PassivePolicy, a
// health verdict applied via HealthUpdater.
//
// Has no close analog elsewhere in this codebase: caddyhttp/proxy's own
// failure tracking is a plain consecutive-failure counter incremented
// from reverseproxy.go's error callback (UpstreamHost.Fails), so this
// evaluator's rate-over-a-window logic is built directly from the
// sliding-window algorithm, wired to the same
// Clock/PolicyRegistry/HealthUpdater collaborators the rest of this core
// shares.
type PassiveEvaluator struct {
	Clock    Clock
	Policies *PolicyRegistry
	Updater  *HealthUpdater
	Logger   *zap.Logger
}

// NewPassiveEvaluator constructs a PassiveEvaluator. A nil logger
// becomes zap.NewNop().
func NewPassiveEvaluator(clock Clock, policies *PolicyRegistry, updater *HealthUpdater, logger *zap.Logger) *PassiveEvaluator {
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PassiveEvaluator{Clock: clock, Policies: policies, Updater: updater, Logger: logger}
}

// requestProxied reads pc's recorded outcome for the request just
// forwarded to dest, feeds dest's SlidingCounter, consults the cluster's
// PassivePolicy, and applies the resulting verdict through HealthUpdater.
// pc.ProxiedDestination need not equal dest for the caller to invoke
// this — callers pass dest explicitly since pc.ProxiedDestination may be
// nil on a no-destination-available exit.
func (p *PassiveEvaluator) requestProxied(pc *ProxyContext, cluster *Cluster, dest *Destination) {
	failed := p.destinationFailed(pc)

	cfg := cluster.Config.PassiveHealthCheck
	rate := dest.slidingCounter(p.Clock).addNew(failed, uint32(cfg.DetectionWindowSize.Seconds()), cfg.MinimalTotalCount)

	policy, err := p.Policies.Passive(cfg.Policy)
	if err != nil {
		p.Logger.Error("cannot evaluate passive health for destination",
			zap.String("cluster_id", cluster.ID),
			zap.String("destination_id", dest.ID),
			zap.Error(err))
		return
	}

	verdict := policy.Evaluate(rate, cluster.RateLimit())

	reactivationPeriod := cfg.ReactivationPeriod
	if cfg.DetectionWindowSize > reactivationPeriod {
		reactivationPeriod = cfg.DetectionWindowSize
	}

	p.Updater.setPassive(cluster, dest, verdict, reactivationPeriod)
}

// destinationFailed applies the failure-determination rule: no recorded
// error is success; client cancellation is never attributed to the
// destination; everything else is judged by
// ForwarderError.destinationFailure.
func (p *PassiveEvaluator) destinationFailed(pc *ProxyContext) bool {
	feature := pc.Features.ForwarderError
	if feature == nil {
		return false
	}
	if feature.Error == ErrRequestCanceled {
		return false
	}
	return feature.Error.destinationFailure()
}
