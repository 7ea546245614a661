// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ActiveHealthCheckMonitor is the top-level orchestrator for active
// health checking across every cluster the surrounding config subsystem
// knows about. It reacts to cluster lifecycle
// notifications, keeps the Scheduler's per-cluster timers in sync with
// each cluster's current ActiveHealthCheckConfig, and turns each probe
// batch into verdicts applied through HealthUpdater.
type ActiveHealthCheckMonitor struct {
	Prober    *ActiveProber
	Policies  *PolicyRegistry
	Updater   *HealthUpdater
	Scheduler *Scheduler
	Logger    *zap.Logger

	mu       sync.RWMutex
	clusters map[string]*Cluster

	initialProbeCompleted atomic.Bool
}

// NewActiveHealthCheckMonitor constructs an ActiveHealthCheckMonitor from
// its collaborators. A nil logger becomes zap.NewNop().
func NewActiveHealthCheckMonitor(prober *ActiveProber, policies *PolicyRegistry, updater *HealthUpdater, scheduler *Scheduler, logger *zap.Logger) *ActiveHealthCheckMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActiveHealthCheckMonitor{
		Prober:    prober,
		Policies:  policies,
		Updater:   updater,
		Scheduler: scheduler,
		Logger:    logger,
		clusters:  make(map[string]*Cluster),
	}
}

// onClusterAdded registers a newly-configured cluster and, if active
// health checking is enabled for it, schedules its recurring probe batch.
func (m *ActiveHealthCheckMonitor) onClusterAdded(cluster *Cluster) {
	m.mu.Lock()
	m.clusters[cluster.ID] = cluster
	m.mu.Unlock()

	if !cluster.Config.ActiveHealthCheck.Enabled {
		return
	}
	m.Scheduler.schedule(cluster.ID, cluster.Config.ActiveHealthCheck.interval(), func(ctx context.Context) {
		m.probeClusterByID(ctx, cluster.ID)
	})
}

// onClusterChanged reacts to a cluster's configuration being replaced
// wholesale (cluster config is treated as an immutable snapshot). It
// diffs the previous snapshot's active-health-check shape against the
// new one: enabling it from scratch schedules a fresh timer (which fires
// an immediate probe batch once the Scheduler has started); only the
// interval changing adjusts the
// existing timer in place; disabling it unschedules.
func (m *ActiveHealthCheckMonitor) onClusterChanged(cluster *Cluster) {
	m.mu.Lock()
	previous := m.clusters[cluster.ID]
	m.clusters[cluster.ID] = cluster
	m.mu.Unlock()

	wasEnabled := previous != nil && previous.Config.ActiveHealthCheck.Enabled
	nowEnabled := cluster.Config.ActiveHealthCheck.Enabled

	switch {
	case !nowEnabled:
		if wasEnabled {
			m.Scheduler.unschedule(cluster.ID)
		}
	case !wasEnabled:
		m.Scheduler.schedule(cluster.ID, cluster.Config.ActiveHealthCheck.interval(), func(ctx context.Context) {
			m.probeClusterByID(ctx, cluster.ID)
		})
	case previous.Config.ActiveHealthCheck.interval() != cluster.Config.ActiveHealthCheck.interval():
		m.Scheduler.changePeriod(cluster.ID, cluster.Config.ActiveHealthCheck.interval())
	}
}

// onClusterRemoved stops probing a cluster that no longer exists.
func (m *ActiveHealthCheckMonitor) onClusterRemoved(clusterID string) {
	m.Scheduler.unschedule(clusterID)
	m.mu.Lock()
	delete(m.clusters, clusterID)
	m.mu.Unlock()
}

// Start runs one synchronous probe batch against every currently-registered,
// active-enabled cluster, then activates each cluster's recurring Scheduler
// timer, then marks InitialProbeCompleted. The completion order matters:
// every destination's health has been established by checkHealthAll before
// any recurring timer — or a caller reading InitialProbeCompleted — can
// observe the monitor as ready, which is the guarantee that lets a caller
// hold off serving traffic against clusters whose destinations' health is
// entirely unknown. The latch is set even if checkHealthAll panics, so a
// single misbehaving policy or prober can't wedge startup forever.
func (m *ActiveHealthCheckMonitor) Start(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.Logger.Error("panic during initial active health check sweep", zap.Any("panic", r))
		}
		m.Scheduler.start()
		m.initialProbeCompleted.Store(true)
	}()
	m.checkHealthAll(ctx)
}

// InitialProbeCompleted reports whether Start's initial synchronous sweep
// and scheduler activation have both finished.
func (m *ActiveHealthCheckMonitor) InitialProbeCompleted() bool {
	return m.initialProbeCompleted.Load()
}

// checkHealthAll runs one probe batch, right now, against every
// currently-registered cluster with active health checking enabled, in
// parallel. Grounded on the same errgroup-without-error-propagation
// discipline as ActiveProber.ProbeAll: one cluster's
// probing failing must never prevent another cluster's batch from
// completing.
func (m *ActiveHealthCheckMonitor) checkHealthAll(ctx context.Context) {
	m.mu.RLock()
	clusters := make([]*Cluster, 0, len(m.clusters))
	for _, c := range m.clusters {
		if c.Config.ActiveHealthCheck.Enabled {
			clusters = append(clusters, c)
		}
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range clusters {
		c := c
		g.Go(func() error {
			m.probeCluster(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

// probeClusterByID re-reads the cluster by ID before probing, so a
// scheduled closure always probes the current configuration snapshot
// rather than whatever was current at schedule time.
func (m *ActiveHealthCheckMonitor) probeClusterByID(ctx context.Context, clusterID string) {
	m.mu.RLock()
	cluster, ok := m.clusters[clusterID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.probeCluster(ctx, cluster)
}

// probeCluster runs one probe batch against cluster, resolves its
// configured ActivePolicy, and applies the resulting verdicts. An
// unregistered policy name is fatal to this batch only — logged and
// skipped rather than propagated, since a recurring scheduler has no
// caller to propagate to.
func (m *ActiveHealthCheckMonitor) probeCluster(ctx context.Context, cluster *Cluster) {
	policy, err := m.Policies.Active(cluster.Config.ActiveHealthCheck.Policy)
	if err != nil {
		m.Logger.Error("cannot run active health check batch",
			zap.String("cluster_id", cluster.ID),
			zap.Error(err))
		return
	}

	results := m.Prober.ProbeAll(ctx, cluster)
	verdicts := policy.Evaluate(cluster, results)
	m.Updater.setActive(cluster, verdicts)
}
