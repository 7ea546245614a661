// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// scheduleEntry is one cluster's probe-batch ticker and callback.
type scheduleEntry struct {
	probe  func(ctx context.Context)
	ticker *time.Ticker
	stop   chan struct{}

	// initialDone is closed once this entry's run loop has been set in
	// motion — either because it was scheduled after the Scheduler had
	// already started, and ran its own first probe batch, or because
	// Scheduler.start activated it following an initial sweep performed
	// elsewhere. Callers that need a cluster's health known before serving
	// traffic wait on it: an active-enabled cluster has no eligible
	// destinations until its first probe batch, wherever it runs, completes.
	initialDone chan struct{}
}

// Scheduler owns one recurring probe-batch timer per cluster. Before
// start is called, clusters registered via schedule sit dormant — no
// probe callback fires — so a caller can run its own synchronous sweep
// across every cluster first and only then let the recurring timers take
// over, without that sweep racing a timer's own first fire.
//
// Grounded on caddyhttp/proxy/upstream.go's HealthCheckWorker: same
// ticker-plus-select-plus-stop-channel shape, generalized from one
// static, start-of-process interval to a per-cluster map so clusters can
// be added, have their interval changed, and be removed at runtime, which
// that single static Upstream list never needed to support.
type Scheduler struct {
	Logger *zap.Logger

	mu      sync.Mutex
	started bool
	entries map[string]*scheduleEntry
}

// NewScheduler constructs an empty Scheduler. A nil logger becomes
// zap.NewNop().
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{Logger: logger, entries: make(map[string]*scheduleEntry)}
}

// schedule registers a recurring probe batch for clusterID at the given
// interval. Scheduling an already-scheduled cluster replaces its timer —
// the case where a cluster's configuration changed from scratch, before
// changePeriod's narrower fast path applies. If the Scheduler has already
// been started, the batch runs immediately and then every interval, the
// same as it always has; otherwise it waits for start.
func (s *Scheduler) schedule(clusterID string, interval time.Duration, probe func(ctx context.Context)) {
	s.mu.Lock()
	if old, ok := s.entries[clusterID]; ok {
		s.stopEntry(old)
	}
	entry := &scheduleEntry{
		probe:       probe,
		ticker:      time.NewTicker(interval),
		stop:        make(chan struct{}),
		initialDone: make(chan struct{}),
	}
	s.entries[clusterID] = entry
	started := s.started
	s.mu.Unlock()

	if started {
		go s.run(entry, true)
	}
}

// start activates every currently-registered entry's recurring timer
// without re-running its probe batch — intended to be called once, after
// a caller has already swept every cluster synchronously — and marks the
// Scheduler started, so anything scheduled afterward runs its own initial
// batch immediately as schedule's doc describes. Calling start more than
// once is a no-op.
func (s *Scheduler) start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	entries := make([]*scheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		go s.run(e, false)
	}
}

// run optionally executes one probe batch, signals initialDone, then loops
// on the entry's ticker until stop fires.
func (s *Scheduler) run(entry *scheduleEntry, runInitial bool) {
	if runInitial {
		entry.probe(context.Background())
	}
	close(entry.initialDone)

	for {
		select {
		case <-entry.ticker.C:
			entry.probe(context.Background())
		case <-entry.stop:
			return
		}
	}
}

// changePeriod replaces the ticker interval for an already-scheduled
// cluster without re-running the initial probe batch — the narrower case
// where only the interval changed, not cluster membership. Changing the
// period of a cluster that isn't scheduled is a no-op: onClusterChanged
// may fire before the cluster's first schedule call completes.
func (s *Scheduler) changePeriod(clusterID string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[clusterID]
	if !ok {
		return
	}
	entry.ticker.Reset(interval)
}

// unschedule stops and forgets clusterID's timer, if any.
func (s *Scheduler) unschedule(clusterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[clusterID]
	if !ok {
		return
	}
	s.stopEntry(entry)
	delete(s.entries, clusterID)
}

func (s *Scheduler) stopEntry(entry *scheduleEntry) {
	entry.ticker.Stop()
	close(entry.stop)
}

// waitInitialProbe blocks until clusterID's run loop has been set in
// motion (for an entry scheduled after start, once its own first probe
// batch has completed; for an entry activated by start, as soon as start
// runs, with no probe of its own), or ctx is done, or the cluster was
// never scheduled.
func (s *Scheduler) waitInitialProbe(ctx context.Context, clusterID string) {
	s.mu.Lock()
	entry, ok := s.entries[clusterID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-entry.initialDone:
	case <-ctx.Done():
	}
}
