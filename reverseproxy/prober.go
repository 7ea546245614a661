// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProbingRequestFactory builds the outbound health-check request for a
// destination — path, host header and any other construction detail
// belongs to configuration, out of scope for this core.
type ProbingRequestFactory interface {
	NewRequest(ctx context.Context, cluster *Cluster, dest *Destination) (*http.Request, error)
}

// DestinationProbingResult is one destination's outcome within a probe
// batch.
type DestinationProbingResult struct {
	Destination *Destination
	StatusCode  int
	Err         error
}

// probeFailed reports whether this probe counts as a failure for
// ConsecutiveFailuresPolicy purposes: a transport error, or a response
// status code outside [200,400), mirroring
// staticUpstream.healthCheck's own status-code bounds.
func (r DestinationProbingResult) probeFailed() bool {
	if r.Err != nil {
		return true
	}
	return r.StatusCode < 200 || r.StatusCode >= 400
}

// ActiveProber runs one probe batch across every destination in a
// cluster concurrently.
//
// Grounded on caddyhttp/proxy/upstream.go's staticUpstream.healthCheck:
// same "one HTTP GET per host, judge success by status code" shape,
// generalized from a sequential per-host loop to a bounded concurrent
// fan-out via golang.org/x/sync/errgroup, matching this core's existing
// deliberate pattern (monitor) of using errgroup purely for
// goroutine lifecycle management, never error propagation: one
// destination's probe failing must never cancel its siblings' in-flight
// probes.
type ActiveProber struct {
	Client  *http.Client
	Factory ProbingRequestFactory
	Logger  *zap.Logger
}

// NewActiveProber constructs an ActiveProber. A nil client becomes
// http.DefaultClient, a nil logger becomes zap.NewNop().
func NewActiveProber(client *http.Client, factory ProbingRequestFactory, logger *zap.Logger) *ActiveProber {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActiveProber{Client: client, Factory: factory, Logger: logger}
}

// ProbeAll probes every destination in cluster's registry concurrently,
// bounded by cluster.Config.ActiveHealthCheck.Timeout per probe, and
// returns one DestinationProbingResult per destination. The batch is
// tagged with a fresh run ID purely so its log lines can be correlated.
func (p *ActiveProber) ProbeAll(ctx context.Context, cluster *Cluster) []DestinationProbingResult {
	destinations := cluster.Registry().All()
	results := make([]DestinationProbingResult, len(destinations))

	runID := uuid.NewString()
	timeout := cluster.Config.ActiveHealthCheck.timeout()

	g, gctx := errgroup.WithContext(ctx)
	for i, dest := range destinations {
		i, dest := i, dest
		g.Go(func() error {
			results[i] = p.probeOne(gctx, runID, cluster, dest, timeout)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *ActiveProber) probeOne(ctx context.Context, runID string, cluster *Cluster, dest *Destination, timeout time.Duration) DestinationProbingResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := p.Factory.NewRequest(ctx, cluster, dest)
	if err != nil {
		p.Logger.Warn("failed to build active health-check request",
			zap.String("probe_run_id", runID),
			zap.String("cluster_id", cluster.ID),
			zap.String("destination_id", dest.ID),
			zap.Error(err))
		return DestinationProbingResult{Destination: dest, Err: err}
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		p.Logger.Debug("active health-check probe failed",
			zap.String("probe_run_id", runID),
			zap.String("cluster_id", cluster.ID),
			zap.String("destination_id", dest.ID),
			zap.Error(err))
		return DestinationProbingResult{Destination: dest, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return DestinationProbingResult{Destination: dest, StatusCode: resp.StatusCode}
}
