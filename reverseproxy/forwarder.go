// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Forwarder is the terminal request handler of the pipeline: it picks a
// destination from the already-filtered candidate set, forwards the
// request, and streams the response back.
//
// Grounded on caddyhttp/proxy/proxy.go's Proxy.ServeHTTP: the same shape
// of "select a host, bump its connection count with a guaranteed
// decrement, hand off to the backend client" — generalized to a
// random-only tie-break (no failover loop; forward-path retries are out
// of scope here) and a features-bag error report instead of an (int,
// error) return.
type Forwarder struct {
	Client HTTPClient
	Random RandomSource
	Logger *zap.Logger
}

// NewForwarder constructs a Forwarder with the given collaborators. A nil
// Logger becomes zap.NewNop(), a nil Random becomes the default
// process-wide source.
func NewForwarder(client HTTPClient, random RandomSource, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if random == nil {
		random = NewRandomSource()
	}
	return &Forwarder{Client: client, Random: random, Logger: logger}
}

// Forward selects a destination, forwards the request, and records the
// outcome. It never returns an error value: destination/transport
// failures are reported via pc.Features.ForwarderError, and the one
// genuine fatal condition — a pipeline invariant violation — is raised as
// a panic of type PipelineError, reserved for conditions the framework,
// not request traffic, is responsible for.
func (f *Forwarder) Forward(pc *ProxyContext) {
	if pc.AvailableDestinations == nil {
		panic(PipelineError{Reason: "availableDestinations is nil; upstream load-balancing stage did not run"})
	}

	clusterID := ""
	if pc.Cluster != nil {
		clusterID = pc.Cluster.ID
	}
	f.setSpanAttributes(pc, clusterID)

	dest := f.selectDestination(pc, clusterID)
	if dest == nil && len(pc.AvailableDestinations) > 0 {
		panic(PipelineError{Reason: "chosen destination is nil"})
	}
	if dest == nil {
		pc.ResponseWriter.WriteHeader(http.StatusServiceUnavailable)
		pc.setError(ErrNoAvailableDestinations, nil)
		f.Logger.Warn("no available destinations after load balancing for cluster",
			zap.String("cluster_id", clusterID))
		f.setSpanStatus(pc, ErrNoAvailableDestinations)
		return
	}

	pc.ProxiedDestination = dest

	f.acquire(pc.Cluster, dest)
	defer f.release(pc.Cluster, dest)

	result := f.Client.RoundTrip(pc.Request.Context(), pc, dest.Address, pc.Route.Transformer)
	if result != ErrNone {
		pc.setError(result, nil)
	}
	f.setSpanStatus(pc, result)
}

// selectDestination picks a destination from the candidate set: an empty
// set fails the request; a singleton is chosen outright; anything larger
// is a uniform-random pick over a process-wide RNG factory that yields a
// fresh RNG per call, logged as a configuration smell rather than failed.
func (f *Forwarder) selectDestination(pc *ProxyContext, clusterID string) *Destination {
	candidates := pc.AvailableDestinations
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	default:
		f.Logger.Warn("more than one destination available for cluster; choosing randomly",
			zap.String("cluster_id", clusterID))
		rng := f.Random.New()
		return candidates[rng.Intn(len(candidates))]
	}
}

// acquire increments cluster and destination concurrency counters.
func (f *Forwarder) acquire(c *Cluster, d *Destination) {
	if c != nil {
		c.concurrency.inc()
	}
	d.incConcurrency()
}

// release decrements them again. Forward defers this immediately after
// acquire so it always runs — on success, on a destination/transport
// error, and on client cancellation alike.
func (f *Forwarder) release(c *Cluster, d *Destination) {
	if c != nil {
		c.concurrency.dec()
	}
	d.decConcurrency()
}

func (f *Forwarder) setSpanAttributes(pc *ProxyContext, clusterID string) {
	if pc.Span == nil {
		return
	}
	pc.Span.SetAttributes(
		attribute.String("proxy.route_id", pc.Route.RouteID),
		attribute.String("proxy.cluster_id", clusterID),
	)
}

func (f *Forwarder) setSpanStatus(pc *ProxyContext, result ForwarderError) {
	if pc.Span == nil {
		return
	}
	if pc.ProxiedDestination != nil {
		pc.Span.SetAttributes(attribute.String("proxy.destination_id", pc.ProxiedDestination.ID))
	}
	if result == ErrNone {
		pc.Span.SetStatus(codes.Ok, "")
		return
	}
	pc.Span.SetStatus(codes.Error, result.String())
}
