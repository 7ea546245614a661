// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// RequestTransformer rewrites an outbound request before it is sent to a
// destination (e.g. path rewriting, header injection). It is supplied by
// the route — out of scope for this core beyond invoking it.
type RequestTransformer func(dst *http.Request, src *http.Request)

// RouteInfo is the route-level configuration the surrounding pipeline
// attaches to a request.
type RouteInfo struct {
	RouteID     string
	Transformer RequestTransformer
}

// FeatureBag is the settable bag the pipeline context exposes for
// cross-stage signaling. This core only ever writes ForwarderErrorFeature
// into it.
type FeatureBag struct {
	ForwarderError *ForwarderErrorFeature
}

// ProxyContext is the per-request state the surrounding pipeline hands to
// Forward, and that PassiveEvaluator later reads back.
type ProxyContext struct {
	// Request is the inbound request being proxied. Its Context() carries
	// client-cancellation: a canceled Request.Context() is how this core
	// learns the client went away.
	Request        *http.Request
	ResponseWriter http.ResponseWriter

	Cluster *Cluster
	Route   RouteInfo

	// AvailableDestinations is the pre-filtered candidate set produced by
	// upstream load-balancing/affinity/health stages. A nil slice (as
	// opposed to an empty, non-nil one) means those stages never ran —
	// a pipeline invariant violation.
	AvailableDestinations []*Destination

	Features *FeatureBag

	// ProxiedDestination is set by Forward once a destination is chosen,
	// and read by PassiveEvaluator after Forward returns.
	ProxiedDestination *Destination

	Span trace.Span
}

// NewProxyContext returns a ProxyContext with an initialized Features bag.
func NewProxyContext(r *http.Request, w http.ResponseWriter, cluster *Cluster, route RouteInfo, available []*Destination) *ProxyContext {
	return &ProxyContext{
		Request:               r,
		ResponseWriter:        w,
		Cluster:                cluster,
		Route:                  route,
		AvailableDestinations: available,
		Features:               &FeatureBag{},
	}
}

// setError records a ForwarderError on the context's feature bag.
func (pc *ProxyContext) setError(kind ForwarderError, cause error) {
	pc.Features.ForwarderError = &ForwarderErrorFeature{Error: kind, Cause: cause}
}
