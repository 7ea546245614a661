// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// HTTPClient is what the Forwarder calls into to actually send bytes to a
// destination. This core specifies only the shape of the call, not the
// client's internals — that's an external collaborator's concern.
type HTTPClient interface {
	// RoundTrip proxies pc.Request to destAddr and writes the response to
	// pc.ResponseWriter, applying transform first. It returns ErrNone on
	// success, or the ForwarderError kind describing how it failed.
	RoundTrip(ctx context.Context, pc *ProxyContext, destAddr string, transform RequestTransformer) ForwarderError
}

// defaultHTTPClient is the stdlib-backed default HTTPClient. The client's
// internals are out of scope for this core, so this wraps
// net/http/httputil.ReverseProxy rather than reimplementing
// streaming/body-copy logic — the same relationship
// caddyhttp/proxy/reverseproxy.go has to the same stdlib type.
type defaultHTTPClient struct {
	transport http.RoundTripper
}

// NewDefaultHTTPClient returns an HTTPClient backed by
// net/http/httputil.ReverseProxy, using transport (or http.DefaultTransport
// if nil) to dial destinations.
func NewDefaultHTTPClient(transport http.RoundTripper) HTTPClient {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &defaultHTTPClient{transport: transport}
}

func (c *defaultHTTPClient) RoundTrip(ctx context.Context, pc *ProxyContext, destAddr string, transform RequestTransformer) ForwarderError {
	target, err := url.Parse(destAddr)
	if err != nil {
		return ErrRequest
	}

	var proxyErr error
	rp := &httputil.ReverseProxy{
		Transport: c.transport,
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			if transform != nil {
				transform(req, pc.Request)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			proxyErr = err
		},
	}

	req := pc.Request.Clone(ctx)
	rp.ServeHTTP(pc.ResponseWriter, req)

	if proxyErr == nil {
		return ErrNone
	}
	return classifyTransportError(ctx, proxyErr)
}

// classifyTransportError maps a transport-level error to a ForwarderError
// kind, distinguishing client cancellation from destination failure.
func classifyTransportError(ctx context.Context, err error) ForwarderError {
	if ctx.Err() == context.Canceled {
		return ErrRequestCanceled
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrRequestTimedOut
	}
	return ErrRequest
}
