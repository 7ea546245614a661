// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pathFactory builds a GET request to dest.Address plus a fixed path,
// standing in for the config-driven factory this core leaves external.
type pathFactory struct{ path string }

func (f pathFactory) NewRequest(ctx context.Context, cluster *Cluster, dest *Destination) (*http.Request, error) {
	u, err := url.Parse(dest.Address + f.path)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func TestDestinationProbingResultFailureClassification(t *testing.T) {
	assert.True(t, DestinationProbingResult{StatusCode: 500}.probeFailed())
	assert.True(t, DestinationProbingResult{StatusCode: 199}.probeFailed())
	assert.False(t, DestinationProbingResult{StatusCode: 200}.probeFailed())
	assert.False(t, DestinationProbingResult{StatusCode: 399}.probeFailed())
	assert.True(t, DestinationProbingResult{Err: context.DeadlineExceeded}.probeFailed())
}

func TestActiveProberProbesEveryDestinationIndependently(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	cluster := NewCluster("c1", ClusterConfigSnapshot{
		ActiveHealthCheck: ActiveHealthCheckConfig{Enabled: true, Path: "/health"},
	})
	d1 := NewDestination("healthy", healthy.URL)
	d2 := NewDestination("unhealthy", unhealthy.URL)
	cluster.Registry().Add(d1)
	cluster.Registry().Add(d2)

	prober := NewActiveProber(http.DefaultClient, pathFactory{path: "/health"}, nil)
	results := prober.ProbeAll(context.Background(), cluster)

	require.Len(t, results, 2)
	byID := map[string]DestinationProbingResult{}
	for _, r := range results {
		byID[r.Destination.ID] = r
	}
	assert.False(t, byID["healthy"].probeFailed())
	assert.True(t, byID["unhealthy"].probeFailed())
}

func TestActiveProberSurvivesRequestFactoryError(t *testing.T) {
	cluster := NewCluster("c1", ClusterConfigSnapshot{ActiveHealthCheck: ActiveHealthCheckConfig{Enabled: true}})
	d1 := NewDestination("bad", "not-a-valid-host-at-all")
	cluster.Registry().Add(d1)

	factory := badFactory{}
	prober := NewActiveProber(http.DefaultClient, factory, nil)
	results := prober.ProbeAll(context.Background(), cluster)

	require.Len(t, results, 1)
	assert.True(t, results[0].probeFailed())
	assert.Error(t, results[0].Err)
}

// TestActiveProberUnsetTimeoutResolvesToDefault checks that a cluster
// with no explicit ActiveHealthCheck.Timeout doesn't get an unbounded
// probe: the zero value resolves through .timeout() to
// defaultActiveCheckTimeout, not to "no deadline at all".
func TestActiveProberUnsetTimeoutResolvesToDefault(t *testing.T) {
	assert.Equal(t, defaultActiveCheckTimeout, ActiveHealthCheckConfig{}.timeout())
}

// TestActiveProberConfiguredTimeoutBoundsASlowProbe checks that an
// explicit Timeout cuts off a probe against a destination that never
// responds, rather than hanging the batch.
func TestActiveProberConfiguredTimeoutBoundsASlowProbe(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()

	cluster := NewCluster("c1", ClusterConfigSnapshot{
		ActiveHealthCheck: ActiveHealthCheckConfig{Enabled: true, Timeout: 10 * time.Millisecond},
	})
	dest := NewDestination("d1", slow.URL)
	cluster.Registry().Add(dest)

	prober := NewActiveProber(http.DefaultClient, pathFactory{path: "/health"}, nil)
	results := prober.ProbeAll(context.Background(), cluster)

	require.Len(t, results, 1)
	assert.True(t, results[0].probeFailed())
}

type badFactory struct{}

func (badFactory) NewRequest(ctx context.Context, cluster *Cluster, dest *Destination) (*http.Request, error) {
	return nil, context.DeadlineExceeded
}
