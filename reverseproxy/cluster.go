// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// rateLimitMetadataKey is the cluster metadata entry read by the
// PassiveEvaluator's TransportFailureRate policy.
const rateLimitMetadataKey = "TransportFailureRateHealthPolicy.RateLimit"

// defaultActiveCheckInterval matches middleware/proxy/upstream.go's own
// fallback when an upstream's health check omits an interval.
const defaultActiveCheckInterval = 30 * time.Second

// defaultActiveCheckTimeout is the probe deadline used when a cluster
// doesn't configure one.
const defaultActiveCheckTimeout = 5 * time.Second

// ActiveHealthCheckConfig configures the ActiveProber/Scheduler for one
// cluster. A zero value means active health checking is disabled for the
// cluster.
type ActiveHealthCheckConfig struct {
	Enabled  bool          `json:"enabled,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Policy   string        `json:"policy,omitempty"`
	Path     string        `json:"path,omitempty"`
}

// interval returns the configured probe interval, or
// defaultActiveCheckInterval if unset.
func (c ActiveHealthCheckConfig) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return defaultActiveCheckInterval
}

// timeout returns the configured per-probe timeout, or
// defaultActiveCheckTimeout if unset.
func (c ActiveHealthCheckConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultActiveCheckTimeout
}

// PassiveHealthCheckConfig configures the PassiveEvaluator for one cluster.
type PassiveHealthCheckConfig struct {
	Policy              string        `json:"policy,omitempty"`
	DetectionWindowSize time.Duration `json:"detection_window_size,omitempty"`
	MinimalTotalCount   uint32        `json:"minimal_total_count,omitempty"`
	ReactivationPeriod  time.Duration `json:"reactivation_period,omitempty"`
	DefaultRateLimit    float64       `json:"default_rate_limit,omitempty"`
}

// ClusterConfigSnapshot is the immutable configuration view a Cluster
// carries, analogous to the host/policy settings parsed out of a
// caddyfile upstream block, but populated by an external config loader
// rather than parsed here.
type ClusterConfigSnapshot struct {
	HTTPClient         HTTPClient
	ActiveHealthCheck  ActiveHealthCheckConfig
	PassiveHealthCheck PassiveHealthCheckConfig
	Metadata           map[string]string
}

// Cluster is a logical group of interchangeable Destinations.
type Cluster struct {
	ID     string
	Config ClusterConfigSnapshot

	concurrency int64Counter

	registry *DestinationRegistry

	rateLimitOnce sync.Once
	rateLimit     float64
}

// int64Counter is a tiny atomic wrapper kept distinct from Destination's
// so Cluster's concurrency counter reads clearly in call sites
// (cluster.concurrency.inc() vs. destination.incConcurrency()).
type int64Counter struct{ v atomic.Int64 }

func (c *int64Counter) inc() { c.v.Add(1) }
func (c *int64Counter) dec() { c.v.Add(-1) }
func (c *int64Counter) load() int64 { return c.v.Load() }

// NewCluster constructs an empty Cluster.
func NewCluster(id string, cfg ClusterConfigSnapshot) *Cluster {
	return &Cluster{
		ID:       id,
		Config:   cfg,
		registry: newDestinationRegistry(),
	}
}

// Concurrency returns the cluster-wide in-flight request count.
func (c *Cluster) Concurrency() int64 { return c.concurrency.load() }

// Registry returns the cluster's DestinationRegistry.
func (c *Cluster) Registry() *DestinationRegistry { return c.registry }

// RateLimit returns the configured failure-rate threshold for this
// cluster: the metadata entry TransportFailureRateHealthPolicy.RateLimit
// if present and parseable, else the policy default. The parse result is
// cached on first read.
func (c *Cluster) RateLimit() float64 {
	c.rateLimitOnce.Do(func() {
		c.rateLimit = c.Config.PassiveHealthCheck.DefaultRateLimit
		raw, ok := c.Config.Metadata[rateLimitMetadataKey]
		if !ok {
			return
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			c.rateLimit = v
		}
	})
	return c.rateLimit
}

// DestinationRegistry holds a cluster's destinations and observes their
// add/change/remove lifecycle.
type DestinationRegistry struct {
	mu   sync.RWMutex
	byID map[string]*Destination
}

func newDestinationRegistry() *DestinationRegistry {
	return &DestinationRegistry{byID: make(map[string]*Destination)}
}

// Add registers a new Destination, or replaces the existing one with the
// same ID (an "add" or "change" notification from the external config
// subsystem).
func (r *DestinationRegistry) Add(d *Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[d.ID] = d
}

// Remove deletes a Destination by ID.
func (r *DestinationRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Get returns the Destination with the given ID, or nil.
func (r *DestinationRegistry) Get(id string) *Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// All returns a stable snapshot of every registered Destination.
func (r *DestinationRegistry) All() []*Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Destination, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	return out
}

// Eligible returns every registered Destination whose Health is not
// Unhealthy — the candidate set a load-balancing stage upstream of this
// core would filter down further before calling Forward.
func (r *DestinationRegistry) Eligible() []*Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Destination, 0, len(r.byID))
	for _, d := range r.byID {
		if d.Eligible() {
			out = append(out, d)
		}
	}
	return out
}
