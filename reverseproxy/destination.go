// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"sync"
	"sync/atomic"
)

// Health is a destination's current eligibility for candidate selection.
type Health int32

const (
	// HealthUnknown means no verdict has been recorded yet, or a prior
	// Unhealthy verdict's reactivation period has elapsed.
	HealthUnknown Health = iota
	HealthHealthy
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Destination is one concrete backend endpoint within a Cluster.
//
// Concurrency counter and health are read far more often than written (on
// every candidate-set build and every forwarded request), so both use
// atomics rather than a lock: a per-connection counter in the style of
// caddyhttp/proxy/upstream.go's UpstreamHost.Conns, and a single-writer,
// atomic-reader health field that only HealthUpdater ever mutates.
type Destination struct {
	ID      string
	Address string // URI

	conns atomic.Int64
	health atomic.Int32

	// reactivation state, owned and mutated solely by HealthUpdater.
	// reactivationCancel cancels the pending Clock.AfterFunc callback that
	// returns this destination to HealthUnknown, if one is scheduled.
	mu                 sync.Mutex
	reactivationCancel func()

	// counter is this destination's SlidingCounter, allocated lazily on
	// first PassiveEvaluator observation — an owned field instead of a
	// weak-keyed map.
	counterOnce sync.Once
	counter     *SlidingCounter
}

// DestinationConfig is the shape an external config loader decodes one
// destination entry into, the way `modules/caddyhttp/reverseproxy` configs
// decode upstream entries from JSON.
type DestinationConfig struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// NewDestination constructs a Destination in HealthUnknown state.
func NewDestination(id, address string) *Destination {
	d := &Destination{ID: id, Address: address}
	d.health.Store(int32(HealthUnknown))
	return d
}

// NewDestinationFromConfig builds a Destination from a decoded
// DestinationConfig.
func NewDestinationFromConfig(cfg DestinationConfig) *Destination {
	return NewDestination(cfg.ID, cfg.Address)
}

// Health returns the destination's current health.
func (d *Destination) Health() Health {
	return Health(d.health.Load())
}

// Eligible reports whether the destination may currently be placed in a
// candidate set: anything other than HealthUnhealthy.
func (d *Destination) Eligible() bool {
	return d.Health() != HealthUnhealthy
}

// Concurrency returns the current in-flight request count.
func (d *Destination) Concurrency() int64 {
	return d.conns.Load()
}

func (d *Destination) incConcurrency() { d.conns.Add(1) }
func (d *Destination) decConcurrency() { d.conns.Add(-1) }

// slidingCounter returns this destination's SlidingCounter, allocating it
// on first use. Only PassiveEvaluator calls this.
func (d *Destination) slidingCounter(clock Clock) *SlidingCounter {
	d.counterOnce.Do(func() {
		d.counter = newSlidingCounter(clock)
	})
	return d.counter
}
