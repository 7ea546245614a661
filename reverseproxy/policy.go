// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"fmt"
	"sync"
	"time"
)

// Default policy names, resolved by fallback when an entity does not
// specify one.
const (
	DefaultActivePolicyName  = "ConsecutiveFailures"
	DefaultPassivePolicyName = "TransportFailureRate"
)

// DestinationVerdict pairs a Destination with the verdict an ActivePolicy
// reached for it after one probe batch.
type DestinationVerdict struct {
	Destination *Destination
	Verdict     HealthVerdict
}

// ActivePolicy turns one cluster's batch of probe results into a verdict
// per destination.
//
// Grounded on caddyhttp/proxy/policy.go's Policy interface — small, named
// strategy objects selected by string key — generalized from "choose a
// host" to "judge a batch of probe results".
type ActivePolicy interface {
	Evaluate(cluster *Cluster, results []DestinationProbingResult) []DestinationVerdict
}

// PassivePolicy turns an observed failure rate into a verdict.
type PassivePolicy interface {
	Evaluate(rate, rateLimit float64) HealthVerdict
}

// ConsecutiveFailuresPolicy marks a destination Unhealthy once its probe
// failures reach a threshold in a row, and Healthy again the moment a
// probe succeeds. Grounded on staticUpstream.MaxFails /
// UpstreamHost.Fails in caddyhttp/proxy/upstream.go, generalized from
// "decays after FailTimeout" to "resets on the next success", since this
// policy is driven by scheduled probe batches rather than live traffic.
type ConsecutiveFailuresPolicy struct {
	Threshold          int32
	ReactivationPeriod time.Duration

	mu          sync.Mutex
	consecutive map[string]int32
}

// NewConsecutiveFailuresPolicy returns a ConsecutiveFailuresPolicy that
// marks a destination Unhealthy after threshold consecutive probe
// failures, excluding it for reactivationPeriod.
func NewConsecutiveFailuresPolicy(threshold int32, reactivationPeriod time.Duration) *ConsecutiveFailuresPolicy {
	return &ConsecutiveFailuresPolicy{
		Threshold:          threshold,
		ReactivationPeriod: reactivationPeriod,
		consecutive:        make(map[string]int32),
	}
}

func (p *ConsecutiveFailuresPolicy) Evaluate(cluster *Cluster, results []DestinationProbingResult) []DestinationVerdict {
	verdicts := make([]DestinationVerdict, 0, len(results))
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range results {
		key := cluster.ID + "/" + r.Destination.ID
		if r.probeFailed() {
			p.consecutive[key]++
			if p.consecutive[key] >= p.Threshold {
				verdicts = append(verdicts, DestinationVerdict{
					Destination: r.Destination,
					Verdict:     HealthVerdict{Health: HealthUnhealthy, ReactivationPeriod: p.ReactivationPeriod},
				})
				continue
			}
		} else {
			delete(p.consecutive, key)
			verdicts = append(verdicts, DestinationVerdict{
				Destination: r.Destination,
				Verdict:     HealthVerdict{Health: HealthHealthy},
			})
		}
	}
	return verdicts
}

// TransportFailureRatePolicy's verdict rule: Unhealthy iff the observed
// rate meets or exceeds the cluster's rateLimit.
type TransportFailureRatePolicy struct{}

func (TransportFailureRatePolicy) Evaluate(rate, rateLimit float64) HealthVerdict {
	if rate >= rateLimit {
		return HealthVerdict{Health: HealthUnhealthy}
	}
	return HealthVerdict{Health: HealthHealthy}
}

// PolicyRegistry is a mapping from policy-name string to policy object,
// built once at startup from an injected collection.
type PolicyRegistry struct {
	active  map[string]ActivePolicy
	passive map[string]PassivePolicy
}

// NewPolicyRegistry builds a PolicyRegistry from the given named policies.
func NewPolicyRegistry(active map[string]ActivePolicy, passive map[string]PassivePolicy) *PolicyRegistry {
	return &PolicyRegistry{active: active, passive: passive}
}

// Active resolves an active policy by name, falling back to
// DefaultActivePolicyName when name is empty. It returns an error, fatal
// to the calling batch, if the name is not registered.
func (r *PolicyRegistry) Active(name string) (ActivePolicy, error) {
	if name == "" {
		name = DefaultActivePolicyName
	}
	p, ok := r.active[name]
	if !ok {
		return nil, fmt.Errorf("no active health-check policy registered under name %q", name)
	}
	return p, nil
}

// Passive resolves a passive policy by name, falling back to
// DefaultPassivePolicyName when name is empty.
func (r *PolicyRegistry) Passive(name string) (PassivePolicy, error) {
	if name == "" {
		name = DefaultPassivePolicyName
	}
	p, ok := r.passive[name]
	if !ok {
		return nil, fmt.Errorf("no passive health-check policy registered under name %q", name)
	}
	return p, nil
}
