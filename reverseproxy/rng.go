// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"math/rand"
	"sync"
)

// RNG produces integers in [0,n) for a single selection decision.
type RNG interface {
	Intn(n int) int
}

// RandomSource yields a fresh RNG per call. The Forwarder asks for a new
// one on every request so a test can inject a deterministic sequence
// without any shared, racy state leaking between concurrent requests.
type RandomSource interface {
	New() RNG
}

// defaultRandomSource wraps a single, mutex-protected math/rand.Rand the
// way caddyhttp/proxy/policy.go's RoundRobin selection policy guards its
// own shared state with a sync.Mutex; here the lock protects the shared
// seed source rather than a counter, and New() hands back a per-call view
// that doesn't need further locking.
type defaultRandomSource struct {
	mu  sync.Mutex
	src *rand.Rand
}

// NewRandomSource returns the default, process-wide RandomSource.
func NewRandomSource() RandomSource {
	return &defaultRandomSource{src: rand.New(rand.NewSource(rand.Int63()))}
}

func (d *defaultRandomSource) New() RNG {
	d.mu.Lock()
	seed := d.src.Int63()
	d.mu.Unlock()
	return rand.New(rand.NewSource(seed))
}

// SequenceRNG replays a fixed sequence of answers, for deterministic
// tests of multi-candidate selection.
type SequenceRNG struct {
	values []int
	i      int
}

// NewSequenceRNG returns an RNG whose Intn calls ignore n and return the
// next value from values in order, repeating the last value once
// exhausted.
func NewSequenceRNG(values ...int) *SequenceRNG {
	return &SequenceRNG{values: values}
}

func (s *SequenceRNG) Intn(n int) int {
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.i]
	if s.i < len(s.values)-1 {
		s.i++
	}
	return v
}

// sequenceRandomSource adapts a single SequenceRNG to the RandomSource
// interface so the same canned sequence is handed out on every call,
// matching how caddyhttp/proxy's own policy tests pass a fixed
// *http.Request into Policy.Select rather than re-deriving inputs per
// call.
type sequenceRandomSource struct {
	rng *SequenceRNG
}

// NewSequenceRandomSource returns a RandomSource whose New() always
// returns the same underlying SequenceRNG.
func NewSequenceRandomSource(values ...int) RandomSource {
	return &sequenceRandomSource{rng: NewSequenceRNG(values...)}
}

func (s *sequenceRandomSource) New() RNG { return s.rng }
