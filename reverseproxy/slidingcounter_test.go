// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestSlidingCounterInsufficientEvidence checks that with fewer
// observations than minimalTotalCount, the reported rate is 0.0 even
// when every observation failed.
func TestSlidingCounterInsufficientEvidence(t *testing.T) {
	clock := NewManualClock(int64(time.Second))
	sc := newSlidingCounter(clock)

	rate := sc.addNew(true, 10, 5)
	assert.Equal(t, 0.0, rate)

	total, failed := sc.snapshot()
	assert.Equal(t, uint32(1), total)
	assert.Equal(t, uint32(1), failed)
}

// TestSlidingCounterReportsRateOnceThresholdMet checks that the reported
// rate switches from 0.0 to the real failed/total ratio the moment
// minimalTotalCount is reached.
func TestSlidingCounterReportsRateOnceThresholdMet(t *testing.T) {
	clock := NewManualClock(int64(time.Second))
	sc := newSlidingCounter(clock)

	var rate float64
	for i := 0; i < 4; i++ {
		rate = sc.addNew(false, 10, 4)
	}
	assert.Equal(t, 0.0, rate)

	rate = sc.addNew(true, 10, 4)
	assert.InDelta(t, 1.0/5.0, rate, 1e-9)
}

// TestSlidingCounterCoalescesWithinOneSecond checks the one-record-
// per-second coalescing cap: many observations inside the same second
// stay in the single accumulating bucket.
func TestSlidingCounterCoalescesWithinOneSecond(t *testing.T) {
	clock := NewManualClock(int64(time.Second))
	sc := newSlidingCounter(clock)

	for i := 0; i < 3; i++ {
		sc.addNew(false, 10, 1)
	}
	assert.Empty(t, sc.records)

	total, _ := sc.snapshot()
	assert.Equal(t, uint32(3), total)
}

// TestSlidingCounterEvictsStaleRecords checks window correctness:
// observations older than detectionWindowSize age out of the aggregate.
func TestSlidingCounterEvictsStaleRecords(t *testing.T) {
	clock := NewManualClock(int64(time.Second))
	sc := newSlidingCounter(clock)

	sc.addNew(true, 2, 1)

	clock.Advance(4 * time.Second)
	rate := sc.addNew(false, 2, 1)

	// the earlier failed observation sealed into a record and then aged
	// out of a 2-second window once 3 seconds passed.
	assert.Equal(t, 0.0, rate)
	total, failed := sc.snapshot()
	assert.Equal(t, uint32(1), total)
	assert.Equal(t, uint32(0), failed)
}
