// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import "sync"

// HistoryRecord is one sealed one-second bucket of observed request
// outcomes.
type HistoryRecord struct {
	recordedAt int64
	total      uint32
	failed     uint32
}

// SlidingCounter is a per-destination windowed failed/total request
// counter. It has no close analog elsewhere in this codebase:
// caddyhttp/proxy/upstream.go's own health tracking is a simple
// consecutive-failure counter (Fails int32), not a time-windowed rate, so
// this type's addNew algorithm is built directly for that purpose.
//
// All mutation happens under mu: an exclusive per-destination lock held
// across the entire addNew call.
type SlidingCounter struct {
	clock Clock

	mu      sync.Mutex
	records []HistoryRecord

	accumulatingCreatedAt int64
	accumulatingTotal     uint32
	accumulatingFailed    uint32
	haveAccumulating      bool

	aggregateTotal  uint32
	aggregateFailed uint32
}

func newSlidingCounter(clock Clock) *SlidingCounter {
	return &SlidingCounter{clock: clock}
}

// addNew records one completed request and returns the resulting failure
// rate over detectionWindow.
//
//  1. obtain now/freq from the clock
//  2. on the very first call, open a one-second accumulating bucket
//  3. seal and roll the bucket once its second has elapsed
//  4. fold the new observation into the accumulating bucket + aggregate
//  5. evict stale sealed buckets from the head of the window
//  6. report 0.0 if there isn't yet enough evidence, else failed/total
func (s *SlidingCounter) addNew(failed bool, detectionWindow, minimalTotalCount uint32) float64 {
	now, freq := s.clock.Now()
	windowTicks := int64(detectionWindow) * freq

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveAccumulating {
		s.accumulatingCreatedAt = now + freq
		s.haveAccumulating = true
	}

	if now >= s.accumulatingCreatedAt {
		s.records = append(s.records, HistoryRecord{
			recordedAt: s.accumulatingCreatedAt,
			total:      s.accumulatingTotal,
			failed:     s.accumulatingFailed,
		})
		s.accumulatingTotal = 0
		s.accumulatingFailed = 0
		s.accumulatingCreatedAt = now + freq
	}

	s.accumulatingTotal++
	s.aggregateTotal++
	if failed {
		s.accumulatingFailed++
		s.aggregateFailed++
	}

	evictBefore := now - windowTicks
	evicted := 0
	for evicted < len(s.records) && s.records[evicted].recordedAt < evictBefore {
		s.aggregateTotal -= s.records[evicted].total
		s.aggregateFailed -= s.records[evicted].failed
		evicted++
	}
	if evicted > 0 {
		s.records = append(s.records[:0], s.records[evicted:]...)
	}

	if s.aggregateTotal == 0 || s.aggregateTotal < minimalTotalCount {
		return 0.0
	}
	return float64(s.aggregateFailed) / float64(s.aggregateTotal)
}

// snapshot returns the current aggregate counts, for tests asserting
// window correctness without racing addNew.
func (s *SlidingCounter) snapshot() (total, failed uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregateTotal, s.aggregateFailed
}
