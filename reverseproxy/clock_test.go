// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockAdvance(t *testing.T) {
	c := NewManualClock(int64(time.Second))
	ticks, freq := c.Now()
	assert.Equal(t, int64(0), ticks)
	assert.Equal(t, int64(time.Second), freq)

	c.Advance(2 * time.Second)
	ticks, _ = c.Now()
	assert.Equal(t, int64(2*time.Second), ticks)
}

func TestManualClockSet(t *testing.T) {
	c := NewManualClock(int64(time.Second))
	c.Set(500)
	ticks, _ := c.Now()
	assert.Equal(t, int64(500), ticks)
}

func TestRealClockFrequencyIsOneSecond(t *testing.T) {
	c := NewClock()
	_, freq := c.Now()
	assert.Equal(t, realFreq, freq)
}

func TestRealClockNowAdvancesMonotonically(t *testing.T) {
	c := NewClock()
	first, _ := c.Now()
	time.Sleep(time.Millisecond)
	second, _ := c.Now()
	assert.Greater(t, second, first)
}

func TestRealClockAfterFuncFiresAndCancels(t *testing.T) {
	c := NewClock()
	fired := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("AfterFunc callback never fired")
	}

	called := false
	cancel := c.AfterFunc(time.Hour, func() { called = true })
	cancel()
	assert.False(t, called)
}

func TestManualClockAfterFuncFiresOnceTargetIsReached(t *testing.T) {
	c := NewManualClock(int64(time.Second))
	var fired int
	c.AfterFunc(10*time.Second, func() { fired++ })

	c.Advance(5 * time.Second)
	assert.Equal(t, 0, fired)

	c.Advance(5 * time.Second)
	assert.Equal(t, 1, fired)

	c.Advance(time.Hour)
	assert.Equal(t, 1, fired, "a fired timer must never run twice")
}

func TestManualClockAfterFuncCancelPreventsFiring(t *testing.T) {
	c := NewManualClock(int64(time.Second))
	var fired bool
	cancel := c.AfterFunc(10*time.Second, func() { fired = true })
	cancel()

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestManualClockSetFiresDueTimers(t *testing.T) {
	c := NewManualClock(int64(time.Second))
	var fired bool
	c.AfterFunc(100*time.Second, func() { fired = true })

	c.Set(int64(50 * time.Second))
	assert.False(t, fired)

	c.Set(int64(150 * time.Second))
	assert.True(t, fired)
}
