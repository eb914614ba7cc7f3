// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package hwsim stands in for the simulated hardware substrate (clock,
// disk, and terminal devices) that the device drivers in internal/kernel
// were written against. It is intentionally thin: register layout, bit
// encodings, and the trap dispatch table are all external collaborators
// this module does not attempt to recreate faithfully — hwsim only needs
// to produce the handful of blocking, interrupt-shaped events the
// drivers actually wait on.
package hwsim

import (
	"context"
	"sync"
	"time"
)

// Clock models the clock device a ClockDriver waits on. NowMicros reports
// elapsed virtual time in microseconds; Tick blocks until the device
// raises its next interrupt, mirroring wait_device(CLOCK).
type Clock interface {
	NowMicros() int64
	Tick(ctx context.Context) (int64, error)
}

// RealClock ticks at a fixed wall-clock interval, the way the real
// USLOSS clock device raises one interrupt roughly every 20ms of real
// time. NowMicros reports elapsed wall-clock microseconds since the
// clock was created.
type RealClock struct {
	start    time.Time
	interval time.Duration
}

// NewRealClock creates a Clock that raises an interrupt every interval.
func NewRealClock(interval time.Duration) *RealClock {
	return &RealClock{start: time.Now(), interval: interval}
}

func (c *RealClock) NowMicros() int64 {
	return time.Since(c.start).Microseconds()
}

func (c *RealClock) Tick(ctx context.Context) (int64, error) {
	t := time.NewTimer(c.interval)
	defer t.Stop()
	select {
	case <-t.C:
		return c.NowMicros(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ManualClock is a Clock a test drives explicitly: NowMicros only
// changes when the test calls Advance, and Tick only returns when the
// test advances time past a prior Tick call, rather than on any real
// schedule. This lets sleep-ordering tests assert wakeup order without
// blocking on wall-clock seconds.
type ManualClock struct {
	mu   sync.Mutex
	now  int64
	subs []chan int64
}

// NewManualClock creates a ManualClock starting at t=0.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) NowMicros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by delta microseconds and raises one
// interrupt, waking every goroutine currently blocked in Tick.
func (c *ManualClock) Advance(delta int64) {
	c.mu.Lock()
	c.now += delta
	subs := c.subs
	c.subs = nil
	now := c.now
	c.mu.Unlock()

	for _, ch := range subs {
		ch <- now
	}
}

func (c *ManualClock) Tick(ctx context.Context) (int64, error) {
	ch := make(chan int64, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()

	select {
	case now := <-ch:
		return now, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
