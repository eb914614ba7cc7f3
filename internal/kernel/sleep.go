// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernel

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/yikaicao/uslossd/internal/hwsim"
	"github.com/yikaicao/uslossd/internal/kernel/kernelerr"
)

// SleepList is the time-ordered list of sleeping processes spec.md §3
// describes: singly linked (via each ProcessRecord's SleepNext field),
// strictly sorted ascending by WakeTimeUs, with ties broken by
// insertion order — this is the addSleepRequest behavior carried over
// verbatim from original_source/phase4.c (see SPEC_FULL.md's
// SUPPLEMENTED FEATURES §1).
//
// Mutated by any sleeper (insert) and by the clock driver (head
// advance); guarded by its own mutex per spec.md §5's explicit
// preemptive-runtime requirement.
type SleepList struct {
	mu    sync.Mutex
	table *ProcessTable
	head  int // pid, noLink if empty
}

// NewSleepList creates an empty sleep list over table.
func NewSleepList(table *ProcessTable) *SleepList {
	return &SleepList{table: table, head: noLink}
}

// Insert adds pid to the list in ascending WakeTimeUs order, after any
// existing entries with an equal or smaller deadline.
func (s *SleepList) Insert(pid int, wakeUs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.table.Get(pid)
	rec.WakeTimeUs = wakeUs

	if s.head == noLink {
		rec.SleepNext = noLink
		s.head = pid
		return
	}

	headRec := s.table.Get(s.head)
	if wakeUs < headRec.WakeTimeUs {
		rec.SleepNext = s.head
		s.head = pid
		return
	}

	curPid := s.head
	cur := headRec
	for cur.SleepNext != noLink {
		next := s.table.Get(cur.SleepNext)
		if wakeUs < next.WakeTimeUs {
			break
		}
		curPid = cur.SleepNext
		cur = next
	}
	_ = curPid
	rec.SleepNext = cur.SleepNext
	cur.SleepNext = pid
}

// PopReady removes and returns every pid at the head of the list whose
// WakeTimeUs is strictly less than nowUs, in ascending deadline order.
func (s *SleepList) PopReady(nowUs int64) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []int
	for s.head != noLink {
		headRec := s.table.Get(s.head)
		if headRec.WakeTimeUs >= nowUs {
			break
		}
		ready = append(ready, s.head)
		s.head = headRec.SleepNext
		headRec.SleepNext = noLink
	}
	return ready
}

// Members returns every pid currently on the list, head first, for
// tests asserting sleep-membership invariants.
func (s *SleepList) Members() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pids []int
	for pid := s.head; pid != noLink; {
		pids = append(pids, pid)
		pid = s.table.Get(pid).SleepNext
	}
	return pids
}

// SleepReal implements sleep_real: validates seconds, computes the
// absolute wake deadline, links the caller into the sleep list, and
// blocks on the caller's private mailbox until the clock driver wakes
// it or shutdown forces an unblock.
func SleepReal(ctx context.Context, done <-chan struct{}, clock hwsim.Clock, list *SleepList, rec *ProcessRecord, seconds int) error {
	if seconds < 0 {
		return kernelerr.NewInvalidArgument("sleep: seconds must be >= 0, got %d", seconds)
	}

	wake := clock.NowMicros() + int64(seconds)*1_000_000
	list.Insert(rec.Pid, wake)

	res, err := rec.Private.Receive(ctx, done)
	if err != nil {
		return err
	}
	return res.Err
}

// ClockDriver is the C3 component: a long-lived goroutine that waits on
// the clock device and wakes sleepers whose deadline has elapsed, using
// a conditional (drop-on-would-block) send exactly as spec.md §4.2
// specifies. On shutdown it offers each remaining sleeper an ErrShutdown
// wakeup through the non-blocking Private.Unblock before exiting; a
// sleeper that has already returned through its own done channel is
// skipped.
func ClockDriver(ctx context.Context, done <-chan struct{}, clock hwsim.Clock, list *SleepList, log logr.Logger, ready chan<- struct{}) {
	log = log.WithName("clock-driver")
	close(ready)

	for {
		now, err := clock.Tick(ctx)
		if err != nil {
			drainSleepersOnShutdown(list, log)
			return
		}

		for _, pid := range list.PopReady(now) {
			rec := list.table.Get(pid)
			if !rec.Private.TrySend(WakeResult{}) {
				log.V(1).Info("dropped wakeup, sleeper was not yet receiving", "pid", pid)
			}
		}

		select {
		case <-done:
			drainSleepersOnShutdown(list, log)
			return
		default:
		}
	}
}

func drainSleepersOnShutdown(list *SleepList, log logr.Logger) {
	for _, pid := range list.Members() {
		rec := list.table.Get(pid)
		log.V(1).Info("unblocking sleeper for shutdown", "pid", pid)
		rec.Private.Unblock(WakeResult{Err: kernelerr.ErrShutdown})
	}
}
