// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/client-go/util/workqueue"

	"github.com/yikaicao/uslossd/internal/hwsim"
	"github.com/yikaicao/uslossd/pkg/ringbuffer"
)

// eventLogCapacity bounds how many driver lifecycle events Supervisor
// retains for diagnostics.
const eventLogCapacity = 128

// Supervisor is the C10 component: it creates every driver goroutine in
// order, waits for each to signal readiness, and orchestrates shutdown
// by cancelling a shared context (the "zap" signal) and waiting
// bounded-time for each driver to acknowledge, mirroring start3's
// sem_running-gated fork sequence and its zap-then-join teardown
// (spec.md §4.6).
type Supervisor struct {
	cfg   Config
	log   logr.Logger
	runID uuid.UUID

	store hwsim.SectorStore

	Table     *ProcessTable
	SleepList *SleepList
	Clock     hwsim.Clock

	diskGeometries []hwsim.DiskGeometry
	diskQueues     []workqueue.TypedRateLimitingInterface[int]
	diskReqs       []*DiskQueue

	terminals     []*hwsim.Terminal
	termMailboxes []*TerminalMailboxes
	TermStats     []*TerminalStats

	Dispatcher *Dispatcher

	// Events is a bounded trail of driver lifecycle events (ready,
	// exited, failed to exit in time) for diagnostics. All writes happen
	// from the goroutine calling Start/Shutdown, never from a driver
	// goroutine itself, so the ring buffer's lack of internal locking is
	// safe here.
	Events *ringbuffer.RingBuffer[string]

	ctx     context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}
	wg      sync.WaitGroup
	exits   []driverRecord
	started bool
}

// NewSupervisor creates a Supervisor over the given config, the sector
// store backing simulated disk units, and a clock implementation (a
// RealClock in production, a ManualClock in tests).
func NewSupervisor(cfg Config, store hwsim.SectorStore, clock hwsim.Clock, log logr.Logger) *Supervisor {
	cfg = cfg.ApplyDefaults()
	events, _ := ringbuffer.New[string](eventLogCapacity)
	return &Supervisor{
		cfg:    cfg,
		log:    log,
		runID:  uuid.New(),
		store:  store,
		Clock:  clock,
		Events: events,
	}
}

// Start forks the clock driver, one disk driver per unit, and a
// driver/reader/writer trio per terminal unit, in that order, waiting
// for each to signal readiness before forking the next group — the
// sem_running-equivalent ready fence start3 uses.
func (s *Supervisor) Start() error {
	s.log = s.log.WithValues("run_id", s.runID.String())
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.doneCh = make(chan struct{})

	s.Table = NewProcessTable(s.cfg.MaxProcs)
	s.SleepList = NewSleepList(s.Table)
	s.Dispatcher = NewDispatcher(s.cfg, s.Table, s.SleepList, s.Clock, s.doneCh)

	s.fork("clock-driver", func(ready chan<- struct{}) {
		ClockDriver(s.ctx, s.doneCh, s.Clock, s.SleepList, s.log, ready)
	})

	for unit := 0; unit < s.cfg.DiskUnits; unit++ {
		unit := unit
		geometry := hwsim.DiskGeometry{
			Tracks:          s.cfg.DiskTracks,
			SectorsPerTrack: s.cfg.SectorsPerTrack,
			SectorSize:      s.cfg.SectorSize,
		}
		disk := hwsim.NewDisk(unit, geometry, s.store)
		reqs := NewDiskQueue(s.Table)
		ratelimiter := workqueue.DefaultTypedControllerRateLimiter[int]()
		queue := workqueue.NewTypedRateLimitingQueueWithConfig(ratelimiter,
			workqueue.TypedRateLimitingQueueConfig[int]{Name: fmt.Sprintf("disk-%d", unit)})

		s.diskGeometries = append(s.diskGeometries, geometry)
		s.diskQueues = append(s.diskQueues, queue)
		s.diskReqs = append(s.diskReqs, reqs)
		s.Dispatcher.RegisterDisk(unit, queue, reqs, geometry.Tracks)

		s.fork(fmt.Sprintf("disk-driver-%d", unit), func(ready chan<- struct{}) {
			DiskDriver(s.ctx, s.doneCh, unit, disk, s.cfg, queue, reqs, s.Table, s.log, ready)
		})
	}

	for unit := 0; unit < s.cfg.TermUnits; unit++ {
		unit := unit
		term := hwsim.NewTerminal(unit)
		mb := NewTerminalMailboxes()
		stats := &TerminalStats{}

		s.terminals = append(s.terminals, term)
		s.termMailboxes = append(s.termMailboxes, mb)
		s.TermStats = append(s.TermStats, stats)
		s.Dispatcher.RegisterTerminal(unit, term, mb)

		term.PrimeXmit()

		s.fork(fmt.Sprintf("terminal-driver-%d", unit), func(ready chan<- struct{}) {
			TerminalDriver(s.ctx, s.doneCh, unit, term, mb, s.log, ready)
		})
		s.fork(fmt.Sprintf("terminal-reader-%d", unit), func(ready chan<- struct{}) {
			TerminalReader(s.ctx, s.doneCh, unit, s.cfg.MaxLine, mb, stats, s.log, ready)
		})
		s.fork(fmt.Sprintf("terminal-writer-%d", unit), func(ready chan<- struct{}) {
			TerminalWriter(s.ctx, s.doneCh, unit, term, mb, s.Table, s.log, ready)
		})
	}

	s.started = true
	return nil
}

// driverRecord tracks one forked driver goroutine's exit signal, so
// Shutdown can wait bounded-time for each to acknowledge the zap.
type driverRecord struct {
	name string
	exit chan struct{}
}

// fork starts one driver goroutine, blocks the caller until it signals
// readiness on its ready channel (the sem_running equivalent), and
// registers its exit signal for Shutdown to wait on.
func (s *Supervisor) fork(name string, run func(ready chan<- struct{})) {
	ready := make(chan struct{})
	exit := make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(exit)
		run(ready)
	}()

	<-ready
	s.log.V(1).Info("driver ready", "driver", name)
	s.Events.Push(fmt.Sprintf("%s: ready", name))

	s.exits = append(s.exits, driverRecord{name: name, exit: exit})
}

// RecentEvents returns the n most recent driver lifecycle events, oldest
// first, for a diagnostics endpoint or a shutdown-time log dump.
func (s *Supervisor) RecentEvents(n int) []string {
	return s.Events.Last(n)
}

// Shutdown zaps every driver (cancelling the shared context, which
// unblocks every hwsim.Clock/Disk/Terminal wait, and shutting down each
// disk unit's wake queue) and waits bounded-time, via cenkalti/backoff,
// for each driver's exit signal before returning. A driver that never
// acknowledges within the bound is logged and the supervisor proceeds
// anyway, since the zapped goroutine is daemon state, not a resource
// leak the caller can act on further.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if !s.started {
		return
	}
	close(s.doneCh)
	s.cancel()
	for _, q := range s.diskQueues {
		q.ShutDown()
	}

	for _, rec := range s.exits {
		s.waitForExit(ctx, rec)
	}
	s.wg.Wait()
}

func (s *Supervisor) waitForExit(ctx context.Context, rec driverRecord) {
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := backoff.Retry(waitCtx, func() (struct{}, error) {
		select {
		case <-rec.exit:
			return struct{}{}, nil
		default:
			return struct{}{}, fmt.Errorf("%s: not yet exited", rec.name)
		}
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		s.log.Info("driver did not acknowledge shutdown within bound, proceeding", "driver", rec.name)
		s.Events.Push(fmt.Sprintf("%s: did not acknowledge shutdown in time", rec.name))
		return
	}
	s.Events.Push(fmt.Sprintf("%s: exited", rec.name))
}
