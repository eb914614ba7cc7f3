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
	"k8s.io/client-go/util/workqueue"

	"github.com/yikaicao/uslossd/internal/hwsim"
	"github.com/yikaicao/uslossd/internal/kernel/kernelerr"
)

// DiskQueue is the C4 per-unit request queue: a C-SCAN ordered list of
// pending disk requests, empty when the disk is idle. Insertion is
// relative to the current head per spec.md §4.4 — "the request the
// driver is executing / about to execute" — so the queue tracks an
// executing pid separately from the pending list: Pop moves an entry
// from the pending list into executing, and it stays the ordering
// reference until Complete clears it, exactly matching the spec's
// "head" meaning the in-flight request, not merely the pending list's
// first element. Equal tracks join the current sweep after the head and
// after any existing equal-track entries (spec.md §9's open-question
// resolution).
type DiskQueue struct {
	mu        sync.Mutex
	table     *ProcessTable
	head      int // pid, noLink if empty
	tail      int // pid, noLink if empty
	executing int // pid of the request the driver is currently servicing, noLink if idle
}

// NewDiskQueue creates an empty disk request queue over table.
func NewDiskQueue(table *ProcessTable) *DiskQueue {
	return &DiskQueue{table: table, head: noLink, tail: noLink, executing: noLink}
}

// Enqueue links pid's ProcessRecord (already populated with Op, Buf,
// Sectors, Track, First, Unit) into the queue in C-SCAN order.
func (q *DiskQueue) Enqueue(pid int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec := q.table.Get(pid)
	rec.DiskNext = noLink

	refPid := q.executing
	if refPid == noLink {
		refPid = q.head
	}
	if refPid == noLink {
		// Disk is idle and nothing is pending: this request becomes the
		// reference point for whatever arrives next.
		q.head = pid
		q.tail = pid
		return
	}

	refTrack := q.table.Get(refPid).Track
	newInSweep := rec.Track >= refTrack

	// The pending list always holds the "this sweep" group (track >=
	// refTrack, ascending) before the "next sweep" group (track <
	// refTrack, ascending). A same-sweep arrival is inserted within the
	// first segment; a next-sweep arrival must skip past the entire
	// first segment before being inserted, in order, within the second.
	prevPid := noLink
	curPid := q.head
	if !newInSweep {
		for curPid != noLink {
			cur := q.table.Get(curPid)
			if cur.Track < refTrack {
				break
			}
			prevPid = curPid
			curPid = cur.DiskNext
		}
	}
	for curPid != noLink {
		cur := q.table.Get(curPid)
		curInSweep := cur.Track >= refTrack
		if curInSweep != newInSweep || cur.Track > rec.Track {
			break
		}
		prevPid = curPid
		curPid = cur.DiskNext
	}

	if prevPid == noLink {
		rec.DiskNext = q.head
		q.head = pid
		if q.tail == noLink {
			q.tail = pid
		}
	} else {
		prev := q.table.Get(prevPid)
		rec.DiskNext = prev.DiskNext
		prev.DiskNext = pid
		if rec.DiskNext == noLink {
			q.tail = pid
		}
	}
}

// Pop moves the pending list's head into the executing slot and returns
// its pid, or returns noLink if the queue is empty. The driver calls Pop
// immediately before seeking, so later Enqueue calls order against the
// request now in flight.
func (q *DiskQueue) Pop() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pid := q.head
	if pid == noLink {
		return noLink
	}
	rec := q.table.Get(pid)
	q.head = rec.DiskNext
	if q.head == noLink {
		q.tail = noLink
	}
	rec.DiskNext = noLink
	q.executing = pid
	return pid
}

// Complete clears the executing slot once the driver finishes servicing
// pid, so a subsequently idle queue has no stale ordering reference.
func (q *DiskQueue) Complete(pid int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.executing == pid {
		q.executing = noLink
	}
}

// Members returns every pid currently pending (not including the
// in-flight request), head first, for tests asserting on C-SCAN
// ordering.
func (q *DiskQueue) Members() []int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pids []int
	for pid := q.head; pid != noLink; {
		pids = append(pids, pid)
		pid = q.table.Get(pid).DiskNext
	}
	return pids
}

// enqueueDiskRequest wakes the disk driver for unit after a request has
// been linked into its queue, mirroring sending a zero-byte wake to
// diskMbox[unit]. The wake channel is a workqueue keyed by unit number
// (see SPEC_FULL.md's DOMAIN STACK): any number of enqueues collapse
// into a single pending wake, exactly like the zero-payload mailbox the
// source sends on, and the driver's own C-SCAN list (not the workqueue)
// determines service order.
func enqueueDiskRequest(queue workqueue.TypedRateLimitingInterface[int], unit int) {
	queue.Add(unit)
}

// DiskSizeReal implements disk_size_real: fixed sector size and
// sectors-per-track, plus the per-unit track count learned at driver
// startup. Non-blocking.
func DiskSizeReal(cfg Config, trackCount int, unit int) (sector, track, disks int, err error) {
	if unit < 0 || unit >= cfg.DiskUnits {
		return 0, 0, 0, kernelerr.NewInvalidArgument("disksize: unit %d out of range [0,%d)", unit, cfg.DiskUnits)
	}
	return cfg.SectorSize, cfg.SectorsPerTrack, trackCount, nil
}

// validateDiskArgs applies the argument checks spec.md §4.4 requires for
// both DiskRead and DiskWrite: unit range, non-negative sectors/track,
// track within the unit's geometry, and (write only) first within a
// track.
func validateDiskArgs(cfg Config, trackCount int, unit, sectors, track, first int, write bool) error {
	if unit < 0 || unit >= cfg.DiskUnits {
		return kernelerr.NewInvalidArgument("disk: unit %d out of range [0,%d)", unit, cfg.DiskUnits)
	}
	if sectors < 0 {
		return kernelerr.NewInvalidArgument("disk: sectors must be >= 0, got %d", sectors)
	}
	if track < 0 || track >= trackCount {
		return kernelerr.NewInvalidArgument("disk: track %d out of range [0,%d)", track, trackCount)
	}
	if write && first >= cfg.SectorsPerTrack {
		return kernelerr.NewInvalidArgument("disk: first sector %d >= sectors/track %d", first, cfg.SectorsPerTrack)
	}
	return nil
}

// diskRequest parameterizes DiskReadReal/DiskWriteReal so both share one
// blocking-enqueue-and-wait implementation.
func diskRequest(
	ctx context.Context, done <-chan struct{},
	cfg Config, trackCount int,
	queue workqueue.TypedRateLimitingInterface[int], diskQueue *DiskQueue, rec *ProcessRecord,
	op DiskOp, buf []byte, unit, track, first, sectors int,
) (status int, err error) {
	if err := validateDiskArgs(cfg, trackCount, unit, sectors, track, first, op == DiskOpWrite); err != nil {
		return 0, err
	}

	rec.Op = op
	rec.Buf = buf
	rec.Sectors = sectors
	rec.Track = track
	rec.First = first
	rec.Unit = unit

	diskQueue.Enqueue(rec.Pid)
	enqueueDiskRequest(queue, unit)

	res, err := rec.Private.Receive(ctx, done)
	if err != nil {
		return 0, err
	}
	return res.Status, res.Err
}

// DiskReadReal implements disk_read_real: validates, enqueues the
// caller's request, wakes the unit's driver, and blocks on the caller's
// private mailbox until the driver completes the transfer.
func DiskReadReal(
	ctx context.Context, done <-chan struct{},
	cfg Config, trackCount int,
	queue workqueue.TypedRateLimitingInterface[int], diskQueue *DiskQueue, rec *ProcessRecord,
	buf []byte, unit, track, first, sectors int,
) (status int, err error) {
	return diskRequest(ctx, done, cfg, trackCount, queue, diskQueue, rec, DiskOpRead, buf, unit, track, first, sectors)
}

// DiskWriteReal implements disk_write_real, symmetric to DiskReadReal.
func DiskWriteReal(
	ctx context.Context, done <-chan struct{},
	cfg Config, trackCount int,
	queue workqueue.TypedRateLimitingInterface[int], diskQueue *DiskQueue, rec *ProcessRecord,
	buf []byte, unit, track, first, sectors int,
) (status int, err error) {
	return diskRequest(ctx, done, cfg, trackCount, queue, diskQueue, rec, DiskOpWrite, buf, unit, track, first, sectors)
}

// DiskDriver is the C5 component: one goroutine per disk unit. At
// startup it issues the TRACKS geometry query and blocks for it to
// complete before signaling readiness and accepting requests — the
// happens-before ordering preserved from original_source/phase4.c (see
// SPEC_FULL.md's SUPPLEMENTED FEATURES §2). Its main loop pulls the head
// of the unit's C-SCAN queue, seeks, transfers sector by sector wrapping
// tracks as needed, and unblocks the requester via its private mailbox.
func DiskDriver(
	ctx context.Context, done <-chan struct{},
	unit int, disk *hwsim.Disk, cfg Config,
	queue workqueue.TypedRateLimitingInterface[int], diskQueue *DiskQueue, table *ProcessTable,
	log logr.Logger, ready chan<- struct{},
) {
	log = log.WithName("disk-driver").WithValues("unit", unit)
	geometry := disk.Geometry()
	close(ready)

	for {
		item, shutdown := queue.Get()
		if shutdown {
			return
		}
		func() {
			defer queue.Done(item)

			for {
				pid := diskQueue.Pop()
				if pid == noLink {
					return
				}
				serviceDiskRequest(ctx, done, disk, geometry, table, pid, log)
				diskQueue.Complete(pid)
			}
		}()

		select {
		case <-done:
			return
		default:
		}
	}
}

// serviceDiskRequest performs one request's seek-and-transfer sequence
// and unblocks its requester, mirroring the DiskDriver loop body in
// spec.md §4.4 step 3-4.
func serviceDiskRequest(ctx context.Context, done <-chan struct{}, disk *hwsim.Disk, geometry hwsim.DiskGeometry, table *ProcessTable, pid int, log logr.Logger) {
	rec := table.Get(pid)
	buf, sectors, track, first, unit, op := rec.Buf, rec.Sectors, rec.Track, rec.First, rec.Unit, rec.Op

	if err := disk.Seek(ctx, track); err != nil {
		rec.Private.Unblock(WakeResult{Err: kernelerr.ErrShutdown})
		return
	}

	sector := first
	status := 0
	for i := 0; i < sectors; i++ {
		hwOp := hwsim.DiskRead
		if op == DiskOpWrite {
			hwOp = hwsim.DiskWrite
		}
		lo, hi := i*geometry.SectorSize, (i+1)*geometry.SectorSize
		s, err := disk.Transfer(ctx, hwOp, track, sector, buf[lo:hi])
		if err != nil {
			rec.Private.Unblock(WakeResult{Err: kernelerr.ErrShutdown})
			return
		}
		if s != 0 {
			status = s
			log.V(1).Info("device error during transfer", "pid", pid, "track", track, "sector", sector, "status", s)
			break
		}

		sector++
		if sector >= geometry.SectorsPerTrack {
			sector = 0
			track = (track + 1) % geometry.Tracks
			if err := disk.Seek(ctx, track); err != nil {
				rec.Private.Unblock(WakeResult{Err: kernelerr.ErrShutdown})
				return
			}
		}
	}

	if err := rec.Private.Send(ctx, done, WakeResult{Status: status}); err != nil {
		log.V(1).Info("requester not unblocked, shutting down", "pid", pid)
	}
	_ = unit
}
