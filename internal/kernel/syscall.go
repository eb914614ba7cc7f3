// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernel

import (
	"context"

	"k8s.io/client-go/util/workqueue"

	"github.com/yikaicao/uslossd/internal/hwsim"
	"github.com/yikaicao/uslossd/internal/kernel/kernelerr"
)

// ServiceNumber identifies one of the six syscalls spec.md §6 defines,
// mirroring the trap frame's Number field.
type ServiceNumber int

const (
	SysSleep ServiceNumber = iota
	SysDiskSize
	SysDiskRead
	SysDiskWrite
	SysTermRead
	SysTermWrite
)

// TrapFrame mirrors spec.md §6's bit-exact trap-frame layout: a service
// number and five opaque argument slots. The struct boundary IS the
// "trap frame" this implementation preserves exactly; Arg1..Arg5 carry
// whatever the calling convention for a given service puts there, and
// on return Arg1-Arg3 carry out-parameters while Arg4 carries the
// status/result code, per spec.md §6.
type TrapFrame struct {
	Number ServiceNumber

	// Disk ops: Arg1=buf, Arg2=sectors, Arg3=track, Arg4=first, Arg5=unit.
	// Term ops: Arg1=buf, Arg2=size (in) / size_xferred (out), Arg3=unit.
	// Sleep: Arg1=seconds.
	Arg1 any
	Arg2 int
	Arg3 int
	Arg4 int
	Arg5 int
}

// Dispatcher is the C9 component: it validates that each service call
// originates in user mode, unpacks the TrapFrame into typed parameters,
// invokes the matching real routine, and re-packs the result, per
// spec.md §4.1's five numbered steps. Unlike the source's global
// systemCallVec, Dispatcher carries its dependencies explicitly (no
// package-level mutable kernel state), so tests can build independent
// instances.
type Dispatcher struct {
	cfg   Config
	table *ProcessTable
	sleep *SleepList
	clock hwsim.Clock
	disks []*diskUnit
	terms []*termUnit
	done  <-chan struct{}
}

type diskUnit struct {
	queue      workqueue.TypedRateLimitingInterface[int]
	reqs       *DiskQueue
	trackCount int
}

type termUnit struct {
	term *hwsim.Terminal
	mb   *TerminalMailboxes
}

// NewDispatcher builds a Dispatcher wired to the given kernel state.
func NewDispatcher(cfg Config, table *ProcessTable, sleep *SleepList, clock hwsim.Clock, done <-chan struct{}) *Dispatcher {
	return &Dispatcher{cfg: cfg, table: table, sleep: sleep, clock: clock, done: done}
}

// RegisterDisk wires unit's wake queue, request queue, and learned
// track count into the dispatcher so DiskSize/DiskRead/DiskWrite can
// reach it. Called once per unit during Supervisor.Start.
func (d *Dispatcher) RegisterDisk(unit int, queue workqueue.TypedRateLimitingInterface[int], reqs *DiskQueue, trackCount int) {
	for len(d.disks) <= unit {
		d.disks = append(d.disks, nil)
	}
	d.disks[unit] = &diskUnit{queue: queue, reqs: reqs, trackCount: trackCount}
}

// RegisterTerminal wires unit's simulated device and mailbox set into
// the dispatcher so TermRead/TermWrite can reach it.
func (d *Dispatcher) RegisterTerminal(unit int, term *hwsim.Terminal, mb *TerminalMailboxes) {
	for len(d.terms) <= unit {
		d.terms = append(d.terms, nil)
	}
	d.terms[unit] = &termUnit{term: term, mb: mb}
}

// Dispatch is the single entry point a trap handler calls: it confirms
// user-mode entry, unpacks arguments, calls the matching real routine,
// and re-packs the result into the returned TrapFrame, per spec.md
// §4.1. callerInKernelMode models "invoked from kernel mode" for the
// ProtocolViolation check; the real hardware trap mechanism that would
// make this check meaningful lives in internal/hwsim, not here.
func (d *Dispatcher) Dispatch(ctx context.Context, pid int, callerInKernelMode bool, frame TrapFrame) (TrapFrame, error) {
	if callerInKernelMode {
		return TrapFrame{}, kernelerr.NewProtocolViolation("syscall %d dispatched while already in kernel mode", frame.Number)
	}

	rec := d.table.Get(pid)
	out := frame

	switch frame.Number {
	case SysSleep:
		seconds, _ := frame.Arg1.(int)
		err := SleepReal(ctx, d.done, d.clock, d.sleep, rec, seconds)
		out.Arg4 = resultCode(err)
		return out, nil

	case SysDiskSize:
		unit := frame.Arg5
		du := d.diskUnit(unit)
		if du == nil {
			out.Arg4 = -1
			return out, nil
		}
		sector, track, disks, err := DiskSizeReal(d.cfg, du.trackCount, unit)
		out.Arg1, out.Arg2, out.Arg3 = sector, track, disks
		out.Arg4 = resultCode(err)
		return out, nil

	case SysDiskRead, SysDiskWrite:
		buf, _ := frame.Arg1.([]byte)
		sectors, track, first, unit := frame.Arg2, frame.Arg3, frame.Arg4, frame.Arg5
		du := d.diskUnit(unit)
		if du == nil {
			out.Arg4 = -1
			return out, nil
		}
		var status int
		var err error
		if frame.Number == SysDiskRead {
			status, err = DiskReadReal(ctx, d.done, d.cfg, du.trackCount, du.queue, du.reqs, rec, buf, unit, track, first, sectors)
		} else {
			status, err = DiskWriteReal(ctx, d.done, d.cfg, du.trackCount, du.queue, du.reqs, rec, buf, unit, track, first, sectors)
		}
		if kernelerr.IsInvalidArgument(err) {
			out.Arg4 = -1
			return out, nil
		}
		out.Arg1 = status
		out.Arg4 = 0
		return out, err

	case SysTermRead:
		buf, _ := frame.Arg1.([]byte)
		size, unit := frame.Arg2, frame.Arg3
		tu := d.termUnit(unit)
		if tu == nil {
			out.Arg4 = -1
			return out, nil
		}
		n, err := TermReadReal(ctx, d.done, tu.term, tu.mb, d.cfg, unit, buf, size)
		if kernelerr.IsInvalidArgument(err) {
			out.Arg4 = -1
			return out, nil
		}
		out.Arg2 = n
		out.Arg4 = 0
		return out, err

	case SysTermWrite:
		buf, _ := frame.Arg1.([]byte)
		size, unit := frame.Arg2, frame.Arg3
		tu := d.termUnit(unit)
		if tu == nil {
			out.Arg4 = -1
			return out, nil
		}
		n, err := TermWriteReal(ctx, d.done, tu.mb, d.cfg, rec, unit, buf, size)
		if kernelerr.IsInvalidArgument(err) {
			out.Arg4 = -1
			return out, nil
		}
		out.Arg2 = n
		out.Arg4 = 0
		return out, err

	default:
		return TrapFrame{}, kernelerr.NewProtocolViolation("unknown service number %d", frame.Number)
	}
}

func (d *Dispatcher) diskUnit(unit int) *diskUnit {
	if unit < 0 || unit >= len(d.disks) {
		return nil
	}
	return d.disks[unit]
}

func (d *Dispatcher) termUnit(unit int) *termUnit {
	if unit < 0 || unit >= len(d.terms) {
		return nil
	}
	return d.terms[unit]
}

// resultCode maps a real routine's error into the service result slot:
// 0 on success, -1 otherwise (InvalidArgument or a shutdown-forced
// unblock — sleep_real has no third outcome to report).
func resultCode(err error) int {
	if err == nil {
		return 0
	}
	return -1
}
