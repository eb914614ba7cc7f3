// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernel

import (
	"sync"

	"github.com/yikaicao/uslossd/pkg/mailbox"
)

// noLink marks the absence of a successor in the sleep list or a disk
// queue, standing in for a null pointer in the arena-and-index
// representation spec.md §9 calls for.
const noLink = -1

// WakeResult is the payload delivered through a ProcessRecord's private
// mailbox to unblock its owner. Status carries whatever out-parameter
// the waiting service expects back (a device status byte, a terminal
// byte count, or 0 for a plain sleep wakeup); Err is non-nil only when
// the unblock was forced by shutdown.
type WakeResult struct {
	Status int
	Err    error
}

// ProcessRecord is the per-process scratch record spec.md §3 describes:
// identity, the private rendezvous mailbox used to block/unblock this
// process, and the parameters of whichever service call currently has
// it blocked.
type ProcessRecord struct {
	Pid     int
	Private *mailbox.Private[WakeResult]

	// Sleep service fields.
	WakeTimeUs int64
	SleepNext  int

	// Disk service fields.
	DiskNext int
	Op       DiskOp
	Buf      []byte
	Sectors  int
	First    int
	Track    int
	Unit     int
}

// DiskOp identifies a disk request's direction, mirroring the opr field
// of the original procStruct.
type DiskOp int

const (
	DiskOpRead DiskOp = iota
	DiskOpWrite
)

// ProcessTable is the fixed-size process record arena spec.md §3 and §9
// call for: one slot per pid mod MaxProcs, never reallocated once
// initialized. Allocation and lookup are guarded by a mutex, since the
// source's "no explicit lock" reasoning depends on a non-preemptive
// scheduler this implementation does not have (spec.md §5).
type ProcessTable struct {
	mu    sync.Mutex
	slots []ProcessRecord
	inUse []bool
}

// NewProcessTable creates a table with size slots, each pre-initialized
// with a fresh private mailbox, the way start3 allocates one zero-slot
// mailbox per process slot at startup and never destroys it.
func NewProcessTable(size int) *ProcessTable {
	t := &ProcessTable{
		slots: make([]ProcessRecord, size),
		inUse: make([]bool, size),
	}
	for i := range t.slots {
		t.slots[i] = ProcessRecord{
			Pid:       -1,
			Private:   mailbox.NewPrivate[WakeResult](),
			SleepNext: noLink,
			DiskNext:  noLink,
		}
	}
	return t
}

// Size returns the number of slots in the table.
func (t *ProcessTable) Size() int {
	return len(t.slots)
}

// Acquire binds pid to its slot (pid mod table size) and returns the
// record, resetting any stale fields left over from a previous occupant.
func (t *ProcessTable) Acquire(pid int) *ProcessRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := pid % len(t.slots)
	r := &t.slots[idx]
	r.Pid = pid
	r.SleepNext = noLink
	r.DiskNext = noLink
	t.inUse[idx] = true
	return r
}

// Release marks pid's slot free. The private mailbox is kept in place
// and reused by whichever process next occupies the slot, per spec.md
// §3's "initialized once... reused in place" lifecycle.
func (t *ProcessTable) Release(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := pid % len(t.slots)
	t.inUse[idx] = false
	t.slots[idx].Pid = -1
}

// Get returns the record occupying pid's slot, regardless of whether
// that slot is currently marked in use; callers that already hold a pid
// from a list traversal use this to resolve it back to a record.
func (t *ProcessTable) Get(pid int) *ProcessRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &t.slots[pid%len(t.slots)]
}
