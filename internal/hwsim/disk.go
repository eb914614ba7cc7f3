// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package hwsim

import (
	"context"
	"time"
)

// DiskOp identifies the direction of a sector transfer.
type DiskOp int

const (
	DiskRead DiskOp = iota
	DiskWrite
)

// DiskGeometry describes the fixed shape of a simulated disk, learned by
// the disk driver at startup via a TRACKS query.
type DiskGeometry struct {
	Tracks          int
	SectorsPerTrack int
	SectorSize      int
}

// SectorStore is the backing store a Disk transfers sectors to and from.
// internal/kernel/diskstore implements this over an in-memory Badger
// instance; hwsim only knows it as a place to put bytes.
type SectorStore interface {
	ReadSector(unit, track, sector int) ([]byte, error)
	WriteSector(unit, track, sector int, data []byte) error
}

// DiskFault lets a test inject a non-zero device status on a specific
// (track, sector) so DeviceError propagation can be exercised without a
// real failing disk.
type DiskFault struct {
	Track, Sector int
	Status        int
}

// Disk simulates one disk unit's register-level behavior: SEEK and
// sector transfer requests, each of which blocks the calling driver
// goroutine for a configured duration before reporting a status, the way
// wait_device blocks the real driver until the simulator raises an
// interrupt.
type Disk struct {
	unit      int
	geometry  DiskGeometry
	store     SectorStore
	seekDelay time.Duration
	xferDelay time.Duration
	faults    map[[2]int]int
}

// DiskOption configures a Disk at construction time.
type DiskOption func(*Disk)

// WithSeekDelay overrides the simulated per-SEEK latency.
func WithSeekDelay(d time.Duration) DiskOption {
	return func(disk *Disk) { disk.seekDelay = d }
}

// WithTransferDelay overrides the simulated per-sector transfer latency.
func WithTransferDelay(d time.Duration) DiskOption {
	return func(disk *Disk) { disk.xferDelay = d }
}

// WithFaults injects device statuses that Transfer reports for specific
// sectors instead of StatusOK, for exercising DeviceError propagation.
func WithFaults(faults ...DiskFault) DiskOption {
	return func(disk *Disk) {
		for _, f := range faults {
			disk.faults[[2]int{f.Track, f.Sector}] = f.Status
		}
	}
}

// NewDisk creates a simulated disk unit backed by store.
func NewDisk(unit int, geometry DiskGeometry, store SectorStore, opts ...DiskOption) *Disk {
	d := &Disk{
		unit:      unit,
		geometry:  geometry,
		store:     store,
		seekDelay: 2 * time.Millisecond,
		xferDelay: time.Millisecond,
		faults:    make(map[[2]int]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Geometry reports the disk's fixed shape, as the real driver would
// learn via a TRACKS device request at startup.
func (d *Disk) Geometry() DiskGeometry {
	return d.geometry
}

// Seek simulates moving the disk head to track, mirroring the SEEK
// request followed by wait_device in the source driver loop.
func (d *Disk) Seek(ctx context.Context, track int) error {
	return d.waitDevice(ctx, d.seekDelay)
}

// Transfer simulates reading or writing one sector, mirroring a single
// READ/WRITE device request followed by wait_device. It returns the
// device status (0 == success) and propagates it exactly as the driver
// would: a non-zero status is not itself a Go error, only a reported
// device condition, per spec.md's DeviceError kind; err is non-nil only
// when ctx is cancelled before the simulated operation completes.
func (d *Disk) Transfer(ctx context.Context, op DiskOp, track, sector int, buf []byte) (status int, err error) {
	if err := d.waitDevice(ctx, d.xferDelay); err != nil {
		return 0, err
	}
	if s, faulted := d.faults[[2]int{track, sector}]; faulted {
		return s, nil
	}
	switch op {
	case DiskRead:
		data, rerr := d.store.ReadSector(d.unit, track, sector)
		if rerr != nil {
			return 1, nil
		}
		copy(buf, data)
	case DiskWrite:
		if werr := d.store.WriteSector(d.unit, track, sector, buf); werr != nil {
			return 1, nil
		}
	}
	return 0, nil
}

func (d *Disk) waitDevice(ctx context.Context, delay time.Duration) error {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
