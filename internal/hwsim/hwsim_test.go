// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package hwsim_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yikaicao/uslossd/internal/hwsim"
)

type memStore struct {
	sectors map[[3]int][]byte
}

func newMemStore() *memStore { return &memStore{sectors: make(map[[3]int][]byte)} }

func (m *memStore) ReadSector(unit, track, sector int) ([]byte, error) {
	return m.sectors[[3]int{unit, track, sector}], nil
}

func (m *memStore) WriteSector(unit, track, sector int, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.sectors[[3]int{unit, track, sector}] = cp
	return nil
}

func TestManualClockAdvanceWakesWaiters(t *testing.T) {
	clk := hwsim.NewManualClock()
	ctx := context.Background()

	results := make(chan int64, 2)
	for i := 0; i < 2; i++ {
		go func() {
			now, err := clk.Tick(ctx)
			assert.NoError(t, err)
			results <- now
		}()
	}

	time.Sleep(10 * time.Millisecond) // let both goroutines subscribe
	clk.Advance(5_000_000)

	assert.Equal(t, int64(5_000_000), <-results)
	assert.Equal(t, int64(5_000_000), <-results)
	assert.Equal(t, int64(5_000_000), clk.NowMicros())
}

func TestDiskRoundTrip(t *testing.T) {
	store := newMemStore()
	disk := hwsim.NewDisk(0, hwsim.DiskGeometry{Tracks: 32, SectorsPerTrack: 16, SectorSize: 512},
		store, hwsim.WithSeekDelay(time.Microsecond), hwsim.WithTransferDelay(time.Microsecond))

	ctx := context.Background()
	require.NoError(t, disk.Seek(ctx, 10))

	want := make([]byte, 512)
	for i := range want {
		want[i] = byte(i)
	}
	status, err := disk.Transfer(ctx, hwsim.DiskWrite, 10, 3, want)
	require.NoError(t, err)
	require.Equal(t, 0, status)

	got := make([]byte, 512)
	status, err = disk.Transfer(ctx, hwsim.DiskRead, 10, 3, got)
	require.NoError(t, err)
	require.Equal(t, 0, status)
	assert.Equal(t, want, got)
}

func TestDiskInjectedFault(t *testing.T) {
	store := newMemStore()
	disk := hwsim.NewDisk(0, hwsim.DiskGeometry{Tracks: 8, SectorsPerTrack: 4, SectorSize: 64},
		store,
		hwsim.WithSeekDelay(time.Microsecond), hwsim.WithTransferDelay(time.Microsecond),
		hwsim.WithFaults(hwsim.DiskFault{Track: 2, Sector: 1, Status: 7}))

	status, err := disk.Transfer(context.Background(), hwsim.DiskRead, 2, 1, make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, 7, status)
}

func TestTerminalRecvAndXmit(t *testing.T) {
	term := hwsim.NewTerminal(0)
	term.EnableRecv()
	term.InjectString("hi")

	ctx := context.Background()
	ev, err := term.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, hwsim.TermEventRecv, ev.Kind)
	assert.Equal(t, byte('h'), ev.Char)

	ev, err = term.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte('i'), ev.Char)

	term.PrimeXmit()
	ev, err = term.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, hwsim.TermEventXmit, ev.Kind)

	require.NoError(t, term.WriteControl('o'))
	require.NoError(t, term.WriteControl('k'))
	ev, err = term.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, hwsim.TermEventXmit, ev.Kind)

	assert.Equal(t, []byte("ok"), term.Output())
}
