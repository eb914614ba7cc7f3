// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/util/workqueue"

	"github.com/yikaicao/uslossd/internal/hwsim"
	"github.com/yikaicao/uslossd/internal/kernel"
	"github.com/yikaicao/uslossd/internal/kernel/kernelerr"
)

type dispatchFixture struct {
	disp  *kernel.Dispatcher
	table *kernel.ProcessTable
	clock *hwsim.ManualClock
	term  *hwsim.Terminal
	done  chan struct{}
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	cfg := kernel.DefaultConfig()
	table := kernel.NewProcessTable(16)
	sleep := kernel.NewSleepList(table)
	clock := hwsim.NewManualClock()
	done := make(chan struct{})

	disp := kernel.NewDispatcher(cfg, table, sleep, clock, done)

	clockReady := make(chan struct{})
	go kernel.ClockDriver(context.Background(), done, clock, sleep, discardLogger(), clockReady)
	<-clockReady

	store := newMemSectorStore()
	disk := hwsim.NewDisk(0, hwsim.DiskGeometry{Tracks: 32, SectorsPerTrack: 16, SectorSize: 512}, store,
		hwsim.WithSeekDelay(time.Microsecond), hwsim.WithTransferDelay(time.Microsecond))
	diskQueue := kernel.NewDiskQueue(table)
	dq := workqueue.NewTypedRateLimitingQueueWithConfig(
		workqueue.DefaultTypedControllerRateLimiter[int](),
		workqueue.TypedRateLimitingQueueConfig[int]{Name: "dispatch-disk"},
	)
	diskReady := make(chan struct{})
	go kernel.DiskDriver(context.Background(), done, 0, disk, cfg, dq, diskQueue, table, discardLogger(), diskReady)
	<-diskReady
	disp.RegisterDisk(0, dq, diskQueue, 32)

	term := hwsim.NewTerminal(0)
	term.PrimeXmit()
	mb := kernel.NewTerminalMailboxes()
	stats := &kernel.TerminalStats{}
	tDriverReady := make(chan struct{})
	tReaderReady := make(chan struct{})
	tWriterReady := make(chan struct{})
	go kernel.TerminalDriver(context.Background(), done, 0, term, mb, discardLogger(), tDriverReady)
	go kernel.TerminalReader(context.Background(), done, 0, cfg.MaxLine, mb, stats, discardLogger(), tReaderReady)
	go kernel.TerminalWriter(context.Background(), done, 0, term, mb, table, discardLogger(), tWriterReady)
	<-tDriverReady
	<-tReaderReady
	<-tWriterReady
	disp.RegisterTerminal(0, term, mb)

	return &dispatchFixture{disp: disp, table: table, clock: clock, term: term, done: done}
}

func TestDispatchRejectsKernelModeCaller(t *testing.T) {
	f := newDispatchFixture(t)
	defer close(f.done)

	f.table.Acquire(1)
	_, err := f.disp.Dispatch(context.Background(), 1, true, kernel.TrapFrame{Number: kernel.SysSleep, Arg1: 0})
	assert.True(t, kernelerr.IsProtocolViolation(err))
}

func TestDispatchUnknownServiceIsProtocolViolation(t *testing.T) {
	f := newDispatchFixture(t)
	defer close(f.done)

	f.table.Acquire(1)
	_, err := f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{Number: kernel.ServiceNumber(99)})
	assert.True(t, kernelerr.IsProtocolViolation(err))
}

func TestDispatchSleep(t *testing.T) {
	f := newDispatchFixture(t)
	defer close(f.done)

	f.table.Acquire(1)
	resultCh := make(chan kernel.TrapFrame, 1)
	go func() {
		out, err := f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{Number: kernel.SysSleep, Arg1: 1})
		require.NoError(t, err)
		resultCh <- out
	}()

	time.Sleep(10 * time.Millisecond)
	f.clock.Advance(1_000_001)

	out := <-resultCh
	assert.Equal(t, 0, out.Arg4)
}

func TestDispatchDiskSizeAndReadWrite(t *testing.T) {
	f := newDispatchFixture(t)
	defer close(f.done)

	f.table.Acquire(1)
	out, err := f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{Number: kernel.SysDiskSize, Arg5: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Arg4)
	assert.Equal(t, 512, out.Arg1)
	assert.Equal(t, 16, out.Arg2)
	assert.Equal(t, 32, out.Arg3)

	_, err = f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{Number: kernel.SysDiskSize, Arg5: 7})
	require.NoError(t, err)

	payload := make([]byte, 512*2)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	out, err = f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{
		Number: kernel.SysDiskWrite, Arg1: payload, Arg2: 2, Arg3: 3, Arg4: 0, Arg5: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Arg4)

	readBuf := make([]byte, 512*2)
	out, err = f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{
		Number: kernel.SysDiskRead, Arg1: readBuf, Arg2: 2, Arg3: 3, Arg4: 0, Arg5: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Arg4)
	assert.Equal(t, payload, readBuf)
}

func TestDispatchDiskOutOfRangeUnit(t *testing.T) {
	f := newDispatchFixture(t)
	defer close(f.done)

	f.table.Acquire(1)
	out, err := f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{Number: kernel.SysDiskSize, Arg5: 9})
	require.NoError(t, err)
	assert.Equal(t, -1, out.Arg4)

	out, err = f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{
		Number: kernel.SysDiskRead, Arg1: make([]byte, 512), Arg2: 1, Arg3: 0, Arg4: 0, Arg5: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, -1, out.Arg4)
}

func TestDispatchTermReadWrite(t *testing.T) {
	f := newDispatchFixture(t)
	defer close(f.done)

	f.table.Acquire(1)
	f.term.InjectString("ok\n")

	buf := make([]byte, 80)
	out, err := f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{
		Number: kernel.SysTermRead, Arg1: buf, Arg2: 80, Arg3: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Arg4)
	assert.Equal(t, 3, out.Arg2)
	assert.Equal(t, "ok\n", string(buf[:out.Arg2]))

	out, err = f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{
		Number: kernel.SysTermWrite, Arg1: []byte("hi\n"), Arg2: 3, Arg3: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Arg4)
	assert.Equal(t, 3, out.Arg2)
}

func TestDispatchTermOutOfRangeUnit(t *testing.T) {
	f := newDispatchFixture(t)
	defer close(f.done)

	f.table.Acquire(1)
	out, err := f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{
		Number: kernel.SysTermRead, Arg1: make([]byte, 10), Arg2: 10, Arg3: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, -1, out.Arg4)

	out, err = f.disp.Dispatch(context.Background(), 1, false, kernel.TrapFrame{
		Number: kernel.SysTermWrite, Arg1: []byte("x"), Arg2: 1, Arg3: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, -1, out.Arg4)
}
