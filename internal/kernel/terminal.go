// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernel

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/yikaicao/uslossd/internal/hwsim"
	"github.com/yikaicao/uslossd/internal/kernel/kernelerr"
	"github.com/yikaicao/uslossd/pkg/mailbox"
)

// Line is a completed line delivered by the terminal reader: the raw
// bytes (including a terminating newline when the line ended that way)
// plus whether delivery was forced by hitting MaxLine before a newline
// arrived. TermRead's public ABI only returns a byte count per spec.md
// §6's fixed trap-frame contract, but Truncated is retained internally
// and surfaced on TerminalStats (spec.md §9's "surface a flag"
// resolution, scoped to not break the external ABI).
type Line struct {
	Bytes     []byte
	Truncated bool
}

// TerminalMailboxes bundles the per-unit mailbox plumbing spec.md §3
// describes for one terminal: the driver-to-reader character-in
// channel, the driver-to-writer character-out channel, the
// reader-to-TermRead line delivery channel (bounded capacity 10), the
// TermWrite-to-writer line request channel, and the capacity-1
// requester-pid handoff channel that serializes writers.
type TerminalMailboxes struct {
	CharIn      *mailbox.Bounded[hwsim.TermEvent]
	CharOut     *mailbox.Bounded[hwsim.TermEvent]
	ReaderLines *mailbox.Bounded[Line]
	WriterLines *mailbox.Bounded[[]byte]
	WriterPid   *mailbox.Bounded[int]
}

// NewTerminalMailboxes creates the mailbox set for one terminal unit,
// sized per spec.md §3: char_in/char_out sized generously since the
// driver's cond_send to char_out must never block, term_reader_mbox at
// capacity 10, term_writer_line_mbox matching it, and the pid handoff
// mailbox at capacity 1 (the serialization point for concurrent
// writers).
func NewTerminalMailboxes() *TerminalMailboxes {
	return &TerminalMailboxes{
		CharIn:      mailbox.NewBounded[hwsim.TermEvent](64),
		CharOut:     mailbox.NewBounded[hwsim.TermEvent](64),
		ReaderLines: mailbox.NewBounded[Line](10),
		WriterLines: mailbox.NewBounded[[]byte](10),
		WriterPid:   mailbox.NewBounded[int](1),
	}
}

// TerminalStats tracks counters useful for diagnostics but not part of
// the six-service ABI: lines buffered (emitted by the reader) and lines
// truncated at MaxLine without a terminating newline.
type TerminalStats struct {
	LinesBuffered  int
	LinesTruncated int
}

// TerminalDriver is the C6 component: one goroutine per terminal unit.
// It waits on the simulated device's next interrupt and fans the status
// out to the reader (RECV) or writer (XMIT) helper, using a conditional
// send for XMIT status exactly as spec.md §4.5 specifies, so the driver
// never blocks on a full CharOut mailbox. RECV status goes to CharIn with
// a blocking send, which waits while all 64 CharIn slots are full.
func TerminalDriver(ctx context.Context, done <-chan struct{}, unit int, term *hwsim.Terminal, mb *TerminalMailboxes, log logr.Logger, ready chan<- struct{}) {
	log = log.WithName("terminal-driver").WithValues("unit", unit)
	close(ready)

	for {
		ev, err := term.Wait(ctx)
		if err != nil {
			return
		}
		switch ev.Kind {
		case hwsim.TermEventRecv:
			if sendErr := mb.CharIn.Send(ctx, done, ev); sendErr != nil {
				return
			}
		case hwsim.TermEventXmit:
			if !mb.CharOut.CondSend(ev) {
				log.V(1).Info("dropped xmit-ready status, writer was not waiting")
			}
		}

		select {
		case <-done:
			return
		default:
		}
	}
}

// TerminalReader is the C7 component: one goroutine per terminal unit
// that assembles inbound characters into whole lines. It owns a
// MaxLine+1-byte accumulator and flushes it (conditional-send to
// ReaderLines) when either the buffer would overflow MaxLine — in which
// case the MaxLine-byte buffer is flushed without the triggering
// character, which starts the next line — or a newline arrives, in
// which case the newline is included in the flushed line.
func TerminalReader(ctx context.Context, done <-chan struct{}, unit int, maxLine int, mb *TerminalMailboxes, stats *TerminalStats, log logr.Logger, ready chan<- struct{}) {
	log = log.WithName("terminal-reader").WithValues("unit", unit)
	close(ready)

	buf := make([]byte, 0, maxLine+1)
	for {
		ev, err := mb.CharIn.Receive(ctx, done)
		if err != nil {
			return
		}
		c := ev.Char

		if c == '\n' {
			buf = append(buf, c)
			flushLine(mb, stats, log, buf, false)
			buf = buf[:0]
			continue
		}

		if len(buf) >= maxLine {
			flushLine(mb, stats, log, buf, true)
			buf = buf[:0]
		}
		buf = append(buf, c)
	}
}

func flushLine(mb *TerminalMailboxes, stats *TerminalStats, log logr.Logger, buf []byte, truncated bool) {
	line := Line{Bytes: append([]byte(nil), buf...), Truncated: truncated}
	if !mb.ReaderLines.CondSend(line) {
		log.V(1).Info("dropped completed line, reader_mbox is full")
		return
	}
	stats.LinesBuffered++
	if truncated {
		stats.LinesTruncated++
		log.V(1).Info("flushed line at MaxLine without terminating newline")
	}
}

// TermReadReal implements term_read_real: validates size and unit,
// enables the RECV interrupt, blocks for one assembled line, and copies
// up to size bytes into buf, stopping at the first NUL byte in the
// delivered line.
func TermReadReal(ctx context.Context, done <-chan struct{}, term *hwsim.Terminal, mb *TerminalMailboxes, cfg Config, unit int, buf []byte, size int) (sizeRead int, err error) {
	if size < 0 || size > cfg.MaxLine {
		return 0, kernelerr.NewInvalidArgument("termread: size %d out of range [0,%d]", size, cfg.MaxLine)
	}
	if unit < 0 || unit >= cfg.TermUnits {
		return 0, kernelerr.NewInvalidArgument("termread: unit %d out of range [0,%d)", unit, cfg.TermUnits)
	}

	term.EnableRecv()

	line, err := mb.ReaderLines.Receive(ctx, done)
	if err != nil {
		return 0, err
	}

	n := len(line.Bytes)
	if n > size {
		n = size
	}
	for i := 0; i < n; i++ {
		if line.Bytes[i] == 0 {
			n = i
			break
		}
	}
	copy(buf, line.Bytes[:n])
	return n, nil
}

// TerminalWriter is the C8 component: one goroutine per terminal unit
// that accepts a line from term_writer_line_mbox, transmits it
// char-by-char under XMIT interrupts, and on completion hands the byte
// count back to the requester named in term_writer_pid_mbox.
func TerminalWriter(ctx context.Context, done <-chan struct{}, unit int, term *hwsim.Terminal, mb *TerminalMailboxes, table *ProcessTable, log logr.Logger, ready chan<- struct{}) {
	log = log.WithName("terminal-writer").WithValues("unit", unit)
	close(ready)

	for {
		line, err := mb.WriterLines.Receive(ctx, done)
		if err != nil {
			return
		}

		for _, b := range line {
			if _, err := mb.CharOut.Receive(ctx, done); err != nil {
				return
			}
			if werr := term.WriteControl(b); werr != nil {
				log.V(1).Info("device error during transmit", "unit", unit, "err", werr)
			}
		}

		pid, err := mb.WriterPid.Receive(ctx, done)
		if err != nil {
			return
		}
		rec := table.Get(pid)
		if err := rec.Private.Send(ctx, done, WakeResult{Status: len(line)}); err != nil {
			return
		}
	}
}

// TermWriteReal implements term_write_real: validates size and unit,
// serializes through the capacity-1 pid-handoff mailbox, hands the
// payload to the writer, and blocks on the caller's private mailbox for
// the transmitted byte count.
func TermWriteReal(ctx context.Context, done <-chan struct{}, mb *TerminalMailboxes, cfg Config, rec *ProcessRecord, unit int, buf []byte, size int) (sizeWritten int, err error) {
	if size < 0 || size > cfg.MaxLine {
		return 0, kernelerr.NewInvalidArgument("termwrite: size %d out of range [0,%d]", size, cfg.MaxLine)
	}
	if unit < 0 || unit >= cfg.TermUnits {
		return 0, kernelerr.NewInvalidArgument("termwrite: unit %d out of range [0,%d)", unit, cfg.TermUnits)
	}

	payload := append([]byte(nil), buf[:size]...)

	if err := mb.WriterPid.Send(ctx, done, rec.Pid); err != nil {
		return 0, err
	}
	if err := mb.WriterLines.Send(ctx, done, payload); err != nil {
		return 0, err
	}

	res, err := rec.Private.Receive(ctx, done)
	if err != nil {
		return 0, err
	}
	return res.Status, res.Err
}
