// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package hwsim

import (
	"context"
	"sync"
	"time"
)

// TermEventKind distinguishes the two interrupt conditions a terminal
// driver waits on: a received character and transmitter-idle.
type TermEventKind int

const (
	TermEventRecv TermEventKind = iota
	TermEventXmit
)

// TermEvent is the status word a Terminal delivers to Wait, carrying the
// interrupt reason and, for TermEventRecv, the character read.
type TermEvent struct {
	Kind TermEventKind
	Char byte
}

// Terminal simulates one terminal unit: an inbound character stream fed
// by InjectString (standing in for a user typing or a test fixture) and
// an outbound byte stream captured from WriteControl. Wait blocks for
// the next interrupt exactly as wait_device(TERM, unit) would.
type Terminal struct {
	unit int

	mu          sync.Mutex
	in          []byte
	recvEnabled bool
	events      chan TermEvent

	xmitDelay time.Duration
	out       []byte
}

// NewTerminal creates a simulated terminal unit.
func NewTerminal(unit int) *Terminal {
	return &Terminal{
		unit:      unit,
		events:    make(chan TermEvent, 64),
		xmitDelay: 200 * time.Microsecond,
	}
}

// EnableRecv arms the receiver, the way the real driver writes a control
// word requesting RECV interrupts. Any input already queued via
// InjectString that arrived before EnableRecv is delivered once enabled.
func (t *Terminal) EnableRecv() {
	t.mu.Lock()
	t.recvEnabled = true
	pending := t.in
	t.in = nil
	t.mu.Unlock()

	for _, b := range pending {
		t.events <- TermEvent{Kind: TermEventRecv, Char: b}
	}
}

// InjectString feeds characters into the terminal's input stream, one
// RECV interrupt per byte, as a test fixture standing in for a typing
// user or an injected input file.
func (t *Terminal) InjectString(s string) {
	t.mu.Lock()
	enabled := t.recvEnabled
	t.mu.Unlock()

	if !enabled {
		t.mu.Lock()
		t.in = append(t.in, s...)
		t.mu.Unlock()
		return
	}
	for i := 0; i < len(s); i++ {
		t.events <- TermEvent{Kind: TermEventRecv, Char: s[i]}
	}
}

// WriteControl simulates the driver writing a control word containing
// one character plus the XMIT and XMIT_CHAR bits. The character is
// appended to the captured output stream, and after the simulated
// transmit delay the device raises a fresh XMIT-ready interrupt.
func (t *Terminal) WriteControl(b byte) error {
	t.mu.Lock()
	t.out = append(t.out, b)
	t.mu.Unlock()

	time.AfterFunc(t.xmitDelay, func() {
		t.events <- TermEvent{Kind: TermEventXmit}
	})
	return nil
}

// PrimeXmit raises the initial XMIT-ready interrupt so the writer
// pipeline has something to wait on before any byte has been sent. The
// real device starts with an idle transmitter.
func (t *Terminal) PrimeXmit() {
	t.events <- TermEvent{Kind: TermEventXmit}
}

// Wait blocks until the terminal raises its next interrupt.
func (t *Terminal) Wait(ctx context.Context) (TermEvent, error) {
	select {
	case ev := <-t.events:
		return ev, nil
	case <-ctx.Done():
		return TermEvent{}, ctx.Err()
	}
}

// Output returns the bytes written to the terminal so far, for tests
// asserting on transmitted content.
func (t *Terminal) Output() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.out))
	copy(out, t.out)
	return out
}
