// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package mailbox implements the two mailbox shapes the kernel drivers
// rendezvous on: a zero-slot Private mailbox (MboxSend/MboxReceive in the
// original kernel) and a Bounded mailbox with a non-blocking conditional
// send (MboxCondSend). Both are generic over the message payload so the
// same type serves a sleeper's wakeup, a disk completion, and a terminal
// line.
package mailbox

import (
	"context"

	"github.com/yikaicao/uslossd/internal/kernel/kernelerr"
)

// Private is a zero-slot mailbox: a Send blocks until a matching Receive
// is ready to take the value, and vice versa. It models a process's
// private mailbox, used for exactly one outstanding request at a time.
type Private[T any] struct {
	ch chan T
}

// NewPrivate creates an empty Private mailbox.
func NewPrivate[T any]() *Private[T] {
	return &Private[T]{ch: make(chan T)}
}

// Send blocks until a Receive consumes msg, ctx is cancelled, or done is
// closed. done is the supervisor's shutdown signal; a nil done is treated
// as never closing.
func (m *Private[T]) Send(ctx context.Context, done <-chan struct{}, msg T) error {
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return kernelerr.ErrShutdown
	}
}

// TrySend delivers msg only if a Receive is already blocked waiting for
// it, and reports whether delivery happened. This is the conditional
// send spec.md §4.2 requires for clock-driver wakeups: because the
// mailbox is zero-slot, a non-blocking offer succeeds exactly when a
// receiver is already parked on Receive, and drops the message
// otherwise rather than waiting for one to arrive.
func (m *Private[T]) TrySend(msg T) bool {
	select {
	case m.ch <- msg:
		return true
	default:
		return false
	}
}

// Unblock delivers msg to a receiver parked in Receive, for the
// shutdown path spec.md §4.2 describes ("non-conditional send" used to
// wake remaining sleepers on teardown). Unlike the source, where the
// cooperative scheduler guarantees the target is blocked in Receive and
// nowhere else, this implementation's Receive also resolves on its own
// done channel closing — the same shutdown signal that triggers these
// Unblock calls — so the target may already have returned by the time
// Unblock runs. Delivery is therefore best-effort and non-blocking, like
// TrySend: a dropped message here means the receiver already unblocked
// via its own done branch, not that the wakeup was lost.
func (m *Private[T]) Unblock(msg T) {
	select {
	case m.ch <- msg:
	default:
	}
}

// Receive blocks until a Send delivers a value, ctx is cancelled, or done
// is closed.
func (m *Private[T]) Receive(ctx context.Context, done <-chan struct{}) (T, error) {
	var zero T
	select {
	case msg := <-m.ch:
		return msg, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
		return zero, kernelerr.ErrShutdown
	}
}

// Bounded is a mailbox with a fixed number of slots. Producers that must
// never block (the terminal driver's XMIT-status fan-out, the terminal
// reader delivering a completed line) use CondSend; others use Send. CondSend
// follows MboxCondSend: if every slot is full the message is dropped
// rather than waiting for a consumer.
type Bounded[T any] struct {
	ch chan T
}

// NewBounded creates a Bounded mailbox with the given slot count.
func NewBounded[T any](slots int) *Bounded[T] {
	return &Bounded[T]{ch: make(chan T, slots)}
}

// CondSend attempts to enqueue msg without blocking. It reports whether
// the message was accepted; a false return means every slot was full and
// the message was dropped, mirroring MboxCondSend's "no consumer ready"
// return value.
func (m *Bounded[T]) CondSend(msg T) bool {
	select {
	case m.ch <- msg:
		return true
	default:
		return false
	}
}

// Send blocks until a slot is free, ctx is cancelled, or done is closed.
func (m *Bounded[T]) Send(ctx context.Context, done <-chan struct{}, msg T) error {
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return kernelerr.ErrShutdown
	}
}

// Receive blocks until a value is available, ctx is cancelled, or done is
// closed.
func (m *Bounded[T]) Receive(ctx context.Context, done <-chan struct{}) (T, error) {
	var zero T
	select {
	case msg := <-m.ch:
		return msg, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
		return zero, kernelerr.ErrShutdown
	}
}

// Len reports the number of messages currently queued.
func (m *Bounded[T]) Len() int {
	return len(m.ch)
}
