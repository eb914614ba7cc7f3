// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package kernelerr defines the error-kind taxonomy shared by every driver
// and syscall handler in internal/kernel: InvalidArgument, DeviceError,
// ProtocolViolation, and Shutdown. Each kind is a marker interface wrapping
// a plain error, checked with errors.As, following the same pattern
// pkg/errors uses for RetryableError.
package kernelerr

import (
	stdliberrors "errors"
	"fmt"
)

var (
	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

// InvalidArgument marks an error caused by a bad caller-supplied parameter
// (out-of-range unit, negative or oversize size, negative sleep duration, ...).
// These are programming errors in the caller and are never retryable.
type InvalidArgument interface {
	error
	InvalidArgument()
}

type invalidArgument struct{ text string }

func (e *invalidArgument) Error() string    { return e.text }
func (e *invalidArgument) InvalidArgument() {}

// NewInvalidArgument builds an InvalidArgument error.
func NewInvalidArgument(format string, args ...any) error {
	return &invalidArgument{fmt.Sprintf(format, args...)}
}

// IsInvalidArgument reports whether err (or something it wraps) is an
// InvalidArgument error.
func IsInvalidArgument(err error) bool {
	var e InvalidArgument
	return As(err, &e)
}

// DeviceError marks a failure reported by the simulated hardware itself
// (the status byte on a disk or terminal device request). Status carries
// the raw device status code, mirroring what USLOSS_DeviceOutput would
// have returned to the driver.
type DeviceError interface {
	error
	Status() int
}

type deviceError struct {
	text   string
	status int
}

func (e *deviceError) Error() string { return e.text }
func (e *deviceError) Status() int   { return e.status }

// NewDeviceError builds a DeviceError carrying the device's reported
// status code.
func NewDeviceError(status int, format string, args ...any) error {
	return &deviceError{fmt.Sprintf(format, args...), status}
}

// IsDeviceError reports whether err is a DeviceError and returns its
// status code.
func IsDeviceError(err error) (int, bool) {
	var e DeviceError
	if As(err, &e) {
		return e.Status(), true
	}
	return 0, false
}

// ProtocolViolation marks a fatal misuse of the kernel API: a syscall
// dispatched from kernel mode, or some other condition the real USLOSS
// kernel would treat as grounds to halt. Callers that receive one should
// not retry. Dispatcher.Dispatch returns it to its caller; nothing in
// this module halts or shuts down on it.
type ProtocolViolation interface {
	error
	ProtocolViolation()
}

type protocolViolation struct{ text string }

func (e *protocolViolation) Error() string      { return e.text }
func (e *protocolViolation) ProtocolViolation() {}

// NewProtocolViolation builds a ProtocolViolation error.
func NewProtocolViolation(format string, args ...any) error {
	return &protocolViolation{fmt.Sprintf(format, args...)}
}

// IsProtocolViolation reports whether err is a ProtocolViolation.
func IsProtocolViolation(err error) bool {
	var e ProtocolViolation
	return As(err, &e)
}

// ErrShutdown is returned to a blocked requester (a sleeper, a disk or
// terminal operation, a reader waiting on a line) when the supervisor
// tears the kernel down while the request is still outstanding. It is
// not a fault in the request itself, so it is not one of the tagged
// kinds above.
var ErrShutdown = New("uslossd: kernel is shutting down")
