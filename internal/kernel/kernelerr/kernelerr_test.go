// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernelerr_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yikaicao/uslossd/internal/kernel/kernelerr"
)

func TestInvalidArgument(t *testing.T) {
	err := kernelerr.NewInvalidArgument("unit %d out of range", 7)
	assert.True(t, kernelerr.IsInvalidArgument(err))
	_, isDevice := kernelerr.IsDeviceError(err)
	assert.False(t, isDevice)
	assert.False(t, kernelerr.IsProtocolViolation(err))

	wrapped := fmt.Errorf("diskread: %w", err)
	assert.True(t, kernelerr.IsInvalidArgument(wrapped))
}

func TestDeviceError(t *testing.T) {
	err := kernelerr.NewDeviceError(3, "seek failed on unit %d", 1)
	status, ok := kernelerr.IsDeviceError(err)
	assert.True(t, ok)
	assert.Equal(t, 3, status)
	assert.False(t, kernelerr.IsInvalidArgument(err))
}

func TestProtocolViolation(t *testing.T) {
	err := kernelerr.NewProtocolViolation("syscall issued from kernel mode")
	assert.True(t, kernelerr.IsProtocolViolation(err))
	assert.False(t, kernelerr.IsInvalidArgument(err))
}

func TestShutdownSentinel(t *testing.T) {
	assert.True(t, kernelerr.Is(kernelerr.ErrShutdown, kernelerr.ErrShutdown))
}
