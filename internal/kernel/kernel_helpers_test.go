// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernel_test

import "github.com/go-logr/logr"

func discardLogger() logr.Logger {
	return logr.Discard()
}
