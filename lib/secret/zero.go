// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import "runtime"

// Zero overwrites every byte of the slice. The KeepAlive prevents the
// compiler from eliding the wipe as a dead store when the slice is not
// used afterwards.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
	runtime.KeepAlive(&data)
}
