// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

// Zero overwrites a byte slice with zeros. Use on transient heap
// copies of secret material (login passwords, file contents) once the
// data has been moved into a protected Buffer.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
