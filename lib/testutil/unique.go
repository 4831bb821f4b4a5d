// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now()
// when a test needs distinguishable message bodies or transaction
// IDs; clock-derived IDs collide when sends land in the same
// millisecond.
//
//	txnID := testutil.UniqueID("txn")  // "txn-1", "txn-2", ...
//	body := testutil.UniqueID("msg")   // "msg-3", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
