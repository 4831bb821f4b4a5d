// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the room state engine: it consumes server-pushed
// sync batches and incrementally reconstructs per-room state.
//
// A [Connection] owns the room and user registries for one
// authenticated session. [Connection.SyncLoop] long-polls the
// homeserver and feeds each batch through [Connection.Ingest], which
// splits it into per-room deltas and applies them to [Room]
// aggregates: membership (with namesake disambiguation), the
// timestamp-ordered timeline, topic and alias state, typing sets, read
// markers, and the derived room display name. Change notifications go
// out through the [Hooks] callbacks, synchronously after each
// mutation.
//
// Users are deduplicated across rooms: the Connection guarantees at
// most one [User] per user ID, and rooms hold shared references into
// that registry, so a profile update lands everywhere at once.
//
// All mutation is serialized under one lock per Connection, and the
// mutation path never performs I/O. Network operations (the sync
// long-poll, [Room.FetchEarlierPage]) run outside the lock, with
// single-flight guards preventing duplicate concurrent requests.
package client
