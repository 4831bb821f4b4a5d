// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identifier values for
// the Matrix protocol: user IDs, room IDs, event IDs, room aliases,
// server names, and event types.
//
// Matrix identifiers are sigil-prefixed strings ('@' for users, '!' for
// rooms, '$' for events, '#' for aliases). Passing them around as bare
// strings invites sigil confusion — a room alias where a room ID is
// expected, a user ID where a state key is expected. Every identifier
// that crosses a package boundary in weave is parsed into one of these
// types at the wire boundary and carried as a typed value from there on.
//
// All constructors validate their inputs and return errors for invalid
// identifiers; Must* variants panic and are for tests and static
// initialization only. Once constructed a ref is immutable. The zero
// value of each type is "unset", reported by IsZero — never a valid
// identifier.
//
// JSON and CBOR serialization use the canonical string form via
// encoding.TextMarshaler / TextUnmarshaler, so map keys and struct
// fields holding ref types round-trip with validation applied on the
// way in.
package ref
