// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state, timeline, or ephemeral event
// type (e.g., "m.room.member", "m.typing"). Standard type constants
// live in the event package alongside their content decoders.
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no parsing or validation, and the
// set is open (servers may deliver types this library has never seen).
// The type exists for compile-time safety, preventing accidental use
// of a state key where an event type is expected (or vice versa).
type EventType string

// String returns the event type string (e.g., "m.room.member").
func (t EventType) String() string { return string(t) }
