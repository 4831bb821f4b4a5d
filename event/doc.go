// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event decodes raw Matrix events into typed values.
//
// The messaging package carries event payloads from sync and
// pagination responses as raw JSON; this package is the single place
// they are decoded. [Parse] dispatches on the wire "type" field to a
// [Kind] and its [Content] variant. Event types without a decoder
// become [KindUnknown] with the raw payload preserved; an unknown type
// is never an error, so servers can ship new event types without
// breaking ingestion.
//
// Decoding is deliberately tolerant. A known, non-ephemeral event
// missing its event_id or origin_server_ts still decodes to a usable
// [Event], accompanied by a [*MalformedEventError] naming the missing
// field; the caller decides whether to admit it. [ParseList] applies
// the same policy to a batch, preserving order and keeping flagged
// events in place.
package event
