// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Weave's standard CBOR encoding configuration.
//
// Weave uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the Matrix Client-Server API,
//     homeserver discovery documents, and CLI output.
//   - CBOR for local persistence: the on-disk room state cache and
//     any other files Weave writes for itself.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Weave package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, so a cache snapshot of unchanged state is byte-stable across
// saves.
//
// Usage:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It will
//     never be marshaled to JSON. Examples: state cache snapshot
//     records.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: wire types from the
//     Matrix API that also appear in cached state.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract; doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
