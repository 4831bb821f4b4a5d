// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for Weave.
//
// The package provides two core types. [Client] is an unauthenticated
// Matrix client that handles registration (token-authenticated via the
// MSC3231 UIAA flow) and login, returning authenticated [DirectSession]
// values. Client holds the homeserver URL and HTTP transport, shared
// across all sessions derived from it. [DiscoverServer] resolves a bare
// server name to the homeserver base URL via the .well-known document,
// falling back to a _matrix._tcp SRV lookup and finally the server name
// itself.
//
// [DirectSession] wraps a Client with an access token for authenticated
// operations: incremental sync with long-polling, room management
// (create, join, leave, forget, invite, kick), messaging (send events,
// room messages with pagination, typing notifications, read receipts),
// state events (get/set individual events, full room state), room alias
// resolution, profile display names, and media upload and thumbnails.
//
// Sessions are lightweight (a pointer to the parent Client plus an
// access token in mmap-backed secret.Buffer memory). The access token
// is locked against swap and excluded from core dumps; callers must
// call Close to release the protected memory.
//
// Event payloads in sync and pagination responses are carried as raw
// JSON. The event package decodes them into typed content, tolerating
// event types this library has never seen. All API errors are returned
// as [*MatrixError] with the standard Matrix error code (M_FORBIDDEN,
// M_NOT_FOUND, etc.) and HTTP status code; [IsMatrixError] tests for a
// specific code and [IsAuthError] classifies token-invalidation errors.
// Request URLs are built by string concatenation rather than url.URL to
// avoid double-encoding of path segments that contain URL-encoded
// characters (such as room aliases with slashes).
//
// Thread support is first-class: [NewTextMessage] creates a plain
// message, [NewThreadReply] creates a threaded reply with the m.thread
// relation type, and [ComposeMarkdown] renders markdown source into an
// org.matrix.custom.html formatted body.
package messaging
