// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bureau-foundation/weave/lib/ref"
)

// Session is the interface for authenticated Matrix operations. The
// production implementation is *DirectSession; the client package's
// Connection accepts this interface so tests can substitute a fake
// without an HTTP server.
//
// Credential-lifecycle methods (AccessToken, DeviceID, Logout,
// LogoutAll) are not part of this interface. Code that needs them
// should hold the *DirectSession directly.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID.
	UserID() ref.UserID

	// Close releases any resources held by the session. Idempotent.
	Close() error

	// WhoAmI validates the session and returns the user ID.
	WhoAmI(ctx context.Context) (ref.UserID, error)

	// Sync performs an incremental sync with the homeserver.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// RoomMessages fetches paginated messages from a room.
	RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	// GetRoomState fetches all current state events from a room.
	GetRoomState(ctx context.Context, roomID ref.RoomID) ([]json.RawMessage, error)

	// GetStateEvent fetches a specific state event's content from a room.
	// Returns the raw JSON content for the caller to unmarshal.
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)

	// SendEvent sends an event of any type to a room. Returns the event ID.
	SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error)

	// SendMessage sends a message to a room. Returns the event ID.
	SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error)

	// SendStateEvent sends a state event to a room. Returns the event ID.
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error)

	// SendTyping publishes the session user's typing state to a room.
	SendTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeout time.Duration) error

	// SendReceipt posts a read receipt for an event in a room.
	SendReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error

	// CreateRoom creates a new Matrix room.
	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)

	// JoinRoom joins a room by room ID. Returns the room ID. To join
	// by alias, resolve with ResolveAlias first.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// LeaveRoom leaves a room by room ID.
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error

	// ForgetRoom removes a left room from the user's room list.
	ForgetRoom(ctx context.Context, roomID ref.RoomID) error

	// InviteUser invites a user to a room.
	InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error

	// JoinedRooms returns the list of room IDs the user has joined.
	JoinedRooms(ctx context.Context) ([]ref.RoomID, error)

	// GetRoomMembers returns the members of a room.
	GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error)

	// ResolveAlias resolves a room alias to a room ID.
	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)

	// GetDisplayName fetches a user's profile display name.
	GetDisplayName(ctx context.Context, userID ref.UserID) (string, error)

	// MediaThumbnail downloads a server-generated thumbnail for an MXC URI.
	MediaThumbnail(ctx context.Context, mxcURI string, width, height int) ([]byte, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
