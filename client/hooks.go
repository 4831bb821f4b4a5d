// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"github.com/bureau-foundation/weave/event"
	"github.com/bureau-foundation/weave/lib/ref"
)

// Hooks are optional callbacks fired by the Connection as state
// mutations are applied. A nil field is skipped. Hooks fire
// synchronously, after the triggering mutation and before the applying
// call returns, so an observer always sees the post-mutation state.
//
// Hooks run with the connection lock held. They must return quickly
// and must not call back into Connection, Room, or User methods;
// capture what you need from the arguments and hand off to another
// goroutine for anything heavier.
type Hooks struct {
	// RoomDiscovered fires when a sync delta references a room ID the
	// Connection has not seen before.
	RoomDiscovered func(room *Room)

	// NewMessage fires for every event inserted into a room timeline,
	// both live sync events and backfilled history pages.
	NewMessage func(room *Room, ev event.Event)

	// DisplayNameChanged fires when a room's derived display name
	// changes for any reason (name or canonical alias state events,
	// membership churn, member renames).
	DisplayNameChanged func(room *Room, displayName string)

	// TopicChanged fires when a room topic state event changes the
	// stored topic.
	TopicChanged func(room *Room, topic string)

	// MemberAdded and MemberRemoved fire on membership transitions
	// into and out of the room's member map.
	MemberAdded   func(room *Room, user *User)
	MemberRemoved func(room *Room, user *User)

	// MemberRenamed fires when a member's rendered name in this room
	// must change: the member itself was renamed, or a namesake
	// appeared or departed and the member's disambiguation status
	// flipped.
	MemberRenamed func(room *Room, user *User)

	// UserRenamed and UserAvatarChanged fire on registry-level profile
	// changes, at most once per observed change regardless of how many
	// rooms share the user.
	UserRenamed       func(user *User, previousName string)
	UserAvatarChanged func(user *User)

	// TypingChanged fires when a room's typing set is replaced.
	TypingChanged func(room *Room)

	// ReadMarkerChanged fires when a read receipt moves a user's
	// last-read marker in a room.
	ReadMarkerChanged func(room *Room, user *User, eventID ref.EventID)

	// UnreadCountsChanged fires when the server-computed highlight or
	// notification count changes.
	UnreadCountsChanged func(room *Room)

	// JoinStateChanged fires when the local user's membership state in
	// a room changes.
	JoinStateChanged func(room *Room, previous, current JoinState)
}
