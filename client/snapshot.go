// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/weave/lib/ref"
)

// Snapshot is a point-in-time capture of a Connection's resumable
// state: the sync cursor, the user registry, and per-room metadata.
// Timelines are not captured; they are rebuilt from sync and history
// pagination after a restore.
//
// All slices are sorted by ID so that serializing the same state twice
// yields identical bytes.
type Snapshot struct {
	NextBatch string         `json:"next_batch"`
	Users     []UserSnapshot `json:"users,omitempty"`
	Rooms     []RoomSnapshot `json:"rooms,omitempty"`
}

// UserSnapshot captures one user registry entry.
type UserSnapshot struct {
	ID          ref.UserID `json:"id"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// RoomSnapshot captures one room's metadata and membership. Members
// reference the user registry by ID.
type RoomSnapshot struct {
	ID                ref.RoomID           `json:"id"`
	Name              string               `json:"name,omitempty"`
	CanonicalAlias    ref.RoomAlias        `json:"canonical_alias,omitempty"`
	Aliases           []ref.RoomAlias      `json:"aliases,omitempty"`
	Topic             string               `json:"topic,omitempty"`
	JoinState         JoinState            `json:"join_state,omitempty"`
	HighlightCount    int                  `json:"highlight_count,omitempty"`
	NotificationCount int                  `json:"notification_count,omitempty"`
	PrevBatch         string               `json:"prev_batch,omitempty"`
	Members           []ref.UserID         `json:"members,omitempty"`
	MembersLeft       []ref.UserID         `json:"members_left,omitempty"`
	ReadMarkers       []ReadMarkerSnapshot `json:"read_markers,omitempty"`
}

// ReadMarkerSnapshot captures one user's last-read marker in a room.
type ReadMarkerSnapshot struct {
	UserID  ref.UserID  `json:"user_id"`
	EventID ref.EventID `json:"event_id"`
}

// Snapshot captures the Connection's resumable state.
func (c *Connection) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := &Snapshot{NextBatch: c.nextBatch}

	for _, user := range c.users {
		snapshot.Users = append(snapshot.Users, UserSnapshot{
			ID:          user.id,
			DisplayName: user.displayName,
			AvatarURL:   user.avatarURL,
		})
	}
	slices.SortFunc(snapshot.Users, func(a, b UserSnapshot) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	for _, room := range c.rooms {
		entry := RoomSnapshot{
			ID:                room.id,
			Name:              room.name,
			CanonicalAlias:    room.canonicalAlias,
			Aliases:           slices.Clone(room.aliases),
			Topic:             room.topic,
			JoinState:         room.joinState,
			HighlightCount:    room.highlightCount,
			NotificationCount: room.notificationCount,
			PrevBatch:         room.prevBatch,
		}
		for _, bucket := range room.members {
			for _, user := range bucket {
				entry.Members = append(entry.Members, user.id)
			}
		}
		for _, user := range room.membersLeft {
			entry.MembersLeft = append(entry.MembersLeft, user.id)
		}
		for userID, eventID := range room.lastRead {
			entry.ReadMarkers = append(entry.ReadMarkers, ReadMarkerSnapshot{
				UserID:  userID,
				EventID: eventID,
			})
		}
		sortUserIDs(entry.Members)
		sortUserIDs(entry.MembersLeft)
		slices.SortFunc(entry.ReadMarkers, func(a, b ReadMarkerSnapshot) int {
			return strings.Compare(a.UserID.String(), b.UserID.String())
		})
		snapshot.Rooms = append(snapshot.Rooms, entry)
	}
	slices.SortFunc(snapshot.Rooms, func(a, b RoomSnapshot) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return snapshot
}

// Restore replaces the Connection's state with a snapshot, letting a
// restarting client resume sync without an initial full sync. Restore
// fires no hooks: the restored state is not news to the caller. Any
// in-flight sync is superseded; its result will be discarded.
func (c *Connection) Restore(snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("client: nil snapshot")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.nextBatch = snapshot.NextBatch
	c.users = make(map[ref.UserID]*User, len(snapshot.Users))
	c.rooms = make(map[ref.RoomID]*Room, len(snapshot.Rooms))

	for _, entry := range snapshot.Users {
		if entry.ID.IsZero() {
			return fmt.Errorf("client: snapshot user with zero ID")
		}
		c.users[entry.ID] = &User{
			conn:        c,
			id:          entry.ID,
			displayName: entry.DisplayName,
			avatarURL:   entry.AvatarURL,
		}
	}

	for _, entry := range snapshot.Rooms {
		if entry.ID.IsZero() {
			return fmt.Errorf("client: snapshot room with zero ID")
		}
		room := newRoom(c, entry.ID)
		room.name = entry.Name
		room.canonicalAlias = entry.CanonicalAlias
		room.aliases = slices.Clone(entry.Aliases)
		room.topic = entry.Topic
		room.joinState = entry.JoinState
		room.highlightCount = entry.HighlightCount
		room.notificationCount = entry.NotificationCount
		room.prevBatch = entry.PrevBatch

		for _, userID := range entry.Members {
			user := c.resolveUserLocked(userID)
			room.members[user.displayName] = append(room.members[user.displayName], user)
		}
		for _, userID := range entry.MembersLeft {
			room.membersLeft = append(room.membersLeft, c.resolveUserLocked(userID))
		}
		for _, marker := range entry.ReadMarkers {
			room.lastRead[marker.UserID] = marker.EventID
		}

		room.displayName = room.computeDisplayNameLocked()
		c.rooms[entry.ID] = room
	}

	return nil
}

func sortUserIDs(ids []ref.UserID) {
	slices.SortFunc(ids, func(a, b ref.UserID) int {
		return strings.Compare(a.String(), b.String())
	})
}
