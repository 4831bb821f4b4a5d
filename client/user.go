// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"github.com/bureau-foundation/weave/lib/ref"
)

// User is a room-independent identity record. The Connection guarantees
// at most one User per user ID; every Room holding this user as a
// member shares the same instance, so a display name update observed in
// one room is visible everywhere.
//
// The display name is the last value observed from the server, not a
// per-room override. Mutation happens only through the Connection's
// membership application path; accessors take the connection lock.
type User struct {
	conn *Connection
	id   ref.UserID

	// Guarded by conn.mu.
	displayName string
	avatarURL   string
}

// ID returns the immutable user ID.
func (u *User) ID() ref.UserID { return u.id }

// DisplayName returns the user's display name, which may be empty.
func (u *User) DisplayName() string {
	u.conn.mu.Lock()
	defer u.conn.mu.Unlock()
	return u.displayName
}

// Name returns the display name, falling back to the user ID when no
// display name has been observed.
func (u *User) Name() string {
	u.conn.mu.Lock()
	defer u.conn.mu.Unlock()
	return u.nameLocked()
}

func (u *User) nameLocked() string {
	if u.displayName == "" {
		return u.id.String()
	}
	return u.displayName
}

// AvatarURL returns the user's avatar as an mxc:// URI, or empty.
func (u *User) AvatarURL() string {
	u.conn.mu.Lock()
	defer u.conn.mu.Unlock()
	return u.avatarURL
}
