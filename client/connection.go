// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/weave/lib/clock"
	"github.com/bureau-foundation/weave/lib/ref"
	"github.com/bureau-foundation/weave/messaging"
)

const (
	defaultSyncTimeout = 30 * time.Second

	// Backoff bounds for SyncLoop transport-error retries.
	syncBackoffInitial = time.Second
	syncBackoffMax     = 30 * time.Second
)

// Config configures a Connection.
type Config struct {
	// Session performs the Matrix API calls. Required.
	Session messaging.Session

	// Hooks receive change notifications. All fields optional.
	Hooks Hooks

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock drives SyncLoop backoff. Defaults to the real clock.
	Clock clock.Clock

	// SyncTimeout is the server-side long-poll timeout. Defaults to
	// 30 seconds.
	SyncTimeout time.Duration

	// Filter is an optional filter ID or inline JSON filter applied to
	// every sync request.
	Filter string
}

// Connection owns the room and user registries for one authenticated
// session and drives sync ingestion. All mutation is serialized under
// a single lock: no two deltas for the same Connection are ever
// applied concurrently, and no I/O happens while the lock is held.
type Connection struct {
	session     messaging.Session
	hooks       Hooks
	logger      *slog.Logger
	clock       clock.Clock
	syncTimeout time.Duration
	filter      string
	localUser   ref.UserID

	// mu guards rooms, users, nextBatch, generation, and all Room and
	// User mutable fields.
	mu         sync.Mutex
	rooms      map[ref.RoomID]*Room
	users      map[ref.UserID]*User
	nextBatch  string
	generation uint64

	// flightMu guards flight, the single outstanding sync.
	flightMu sync.Mutex
	flight   *syncFlight
}

// NewConnection creates a Connection over an authenticated session.
func NewConnection(config Config) (*Connection, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("client: Config.Session is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = defaultSyncTimeout
	}
	return &Connection{
		session:     config.Session,
		hooks:       config.Hooks,
		logger:      config.Logger,
		clock:       config.Clock,
		syncTimeout: config.SyncTimeout,
		filter:      config.Filter,
		localUser:   config.Session.UserID(),
		rooms:       make(map[ref.RoomID]*Room),
		users:       make(map[ref.UserID]*User),
	}, nil
}

// UserID returns the local user's ID.
func (c *Connection) UserID() ref.UserID { return c.localUser }

// Session returns the underlying messaging session for direct API
// calls (sending messages, typing notifications, receipts).
func (c *Connection) Session() messaging.Session { return c.session }

// NextBatch returns the sync cursor to resume from.
func (c *Connection) NextBatch() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextBatch
}

// User returns the registry entry for a user ID, creating it on first
// reference. Entries are never evicted.
func (c *Connection) User(id ref.UserID) *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveUserLocked(id)
}

func (c *Connection) resolveUserLocked(id ref.UserID) *User {
	if user, ok := c.users[id]; ok {
		return user
	}
	user := &User{conn: c, id: id}
	c.users[id] = user
	return user
}

// Room returns the room with the given ID, or nil if the Connection
// has not seen it.
func (c *Connection) Room(id ref.RoomID) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[id]
}

// Rooms returns all known rooms in no particular order.
func (c *Connection) Rooms() []*Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// resolveRoomLocked returns the room for an ID, creating it and firing
// the room-discovered hook on first sight.
func (c *Connection) resolveRoomLocked(id ref.RoomID) *Room {
	if room, ok := c.rooms[id]; ok {
		return room
	}
	room := newRoom(c, id)
	c.rooms[id] = room
	if c.hooks.RoomDiscovered != nil {
		c.hooks.RoomDiscovered(room)
	}
	return room
}

// applyProfileLocked updates a user's registry-level display name and
// avatar from a membership event, firing hooks only on actual change.
// A rename moves the user's member-map entry in every room that holds
// it, with disambiguation hooks on both the old and new name buckets.
func (c *Connection) applyProfileLocked(user *User, displayName, avatarURL string) {
	if user.displayName != displayName {
		oldName := user.displayName
		user.displayName = displayName
		for _, room := range c.rooms {
			room.renameMemberLocked(user, oldName)
		}
		if c.hooks.UserRenamed != nil {
			c.hooks.UserRenamed(user, oldName)
		}
	}
	if user.avatarURL != avatarURL {
		user.avatarURL = avatarURL
		if c.hooks.UserAvatarChanged != nil {
			c.hooks.UserAvatarChanged(user)
		}
	}
}

// Ingest applies a decoded sync batch: one delta per room, then the
// next-batch cursor. Deltas with an empty room ID are skipped with a
// warning. Ingest is pure computation over already-decoded data; it
// never blocks on I/O.
func (c *Connection) Ingest(response *messaging.SyncResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ingestLocked(response)
}

func (c *Connection) ingestLocked(response *messaging.SyncResponse) {
	for roomID, joined := range response.Rooms.Join {
		if roomID.IsZero() {
			c.logger.Warn("skipping joined-room delta with empty room ID")
			continue
		}
		c.resolveRoomLocked(roomID).applyDeltaLocked(Delta{
			JoinState:         JoinStateJoin,
			State:             joined.State.Events,
			Timeline:          joined.Timeline.Events,
			Ephemeral:         joined.Ephemeral.Events,
			PrevBatch:         joined.Timeline.PrevBatch,
			HighlightCount:    joined.UnreadNotifications.HighlightCount,
			NotificationCount: joined.UnreadNotifications.NotificationCount,
		})
	}
	for roomID, invited := range response.Rooms.Invite {
		if roomID.IsZero() {
			c.logger.Warn("skipping invited-room delta with empty room ID")
			continue
		}
		c.resolveRoomLocked(roomID).applyDeltaLocked(Delta{
			JoinState: JoinStateInvite,
			State:     invited.InviteState.Events,
		})
	}
	for roomID, left := range response.Rooms.Leave {
		if roomID.IsZero() {
			c.logger.Warn("skipping left-room delta with empty room ID")
			continue
		}
		c.resolveRoomLocked(roomID).applyDeltaLocked(Delta{
			JoinState: JoinStateLeave,
			State:     left.State.Events,
			Timeline:  left.Timeline.Events,
			PrevBatch: left.Timeline.PrevBatch,
		})
	}
	c.nextBatch = response.NextBatch
}

type syncFlight struct {
	done chan struct{}
	err  error
}

// Sync performs one long-poll against the homeserver and ingests the
// result. At most one sync is outstanding per Connection: a concurrent
// call coalesces onto the in-flight request and returns its result
// rather than issuing a duplicate.
func (c *Connection) Sync(ctx context.Context) error {
	c.flightMu.Lock()
	if inflight := c.flight; inflight != nil {
		c.flightMu.Unlock()
		select {
		case <-inflight.done:
			return inflight.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	flight := &syncFlight{done: make(chan struct{})}
	c.flight = flight
	c.flightMu.Unlock()

	flight.err = c.syncOnce(ctx)

	c.flightMu.Lock()
	c.flight = nil
	c.flightMu.Unlock()
	close(flight.done)
	return flight.err
}

func (c *Connection) syncOnce(ctx context.Context) error {
	c.mu.Lock()
	since := c.nextBatch
	generation := c.generation
	c.mu.Unlock()

	response, err := c.session.Sync(ctx, messaging.SyncOptions{
		Since:      since,
		Timeout:    int(c.syncTimeout.Milliseconds()),
		SetTimeout: true,
		Filter:     c.filter,
	})
	if err != nil {
		return fmt.Errorf("sync since %q: %w", since, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		// State was replaced (snapshot restore) while the poll was in
		// flight; the result belongs to the superseded state.
		c.logger.Warn("discarding superseded sync result", "since", since)
		return nil
	}
	c.ingestLocked(response)
	return nil
}

// SyncLoop long-polls until the context is cancelled or the session's
// credentials stop working. Transport errors back off exponentially on
// the injected clock; any successful sync resets the backoff.
func (c *Connection) SyncLoop(ctx context.Context) error {
	backoff := syncBackoffInitial
	for {
		err := c.Sync(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = syncBackoffInitial
			continue
		}
		if messaging.IsAuthError(err) {
			return fmt.Errorf("sync loop stopping: %w", err)
		}

		c.logger.Warn("sync failed, backing off", "error", err, "backoff", backoff)
		select {
		case <-c.clock.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, syncBackoffMax)
	}
}
