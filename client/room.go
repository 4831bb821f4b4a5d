// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/bureau-foundation/weave/event"
	"github.com/bureau-foundation/weave/lib/ref"
	"github.com/bureau-foundation/weave/messaging"
)

// JoinState is the local user's membership state in a room.
type JoinState string

const (
	JoinStateJoin   JoinState = "join"
	JoinStateInvite JoinState = "invite"
	JoinStateLeave  JoinState = "leave"
)

// historyPageLimit is the number of events requested per backward
// pagination call.
const historyPageLimit = 50

// Delta is one room's slice of a sync batch: the state, timeline, and
// ephemeral event lists plus the scalar counters. Events are carried as
// raw JSON and decoded during application; malformed events are logged
// and admitted with the fields they have.
type Delta struct {
	// JoinState is the membership section the delta arrived under.
	// Empty means "leave unchanged" (initial-state application).
	JoinState JoinState

	State     []json.RawMessage
	Timeline  []json.RawMessage
	Ephemeral []json.RawMessage

	// PrevBatch is the timeline's backward pagination token. Only the
	// first token observed for a room is recorded; history fetches
	// advance the cursor through their own path.
	PrevBatch string

	HighlightCount    int
	NotificationCount int
}

// Room is the per-room state aggregate. It ingests state, timeline,
// and ephemeral events from sync deltas and maintains membership, the
// ordered timeline, read markers, typing state, and the derived
// display name.
//
// Rooms are created by their Connection on first sight and live for
// the life of the Connection. All mutable state is guarded by the
// Connection's lock; accessors may be called from any goroutine.
type Room struct {
	conn *Connection
	id   ref.RoomID

	// Guarded by conn.mu.
	name           string
	canonicalAlias ref.RoomAlias
	aliases        []ref.RoomAlias
	topic          string
	joinState      JoinState

	highlightCount    int
	notificationCount int

	// timeline is insertion-sorted by origin timestamp. Events with
	// equal timestamps keep arrival order.
	timeline []event.Event

	// members is a multimap keyed by raw display name (empty included),
	// so namesakes land in the same bucket and disambiguation falls out
	// of the bucket size. A member's rename moves its entry.
	members     map[string][]*User
	membersLeft []*User

	lastRead    map[ref.UserID]ref.EventID
	usersTyping []*User

	prevBatch       string
	displayName     string
	fetchingHistory bool
}

func newRoom(conn *Connection, id ref.RoomID) *Room {
	room := &Room{
		conn:     conn,
		id:       id,
		members:  make(map[string][]*User),
		lastRead: make(map[ref.UserID]ref.EventID),
	}
	room.displayName = room.computeDisplayNameLocked()
	return room
}

// ID returns the immutable room ID.
func (r *Room) ID() ref.RoomID { return r.id }

// Name returns the m.room.name value, which may be empty. For a
// human-facing name use DisplayName.
func (r *Room) Name() string {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.name
}

// Topic returns the room topic.
func (r *Room) Topic() string {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.topic
}

// CanonicalAlias returns the room's canonical alias, zero if unset.
func (r *Room) CanonicalAlias() ref.RoomAlias {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.canonicalAlias
}

// Aliases returns the published aliases from the last m.room.aliases
// event.
func (r *Room) Aliases() []ref.RoomAlias {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return slices.Clone(r.aliases)
}

// JoinState returns the local user's membership state in the room.
func (r *Room) JoinState() JoinState {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.joinState
}

// UnreadCounts returns the server-computed highlight and notification
// counts.
func (r *Room) UnreadCounts() (highlight, notification int) {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.highlightCount, r.notificationCount
}

// DisplayName returns the derived room display name. It is recomputed
// on every mutation that can affect it and cached between mutations.
func (r *Room) DisplayName() string {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.displayName
}

// Timeline returns a copy of the room's ordered timeline.
func (r *Room) Timeline() []event.Event {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return slices.Clone(r.timeline)
}

// Members returns the current members in no particular order.
func (r *Room) Members() []*User {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	var users []*User
	for _, bucket := range r.members {
		users = append(users, bucket...)
	}
	return users
}

// MembersLeft returns users who have departed the room, retained for
// display-name fallback.
func (r *Room) MembersLeft() []*User {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return slices.Clone(r.membersLeft)
}

// UsersTyping returns the users currently typing, per the last
// ephemeral typing event.
func (r *Room) UsersTyping() []*User {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return slices.Clone(r.usersTyping)
}

// LastReadEvent returns the event a user's read marker points at, zero
// if no receipt has been seen.
func (r *Room) LastReadEvent(user *User) ref.EventID {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.lastRead[user.id]
}

// PrevBatch returns the backward pagination cursor, empty until the
// first sync delta carrying one.
func (r *Room) PrevBatch() string {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.prevBatch
}

// MemberName returns the user's name as it should render in this room:
// the user ID when the display name is empty, the bare display name
// when unambiguous, and "name <id>" when a namesake is present.
func (r *Room) MemberName(user *User) string {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.memberNameLocked(user)
}

func (r *Room) memberNameLocked(user *User) string {
	name := user.displayName
	if name == "" {
		return user.id.String()
	}
	namesakes := r.members[name]
	if len(namesakes) == 1 {
		return name
	}
	if !slices.Contains(namesakes, user) {
		r.conn.logger.Warn("membername requested for non-member",
			"room", r.id, "user", user.id)
	}
	return name + " <" + user.id.String() + ">"
}

// ApplyInitialState admits a single state event as part of room
// bootstrap: no timeline position, no new-message hook.
func (r *Room) ApplyInitialState(ev event.Event) {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	r.applyStateLocked(ev)
}

// ApplyDelta applies one room's slice of a sync batch. Sub-sequences
// are processed in order: join state, state events, timeline events
// (ordered insert, new-message hook, then the state handler, since
// state changes ride the timeline too), ephemeral events, pagination
// cursor, unread counts.
func (r *Room) ApplyDelta(delta Delta) {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	r.applyDeltaLocked(delta)
}

func (r *Room) applyDeltaLocked(delta Delta) {
	if delta.JoinState != "" {
		r.setJoinStateLocked(delta.JoinState)
	}

	for _, ev := range r.decodeLocked(delta.State) {
		r.applyStateLocked(ev)
	}

	for _, ev := range r.decodeLocked(delta.Timeline) {
		r.insertTimelineLocked(ev)
		if r.conn.hooks.NewMessage != nil {
			r.conn.hooks.NewMessage(r, ev)
		}
		r.applyStateLocked(ev)
	}

	for _, ev := range r.decodeLocked(delta.Ephemeral) {
		r.applyEphemeralLocked(ev)
	}

	if r.prevBatch == "" && delta.PrevBatch != "" {
		r.prevBatch = delta.PrevBatch
	}

	if delta.HighlightCount != r.highlightCount || delta.NotificationCount != r.notificationCount {
		r.highlightCount = delta.HighlightCount
		r.notificationCount = delta.NotificationCount
		if r.conn.hooks.UnreadCountsChanged != nil {
			r.conn.hooks.UnreadCountsChanged(r)
		}
	}
}

// decodeLocked parses a raw event list, logging malformed entries.
// Malformed events are admitted with the fields they have; only
// undecodable input is dropped.
func (r *Room) decodeLocked(raws []json.RawMessage) []event.Event {
	events, malformed := event.ParseList(raws)
	for _, diagnostic := range malformed {
		r.conn.logger.Warn("admitting malformed event",
			"room", r.id, "kind", diagnostic.Kind, "field", diagnostic.Field)
	}
	return events
}

// usualJoinTransitions are the membership transitions the protocol
// normally produces. Anything else is accepted but logged: the server
// does not guarantee monotonicity.
var usualJoinTransitions = map[JoinState][]JoinState{
	JoinStateInvite: {JoinStateJoin, JoinStateLeave},
	JoinStateJoin:   {JoinStateLeave},
	JoinStateLeave:  {JoinStateJoin},
}

func (r *Room) setJoinStateLocked(state JoinState) {
	previous := r.joinState
	if state == previous {
		return
	}
	if previous != "" && !slices.Contains(usualJoinTransitions[previous], state) {
		r.conn.logger.Warn("unusual join state transition",
			"room", r.id, "from", previous, "to", state)
	}
	r.joinState = state
	if r.conn.hooks.JoinStateChanged != nil {
		r.conn.hooks.JoinStateChanged(r, previous, state)
	}
}

// insertTimelineLocked inserts at the first position whose timestamp is
// strictly later, so equal timestamps keep arrival order.
func (r *Room) insertTimelineLocked(ev event.Event) {
	pos := sort.Search(len(r.timeline), func(i int) bool {
		return r.timeline[i].Timestamp.After(ev.Timestamp)
	})
	r.timeline = slices.Insert(r.timeline, pos, ev)
}

func (r *Room) applyStateLocked(ev event.Event) {
	switch content := ev.Content.(type) {
	case event.NameContent:
		if r.name != content.Name {
			r.name = content.Name
			r.updateDisplayNameLocked()
		}
	case event.AliasesContent:
		// Aliases do not feed the display name; only the canonical
		// alias does.
		r.aliases = content.Aliases
	case event.CanonicalAliasContent:
		if r.canonicalAlias != content.Alias {
			r.canonicalAlias = content.Alias
			r.updateDisplayNameLocked()
		}
	case event.TopicContent:
		if r.topic != content.Topic {
			r.topic = content.Topic
			if r.conn.hooks.TopicChanged != nil {
				r.conn.hooks.TopicChanged(r, r.topic)
			}
		}
	case event.MemberContent:
		r.applyMemberLocked(ev, content)
	}
}

func (r *Room) applyMemberLocked(ev event.Event, content event.MemberContent) {
	if ev.StateKey == nil {
		r.conn.logger.Warn("member event without state key", "room", r.id)
		return
	}
	userID, err := ref.ParseUserID(*ev.StateKey)
	if err != nil {
		r.conn.logger.Warn("member event with bad state key",
			"room", r.id, "state_key", *ev.StateKey, "error", err)
		return
	}

	user := r.conn.resolveUserLocked(userID)
	r.conn.applyProfileLocked(user, content.DisplayName, content.AvatarURL)

	switch content.Membership {
	case event.MembershipJoin:
		r.addMemberLocked(user)
	case event.MembershipLeave, event.MembershipBan:
		r.removeMemberLocked(user)
	}
}

func (r *Room) hasMemberLocked(user *User) bool {
	return slices.Contains(r.members[user.displayName], user)
}

// addMemberLocked admits a user into the member map. Re-adding a
// present member is a silent no-op.
func (r *Room) addMemberLocked(user *User) {
	if r.hasMemberLocked(user) {
		return
	}
	r.insertMemberIntoMapLocked(user)
	if r.conn.hooks.MemberAdded != nil {
		r.conn.hooks.MemberAdded(r, user)
	}
}

func (r *Room) removeMemberLocked(user *User) {
	if !r.hasMemberLocked(user) {
		return
	}
	if !slices.Contains(r.membersLeft, user) {
		r.membersLeft = append(r.membersLeft, user)
	}
	r.removeMemberFromMapLocked(user.displayName, user)
	if r.conn.hooks.MemberRemoved != nil {
		r.conn.hooks.MemberRemoved(r, user)
	}
}

// insertMemberIntoMapLocked adds the user under its current display
// name. If exactly one namesake was already present, that member's
// rendered name gains an ID suffix, so it gets a rename hook.
func (r *Room) insertMemberIntoMapLocked(user *User) {
	namesakes := r.members[user.displayName]
	r.members[user.displayName] = append(namesakes, user)
	if len(namesakes) == 1 && r.conn.hooks.MemberRenamed != nil {
		r.conn.hooks.MemberRenamed(r, namesakes[0])
	}
	r.updateDisplayNameLocked()
}

// removeMemberFromMapLocked removes the user from the given name
// bucket. If exactly one namesake remains, it no longer needs
// disambiguation, so it gets a rename hook.
func (r *Room) removeMemberFromMapLocked(name string, user *User) {
	bucket := r.members[name]
	if i := slices.Index(bucket, user); i >= 0 {
		bucket = slices.Delete(bucket, i, i+1)
	}
	if len(bucket) == 0 {
		delete(r.members, name)
	} else {
		r.members[name] = bucket
	}
	if len(bucket) == 1 && r.conn.hooks.MemberRenamed != nil {
		r.conn.hooks.MemberRenamed(r, bucket[0])
	}
	r.updateDisplayNameLocked()
}

// renameMemberLocked moves a member between name buckets after a
// registry-level display name change. Called by the Connection for
// every room; rooms where the user is not a member under the old name
// ignore the call.
func (r *Room) renameMemberLocked(user *User, oldName string) {
	if r.hasMemberLocked(user) {
		r.conn.logger.Warn("member already present under new name",
			"room", r.id, "user", user.id, "name", user.displayName)
		return
	}
	if !slices.Contains(r.members[oldName], user) {
		return
	}
	r.removeMemberFromMapLocked(oldName, user)
	r.insertMemberIntoMapLocked(user)
	if r.conn.hooks.MemberRenamed != nil {
		r.conn.hooks.MemberRenamed(r, user)
	}
}

func (r *Room) applyEphemeralLocked(ev event.Event) {
	switch content := ev.Content.(type) {
	case event.TypingContent:
		typing := make([]*User, 0, len(content.UserIDs))
		for _, userID := range content.UserIDs {
			typing = append(typing, r.conn.resolveUserLocked(userID))
		}
		r.usersTyping = typing
		if r.conn.hooks.TypingChanged != nil {
			r.conn.hooks.TypingChanged(r)
		}
	case event.ReceiptContent:
		// Last write wins: no ordering check against the previous
		// marker, so a receipt for an older event moves the marker
		// backwards. This matches server semantics for m.read.
		for eventID, receipts := range content.Receipts {
			for _, receipt := range receipts {
				user := r.conn.resolveUserLocked(receipt.UserID)
				if r.lastRead[user.id] == eventID {
					continue
				}
				r.lastRead[user.id] = eventID
				if r.conn.hooks.ReadMarkerChanged != nil {
					r.conn.hooks.ReadMarkerChanged(r, user, eventID)
				}
			}
		}
	}
}

func (r *Room) updateDisplayNameLocked() {
	previous := r.displayName
	r.displayName = r.computeDisplayNameLocked()
	if r.displayName != previous && r.conn.hooks.DisplayNameChanged != nil {
		r.conn.hooks.DisplayNameChanged(r, r.displayName)
	}
}

// computeDisplayNameLocked derives the room display name per the
// client-server spec's room summary algorithm: explicit name first
// (suffixed with the canonical alias when both are set, to tell
// same-named rooms apart), then the canonical alias, then member
// names, then departed-member names, then the room ID.
func (r *Room) computeDisplayNameLocked() string {
	if r.name != "" {
		if r.canonicalAlias.IsZero() {
			return r.name
		}
		return r.name + " <" + r.canonicalAlias.String() + ">"
	}
	if !r.canonicalAlias.IsZero() {
		return r.canonicalAlias.String()
	}

	var members []*User
	for _, bucket := range r.members {
		members = append(members, bucket...)
	}
	if fromMembers := r.nameFromMembersLocked(members); fromMembers != "" {
		return fromMembers
	}
	if fromLeft := r.nameFromMembersLocked(r.membersLeft); fromLeft != "" {
		return "Empty room (was: " + fromLeft + ")"
	}
	return "Empty room (" + r.id.String() + ")"
}

// nameFromMembersLocked renders a member-derived room name from the
// given user list (local user included in the count but never named):
// the other member for a one-on-one room, "A and B" for three members,
// "A and N others" beyond that. Empty when the local user is alone.
func (r *Room) nameFromMembersLocked(users []*User) string {
	others := make([]*User, 0, len(users))
	for _, user := range users {
		if user.id != r.conn.localUser {
			others = append(others, user)
		}
	}
	slices.SortFunc(others, func(a, b *User) int {
		return strings.Compare(a.id.String(), b.id.String())
	})

	total := len(users)
	switch {
	case total == 2 && len(others) >= 1:
		return r.memberNameLocked(others[0])
	case total == 3 && len(others) >= 2:
		return r.memberNameLocked(others[0]) + " and " + r.memberNameLocked(others[1])
	case total > 3 && len(others) >= 1:
		return fmt.Sprintf("%s and %d others", r.memberNameLocked(others[0]), total-3)
	default:
		return ""
	}
}

// FetchEarlierPage fetches one page of older history, ending at the
// stored pagination cursor, and inserts the returned events into the
// timeline through the ordered-insert and new-message path. At most
// one fetch runs per room; a call while one is in flight is a no-op.
// Backfilled state events are not re-applied to room state, so stale
// history cannot regress current membership.
func (r *Room) FetchEarlierPage(ctx context.Context) error {
	conn := r.conn

	conn.mu.Lock()
	if r.fetchingHistory {
		conn.mu.Unlock()
		return nil
	}
	cursor := r.prevBatch
	if cursor == "" {
		conn.mu.Unlock()
		return fmt.Errorf("room %s has no pagination cursor yet", r.id)
	}
	r.fetchingHistory = true
	conn.mu.Unlock()

	// Network I/O happens outside the lock; sync application may
	// proceed concurrently.
	response, err := conn.session.RoomMessages(ctx, r.id, messaging.RoomMessagesOptions{
		From:      cursor,
		Direction: "b",
		Limit:     historyPageLimit,
	})

	conn.mu.Lock()
	defer conn.mu.Unlock()
	r.fetchingHistory = false
	if err != nil {
		return fmt.Errorf("fetching history for %s: %w", r.id, err)
	}

	for _, ev := range r.decodeLocked(response.Chunk) {
		r.insertTimelineLocked(ev)
		if conn.hooks.NewMessage != nil {
			conn.hooks.NewMessage(r, ev)
		}
	}
	r.prevBatch = response.End
	return nil
}
