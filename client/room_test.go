// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/bureau-foundation/weave/event"
	"github.com/bureau-foundation/weave/lib/ref"
)

func mustParseEvent(t *testing.T, raw json.RawMessage) event.Event {
	t.Helper()
	parsed, err := event.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return parsed
}

// newTestConnection builds a Connection over a no-op fake session for
// engine-level tests that never touch the network.
func newTestConnection(t *testing.T, hooks Hooks) *Connection {
	t.Helper()
	conn, err := NewConnection(Config{
		Session: &fakeSession{userID: ref.MustParseUserID("@self:example.com")},
		Hooks:   hooks,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	return conn
}

// newTestRoom registers a joined room directly, bypassing sync.
func newTestRoom(conn *Connection, id string) *Room {
	roomID := ref.MustParseRoomID(id)
	room := newRoom(conn, roomID)
	room.joinState = JoinStateJoin
	conn.rooms[roomID] = room
	return room
}

func rawMessage(eventID string, timestamp int64, body string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"m.room.message","event_id":"%s","origin_server_ts":%d,"sender":"@self:example.com","content":{"msgtype":"m.text","body":"%s"}}`,
		eventID, timestamp, body))
}

func rawMember(eventID, userID, displayName, membership string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"m.room.member","event_id":"%s","origin_server_ts":1000,"sender":"%s","state_key":"%s","content":{"membership":"%s","displayname":"%s"}}`,
		eventID, userID, userID, membership, displayName))
}

func rawName(eventID, name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"m.room.name","event_id":"%s","origin_server_ts":1000,"sender":"@self:example.com","state_key":"","content":{"name":"%s"}}`,
		eventID, name))
}

func rawCanonicalAlias(eventID, alias string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"m.room.canonical_alias","event_id":"%s","origin_server_ts":1000,"sender":"@self:example.com","state_key":"","content":{"alias":"%s"}}`,
		eventID, alias))
}

func TestTimelineInsertionIsStable(t *testing.T) {
	conn := newTestConnection(t, Hooks{})
	room := newTestRoom(conn, "!r:example.com")

	// Out-of-order arrival: timestamps 5, 1, 3 must settle as 1, 3, 5.
	room.ApplyDelta(Delta{Timeline: []json.RawMessage{rawMessage("$a", 5, "five")}})
	room.ApplyDelta(Delta{Timeline: []json.RawMessage{rawMessage("$b", 1, "one")}})
	room.ApplyDelta(Delta{Timeline: []json.RawMessage{rawMessage("$c", 3, "three")}})

	timeline := room.Timeline()
	if len(timeline) != 3 {
		t.Fatalf("expected 3 events, got %d", len(timeline))
	}
	want := []string{"$b", "$c", "$a"}
	for i, eventID := range want {
		if timeline[i].ID != ref.MustParseEventID(eventID) {
			t.Errorf("position %d: expected %s, got %v", i, eventID, timeline[i].ID)
		}
	}
}

func TestTimelineEqualTimestampsKeepArrivalOrder(t *testing.T) {
	conn := newTestConnection(t, Hooks{})
	room := newTestRoom(conn, "!r:example.com")

	room.ApplyDelta(Delta{Timeline: []json.RawMessage{
		rawMessage("$first", 7, "first"),
		rawMessage("$second", 7, "second"),
	}})

	timeline := room.Timeline()
	if timeline[0].ID != ref.MustParseEventID("$first") || timeline[1].ID != ref.MustParseEventID("$second") {
		t.Errorf("arrival order not preserved: %v, %v", timeline[0].ID, timeline[1].ID)
	}
}

func TestNamesakeDisambiguation(t *testing.T) {
	var renamed []*User
	conn := newTestConnection(t, Hooks{
		MemberRenamed: func(_ *Room, user *User) { renamed = append(renamed, user) },
	})
	room := newTestRoom(conn, "!r:example.com")

	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m1", "@alpha:example.com", "Al", "join"),
	}})
	if len(renamed) != 0 {
		t.Fatalf("first join under a name must not fire renames, got %d", len(renamed))
	}

	// The second namesake forces the pre-existing member to render
	// disambiguated.
	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m2", "@beta:example.com", "Al", "join"),
	}})
	if len(renamed) != 1 || renamed[0].ID() != ref.MustParseUserID("@alpha:example.com") {
		t.Fatalf("expected rename hook for the pre-existing namesake, got %v", renamed)
	}
	if len(room.members["Al"]) != 2 {
		t.Errorf("expected 2 users under the shared name, got %d", len(room.members["Al"]))
	}

	// Removal leaving one namesake lets the survivor drop its suffix.
	renamed = nil
	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m3", "@beta:example.com", "Al", "leave"),
	}})
	if len(renamed) != 1 || renamed[0].ID() != ref.MustParseUserID("@alpha:example.com") {
		t.Fatalf("expected rename hook for the surviving namesake, got %v", renamed)
	}
}

func TestMemberNameRoundTrip(t *testing.T) {
	conn := newTestConnection(t, Hooks{})
	room := newTestRoom(conn, "!r:example.com")

	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m1", "@bob:example.com", "Bob", "join"),
	}})
	bob := conn.User(ref.MustParseUserID("@bob:example.com"))
	if got := room.MemberName(bob); got != "Bob" {
		t.Errorf("without namesakes expected bare name, got %q", got)
	}

	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m2", "@impostor:example.com", "Bob", "join"),
	}})
	if got := room.MemberName(bob); got != "Bob <@bob:example.com>" {
		t.Errorf("with a namesake expected ID suffix, got %q", got)
	}

	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m3", "@impostor:example.com", "Bob", "leave"),
	}})
	if got := room.MemberName(bob); got != "Bob" {
		t.Errorf("after namesake departure expected bare name again, got %q", got)
	}
}

func TestMemberNameEmptyDisplayName(t *testing.T) {
	conn := newTestConnection(t, Hooks{})
	room := newTestRoom(conn, "!r:example.com")

	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m1", "@ghost:example.com", "", "join"),
	}})
	ghost := conn.User(ref.MustParseUserID("@ghost:example.com"))
	if got := room.MemberName(ghost); got != "@ghost:example.com" {
		t.Errorf("empty display name should render as the ID, got %q", got)
	}
}

func TestDisplayNameFromNameAndAlias(t *testing.T) {
	conn := newTestConnection(t, Hooks{})
	room := newTestRoom(conn, "!r:example.com")

	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawName("$n1", "Project"),
		rawCanonicalAlias("$c1", "#proj:example.com"),
	}})
	if got := room.DisplayName(); got != "Project <#proj:example.com>" {
		t.Errorf("unexpected display name: %q", got)
	}

	// Name alone, no alias.
	plain := newTestRoom(conn, "!plain:example.com")
	plain.ApplyDelta(Delta{State: []json.RawMessage{rawName("$n2", "Solo")}})
	if got := plain.DisplayName(); got != "Solo" {
		t.Errorf("unexpected display name: %q", got)
	}

	// Alias alone.
	aliased := newTestRoom(conn, "!aliased:example.com")
	aliased.ApplyDelta(Delta{State: []json.RawMessage{rawCanonicalAlias("$c2", "#only:example.com")}})
	if got := aliased.DisplayName(); got != "#only:example.com" {
		t.Errorf("unexpected display name: %q", got)
	}
}

func TestDisplayNameFromMembers(t *testing.T) {
	conn := newTestConnection(t, Hooks{})

	t.Run("one on one", func(t *testing.T) {
		room := newTestRoom(conn, "!dm:example.com")
		room.ApplyDelta(Delta{State: []json.RawMessage{
			rawMember("$m1", "@self:example.com", "Me", "join"),
			rawMember("$m2", "@bob:example.com", "Bob", "join"),
		}})
		if got := room.DisplayName(); got != "Bob" {
			t.Errorf("unexpected display name: %q", got)
		}
	})

	t.Run("namesake pair with self", func(t *testing.T) {
		room := newTestRoom(conn, "!pair:example.com")
		room.ApplyDelta(Delta{State: []json.RawMessage{
			rawMember("$m1", "@self:example.com", "Me", "join"),
			rawMember("$m2", "@a:s.example.com", "Al", "join"),
			rawMember("$m3", "@b:s.example.com", "Al", "join"),
		}})
		want := "Al <@a:s.example.com> and Al <@b:s.example.com>"
		if got := room.DisplayName(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("many members", func(t *testing.T) {
		room := newTestRoom(conn, "!crowd:example.com")
		room.ApplyDelta(Delta{State: []json.RawMessage{
			rawMember("$m1", "@self:example.com", "Me", "join"),
			rawMember("$m2", "@ann:example.com", "Ann", "join"),
			rawMember("$m3", "@ben:example.com", "Ben", "join"),
			rawMember("$m4", "@cat:example.com", "Cat", "join"),
			rawMember("$m5", "@dan:example.com", "Dan", "join"),
		}})
		if got := room.DisplayName(); got != "Ann and 2 others" {
			t.Errorf("unexpected display name: %q", got)
		}
	})
}

func TestDisplayNameEmptyRoomFallbacks(t *testing.T) {
	conn := newTestConnection(t, Hooks{})

	room := newTestRoom(conn, "!void:example.com")
	if got := room.DisplayName(); got != "Empty room (!void:example.com)" {
		t.Errorf("unexpected display name: %q", got)
	}

	// A departed member is remembered in the fallback. The membername
	// counts namesakes in the current member map only, so a departed
	// member always renders with its ID suffix.
	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m1", "@self:example.com", "Me", "join"),
		rawMember("$m2", "@bob:example.com", "Bob", "join"),
	}})
	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m3", "@bob:example.com", "Bob", "leave"),
		rawMember("$m4", "@self:example.com", "Me", "leave"),
	}})
	if got := room.DisplayName(); got != "Empty room (was: Bob <@bob:example.com>)" {
		t.Errorf("unexpected display name: %q", got)
	}
}

func TestDisplayNameIsIdempotent(t *testing.T) {
	conn := newTestConnection(t, Hooks{})
	room := newTestRoom(conn, "!r:example.com")
	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m1", "@self:example.com", "Me", "join"),
		rawMember("$m2", "@bob:example.com", "Bob", "join"),
	}})

	conn.mu.Lock()
	first := room.computeDisplayNameLocked()
	second := room.computeDisplayNameLocked()
	conn.mu.Unlock()
	if first != second {
		t.Errorf("recomputation with unchanged inputs diverged: %q vs %q", first, second)
	}
}

func TestEmptyDeltaFiresNothing(t *testing.T) {
	var fired int
	count := func() { fired++ }
	conn := newTestConnection(t, Hooks{
		NewMessage:          func(*Room, event.Event) { count() },
		DisplayNameChanged:  func(*Room, string) { count() },
		TopicChanged:        func(*Room, string) { count() },
		MemberAdded:         func(*Room, *User) { count() },
		MemberRemoved:       func(*Room, *User) { count() },
		MemberRenamed:       func(*Room, *User) { count() },
		TypingChanged:       func(*Room) { count() },
		UnreadCountsChanged: func(*Room) { count() },
	})
	room := newTestRoom(conn, "!r:example.com")
	before := room.DisplayName()

	room.ApplyDelta(Delta{JoinState: JoinStateJoin})

	if fired != 0 {
		t.Errorf("empty delta fired %d hooks", fired)
	}
	if room.DisplayName() != before {
		t.Error("empty delta changed the display name")
	}
}

func TestTopicChange(t *testing.T) {
	var topics []string
	conn := newTestConnection(t, Hooks{
		TopicChanged: func(_ *Room, topic string) { topics = append(topics, topic) },
	})
	room := newTestRoom(conn, "!r:example.com")

	topicEvent := json.RawMessage(`{"type":"m.room.topic","event_id":"$t1","origin_server_ts":1,"sender":"@self:example.com","state_key":"","content":{"topic":"standup notes"}}`)
	room.ApplyDelta(Delta{State: []json.RawMessage{topicEvent}})
	room.ApplyDelta(Delta{State: []json.RawMessage{topicEvent}})

	if room.Topic() != "standup notes" {
		t.Errorf("unexpected topic: %q", room.Topic())
	}
	if len(topics) != 1 {
		t.Errorf("unchanged topic must not re-fire the hook, got %d", len(topics))
	}
}

func TestTypingFullReplace(t *testing.T) {
	var changes int
	conn := newTestConnection(t, Hooks{
		TypingChanged: func(*Room) { changes++ },
	})
	room := newTestRoom(conn, "!r:example.com")

	room.ApplyDelta(Delta{Ephemeral: []json.RawMessage{
		json.RawMessage(`{"type":"m.typing","content":{"user_ids":["@a:example.com","@b:example.com"]}}`),
	}})
	if users := room.UsersTyping(); len(users) != 2 {
		t.Fatalf("expected 2 typing users, got %d", len(users))
	}

	// The next snapshot replaces the whole set, not a delta.
	room.ApplyDelta(Delta{Ephemeral: []json.RawMessage{
		json.RawMessage(`{"type":"m.typing","content":{"user_ids":["@c:example.com"]}}`),
	}})
	users := room.UsersTyping()
	if len(users) != 1 || users[0].ID() != ref.MustParseUserID("@c:example.com") {
		t.Errorf("typing set not replaced: %v", users)
	}
	if changes != 2 {
		t.Errorf("expected 2 typing hooks, got %d", changes)
	}
}

func TestReceiptsMoveReadMarkers(t *testing.T) {
	var markers []ref.EventID
	conn := newTestConnection(t, Hooks{
		ReadMarkerChanged: func(_ *Room, _ *User, eventID ref.EventID) {
			markers = append(markers, eventID)
		},
	})
	room := newTestRoom(conn, "!r:example.com")
	alice := conn.User(ref.MustParseUserID("@alice:example.com"))

	receipt := func(eventID string) json.RawMessage {
		return json.RawMessage(fmt.Sprintf(
			`{"type":"m.receipt","content":{"%s":{"m.read":{"@alice:example.com":{"ts":1700000000000}}}}}`, eventID))
	}

	room.ApplyDelta(Delta{Ephemeral: []json.RawMessage{receipt("$new")}})
	if room.LastReadEvent(alice) != ref.MustParseEventID("$new") {
		t.Errorf("unexpected marker: %v", room.LastReadEvent(alice))
	}

	// Last write wins even if it points at an older event.
	room.ApplyDelta(Delta{Ephemeral: []json.RawMessage{receipt("$old")}})
	if room.LastReadEvent(alice) != ref.MustParseEventID("$old") {
		t.Errorf("marker should follow the latest receipt: %v", room.LastReadEvent(alice))
	}

	// A repeat of the same receipt is not a change.
	room.ApplyDelta(Delta{Ephemeral: []json.RawMessage{receipt("$old")}})
	if len(markers) != 2 {
		t.Errorf("expected 2 marker hooks, got %d", len(markers))
	}
}

func TestJoinStateTransitions(t *testing.T) {
	var transitions []string
	conn := newTestConnection(t, Hooks{
		JoinStateChanged: func(_ *Room, previous, current JoinState) {
			transitions = append(transitions, string(previous)+">"+string(current))
		},
	})
	room := newTestRoom(conn, "!r:example.com")
	room.joinState = JoinStateInvite

	room.ApplyDelta(Delta{JoinState: JoinStateJoin})
	room.ApplyDelta(Delta{JoinState: JoinStateJoin}) // no-op
	room.ApplyDelta(Delta{JoinState: JoinStateLeave})
	// Unusual but accepted: leave back to invite.
	room.ApplyDelta(Delta{JoinState: JoinStateInvite})

	want := []string{"invite>join", "join>leave", "leave>invite"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestPrevBatchFirstWriteWins(t *testing.T) {
	conn := newTestConnection(t, Hooks{})
	room := newTestRoom(conn, "!r:example.com")

	room.ApplyDelta(Delta{PrevBatch: "cursor-1"})
	room.ApplyDelta(Delta{PrevBatch: "cursor-2"})
	if room.PrevBatch() != "cursor-1" {
		t.Errorf("sync deltas must not overwrite the cursor: %q", room.PrevBatch())
	}
}

func TestUnreadCounts(t *testing.T) {
	var changes int
	conn := newTestConnection(t, Hooks{
		UnreadCountsChanged: func(*Room) { changes++ },
	})
	room := newTestRoom(conn, "!r:example.com")

	room.ApplyDelta(Delta{HighlightCount: 1, NotificationCount: 4})
	room.ApplyDelta(Delta{HighlightCount: 1, NotificationCount: 4}) // unchanged
	room.ApplyDelta(Delta{HighlightCount: 0, NotificationCount: 5})

	highlight, notification := room.UnreadCounts()
	if highlight != 0 || notification != 5 {
		t.Errorf("unexpected counts: %d/%d", highlight, notification)
	}
	if changes != 2 {
		t.Errorf("expected 2 count hooks, got %d", changes)
	}
}

func TestUserRenameMovesMemberMapEntry(t *testing.T) {
	var renamed []string
	conn := newTestConnection(t, Hooks{
		UserRenamed: func(_ *User, previousName string) {
			renamed = append(renamed, previousName)
		},
	})
	room := newTestRoom(conn, "!r:example.com")

	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m1", "@bob:example.com", "Bob", "join"),
	}})
	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m2", "@bob:example.com", "Bobby", "join"),
	}})

	if len(room.members["Bob"]) != 0 {
		t.Error("old name bucket should be empty after rename")
	}
	if len(room.members["Bobby"]) != 1 {
		t.Error("user missing from new name bucket")
	}
	// The first observation sets the name from its empty zero value
	// and fires the hook like any other change.
	want := []string{"", "Bob"}
	if !slices.Equal(renamed, want) {
		t.Errorf("unexpected registry rename hooks: %v", renamed)
	}
	bob := conn.User(ref.MustParseUserID("@bob:example.com"))
	if bob.DisplayName() != "Bobby" {
		t.Errorf("registry entry not renamed: %q", bob.DisplayName())
	}

	// Re-applying the same profile is not a change.
	room.ApplyDelta(Delta{State: []json.RawMessage{
		rawMember("$m3", "@bob:example.com", "Bobby", "join"),
	}})
	if len(renamed) != len(want) {
		t.Errorf("no-op profile write fired a rename: %v", renamed)
	}
}

func TestDuplicateJoinIsIdempotent(t *testing.T) {
	var added int
	conn := newTestConnection(t, Hooks{
		MemberAdded: func(*Room, *User) { added++ },
	})
	room := newTestRoom(conn, "!r:example.com")

	join := rawMember("$m1", "@bob:example.com", "Bob", "join")
	room.ApplyDelta(Delta{State: []json.RawMessage{join}})
	room.ApplyDelta(Delta{State: []json.RawMessage{join}})

	if added != 1 {
		t.Errorf("duplicate join fired %d member-added hooks", added)
	}
	if len(room.Members()) != 1 {
		t.Errorf("expected 1 member, got %d", len(room.Members()))
	}
}

func TestApplyInitialStateSkipsTimeline(t *testing.T) {
	var messages int
	conn := newTestConnection(t, Hooks{
		NewMessage: func(*Room, event.Event) { messages++ },
	})
	room := newTestRoom(conn, "!r:example.com")

	parsed := mustParseEvent(t, rawName("$n1", "Bootstrap"))
	room.ApplyInitialState(parsed)

	if room.Name() != "Bootstrap" {
		t.Errorf("initial state not applied: %q", room.Name())
	}
	if len(room.Timeline()) != 0 || messages != 0 {
		t.Error("initial state must not touch the timeline")
	}
}
