// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bureau-foundation/weave/lib/ref"
)

// Kind identifies the decoded variant of an Event. The zero value is
// KindUnknown: an event type this library has no decoder for. Unknown
// events are never an error; they flow through with their raw JSON so
// callers can inspect or ignore them.
type Kind int

const (
	KindUnknown Kind = iota
	KindMessage
	KindMember
	KindName
	KindTopic
	KindAliases
	KindCanonicalAlias
	KindCreate
	KindTyping
	KindReceipt
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindMember:
		return "member"
	case KindName:
		return "name"
	case KindTopic:
		return "topic"
	case KindAliases:
		return "aliases"
	case KindCanonicalAlias:
		return "canonical_alias"
	case KindCreate:
		return "create"
	case KindTyping:
		return "typing"
	case KindReceipt:
		return "receipt"
	default:
		return "unknown"
	}
}

// Standard Matrix event types this library decodes.
const (
	TypeMessage        ref.EventType = "m.room.message"
	TypeMember         ref.EventType = "m.room.member"
	TypeName           ref.EventType = "m.room.name"
	TypeTopic          ref.EventType = "m.room.topic"
	TypeAliases        ref.EventType = "m.room.aliases"
	TypeCanonicalAlias ref.EventType = "m.room.canonical_alias"
	TypeCreate         ref.EventType = "m.room.create"
	TypeTyping         ref.EventType = "m.typing"
	TypeReceipt        ref.EventType = "m.receipt"
)

// Event is a decoded Matrix event. Kind selects the Content variant;
// Raw preserves the original JSON for re-serialization and for callers
// that need fields this library does not model.
//
// Ephemeral kinds (typing, receipt) legitimately lack ID, Timestamp,
// and Sender. For all other known kinds a missing event_id or
// origin_server_ts produces a *MalformedEventError from Parse, but the
// Event is still populated and usable; the caller decides admission.
type Event struct {
	Kind      Kind
	Type      ref.EventType
	ID        ref.EventID
	Timestamp time.Time
	RoomID    ref.RoomID
	Sender    ref.UserID
	StateKey  *string
	Raw       json.RawMessage
	Content   Content
}

// IsState reports whether the event carries a state key.
func (e *Event) IsState() bool { return e.StateKey != nil }

// MalformedEventError reports a structurally deficient event: a known,
// non-ephemeral kind missing a required envelope field, or a known kind
// whose content failed to decode. The accompanying Event is still
// populated as far as possible.
type MalformedEventError struct {
	Kind      Kind
	EventType ref.EventType
	Field     string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("event: malformed %s event (%s): bad or missing %q", e.Kind, e.EventType, e.Field)
}

// envelope is the wire shape of an event. Identifier fields are decoded
// as plain strings and validated individually so that one bad field
// degrades that field instead of failing the whole event.
type envelope struct {
	Type           string          `json:"type"`
	EventID        string          `json:"event_id"`
	Sender         string          `json:"sender"`
	OriginServerTS *int64          `json:"origin_server_ts"`
	RoomID         string          `json:"room_id"`
	StateKey       *string         `json:"state_key"`
	Content        json.RawMessage `json:"content"`
}

// Parse decodes a raw Matrix event. The returned error is nil, a JSON
// error (the input is not an event object at all), or a
// *MalformedEventError (the Event is populated and usable; the caller
// decides whether to admit it).
func Parse(raw json.RawMessage) (Event, error) {
	var wire envelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Event{}, fmt.Errorf("event: decoding event envelope: %w", err)
	}
	if wire.Type == "" {
		return Event{}, fmt.Errorf("event: event has no type")
	}

	eventType := ref.EventType(wire.Type)
	decoded := Event{
		Kind:     kindOf(eventType),
		Type:     eventType,
		StateKey: wire.StateKey,
		Raw:      raw,
	}

	// Tolerant identifier parsing: a malformed sender or room id zeroes
	// that field rather than rejecting the event.
	if id, err := ref.ParseEventID(wire.EventID); err == nil {
		decoded.ID = id
	}
	if sender, err := ref.ParseUserID(wire.Sender); err == nil {
		decoded.Sender = sender
	}
	if roomID, err := ref.ParseRoomID(wire.RoomID); err == nil {
		decoded.RoomID = roomID
	}
	if wire.OriginServerTS != nil {
		decoded.Timestamp = time.UnixMilli(*wire.OriginServerTS)
	}

	content, contentErr := decodeContent(decoded.Kind, wire.Content)
	decoded.Content = content
	if contentErr != nil {
		return decoded, &MalformedEventError{Kind: decoded.Kind, EventType: eventType, Field: "content"}
	}

	if decoded.Kind != KindUnknown && !ephemeralKind(decoded.Kind) {
		if decoded.ID.IsZero() {
			return decoded, &MalformedEventError{Kind: decoded.Kind, EventType: eventType, Field: "event_id"}
		}
		if wire.OriginServerTS == nil {
			return decoded, &MalformedEventError{Kind: decoded.Kind, EventType: eventType, Field: "origin_server_ts"}
		}
	}

	return decoded, nil
}

// ParseList decodes a batch of raw events, preserving order. Events
// that fail envelope decoding entirely are dropped; events flagged as
// malformed are KEPT in the result and their errors collected, so the
// caller can decide admission per event.
func ParseList(raws []json.RawMessage) ([]Event, []*MalformedEventError) {
	events := make([]Event, 0, len(raws))
	var malformed []*MalformedEventError
	for _, raw := range raws {
		decoded, err := Parse(raw)
		if err != nil {
			var malformedErr *MalformedEventError
			if !asMalformed(err, &malformedErr) {
				continue
			}
			malformed = append(malformed, malformedErr)
		}
		events = append(events, decoded)
	}
	return events, malformed
}

func asMalformed(err error, target **MalformedEventError) bool {
	malformedErr, ok := err.(*MalformedEventError) //nolint:errorlint // Parse returns it unwrapped
	if !ok {
		return false
	}
	*target = malformedErr
	return true
}

// kindOf maps a Matrix event type to its decoded kind.
func kindOf(eventType ref.EventType) Kind {
	switch eventType {
	case TypeMessage:
		return KindMessage
	case TypeMember:
		return KindMember
	case TypeName:
		return KindName
	case TypeTopic:
		return KindTopic
	case TypeAliases:
		return KindAliases
	case TypeCanonicalAlias:
		return KindCanonicalAlias
	case TypeCreate:
		return KindCreate
	case TypeTyping:
		return KindTyping
	case TypeReceipt:
		return KindReceipt
	default:
		return KindUnknown
	}
}

// ephemeralKind reports whether the kind never carries an event ID or
// origin timestamp.
func ephemeralKind(kind Kind) bool {
	return kind == KindTyping || kind == KindReceipt
}
