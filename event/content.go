// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bureau-foundation/weave/lib/ref"
)

// Content is the decoded payload of an event. The concrete type is
// determined by the event's Kind; KindUnknown events carry
// UnknownContent with the raw payload.
type Content interface {
	contentKind() Kind
}

// Membership states defined by the Matrix specification.
const (
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipInvite = "invite"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// MessageContent is the payload of an m.room.message event.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

func (MessageContent) contentKind() Kind { return KindMessage }

// MemberContent is the payload of an m.room.member state event. The
// affected user is the event's state key, not a content field.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (MemberContent) contentKind() Kind { return KindMember }

// NameContent is the payload of an m.room.name state event.
type NameContent struct {
	Name string `json:"name"`
}

func (NameContent) contentKind() Kind { return KindName }

// TopicContent is the payload of an m.room.topic state event.
type TopicContent struct {
	Topic string `json:"topic"`
}

func (TopicContent) contentKind() Kind { return KindTopic }

// AliasesContent is the payload of an m.room.aliases state event; the
// publishing server is the event's state key.
type AliasesContent struct {
	Aliases []ref.RoomAlias `json:"aliases"`
}

func (AliasesContent) contentKind() Kind { return KindAliases }

// CanonicalAliasContent is the payload of an m.room.canonical_alias
// state event. Alias is zero when the canonical alias was removed.
type CanonicalAliasContent struct {
	Alias      ref.RoomAlias   `json:"alias,omitempty"`
	AltAliases []ref.RoomAlias `json:"alt_aliases,omitempty"`
}

func (CanonicalAliasContent) contentKind() Kind { return KindCanonicalAlias }

// CreateContent is the payload of an m.room.create state event.
type CreateContent struct {
	Creator     string `json:"creator,omitempty"`
	RoomVersion string `json:"room_version,omitempty"`
	Federate    *bool  `json:"m.federate,omitempty"`
}

func (CreateContent) contentKind() Kind { return KindCreate }

// TypingContent is the payload of an ephemeral m.typing event: the set
// of users currently typing in the room. Each delivery is a full
// replacement, not an increment.
type TypingContent struct {
	UserIDs []ref.UserID `json:"user_ids"`
}

func (TypingContent) contentKind() Kind { return KindTyping }

// Receipt is a single user's read receipt on an event.
type Receipt struct {
	UserID    ref.UserID
	Timestamp time.Time
}

// ReceiptContent is the payload of an ephemeral m.receipt event,
// flattened to the m.read receipts per event. The wire shape nests
// event ID, receipt type, then user ID; anything other than m.read is
// dropped during decoding.
type ReceiptContent struct {
	Receipts map[ref.EventID][]Receipt
}

func (ReceiptContent) contentKind() Kind { return KindReceipt }

// wireReceiptEntry is the per-event section of an m.receipt payload:
// receipt type keyed to a map of user ID to receipt metadata.
type wireReceiptEntry map[string]map[string]struct {
	TS int64 `json:"ts"`
}

// UnmarshalJSON flattens the nested wire format, keeping only m.read
// receipts and dropping entries with unparseable identifiers.
func (c *ReceiptContent) UnmarshalJSON(data []byte) error {
	var wire map[string]wireReceiptEntry
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decoding receipt content: %w", err)
	}
	c.Receipts = make(map[ref.EventID][]Receipt, len(wire))
	for rawEventID, entry := range wire {
		eventID, err := ref.ParseEventID(rawEventID)
		if err != nil {
			continue
		}
		for rawUserID, meta := range entry["m.read"] {
			userID, err := ref.ParseUserID(rawUserID)
			if err != nil {
				continue
			}
			c.Receipts[eventID] = append(c.Receipts[eventID], Receipt{
				UserID:    userID,
				Timestamp: time.UnixMilli(meta.TS),
			})
		}
	}
	return nil
}

// UnknownContent carries the raw payload of an event type this library
// does not decode.
type UnknownContent struct {
	Raw json.RawMessage
}

func (UnknownContent) contentKind() Kind { return KindUnknown }

// decodeContent decodes the content payload for the given kind. A nil
// or absent content decodes to the zero value of the kind's payload.
func decodeContent(kind Kind, raw json.RawMessage) (Content, error) {
	if kind == KindUnknown {
		return UnknownContent{Raw: raw}, nil
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch kind {
	case KindMessage:
		var content MessageContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return content, err
		}
		return content, nil
	case KindMember:
		var content MemberContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return content, err
		}
		return content, nil
	case KindName:
		var content NameContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return content, err
		}
		return content, nil
	case KindTopic:
		var content TopicContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return content, err
		}
		return content, nil
	case KindAliases:
		var content AliasesContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return content, err
		}
		return content, nil
	case KindCanonicalAlias:
		var content CanonicalAliasContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return content, err
		}
		return content, nil
	case KindCreate:
		var content CreateContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return content, err
		}
		return content, nil
	case KindTyping:
		var content TypingContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return content, err
		}
		return content, nil
	case KindReceipt:
		var content ReceiptContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return content, err
		}
		return content, nil
	default:
		return UnknownContent{Raw: raw}, nil
	}
}
