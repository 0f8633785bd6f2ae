package chatlog

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event is the envelope persisted at one EventIndex. Events are immutable
// once appended; edits and deletions are later events referencing the
// original index.
type Event struct {
	Index         EventIndex `json:"index"`
	Timestamp     int64      `json:"timestamp"` // unix ms
	CorrelationID uint64     `json:"correlation_id,omitempty"`
	Expires       int64      `json:"expires,omitempty"` // unix ms, 0 = never
	Payload       Payload    `json:"-"`
}

// Payload is the closed, tagged set of event variants. Unknown tags decode to
// *UnknownPayload so new variants never break old readers.
type Payload interface {
	Kind() string
}

// Payload kind tags. These are persisted; do not renumber.
const (
	KindMessage             = "message"
	KindChatCreated         = "chat_created"
	KindNameChanged         = "name_changed"
	KindDescriptionChanged  = "description_changed"
	KindAvatarChanged       = "avatar_changed"
	KindRoleChanged         = "role_changed"
	KindParticipantsAdded   = "participants_added"
	KindParticipantsRemoved = "participants_removed"
	KindReactionAdded       = "reaction_added"
	KindReactionRemoved     = "reaction_removed"
	KindMessagePinned       = "message_pinned"
	KindMessageUnpinned     = "message_unpinned"
	KindMessageEdited       = "message_edited"
	KindMessageDeleted      = "message_deleted"
	KindFailedToDeserialize = "failed_to_deserialize"
)

// Message is the payload of a chat message event.
type Message struct {
	MessageIndex MessageIndex   `json:"message_index"`
	MessageID    uuid.UUID      `json:"message_id"`
	Sender       uuid.UUID      `json:"sender"`
	Content      MessageContent `json:"-"`
	RepliesTo    *ReplyContext  `json:"replies_to,omitempty"`
	Thread       *ThreadSummary `json:"thread,omitempty"`
	Reactions    []Reaction     `json:"reactions,omitempty"`
	Forwarded    bool           `json:"forwarded,omitempty"`
	LastEdited   int64          `json:"last_edited,omitempty"` // unix ms, 0 = never
}

func (m *Message) Kind() string { return KindMessage }

// ReplyContext references the message being replied to.
type ReplyContext struct {
	EventIndex EventIndex    `json:"event_index"`
	ThreadRoot *MessageIndex `json:"thread_root,omitempty"` // set when the target lives in a thread
}

// ThreadSummary is maintained on a thread's root message in the main log.
type ThreadSummary struct {
	Participants         []uuid.UUID  `json:"participants"`
	ReplyCount           uint32       `json:"reply_count"`
	LatestEventIndex     EventIndex   `json:"latest_event_index"`
	LatestEventTimestamp int64        `json:"latest_event_timestamp"`
}

// HasParticipant reports whether the user already participates in the thread.
func (t *ThreadSummary) HasParticipant(u uuid.UUID) bool {
	for _, p := range t.Participants {
		if p == u {
			return true
		}
	}
	return false
}

// Reaction is the per-emoji aggregate stored on a message.
type Reaction struct {
	Emoji string      `json:"emoji"`
	Users []uuid.UUID `json:"users"`
}

// ChatCreated is the first event of every main log.
type ChatCreated struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   uuid.UUID `json:"created_by"`
}

func (*ChatCreated) Kind() string { return KindChatCreated }

type NameChanged struct {
	NewName   string    `json:"new_name"`
	ChangedBy uuid.UUID `json:"changed_by"`
}

func (*NameChanged) Kind() string { return KindNameChanged }

type DescriptionChanged struct {
	NewDescription string    `json:"new_description"`
	ChangedBy      uuid.UUID `json:"changed_by"`
}

func (*DescriptionChanged) Kind() string { return KindDescriptionChanged }

type AvatarChanged struct {
	NewAvatarID uint64    `json:"new_avatar_id"`
	ChangedBy   uuid.UUID `json:"changed_by"`
}

func (*AvatarChanged) Kind() string { return KindAvatarChanged }

type RoleChanged struct {
	UserIDs   []uuid.UUID `json:"user_ids"`
	ChangedBy uuid.UUID   `json:"changed_by"`
	OldRole   string      `json:"old_role"`
	NewRole   string      `json:"new_role"`
}

func (*RoleChanged) Kind() string { return KindRoleChanged }

type ParticipantsAdded struct {
	UserIDs []uuid.UUID `json:"user_ids"`
	AddedBy uuid.UUID   `json:"added_by"`
}

func (*ParticipantsAdded) Kind() string { return KindParticipantsAdded }

type ParticipantsRemoved struct {
	UserIDs   []uuid.UUID `json:"user_ids"`
	RemovedBy uuid.UUID   `json:"removed_by"`
}

func (*ParticipantsRemoved) Kind() string { return KindParticipantsRemoved }

type ReactionAdded struct {
	MessageIndex MessageIndex `json:"message_index"`
	Emoji        string       `json:"emoji"`
	AddedBy      uuid.UUID    `json:"added_by"`
}

func (*ReactionAdded) Kind() string { return KindReactionAdded }

type ReactionRemoved struct {
	MessageIndex MessageIndex `json:"message_index"`
	Emoji        string       `json:"emoji"`
	RemovedBy    uuid.UUID    `json:"removed_by"`
}

func (*ReactionRemoved) Kind() string { return KindReactionRemoved }

type MessagePinned struct {
	MessageIndex MessageIndex `json:"message_index"`
	PinnedBy     uuid.UUID    `json:"pinned_by"`
}

func (*MessagePinned) Kind() string { return KindMessagePinned }

type MessageUnpinned struct {
	MessageIndex MessageIndex `json:"message_index"`
	UnpinnedBy   uuid.UUID    `json:"unpinned_by"`
}

func (*MessageUnpinned) Kind() string { return KindMessageUnpinned }

// MessageEdited is a compensating event; the original message event keeps its
// index and the edit is recorded as a new event referencing it.
type MessageEdited struct {
	MessageIndex MessageIndex `json:"message_index"`
	EditedBy     uuid.UUID    `json:"edited_by"`
}

func (*MessageEdited) Kind() string { return KindMessageEdited }

// MessageDeleted is a tombstone; the original event index is never reused.
type MessageDeleted struct {
	MessageIndex MessageIndex `json:"message_index"`
	DeletedBy    uuid.UUID    `json:"deleted_by"`
}

func (*MessageDeleted) Kind() string { return KindMessageDeleted }

// FailedToDeserialize is synthesized by the store when stored bytes fail
// primary decoding. It is never appended directly.
type FailedToDeserialize struct{}

func (FailedToDeserialize) Kind() string { return KindFailedToDeserialize }

// UnknownPayload preserves payloads written by newer software.
type UnknownPayload struct {
	Tag string
	Raw json.RawMessage
}

func (u *UnknownPayload) Kind() string { return u.Tag }

// payloadEnvelope is the persisted JSON shape of an event body.
type payloadEnvelope struct {
	CorrelationID uint64          `json:"correlation_id,omitempty"`
	Kind          string          `json:"kind"`
	Body          json.RawMessage `json:"body,omitempty"`
}

func marshalPayload(correlationID uint64, p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("chatlog: nil payload")
	}
	var body json.RawMessage
	switch v := p.(type) {
	case *UnknownPayload:
		body = v.Raw
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		body = b
	}
	return json.Marshal(payloadEnvelope{CorrelationID: correlationID, Kind: p.Kind(), Body: body})
}

func unmarshalPayload(b []byte) (uint64, Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return 0, nil, err
	}
	var p Payload
	switch env.Kind {
	case KindMessage:
		p = &Message{}
	case KindChatCreated:
		p = &ChatCreated{}
	case KindNameChanged:
		p = &NameChanged{}
	case KindDescriptionChanged:
		p = &DescriptionChanged{}
	case KindAvatarChanged:
		p = &AvatarChanged{}
	case KindRoleChanged:
		p = &RoleChanged{}
	case KindParticipantsAdded:
		p = &ParticipantsAdded{}
	case KindParticipantsRemoved:
		p = &ParticipantsRemoved{}
	case KindReactionAdded:
		p = &ReactionAdded{}
	case KindReactionRemoved:
		p = &ReactionRemoved{}
	case KindMessagePinned:
		p = &MessagePinned{}
	case KindMessageUnpinned:
		p = &MessageUnpinned{}
	case KindMessageEdited:
		p = &MessageEdited{}
	case KindMessageDeleted:
		p = &MessageDeleted{}
	case KindFailedToDeserialize:
		return env.CorrelationID, FailedToDeserialize{}, nil
	default:
		return env.CorrelationID, &UnknownPayload{Tag: env.Kind, Raw: append(json.RawMessage(nil), env.Body...)}, nil
	}
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, p); err != nil {
			return 0, nil, err
		}
	}
	return env.CorrelationID, p, nil
}

// Expired reports whether the event's expiry has passed. Expired events stay
// in the log; readers filter them out.
func (e Event) Expired(nowMs int64) bool {
	return e.Expires != 0 && e.Expires <= nowMs
}

// eventJSON is the outward JSON shape of an event, used by the HTTP layer.
type eventJSON struct {
	Index         EventIndex      `json:"index"`
	Timestamp     int64           `json:"timestamp"`
	CorrelationID uint64          `json:"correlation_id,omitempty"`
	Expires       int64           `json:"expires,omitempty"`
	Kind          string          `json:"kind"`
	Body          json.RawMessage `json:"body,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("chatlog: event %d has no payload", e.Index)
	}
	var body json.RawMessage
	switch v := e.Payload.(type) {
	case *UnknownPayload:
		body = v.Raw
	case FailedToDeserialize:
		// no body
	default:
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		body = b
	}
	return json.Marshal(eventJSON{
		Index:         e.Index,
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		Expires:       e.Expires,
		Kind:          e.Payload.Kind(),
		Body:          body,
	})
}

// messageJSON carries the Message fields plus the content envelope; Message
// needs custom JSON because Content is an interface.
type messageJSON struct {
	MessageIndex MessageIndex    `json:"message_index"`
	MessageID    uuid.UUID       `json:"message_id"`
	Sender       uuid.UUID       `json:"sender"`
	ContentKind  string          `json:"content_kind"`
	Content      json.RawMessage `json:"content,omitempty"`
	RepliesTo    *ReplyContext   `json:"replies_to,omitempty"`
	Thread       *ThreadSummary  `json:"thread,omitempty"`
	Reactions    []Reaction      `json:"reactions,omitempty"`
	Forwarded    bool            `json:"forwarded,omitempty"`
	LastEdited   int64           `json:"last_edited,omitempty"`
}

func (m *Message) MarshalJSON() ([]byte, error) {
	if m.Content == nil {
		return nil, fmt.Errorf("chatlog: message %s has no content", m.MessageID)
	}
	content, err := json.Marshal(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{
		MessageIndex: m.MessageIndex,
		MessageID:    m.MessageID,
		Sender:       m.Sender,
		ContentKind:  m.Content.ContentKind(),
		Content:      content,
		RepliesTo:    m.RepliesTo,
		Thread:       m.Thread,
		Reactions:    m.Reactions,
		Forwarded:    m.Forwarded,
		LastEdited:   m.LastEdited,
	})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(b, &mj); err != nil {
		return err
	}
	content, err := unmarshalContent(mj.ContentKind, mj.Content)
	if err != nil {
		return err
	}
	*m = Message{
		MessageIndex: mj.MessageIndex,
		MessageID:    mj.MessageID,
		Sender:       mj.Sender,
		Content:      content,
		RepliesTo:    mj.RepliesTo,
		Thread:       mj.Thread,
		Reactions:    mj.Reactions,
		Forwarded:    mj.Forwarded,
		LastEdited:   mj.LastEdited,
	}
	return nil
}
