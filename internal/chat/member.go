package chat

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/open-chat-labs/open-chat-sub002/internal/chatlog"
)

// Member state keyspace, colocated with the chatlog keyspace:
//   0x20 {chat_16} {user_16}   member record (JSON)
//   0x21 {chat_16} {user_16}   removal log record (JSON)
const (
	tagMember  byte = 0x20
	tagRemoved byte = 0x21
)

func memberKey(chat, user uuid.UUID) []byte {
	k := make([]byte, 0, 33)
	k = append(k, tagMember)
	k = append(k, chat[:]...)
	return append(k, user[:]...)
}

func removedKey(chat, user uuid.UUID) []byte {
	k := make([]byte, 0, 33)
	k = append(k, tagRemoved)
	k = append(k, chat[:]...)
	return append(k, user[:]...)
}

func memberPrefix(chat uuid.UUID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, tagMember)
	return append(k, chat[:]...)
}

func removedPrefix(chat uuid.UUID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, tagRemoved)
	return append(k, chat[:]...)
}

// Mention records one message that mentioned the member.
type Mention struct {
	ThreadRoot   *chatlog.MessageIndex `json:"thread_root,omitempty"`
	MessageIndex chatlog.MessageIndex  `json:"message_index"`
}

// Member is one user's membership state within a chat. The visibility
// watermarks are fixed at join time and never decrease afterwards.
type Member struct {
	UserID                 uuid.UUID              `json:"user_id"`
	Role                   Role                   `json:"role"`
	DateAdded              int64                  `json:"date_added"` // unix ms
	MinVisibleEventIndex   chatlog.EventIndex     `json:"min_visible_event_index"`
	MinVisibleMessageIndex chatlog.MessageIndex   `json:"min_visible_message_index"`
	Suspended              bool                   `json:"suspended,omitempty"`
	Muted                  bool                   `json:"muted,omitempty"`
	Mentions               []Mention              `json:"mentions,omitempty"`
	Threads                []chatlog.MessageIndex `json:"threads,omitempty"`
}

// InThread reports whether the member participates in the given thread.
func (m *Member) InThread(root chatlog.MessageIndex) bool {
	for _, t := range m.Threads {
		if t == root {
			return true
		}
	}
	return false
}

func (m *Member) addThread(root chatlog.MessageIndex) {
	if !m.InThread(root) {
		m.Threads = append(m.Threads, root)
	}
}

func (m *Member) addMention(root *chatlog.MessageIndex, mi chatlog.MessageIndex) {
	m.Mentions = append(m.Mentions, Mention{ThreadRoot: root, MessageIndex: mi})
}

// CanSee reports whether an event index is at or above the member's watermark.
func (m *Member) CanSee(idx chatlog.EventIndex) bool {
	return idx >= m.MinVisibleEventIndex
}

// CanSeeMessage reports whether a message index is at or above the watermark.
func (m *Member) CanSeeMessage(mi chatlog.MessageIndex) bool {
	return mi >= m.MinVisibleMessageIndex
}

func (m *Member) marshal() ([]byte, error) { return json.Marshal(m) }

func unmarshalMember(b []byte) (*Member, error) {
	var m Member
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// RemovedMember is retained after removal so late notifications can still be
// addressed; membership state itself is gone.
type RemovedMember struct {
	UserID    uuid.UUID `json:"user_id"`
	RemovedBy uuid.UUID `json:"removed_by"`
	RemovedAt int64     `json:"removed_at"` // unix ms
}

func marshalRemoved(r RemovedMember) ([]byte, error) { return json.Marshal(r) }

func unmarshalRemoved(b []byte) (RemovedMember, error) {
	var r RemovedMember
	err := json.Unmarshal(b, &r)
	return r, err
}
