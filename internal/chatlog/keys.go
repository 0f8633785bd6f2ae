package chatlog

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// EventIndex is the per-scope sequence number assigned to every event.
// Indexes start at MinEventIndex and increase by exactly 1 per append.
type EventIndex uint32

// MessageIndex is the per-scope sequence number assigned to message events
// only. It is a sparse subsequence of EventIndex space.
type MessageIndex uint32

const (
	MinEventIndex   EventIndex   = 1
	MinMessageIndex MessageIndex = 1
)

// Keyspace layout (byte-wise, lexicographically sortable):
//   0x01 {chat_16} {idx_be4}                    main log entry
//   0x02 {chat_16} {root_be4} {idx_be4}         thread log entry
//   0x10 {chat_16}                              main log meta (watermarks)
//   0x11 {chat_16} {root_be4}                   thread log meta
//   0x18 {chat_16} {scope_sfx} {msgid_16}       message-id marker (idempotency)
//   0x19 {chat_16} {scope_sfx} {msgidx_be4}     message-index -> event-index
//
// Entry keys use big-endian fixed-width integers so byte order equals numeric
// order, and chat ids are fixed 16 bytes so no scope prefix can be a proper
// prefix of another scope's keys.
const (
	tagChatEntry   byte = 0x01
	tagThreadEntry byte = 0x02
	tagChatMeta    byte = 0x10
	tagThreadMeta  byte = 0x11
	tagMessageID   byte = 0x18
	tagMessageIdx  byte = 0x19
)

// Scope identifies one independent log partition: a chat's main log, or one
// thread within a chat. Two scopes never share index space.
type Scope struct {
	Chat     uuid.UUID
	Thread   MessageIndex // thread root message index; only valid when IsThread
	IsThread bool
}

// MainScope returns the scope of a chat's main log.
func MainScope(chat uuid.UUID) Scope { return Scope{Chat: chat} }

// ThreadScope returns the scope of the thread rooted at the given message.
func ThreadScope(chat uuid.UUID, root MessageIndex) Scope {
	return Scope{Chat: chat, Thread: root, IsThread: true}
}

func (s Scope) String() string {
	if s.IsThread {
		return fmt.Sprintf("%s/thread/%d", s.Chat, s.Thread)
	}
	return s.Chat.String()
}

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// Prefix returns the entry-key prefix of the scope. Every entry key in the
// scope has this exact byte prefix, so a range scan bounded by it never
// crosses into another scope.
func (s Scope) Prefix() []byte {
	k := make([]byte, 0, 25)
	if s.IsThread {
		k = append(k, tagThreadEntry)
		k = append(k, s.Chat[:]...)
		k = appendBE4(k, uint32(s.Thread))
		return k
	}
	k = append(k, tagChatEntry)
	k = append(k, s.Chat[:]...)
	return k
}

// EntryKey builds the key of the event at idx within scope.
func EntryKey(s Scope, idx EventIndex) []byte {
	return appendBE4(s.Prefix(), uint32(idx))
}

// DecodeEntryKey parses an entry key back into its scope and index.
func DecodeEntryKey(k []byte) (Scope, EventIndex, error) {
	if len(k) < 1 {
		return Scope{}, 0, fmt.Errorf("chatlog: empty key")
	}
	switch k[0] {
	case tagChatEntry:
		if len(k) != 1+16+4 {
			return Scope{}, 0, fmt.Errorf("chatlog: malformed chat entry key: %d bytes", len(k))
		}
		var s Scope
		copy(s.Chat[:], k[1:17])
		return s, EventIndex(binary.BigEndian.Uint32(k[17:21])), nil
	case tagThreadEntry:
		if len(k) != 1+16+4+4 {
			return Scope{}, 0, fmt.Errorf("chatlog: malformed thread entry key: %d bytes", len(k))
		}
		s := Scope{IsThread: true}
		copy(s.Chat[:], k[1:17])
		s.Thread = MessageIndex(binary.BigEndian.Uint32(k[17:21]))
		return s, EventIndex(binary.BigEndian.Uint32(k[21:25])), nil
	default:
		return Scope{}, 0, fmt.Errorf("chatlog: unknown key tag 0x%02x", k[0])
	}
}

// MetaKey builds the key of the scope's watermark record.
func MetaKey(s Scope) []byte {
	k := make([]byte, 0, 21)
	if s.IsThread {
		k = append(k, tagThreadMeta)
		k = append(k, s.Chat[:]...)
		return appendBE4(k, uint32(s.Thread))
	}
	k = append(k, tagChatMeta)
	k = append(k, s.Chat[:]...)
	return k
}

// scopeSuffix disambiguates per-scope marker keys under a shared chat prefix.
func scopeSuffix(s Scope) []byte {
	if s.IsThread {
		return appendBE4([]byte{0x01}, uint32(s.Thread))
	}
	return []byte{0x00}
}

// MessageIDKey builds the idempotency marker key for a client message id.
func MessageIDKey(s Scope, id uuid.UUID) []byte {
	k := make([]byte, 0, 38)
	k = append(k, tagMessageID)
	k = append(k, s.Chat[:]...)
	k = append(k, scopeSuffix(s)...)
	return append(k, id[:]...)
}

// MessageIndexKey builds the message-index marker key mapping a MessageIndex
// to its EventIndex within the scope.
func MessageIndexKey(s Scope, mi MessageIndex) []byte {
	k := make([]byte, 0, 26)
	k = append(k, tagMessageIdx)
	k = append(k, s.Chat[:]...)
	k = append(k, scopeSuffix(s)...)
	return appendBE4(k, uint32(mi))
}
