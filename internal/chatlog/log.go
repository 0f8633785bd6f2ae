package chatlog

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Log is the per-scope append/read facade. Each scope's log is owned by
// exactly one logical process; appends are serialized by a mutex so index
// assignment is a plain counter bump, never a CAS race.
type Log struct {
	store *Store
	scope Scope

	minBuf int
	maxBuf int

	mu                 sync.Mutex
	latestEvent        EventIndex
	latestMessage      MessageIndex
	latestMessageEvent EventIndex
}

// LogOptions carries iterator tunables; zero values select defaults.
type LogOptions struct {
	IterMinBuffer int
	IterMaxBuffer int
}

// OpenLog loads the scope's watermarks (if any) and returns the facade.
func OpenLog(store *Store, scope Scope, opts LogOptions) (*Log, error) {
	l := &Log{store: store, scope: scope, minBuf: opts.IterMinBuffer, maxBuf: opts.IterMaxBuffer}
	meta, ok, err := store.db.GetMaybe(MetaKey(scope))
	if err != nil {
		return nil, err
	}
	if ok && len(meta) >= 12 {
		l.latestEvent = EventIndex(binary.BigEndian.Uint32(meta[0:4]))
		l.latestMessage = MessageIndex(binary.BigEndian.Uint32(meta[4:8]))
		l.latestMessageEvent = EventIndex(binary.BigEndian.Uint32(meta[8:12]))
	}
	return l, nil
}

// Scope returns the scope this log covers.
func (l *Log) Scope() Scope { return l.scope }

func (l *Log) encodeMeta() []byte {
	var meta [12]byte
	binary.BigEndian.PutUint32(meta[0:4], uint32(l.latestEvent))
	binary.BigEndian.PutUint32(meta[4:8], uint32(l.latestMessage))
	binary.BigEndian.PutUint32(meta[8:12], uint32(l.latestMessageEvent))
	return meta[:]
}

// MessageArgs are the inputs to AppendMessage. Validation belongs to the
// mutation layer; the log only assigns indexes and persists.
type MessageArgs struct {
	MessageID     uuid.UUID
	Sender        uuid.UUID
	Content       MessageContent
	RepliesTo     *ReplyContext
	Forwarded     bool
	CorrelationID uint64
	Now           int64 // unix ms
	Expires       int64 // unix ms, 0 = never
}

// AppendMessage assigns the next MessageIndex and EventIndex, wraps the
// message as an event and appends it. The watermark record, the message-id
// marker and the message-index marker are committed in the same batch as the
// entry, so no reader can observe the append without updated watermarks.
func (l *Log) AppendMessage(ctx context.Context, args MessageArgs) (EventIndex, *Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.latestEvent + 1
	mi := l.latestMessage + 1
	msg := &Message{
		MessageIndex: mi,
		MessageID:    args.MessageID,
		Sender:       args.Sender,
		Content:      args.Content,
		RepliesTo:    args.RepliesTo,
		Forwarded:    args.Forwarded,
	}
	ev := Event{
		Index:         idx,
		Timestamp:     args.Now,
		CorrelationID: args.CorrelationID,
		Expires:       args.Expires,
		Payload:       msg,
	}

	b := l.store.db.NewBatch()
	defer b.Close()
	if err := l.store.SetInBatch(b, l.scope, idx, ev); err != nil {
		return 0, nil, err
	}

	var marker [8]byte
	binary.BigEndian.PutUint32(marker[0:4], uint32(idx))
	binary.BigEndian.PutUint32(marker[4:8], uint32(mi))
	if err := b.Set(MessageIDKey(l.scope, args.MessageID), marker[:], nil); err != nil {
		return 0, nil, err
	}
	if err := b.Set(MessageIndexKey(l.scope, mi), marker[0:4], nil); err != nil {
		return 0, nil, err
	}

	prevEvent, prevMessage, prevMessageEvent := l.latestEvent, l.latestMessage, l.latestMessageEvent
	l.latestEvent = idx
	l.latestMessage = mi
	l.latestMessageEvent = idx
	if err := b.Set(MetaKey(l.scope), l.encodeMeta(), nil); err != nil {
		l.latestEvent, l.latestMessage, l.latestMessageEvent = prevEvent, prevMessage, prevMessageEvent
		return 0, nil, err
	}
	if err := l.store.db.CommitBatch(ctx, b); err != nil {
		l.latestEvent, l.latestMessage, l.latestMessageEvent = prevEvent, prevMessage, prevMessageEvent
		return 0, nil, err
	}
	return idx, msg, nil
}

// AppendEvent appends a non-message payload, with the same watermark contract
// as AppendMessage.
func (l *Log) AppendEvent(ctx context.Context, payload Payload, correlationID uint64, now, expires int64) (EventIndex, error) {
	if _, isMsg := payload.(*Message); isMsg {
		return 0, fmt.Errorf("chatlog: message payloads must go through AppendMessage")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.latestEvent + 1
	ev := Event{Index: idx, Timestamp: now, CorrelationID: correlationID, Expires: expires, Payload: payload}

	b := l.store.db.NewBatch()
	defer b.Close()
	if err := l.store.SetInBatch(b, l.scope, idx, ev); err != nil {
		return 0, err
	}
	prev := l.latestEvent
	l.latestEvent = idx
	if err := b.Set(MetaKey(l.scope), l.encodeMeta(), nil); err != nil {
		l.latestEvent = prev
		return 0, err
	}
	if err := l.store.db.CommitBatch(ctx, b); err != nil {
		l.latestEvent = prev
		return 0, err
	}
	return idx, nil
}

// Get is a point lookup by event index.
func (l *Log) Get(idx EventIndex) (Event, bool, error) {
	return l.store.Get(l.scope, idx)
}

// Update rewrites the stored value at an existing index. Only aggregate
// fields carried on a message (reactions, thread summary, edit marks) are
// legitimately updated this way; the index and timestamp never change.
func (l *Log) Update(ev Event) error {
	if ev.Index < MinEventIndex || ev.Index > l.LatestEventIndex() {
		return fmt.Errorf("chatlog: update of unappended index %d", ev.Index)
	}
	return l.store.Insert(l.scope, ev.Index, ev)
}

// Iter traverses the whole scope; pull from either end for newest-first or
// oldest-first order.
func (l *Log) Iter() *Iter {
	return l.Range(MinEventIndex, l.LatestEventIndex())
}

// Range traverses [lo, hi] clamped to the appended range.
func (l *Log) Range(lo, hi EventIndex) *Iter {
	if latest := l.LatestEventIndex(); hi > latest {
		hi = latest
	}
	if lo < MinEventIndex {
		lo = MinEventIndex
	}
	return NewIter(l.store, l.scope, lo, hi, l.minBuf, l.maxBuf)
}

// LatestEventIndex returns the highest appended event index (0 when empty).
func (l *Log) LatestEventIndex() EventIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latestEvent
}

// LatestMessageIndex returns the highest assigned message index (0 when no
// messages have been appended).
func (l *Log) LatestMessageIndex() MessageIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latestMessage
}

// LatestMessage returns the most recent message event, if any.
func (l *Log) LatestMessage() (Event, *Message, bool, error) {
	l.mu.Lock()
	idx := l.latestMessageEvent
	l.mu.Unlock()
	if idx == 0 {
		return Event{}, nil, false, nil
	}
	ev, ok, err := l.Get(idx)
	if err != nil || !ok {
		return Event{}, nil, false, err
	}
	msg, isMsg := ev.Payload.(*Message)
	if !isMsg {
		return Event{}, nil, false, nil
	}
	return ev, msg, true, nil
}

// LookupMessageID resolves a client message id to the indexes assigned when
// it was first appended. This is the idempotency check for at-least-once
// delivery: a redelivered id is a no-op, not an error.
func (l *Log) LookupMessageID(id uuid.UUID) (EventIndex, MessageIndex, bool, error) {
	val, ok, err := l.store.db.GetMaybe(MessageIDKey(l.scope, id))
	if err != nil || !ok {
		return 0, 0, false, err
	}
	if len(val) < 8 {
		return 0, 0, false, fmt.Errorf("chatlog: short message-id marker for %s", id)
	}
	return EventIndex(binary.BigEndian.Uint32(val[0:4])), MessageIndex(binary.BigEndian.Uint32(val[4:8])), true, nil
}

// EventIndexOfMessage resolves a message index to its event index.
func (l *Log) EventIndexOfMessage(mi MessageIndex) (EventIndex, bool, error) {
	val, ok, err := l.store.db.GetMaybe(MessageIndexKey(l.scope, mi))
	if err != nil || !ok {
		return 0, false, err
	}
	if len(val) < 4 {
		return 0, false, fmt.Errorf("chatlog: short message-index marker for %d", mi)
	}
	return EventIndex(binary.BigEndian.Uint32(val[0:4])), true, nil
}
