// Package chatlog implements the durable, indexed chat event log.
//
// # Overview
//
// Every conversation scope (a chat's main log, or one thread within a chat)
// is an independent append-only log persisted in Pebble. Keys are
// lexicographically ordered for efficient range scans:
//   - 0x01 {chat_16} {idx_be4}             main log entries
//   - 0x02 {chat_16} {root_be4} {idx_be4}  thread log entries
//   - 0x10/0x11 ...                        per-scope watermark records
//   - 0x18/0x19 ...                        message-id / message-index markers
//
// Values are framed as: uvarint headerLen | header | payload | crc32c. The
// header carries the minimal fallback schema (index, timestamp, expiry), so
// a record whose payload fails to decode degrades to a FailedToDeserialize
// event instead of aborting readers; only an unreadable header is fatal.
//
// # API surface (internal)
//
//	store := chatlog.NewStore(db)
//	l, _ := chatlog.OpenLog(store, chatlog.MainScope(chatID), chatlog.LogOptions{})
//
//	// Appends update the watermark record in the same batch as the entry.
//	idx, msg, _ := l.AppendMessage(ctx, chatlog.MessageArgs{...})
//	evIdx, _ := l.AppendEvent(ctx, &chatlog.MessagePinned{...}, corr, nowMs, 0)
//
//	// Point lookups and double-ended, lazily buffered range reads.
//	ev, ok, _ := l.Get(idx)
//	it := l.Range(lo, hi)
//	for {
//	    ev, ok, err := it.NextBack() // newest first
//	    ...
//	}
//
// Appends to one scope never interleave: the owning process serializes them,
// so index assignment is a counter bump guarded by a mutex, not a CAS loop.
package chatlog
