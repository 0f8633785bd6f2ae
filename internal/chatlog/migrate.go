package chatlog

import (
	"context"
	"encoding/binary"
)

// Bulk migration moves an entire scope's log between storage locations as
// raw (position, bytes) pairs, without per-event re-validation. Imports still
// run the header tripwire on every record so garbage cannot slip past the
// fallback decoder silently.

// RawEntry is one log entry in its stored wire form.
type RawEntry struct {
	Index EventIndex
	Bytes []byte
}

// ExportRaw reads up to limit raw entries starting at from (inclusive).
// Returns the entries and the next position to resume from (0 when done).
func (l *Log) ExportRaw(from EventIndex, limit int) ([]RawEntry, EventIndex, error) {
	if from < MinEventIndex {
		from = MinEventIndex
	}
	entries, err := l.store.fetchRaw(l.scope, from, l.LatestEventIndex(), limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]RawEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, RawEntry{Index: e.Index, Bytes: e.Value})
	}
	var next EventIndex
	if len(out) == limit && out[len(out)-1].Index < l.LatestEventIndex() {
		next = out[len(out)-1].Index + 1
	}
	return out, next, nil
}

// ImportRaw writes raw entries into the scope, committing in batches. Each
// record must pass the header tripwire (uvarint framing, minimum header
// length, index matching its position); watermarks and message markers are
// rebuilt from what decodes.
func (l *Log) ImportRaw(ctx context.Context, entries []RawEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if err := validateRawRecord(e.Bytes, e.Index); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	const batchLimit = 1024
	for start := 0; start < len(entries); start += batchLimit {
		end := start + batchLimit
		if end > len(entries) {
			end = len(entries)
		}
		b := l.store.db.NewBatch()
		for _, e := range entries[start:end] {
			if err := b.Set(EntryKey(l.scope, e.Index), e.Bytes, nil); err != nil {
				b.Close()
				return err
			}
			if e.Index > l.latestEvent {
				l.latestEvent = e.Index
			}
			// Best-effort full decode to rebuild message markers; a record
			// that only passes the tripwire simply contributes no marker.
			ev, err := decodeRecord(e.Bytes)
			if err != nil {
				continue
			}
			if msg, ok := ev.Payload.(*Message); ok {
				var marker [8]byte
				binary.BigEndian.PutUint32(marker[0:4], uint32(e.Index))
				binary.BigEndian.PutUint32(marker[4:8], uint32(msg.MessageIndex))
				if err := b.Set(MessageIDKey(l.scope, msg.MessageID), marker[:], nil); err != nil {
					b.Close()
					return err
				}
				if err := b.Set(MessageIndexKey(l.scope, msg.MessageIndex), marker[0:4], nil); err != nil {
					b.Close()
					return err
				}
				if msg.MessageIndex > l.latestMessage {
					l.latestMessage = msg.MessageIndex
					l.latestMessageEvent = e.Index
				}
			}
		}
		if err := b.Set(MetaKey(l.scope), l.encodeMeta(), nil); err != nil {
			b.Close()
			return err
		}
		if err := l.store.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return err
		}
		b.Close()
	}
	return nil
}
