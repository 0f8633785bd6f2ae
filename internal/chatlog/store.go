package chatlog

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/open-chat-labs/open-chat-sub002/internal/storage/pebble"
)

// Store persists events in the underlying sorted byte-keyed engine and owns
// value (de)serialization including the corruption-fallback path.
type Store struct {
	db *pebblestore.DB

	// fetchCount tracks range fetches issued against the engine; iterators
	// rely on it in tests to prove laziness.
	fetchCount atomic.Int64
}

// NewStore wraps the given engine.
func NewStore(db *pebblestore.DB) *Store { return &Store{db: db} }

// DB exposes the underlying engine for batch composition.
func (s *Store) DB() *pebblestore.DB { return s.db }

// Get returns the event stored at (scope, idx), decoding through the fallback
// path. Only ErrCorrupt (or an engine failure) produces an error.
func (s *Store) Get(scope Scope, idx EventIndex) (Event, bool, error) {
	val, ok, err := s.db.GetMaybe(EntryKey(scope, idx))
	if err != nil || !ok {
		return Event{}, false, err
	}
	ev, err := decodeRecord(val)
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// Insert writes the event at (scope, idx), overwriting any existing value.
func (s *Store) Insert(scope Scope, idx EventIndex, ev Event) error {
	val, err := encodeRecord(ev)
	if err != nil {
		return err
	}
	return s.db.Set(EntryKey(scope, idx), val)
}

// SetInBatch stages the encoded event into b without committing.
func (s *Store) SetInBatch(b *pebble.Batch, scope Scope, idx EventIndex, ev Event) error {
	val, err := encodeRecord(ev)
	if err != nil {
		return err
	}
	return b.Set(EntryKey(scope, idx), val, nil)
}

// Remove deletes the event at (scope, idx) and returns what was stored there.
func (s *Store) Remove(scope Scope, idx EventIndex) (Event, bool, error) {
	ev, ok, err := s.Get(scope, idx)
	if err != nil || !ok {
		return Event{}, ok, err
	}
	if err := s.db.Delete(EntryKey(scope, idx)); err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// rawEntry is one undecoded log entry as fetched from the engine.
type rawEntry struct {
	Index EventIndex
	Value []byte
}

// fetch reads up to limit entries of [lo, hi] within scope, ascending or
// descending. Values are copied out of the engine's buffers.
func (s *Store) fetch(scope Scope, lo, hi EventIndex, reverse bool, limit int) ([]rawEntry, error) {
	if lo > hi || limit <= 0 {
		return nil, nil
	}
	s.fetchCount.Add(1)

	lowKey := EntryKey(scope, lo)
	highKey := EntryKey(scope, hi)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lowKey,
		UpperBound: append(highKey, 0x00),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]rawEntry, 0, limit)
	prefixLen := len(lowKey) - 4
	if reverse {
		for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
			idx := EventIndex(binary.BigEndian.Uint32(iter.Key()[prefixLen:]))
			out = append(out, rawEntry{Index: idx, Value: append([]byte(nil), iter.Value()...)})
		}
		return out, nil
	}
	for ok := iter.First(); ok && len(out) < limit; ok = iter.Next() {
		idx := EventIndex(binary.BigEndian.Uint32(iter.Key()[prefixLen:]))
		out = append(out, rawEntry{Index: idx, Value: append([]byte(nil), iter.Value()...)})
	}
	return out, nil
}

// fetchRaw is fetch without decoding, exposed for bulk migration.
func (s *Store) fetchRaw(scope Scope, lo, hi EventIndex, limit int) ([]rawEntry, error) {
	return s.fetch(scope, lo, hi, false, limit)
}

// Fetches reports how many range fetches have hit the engine.
func (s *Store) Fetches() int64 { return s.fetchCount.Load() }
