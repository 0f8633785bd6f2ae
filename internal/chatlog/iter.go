package chatlog

// Iterator buffer sizing. The constants are tuned empirically and are
// configuration, not correctness: the iterator must behave identically at
// buffer size 1 and at the cap.
const (
	DefaultIterMinBuffer = 5
	DefaultIterMaxBuffer = 500
)

// Iter is a lazy, double-ended iterator over a closed event range within one
// scope. Entries are fetched from the store in batches whose size doubles on
// each refill, amortizing engine round-trips for long sequential reads while
// bounding memory for short ones.
//
// Next and NextBack may be interleaved in any order. Switching direction
// discards the buffered entries and refetches in the new direction. The
// iterator is exhausted once the forward and backward cursors cross; an
// empty range never touches the store.
type Iter struct {
	store *Store
	scope Scope

	next     EventIndex // forward cursor, inclusive
	nextBack EventIndex // backward cursor, inclusive
	done     bool

	buf     []rawEntry
	forward bool // direction the buffer was filled in
	bufSize int
	minBuf  int
	maxBuf  int
}

// NewIter builds an iterator over [lo, hi] within scope. minBuf/maxBuf of 0
// select the defaults.
func NewIter(store *Store, scope Scope, lo, hi EventIndex, minBuf, maxBuf int) *Iter {
	if minBuf <= 0 {
		minBuf = DefaultIterMinBuffer
	}
	if maxBuf < minBuf {
		maxBuf = DefaultIterMaxBuffer
	}
	it := &Iter{
		store:    store,
		scope:    scope,
		next:     lo,
		nextBack: hi,
		forward:  true,
		bufSize:  minBuf,
		minBuf:   minBuf,
		maxBuf:   maxBuf,
	}
	if lo > hi || lo < MinEventIndex {
		it.done = true
	}
	return it
}

// Next returns the next event from the front of the range.
func (it *Iter) Next() (Event, bool, error) {
	if it.done {
		return Event{}, false, nil
	}
	if !it.forward {
		// Direction switch invalidates the buffer.
		it.buf = nil
		it.forward = true
		it.bufSize = it.minBuf
	}
	if len(it.buf) == 0 {
		if err := it.refill(); err != nil {
			return Event{}, false, err
		}
		if it.done {
			return Event{}, false, nil
		}
	}
	e := it.buf[0]
	it.buf = it.buf[1:]
	if e.Index >= it.nextBack {
		it.done = true
	} else {
		it.next = e.Index + 1
	}
	ev, err := decodeRecord(e.Value)
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// NextBack returns the next event from the back of the range.
func (it *Iter) NextBack() (Event, bool, error) {
	if it.done {
		return Event{}, false, nil
	}
	if it.forward {
		it.buf = nil
		it.forward = false
		it.bufSize = it.minBuf
	}
	if len(it.buf) == 0 {
		if err := it.refill(); err != nil {
			return Event{}, false, err
		}
		if it.done {
			return Event{}, false, nil
		}
	}
	e := it.buf[0]
	it.buf = it.buf[1:]
	if e.Index <= it.next {
		it.done = true
	} else {
		it.nextBack = e.Index - 1
	}
	ev, err := decodeRecord(e.Value)
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// refill fetches the next batch in the current direction and doubles the
// batch size up to the cap.
func (it *Iter) refill() error {
	entries, err := it.store.fetch(it.scope, it.next, it.nextBack, !it.forward, it.bufSize)
	if err != nil {
		return err
	}
	if it.bufSize < it.maxBuf {
		it.bufSize *= 2
		if it.bufSize > it.maxBuf {
			it.bufSize = it.maxBuf
		}
	}
	if len(entries) == 0 {
		it.done = true
		return nil
	}
	it.buf = entries
	return nil
}

// Collect drains the iterator forward and returns all remaining events.
func (it *Iter) Collect() ([]Event, error) {
	var out []Event
	for {
		ev, ok, err := it.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, ev)
	}
}
