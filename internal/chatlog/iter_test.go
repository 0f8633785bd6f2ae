package chatlog

import (
	"testing"
)

func fillLog(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		appendText(t, l, "event")
	}
}

func TestIterForwardThenReverseYieldSameSet(t *testing.T) {
	l := newTestLog(t)
	fillLog(t, l, 25)

	forward, err := l.Iter().Collect()
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(forward) != 25 {
		t.Fatalf("forward count %d", len(forward))
	}
	for i, ev := range forward {
		if ev.Index != EventIndex(i+1) {
			t.Fatalf("forward order broken at %d: %d", i, ev.Index)
		}
	}

	it := l.Iter()
	var reverse []Event
	for {
		ev, ok, err := it.NextBack()
		if err != nil {
			t.Fatalf("reverse: %v", err)
		}
		if !ok {
			break
		}
		reverse = append(reverse, ev)
	}
	if len(reverse) != 25 {
		t.Fatalf("reverse count %d", len(reverse))
	}
	for i, ev := range reverse {
		if ev.Index != forward[len(forward)-1-i].Index {
			t.Fatalf("reverse is not the mirror of forward at %d", i)
		}
	}
}

func TestIterInterleavedEndsNoDuplicatesNoGaps(t *testing.T) {
	l := newTestLog(t)
	fillLog(t, l, 17)

	it := l.Iter()
	seen := map[EventIndex]bool{}
	fromFront := true
	for {
		var (
			ev  Event
			ok  bool
			err error
		)
		if fromFront {
			ev, ok, err = it.Next()
		} else {
			ev, ok, err = it.NextBack()
		}
		if err != nil {
			t.Fatalf("pull: %v", err)
		}
		if !ok {
			break
		}
		if seen[ev.Index] {
			t.Fatalf("duplicate index %d", ev.Index)
		}
		seen[ev.Index] = true
		fromFront = !fromFront
	}
	if len(seen) != 17 {
		t.Fatalf("want 17 distinct events, got %d", len(seen))
	}
}

func TestEmptyIteratorNeverTouchesStore(t *testing.T) {
	l := newTestLog(t)
	fillLog(t, l, 3)

	before := l.store.Fetches()
	it := l.Range(5, 2) // inverted
	if _, ok, err := it.Next(); ok || err != nil {
		t.Fatalf("inverted range yielded: ok=%v err=%v", ok, err)
	}
	if _, ok, err := it.NextBack(); ok || err != nil {
		t.Fatalf("inverted range yielded backward: ok=%v err=%v", ok, err)
	}
	if l.store.Fetches() != before {
		t.Fatalf("empty iterator hit the store")
	}

	// An empty log's full iterator is also empty without any fetch.
	empty := newTestLog(t)
	before = empty.store.Fetches()
	if _, ok, _ := empty.Iter().Next(); ok {
		t.Fatalf("empty log yielded an event")
	}
	if empty.store.Fetches() != before {
		t.Fatalf("empty log iterator hit the store")
	}
}

func TestIterDirectionSwitchDiscardsBuffer(t *testing.T) {
	l := newTestLog(t)
	fillLog(t, l, 12)

	it := l.Iter()
	// Pull two from the front (buffer holds more), then switch.
	for i := 0; i < 2; i++ {
		if _, ok, err := it.Next(); !ok || err != nil {
			t.Fatalf("front pull %d: ok=%v err=%v", i, ok, err)
		}
	}
	ev, ok, err := it.NextBack()
	if !ok || err != nil {
		t.Fatalf("back pull: ok=%v err=%v", ok, err)
	}
	if ev.Index != 12 {
		t.Fatalf("after switch want newest (12), got %d", ev.Index)
	}
	ev, ok, err = it.Next()
	if !ok || err != nil {
		t.Fatalf("front after switch: ok=%v err=%v", ok, err)
	}
	if ev.Index != 3 {
		t.Fatalf("forward cursor must resume at 3, got %d", ev.Index)
	}
}

func TestIterAtBufferSizeOneAndCap(t *testing.T) {
	l := newTestLog(t)
	fillLog(t, l, 40)

	for _, bufs := range [][2]int{{1, 1}, {DefaultIterMaxBuffer, DefaultIterMaxBuffer}} {
		it := NewIter(l.store, l.scope, MinEventIndex, l.LatestEventIndex(), bufs[0], bufs[1])
		events, err := it.Collect()
		if err != nil {
			t.Fatalf("collect at buffer %v: %v", bufs, err)
		}
		if len(events) != 40 {
			t.Fatalf("buffer %v: want 40 events, got %d", bufs, len(events))
		}
		for i, ev := range events {
			if ev.Index != EventIndex(i+1) {
				t.Fatalf("buffer %v: order broken at %d", bufs, i)
			}
		}
	}
}

func TestIterBufferDoublingReducesFetches(t *testing.T) {
	l := newTestLog(t)
	fillLog(t, l, 100)

	before := l.store.Fetches()
	it := NewIter(l.store, l.scope, MinEventIndex, l.LatestEventIndex(), 5, 500)
	if _, err := it.Collect(); err != nil {
		t.Fatalf("collect: %v", err)
	}
	fetches := l.store.Fetches() - before
	// 5 + 10 + 20 + 40 + 80 covers 100 entries in 5 fetches.
	if fetches > 5 {
		t.Fatalf("expected doubling to cap fetches at 5, got %d", fetches)
	}
}
