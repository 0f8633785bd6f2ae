package chatlog

import (
	"context"
	"testing"

	"github.com/google/uuid"

	pebblestore "github.com/open-chat-labs/open-chat-sub002/internal/storage/pebble"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	store := newTestStore(t)
	l, err := OpenLog(store, MainScope(uuid.New()), LogOptions{})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

func appendText(t *testing.T, l *Log, text string) (EventIndex, *Message) {
	t.Helper()
	idx, msg, err := l.AppendMessage(context.Background(), MessageArgs{
		MessageID: uuid.New(),
		Sender:    uuid.New(),
		Content:   &TextContent{Text: text},
		Now:       1700000000000 + int64(l.LatestEventIndex()),
	})
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
	return idx, msg
}

func TestAppendAssignsContiguousIndexes(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	idx1, msg1 := appendText(t, l, "one")
	if idx1 != MinEventIndex || msg1.MessageIndex != MinMessageIndex {
		t.Fatalf("first append got event %d message %d", idx1, msg1.MessageIndex)
	}

	evIdx, err := l.AppendEvent(ctx, &NameChanged{NewName: "general", ChangedBy: uuid.New()}, 0, 2, 0)
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if evIdx != idx1+1 {
		t.Fatalf("event index gap: %d after %d", evIdx, idx1)
	}

	idx3, msg3 := appendText(t, l, "two")
	if idx3 != evIdx+1 {
		t.Fatalf("event index gap: %d after %d", idx3, evIdx)
	}
	if msg3.MessageIndex != msg1.MessageIndex+1 {
		t.Fatalf("message index gap: %d after %d", msg3.MessageIndex, msg1.MessageIndex)
	}
}

func TestWatermarksSurviveReopen(t *testing.T) {
	store := newTestStore(t)
	scope := MainScope(uuid.New())
	l, err := OpenLog(store, scope, LogOptions{})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	appendText(t, l, "a")
	appendText(t, l, "b")
	if _, err := l.AppendEvent(context.Background(), &MessagePinned{MessageIndex: 1, PinnedBy: uuid.New()}, 0, 3, 0); err != nil {
		t.Fatalf("append event: %v", err)
	}

	reopened, err := OpenLog(store, scope, LogOptions{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.LatestEventIndex() != 3 {
		t.Fatalf("latest event after reopen: %d", reopened.LatestEventIndex())
	}
	if reopened.LatestMessageIndex() != 2 {
		t.Fatalf("latest message after reopen: %d", reopened.LatestMessageIndex())
	}
	_, msg, ok, err := reopened.LatestMessage()
	if err != nil || !ok {
		t.Fatalf("latest message: ok=%v err=%v", ok, err)
	}
	if text := msg.Content.(*TextContent).Text; text != "b" {
		t.Fatalf("latest message text %q", text)
	}
}

func TestPointLookup(t *testing.T) {
	l := newTestLog(t)
	idx, msg := appendText(t, l, "target")

	ev, ok, err := l.Get(idx)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	got := ev.Payload.(*Message)
	if got.MessageID != msg.MessageID {
		t.Fatalf("message id mismatch")
	}

	if _, ok, err := l.Get(idx + 100); err != nil || ok {
		t.Fatalf("absent index: ok=%v err=%v", ok, err)
	}
}

func TestMessageMarkers(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	id := uuid.New()
	idx, msg, err := l.AppendMessage(ctx, MessageArgs{
		MessageID: id,
		Sender:    uuid.New(),
		Content:   &TextContent{Text: "x"},
		Now:       1,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	evIdx, mi, ok, err := l.LookupMessageID(id)
	if err != nil || !ok {
		t.Fatalf("lookup id: ok=%v err=%v", ok, err)
	}
	if evIdx != idx || mi != msg.MessageIndex {
		t.Fatalf("marker mismatch: %d/%d vs %d/%d", evIdx, mi, idx, msg.MessageIndex)
	}

	byIdx, ok, err := l.EventIndexOfMessage(msg.MessageIndex)
	if err != nil || !ok {
		t.Fatalf("lookup index: ok=%v err=%v", ok, err)
	}
	if byIdx != idx {
		t.Fatalf("index marker mismatch: %d vs %d", byIdx, idx)
	}

	if _, _, ok, _ := l.LookupMessageID(uuid.New()); ok {
		t.Fatalf("unknown id must miss")
	}
}

func TestThreadScopeIsIndependent(t *testing.T) {
	store := newTestStore(t)
	chat := uuid.New()
	main, err := OpenLog(store, MainScope(chat), LogOptions{})
	if err != nil {
		t.Fatalf("open main: %v", err)
	}
	thread, err := OpenLog(store, ThreadScope(chat, 1), LogOptions{})
	if err != nil {
		t.Fatalf("open thread: %v", err)
	}

	appendText(t, main, "main-1")
	appendText(t, thread, "thread-1")
	appendText(t, thread, "thread-2")

	if main.LatestEventIndex() != 1 {
		t.Fatalf("main log polluted: latest %d", main.LatestEventIndex())
	}
	if thread.LatestEventIndex() != 2 {
		t.Fatalf("thread log wrong: latest %d", thread.LatestEventIndex())
	}

	events, err := main.Iter().Collect()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("main scan crossed scopes: %d events", len(events))
	}
}

func TestUpdateRewritesAggregates(t *testing.T) {
	l := newTestLog(t)
	idx, _ := appendText(t, l, "react to me")

	ev, _, err := l.Get(idx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	msg := ev.Payload.(*Message)
	msg.Reactions = []Reaction{{Emoji: "🔥", Users: []uuid.UUID{uuid.New()}}}
	if err := l.Update(ev); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _, err := l.Get(idx)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if len(got.Payload.(*Message).Reactions) != 1 {
		t.Fatalf("reaction aggregate not persisted")
	}

	if err := l.Update(Event{Index: idx + 5, Payload: FailedToDeserialize{}}); err == nil {
		t.Fatalf("update beyond latest must fail")
	}
}
