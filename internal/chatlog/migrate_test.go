package chatlog

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestLog(t)
	for i := 0; i < 30; i++ {
		appendText(t, src, "payload")
	}

	var all []RawEntry
	from := MinEventIndex
	for {
		batch, next, err := src.ExportRaw(from, 7)
		if err != nil {
			t.Fatalf("export: %v", err)
		}
		all = append(all, batch...)
		if next == 0 {
			break
		}
		from = next
	}
	if len(all) != 30 {
		t.Fatalf("exported %d entries", len(all))
	}

	dst := newTestLog(t)
	if err := dst.ImportRaw(ctx, all); err != nil {
		t.Fatalf("import: %v", err)
	}
	if dst.LatestEventIndex() != 30 {
		t.Fatalf("latest event after import: %d", dst.LatestEventIndex())
	}
	if dst.LatestMessageIndex() != 30 {
		t.Fatalf("latest message after import: %d", dst.LatestMessageIndex())
	}

	events, err := dst.Iter().Collect()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(events) != 30 {
		t.Fatalf("imported log has %d events", len(events))
	}
	for i, ev := range events {
		if ev.Index != EventIndex(i+1) {
			t.Fatalf("order broken at %d", i)
		}
		if _, ok := ev.Payload.(*Message); !ok {
			t.Fatalf("payload lost at %d: %T", i, ev.Payload)
		}
	}

	// Markers must be rebuilt so idempotency survives the move.
	srcEvents, _ := src.Iter().Collect()
	firstID := srcEvents[0].Payload.(*Message).MessageID
	if _, _, ok, _ := dst.LookupMessageID(firstID); !ok {
		t.Fatalf("message-id marker not rebuilt")
	}
}

func TestImportRejectsMalformedRecords(t *testing.T) {
	dst := newTestLog(t)
	if err := dst.ImportRaw(context.Background(), []RawEntry{{Index: 1, Bytes: []byte("garbage")}}); err == nil {
		t.Fatalf("garbage import must fail the tripwire")
	}

	// A record whose embedded index disagrees with its position must fail too.
	ev := testMessageEvent(2, 9)
	b, err := encodeRecord(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := dst.ImportRaw(context.Background(), []RawEntry{{Index: 1, Bytes: b}}); err == nil {
		t.Fatalf("index mismatch must fail the tripwire")
	}
	if dst.LatestEventIndex() != 0 {
		t.Fatalf("failed import must not move watermarks")
	}
}

func TestImportAcceptsFallbackOnlyRecords(t *testing.T) {
	// A record that passes the tripwire but has a garbled payload imports as a
	// FailedToDeserialize event rather than blocking the move.
	src := newTestLog(t)
	appendText(t, src, "will corrupt")
	entries, _, err := src.ExportRaw(MinEventIndex, 10)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	entries[0].Bytes[len(entries[0].Bytes)-6] ^= 0xff

	dst, err := OpenLog(src.store, MainScope(uuid.New()), LogOptions{})
	if err != nil {
		t.Fatalf("open dst: %v", err)
	}
	if err := dst.ImportRaw(context.Background(), entries); err != nil {
		t.Fatalf("import: %v", err)
	}
	ev, ok, err := dst.Get(1)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if _, isFallback := ev.Payload.(FailedToDeserialize); !isFallback {
		t.Fatalf("want FailedToDeserialize, got %T", ev.Payload)
	}
}
