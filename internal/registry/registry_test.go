package registry

import (
	"testing"

	"github.com/google/uuid"

	pebblestore "github.com/open-chat-labs/open-chat-sub002/internal/storage/pebble"
)

func newTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureChatIdempotent(t *testing.T) {
	db := newTestDB(t)
	id := uuid.New()

	m1, err := EnsureChat(db, Meta{ID: id, Name: "general", CreatedBy: uuid.New(), CreatedAtMs: 1000})
	if err != nil {
		t.Fatalf("ensure1: %v", err)
	}
	m2, err := EnsureChat(db, Meta{ID: id, Name: "renamed", CreatedAtMs: 2000})
	if err != nil {
		t.Fatalf("ensure2: %v", err)
	}
	if m1.Name != m2.Name || m1.CreatedAtMs != m2.CreatedAtMs {
		t.Fatalf("not idempotent: %+v vs %+v", m1, m2)
	}
}

func TestLookupAndList(t *testing.T) {
	db := newTestDB(t)

	if _, ok, err := Lookup(db, uuid.New()); err != nil || ok {
		t.Fatalf("lookup of unregistered chat: ok=%v err=%v", ok, err)
	}

	want := map[uuid.UUID]bool{}
	for i := 0; i < 3; i++ {
		id := uuid.New()
		want[id] = true
		if _, err := EnsureChat(db, Meta{ID: id, Name: "chat", CreatedAtMs: int64(1000 + i)}); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	all, err := List(db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != len(want) {
		t.Fatalf("list returned %d records, want %d", len(all), len(want))
	}
	for _, m := range all {
		if !want[m.ID] {
			t.Fatalf("unexpected record %+v", m)
		}
	}
}
