package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/open-chat-labs/open-chat-sub002/internal/chatlog"
	cfgpkg "github.com/open-chat-labs/open-chat-sub002/internal/config"
)

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(Options{DataDir: t.TempDir(), Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestOpenRejectsUnknownFsyncMode(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Fsync = "sometimes"
	if _, err := Open(Options{DataDir: t.TempDir(), Config: cfg}); err == nil {
		t.Fatal("unknown fsync mode accepted")
	}
}

func TestCreateAndOpenChat(t *testing.T) {
	rt, err := Open(Options{DataDir: t.TempDir(), Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	ctx := context.Background()

	id := uuid.New()
	owner := uuid.New()
	c, err := rt.CreateChat(ctx, id, "general", "the lobby", owner, nil, 1000)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if c.MainLog().LatestEventIndex() != chatlog.MinEventIndex {
		t.Fatalf("seeded log latest = %d", c.MainLog().LatestEventIndex())
	}

	// The aggregate is cached; OpenChat returns the same instance.
	again, err := rt.OpenChat(id)
	if err != nil {
		t.Fatalf("open chat: %v", err)
	}
	if again != c {
		t.Fatal("OpenChat returned a second aggregate for the same chat")
	}

	if _, err := rt.OpenChat(uuid.New()); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("unregistered chat err = %v", err)
	}

	chats, err := rt.ListChats()
	if err != nil || len(chats) != 1 || chats[0].ID != id {
		t.Fatalf("list: chats=%+v err=%v", chats, err)
	}
}
