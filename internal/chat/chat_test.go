package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/open-chat-labs/open-chat-sub002/internal/chatlog"
	pebblestore "github.com/open-chat-labs/open-chat-sub002/internal/storage/pebble"
)

func newTestStore(t *testing.T) *chatlog.Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return chatlog.NewStore(db)
}

func newTestChat(t *testing.T, owner uuid.UUID, opts Options) *Chat {
	t.Helper()
	store := newTestStore(t)
	c, err := Create(context.Background(), store, uuid.New(), "general", "", owner, 1000, opts)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func sendText(t *testing.T, c *Chat, sender uuid.UUID, text string) *SendResult {
	t.Helper()
	res, err := c.SendMessage(context.Background(), SendArgs{
		Sender:    sender,
		MessageID: uuid.New(),
		Content:   &chatlog.TextContent{Text: text},
		Now:       2000,
	})
	if err != nil {
		t.Fatalf("send %q: %v", text, err)
	}
	return res
}

func TestCreateSeedsChatCreatedAndOwner(t *testing.T) {
	owner := uuid.New()
	c := newTestChat(t, owner, Options{})

	ev, ok, err := c.MainLog().Get(chatlog.MinEventIndex)
	if err != nil || !ok {
		t.Fatalf("first event: ok=%v err=%v", ok, err)
	}
	created, ok := ev.Payload.(*chatlog.ChatCreated)
	if !ok {
		t.Fatalf("first event is %T", ev.Payload)
	}
	if created.Name != "general" || created.CreatedBy != owner {
		t.Fatalf("unexpected created payload: %+v", created)
	}
	m, ok := c.Member(owner)
	if !ok || m.Role != RoleOwner {
		t.Fatalf("owner membership: ok=%v role=%v", ok, m.Role)
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	owner := uuid.New()
	store := newTestStore(t)
	id := uuid.New()
	ctx := context.Background()

	c1, err := Create(ctx, store, id, "general", "", owner, 1000, Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sendText(t, c1, owner, "hello")
	before := c1.MainLog().LatestEventIndex()

	c2, err := Create(ctx, store, id, "general", "", owner, 1000, Options{})
	if err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if got := c2.MainLog().LatestEventIndex(); got != before {
		t.Fatalf("re-create appended events: %d -> %d", before, got)
	}
	if got := c2.MemberCount(); got != 1 {
		t.Fatalf("member count after reopen: %d", got)
	}
}

func TestJoinFixesWatermarks(t *testing.T) {
	owner := uuid.New()
	c := newTestChat(t, owner, Options{})
	ctx := context.Background()

	sendText(t, c, owner, "before join")
	joiner := uuid.New()
	m, err := c.Join(ctx, joiner, 3000)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	// Join itself appends a ParticipantsAdded event; the watermark points past
	// everything that existed before the join committed.
	if m.MinVisibleEventIndex <= 2 {
		t.Fatalf("joiner watermark %d should be past pre-join events", m.MinVisibleEventIndex)
	}
	if m.CanSee(2) {
		t.Fatal("joiner should not see pre-join events")
	}

	res := sendText(t, c, owner, "after join")
	if !m.CanSee(res.EventIndex) {
		t.Fatal("joiner should see post-join events")
	}

	// Re-joining is a no-op with the original watermark.
	m2, err := c.Join(ctx, joiner, 4000)
	if err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if m2.MinVisibleEventIndex != m.MinVisibleEventIndex {
		t.Fatalf("re-join moved watermark %d -> %d", m.MinVisibleEventIndex, m2.MinVisibleEventIndex)
	}
}

func TestJoinWithVisibleHistory(t *testing.T) {
	owner := uuid.New()
	c := newTestChat(t, owner, Options{HistoryVisibleToNewJoiners: true})
	sendText(t, c, owner, "before join")

	m, err := c.Join(context.Background(), uuid.New(), 3000)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.MinVisibleEventIndex != chatlog.MinEventIndex {
		t.Fatalf("visible-history joiner watermark = %d", m.MinVisibleEventIndex)
	}
}

func TestEventsClampsToWatermark(t *testing.T) {
	owner := uuid.New()
	c := newTestChat(t, owner, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sendText(t, c, owner, "early")
	}
	joiner := uuid.New()
	if _, err := c.Join(ctx, joiner, 3000); err != nil {
		t.Fatalf("join: %v", err)
	}
	sendText(t, c, owner, "late")

	it, err := c.Events(joiner, nil, chatlog.MinEventIndex, c.MainLog().LatestEventIndex())
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	evs, err := it.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	m, _ := c.Member(joiner)
	for _, ev := range evs {
		if ev.Index < m.MinVisibleEventIndex {
			t.Fatalf("event %d leaked below watermark %d", ev.Index, m.MinVisibleEventIndex)
		}
	}
	// Visible: the joiner's own ParticipantsAdded event plus the late message.
	if len(evs) != 2 {
		t.Fatalf("joiner sees %d events, want 2", len(evs))
	}
	if _, ok := evs[0].Payload.(*chatlog.ParticipantsAdded); !ok {
		t.Fatalf("first visible event is %T", evs[0].Payload)
	}

	if _, err := c.Events(uuid.New(), nil, chatlog.MinEventIndex, 10); !errors.Is(err, ErrUserNotInChat) {
		t.Fatalf("stranger read error = %v", err)
	}
}

func TestChangeRoleSeniorityAndLastOwner(t *testing.T) {
	owner := uuid.New()
	c := newTestChat(t, owner, Options{})
	ctx := context.Background()

	admin := uuid.New()
	member := uuid.New()
	if _, err := c.Join(ctx, admin, 2000); err != nil {
		t.Fatalf("join admin: %v", err)
	}
	if _, err := c.Join(ctx, member, 2000); err != nil {
		t.Fatalf("join member: %v", err)
	}
	if err := c.ChangeRole(ctx, owner, admin, RoleAdmin, 2100); err != nil {
		t.Fatalf("promote admin: %v", err)
	}

	// Admin cannot promote to owner (senior to their own role).
	if err := c.ChangeRole(ctx, admin, member, RoleOwner, 2200); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("admin promoting to owner: %v", err)
	}
	// Admin cannot demote the owner.
	if err := c.ChangeRole(ctx, admin, owner, RoleMember, 2200); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("admin demoting owner: %v", err)
	}
	// The last owner cannot demote themselves.
	if err := c.ChangeRole(ctx, owner, owner, RoleAdmin, 2300); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("last owner self-demotion: %v", err)
	}
	// With a second owner the demotion goes through.
	if err := c.ChangeRole(ctx, owner, admin, RoleOwner, 2400); err != nil {
		t.Fatalf("promote second owner: %v", err)
	}
	if err := c.ChangeRole(ctx, owner, owner, RoleAdmin, 2500); err != nil {
		t.Fatalf("demote with second owner present: %v", err)
	}
	m, _ := c.Member(owner)
	if m.Role != RoleAdmin {
		t.Fatalf("role after demotion = %v", m.Role)
	}
}

func TestRemoveMemberKeepsRemovalRecord(t *testing.T) {
	owner := uuid.New()
	c := newTestChat(t, owner, Options{})
	ctx := context.Background()

	member := uuid.New()
	if _, err := c.Join(ctx, member, 2000); err != nil {
		t.Fatalf("join: %v", err)
	}
	// A plain member cannot remove the owner.
	if err := c.RemoveMember(ctx, member, owner, 2100); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("member removing owner: %v", err)
	}
	if err := c.RemoveMember(ctx, owner, member, 2200); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := c.Member(member); ok {
		t.Fatal("member still present after removal")
	}
	rec, ok := c.Removed(member)
	if !ok || rec.RemovedBy != owner || rec.RemovedAt != 2200 {
		t.Fatalf("removal record: ok=%v rec=%+v", ok, rec)
	}
	if _, err := c.SendMessage(ctx, SendArgs{Sender: member, MessageID: uuid.New(), Content: &chatlog.TextContent{Text: "hi"}, Now: 2300}); !errors.Is(err, ErrUserNotInChat) {
		t.Fatalf("removed member send error = %v", err)
	}
}

func TestLeaveNeedsNoCapability(t *testing.T) {
	owner := uuid.New()
	c := newTestChat(t, owner, Options{})
	ctx := context.Background()

	member := uuid.New()
	if _, err := c.Join(ctx, member, 2000); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.RemoveMember(ctx, member, member, 2100); err != nil {
		t.Fatalf("leave: %v", err)
	}
	// The last owner cannot leave.
	if err := c.RemoveMember(ctx, owner, owner, 2200); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("last owner leaving: %v", err)
	}
}

func TestPinRequiresAdmin(t *testing.T) {
	owner := uuid.New()
	c := newTestChat(t, owner, Options{HistoryVisibleToNewJoiners: true})
	ctx := context.Background()

	res := sendText(t, c, owner, "pin me")
	member := uuid.New()
	if _, err := c.Join(ctx, member, 2000); err != nil {
		t.Fatalf("join: %v", err)
	}
	before := c.MainLog().LatestEventIndex()

	if _, err := c.PinMessage(ctx, member, res.MessageIndex, 2100); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("member pin error = %v", err)
	}
	if got := c.MainLog().LatestEventIndex(); got != before {
		t.Fatalf("denied pin appended an event: %d -> %d", before, got)
	}

	evIdx, err := c.PinMessage(ctx, owner, res.MessageIndex, 2200)
	if err != nil {
		t.Fatalf("owner pin: %v", err)
	}
	ev, ok, err := c.MainLog().Get(evIdx)
	if err != nil || !ok {
		t.Fatalf("pin event: ok=%v err=%v", ok, err)
	}
	pinned, ok := ev.Payload.(*chatlog.MessagePinned)
	if !ok || pinned.MessageIndex != res.MessageIndex {
		t.Fatalf("pin payload: %+v", ev.Payload)
	}
	if _, err := c.UnpinMessage(ctx, owner, res.MessageIndex, 2300); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if _, err := c.PinMessage(ctx, owner, 999, 2400); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("pin of missing message: %v", err)
	}
}

func TestSuspendedMemberCannotMutate(t *testing.T) {
	owner := uuid.New()
	c := newTestChat(t, owner, Options{})
	ctx := context.Background()

	member := uuid.New()
	if _, err := c.Join(ctx, member, 2000); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.SetSuspended(owner, member, true); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := c.SendMessage(ctx, SendArgs{Sender: member, MessageID: uuid.New(), Content: &chatlog.TextContent{Text: "hi"}, Now: 2100}); !errors.Is(err, ErrUserSuspended) {
		t.Fatalf("suspended send error = %v", err)
	}
	if err := c.SetSuspended(owner, member, false); err != nil {
		t.Fatalf("unsuspend: %v", err)
	}
	sendText(t, c, member, "back")
}

func TestMembersSurviveReopen(t *testing.T) {
	owner := uuid.New()
	store := newTestStore(t)
	id := uuid.New()
	ctx := context.Background()

	c, err := Create(ctx, store, id, "general", "", owner, 1000, Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	member := uuid.New()
	if _, err := c.Join(ctx, member, 2000); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.ChangeRole(ctx, owner, member, RoleAdmin, 2100); err != nil {
		t.Fatalf("promote: %v", err)
	}
	gone := uuid.New()
	if _, err := c.Join(ctx, gone, 2200); err != nil {
		t.Fatalf("join gone: %v", err)
	}
	if err := c.RemoveMember(ctx, owner, gone, 2300); err != nil {
		t.Fatalf("remove gone: %v", err)
	}

	c2, err := Open(store, id, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	m, ok := c2.Member(member)
	if !ok || m.Role != RoleAdmin {
		t.Fatalf("reloaded member: ok=%v role=%v", ok, m.Role)
	}
	if _, ok := c2.Removed(gone); !ok {
		t.Fatal("removal record lost on reopen")
	}
	if c2.MemberCount() != 2 {
		t.Fatalf("reloaded member count = %d", c2.MemberCount())
	}
}
