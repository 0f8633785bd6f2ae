package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/open-chat-labs/open-chat-sub002/internal/chatlog"
)

// Limits bound structural content validation.
type Limits struct {
	TextMaxChars   int `json:"textMaxChars" yaml:"textMaxChars"`
	PollMaxOptions int `json:"pollMaxOptions" yaml:"pollMaxOptions"`
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{TextMaxChars: 10_000, PollMaxOptions: 10}
}

// Options configures a chat aggregate.
type Options struct {
	Permissions *Permissions
	// HistoryVisibleToNewJoiners grants joiners visibility from the scope
	// minimum instead of the join-time watermark.
	HistoryVisibleToNewJoiners bool
	Limits                     Limits
	LogOptions                 chatlog.LogOptions
	Logger                     zerolog.Logger
}

// Chat is the aggregate owning one conversation: its main event log, its
// thread logs, and its member set. Exactly one logical process owns a chat at
// a time; the mutex serializes mutations so every mutation runs to completion
// before anything else observes the log.
type Chat struct {
	id    uuid.UUID
	store *chatlog.Store
	opts  Options
	log   zerolog.Logger

	mu      sync.Mutex
	main    *chatlog.Log
	threads map[chatlog.MessageIndex]*chatlog.Log
	members map[uuid.UUID]*Member
	removed map[uuid.UUID]RemovedMember
}

// Open loads an existing chat's logs and member set.
func Open(store *chatlog.Store, id uuid.UUID, opts Options) (*Chat, error) {
	if opts.Permissions == nil {
		p := DefaultPermissions()
		opts.Permissions = &p
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	main, err := chatlog.OpenLog(store, chatlog.MainScope(id), opts.LogOptions)
	if err != nil {
		return nil, err
	}
	c := &Chat{
		id:      id,
		store:   store,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "chat").Str("chat_id", id.String()).Logger(),
		main:    main,
		threads: map[chatlog.MessageIndex]*chatlog.Log{},
		members: map[uuid.UUID]*Member{},
		removed: map[uuid.UUID]RemovedMember{},
	}
	if err := c.loadMembers(); err != nil {
		return nil, err
	}
	return c, nil
}

// Create opens the chat and, when its log is empty, seeds it with the
// ChatCreated event and the owner membership. Idempotent across restarts.
func Create(ctx context.Context, store *chatlog.Store, id uuid.UUID, name, description string, createdBy uuid.UUID, now int64, opts Options) (*Chat, error) {
	c, err := Open(store, id, opts)
	if err != nil {
		return nil, err
	}
	if c.main.LatestEventIndex() > 0 {
		return c, nil
	}
	if _, err := c.main.AppendEvent(ctx, &chatlog.ChatCreated{Name: name, Description: description, CreatedBy: createdBy}, 0, now, 0); err != nil {
		return nil, err
	}
	owner := &Member{
		UserID:                 createdBy,
		Role:                   RoleOwner,
		DateAdded:              now,
		MinVisibleEventIndex:   chatlog.MinEventIndex,
		MinVisibleMessageIndex: chatlog.MinMessageIndex,
	}
	c.members[createdBy] = owner
	if err := c.saveMember(owner); err != nil {
		return nil, err
	}
	c.log.Info().Str("name", name).Msg("chat created")
	return c, nil
}

// ID returns the chat's opaque identifier.
func (c *Chat) ID() uuid.UUID { return c.id }

// Permissions returns the active permission matrix.
func (c *Chat) Permissions() Permissions { return *c.opts.Permissions }

// MainLog exposes the main event log.
func (c *Chat) MainLog() *chatlog.Log { return c.main }

// scopeLog resolves the log for an optional thread root, opening the thread
// log lazily. Callers must hold c.mu or be on a read-only path.
func (c *Chat) scopeLog(root *chatlog.MessageIndex) (*chatlog.Log, error) {
	if root == nil {
		return c.main, nil
	}
	if l, ok := c.threads[*root]; ok {
		return l, nil
	}
	l, err := chatlog.OpenLog(c.store, chatlog.ThreadScope(c.id, *root), c.opts.LogOptions)
	if err != nil {
		return nil, err
	}
	c.threads[*root] = l
	return l, nil
}

// Member returns the membership record for a user, if present.
func (c *Chat) Member(user uuid.UUID) (*Member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[user]
	return m, ok
}

// MemberCount returns the current member count.
func (c *Chat) MemberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Removed returns the removal-log record for a user, if present.
func (c *Chat) Removed(user uuid.UUID) (RemovedMember, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.removed[user]
	return r, ok
}

// Join adds the caller as a plain member. Watermarks are fixed at the
// then-current log position unless history is visible to new joiners, and
// never move afterwards. Re-joining while already a member is a no-op.
func (c *Chat) Join(ctx context.Context, user uuid.UUID, now int64) (*Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.members[user]; ok {
		return m, nil
	}
	m := &Member{UserID: user, Role: RoleMember, DateAdded: now}
	if c.opts.HistoryVisibleToNewJoiners {
		m.MinVisibleEventIndex = chatlog.MinEventIndex
		m.MinVisibleMessageIndex = chatlog.MinMessageIndex
	} else {
		m.MinVisibleEventIndex = c.main.LatestEventIndex() + 1
		m.MinVisibleMessageIndex = c.main.LatestMessageIndex() + 1
	}
	if _, err := c.main.AppendEvent(ctx, &chatlog.ParticipantsAdded{UserIDs: []uuid.UUID{user}, AddedBy: user}, 0, now, 0); err != nil {
		return nil, err
	}
	c.members[user] = m
	delete(c.removed, user)
	if err := c.saveMember(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddMembers adds users on behalf of caller, gated by the add-members
// capability. Already-present users are skipped.
func (c *Chat) AddMembers(ctx context.Context, caller uuid.UUID, users []uuid.UUID, now int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	actor, err := c.requireActiveMember(caller)
	if err != nil {
		return err
	}
	if !IsPermitted(actor.Role, c.opts.Permissions.AddMembers) {
		return ErrNotAuthorized
	}
	var added []uuid.UUID
	for _, u := range users {
		if _, ok := c.members[u]; ok {
			continue
		}
		m := &Member{UserID: u, Role: RoleMember, DateAdded: now}
		if c.opts.HistoryVisibleToNewJoiners {
			m.MinVisibleEventIndex = chatlog.MinEventIndex
			m.MinVisibleMessageIndex = chatlog.MinMessageIndex
		} else {
			m.MinVisibleEventIndex = c.main.LatestEventIndex() + 1
			m.MinVisibleMessageIndex = c.main.LatestMessageIndex() + 1
		}
		c.members[u] = m
		delete(c.removed, u)
		if err := c.saveMember(m); err != nil {
			return err
		}
		added = append(added, u)
	}
	if len(added) == 0 {
		return nil
	}
	_, err = c.main.AppendEvent(ctx, &chatlog.ParticipantsAdded{UserIDs: added, AddedBy: caller}, 0, now, 0)
	return err
}

// ChangeRole assigns newRole to target. The caller needs the change-roles
// capability, must be same-or-senior to both the target's current role and
// the new role, and may demote (never promote) themselves. The last owner
// cannot be demoted.
func (c *Chat) ChangeRole(ctx context.Context, caller, target uuid.UUID, newRole Role, now int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	actor, err := c.requireActiveMember(caller)
	if err != nil {
		return err
	}
	tm, ok := c.members[target]
	if !ok {
		return ErrUserNotInChat
	}
	if caller == target {
		if newRole > actor.Role {
			return ErrNotAuthorized
		}
	} else {
		if !c.opts.Permissions.CanChangeRoles(actor.Role, newRole) || !actor.Role.IsSameOrSenior(tm.Role) {
			return ErrNotAuthorized
		}
	}
	if tm.Role == newRole {
		return nil
	}
	if tm.Role == RoleOwner && c.ownerCount() == 1 {
		return ErrLastOwner
	}
	oldRole := tm.Role
	tm.Role = newRole
	if err := c.saveMember(tm); err != nil {
		return err
	}
	_, err = c.main.AppendEvent(ctx, &chatlog.RoleChanged{
		UserIDs:   []uuid.UUID{target},
		ChangedBy: caller,
		OldRole:   oldRole.String(),
		NewRole:   newRole.String(),
	}, 0, now, 0)
	return err
}

// RemoveMember removes target. Leaving (caller == target) needs no
// capability; removing someone else needs remove-members and same-or-senior.
// The removed identity is retained in the removal log.
func (c *Chat) RemoveMember(ctx context.Context, caller, target uuid.UUID, now int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	actor, err := c.requireActiveMember(caller)
	if err != nil {
		return err
	}
	tm, ok := c.members[target]
	if !ok {
		return ErrUserNotInChat
	}
	if caller != target {
		if !IsPermitted(actor.Role, c.opts.Permissions.RemoveMembers) || !actor.Role.IsSameOrSenior(tm.Role) {
			return ErrNotAuthorized
		}
	}
	if tm.Role == RoleOwner && c.ownerCount() == 1 {
		return ErrLastOwner
	}
	delete(c.members, target)
	rec := RemovedMember{UserID: target, RemovedBy: caller, RemovedAt: now}
	c.removed[target] = rec
	if err := c.deleteMember(target, rec); err != nil {
		return err
	}
	_, err = c.main.AppendEvent(ctx, &chatlog.ParticipantsRemoved{UserIDs: []uuid.UUID{target}, RemovedBy: caller}, 0, now, 0)
	return err
}

// SetSuspended toggles the target's suspension flag (admin capability rides
// on remove-members seniority rules).
func (c *Chat) SetSuspended(caller, target uuid.UUID, suspended bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	actor, err := c.requireActiveMember(caller)
	if err != nil {
		return err
	}
	tm, ok := c.members[target]
	if !ok {
		return ErrUserNotInChat
	}
	if !IsPermitted(actor.Role, c.opts.Permissions.RemoveMembers) || !actor.Role.IsSameOrSenior(tm.Role) {
		return ErrNotAuthorized
	}
	tm.Suspended = suspended
	return c.saveMember(tm)
}

// SetMuted toggles the caller's own mute flag.
func (c *Chat) SetMuted(caller uuid.UUID, muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[caller]
	if !ok {
		return ErrUserNotInChat
	}
	m.Muted = muted
	return c.saveMember(m)
}

// PinMessage appends a pinned event for a visible message, gated by the
// pin-messages capability.
func (c *Chat) PinMessage(ctx context.Context, caller uuid.UUID, mi chatlog.MessageIndex, now int64) (chatlog.EventIndex, error) {
	return c.pinOp(ctx, caller, mi, now, true)
}

// UnpinMessage is the inverse of PinMessage, with the same gate.
func (c *Chat) UnpinMessage(ctx context.Context, caller uuid.UUID, mi chatlog.MessageIndex, now int64) (chatlog.EventIndex, error) {
	return c.pinOp(ctx, caller, mi, now, false)
}

func (c *Chat) pinOp(ctx context.Context, caller uuid.UUID, mi chatlog.MessageIndex, now int64, pin bool) (chatlog.EventIndex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	actor, err := c.requireActiveMember(caller)
	if err != nil {
		return 0, err
	}
	if !IsPermitted(actor.Role, c.opts.Permissions.PinMessages) {
		return 0, ErrNotAuthorized
	}
	if !actor.CanSeeMessage(mi) {
		return 0, ErrMessageNotFound
	}
	if _, ok, err := c.main.EventIndexOfMessage(mi); err != nil {
		return 0, err
	} else if !ok {
		return 0, ErrMessageNotFound
	}
	var payload chatlog.Payload
	if pin {
		payload = &chatlog.MessagePinned{MessageIndex: mi, PinnedBy: caller}
	} else {
		payload = &chatlog.MessageUnpinned{MessageIndex: mi, UnpinnedBy: caller}
	}
	return c.main.AppendEvent(ctx, payload, 0, now, 0)
}

// Events returns an iterator over [lo, hi] of the caller's visible range in
// the main log or a thread. The lower bound is clamped to the caller's
// watermark so no read ever yields events below it.
func (c *Chat) Events(caller uuid.UUID, root *chatlog.MessageIndex, lo, hi chatlog.EventIndex) (*chatlog.Iter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[caller]
	if !ok {
		return nil, ErrUserNotInChat
	}
	if root == nil {
		if lo < m.MinVisibleEventIndex {
			lo = m.MinVisibleEventIndex
		}
	} else if err := c.threadRootVisible(m, *root); err != nil {
		return nil, err
	}
	l, err := c.scopeLog(root)
	if err != nil {
		return nil, err
	}
	return l.Range(lo, hi), nil
}

// threadRootVisible reports whether the root message anchoring a thread sits
// within the caller's watermark. A thread is only as visible as its root.
// Callers hold c.mu.
func (c *Chat) threadRootVisible(m *Member, root chatlog.MessageIndex) error {
	rootIdx, ok, err := c.main.EventIndexOfMessage(root)
	if err != nil {
		return err
	}
	if !ok || !m.CanSee(rootIdx) {
		return ErrThreadMessageNotFound
	}
	return nil
}

func (c *Chat) requireActiveMember(user uuid.UUID) (*Member, error) {
	m, ok := c.members[user]
	if !ok {
		return nil, ErrUserNotInChat
	}
	if m.Suspended {
		return nil, ErrUserSuspended
	}
	return m, nil
}

func (c *Chat) ownerCount() int {
	n := 0
	for _, m := range c.members {
		if m.Role == RoleOwner {
			n++
		}
	}
	return n
}

func (c *Chat) saveMember(m *Member) error {
	b, err := m.marshal()
	if err != nil {
		return err
	}
	return c.store.DB().Set(memberKey(c.id, m.UserID), b)
}

func (c *Chat) deleteMember(user uuid.UUID, rec RemovedMember) error {
	b := c.store.DB().NewBatch()
	defer b.Close()
	if err := b.Delete(memberKey(c.id, user), nil); err != nil {
		return err
	}
	recBytes, err := marshalRemoved(rec)
	if err != nil {
		return err
	}
	if err := b.Set(removedKey(c.id, user), recBytes, nil); err != nil {
		return err
	}
	return c.store.DB().CommitBatch(context.Background(), b)
}

func (c *Chat) loadMembers() error {
	if err := c.scanPrefix(memberPrefix(c.id), func(val []byte) error {
		m, err := unmarshalMember(val)
		if err != nil {
			return fmt.Errorf("chat %s: member record: %w", c.id, err)
		}
		c.members[m.UserID] = m
		return nil
	}); err != nil {
		return err
	}
	return c.scanPrefix(removedPrefix(c.id), func(val []byte) error {
		rec, err := unmarshalRemoved(val)
		if err != nil {
			return fmt.Errorf("chat %s: removal record: %w", c.id, err)
		}
		c.removed[rec.UserID] = rec
		return nil
	})
}

func (c *Chat) scanPrefix(prefix []byte, fn func(val []byte) error) error {
	iter, err := c.store.DB().NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := fn(append([]byte(nil), iter.Value()...)); err != nil {
			return err
		}
	}
	return nil
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil // prefix is all 0xff; no upper bound
}
