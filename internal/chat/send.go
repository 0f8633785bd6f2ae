package chat

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/open-chat-labs/open-chat-sub002/internal/chatlog"
)

// SendArgs carries everything a send needs. MessageID is client-supplied and
// deduplicated per scope.
type SendArgs struct {
	Sender        uuid.UUID
	ThreadRoot    *chatlog.MessageIndex
	MessageID     uuid.UUID
	Content       chatlog.MessageContent
	RepliesTo     *chatlog.ReplyContext
	Mentioned     []uuid.UUID
	Forwarded     bool
	CorrelationID uint64
	Now           int64 // unix ms
	Expires       int64 // unix ms, 0 = never
}

// SendResult is returned on success. Recipients is plain data for the
// notification collaborator; dispatch happens elsewhere and is at-least-once.
type SendResult struct {
	EventIndex   chatlog.EventIndex
	MessageIndex chatlog.MessageIndex
	Timestamp    int64
	// Duplicate is set when MessageID was already appended to this scope;
	// the identifiers above are those of the existing message and no new
	// event was written.
	Duplicate  bool
	Recipients []uuid.UUID
}

// SendMessage validates and appends a message. Validation runs to completion
// before the append; nothing observes a partially applied send. A duplicate
// MessageID returns the original identifiers with no new event.
func (c *Chat) SendMessage(ctx context.Context, args SendArgs) (*SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sender, err := c.requireActiveMember(args.Sender)
	if err != nil {
		return nil, err
	}
	if err := c.validateContent(args.Content, args.Forwarded); err != nil {
		return nil, err
	}
	if crypto, ok := args.Content.(*chatlog.CryptoContent); ok {
		// Funds move before the message mutation; a send never waits on a
		// transfer.
		if crypto.Transfer.Status != chatlog.TransferCompleted {
			return nil, fmt.Errorf("%w: crypto transfer not completed", ErrInvalidRequest)
		}
	}

	inThread := args.ThreadRoot != nil
	if inThread {
		if !IsPermitted(sender.Role, c.opts.Permissions.ReplyInThread) {
			return nil, ErrNotAuthorized
		}
	}
	if _, isPoll := args.Content.(*chatlog.PollContent); isPoll {
		if !IsPermitted(sender.Role, c.opts.Permissions.CreatePolls) {
			return nil, ErrNotAuthorized
		}
	}
	if !c.opts.Permissions.CanSend(sender.Role, args.Content.ContentKind(), inThread) {
		return nil, ErrNotAuthorized
	}

	var rootEvent chatlog.Event
	var rootMsg *chatlog.Message
	if inThread {
		rootIdx, ok, err := c.main.EventIndexOfMessage(*args.ThreadRoot)
		if err != nil {
			return nil, err
		}
		if !ok || !sender.CanSee(rootIdx) {
			return nil, ErrThreadMessageNotFound
		}
		rootEvent, ok, err = c.main.Get(rootIdx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrThreadMessageNotFound
		}
		rootMsg, ok = rootEvent.Payload.(*chatlog.Message)
		if !ok {
			return nil, ErrThreadMessageNotFound
		}
	}

	log, err := c.scopeLog(args.ThreadRoot)
	if err != nil {
		return nil, err
	}

	if evIdx, msgIdx, ok, err := log.LookupMessageID(args.MessageID); err != nil {
		return nil, err
	} else if ok {
		ev, _, err := log.Get(evIdx)
		if err != nil {
			return nil, err
		}
		return &SendResult{EventIndex: evIdx, MessageIndex: msgIdx, Timestamp: ev.Timestamp, Duplicate: true}, nil
	}

	// Best-effort reply-target resolution; a dangling reference never fails
	// the send.
	var replyTarget *uuid.UUID
	if args.RepliesTo != nil {
		if target, err := c.resolveReplySender(args.RepliesTo); err == nil && target != nil {
			replyTarget = target
		}
	}

	evIdx, msg, err := log.AppendMessage(ctx, chatlog.MessageArgs{
		MessageID:     args.MessageID,
		Sender:        args.Sender,
		Content:       args.Content,
		RepliesTo:     args.RepliesTo,
		Forwarded:     args.Forwarded,
		CorrelationID: args.CorrelationID,
		Now:           args.Now,
		Expires:       args.Expires,
	})
	if err != nil {
		return nil, err
	}

	mentions := map[uuid.UUID]struct{}{}
	for _, u := range args.Mentioned {
		mentions[u] = struct{}{}
	}
	if replyTarget != nil {
		mentions[*replyTarget] = struct{}{}
	}

	if inThread {
		firstReply := rootMsg.Thread == nil
		if firstReply {
			mentions[rootMsg.Sender] = struct{}{}
			rootMsg.Thread = &chatlog.ThreadSummary{}
		}
		t := rootMsg.Thread
		t.ReplyCount++
		t.LatestEventIndex = evIdx
		t.LatestEventTimestamp = args.Now
		if !t.HasParticipant(args.Sender) {
			t.Participants = append(t.Participants, args.Sender)
		}
		rootEvent.Payload = rootMsg
		if err := c.main.Update(rootEvent); err != nil {
			return nil, err
		}
		sender.addThread(*args.ThreadRoot)
		if err := c.saveMember(sender); err != nil {
			return nil, err
		}
	}
	delete(mentions, args.Sender)

	for u := range mentions {
		m, ok := c.members[u]
		if !ok {
			continue
		}
		m.addMention(args.ThreadRoot, msg.MessageIndex)
		if inThread {
			m.addThread(*args.ThreadRoot)
		}
		if err := c.saveMember(m); err != nil {
			return nil, err
		}
	}

	return &SendResult{
		EventIndex:   evIdx,
		MessageIndex: msg.MessageIndex,
		Timestamp:    args.Now,
		Recipients:   c.recipients(args.Sender, rootMsg, mentions),
	}, nil
}

// recipients is (all members, or thread participants when threaded) plus
// mentioned users, minus sender and muted members.
func (c *Chat) recipients(sender uuid.UUID, rootMsg *chatlog.Message, mentions map[uuid.UUID]struct{}) []uuid.UUID {
	set := map[uuid.UUID]struct{}{}
	if rootMsg != nil {
		for _, u := range rootMsg.Thread.Participants {
			set[u] = struct{}{}
		}
		set[rootMsg.Sender] = struct{}{}
	} else {
		for u := range c.members {
			set[u] = struct{}{}
		}
	}
	for u := range mentions {
		set[u] = struct{}{}
	}
	delete(set, sender)
	out := make([]uuid.UUID, 0, len(set))
	for u := range set {
		if m, ok := c.members[u]; ok && m.Muted {
			continue
		}
		out = append(out, u)
	}
	return out
}

func (c *Chat) resolveReplySender(rc *chatlog.ReplyContext) (*uuid.UUID, error) {
	log, err := c.scopeLog(rc.ThreadRoot)
	if err != nil {
		return nil, err
	}
	ev, ok, err := log.Get(rc.EventIndex)
	if err != nil || !ok {
		return nil, err
	}
	if msg, ok := ev.Payload.(*chatlog.Message); ok {
		return &msg.Sender, nil
	}
	return nil, nil
}

func (c *Chat) validateContent(content chatlog.MessageContent, forwarded bool) error {
	if content == nil {
		return ErrMessageEmpty
	}
	switch v := content.(type) {
	case *chatlog.TextContent:
		if v.Text == "" {
			return ErrMessageEmpty
		}
		if utf8.RuneCountInString(v.Text) > c.opts.Limits.TextMaxChars {
			return ErrTextTooLong
		}
	case *chatlog.PollContent:
		if forwarded {
			return ErrCannotForward
		}
		if v.Question == "" || len(v.Options) < 2 || len(v.Options) > c.opts.Limits.PollMaxOptions {
			return ErrInvalidPoll
		}
	case *chatlog.PrizeContent:
		if forwarded {
			return ErrCannotForward
		}
		if v.PrizesRemaining == 0 {
			return fmt.Errorf("%w: prize with no prizes", ErrInvalidRequest)
		}
	case *chatlog.ImageContent:
		if v.BlobID == uuid.Nil {
			return ErrMessageEmpty
		}
	case *chatlog.FileContent:
		if v.BlobID == uuid.Nil {
			return ErrMessageEmpty
		}
	case *chatlog.DeletedContent:
		return fmt.Errorf("%w: cannot send deleted content", ErrInvalidRequest)
	}
	return nil
}

// EditMessage records an edit as a compensating event and rewrites the
// original message body in place. Only the sender may edit.
func (c *Chat) EditMessage(ctx context.Context, caller uuid.UUID, root *chatlog.MessageIndex, mi chatlog.MessageIndex, content chatlog.MessageContent, now int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.requireActiveMember(caller); err != nil {
		return err
	}
	if err := c.validateContent(content, false); err != nil {
		return err
	}
	log, ev, msg, err := c.locateMessage(caller, root, mi)
	if err != nil {
		return err
	}
	if msg.Sender != caller {
		return ErrNotAuthorized
	}
	if _, ok := msg.Content.(*chatlog.DeletedContent); ok {
		return ErrMessageNotFound
	}
	msg.Content = content
	msg.LastEdited = now
	ev.Payload = msg
	if err := log.Update(ev); err != nil {
		return err
	}
	_, err = log.AppendEvent(ctx, &chatlog.MessageEdited{MessageIndex: mi, EditedBy: caller}, 0, now, 0)
	return err
}

// DeleteMessage tombstones a message. The sender may always delete their own;
// anyone else needs the delete-messages capability. The event index survives
// with the body replaced.
func (c *Chat) DeleteMessage(ctx context.Context, caller uuid.UUID, root *chatlog.MessageIndex, mi chatlog.MessageIndex, now int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	actor, err := c.requireActiveMember(caller)
	if err != nil {
		return err
	}
	log, ev, msg, err := c.locateMessage(caller, root, mi)
	if err != nil {
		return err
	}
	if msg.Sender != caller && !IsPermitted(actor.Role, c.opts.Permissions.DeleteMessages) {
		return ErrNotAuthorized
	}
	if _, ok := msg.Content.(*chatlog.DeletedContent); ok {
		return nil
	}
	msg.Content = &chatlog.DeletedContent{DeletedBy: caller, Timestamp: now}
	ev.Payload = msg
	if err := log.Update(ev); err != nil {
		return err
	}
	_, err = log.AppendEvent(ctx, &chatlog.MessageDeleted{MessageIndex: mi, DeletedBy: caller}, 0, now, 0)
	return err
}

// locateMessage finds a message by index within the caller's visible range.
// Callers hold c.mu.
func (c *Chat) locateMessage(caller uuid.UUID, root *chatlog.MessageIndex, mi chatlog.MessageIndex) (*chatlog.Log, chatlog.Event, *chatlog.Message, error) {
	m, ok := c.members[caller]
	if !ok {
		return nil, chatlog.Event{}, nil, ErrUserNotInChat
	}
	if root != nil {
		if err := c.threadRootVisible(m, *root); err != nil {
			return nil, chatlog.Event{}, nil, err
		}
	}
	log, err := c.scopeLog(root)
	if err != nil {
		return nil, chatlog.Event{}, nil, err
	}
	evIdx, ok, err := log.EventIndexOfMessage(mi)
	if err != nil {
		return nil, chatlog.Event{}, nil, err
	}
	if !ok {
		return nil, chatlog.Event{}, nil, ErrMessageNotFound
	}
	if root == nil && !m.CanSee(evIdx) {
		return nil, chatlog.Event{}, nil, ErrMessageNotFound
	}
	ev, ok, err := log.Get(evIdx)
	if err != nil {
		return nil, chatlog.Event{}, nil, err
	}
	if !ok {
		return nil, chatlog.Event{}, nil, ErrMessageNotFound
	}
	msg, ok := ev.Payload.(*chatlog.Message)
	if !ok {
		return nil, chatlog.Event{}, nil, ErrMessageNotFound
	}
	return log, ev, msg, nil
}
