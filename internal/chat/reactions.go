package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/open-chat-labs/open-chat-sub002/internal/chatlog"
)

// ReactionResult reports what a reaction mutation did.
type ReactionResult struct {
	// Changed is false when the mutation was a no-op (reaction already
	// present on add, absent on remove). No event is appended then.
	Changed    bool
	EventIndex chatlog.EventIndex
	Reactions  []chatlog.Reaction
}

// AddReaction adds caller's emoji reaction to a visible message. Adding a
// reaction that is already present is a no-op.
func (c *Chat) AddReaction(ctx context.Context, caller uuid.UUID, root *chatlog.MessageIndex, mi chatlog.MessageIndex, emoji string, now int64) (*ReactionResult, error) {
	return c.reactionOp(ctx, caller, root, mi, emoji, now, true)
}

// RemoveReaction removes caller's emoji reaction. Removing an absent reaction
// is a no-op.
func (c *Chat) RemoveReaction(ctx context.Context, caller uuid.UUID, root *chatlog.MessageIndex, mi chatlog.MessageIndex, emoji string, now int64) (*ReactionResult, error) {
	return c.reactionOp(ctx, caller, root, mi, emoji, now, false)
}

func (c *Chat) reactionOp(ctx context.Context, caller uuid.UUID, root *chatlog.MessageIndex, mi chatlog.MessageIndex, emoji string, now int64, add bool) (*ReactionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	actor, err := c.requireActiveMember(caller)
	if err != nil {
		return nil, err
	}
	if !IsPermitted(actor.Role, c.opts.Permissions.ReactToMessages) {
		return nil, ErrNotAuthorized
	}
	if emoji == "" {
		return nil, ErrInvalidRequest
	}

	log, ev, msg, err := c.locateMessage(caller, root, mi)
	if err != nil {
		return nil, err
	}

	var changed bool
	if add {
		changed = addReaction(msg, emoji, caller)
	} else {
		changed = removeReaction(msg, emoji, caller)
	}
	if !changed {
		return &ReactionResult{Changed: false, Reactions: msg.Reactions}, nil
	}

	ev.Payload = msg
	if err := log.Update(ev); err != nil {
		return nil, err
	}
	var payload chatlog.Payload
	if add {
		payload = &chatlog.ReactionAdded{MessageIndex: mi, Emoji: emoji, AddedBy: caller}
	} else {
		payload = &chatlog.ReactionRemoved{MessageIndex: mi, Emoji: emoji, RemovedBy: caller}
	}
	evIdx, err := log.AppendEvent(ctx, payload, 0, now, 0)
	if err != nil {
		return nil, err
	}
	return &ReactionResult{Changed: true, EventIndex: evIdx, Reactions: msg.Reactions}, nil
}

func addReaction(msg *chatlog.Message, emoji string, user uuid.UUID) bool {
	for i := range msg.Reactions {
		r := &msg.Reactions[i]
		if r.Emoji != emoji {
			continue
		}
		for _, u := range r.Users {
			if u == user {
				return false
			}
		}
		r.Users = append(r.Users, user)
		return true
	}
	msg.Reactions = append(msg.Reactions, chatlog.Reaction{Emoji: emoji, Users: []uuid.UUID{user}})
	return true
}

func removeReaction(msg *chatlog.Message, emoji string, user uuid.UUID) bool {
	for i := range msg.Reactions {
		r := &msg.Reactions[i]
		if r.Emoji != emoji {
			continue
		}
		for j, u := range r.Users {
			if u == user {
				r.Users = append(r.Users[:j], r.Users[j+1:]...)
				if len(r.Users) == 0 {
					msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
				}
				return true
			}
		}
		return false
	}
	return false
}
