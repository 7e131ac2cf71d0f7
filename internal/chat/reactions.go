package chat

import (
	"context"
	"fmt"

	"github.com/coachbase/fitchat/internal/model"
)

// Reactions applies the secondary mutations: reactions, edits, and
// soft deletes. They ride the same subscription as messages (the store
// is expected to be fanout-wrapped), but never touch a session's list
// directly.
type Reactions struct {
	store Store
}

func NewReactions(store Store) *Reactions {
	return &Reactions{store: store}
}

// Add inserts a reaction keyed (message, reactor, kind). A duplicate
// add is a no-op returning the existing row, so retries are safe.
func (r *Reactions) Add(ctx context.Context, messageID, reactorID, kind string) (model.Reaction, error) {
	if messageID == "" || reactorID == "" || kind == "" {
		return model.Reaction{}, fmt.Errorf("chat: message, reactor and kind are required")
	}
	reaction, err := r.store.AddReaction(ctx, model.Reaction{
		MessageID: messageID,
		ReactorID: reactorID,
		Kind:      kind,
	})
	if err != nil {
		return model.Reaction{}, fmt.Errorf("add reaction to %s: %w", messageID, err)
	}
	return reaction, nil
}

// Remove deletes a reaction by its identity.
func (r *Reactions) Remove(ctx context.Context, reactionID string) error {
	if err := r.store.RemoveReaction(ctx, reactionID); err != nil {
		return fmt.Errorf("remove reaction %s: %w", reactionID, err)
	}
	return nil
}

// Edit mutates content, restricted to the original sender, and stamps
// the edited timestamp.
func (r *Reactions) Edit(ctx context.Context, messageID, senderID, content string) (model.Message, error) {
	if content == "" {
		return model.Message{}, ErrEmptyMessage
	}
	msg, err := r.store.EditMessage(ctx, messageID, senderID, content)
	if err != nil {
		return model.Message{}, fmt.Errorf("edit message %s: %w", messageID, err)
	}
	return msg, nil
}

// Delete soft-deletes a message. The row stays in storage but is
// excluded from history, and the delete event removes (not merges) the
// entry in live sessions.
func (r *Reactions) Delete(ctx context.Context, messageID, senderID string) error {
	if _, err := r.store.SoftDeleteMessage(ctx, messageID, senderID); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}
