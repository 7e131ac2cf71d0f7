package chat

import (
	"context"
	"errors"

	"github.com/coachbase/fitchat/internal/model"
	"github.com/coachbase/fitchat/internal/realtime"
)

var (
	// ErrNotFound is returned by stores for a missing row.
	ErrNotFound = errors.New("chat: not found")
	// ErrForbidden is returned when a mutation is attempted by someone
	// other than the message's sender.
	ErrForbidden = errors.New("chat: not the sender")
)

// Store is the durable-store contract the sync core consumes. Both
// storage backends implement it; tests use an in-memory fake.
type Store interface {
	// InsertMessage persists a message and returns the durable copy
	// with the server-assigned id. Any tempId in the metadata bag is
	// persisted verbatim.
	InsertMessage(ctx context.Context, msg model.Message) (model.Message, error)
	// FetchMessages returns the conversation history in ascending
	// creation-time order, excluding soft-deleted rows.
	FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	GetMessage(ctx context.Context, id string) (model.Message, error)

	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	// GetOrCreateConversation is idempotent on the unordered pair and
	// tolerates concurrent creators: all callers converge on one row.
	GetOrCreateConversation(ctx context.Context, a, b string) (model.Conversation, error)
	ListConversations(ctx context.Context, participantID string) ([]model.Conversation, error)
	MarkRead(ctx context.Context, conversationID, participantID string) error

	// AddReaction inserts a reaction; a duplicate (message, reactor,
	// kind) is a no-op returning the existing row.
	AddReaction(ctx context.Context, r model.Reaction) (model.Reaction, error)
	RemoveReaction(ctx context.Context, reactionID string) error
	EditMessage(ctx context.Context, messageID, senderID, content string) (model.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID, senderID string) (model.Message, error)
}

// Publisher is the outbound half of the push channel: the hub
// implements it in-process.
type Publisher interface {
	Publish(scopeID string, ev realtime.Event)
}
