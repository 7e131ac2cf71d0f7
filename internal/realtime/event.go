package realtime

import "github.com/coachbase/fitchat/internal/model"

// Event kinds carried over a channel. Message rows arrive as
// insert/update/delete events; typing and presence are ephemeral and
// never correspond to a stored row.
const (
	EventMessage       = "message"
	EventMessageUpdate = "message_update"
	EventMessageDelete = "message_delete"
	EventReaction      = "reaction"
	EventTyping        = "typing"
	EventPresence      = "presence"
	EventMembership    = "membership"
)

// PresenceScope is the always-on scope for presence events, distinct
// from per-conversation scopes.
const PresenceScope = "presence"

// Event is the payload delivered on a channel. Delivery is
// at-least-once with best-effort ordering; consumers must tolerate
// redelivery and reordering.
type Event struct {
	Type     string                 `json:"type"`
	ScopeID  string                 `json:"scope_id,omitempty"`
	SenderID string                 `json:"sender_id,omitempty"`
	Message  *model.Message         `json:"message,omitempty"`
	Reaction *model.Reaction        `json:"reaction,omitempty"`
	Typing   *model.TypingIndicator `json:"typing,omitempty"`
	Presence *model.PresenceRecord  `json:"presence,omitempty"`
	// Membership carries "participant_added" / "participant_removed".
	Membership string `json:"membership,omitempty"`
}

// Channel is one open push-channel subscription for a single scope.
type Channel interface {
	Events() <-chan Event
	Close() error
}

// ChannelService opens channels; the Hub implements it in-process.
type ChannelService interface {
	OpenChannel(scopeID string) (Channel, error)
}
