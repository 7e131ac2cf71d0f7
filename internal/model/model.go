package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity prefixes. Conversation ids are structured so that a bare
// participant id can never be mistaken for one (see chat.Resolver).
const (
	ConversationIDPrefix = "cnv_"
	MessageIDPrefix      = "msg_"
	ReactionIDPrefix     = "rct_"
	TempIDPrefix         = "tmp_"
)

// MetaTempID is the one reserved metadata key that crosses the wire:
// the client-assigned identity used to correlate an optimistic message
// with its durable copy. The store persists it verbatim; the engine
// strips it on merge.
const MetaTempID = "tempId"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindVideo  MessageKind = "video"
	KindAudio  MessageKind = "audio"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

type PresenceStatus string

const (
	StatusOnline    PresenceStatus = "online"
	StatusOffline   PresenceStatus = "offline"
	StatusAway      PresenceStatus = "away"
	StatusBusy      PresenceStatus = "busy"
	StatusInvisible PresenceStatus = "invisible"
)

// Conversation is the canonical record for an unordered participant
// pair. ParticipantA/ParticipantB are stored normalized (lexicographic)
// so the pair has exactly one representation.
type Conversation struct {
	ID           string    `json:"id"`
	ParticipantA string    `json:"participant_a"`
	ParticipantB string    `json:"participant_b"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Peer returns the other participant of the conversation.
func (c Conversation) Peer(self string) string {
	if c.ParticipantA == self {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Has reports whether the given participant belongs to the conversation.
func (c Conversation) Has(participant string) bool {
	return c.ParticipantA == participant || c.ParticipantB == participant
}

type Attachment struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Size      int64  `json:"size,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Message is the durable message entity. Client-local presentation
// flags (sending/uploading/error) deliberately live outside of it, in
// chat.SendState — only the temp id ever rides in Metadata.
type Message struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	SenderID       string                 `json:"sender_id"`
	RecipientID    string                 `json:"recipient_id,omitempty"`
	Content        string                 `json:"content"`
	Kind           MessageKind            `json:"kind"`
	Attachments    []Attachment           `json:"attachments,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ParentID       string                 `json:"parent_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	EditedAt       *time.Time             `json:"edited_at,omitempty"`
	Deleted        bool                   `json:"deleted,omitempty"`
	DeletedAt      *time.Time             `json:"deleted_at,omitempty"`
}

// TempID returns the temp id carried in the metadata bag, or "".
func (m Message) TempID() string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[MetaTempID].(string); ok {
		return v
	}
	return ""
}

type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	ReactorID string    `json:"reactor_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// TypingIndicator is ephemeral channel state, never persisted.
type TypingIndicator struct {
	ParticipantID  string    `json:"participant_id"`
	ConversationID string    `json:"conversation_id"`
	Typing         bool      `json:"typing"`
	StartedAt      time.Time `json:"started_at,omitempty"`
}

// PresenceRecord is ephemeral hub state, never durable truth.
type PresenceRecord struct {
	ParticipantID string         `json:"participant_id"`
	Status        PresenceStatus `json:"status"`
	LastSeen      time.Time      `json:"last_seen"`
	Activity      string         `json:"activity,omitempty"`
}

func NewConversationID() string { return ConversationIDPrefix + uuid.New().String() }
func NewMessageID() string      { return MessageIDPrefix + uuid.New().String() }
func NewReactionID() string     { return ReactionIDPrefix + uuid.New().String() }
func NewTempID() string         { return TempIDPrefix + uuid.New().String() }

// IsConversationID reports whether s matches the structured
// conversation-id format. Anything else is treated as a participant id
// by the resolver's fallback policy.
func IsConversationID(s string) bool {
	if !strings.HasPrefix(s, ConversationIDPrefix) {
		return false
	}
	_, err := uuid.Parse(strings.TrimPrefix(s, ConversationIDPrefix))
	return err == nil
}

// NormalizePair orders an unordered participant pair into its single
// stored representation.
func NormalizePair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
