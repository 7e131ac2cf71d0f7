package chat

import (
	"sync"
	"time"

	"github.com/coachbase/fitchat/internal/model"
	"github.com/coachbase/fitchat/internal/realtime"
)

// TypingQuietPeriod is the trailing window after the last keystroke
// before typing auto-clears.
const TypingQuietPeriod = 2000 * time.Millisecond

// Coordinator tracks and broadcasts one participant's online/typing
// state. Presence goes to the always-on presence scope; typing goes to
// the conversation's own scope. Both are ephemeral: consumed from the
// channel, never stored.
type Coordinator struct {
	pub   Publisher
	self  string
	quiet time.Duration

	mu     sync.Mutex
	typing map[string]*typingState // conversation id -> state
}

type typingState struct {
	active bool
	timer  *time.Timer
}

func NewCoordinator(pub Publisher, self string) *Coordinator {
	return &Coordinator{
		pub:    pub,
		self:   self,
		quiet:  TypingQuietPeriod,
		typing: make(map[string]*typingState),
	}
}

// SetQuietPeriod overrides the trailing typing window (tests).
func (c *Coordinator) SetQuietPeriod(d time.Duration) {
	c.mu.Lock()
	c.quiet = d
	c.mu.Unlock()
}

// Enter publishes online with an activity tag on entering a
// conversational context.
func (c *Coordinator) Enter(conversationID string) {
	c.publishPresence(model.StatusOnline, "chatting:"+conversationID)
}

// Leave republishes offline and clears any typing state for the
// conversation. It is safe to call on every exit path, repeatedly.
func (c *Coordinator) Leave(conversationID string) {
	c.StopTyping(conversationID)
	c.publishPresence(model.StatusOffline, "")
}

// Typing records a keystroke. The publish is edge-triggered: only the
// false->true transition goes out, and each keystroke just re-arms the
// trailing quiet timer.
func (c *Coordinator) Typing(conversationID string) {
	c.mu.Lock()
	st := c.typing[conversationID]
	if st == nil {
		st = &typingState{}
		c.typing[conversationID] = st
	}
	wasActive := st.active
	st.active = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(c.quiet, func() {
		c.StopTyping(conversationID)
	})
	c.mu.Unlock()

	if !wasActive {
		c.publishTyping(conversationID, true)
	}
}

// StopTyping clears typing immediately (message send, teardown). Also
// edge-triggered: a no-op when not typing.
func (c *Coordinator) StopTyping(conversationID string) {
	c.mu.Lock()
	st := c.typing[conversationID]
	if st == nil || !st.active {
		c.mu.Unlock()
		return
	}
	st.active = false
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	c.mu.Unlock()

	c.publishTyping(conversationID, false)
}

func (c *Coordinator) publishTyping(conversationID string, typing bool) {
	ind := model.TypingIndicator{
		ParticipantID:  c.self,
		ConversationID: conversationID,
		Typing:         typing,
	}
	if typing {
		ind.StartedAt = time.Now().UTC()
	}
	c.pub.Publish(conversationID, realtime.Event{
		Type:     realtime.EventTyping,
		SenderID: c.self,
		Typing:   &ind,
	})
}

func (c *Coordinator) publishPresence(status model.PresenceStatus, activity string) {
	c.pub.Publish(realtime.PresenceScope, realtime.Event{
		Type:     realtime.EventPresence,
		SenderID: c.self,
		Presence: &model.PresenceRecord{
			ParticipantID: c.self,
			Status:        status,
			LastSeen:      time.Now().UTC(),
			Activity:      activity,
		},
	})
}
