package realtime

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/coachbase/fitchat/internal/model"
)

const channelBuffer = 64

var ErrHubClosed = errors.New("realtime: hub closed")

// Hub is the in-process push-channel broker: one set of open channels
// per scope, fan-out on publish with slow-consumer drop. It is an
// injected service object owned by the composition root, not a package
// singleton, so tests can run isolated instances.
type Hub struct {
	mu       sync.Mutex
	scopes   map[string]map[*hubChannel]bool
	presence map[string]model.PresenceRecord
	closed   bool
}

func NewHub() *Hub {
	return &Hub{
		scopes:   make(map[string]map[*hubChannel]bool),
		presence: make(map[string]model.PresenceRecord),
	}
}

type hubChannel struct {
	hub    *Hub
	scope  string
	events chan Event
	once   sync.Once
}

func (c *hubChannel) Events() <-chan Event { return c.events }

func (c *hubChannel) Close() error {
	c.once.Do(func() {
		c.hub.mu.Lock()
		if set, ok := c.hub.scopes[c.scope]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(c.hub.scopes, c.scope)
			}
		}
		c.hub.mu.Unlock()
		close(c.events)
	})
	return nil
}

// OpenChannel registers a new channel for the scope. Multiple channels
// per scope are allowed at the hub level; de-duplication per consumer
// is the Manager's job.
func (h *Hub) OpenChannel(scopeID string) (Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	ch := &hubChannel{hub: h, scope: scopeID, events: make(chan Event, channelBuffer)}
	if h.scopes[scopeID] == nil {
		h.scopes[scopeID] = make(map[*hubChannel]bool)
	}
	h.scopes[scopeID][ch] = true
	return ch, nil
}

// Publish fans an event out to every open channel on the scope.
// Presence events also land in the ephemeral presence registry.
func (h *Hub) Publish(scopeID string, ev Event) {
	if ev.ScopeID == "" {
		ev.ScopeID = scopeID
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if ev.Type == EventPresence && ev.Presence != nil {
		rec := *ev.Presence
		if rec.LastSeen.IsZero() {
			rec.LastSeen = time.Now().UTC()
		}
		h.presence[rec.ParticipantID] = rec
	}
	for ch := range h.scopes[scopeID] {
		select {
		case ch.events <- ev:
		default:
			// slow/broken consumer: drop the event rather than block
			// the broker; at-least-once, not exactly-once
			log.Printf("[hub] dropped event %q for slow channel on scope %s", ev.Type, scopeID)
		}
	}
}

// PresenceOf returns the last published presence for a participant.
// This is ephemeral hub state, not durable truth.
func (h *Hub) PresenceOf(participantID string) (model.PresenceRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.presence[participantID]
	return rec, ok
}

// Close tears down every open channel. Publishes after Close are
// silently discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*hubChannel
	for _, set := range h.scopes {
		for ch := range set {
			all = append(all, ch)
		}
	}
	h.scopes = make(map[string]map[*hubChannel]bool)
	h.mu.Unlock()

	for _, ch := range all {
		ch.once.Do(func() { close(ch.events) })
	}
}
