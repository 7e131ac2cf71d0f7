package realtime

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// Handler is the set of callbacks a consumer registers for one scope.
// Any nil callback simply ignores that event kind.
type Handler struct {
	OnMessage    func(Event)
	OnTyping     func(Event)
	OnPresence   func(Event)
	OnMembership func(Event)
}

func (h Handler) dispatch(ev Event) {
	switch ev.Type {
	case EventMessage, EventMessageUpdate, EventMessageDelete, EventReaction:
		if h.OnMessage != nil {
			h.OnMessage(ev)
		}
	case EventTyping:
		if h.OnTyping != nil {
			h.OnTyping(ev)
		}
	case EventPresence:
		if h.OnPresence != nil {
			h.OnPresence(ev)
		}
	case EventMembership:
		if h.OnMembership != nil {
			h.OnMembership(ev)
		}
	}
}

// Subscription is one live channel plus a swappable handler cell. The
// pump reads the cell on every event, so the effective callback can
// change identity without tearing the channel down.
type Subscription struct {
	scope string
	ch    Channel
	cell  atomic.Value // Handler
	done  chan struct{}
}

// Swap replaces the effective handler without resubscribing.
func (s *Subscription) Swap(h Handler) {
	s.cell.Store(h)
}

func (s *Subscription) Scope() string { return s.scope }

func (s *Subscription) pump() {
	defer close(s.done)
	for ev := range s.ch.Events() {
		h := s.cell.Load().(Handler)
		h.dispatch(ev)
	}
}

// Manager owns the lifecycle of one subscription per scope. A second
// Subscribe for the same scope tears the prior channel down first, so
// stale listeners never see duplicate delivery.
type Manager struct {
	mu   sync.Mutex
	svc  ChannelService
	subs map[string]*Subscription
}

func NewManager(svc ChannelService) *Manager {
	return &Manager{svc: svc, subs: make(map[string]*Subscription)}
}

func (m *Manager) Subscribe(scopeID string, h Handler) (*Subscription, error) {
	m.mu.Lock()
	prev := m.subs[scopeID]
	delete(m.subs, scopeID)
	m.mu.Unlock()
	if prev != nil {
		prev.ch.Close()
		<-prev.done
		log.Printf("[realtime] replaced live subscription for scope %s", scopeID)
	}

	ch, err := m.svc.OpenChannel(scopeID)
	if err != nil {
		return nil, fmt.Errorf("open channel for %s: %w", scopeID, err)
	}
	sub := &Subscription{scope: scopeID, ch: ch, done: make(chan struct{})}
	sub.cell.Store(h)

	m.mu.Lock()
	m.subs[scopeID] = sub
	m.mu.Unlock()

	go sub.pump()
	return sub, nil
}

// Unsubscribe releases the scope's channel. Forgetting this leaks a
// live subscription that keeps invoking a stale listener.
func (m *Manager) Unsubscribe(scopeID string) {
	m.mu.Lock()
	sub := m.subs[scopeID]
	delete(m.subs, scopeID)
	m.mu.Unlock()
	if sub != nil {
		sub.ch.Close()
		<-sub.done
	}
}

// Shutdown releases every live subscription.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()
	for _, sub := range subs {
		sub.ch.Close()
		<-sub.done
	}
}
