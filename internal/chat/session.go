package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coachbase/fitchat/internal/model"
	"github.com/coachbase/fitchat/internal/realtime"
)

const DefaultSendTimeout = 30 * time.Second

var (
	ErrMissingParticipant = errors.New("chat: sender and recipient are required")
	ErrEmptyMessage       = errors.New("chat: text message needs content")
	ErrSessionClosed      = errors.New("chat: session closed")
	ErrNoSuchSend         = errors.New("chat: no retryable send with that temp id")
)

// SendInput is the caller-facing send contract.
type SendInput struct {
	RecipientID string
	Content     string
	Kind        model.MessageKind
	Attachments []model.Attachment
	ParentID    string
}

// SessionOptions tune one conversation session. Zero values get
// sensible defaults.
type SessionOptions struct {
	// SendTimeout bounds how long an unacknowledged send may stay
	// pending before it transitions to errored.
	SendTimeout time.Duration
	// Typing, when set, is told to clear the typing indicator on every
	// send and to go offline when the session closes.
	Typing *Coordinator
	// OnChange fires after any list mutation (UI repaint hook).
	OnChange func()
	// OnSent fires when the durable write acknowledges (audible cue).
	OnSent func()
	// OnTyping receives the peer's typing transitions.
	OnTyping func(model.TypingIndicator)
}

// Session is the dispatch and reconciliation engine for a single
// conversation: it creates optimistic entries synchronously, issues
// durable writes asynchronously, and merges the channel's delivery of
// the confirmed copy exactly once, whatever order things arrive in.
//
// The in-memory list is newest-first; every mutation targets its own
// entry by identity or temp id, and only a history load replaces the
// list wholesale.
type Session struct {
	store Store
	subs  *realtime.Manager
	self  string
	conv  model.Conversation
	opts  SessionOptions

	mu      sync.Mutex
	entries []Entry
	acked   map[string]string // tempId -> durable id, for ack'd but unmerged sends
	timers  map[string]*time.Timer
	closed  bool
}

func NewSession(store Store, subs *realtime.Manager, self string, conv model.Conversation, opts SessionOptions) *Session {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &Session{
		store:  store,
		subs:   subs,
		self:   self,
		conv:   conv,
		opts:   opts,
		acked:  make(map[string]string),
		timers: make(map[string]*time.Timer),
	}
}

func (s *Session) Conversation() model.Conversation { return s.conv }

// Open subscribes the session to its conversation scope, loads
// history, and advances the caller's read marker. Sending without a
// healthy subscription still works; only live merging degrades.
func (s *Session) Open(ctx context.Context) error {
	_, err := s.subs.Subscribe(s.conv.ID, realtime.Handler{
		OnMessage: s.handleEvent,
		OnTyping:  s.handleTyping,
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.conv.ID, err)
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	if err := s.store.MarkRead(ctx, s.conv.ID, s.self); err != nil {
		log.Printf("[chat] mark read for %s failed: %v", s.conv.ID, err)
	}
	return nil
}

// Messages returns a snapshot of the list, newest first.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Send appends an optimistic entry immediately and issues the durable
// write in the background. Validation failures reject synchronously,
// before any optimistic state exists.
func (s *Session) Send(ctx context.Context, in SendInput) (Entry, error) {
	if s.self == "" || in.RecipientID == "" {
		return Entry{}, ErrMissingParticipant
	}
	if in.Kind == "" {
		in.Kind = model.KindText
	}
	if in.Content == "" && len(in.Attachments) == 0 {
		return Entry{}, ErrEmptyMessage
	}

	tempID := model.NewTempID()
	msg := model.Message{
		ID:             tempID,
		ConversationID: s.conv.ID,
		SenderID:       s.self,
		RecipientID:    in.RecipientID,
		Content:        in.Content,
		Kind:           in.Kind,
		Attachments:    in.Attachments,
		ParentID:       in.ParentID,
		Metadata:       map[string]interface{}{model.MetaTempID: tempID},
		CreatedAt:      time.Now().UTC(),
	}
	entry := Entry{
		Message: msg,
		State: &SendState{
			TempID:    tempID,
			Sending:   true,
			Uploading: len(in.Attachments) > 0,
		},
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, ErrSessionClosed
	}
	s.entries = append([]Entry{entry}, s.entries...)
	s.armTimeout(tempID)
	s.mu.Unlock()
	s.notify()

	if s.opts.Typing != nil {
		s.opts.Typing.StopTyping(s.conv.ID)
	}

	go s.write(context.WithoutCancel(ctx), msg)
	return entry, nil
}

// Retry re-enters optimistic-pending for an errored send, reusing the
// original temp id, content, and attachments.
func (s *Session) Retry(ctx context.Context, tempID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	i := s.indexByTempID(tempID)
	if i < 0 || !s.entries[i].State.Errored() {
		s.mu.Unlock()
		return ErrNoSuchSend
	}
	s.entries[i].State.Sending = true
	s.entries[i].State.Err = ""
	msg := s.entries[i].Message
	s.armTimeout(tempID)
	s.mu.Unlock()
	s.notify()

	go s.write(context.WithoutCancel(ctx), msg)
	return nil
}

// write issues the durable insert. Success mutates nothing: the
// channel delivery is the single reconciliation point, which removes
// the race between "write succeeded" and "event delivered".
func (s *Session) write(ctx context.Context, msg model.Message) {
	tempID := msg.TempID()
	// the store assigns the durable id
	msg.ID = ""
	durable, err := s.store.InsertMessage(ctx, msg)

	s.mu.Lock()
	if s.closed {
		// session torn down mid-flight: drop the result silently
		s.mu.Unlock()
		return
	}
	if err != nil {
		if i := s.indexByTempID(tempID); i >= 0 {
			s.entries[i].State.Sending = false
			s.entries[i].State.Uploading = false
			s.entries[i].State.Err = "send failed, tap to retry"
		}
		s.disarmTimeout(tempID)
		s.mu.Unlock()
		log.Printf("[chat] durable write for %s failed: %v", tempID, err)
		s.notify()
		return
	}
	if i := s.indexByTempID(tempID); i >= 0 && s.entries[i].State.Pending() {
		// remember the ack until the channel event merges the entry;
		// if the event already won, there is nothing to remember
		s.acked[tempID] = durable.ID
	}
	s.mu.Unlock()
	if s.opts.OnSent != nil {
		s.opts.OnSent()
	}
}

func (s *Session) handleTyping(ev realtime.Event) {
	if ev.Typing == nil || ev.Typing.ParticipantID == s.self {
		return
	}
	if s.opts.OnTyping != nil {
		s.opts.OnTyping(*ev.Typing)
	}
}

func (s *Session) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventMessage:
		if ev.Message != nil {
			s.reconcile(*ev.Message)
		}
	case realtime.EventMessageUpdate:
		if ev.Message != nil {
			s.applyUpdate(*ev.Message)
		}
	case realtime.EventMessageDelete:
		if ev.Message != nil {
			s.remove(ev.Message.ID)
		}
	}
}

// reconcile merges an inbound message event into the list. The
// algorithm is idempotent under redelivery: a second delivery for an
// already-merged temp id falls through to the identity check, and the
// identity check absorbs duplicates on the non-tempId paths.
func (s *Session) reconcile(msg model.Message) {
	// a delete that raced the subscription arrives as an insert of a
	// deleted row; it removes rather than merges
	if msg.Deleted {
		s.remove(msg.ID)
		return
	}

	s.mu.Lock()
	changed := false
	tempID := msg.TempID()
	if i := s.indexByTempID(tempID); tempID != "" && i >= 0 {
		// durable fields win; the temp id has served its purpose
		merged := msg
		merged.Metadata = stripTempID(msg.Metadata)
		s.entries[i] = Entry{Message: merged}
		s.disarmTimeout(tempID)
		delete(s.acked, tempID)
		changed = true
	} else if s.indexByID(msg.ID) < 0 {
		// either a peer's message or our own confirmed copy after the
		// optimistic entry was lost (reload); append only if absent
		clean := msg
		clean.Metadata = stripTempID(msg.Metadata)
		s.entries = append([]Entry{{Message: clean}}, s.entries...)
		if tempID != "" {
			s.disarmTimeout(tempID)
			delete(s.acked, tempID)
		}
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Session) applyUpdate(msg model.Message) {
	if msg.Deleted {
		s.remove(msg.ID)
		return
	}
	s.mu.Lock()
	changed := false
	if i := s.indexByID(msg.ID); i >= 0 {
		state := s.entries[i].State
		clean := msg
		clean.Metadata = stripTempID(msg.Metadata)
		s.entries[i] = Entry{Message: clean, State: state}
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Session) remove(id string) {
	s.mu.Lock()
	changed := false
	if i := s.indexByID(id); i >= 0 {
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Refresh reloads history. Confirmed entries are replaced wholesale;
// optimistic entries still awaiting their event are carried over
// unless the fetched history already contains their temp id, which is
// how a send stuck on a degraded channel finally resolves.
func (s *Session) Refresh(ctx context.Context) error {
	history, err := s.store.FetchMessages(ctx, s.conv.ID)
	if err != nil {
		return fmt.Errorf("fetch history for %s: %w", s.conv.ID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	seen := make(map[string]bool)
	fresh := make([]Entry, 0, len(history))
	// store order is ascending; the list is newest-first
	for _, msg := range history {
		if tid := msg.TempID(); tid != "" {
			seen[tid] = true
			msg.Metadata = stripTempID(msg.Metadata)
		}
		fresh = append([]Entry{{Message: msg}}, fresh...)
	}
	var carry []Entry
	for _, e := range s.entries {
		if e.State == nil {
			continue
		}
		if seen[e.State.TempID] {
			s.disarmTimeout(e.State.TempID)
			delete(s.acked, e.State.TempID)
			continue
		}
		carry = append(carry, e)
	}
	s.entries = append(carry, fresh...)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Close unsubscribes the channel, stops pending timers, and clears the
// typing indicator. In-flight sends are not cancelled; their late
// results are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.subs.Unsubscribe(s.conv.ID)
	if s.opts.Typing != nil {
		s.opts.Typing.Leave(s.conv.ID)
	}
}

// armTimeout starts the pending-send bound. Callers hold s.mu.
func (s *Session) armTimeout(tempID string) {
	if prev, ok := s.timers[tempID]; ok {
		prev.Stop()
	}
	s.timers[tempID] = time.AfterFunc(s.opts.SendTimeout, func() {
		s.expire(tempID)
	})
}

// disarmTimeout stops the bound. Callers hold s.mu.
func (s *Session) disarmTimeout(tempID string) {
	if t, ok := s.timers[tempID]; ok {
		t.Stop()
		delete(s.timers, tempID)
	}
}

// expire marks a still-pending, unacknowledged send as errored. An
// acknowledged send is left pending: the write landed, only the live
// merge is degraded, and the next history refresh resolves it.
func (s *Session) expire(tempID string) {
	s.mu.Lock()
	changed := false
	if _, acked := s.acked[tempID]; !acked && !s.closed {
		if i := s.indexByTempID(tempID); i >= 0 && s.entries[i].State.Pending() {
			s.entries[i].State.Sending = false
			s.entries[i].State.Uploading = false
			s.entries[i].State.Err = "send timed out, tap to retry"
			changed = true
		}
	}
	delete(s.timers, tempID)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// indexByTempID matches either the presentation temp id or the entry's
// own identity (covers a partially updated local entry). Callers hold
// s.mu.
func (s *Session) indexByTempID(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i, e := range s.entries {
		if (e.State != nil && e.State.TempID == tempID) || e.ID == tempID {
			return i
		}
	}
	return -1
}

func (s *Session) indexByID(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) notify() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func stripTempID(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}
	if _, ok := meta[model.MetaTempID]; !ok {
		return meta
	}
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		if k == model.MetaTempID {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
