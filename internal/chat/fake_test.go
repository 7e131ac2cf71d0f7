package chat

import (
	"context"
	"sync"
	"time"

	"github.com/coachbase/fitchat/internal/model"
)

// fakeStore is an in-memory store for engine/resolver tests. An
// optional gate lets a test hold a durable write open to force a
// particular interleaving of ack and channel event.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]model.Conversation
	byPair        map[string]model.Conversation
	messages      map[string][]model.Message
	reads         map[string]time.Time
	reactions     map[string]model.Reaction
	inserted      []model.Message

	insertErr  error
	insertGate chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]model.Conversation),
		byPair:        make(map[string]model.Conversation),
		messages:      make(map[string][]model.Message),
		reads:         make(map[string]time.Time),
		reactions:     make(map[string]model.Reaction),
	}
}

func (f *fakeStore) addConversation(a, b string) model.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b = model.NormalizePair(a, b)
	conv := model.Conversation{
		ID:           model.NewConversationID(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
	}
	f.conversations[conv.ID] = conv
	f.byPair[a+"|"+b] = conv
	return conv
}

func (f *fakeStore) setInsertErr(err error) {
	f.mu.Lock()
	f.insertErr = err
	f.mu.Unlock()
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	f.mu.Lock()
	gate := f.insertGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return model.Message{}, f.insertErr
	}
	msg.ID = model.NewMessageID()
	msg.CreatedAt = time.Now().UTC()
	f.messages[msg.ConversationID] = append(f.messages[msg.ConversationID], msg)
	f.inserted = append(f.inserted, msg)
	return msg, nil
}

func (f *fakeStore) FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages[conversationID] {
		if !m.Deleted {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, list := range f.messages {
		for _, m := range list {
			if m.ID == id {
				return m, nil
			}
		}
	}
	return model.Message{}, ErrNotFound
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.conversations[id]; ok {
		return conv, nil
	}
	return model.Conversation{}, ErrNotFound
}

func (f *fakeStore) GetOrCreateConversation(ctx context.Context, a, b string) (model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b = model.NormalizePair(a, b)
	if conv, ok := f.byPair[a+"|"+b]; ok {
		return conv, nil
	}
	conv := model.Conversation{
		ID:           model.NewConversationID(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
	}
	f.conversations[conv.ID] = conv
	f.byPair[a+"|"+b] = conv
	return conv, nil
}

func (f *fakeStore) ListConversations(ctx context.Context, participantID string) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Conversation
	for _, conv := range f.conversations {
		if conv.Has(participantID) {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkRead(ctx context.Context, conversationID, participantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[conversationID+"|"+participantID] = time.Now().UTC()
	return nil
}

func (f *fakeStore) AddReaction(ctx context.Context, r model.Reaction) (model.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.reactions {
		if existing.MessageID == r.MessageID && existing.ReactorID == r.ReactorID && existing.Kind == r.Kind {
			return existing, nil
		}
	}
	r.ID = model.NewReactionID()
	r.CreatedAt = time.Now().UTC()
	f.reactions[r.ID] = r
	return r, nil
}

func (f *fakeStore) RemoveReaction(ctx context.Context, reactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reactions[reactionID]; !ok {
		return ErrNotFound
	}
	delete(f.reactions, reactionID)
	return nil
}

func (f *fakeStore) EditMessage(ctx context.Context, messageID, senderID, content string) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for cid, list := range f.messages {
		for i, m := range list {
			if m.ID != messageID || m.Deleted {
				continue
			}
			if m.SenderID != senderID {
				return model.Message{}, ErrForbidden
			}
			now := time.Now().UTC()
			list[i].Content = content
			list[i].EditedAt = &now
			f.messages[cid] = list
			return list[i], nil
		}
	}
	return model.Message{}, ErrNotFound
}

func (f *fakeStore) SoftDeleteMessage(ctx context.Context, messageID, senderID string) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for cid, list := range f.messages {
		for i, m := range list {
			if m.ID != messageID || m.Deleted {
				continue
			}
			if m.SenderID != senderID {
				return model.Message{}, ErrForbidden
			}
			now := time.Now().UTC()
			list[i].Deleted = true
			list[i].DeletedAt = &now
			f.messages[cid] = list
			return list[i], nil
		}
	}
	return model.Message{}, ErrNotFound
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
