package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/coachbase/fitchat/internal/model"
)

var ErrSelfConversation = errors.New("chat: cannot open a conversation with yourself")

// ResolveTarget names what the caller actually has: a known
// conversation identity, or a counterpart participant identity. The
// two branches are explicit; the historical "id-or-peer" string lives
// only behind ResolveAny.
type ResolveTarget struct {
	id   string
	peer string
}

func ByID(conversationID string) ResolveTarget  { return ResolveTarget{id: conversationID} }
func ByPeer(participantID string) ResolveTarget { return ResolveTarget{peer: participantID} }

// Resolver maps a target to the canonical conversation record,
// creating one if absent. Creation races are legal: whichever row the
// store returns is canonical, and callers adopt its identity
// (redirect-on-mismatch).
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve produces the canonical conversation for the target and
// advances the resolving participant's read marker. A store failure is
// retryable; callers must not proceed to send with an unresolved
// conversation.
func (r *Resolver) Resolve(ctx context.Context, self string, t ResolveTarget) (model.Conversation, error) {
	if t.id != "" {
		conv, err := r.store.GetConversation(ctx, t.id)
		if err != nil {
			return model.Conversation{}, fmt.Errorf("resolve conversation %s: %w", t.id, err)
		}
		r.touchRead(ctx, conv.ID, self)
		return conv, nil
	}

	if self == "" || t.peer == "" {
		return model.Conversation{}, ErrMissingParticipant
	}
	if self == t.peer {
		return model.Conversation{}, ErrSelfConversation
	}
	a, b := model.NormalizePair(self, t.peer)
	conv, err := r.store.GetOrCreateConversation(ctx, a, b)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("get or create conversation for %s/%s: %w", a, b, err)
	}
	r.touchRead(ctx, conv.ID, self)
	return conv, nil
}

// ResolveAny is the fallback policy for an ambiguous id-or-peer
// string: values matching the structured conversation-id format are
// tried as ids first, and an id miss is reinterpreted as a participant
// identity. Anything else goes straight to the peer branch.
func (r *Resolver) ResolveAny(ctx context.Context, self, idOrPeer string) (model.Conversation, error) {
	if model.IsConversationID(idOrPeer) {
		conv, err := r.Resolve(ctx, self, ByID(idOrPeer))
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.Conversation{}, err
		}
		log.Printf("[chat] conversation %s not found, treating it as a participant id", idOrPeer)
	}
	return r.Resolve(ctx, self, ByPeer(idOrPeer))
}

func (r *Resolver) touchRead(ctx context.Context, conversationID, self string) {
	if self == "" {
		return
	}
	if err := r.store.MarkRead(ctx, conversationID, self); err != nil {
		log.Printf("[chat] mark read on resolve for %s failed: %v", conversationID, err)
	}
}
