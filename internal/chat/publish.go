package chat

import (
	"context"

	"github.com/coachbase/fitchat/internal/model"
	"github.com/coachbase/fitchat/internal/realtime"
)

// fanoutStore decorates a Store so that every durable mutation echoes
// the corresponding row event onto the push channel. This is the
// server-side half the reconciliation engine listens to; wrapping the
// store keeps handlers and library callers on one insert path.
type fanoutStore struct {
	Store
	pub Publisher
}

// WithFanout wraps a store with push-channel echo.
func WithFanout(s Store, pub Publisher) Store {
	return &fanoutStore{Store: s, pub: pub}
}

func (f *fanoutStore) InsertMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	durable, err := f.Store.InsertMessage(ctx, msg)
	if err != nil {
		return model.Message{}, err
	}
	f.pub.Publish(durable.ConversationID, realtime.Event{
		Type:     realtime.EventMessage,
		SenderID: durable.SenderID,
		Message:  &durable,
	})
	return durable, nil
}

func (f *fanoutStore) EditMessage(ctx context.Context, messageID, senderID, content string) (model.Message, error) {
	msg, err := f.Store.EditMessage(ctx, messageID, senderID, content)
	if err != nil {
		return model.Message{}, err
	}
	f.pub.Publish(msg.ConversationID, realtime.Event{
		Type:     realtime.EventMessageUpdate,
		SenderID: senderID,
		Message:  &msg,
	})
	return msg, nil
}

func (f *fanoutStore) SoftDeleteMessage(ctx context.Context, messageID, senderID string) (model.Message, error) {
	msg, err := f.Store.SoftDeleteMessage(ctx, messageID, senderID)
	if err != nil {
		return model.Message{}, err
	}
	f.pub.Publish(msg.ConversationID, realtime.Event{
		Type:     realtime.EventMessageDelete,
		SenderID: senderID,
		Message:  &msg,
	})
	return msg, nil
}

func (f *fanoutStore) AddReaction(ctx context.Context, r model.Reaction) (model.Reaction, error) {
	reaction, err := f.Store.AddReaction(ctx, r)
	if err != nil {
		return model.Reaction{}, err
	}
	f.publishReaction(ctx, reaction)
	return reaction, nil
}

func (f *fanoutStore) publishReaction(ctx context.Context, r model.Reaction) {
	msg, err := f.Store.GetMessage(ctx, r.MessageID)
	if err != nil {
		return
	}
	f.pub.Publish(msg.ConversationID, realtime.Event{
		Type:     realtime.EventReaction,
		SenderID: r.ReactorID,
		Reaction: &r,
	})
}
