package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coachbase/fitchat/internal/model"
	"github.com/coachbase/fitchat/internal/realtime"
)

type harness struct {
	store *fakeStore
	hub   *realtime.Hub
	mgr   *realtime.Manager
	conv  model.Conversation
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newFakeStore()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	return &harness{
		store: store,
		hub:   hub,
		mgr:   realtime.NewManager(hub),
		conv:  store.addConversation("coach-1", "athlete-1"),
	}
}

// open builds a session over the fanout-wrapped store, so durable
// writes echo onto the hub the way the backend does.
func (h *harness) open(t *testing.T, opts SessionOptions) *Session {
	t.Helper()
	sess := NewSession(WithFanout(h.store, h.hub), h.mgr, "coach-1", h.conv, opts)
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(sess.Close)
	return sess
}

func TestSendReconcilesToOneConfirmedEntry(t *testing.T) {
	h := newHarness(t)
	sess := h.open(t, SessionOptions{})

	entry, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "Hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !entry.State.Pending() {
		t.Fatalf("optimistic entry should be pending, got %+v", entry.State)
	}
	if !strings.HasPrefix(entry.ID, model.TempIDPrefix) {
		t.Fatalf("optimistic id should be a temp id, got %s", entry.ID)
	}

	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].Confirmed()
	}) {
		t.Fatalf("entry never confirmed: %+v", sess.Messages())
	}
	got := sess.Messages()[0]
	if !strings.HasPrefix(got.ID, model.MessageIDPrefix) {
		t.Errorf("confirmed entry should carry the durable id, got %s", got.ID)
	}
	if got.TempID() != "" {
		t.Errorf("tempId should be stripped from merged metadata, got %v", got.Metadata)
	}
	if got.Content != "Hello" {
		t.Errorf("content = %q, want Hello", got.Content)
	}
}

func TestReconcileIdempotentUnderRedelivery(t *testing.T) {
	h := newHarness(t)
	sess := h.open(t, SessionOptions{})

	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].Confirmed()
	}) {
		t.Fatalf("entry never confirmed")
	}

	// redeliver the same event, tempId intact
	h.store.mu.Lock()
	durable := h.store.inserted[0]
	h.store.mu.Unlock()
	h.hub.Publish(h.conv.ID, realtime.Event{Type: realtime.EventMessage, Message: &durable})
	h.hub.Publish(h.conv.ID, realtime.Event{Type: realtime.EventMessage, Message: &durable})

	time.Sleep(20 * time.Millisecond)
	msgs := sess.Messages()
	if len(msgs) != 1 {
		t.Fatalf("redelivery duplicated the entry: %d entries", len(msgs))
	}
	if msgs[0].TempID() != "" {
		t.Errorf("redelivery restored the tempId: %v", msgs[0].Metadata)
	}
}

func TestEventBeforeAckMergesOnce(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.store.insertGate = gate
	// raw store: the test controls the echo by hand
	sess := NewSession(h.store, h.mgr, "coach-1", h.conv, SessionOptions{})
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(sess.Close)

	entry, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "race"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// the channel event lands while the write is still in flight
	confirmed := entry.Message
	confirmed.ID = model.NewMessageID()
	h.hub.Publish(h.conv.ID, realtime.Event{Type: realtime.EventMessage, Message: &confirmed})

	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].Confirmed() && msgs[0].ID == confirmed.ID
	}) {
		t.Fatalf("event-first merge failed: %+v", sess.Messages())
	}

	close(gate) // now the ack arrives
	time.Sleep(20 * time.Millisecond)
	msgs := sess.Messages()
	if len(msgs) != 1 || !msgs[0].Confirmed() {
		t.Fatalf("late ack disturbed the merged entry: %+v", msgs)
	}
}

func TestWriteFailureMarksErroredAndRetryConfirms(t *testing.T) {
	h := newHarness(t)
	sess := h.open(t, SessionOptions{})
	h.store.setInsertErr(errors.New("network down"))

	entry, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "Hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].State.Errored()
	}) {
		t.Fatalf("entry never errored: %+v", sess.Messages())
	}
	got := sess.Messages()[0]
	if got.Content != "Hello" {
		t.Errorf("failed send must preserve content for retry, got %q", got.Content)
	}
	if got.State.Sending {
		t.Errorf("errored entry still flagged sending")
	}

	h.store.setInsertErr(nil)
	if err := sess.Retry(context.Background(), entry.State.TempID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].Confirmed()
	}) {
		t.Fatalf("retried entry never confirmed: %+v", sess.Messages())
	}
}

func TestPeerMessageDedupByIdentity(t *testing.T) {
	h := newHarness(t)
	sess := h.open(t, SessionOptions{})

	peer := model.Message{
		ID:             model.NewMessageID(),
		ConversationID: h.conv.ID,
		SenderID:       "athlete-1",
		Content:        "done with the workout",
		Kind:           model.KindText,
		CreatedAt:      time.Now().UTC(),
	}
	h.hub.Publish(h.conv.ID, realtime.Event{Type: realtime.EventMessage, Message: &peer})
	h.hub.Publish(h.conv.ID, realtime.Event{Type: realtime.EventMessage, Message: &peer})

	if !waitFor(2*time.Second, func() bool { return len(sess.Messages()) == 1 }) {
		t.Fatalf("peer message never arrived")
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(sess.Messages()); n != 1 {
		t.Fatalf("redundant peer delivery duplicated: %d entries", n)
	}

	second := peer
	second.ID = model.NewMessageID()
	second.Content = "and stretched"
	h.hub.Publish(h.conv.ID, realtime.Event{Type: realtime.EventMessage, Message: &second})

	if !waitFor(2*time.Second, func() bool { return len(sess.Messages()) == 2 }) {
		t.Fatalf("distinct peer message not appended")
	}
	if sess.Messages()[0].ID != second.ID {
		t.Errorf("newest message should sit at the head of the list")
	}
}

func TestSendValidationShortCircuits(t *testing.T) {
	h := newHarness(t)
	sess := h.open(t, SessionOptions{})

	if _, err := sess.Send(context.Background(), SendInput{Content: "no recipient"}); !errors.Is(err, ErrMissingParticipant) {
		t.Fatalf("want ErrMissingParticipant, got %v", err)
	}
	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1"}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("want ErrEmptyMessage, got %v", err)
	}
	if n := len(sess.Messages()); n != 0 {
		t.Fatalf("validation failure must not create optimistic entries, got %d", n)
	}

	// attachment-only sends are legal
	if _, err := sess.Send(context.Background(), SendInput{
		RecipientID: "athlete-1",
		Kind:        model.KindImage,
		Attachments: []model.Attachment{{Type: "image", URL: "https://cdn/x.jpg"}},
	}); err != nil {
		t.Fatalf("attachment-only send rejected: %v", err)
	}
}

func TestUnackedSendTimesOut(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.store.insertGate = gate
	t.Cleanup(func() { close(gate) })
	sess := h.open(t, SessionOptions{SendTimeout: 15 * time.Millisecond})

	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "slow"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].State.Errored()
	}) {
		t.Fatalf("unacked send never timed out: %+v", sess.Messages())
	}
}

func TestAckedSendSurvivesTimeout(t *testing.T) {
	h := newHarness(t)
	// raw store: the write acks but no event ever arrives (degraded
	// channel); the entry stays pending for the next history refresh
	sess := NewSession(h.store, h.mgr, "coach-1", h.conv, SessionOptions{SendTimeout: 15 * time.Millisecond})
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(sess.Close)

	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "quiet"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	msgs := sess.Messages()
	if len(msgs) != 1 || !msgs[0].State.Pending() {
		t.Fatalf("acked send should stay pending on a degraded channel: %+v", msgs)
	}

	// the refresh path finally resolves it
	if err := sess.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	msgs = sess.Messages()
	if len(msgs) != 1 || !msgs[0].Confirmed() {
		t.Fatalf("refresh should resolve the stuck send: %+v", msgs)
	}
	if msgs[0].TempID() != "" {
		t.Errorf("refresh left the tempId in metadata: %v", msgs[0].Metadata)
	}
}

func TestDeleteEventRemovesEntry(t *testing.T) {
	h := newHarness(t)
	sess := h.open(t, SessionOptions{})

	peer := model.Message{
		ID:             model.NewMessageID(),
		ConversationID: h.conv.ID,
		SenderID:       "athlete-1",
		Content:        "oops",
		Kind:           model.KindText,
		CreatedAt:      time.Now().UTC(),
	}
	h.hub.Publish(h.conv.ID, realtime.Event{Type: realtime.EventMessage, Message: &peer})
	if !waitFor(2*time.Second, func() bool { return len(sess.Messages()) == 1 }) {
		t.Fatalf("peer message never arrived")
	}

	deleted := peer
	deleted.Deleted = true
	h.hub.Publish(h.conv.ID, realtime.Event{Type: realtime.EventMessageDelete, Message: &deleted})
	if !waitFor(2*time.Second, func() bool { return len(sess.Messages()) == 0 }) {
		t.Fatalf("delete event did not remove the entry: %+v", sess.Messages())
	}
}

func TestEditEventPatchesInPlace(t *testing.T) {
	h := newHarness(t)
	sess := h.open(t, SessionOptions{})

	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "v1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].Confirmed()
	}) {
		t.Fatalf("entry never confirmed")
	}

	reactions := NewReactions(WithFanout(h.store, h.hub))
	if _, err := reactions.Edit(context.Background(), sess.Messages()[0].ID, "coach-1", "v2"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].Content == "v2" && msgs[0].EditedAt != nil
	}) {
		t.Fatalf("edit event not applied: %+v", sess.Messages())
	}
}

func TestHistoryReloadDoesNotResurrect(t *testing.T) {
	h := newHarness(t)
	sess := h.open(t, SessionOptions{})

	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "keep me once"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].Confirmed()
	}) {
		t.Fatalf("entry never confirmed")
	}

	if err := sess.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	msgs := sess.Messages()
	if len(msgs) != 1 {
		t.Fatalf("history reload resurrected the merged entry: %d entries", len(msgs))
	}
	if !msgs[0].Confirmed() || msgs[0].TempID() != "" {
		t.Errorf("reloaded entry lost its confirmed shape: %+v", msgs[0])
	}
}

func TestCloseDropsLateWriteResult(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.store.insertGate = gate
	sess := h.open(t, SessionOptions{})

	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "late"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	sess.Close()
	close(gate)
	time.Sleep(20 * time.Millisecond)

	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "x"}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("send after close should fail with ErrSessionClosed, got %v", err)
	}
}

func TestTwoRapidSendsMergeIndependently(t *testing.T) {
	h := newHarness(t)
	sess := h.open(t, SessionOptions{})

	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "A"}); err != nil {
		t.Fatalf("send A: %v", err)
	}
	if _, err := sess.Send(context.Background(), SendInput{RecipientID: "athlete-1", Content: "B"}); err != nil {
		t.Fatalf("send B: %v", err)
	}

	if !waitFor(2*time.Second, func() bool {
		msgs := sess.Messages()
		if len(msgs) != 2 {
			return false
		}
		return msgs[0].Confirmed() && msgs[1].Confirmed()
	}) {
		t.Fatalf("rapid sends did not both confirm: %+v", sess.Messages())
	}
	seen := map[string]bool{}
	for _, m := range sess.Messages() {
		seen[m.Content] = true
		if m.TempID() != "" {
			t.Errorf("entry %s kept its tempId", m.ID)
		}
	}
	if !seen["A"] || !seen["B"] {
		t.Errorf("both sends must survive, got %v", seen)
	}
}
