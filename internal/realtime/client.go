package realtime

import (
	"encoding/json"
	"log"
	"time"

	"github.com/coachbase/fitchat/internal/model"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5120
)

// Client bridges hub channels to one remote websocket consumer. It
// carries its own Manager, so each connection gets at most one live
// channel per scope and tearing the socket down releases them all.
type Client struct {
	hub    *Hub
	mgr    *Manager
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		mgr:    NewManager(hub),
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
	}
}

// Run starts both pumps and publishes the online/offline presence
// transitions around the connection's lifetime.
func (c *Client) Run() {
	c.publishPresence(model.StatusOnline, "connected")
	// presence is an always-on scope, subscribed for every client
	if err := c.subscribe(PresenceScope); err != nil {
		log.Printf("[ws] presence subscribe for %s failed: %v", c.userID, err)
	}
	go c.writePump()
	go c.readPump()
}

// frame is the inbound wire protocol from the UI client.
type frame struct {
	Type           string `json:"type"`
	ScopeID        string `json:"scope_id"`
	ConversationID string `json:"conversation_id"`
}

func (c *Client) readPump() {
	defer func() {
		c.mgr.Shutdown()
		c.publishPresence(model.StatusOffline, "")
		close(c.send)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in frame
		if err := json.Unmarshal(msg, &in); err != nil {
			continue
		}
		switch in.Type {
		case "subscribe":
			if in.ScopeID != "" && in.ScopeID != PresenceScope {
				if err := c.subscribe(in.ScopeID); err != nil {
					log.Printf("[ws] subscribe %s for %s failed: %v", in.ScopeID, c.userID, err)
				}
			}
		case "unsubscribe":
			if in.ScopeID != "" && in.ScopeID != PresenceScope {
				c.mgr.Unsubscribe(in.ScopeID)
			}
		case "typing_start", "typing_stop":
			c.relayTyping(in.ConversationID, in.Type == "typing_start")
		}
	}
}

func (c *Client) subscribe(scopeID string) error {
	forward := func(ev Event) { c.forward(ev) }
	_, err := c.mgr.Subscribe(scopeID, Handler{
		OnMessage:    forward,
		OnTyping:     forward,
		OnPresence:   forward,
		OnMembership: forward,
	})
	return err
}

func (c *Client) forward(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[ws] marshal event for %s failed: %v", c.userID, err)
		return
	}
	select {
	case c.send <- payload:
	default:
		// slow/broken client: drop rather than stall the pump
		log.Printf("[ws] dropped event for slow client %s", c.userID)
	}
}

// relayTyping forwards a remote client's typing edge onto the
// conversation scope. Debouncing happened client-side; the bridge
// only relays transitions.
func (c *Client) relayTyping(conversationID string, typing bool) {
	if conversationID == "" {
		return
	}
	ind := model.TypingIndicator{
		ParticipantID:  c.userID,
		ConversationID: conversationID,
		Typing:         typing,
	}
	if typing {
		ind.StartedAt = time.Now().UTC()
	}
	c.hub.Publish(conversationID, Event{
		Type:     EventTyping,
		SenderID: c.userID,
		Typing:   &ind,
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) publishPresence(status model.PresenceStatus, activity string) {
	c.hub.Publish(PresenceScope, Event{
		Type:     EventPresence,
		SenderID: c.userID,
		Presence: &model.PresenceRecord{
			ParticipantID: c.userID,
			Status:        status,
			LastSeen:      time.Now().UTC(),
			Activity:      activity,
		},
	})
}
