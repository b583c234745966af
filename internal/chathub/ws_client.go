package chathub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"privacydesk/backend/internal/feed"
	"privacydesk/backend/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Command is the inbound wire shape from a connected client. Everything a
// client pushes upstream over the socket is ephemeral: heartbeats, typing
// toggles, and which conversation's typing channel to watch. Durable writes
// go through the HTTP API.
type Command struct {
	Action         string `json:"action"` // heartbeat, typing_start, typing_stop, view, leave
	ConversationID string `json:"conversation_id,omitempty"`
	ClientHint     string `json:"client_hint,omitempty"`
}

// WebSocketClient implements the chathub.Client interface over gorilla.
type WebSocketClient struct {
	User *models.User
	Conn *websocket.Conn
	Hub  *ManagerService
	Send chan Outbound

	// mu guards typingSub and the lifecycle flags: the read pump swaps the
	// typing subscription on "view" while the hub goroutine may be tearing
	// the client down.
	mu        sync.Mutex
	typingSub *feed.TypingSubscription
	typingWg  sync.WaitGroup
	closed    bool
	started   bool
}

func (c *WebSocketClient) GetUserID() string               { return c.User.ID }
func (c *WebSocketClient) GetSendChannel() chan<- Outbound { return c.Send }

// Run starts the pumps for this connection.
func (c *WebSocketClient) Run() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go c.writePump()
	go c.readPump()
}

// Close shuts the Send channel, which stops writePump. The typing consumer
// must be fully drained first: it pushes into Send, and a send on a closed
// channel panics even behind a default arm.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	c.closed = true
	started := c.started
	c.mu.Unlock()

	c.leaveTyping()
	c.typingWg.Wait()
	close(c.Send)

	// If the pumps never ran, nothing else will close the socket.
	if !started && c.Conn != nil {
		c.Conn.Close()
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		// Best-effort graceful offline before teardown; staleness derivation
		// covers the case where this never runs.
		if err := c.Hub.Presence.GoOffline(c.User.ID); err != nil {
			log.Printf("WARNING: offline update for %s failed: %v", c.User.ID, err)
		}
		c.Hub.UnregisterCh <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error reading message: %v", err)
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Printf("Error decoding JSON from client %s: %v", c.User.ID, err)
			continue
		}

		c.handleCommand(cmd)
	}
}

func (c *WebSocketClient) handleCommand(cmd Command) {
	switch cmd.Action {
	case "heartbeat":
		if err := c.Hub.Presence.Heartbeat(c.User.ID, cmd.ClientHint); err != nil {
			log.Printf("ERROR: heartbeat for %s failed: %v", c.User.ID, err)
		}

	case "typing_start":
		if cmd.ConversationID == "" {
			return
		}
		if err := c.Hub.Typing.Start(cmd.ConversationID, c.User.ID, c.User.DisplayName, c.User.Role); err != nil {
			log.Printf("WARNING: typing start for %s failed: %v", c.User.ID, err)
		}

	case "typing_stop":
		if cmd.ConversationID == "" {
			return
		}
		if err := c.Hub.Typing.Stop(cmd.ConversationID, c.User.ID); err != nil {
			log.Printf("WARNING: typing stop for %s failed: %v", c.User.ID, err)
		}

	case "view":
		c.Hub.SetActiveConversation(c.User.ID, cmd.ConversationID)
		c.watchTyping(cmd.ConversationID)

	case "leave":
		c.Hub.SetActiveConversation(c.User.ID, "")
		c.leaveTyping()

	default:
		log.Printf("Unknown ws action %q from client %s", cmd.Action, c.User.ID)
	}
}

// watchTyping switches the client onto the typing channel of the
// conversation it is now viewing.
func (c *WebSocketClient) watchTyping(conversationID string) {
	c.leaveTyping()
	if conversationID == "" {
		return
	}

	sub, err := c.Hub.Listener.SubscribeTyping(conversationID)
	if err != nil {
		log.Printf("WARNING: typing subscription for %s failed: %v", conversationID, err)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return
	}
	c.typingSub = sub
	c.typingWg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.typingWg.Done()
		for st := range sub.States {
			state := st
			select {
			case c.Send <- Outbound{Kind: "typing", Typing: &state}:
			default:
				// Typing is lossy; never block the socket on it.
			}
		}
	}()
}

func (c *WebSocketClient) leaveTyping() {
	c.mu.Lock()
	sub := c.typingSub
	c.typingSub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// writePump drains the Send channel onto the socket and keeps the
// connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case out, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			dataToWrite, err := json.Marshal(out)
			if err != nil {
				log.Printf("Error encoding JSON for client %s: %v", c.User.ID, err)
				continue
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(dataToWrite)

			// Drain whatever queued up behind this envelope.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				next := <-c.Send
				extraData, _ := json.Marshal(next)
				w.Write(extraData)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
