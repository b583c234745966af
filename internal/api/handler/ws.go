package handler

import (
	"log"
	"net/http"

	"privacydesk/backend/internal/chathub"
	"privacydesk/backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allows connections from any origin. Lock down in production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the connection and registers the client with the
// hub. The socket carries outbound feed events and typing states; inbound it
// accepts heartbeat and typing commands only.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to upgrade connection"})
		return
	}

	client := &chathub.WebSocketClient{
		Hub:  h.Hub,
		User: user,
		Conn: conn,
		Send: make(chan chathub.Outbound, config.ClientSendBuffer),
	}

	// Connecting counts as the first heartbeat; readPump fires the
	// best-effort offline update on teardown.
	if err := h.Presence.Heartbeat(user.ID, c.Request.UserAgent()); err != nil {
		log.Printf("WARNING: connect heartbeat for %s failed: %v", user.ID, err)
	}

	// The hub registers and starts the client's pumps.
	h.Hub.RegisterCh <- client
}
