package chathub

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"privacydesk/backend/internal/feed"
	"privacydesk/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWebSocketClient_CloseDuringTypingBurst: teardown while the typing
// consumer is still draining buffered states must not push into the closed
// Send channel. A send on a closed channel panics even behind a default arm,
// so Close has to wait the consumer out before closing Send.
func TestWebSocketClient_CloseDuringTypingBurst(t *testing.T) {
	for i := 0; i < 200; i++ {
		pipe := feed.NewPipe()
		hub := NewManagerService(pipe, nil, nil)

		client := &WebSocketClient{
			User: &models.User{ID: "user-1", Role: models.RoleCustomer},
			Hub:  hub,
			Send: make(chan Outbound, 4),
		}

		client.watchTyping("conv-1")

		for j := 0; j < 256; j++ {
			require.NoError(t, pipe.PublishTyping(models.TypingState{
				ConversationID: "conv-1",
				UserID:         fmt.Sprintf("typist-%d", j),
				StartedAt:      time.Now(),
			}))
		}

		client.Close()

		// A closed buffered channel yields its buffered values with ok ==
		// true before reporting closed, so drain before asserting.
		for range client.Send {
		}
		_, open := <-client.Send
		assert.False(t, open, "Send must be closed after teardown")
	}
}

// TestWebSocketClient_WatchTypingAfterClose: a "view" command racing a
// disconnect must not leave a typing subscription nobody will close.
func TestWebSocketClient_WatchTypingAfterClose(t *testing.T) {
	pipe := feed.NewPipe()
	hub := NewManagerService(pipe, nil, nil)

	client := &WebSocketClient{
		User: &models.User{ID: "user-1", Role: models.RoleCustomer},
		Hub:  hub,
		Send: make(chan Outbound, 4),
	}

	client.Close()
	client.watchTyping("conv-1")

	client.mu.Lock()
	sub := client.typingSub
	client.mu.Unlock()
	assert.Nil(t, sub, "no subscription may be retained after close")
}

// TestWebSocketClient_CloseWithoutRunClosesSocket: when registration fails
// the pumps never start, so Close itself must tear the network connection
// down instead of leaving it to a writePump that does not exist.
func TestWebSocketClient_CloseWithoutRunClosesSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	client := &WebSocketClient{
		User: &models.User{ID: "user-1", Role: models.RoleCustomer},
		Hub:  NewManagerService(feed.NewPipe(), nil, nil),
		Conn: conn,
		Send: make(chan Outbound, 1),
	}

	client.Close()

	err = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
	assert.Error(t, err, "the socket must be closed when the pumps never ran")
}
