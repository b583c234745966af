package chathub_test

import (
	"testing"
	"time"

	"privacydesk/backend/internal/chathub"
	"privacydesk/backend/internal/feed"
	"privacydesk/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func newHub() (*chathub.ManagerService, *feed.Pipe) {
	pipe := feed.NewPipe()
	hub := chathub.NewManagerService(pipe, nil, nil)
	return hub, pipe
}

func TestManager_Run(t *testing.T) {
	hub, _ := newHub()
	clientA := newMockClient("user_A")

	go hub.Run()

	hub.RegisterCh <- clientA
	time.Sleep(100 * time.Millisecond)
	assert.Contains(t, hub.Clients, "user_A")

	hub.UnregisterCh <- clientA
	time.Sleep(100 * time.Millisecond)
	assert.NotContains(t, hub.Clients, "user_A")
}

// TestManager_TargetedDelivery: an actor-scoped event reaches only the named
// recipient's connection.
func TestManager_TargetedDelivery(t *testing.T) {
	hub, pipe := newHub()
	clientA := newMockClient("user_A")
	clientB := newMockClient("user_B")

	go hub.Run()
	hub.RegisterCh <- clientA
	hub.RegisterCh <- clientB
	time.Sleep(100 * time.Millisecond)

	pipe.Publish(models.FeedEvent{
		Kind:           models.EventMessageInserted,
		ConversationID: "conv-1",
		ActorID:        "agent-1",
		At:             time.Now(),
	}, "user_A")
	time.Sleep(100 * time.Millisecond)

	select {
	case out := <-clientA.RecvChannel:
		assert.Equal(t, "feed", out.Kind)
		assert.Equal(t, "conv-1", out.Event.ConversationID)
	default:
		t.Error("user_A did not receive the targeted event")
	}

	select {
	case out := <-clientB.RecvChannel:
		t.Errorf("user_B should not receive user_A's event, got %+v", out)
	default:
	}
}

// TestManager_PresenceBroadcast: presence changes on the global channel fan
// to every connected client for roster badges.
func TestManager_PresenceBroadcast(t *testing.T) {
	hub, pipe := newHub()
	clientA := newMockClient("user_A")
	clientB := newMockClient("user_B")

	go hub.Run()
	hub.RegisterCh <- clientA
	hub.RegisterCh <- clientB
	time.Sleep(100 * time.Millisecond)

	pipe.Publish(models.FeedEvent{
		Kind:     models.EventPresenceChanged,
		EntityID: "user_C",
		At:       time.Now(),
	})
	time.Sleep(100 * time.Millisecond)

	for _, client := range []*MockClient{clientA, clientB} {
		select {
		case out := <-client.RecvChannel:
			assert.Equal(t, models.EventPresenceChanged, out.Event.Kind)
		default:
			t.Errorf("%s did not receive the presence broadcast", client.GetUserID())
		}
	}
}

// TestManager_ReconnectReplacesConnection: a second register for the same
// user supersedes the first connection instead of duplicating it.
func TestManager_ReconnectReplacesConnection(t *testing.T) {
	hub, _ := newHub()
	first := newMockClient("user_A")
	second := newMockClient("user_A")

	go hub.Run()
	hub.RegisterCh <- first
	time.Sleep(100 * time.Millisecond)
	hub.RegisterCh <- second
	time.Sleep(100 * time.Millisecond)

	assert.Len(t, hub.Clients, 1)
	assert.Equal(t, chathub.Client(second), hub.Clients["user_A"])
}

func TestManager_ActiveConversationTracking(t *testing.T) {
	hub, _ := newHub()

	assert.Empty(t, hub.ActiveConversation("user_A"))

	hub.SetActiveConversation("user_A", "conv-1")
	assert.Equal(t, "conv-1", hub.ActiveConversation("user_A"))

	hub.SetActiveConversation("user_A", "")
	assert.Empty(t, hub.ActiveConversation("user_A"))
}

// TestManager_UnregisterClearsActiveConversation: a dropped connection must
// not leave a stale "viewing" record that would keep suppressing alerts.
func TestManager_UnregisterClearsActiveConversation(t *testing.T) {
	hub, _ := newHub()
	clientA := newMockClient("user_A")

	go hub.Run()
	hub.RegisterCh <- clientA
	time.Sleep(100 * time.Millisecond)

	hub.SetActiveConversation("user_A", "conv-1")

	hub.UnregisterCh <- clientA
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, hub.ActiveConversation("user_A"))
}
