package chathub

import (
	"log"
	"sync"

	"privacydesk/backend/internal/feed"
	"privacydesk/backend/internal/models"
	"privacydesk/backend/internal/presence"
	"privacydesk/backend/internal/typing"
)

// FeedSource is the transport the hub subscribes through. Both the Redis
// listener and the in-process pipe satisfy it.
type FeedSource interface {
	Subscribe(scope feed.Scope, onResync func()) (*feed.Subscription, error)
	SubscribeTyping(conversationID string) (*feed.TypingSubscription, error)
}

// ManagerService is the hub: it owns every connected client, holds one
// actor-scoped feed subscription per client, and rebroadcasts global
// presence changes to everyone for roster badges.
type ManagerService struct {
	Clients map[string]Client

	RegisterCh   chan Client
	UnregisterCh chan Client

	Listener FeedSource
	Presence *presence.Tracker
	Typing   *typing.Broadcaster

	// broadcastCh carries global events (presence) fanned to all clients.
	broadcastCh chan models.FeedEvent
	// deliverCh carries actor-scoped events with their target user.
	deliverCh chan targetedEvent

	subs map[string]*feed.Subscription

	// viewMu guards activeConv: which conversation each connected user is
	// currently viewing, reported via the "view"/"leave" commands. The
	// notification fanout reads it to suppress alerts for open threads.
	viewMu     sync.RWMutex
	activeConv map[string]string
}

type targetedEvent struct {
	userID string
	event  models.FeedEvent
}

func NewManagerService(listener FeedSource, tracker *presence.Tracker, broadcaster *typing.Broadcaster) *ManagerService {
	return &ManagerService{
		Clients:      make(map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		Listener:     listener,
		Presence:     tracker,
		Typing:       broadcaster,
		broadcastCh:  make(chan models.FeedEvent, 64),
		deliverCh:    make(chan targetedEvent, 256),
		subs:         make(map[string]*feed.Subscription),
		activeConv:   make(map[string]string),
	}
}

// SetActiveConversation records which thread the user has open, empty when
// none.
func (m *ManagerService) SetActiveConversation(userID, conversationID string) {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	if conversationID == "" {
		delete(m.activeConv, userID)
		return
	}
	m.activeConv[userID] = conversationID
}

// ActiveConversation returns the thread the user is currently viewing, empty
// if none or not connected.
func (m *ManagerService) ActiveConversation(userID string) string {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.activeConv[userID]
}

// StartGlobalListener subscribes to the global feed channel and funnels
// presence changes into the broadcast path.
func (m *ManagerService) StartGlobalListener() {
	sub, err := m.Listener.Subscribe(feed.Global(), nil)
	if err != nil {
		log.Printf("ERROR: Global feed subscription failed: %v", err)
		return
	}

	go func() {
		for ev := range sub.Events {
			if ev.Kind != models.EventPresenceChanged {
				continue
			}
			select {
			case m.broadcastCh <- ev:
			default:
				// Roster badges tolerate a dropped tick; the next
				// heartbeat publishes again.
			}
		}
	}()
}

// Run is the hub dispatcher. It is the only goroutine touching the Clients
// map and the per-client subscriptions.
func (m *ManagerService) Run() {
	m.StartGlobalListener()

	for {
		select {
		case client := <-m.RegisterCh:
			m.register(client)

		case client := <-m.UnregisterCh:
			m.unregister(client)

		case te := <-m.deliverCh:
			if client, ok := m.Clients[te.userID]; ok {
				m.push(client, Outbound{Kind: "feed", Event: &te.event})
			}

		case ev := <-m.broadcastCh:
			for _, client := range m.Clients {
				m.push(client, Outbound{Kind: "feed", Event: &ev})
			}
		}
	}
}

func (m *ManagerService) register(client Client) {
	userID := client.GetUserID()

	// A reconnect replaces the previous connection for the same user.
	if old, ok := m.Clients[userID]; ok {
		m.unregister(old)
	}

	sub, err := m.Listener.Subscribe(feed.Actor(userID), nil)
	if err != nil {
		log.Printf("ERROR: Actor feed subscription for %s failed: %v", userID, err)
		client.Close()
		return
	}
	m.subs[userID] = sub
	m.Clients[userID] = client

	go func() {
		for ev := range sub.Events {
			m.deliverCh <- targetedEvent{userID: userID, event: ev}
		}
	}()

	client.Run()
	log.Printf("Client %s registered", userID)
}

func (m *ManagerService) unregister(client Client) {
	userID := client.GetUserID()
	current, ok := m.Clients[userID]
	if !ok || current != client {
		return
	}

	if sub, ok := m.subs[userID]; ok {
		sub.Close()
		delete(m.subs, userID)
	}
	delete(m.Clients, userID)
	m.SetActiveConversation(userID, "")
	client.Close()
	log.Printf("Client %s unregistered", userID)
}

func (m *ManagerService) push(client Client, out Outbound) {
	select {
	case client.GetSendChannel() <- out:
	default:
		// Slow client: drop the connection, it will resync on reconnect.
		log.Printf("WARNING: Client %s send buffer full, disconnecting", client.GetUserID())
		m.unregister(client)
	}
}
