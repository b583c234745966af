package feed

import (
	"sync"

	"privacydesk/backend/internal/config"
	"privacydesk/backend/internal/models"
)

// Pipe is an in-process transport behind the same Source contract: events
// published on it are fanned to matching subscriptions directly, no broker
// in between. Single-process deployments and tests run on it.
type Pipe struct {
	mu         sync.Mutex
	subs       map[*Subscription]Scope
	typingSubs map[*TypingSubscription]string
}

func NewPipe() *Pipe {
	return &Pipe{
		subs:       make(map[*Subscription]Scope),
		typingSubs: make(map[*TypingSubscription]string),
	}
}

// Subscribe opens an in-process feed subscription for the scope.
func (p *Pipe) Subscribe(scope Scope, onResync func()) (*Subscription, error) {
	events := make(chan models.FeedEvent, config.ClientSendBuffer)
	sub := &Subscription{
		Events: events,
		events: events,
		done:   make(chan struct{}),
	}
	sub.cancel = func() {
		p.mu.Lock()
		if _, ok := p.subs[sub]; ok {
			delete(p.subs, sub)
			close(events)
			close(sub.done)
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.subs[sub] = scope
	p.mu.Unlock()
	return sub, nil
}

// SubscribeTyping joins the conversation's in-process typing channel.
func (p *Pipe) SubscribeTyping(conversationID string) (*TypingSubscription, error) {
	states := make(chan models.TypingState, config.ClientSendBuffer)
	sub := &TypingSubscription{
		States: states,
		states: states,
		done:   make(chan struct{}),
	}
	sub.cancel = func() {
		p.mu.Lock()
		if _, ok := p.typingSubs[sub]; ok {
			delete(p.typingSubs, sub)
			close(states)
			close(sub.done)
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.typingSubs[sub] = conversationID
	p.mu.Unlock()
	return sub, nil
}

// Publish fans the event to every subscription whose scope matches:
// global always, conversation scope by conversation id, actor scope by the
// recipients list. Slow subscribers drop the event, same as the broker
// transport.
func (p *Pipe) Publish(ev models.FeedEvent, recipients ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for sub, scope := range p.subs {
		if !scopeMatches(scope, ev, recipients) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// PublishTyping fans a typing state to the conversation's typing
// subscribers.
func (p *Pipe) PublishTyping(st models.TypingState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for sub, convID := range p.typingSubs {
		if convID != st.ConversationID {
			continue
		}
		select {
		case sub.states <- st:
		default:
		}
	}
	return nil
}

func scopeMatches(scope Scope, ev models.FeedEvent, recipients []string) bool {
	switch scope.Kind {
	case ScopeGlobal:
		return true
	case ScopeConversation:
		return scope.ID == ev.ConversationID
	case ScopeActor:
		for _, r := range recipients {
			if r == scope.ID {
				return true
			}
		}
		return false
	}
	return false
}
