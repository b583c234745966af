// Package feed is the change-feed abstraction: every view observes "something
// changed" notifications through one Subscription contract, whether the
// transport underneath is Redis pub/sub or plain polling. Events carry entity
// keys only; consumers re-fetch authoritative state from storage.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"privacydesk/backend/internal/config"
	"privacydesk/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota
	ScopeConversation
	ScopeActor
)

// Scope selects which slice of the change feed a subscription observes:
// one conversation, every conversation an actor participates in, or all.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func Global() Scope                { return Scope{Kind: ScopeGlobal} }
func Conversation(id string) Scope { return Scope{Kind: ScopeConversation, ID: id} }
func Actor(userID string) Scope    { return Scope{Kind: ScopeActor, ID: userID} }

// Channel maps the scope to its Redis channel name.
func (s Scope) Channel() string {
	switch s.Kind {
	case ScopeConversation:
		return config.FeedConvChannelPrefix + s.ID
	case ScopeActor:
		return config.FeedActorChannelPrefix + s.ID
	default:
		return config.FeedGlobalChannel
	}
}

// Source is anything that can hand out feed subscriptions. The Redis-backed
// Listener and the polling fallback both implement it, so consumers never
// know which transport they are on.
type Source interface {
	Subscribe(scope Scope, onResync func()) (*Subscription, error)
}

// Subscription is the explicit resource returned by Subscribe. Every exit
// path of a consumer must Close it; the events channel closes once the
// subscription is torn down.
type Subscription struct {
	// Events delivers at-least-once, order-not-guaranteed-across-scopes
	// notifications.
	Events <-chan models.FeedEvent

	events chan models.FeedEvent
	cancel func()
	done   chan struct{}
}

// Close tears the subscription down and waits for its goroutine to stop.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Listener is the push transport over Redis pub/sub. The ephemeral channel
// has no replay guarantee, so after any drop the listener re-subscribes and
// invokes the consumer's resync callback: the consumer must re-fetch every
// entity in its scope, not resume from where it left off.
type Listener struct {
	Redis *redis.Client

	// RetryDelay paces re-subscription after a dropped channel.
	RetryDelay time.Duration
}

func NewListener(rdb *redis.Client) *Listener {
	return &Listener{Redis: rdb, RetryDelay: time.Second}
}

// Subscribe opens a feed subscription for the scope. onResync may be nil for
// consumers that tolerate missed events some other way.
func (l *Listener) Subscribe(scope Scope, onResync func()) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := l.Redis.Subscribe(ctx, scope.Channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, err
	}

	events := make(chan models.FeedEvent, config.ClientSendBuffer)
	sub := &Subscription{
		Events: events,
		events: events,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go l.pump(ctx, pubsub, scope, events, onResync, sub.done)
	return sub, nil
}

func (l *Listener) pump(ctx context.Context, pubsub *redis.PubSub, scope Scope, events chan models.FeedEvent, onResync func(), done chan struct{}) {
	defer func() {
		pubsub.Close()
		close(events)
		close(done)
	}()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			// Channel dropped. Re-establish, then force a full re-sync of
			// everything in scope: nothing published while we were away
			// will ever be replayed.
			log.Printf("WARNING: Feed channel %s dropped, resubscribing: %v", scope.Channel(), err)
			pubsub.Close()
			time.Sleep(l.RetryDelay)
			pubsub = l.Redis.Subscribe(ctx, scope.Channel())
			if onResync != nil {
				onResync()
			}
			continue
		}

		var ev models.FeedEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("Error unmarshalling feed event: %v", err)
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		default:
			// Slow consumer: drop the event. At-least-once only holds for
			// consumers that keep up; a resync recovers the rest.
			log.Printf("WARNING: Dropping feed event %s for slow %s subscriber", ev.Kind, scope.Channel())
		}
	}
}

// TypingSubscription delivers the ephemeral typing broadcasts for one
// conversation. Same lifecycle as Subscription; no resync callback because
// typing state has nothing durable to re-fetch.
type TypingSubscription struct {
	States <-chan models.TypingState

	states chan models.TypingState
	cancel func()
	done   chan struct{}
}

func (s *TypingSubscription) Close() {
	s.cancel()
	<-s.done
}

// SubscribeTyping joins the conversation's typing channel.
func (l *Listener) SubscribeTyping(conversationID string) (*TypingSubscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	channel := config.TypingChannelPrefix + conversationID
	pubsub := l.Redis.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, err
	}

	states := make(chan models.TypingState, config.ClientSendBuffer)
	sub := &TypingSubscription{
		States: states,
		states: states,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer func() {
			pubsub.Close()
			close(states)
			close(sub.done)
		}()

		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var st models.TypingState
				if err := json.Unmarshal([]byte(msg.Payload), &st); err != nil {
					log.Printf("Error unmarshalling typing state: %v", err)
					continue
				}
				select {
				case states <- st:
				default:
					// Typing is lossy anyway; the watcher's TTL covers it.
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}
