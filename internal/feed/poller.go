package feed

import (
	"context"
	"log"
	"time"

	"privacydesk/backend/internal/config"
	"privacydesk/backend/internal/models"
)

// PollStore is the read slice of the storage layer the poller compares
// against between ticks.
type PollStore interface {
	GetConversation(id string) (*models.Conversation, error)
	ListForCustomer(customerID string) ([]models.Conversation, error)
	ListInbox() ([]models.Conversation, error)
	ListArchive() ([]models.Conversation, error)
}

// Poller is the polling transport behind the same Source contract as the
// push listener. Views that used to poll on their own timer sit behind this
// instead of keeping a parallel source of truth: each tick diffs the scoped
// conversations against the previous snapshot and emits synthetic
// "something changed" events.
type Poller struct {
	Store    PollStore
	Interval time.Duration
}

func NewPoller(s PollStore) *Poller {
	return &Poller{Store: s, Interval: config.PollInterval}
}

type convSnapshot struct {
	status        string
	assignedAgent string
	lastMessageAt time.Time
}

func snapshotOf(c *models.Conversation) convSnapshot {
	snap := convSnapshot{status: c.Status, lastMessageAt: c.LastMessageAt}
	if c.AssignedAgentID != nil {
		snap.assignedAgent = *c.AssignedAgentID
	}
	return snap
}

// Subscribe starts polling the scope. onResync is accepted for contract
// symmetry but never fires: a poll tick is already a full re-read.
func (p *Poller) Subscribe(scope Scope, onResync func()) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan models.FeedEvent, config.ClientSendBuffer)
	sub := &Subscription{
		Events: events,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer func() {
			close(events)
			close(sub.done)
		}()

		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		known := make(map[string]convSnapshot)
		primed := false

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				convs, err := p.load(scope)
				if err != nil {
					log.Printf("WARNING: Poll tick failed for scope %v: %v", scope, err)
					continue
				}

				for i := range convs {
					conv := &convs[i]
					snap := snapshotOf(conv)
					prev, seen := known[conv.ID]
					known[conv.ID] = snap

					// The first tick only primes the snapshot; emitting
					// events for pre-existing state would replay history.
					if !primed {
						continue
					}

					if !seen || prev.status != snap.status || prev.assignedAgent != snap.assignedAgent {
						p.emit(ctx, events, models.FeedEvent{
							Kind:           models.EventConversationUpdated,
							ConversationID: conv.ID,
							At:             snap.lastMessageAt,
						})
					}
					if seen && snap.lastMessageAt.After(prev.lastMessageAt) {
						p.emit(ctx, events, models.FeedEvent{
							Kind:           models.EventMessageInserted,
							ConversationID: conv.ID,
							At:             snap.lastMessageAt,
						})
					}
				}
				primed = true
			}
		}
	}()

	return sub, nil
}

func (p *Poller) load(scope Scope) ([]models.Conversation, error) {
	switch scope.Kind {
	case ScopeConversation:
		conv, err := p.Store.GetConversation(scope.ID)
		if err != nil {
			return nil, err
		}
		return []models.Conversation{*conv}, nil
	case ScopeActor:
		return p.Store.ListForCustomer(scope.ID)
	default:
		inbox, err := p.Store.ListInbox()
		if err != nil {
			return nil, err
		}
		archive, err := p.Store.ListArchive()
		if err != nil {
			return nil, err
		}
		return append(inbox, archive...), nil
	}
}

func (p *Poller) emit(ctx context.Context, events chan models.FeedEvent, ev models.FeedEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	default:
	}
}
