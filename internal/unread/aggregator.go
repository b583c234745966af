// Package unread keeps the cross-conversation unread counts behind the
// navigation badge. It is a derived view: storage owns the truth, the
// aggregator caches it and invalidates on feed events.
package unread

import (
	"sync"

	"privacydesk/backend/internal/models"
)

// Store is the slice of the storage layer the aggregator recomputes from.
type Store interface {
	UnreadCounts(viewerID string) (map[string]int, error)
}

// Aggregator maintains per-conversation unread counts for one viewer,
// independent of which conversation (if any) is currently open.
type Aggregator struct {
	Store    Store
	ViewerID string

	mu     sync.Mutex
	counts map[string]int
	stale  bool
}

func NewAggregator(s Store, viewerID string) *Aggregator {
	return &Aggregator{
		Store:    s,
		ViewerID: viewerID,
		stale:    true,
	}
}

// Observe folds one feed event into the cache. Any message-store mutation
// invalidates; presence and typing never touch unread state.
func (a *Aggregator) Observe(ev models.FeedEvent) {
	switch ev.Kind {
	case models.EventMessageInserted, models.EventConversationUpdated:
		a.Invalidate()
	}
}

// Invalidate marks the cache dirty; the next UnreadFor recomputes from
// storage.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.stale = true
	a.mu.Unlock()
}

// UnreadFor returns the per-conversation unread map, recomputing from the
// source of truth if any mutation was observed since the last read.
func (a *Aggregator) UnreadFor() (map[string]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stale {
		counts, err := a.Store.UnreadCounts(a.ViewerID)
		if err != nil {
			return nil, err
		}
		a.counts = counts
		a.stale = false
	}

	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out, nil
}

// Total is the navigation badge number.
func (a *Aggregator) Total() (int, error) {
	counts, err := a.UnreadFor()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// MarkViewed zeroes the opened conversation's count locally, without
// touching any other conversation or waiting for the durable MarkRead to be
// acknowledged through the feed.
func (a *Aggregator) MarkViewed(conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counts != nil {
		delete(a.counts, conversationID)
	}
}
