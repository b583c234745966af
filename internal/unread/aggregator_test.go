package unread_test

import (
	"testing"
	"time"

	"privacydesk/backend/internal/models"
	"privacydesk/backend/internal/unread"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of the recompute source.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) UnreadCounts(viewerID string) (map[string]int, error) {
	args := m.Called(viewerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func TestAggregator_RecomputesOnceUntilInvalidated(t *testing.T) {
	store := new(MockStore)
	agg := unread.NewAggregator(store, "viewer-1")

	store.On("UnreadCounts", "viewer-1").Return(map[string]int{"c1": 2, "c2": 1}, nil).Once()

	counts, err := agg.UnreadFor()
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 2, "c2": 1}, counts)

	// Second read serves the cache, no store round trip.
	counts, err = agg.UnreadFor()
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 2, "c2": 1}, counts)

	store.AssertExpectations(t)
}

func TestAggregator_ObserveInvalidatesOnMutations(t *testing.T) {
	store := new(MockStore)
	agg := unread.NewAggregator(store, "viewer-1")

	store.On("UnreadCounts", "viewer-1").Return(map[string]int{"c1": 1}, nil).Once()
	_, err := agg.UnreadFor()
	assert.NoError(t, err)

	agg.Observe(models.FeedEvent{Kind: models.EventMessageInserted, ConversationID: "c1", At: time.Now()})

	store.On("UnreadCounts", "viewer-1").Return(map[string]int{"c1": 2}, nil).Once()
	total, err := agg.Total()
	assert.NoError(t, err)
	assert.Equal(t, 2, total)

	store.AssertExpectations(t)
}

// TestAggregator_PresenceAndTypingNeverInvalidate: only message-store
// mutations touch unread state.
func TestAggregator_PresenceAndTypingNeverInvalidate(t *testing.T) {
	store := new(MockStore)
	agg := unread.NewAggregator(store, "viewer-1")

	store.On("UnreadCounts", "viewer-1").Return(map[string]int{"c1": 3}, nil).Once()
	_, err := agg.UnreadFor()
	assert.NoError(t, err)

	agg.Observe(models.FeedEvent{Kind: models.EventPresenceChanged, EntityID: "u2"})
	agg.Observe(models.FeedEvent{Kind: models.EventTypingChanged, ConversationID: "c1"})

	counts, err := agg.UnreadFor()
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 3}, counts)

	store.AssertNumberOfCalls(t, "UnreadCounts", 1)
}

// TestAggregator_MarkViewedZeroesOnlyThatConversation verifies opening one
// thread never touches the others' counts.
func TestAggregator_MarkViewedZeroesOnlyThatConversation(t *testing.T) {
	store := new(MockStore)
	agg := unread.NewAggregator(store, "viewer-1")

	store.On("UnreadCounts", "viewer-1").Return(map[string]int{"c1": 2, "c2": 5}, nil).Once()
	_, err := agg.UnreadFor()
	assert.NoError(t, err)

	agg.MarkViewed("c1")

	counts, err := agg.UnreadFor()
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"c2": 5}, counts)

	total, err := agg.Total()
	assert.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestAggregator_ReturnsCopy(t *testing.T) {
	store := new(MockStore)
	agg := unread.NewAggregator(store, "viewer-1")

	store.On("UnreadCounts", "viewer-1").Return(map[string]int{"c1": 1}, nil).Once()

	first, err := agg.UnreadFor()
	assert.NoError(t, err)
	first["c1"] = 99

	second, err := agg.UnreadFor()
	assert.NoError(t, err)
	assert.Equal(t, 1, second["c1"], "caller mutation must not leak into the cache")
}
