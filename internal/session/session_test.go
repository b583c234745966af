package session_test

import (
	"errors"
	"testing"
	"time"

	"privacydesk/backend/internal/feed"
	"privacydesk/backend/internal/models"
	"privacydesk/backend/internal/session"
	"privacydesk/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testActor = &models.User{ID: "customer-1", Role: models.RoleCustomer, DisplayName: "Dana"}

func newSession(t *testing.T, store *MockStore, pipe *feed.Pipe) *session.Session {
	t.Helper()
	s, err := session.New(store, pipe, new(MockTyping), testActor)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func activeConv(id string) *models.Conversation {
	return &models.Conversation{
		ID:         id,
		CustomerID: testActor.ID,
		Subject:    "Removal request stuck",
		Priority:   "normal",
		Status:     models.StatusActive,
	}
}

func TestSession_OpenLoadsConversationAndMarksRead(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	msgs := []models.Message{
		{ID: 1, ConversationID: "c1", SenderID: "agent-1", Body: "Looking into it", ClientKey: "k1"},
	}
	store.On("GetConversation", "c1").Return(activeConv("c1"), nil)
	store.On("Messages", "c1").Return(msgs, nil)
	store.On("MarkRead", "c1", testActor.ID).Return(int64(1), nil)

	err := s.Open("c1")

	assert.NoError(t, err)
	assert.Equal(t, session.StateViewing, s.State())
	assert.False(t, s.InputDisabled())
	assert.Equal(t, msgs, s.Messages())
	store.AssertCalled(t, "MarkRead", "c1", testActor.ID)
}

func TestSession_OpenClosedConversationDisablesInput(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	closed := activeConv("c1")
	closed.Status = models.StatusClosed
	store.On("GetConversation", "c1").Return(closed, nil)
	store.On("Messages", "c1").Return([]models.Message{}, nil)
	store.On("MarkRead", "c1", testActor.ID).Return(int64(0), nil)

	err := s.Open("c1")

	assert.NoError(t, err)
	assert.True(t, s.InputDisabled(), "closed threads stay readable but reject input")
}

// TestSession_DraftFirstSendCreatesThread: no conversation row exists while
// Drafting; the first send creates the row and the message as one operation
// and the session lands in Viewing on the new thread.
func TestSession_DraftFirstSendCreatesThread(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	s.StartDraft("Broker keeps re-listing me", "high")
	assert.Equal(t, session.StateDrafting, s.State())
	assert.Nil(t, s.Conversation())

	conv := activeConv("c-new")
	msg := &models.Message{ID: 1, ConversationID: "c-new", SenderID: testActor.ID, Body: "Please help"}
	store.On("CreateWithFirstMessage", testActor.ID, "Broker keeps re-listing me", "high",
		mock.MatchedBy(func(in storage.NewMessage) bool {
			return in.Body == "Please help" && in.ClientKey != "" && in.SenderID == testActor.ID
		})).Return(conv, msg, nil)

	key, err := s.Send("Please help")

	assert.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.Equal(t, session.StateViewing, s.State())
	require.NotNil(t, s.Conversation())
	assert.Equal(t, "c-new", s.Conversation().ID)
	assert.Empty(t, s.Pending(), "confirmed send leaves no pending entry")
	assert.Len(t, s.Messages(), 1)
}

func TestSession_AbandonedDraftLeavesNothing(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	s.StartDraft("never sent", "low")
	s.CloseView()

	assert.Equal(t, session.StateNoActive, s.State())
	store.AssertNotCalled(t, "CreateWithFirstMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_SendWithoutConversationRejected(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	_, err := s.Send("hello")

	assert.Error(t, err)
}

// TestSession_FailedSendStaysVisibleAndRetriesWithSameKey: a send that errors
// becomes a visibly-failed pending entry, and the retry reuses the original
// client key so a write that actually landed is deduplicated, never doubled.
func TestSession_FailedSendStaysVisibleAndRetriesWithSameKey(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	store.On("GetConversation", "c1").Return(activeConv("c1"), nil)
	store.On("Messages", "c1").Return([]models.Message{}, nil)
	store.On("MarkRead", "c1", testActor.ID).Return(int64(0), nil)
	require.NoError(t, s.Open("c1"))

	store.On("AppendMessage", "c1", mock.AnythingOfType("storage.NewMessage")).
		Return(nil, errors.New("connection reset")).Once()

	key, err := s.Send("did this go through?")
	assert.Error(t, err)
	require.NotEmpty(t, key)

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, session.PendingFailed, pending[0].Status)
	assert.Equal(t, key, pending[0].ClientKey)

	// Retry must carry the exact same client key.
	store.On("AppendMessage", "c1", mock.MatchedBy(func(in storage.NewMessage) bool {
		return in.ClientKey == key
	})).Return(&models.Message{ID: 2, ConversationID: "c1", SenderID: testActor.ID, Body: "did this go through?", ClientKey: key}, nil).Once()

	err = s.Retry(key)

	assert.NoError(t, err)
	assert.Empty(t, s.Pending())
	store.AssertExpectations(t)
}

func TestSession_RetryUnknownKeyRejected(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	err := s.Retry("no-such-key")

	assert.Error(t, err)
}

// TestSession_IncomingMessageRefreshesAndReMarksRead: each arrival in the
// actively-viewed thread re-triggers the read receipt; it is not a one-shot
// on open.
func TestSession_IncomingMessageRefreshesAndReMarksRead(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	first := []models.Message{{ID: 1, ConversationID: "c1", SenderID: "agent-1", Body: "hi", ClientKey: "k1"}}
	second := append(first, models.Message{ID: 2, ConversationID: "c1", SenderID: "agent-1", Body: "update", ClientKey: "k2"})

	store.On("GetConversation", "c1").Return(activeConv("c1"), nil)
	store.On("Messages", "c1").Return(first, nil).Once()
	store.On("Messages", "c1").Return(second, nil)
	store.On("MarkRead", "c1", testActor.ID).Return(int64(1), nil)
	require.NoError(t, s.Open("c1"))

	pipe.Publish(models.FeedEvent{
		Kind:           models.EventMessageInserted,
		ConversationID: "c1",
		EntityID:       "k2",
		ActorID:        "agent-1",
		At:             time.Now(),
	}, testActor.ID)

	time.Sleep(200 * time.Millisecond)

	assert.Len(t, s.Messages(), 2)
	store.AssertNumberOfCalls(t, "MarkRead", 2)
}

// TestSession_EventForBackgroundConversationIgnored: only the actively-viewed
// thread is refreshed; everything else is the unread aggregator's business.
func TestSession_EventForBackgroundConversationIgnored(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	store.On("GetConversation", "c1").Return(activeConv("c1"), nil)
	store.On("Messages", "c1").Return([]models.Message{}, nil)
	store.On("MarkRead", "c1", testActor.ID).Return(int64(0), nil)
	require.NoError(t, s.Open("c1"))

	pipe.Publish(models.FeedEvent{
		Kind:           models.EventMessageInserted,
		ConversationID: "c-other",
		ActorID:        "agent-1",
		At:             time.Now(),
	}, testActor.ID)

	time.Sleep(100 * time.Millisecond)
	store.AssertNotCalled(t, "Messages", "c-other")
}

// TestSession_PendingReconciledByClientKeyFromFeed: the send's response was
// lost, but the message landed. The feed-driven refresh must match the
// pending entry by exact client key and fold it in without a duplicate.
func TestSession_PendingReconciledByClientKeyFromFeed(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	store.On("GetConversation", "c1").Return(activeConv("c1"), nil)
	store.On("Messages", "c1").Return([]models.Message{}, nil).Once()
	store.On("MarkRead", "c1", testActor.ID).Return(int64(0), nil)
	require.NoError(t, s.Open("c1"))

	store.On("AppendMessage", "c1", mock.AnythingOfType("storage.NewMessage")).
		Return(nil, errors.New("response lost")).Once()
	key, err := s.Send("lost response")
	require.Error(t, err)

	// The write actually landed; the refreshed log carries our client key.
	landed := []models.Message{
		{ID: 3, ConversationID: "c1", SenderID: testActor.ID, Body: "lost response", ClientKey: key},
	}
	store.On("Messages", "c1").Return(landed, nil)

	pipe.Publish(models.FeedEvent{
		Kind:           models.EventMessageInserted,
		ConversationID: "c1",
		EntityID:       key,
		ActorID:        testActor.ID,
		At:             time.Now(),
	}, testActor.ID)

	assert.Eventually(t, func() bool {
		return len(s.Pending()) == 0
	}, time.Second, 10*time.Millisecond)

	msgs := s.Messages()
	require.Len(t, msgs, 1, "reconciliation must not duplicate the message")
	assert.Equal(t, key, msgs[0].ClientKey)
}

// TestSession_RemoteCloseDisablesInput: a conversation_updated event carrying
// a close flips the open view read-only without closing it on screen.
func TestSession_RemoteCloseDisablesInput(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s := newSession(t, store, pipe)

	store.On("GetConversation", "c1").Return(activeConv("c1"), nil).Once()
	store.On("Messages", "c1").Return([]models.Message{}, nil)
	store.On("MarkRead", "c1", testActor.ID).Return(int64(0), nil)
	require.NoError(t, s.Open("c1"))
	assert.False(t, s.InputDisabled())

	closed := activeConv("c1")
	closed.Status = models.StatusClosed
	store.On("GetConversation", "c1").Return(closed, nil)

	pipe.Publish(models.FeedEvent{
		Kind:           models.EventConversationUpdated,
		ConversationID: "c1",
		ActorID:        "agent-1",
		At:             time.Now(),
	}, testActor.ID)

	assert.Eventually(t, s.InputDisabled, time.Second, 10*time.Millisecond)
	assert.Equal(t, session.StateViewing, s.State(), "the thread stays open on screen")
}

func TestSession_TypistsThroughTypingFeed(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s, err := session.New(store, pipe, new(MockTyping), testActor)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	s.TypingFeed = pipe

	store.On("GetConversation", "c1").Return(activeConv("c1"), nil)
	store.On("Messages", "c1").Return([]models.Message{}, nil)
	store.On("MarkRead", "c1", testActor.ID).Return(int64(0), nil)
	require.NoError(t, s.Open("c1"))

	require.NoError(t, pipe.PublishTyping(models.TypingState{
		ConversationID: "c1",
		UserID:         "agent-1",
		DisplayName:    "Sam",
		Role:           models.RoleAgent,
		StartedAt:      time.Now(),
	}))

	assert.Eventually(t, func() bool {
		typists := s.Typists()
		return len(typists) == 1 && typists[0].UserID == "agent-1"
	}, time.Second, 10*time.Millisecond)
}

// TestSession_SendRetractsTyping: sending is an implicit stop-typing.
func TestSession_SendRetractsTyping(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	typingPort := new(MockTyping)
	s, err := session.New(store, pipe, typingPort, testActor)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	store.On("GetConversation", "c1").Return(activeConv("c1"), nil)
	store.On("Messages", "c1").Return([]models.Message{}, nil)
	store.On("MarkRead", "c1", testActor.ID).Return(int64(0), nil)
	require.NoError(t, s.Open("c1"))

	typingPort.On("Start", "c1", testActor.ID, testActor.DisplayName, testActor.Role).Return(nil)
	s.SetTyping(true)

	typingPort.On("Stop", "c1", testActor.ID).Return(nil)
	store.On("AppendMessage", "c1", mock.AnythingOfType("storage.NewMessage")).
		Return(&models.Message{ID: 1, ConversationID: "c1", SenderID: testActor.ID}, nil)

	_, err = s.Send("done typing")

	assert.NoError(t, err)
	typingPort.AssertCalled(t, "Stop", "c1", testActor.ID)
}

// TestSession_OpenAfterCloseRejected: the torn-down session must not spin up
// new subscriptions or goroutines.
func TestSession_OpenAfterCloseRejected(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s, err := session.New(store, pipe, new(MockTyping), testActor)
	require.NoError(t, err)
	s.TypingFeed = pipe

	s.Close()

	err = s.Open("c1")
	assert.Error(t, err)
	assert.Equal(t, session.StateNoActive, s.State())
	store.AssertNotCalled(t, "GetConversation", mock.Anything)

	s.StartDraft("after close", "low")
	assert.Equal(t, session.StateNoActive, s.State())
}

func TestSession_CloseRejectsFurtherSends(t *testing.T) {
	store := new(MockStore)
	pipe := feed.NewPipe()
	s, err := session.New(store, pipe, new(MockTyping), testActor)
	require.NoError(t, err)

	s.Close()
	s.Close() // idempotent

	_, err = s.Send("after close")
	assert.Error(t, err)
}
