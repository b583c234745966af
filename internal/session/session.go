// Package session orchestrates one actor's view of the messaging subsystem:
// which conversation is open, optimistic sends, draft threads, read-receipt
// emission and teardown. A session owns exactly one actor-scoped feed
// subscription plus, while a conversation is open, one typing subscription.
package session

import (
	"log"
	"sync"
	"time"

	"privacydesk/backend/internal/feed"
	"privacydesk/backend/internal/models"
	"privacydesk/backend/internal/notify"
	"privacydesk/backend/internal/storage"
	"privacydesk/backend/internal/typing"
	"privacydesk/backend/internal/unread"

	"privacydesk/backend/internal/apperr"

	"github.com/google/uuid"
)

// Store is the slice of the storage layer a session writes through.
type Store interface {
	CreateWithFirstMessage(customerID, subject, priority string, first storage.NewMessage) (*models.Conversation, *models.Message, error)
	AppendMessage(conversationID string, in storage.NewMessage) (*models.Message, error)
	MarkRead(conversationID, viewerID string) (int64, error)
	GetConversation(id string) (*models.Conversation, error)
	Messages(conversationID string) ([]models.Message, error)
}

// TypingPort is the broadcaster side of the typing indicator.
type TypingPort interface {
	Start(conversationID, userID, displayName, role string) error
	Stop(conversationID, userID string) error
}

// TypingSource joins a conversation's ephemeral typing channel. Nil on
// transports that cannot carry typing (the polling fallback).
type TypingSource interface {
	SubscribeTyping(conversationID string) (*feed.TypingSubscription, error)
}

type State int

const (
	// StateNoActive: no conversation open.
	StateNoActive State = iota
	// StateDrafting: the actor is composing a new thread that has no
	// storage row yet.
	StateDrafting
	// StateViewing: a conversation is open and actively viewed.
	StateViewing
)

type PendingStatus int

const (
	PendingInFlight PendingStatus = iota
	PendingConfirmed
	PendingFailed
)

// PendingMessage is an optimistic local message awaiting durable
// confirmation, matched to its server copy by client key.
type PendingMessage struct {
	ClientKey string
	Body      string
	Status    PendingStatus
	SentAt    time.Time
}

// Session is the per-actor state machine. All exported methods are safe for
// concurrent use; the event loop goroutine feeds in feed events.
type Session struct {
	Store      Store
	Feed       feed.Source
	Typing     TypingPort
	TypingFeed TypingSource
	Actor      *models.User
	Unread     *unread.Aggregator
	Fanout     *notify.Fanout

	mu            sync.Mutex
	state         State
	conv          *models.Conversation
	messages      []models.Message
	pending       map[string]*PendingMessage
	draftSubject  string
	draftPriority string
	inputDisabled bool
	typingActive  bool
	closed        bool

	watcher   *typing.Watcher
	sub       *feed.Subscription
	typingSub *feed.TypingSubscription
	wg        sync.WaitGroup
}

// New builds the session and opens its actor-scoped feed subscription. The
// subscription outlives conversation switches: unread badges and
// notifications need the whole-actor view.
func New(store Store, src feed.Source, typingPort TypingPort, actor *models.User) (*Session, error) {
	s := &Session{
		Store:   store,
		Feed:    src,
		Typing:  typingPort,
		Actor:   actor,
		pending: make(map[string]*PendingMessage),
		watcher: typing.NewWatcher(),
		state:   StateNoActive,
	}

	sub, err := src.Subscribe(feed.Actor(actor.ID), s.resync)
	if err != nil {
		return nil, apperr.Transportf(err, "subscribe actor feed")
	}
	s.sub = sub

	s.wg.Add(1)
	go s.eventLoop()
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conversation returns the open conversation, nil outside StateViewing.
func (s *Session) Conversation() *models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// InputDisabled reports whether the composer should be degraded. The store
// remains the authority: a racing send still fails there.
func (s *Session) InputDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputDisabled
}

// Messages returns the confirmed log of the open conversation.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Pending returns optimistic entries not yet reconciled, including failed
// ones awaiting the user's retry or dismissal.
func (s *Session) Pending() []PendingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingMessage
	for _, p := range s.pending {
		out = append(out, *p)
	}
	return out
}

// Open makes the conversation the actively-viewed one: loads its log, emits
// the read receipt, and joins its typing channel. Any previously open
// conversation's typing channel is left first.
func (s *Session) Open(conversationID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperr.Validationf("session is closed")
	}
	s.mu.Unlock()

	conv, err := s.Store.GetConversation(conversationID)
	if err != nil {
		return err
	}
	msgs, err := s.Store.Messages(conversationID)
	if err != nil {
		return err
	}

	s.leaveConversation()

	s.mu.Lock()
	s.state = StateViewing
	s.conv = conv
	s.messages = msgs
	s.inputDisabled = conv.IsClosed()
	s.watcher.Reset()
	s.mu.Unlock()

	s.joinTyping(conversationID)
	s.emitReadReceipt(conversationID)
	return nil
}

// StartDraft transitions to Drafting: no storage row exists until the first
// send, so an abandoned draft leaves no ghost thread anywhere.
func (s *Session) StartDraft(subject, priority string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.leaveConversation()

	s.mu.Lock()
	s.state = StateDrafting
	s.conv = nil
	s.messages = nil
	s.inputDisabled = false
	s.draftSubject = subject
	s.draftPriority = priority
	s.mu.Unlock()
}

// Send issues an optimistic send. The returned client key identifies the
// pending entry; callers render it immediately and watch its status. In
// Drafting the conversation row and the first message are created as one
// logical operation, then the session transitions to viewing the new thread.
func (s *Session) Send(body string) (string, error) {
	return s.SendAttachment(body, nil)
}

// SendAttachment is Send with an optional opaque attachment handle.
func (s *Session) SendAttachment(body string, attachmentRef *string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", apperr.Validationf("session is closed")
	}
	state := s.state
	var convID string
	if s.conv != nil {
		convID = s.conv.ID
	}
	subject, priority := s.draftSubject, s.draftPriority

	if state == StateNoActive {
		s.mu.Unlock()
		return "", apperr.Validationf("no active conversation")
	}

	key := uuid.New().String()
	s.pending[key] = &PendingMessage{
		ClientKey: key,
		Body:      body,
		Status:    PendingInFlight,
		SentAt:    time.Now(),
	}
	s.mu.Unlock()

	in := storage.NewMessage{
		SenderID:      s.Actor.ID,
		Body:          body,
		AttachmentRef: attachmentRef,
		ClientKey:     key,
	}

	// Sending is an implicit stop-typing.
	s.retractTyping()

	var (
		msg  *models.Message
		conv *models.Conversation
		err  error
	)
	if state == StateDrafting {
		conv, msg, err = s.Store.CreateWithFirstMessage(s.Actor.ID, subject, priority, in)
	} else {
		msg, err = s.Store.AppendMessage(convID, in)
	}

	if err != nil {
		// Roll the optimistic entry into a visibly-failed state rather than
		// dropping it or risking a duplicate on blind retry.
		s.mu.Lock()
		if p, ok := s.pending[key]; ok {
			p.Status = PendingFailed
		}
		s.mu.Unlock()
		return key, err
	}

	s.mu.Lock()
	if state == StateDrafting {
		s.state = StateViewing
		s.conv = conv
		s.inputDisabled = false
	}
	s.confirmPendingLocked(key, msg)
	joinedConvID := ""
	if state == StateDrafting && conv != nil {
		joinedConvID = conv.ID
	}
	s.mu.Unlock()

	if joinedConvID != "" {
		s.joinTyping(joinedConvID)
	}
	return key, nil
}

// Retry re-issues a failed pending send under its original client key, so a
// write that actually landed before the transport error is deduplicated by
// the store instead of appearing twice.
func (s *Session) Retry(clientKey string) error {
	s.mu.Lock()
	p, ok := s.pending[clientKey]
	if !ok || p.Status != PendingFailed {
		s.mu.Unlock()
		return apperr.Validationf("no failed send with key %q", clientKey)
	}
	p.Status = PendingInFlight
	var convID string
	if s.conv != nil {
		convID = s.conv.ID
	}
	body := p.Body
	s.mu.Unlock()

	if convID == "" {
		return apperr.Validationf("no active conversation")
	}

	msg, err := s.Store.AppendMessage(convID, storage.NewMessage{
		SenderID:  s.Actor.ID,
		Body:      body,
		ClientKey: clientKey,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if p, ok := s.pending[clientKey]; ok {
			p.Status = PendingFailed
		}
		return err
	}
	s.confirmPendingLocked(clientKey, msg)
	return nil
}

// SetTyping toggles the actor's typing broadcast for the open conversation.
func (s *Session) SetTyping(active bool) {
	s.mu.Lock()
	if s.conv == nil || s.state != StateViewing {
		s.mu.Unlock()
		return
	}
	convID := s.conv.ID
	s.typingActive = active
	s.mu.Unlock()

	var err error
	if active {
		err = s.Typing.Start(convID, s.Actor.ID, s.Actor.DisplayName, s.Actor.Role)
	} else {
		err = s.Typing.Stop(convID, s.Actor.ID)
	}
	if err != nil {
		log.Printf("WARNING: typing broadcast for %s failed: %v", convID, err)
	}
}

// Typists returns who else is typing in the open conversation right now.
func (s *Session) Typists() []models.TypingState {
	return s.watcher.Typing(s.Actor.ID)
}

// CloseView leaves the open conversation (back to NoActive) without tearing
// the session down. The actor-scoped subscription stays alive for badges.
func (s *Session) CloseView() {
	s.leaveConversation()

	s.mu.Lock()
	s.state = StateNoActive
	s.conv = nil
	s.messages = nil
	s.inputDisabled = false
	s.mu.Unlock()
}

// Close tears the session down: retracts any outstanding typing state,
// unsubscribes from every feed scope, and resolves pending optimistic
// messages — anything still in flight is rolled back to failed rather than
// left dangling.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, p := range s.pending {
		if p.Status == PendingInFlight {
			p.Status = PendingFailed
		}
	}
	s.mu.Unlock()

	s.leaveConversation()
	s.sub.Close()
	s.wg.Wait()
}

// --- internals ---

func (s *Session) eventLoop() {
	defer s.wg.Done()
	for ev := range s.sub.Events {
		s.handleEvent(ev)
	}
}

func (s *Session) handleEvent(ev models.FeedEvent) {
	if s.Unread != nil {
		s.Unread.Observe(ev)
	}

	s.mu.Lock()
	activeConvID := ""
	if s.conv != nil && s.state == StateViewing {
		activeConvID = s.conv.ID
	}
	s.mu.Unlock()

	if s.Fanout != nil {
		s.Fanout.HandleMessage(ev, s.Actor.ID, activeConvID)
	}

	if activeConvID == "" || ev.ConversationID != activeConvID {
		return
	}

	switch ev.Kind {
	case models.EventMessageInserted:
		s.refreshMessages(activeConvID)
		// Read receipts are not one-shot: each arrival while the thread
		// stays active re-triggers the mark.
		if ev.ActorID != s.Actor.ID {
			s.emitReadReceipt(activeConvID)
		}
	case models.EventConversationUpdated:
		s.refreshConversation(activeConvID)
	}
}

// resync re-fetches every entity in scope after the feed channel was
// re-established. The ephemeral transport replays nothing, so resuming from
// the last seen event is never enough.
func (s *Session) resync() {
	if s.Unread != nil {
		s.Unread.Invalidate()
	}

	s.mu.Lock()
	convID := ""
	if s.conv != nil {
		convID = s.conv.ID
	}
	s.watcher.Reset()
	s.mu.Unlock()

	if convID != "" {
		s.refreshConversation(convID)
		s.refreshMessages(convID)
	}
}

func (s *Session) refreshMessages(convID string) {
	msgs, err := s.Store.Messages(convID)
	if err != nil {
		log.Printf("ERROR: Failed to refresh messages for %s: %v", convID, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil || s.conv.ID != convID {
		return
	}
	s.messages = msgs
	// Reconcile optimistic entries against the authoritative log by client
	// key. Exact matching, no sender+body+timestamp heuristics.
	for i := range msgs {
		if p, ok := s.pending[msgs[i].ClientKey]; ok && p.Status != PendingConfirmed {
			s.confirmPendingLocked(msgs[i].ClientKey, &msgs[i])
		}
	}
}

func (s *Session) refreshConversation(convID string) {
	conv, err := s.Store.GetConversation(convID)
	if err != nil {
		log.Printf("ERROR: Failed to refresh conversation %s: %v", convID, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil || s.conv.ID != convID {
		return
	}
	s.conv = conv
	if conv.IsClosed() {
		// Closed threads stay open on screen, read-only.
		s.inputDisabled = true
	}
}

// confirmPendingLocked folds the confirmed server copy into the local log
// and drops the optimistic entry. Caller holds s.mu.
func (s *Session) confirmPendingLocked(clientKey string, msg *models.Message) {
	delete(s.pending, clientKey)
	for i := range s.messages {
		if s.messages[i].ClientKey == clientKey {
			return // already in the refreshed log, no duplicate
		}
	}
	s.messages = append(s.messages, *msg)
}

func (s *Session) emitReadReceipt(convID string) {
	if _, err := s.Store.MarkRead(convID, s.Actor.ID); err != nil {
		log.Printf("ERROR: markRead for %s in %s failed: %v", s.Actor.ID, convID, err)
		return
	}
	if s.Unread != nil {
		s.Unread.MarkViewed(convID)
	}
}

func (s *Session) joinTyping(convID string) {
	if s.TypingFeed == nil {
		return
	}
	sub, err := s.TypingFeed.SubscribeTyping(convID)
	if err != nil {
		log.Printf("WARNING: typing subscription for %s failed: %v", convID, err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return
	}
	s.typingSub = sub
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for st := range sub.States {
			s.watcher.Observe(st)
		}
	}()
}

// retractTyping stops the actor's typing broadcast without leaving the
// typing channel.
func (s *Session) retractTyping() {
	s.mu.Lock()
	convID := ""
	if s.conv != nil {
		convID = s.conv.ID
	}
	wasTyping := s.typingActive
	s.typingActive = false
	s.mu.Unlock()

	if wasTyping && convID != "" {
		if err := s.Typing.Stop(convID, s.Actor.ID); err != nil {
			log.Printf("WARNING: typing retraction for %s failed: %v", convID, err)
		}
	}
}

// leaveConversation retracts typing state and leaves the typing
// channel for whatever conversation is currently open.
func (s *Session) leaveConversation() {
	s.mu.Lock()
	convID := ""
	if s.conv != nil {
		convID = s.conv.ID
	}
	wasTyping := s.typingActive
	s.typingActive = false
	sub := s.typingSub
	s.typingSub = nil
	s.mu.Unlock()

	if wasTyping && convID != "" {
		// A leaked start would leave a ghost indicator that only the 3s
		// local expiry elsewhere would clear.
		if err := s.Typing.Stop(convID, s.Actor.ID); err != nil {
			log.Printf("WARNING: typing retraction for %s failed: %v", convID, err)
		}
	}
	if sub != nil {
		sub.Close()
	}
}
