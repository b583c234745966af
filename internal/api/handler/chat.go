package handler

import (
	"net/http"

	"privacydesk/backend/internal/models"
	"privacydesk/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateConversation is the draft-conversation first send: the thread row
// and its first message are created as one logical operation, so no
// zero-message thread is ever observable in any roster.
func (h *Handler) CreateConversation(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Subject   string `json:"subject" binding:"required"`
		Priority  string `json:"priority"`
		Body      string `json:"body" binding:"required"`
		ClientKey string `json:"client_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ClientKey == "" {
		req.ClientKey = uuid.New().String()
	}

	conv, msg, err := h.Storage.CreateWithFirstMessage(user.ID, req.Subject, req.Priority, storage.NewMessage{
		SenderID:  user.ID,
		Body:      req.Body,
		ClientKey: req.ClientKey,
	})
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"conversation": conv, "message": msg})
}

// ListConversations is role-aware: customers see their own threads, staff
// see the active inbox.
func (h *Handler) ListConversations(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var (
		convs []models.Conversation
		err   error
	)
	if user.IsAgent() {
		convs, err = h.Storage.ListInbox()
	} else {
		convs, err = h.Storage.ListForCustomer(user.ID)
	}
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// ListArchive returns closed threads for the staff archive view.
func (h *Handler) ListArchive(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	if !user.IsAgent() {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff only"})
		return
	}

	convs, err := h.Storage.ListArchive()
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// GetMessages returns a conversation's log in total order.
func (h *Handler) GetMessages(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	conv, err := h.Storage.GetConversation(c.Param("id"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !isParticipant(user, conv) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	msgs, err := h.Storage.Messages(conv.ID)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

// AppendMessage appends to an open conversation. The store rejects closed
// threads regardless of what the UI showed at send time.
func (h *Handler) AppendMessage(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Body          string  `json:"body"`
		AttachmentRef *string `json:"attachment_ref"`
		ClientKey     string  `json:"client_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ClientKey == "" {
		req.ClientKey = uuid.New().String()
	}

	conv, err := h.Storage.GetConversation(c.Param("id"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !isParticipant(user, conv) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	msg, err := h.Storage.AppendMessage(conv.ID, storage.NewMessage{
		SenderID:      user.ID,
		Body:          req.Body,
		AttachmentRef: req.AttachmentRef,
		ClientKey:     req.ClientKey,
	})
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkRead emits the read receipt for the viewer. Idempotent.
func (h *Handler) MarkRead(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	conv, err := h.Storage.GetConversation(c.Param("id"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !isParticipant(user, conv) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	updated, err := h.Storage.MarkRead(conv.ID, user.ID)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// CloseConversation is the one-way transition to closed.
func (h *Handler) CloseConversation(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	if !user.IsAgent() {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff only"})
		return
	}

	if err := h.Storage.CloseConversation(c.Param("id")); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusClosed})
}

// AssignAgent claims or reassigns a thread. Racing assignments both succeed;
// the feed shows whoever wrote last.
func (h *Handler) AssignAgent(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	if !user.IsAgent() {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff only"})
		return
	}

	var req struct {
		AgentID string `json:"agent_id"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.AgentID == "" {
		req.AgentID = user.ID // self-assign by default
	}

	if err := h.Storage.AssignAgent(c.Param("id"), req.AgentID); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned_agent_id": req.AgentID})
}

// Unread returns the viewer's per-conversation unread counts for the badge.
func (h *Handler) Unread(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	counts, err := h.Storage.UnreadCounts(user.ID)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts, "total": total})
}

// SetTyping toggles the caller's typing broadcast over plain HTTP, for
// clients without an open socket. Best effort, nothing stored.
func (h *Handler) SetTyping(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	_ = c.ShouldBindJSON(&req)

	convID := c.Param("id")
	var err error
	if req.Active {
		err = h.Typing.Start(convID, user.ID, user.DisplayName, user.Role)
	} else {
		err = h.Typing.Stop(convID, user.ID)
	}
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Heartbeat records liveness for the calling user over plain HTTP, for
// clients without an open socket.
func (h *Handler) Heartbeat(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req struct {
		ClientHint string `json:"client_hint"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.Presence.Heartbeat(user.ID, req.ClientHint); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// OnlineRoster returns the batch of online user ids for roster views, one
// staleness-checked read instead of a per-row presence lookup.
func (h *Handler) OnlineRoster(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	if !user.IsAgent() {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff only"})
		return
	}

	online, err := h.Presence.ListOnline()
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}

	ids := make([]string, 0, len(online))
	for id := range online {
		ids = append(ids, id)
	}
	c.JSON(http.StatusOK, gin.H{"online": ids})
}
