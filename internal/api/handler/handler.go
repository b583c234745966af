package handler

import (
	"errors"
	"net/http"

	"privacydesk/backend/internal/apperr"
	"privacydesk/backend/internal/chathub"
	"privacydesk/backend/internal/models"
	"privacydesk/backend/internal/presence"
	"privacydesk/backend/internal/storage"
	"privacydesk/backend/internal/typing"
)

// Handler carries the wired services for the HTTP surface.
type Handler struct {
	Hub      *chathub.ManagerService
	Storage  *storage.Service
	Presence *presence.Tracker
	Typing   *typing.Broadcaster
}

func NewHandler(hub *chathub.ManagerService, s *storage.Service, tracker *presence.Tracker, broadcaster *typing.Broadcaster) *Handler {
	return &Handler{
		Hub:      hub,
		Storage:  s,
		Presence: tracker,
		Typing:   broadcaster,
	}
}

// isParticipant gates every conversation read and write: a thread belongs to
// its customer and the staff side, nobody else.
func isParticipant(user *models.User, conv *models.Conversation) bool {
	return user.IsAgent() || conv.CustomerID == user.ID
}

// httpStatus maps the error taxonomy onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConversationClosed):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
