package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/service"
)

// SessionHandler lets a signed-in user open and close a voice session before
// and after a call.
type SessionHandler struct {
	sessions *service.SessionService
	logger   *slog.Logger
}

func NewSessionHandler(sessions *service.SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

type openSessionRequest struct {
	Timestamp int64 `json:"timestamp"` // ms epoch, optional
}

// HandleOpen opens a voice session for the caller, replacing any previous
// one. The returned token is passed through the call's metadata so the voice
// platform can identify the caller.
//
// HTTP: POST /api/voice/sessions
// REQUEST BODY (optional): {"timestamp": 1700000000000}
func (h *SessionHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		writeError(w, h.logger, apperror.Unauthenticated("sign in to start a voice session"))
		return
	}

	var req openSessionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}

	session, err := h.sessions.Open(r.Context(), userID, millisToTime(req.Timestamp))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// HandleDeactivate ends the caller's voice session.
//
// HTTP: DELETE /api/voice/sessions
func (h *SessionHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		writeError(w, h.logger, apperror.Unauthenticated("sign in to end a voice session"))
		return
	}

	if _, err := h.sessions.Deactivate(r.Context(), userID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
