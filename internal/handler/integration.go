package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/metrics"
	"github.com/sakif/fitness-coach/internal/service"
)

// IntegrationHandler serves the server-to-server endpoints used by the voice
// platform and the identity provider. Routes are mounted behind
// auth.RequireIntegrationKey, so every caller here is trusted.
type IntegrationHandler struct {
	sessions *service.SessionService
	plans    *service.PlanService
	users    *service.UserService
	logger   *slog.Logger
}

func NewIntegrationHandler(
	sessions *service.SessionService,
	plans *service.PlanService,
	users *service.UserService,
	logger *slog.Logger,
) *IntegrationHandler {
	return &IntegrationHandler{
		sessions: sessions,
		plans:    plans,
		users:    users,
		logger:   logger,
	}
}

type callerResponse struct {
	UserID *string `json:"userId"`
	Method string  `json:"method"`
}

// resolveCaller prefers the correlation token. The global most-recent
// lookup is used only when no token is given at all.
func (h *IntegrationHandler) resolveCaller(ctx context.Context, token string) (string, string, error) {
	if strings.TrimSpace(token) != "" {
		userID, err := h.sessions.ResolveCallerByToken(ctx, token)
		return userID, metrics.ResolveByToken, err
	}
	userID, err := h.sessions.ResolveActiveCaller(ctx)
	return userID, metrics.ResolveByLatest, err
}

// HandleResolveCaller reports which user the voice call belongs to.
//
// HTTP: GET /integrations/voice/caller?token=...
// RESPONSE: {"userId": "github|42", "method": "token"}; userId is null when
// no live session matches.
func (h *IntegrationHandler) HandleResolveCaller(w http.ResponseWriter, r *http.Request) {
	userID, method, err := h.resolveCaller(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := callerResponse{Method: method}
	if userID != "" {
		resp.UserID = &userID
	}
	writeJSON(w, http.StatusOK, resp)
}

type integrationPlanRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
	service.PlanInput
}

// HandleCreatePlan stores the plan produced at the end of a voice call.
//
// HTTP: POST /integrations/voice/plans
// REQUEST BODY: plan fields plus either "userId" or the session "token".
// With neither, the most recent live session decides the owner.
func (h *IntegrationHandler) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req integrationPlanRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		resolved, method, err := h.resolveCaller(r.Context(), req.Token)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if resolved == "" {
			writeError(w, h.logger, apperror.Unauthenticated("no live voice session identifies the caller"))
			return
		}
		h.logger.Debug("plan owner resolved from voice session",
			slog.String("userID", resolved),
			slog.String("method", method),
		)
		userID = resolved
	}

	plan, err := h.plans.CreateForUser(r.Context(), userID, req.PlanInput)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanResponse(plan))
}

// HandleListSessions returns every live voice session, newest first.
//
// HTTP: GET /integrations/voice/sessions
func (h *IntegrationHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListActive(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResponse(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type deactivateRequest struct {
	UserID string `json:"userId"`
}

// HandleDeactivate marks a user's voice session inactive when a call ends.
//
// HTTP: POST /integrations/voice/sessions/deactivate
// REQUEST BODY: {"userId": "..."}
func (h *IntegrationHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	n, err := h.sessions.Deactivate(r.Context(), req.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deactivated": n})
}

// HandleExpireSessions deletes expired voice sessions on demand. The sweeper
// does the same on a timer.
//
// HTTP: POST /integrations/maintenance/sessions/expire
func (h *IntegrationHandler) HandleExpireSessions(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sessions.ExpireStale(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// HandleIdentityEvent applies a user.created / user.updated event from the
// identity provider.
//
// HTTP: POST /integrations/identity/events
// REQUEST BODY: {"type": "user.created", "data": {"id": "...", "name": "...", "email": "...", "imageUrl": "..."}}
func (h *IntegrationHandler) HandleIdentityEvent(w http.ResponseWriter, r *http.Request) {
	var ev service.IdentityEvent
	if err := decodeJSON(r, &ev, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.users.HandleIdentityEvent(r.Context(), ev); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetUser returns a synchronized user record by identity id.
//
// HTTP: GET /integrations/users/{id}
func (h *IntegrationHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	// chi matches on RawPath when the client used a non-canonical escaping,
	// and the parameter is then still encoded.
	id := chi.URLParam(r, "id")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(id)
		if err != nil {
			writeError(w, h.logger, apperror.ValidationFailed("id", "malformed user id"))
			return
		}
		id = unescaped
	}

	user, err := h.users.FindUser(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if user == nil {
		writeError(w, h.logger, apperror.UserNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
