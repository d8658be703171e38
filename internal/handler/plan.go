package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/service"
)

// PlanHandler serves the caller-facing plan API. Identity comes from the
// request context (auth.OptionalAuth); the service decides whether a missing
// identity is an error or an empty result.
type PlanHandler struct {
	plans  *service.PlanService
	logger *slog.Logger
}

func NewPlanHandler(plans *service.PlanService, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, logger: logger}
}

// HandleList returns the caller's plans, newest first.
//
// HTTP: GET /api/plans
// Anonymous callers get [].
func (h *PlanHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.List(r.Context(), callerID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponses(plans))
}

// HandleGetActive returns the caller's active plan or null.
//
// HTTP: GET /api/plans/active
func (h *PlanHandler) HandleGetActive(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.GetActive(r.Context(), callerID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(plan))
}

// HandleCreate creates a plan for the caller.
//
// HTTP: POST /api/plans
// REQUEST BODY: {"name": "...", "workoutPlan": {...}, "dietPlan": {...}, "isActive": true}
func (h *PlanHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		writeError(w, h.logger, apperror.Unauthenticated("sign in to create a plan"))
		return
	}

	var in service.PlanInput
	if err := decodeJSON(r, &in, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	plan, err := h.plans.CreateForCaller(r.Context(), userID, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanResponse(plan))
}

type setActiveRequest struct {
	IsActive *bool `json:"isActive"`
}

// HandleSetActive changes the active flag of one of the caller's plans.
//
// HTTP: PATCH /api/plans/{id}
// REQUEST BODY: {"isActive": true}
func (h *PlanHandler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		writeError(w, h.logger, apperror.Unauthenticated("sign in to change a plan"))
		return
	}

	var req setActiveRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.IsActive == nil {
		writeError(w, h.logger, apperror.ValidationFailed("isActive", "isActive is required"))
		return
	}

	plan, err := h.plans.SetActive(r.Context(), userID, chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(plan))
}

// HandleDelete permanently removes one of the caller's plans.
//
// HTTP: DELETE /api/plans/{id}
func (h *PlanHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.plans.Delete(r.Context(), callerID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
