package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/metrics"
	"github.com/sakif/fitness-coach/internal/model"
	"github.com/sakif/fitness-coach/internal/repository"
)

const MaxPlanNameLength = 100

// PlanInput is the body of a new plan. IsActive is honoured as given: a
// plan may be created inactive.
type PlanInput struct {
	Name        string            `json:"name"`
	WorkoutPlan model.WorkoutPlan `json:"workoutPlan"`
	DietPlan    model.DietPlan    `json:"dietPlan"`
	IsActive    bool              `json:"isActive"`
}

// PlanService enforces plan ownership and the rule that a user has at most
// one active plan. Every read-modify-write sequence runs inside one
// repository transaction.
type PlanService struct {
	plans   repository.PlanRepository
	users   repository.UserRepository
	metrics metrics.Recorder
	logger  *slog.Logger
	policy  *bluemonday.Policy
}

func NewPlanService(plans repository.PlanRepository, users repository.UserRepository, rec metrics.Recorder, logger *slog.Logger) *PlanService {
	return &PlanService{
		plans:   plans,
		users:   users,
		metrics: rec,
		logger:  logger,
		policy:  bluemonday.StrictPolicy(),
	}
}

// CreateForCaller creates a plan for the authenticated caller. It fails with
// Unauthenticated when callerID is empty and with UserNotFound when no user
// record has been synchronized for it.
func (s *PlanService) CreateForCaller(ctx context.Context, callerID string, in PlanInput) (*model.Plan, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated("sign in to create a plan")
	}

	if _, err := s.users.GetUserByID(ctx, callerID); err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.UserNotFound(callerID)
		}
		return nil, fmt.Errorf("service/plan: looking up user %s: %w", callerID, err)
	}

	return s.create(ctx, callerID, in, metrics.SourceCaller)
}

// CreateForUser creates a plan for userID on behalf of a trusted
// integration. The user record is not required to exist.
func (s *PlanService) CreateForUser(ctx context.Context, userID string, in PlanInput) (*model.Plan, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "user id is required")
	}
	return s.create(ctx, userID, in, metrics.SourceIntegration)
}

// create deactivates every active plan of userID, however many there are,
// then inserts the new plan.
func (s *PlanService) create(ctx context.Context, userID string, in PlanInput, source string) (*model.Plan, error) {
	plan, err := s.buildPlan(userID, in)
	if err != nil {
		return nil, err
	}

	err = s.plans.WithinTx(ctx, func(tx repository.PlanStore) error {
		active, err := tx.ListActivePlansByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, p := range active {
			if err := tx.SetPlanActive(ctx, p.ID, false); err != nil {
				return err
			}
		}
		return tx.CreatePlan(ctx, plan)
	})
	if err != nil {
		s.logger.Error("failed to create plan",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/plan: creating plan: %w", err)
	}

	s.metrics.RecordPlanCreated(source)
	s.logger.Info("plan created",
		slog.String("planID", plan.ID),
		slog.String("userID", userID),
		slog.Bool("active", plan.IsActive),
		slog.String("source", source),
	)
	return plan, nil
}

// List returns the caller's plans newest first, or an empty list when there
// is no caller.
func (s *PlanService) List(ctx context.Context, callerID string) ([]model.Plan, error) {
	if callerID == "" {
		s.logger.Debug("listing plans without identity")
		return []model.Plan{}, nil
	}

	plans, err := s.plans.ListPlansByUser(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("service/plan: listing plans: %w", err)
	}
	return plans, nil
}

// GetActive returns the caller's active plan, or nil when there is no caller
// or no active plan. Finding more than one active plan is a Conflict.
func (s *PlanService) GetActive(ctx context.Context, callerID string) (*model.Plan, error) {
	if callerID == "" {
		return nil, nil
	}

	active, err := s.plans.ListActivePlansByUser(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("service/plan: fetching active plan: %w", err)
	}

	switch len(active) {
	case 0:
		return nil, nil
	case 1:
		return &active[0], nil
	default:
		s.logger.Warn("multiple active plans",
			slog.String("userID", callerID),
			slog.Int("count", len(active)),
		)
		return nil, apperror.Conflict(fmt.Sprintf("user %s has %d active plans", callerID, len(active)))
	}
}

// SetActive changes the active flag of one of the caller's plans.
// Activating deactivates the caller's other active plans first; deactivating
// touches only planID.
func (s *PlanService) SetActive(ctx context.Context, callerID, planID string, active bool) (*model.Plan, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated("sign in to change a plan")
	}

	var updated *model.Plan
	err := s.plans.WithinTx(ctx, func(tx repository.PlanStore) error {
		plan, err := loadOwnedPlan(ctx, tx, callerID, planID)
		if err != nil {
			return err
		}

		if active {
			others, err := tx.ListActivePlansByUser(ctx, callerID)
			if err != nil {
				return err
			}
			for _, p := range others {
				if p.ID == plan.ID {
					continue
				}
				if err := tx.SetPlanActive(ctx, p.ID, false); err != nil {
					return err
				}
			}
		}

		if err := tx.SetPlanActive(ctx, plan.ID, active); err != nil {
			return err
		}
		plan.IsActive = active
		updated = plan
		return nil
	})
	if err != nil {
		return nil, planError("updating plan", err)
	}

	s.metrics.RecordPlanActivation(active)
	s.logger.Info("plan activation changed",
		slog.String("planID", planID),
		slog.String("userID", callerID),
		slog.Bool("active", active),
	)
	return updated, nil
}

// Delete permanently removes one of the caller's plans.
func (s *PlanService) Delete(ctx context.Context, callerID, planID string) error {
	if callerID == "" {
		return apperror.Unauthenticated("sign in to delete a plan")
	}

	err := s.plans.WithinTx(ctx, func(tx repository.PlanStore) error {
		plan, err := loadOwnedPlan(ctx, tx, callerID, planID)
		if err != nil {
			return err
		}
		return tx.DeletePlan(ctx, plan.ID)
	})
	if err != nil {
		return planError("deleting plan", err)
	}

	s.metrics.RecordPlanDeleted()
	s.logger.Info("plan deleted",
		slog.String("planID", planID),
		slog.String("userID", callerID),
	)
	return nil
}

// loadOwnedPlan returns NotFound for a missing plan and Forbidden for a plan
// owned by someone else.
func loadOwnedPlan(ctx context.Context, tx repository.PlanStore, callerID, planID string) (*model.Plan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, apperror.NotFound("plan", planID)
	}

	plan, err := tx.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.UserID != callerID {
		return nil, apperror.Forbidden("plan belongs to another user")
	}
	return plan, nil
}

// planError passes domain errors through untouched and wraps storage errors.
func planError(action string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("service/plan: %s: %w", action, err)
}

// buildPlan validates in and turns it into a plan for userID. Text fields
// are stripped of markup because they are rendered verbatim by clients.
func (s *PlanService) buildPlan(userID string, in PlanInput) (*model.Plan, error) {
	name := s.clean(in.Name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "plan name is required")
	}
	if utf8.RuneCountInString(name) > MaxPlanNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("plan name must be %d characters or less", MaxPlanNameLength))
	}

	workout := model.WorkoutPlan{
		Schedule:  s.cleanAll(in.WorkoutPlan.Schedule),
		Exercises: make([]model.ExerciseDay, 0, len(in.WorkoutPlan.Exercises)),
	}
	for i, day := range in.WorkoutPlan.Exercises {
		routines := make([]model.Routine, 0, len(day.Routines))
		for j, r := range day.Routines {
			field := fmt.Sprintf("workoutPlan.exercises[%d].routines[%d]", i, j)
			if r.Sets < 0 {
				return nil, apperror.ValidationFailed(field+".sets", "sets must not be negative")
			}
			if r.Reps < 0 {
				return nil, apperror.ValidationFailed(field+".reps", "reps must not be negative")
			}
			routines = append(routines, model.Routine{Name: s.clean(r.Name), Sets: r.Sets, Reps: r.Reps})
		}
		workout.Exercises = append(workout.Exercises, model.ExerciseDay{Day: s.clean(day.Day), Routines: routines})
	}

	if in.DietPlan.DailyCalories < 0 {
		return nil, apperror.ValidationFailed("dietPlan.dailyCalories", "daily calories must not be negative")
	}
	diet := model.DietPlan{
		DailyCalories: in.DietPlan.DailyCalories,
		Meals:         make([]model.Meal, 0, len(in.DietPlan.Meals)),
	}
	for _, m := range in.DietPlan.Meals {
		diet.Meals = append(diet.Meals, model.Meal{Name: s.clean(m.Name), Foods: s.cleanAll(m.Foods)})
	}

	return &model.Plan{
		UserID:      userID,
		Name:        name,
		WorkoutPlan: workout,
		DietPlan:    diet,
		IsActive:    in.IsActive,
	}, nil
}

// maxMarkupDepth bounds how many layers of entity encoding clean peels off.
const maxMarkupDepth = 8

// clean strips all markup, including markup hidden behind entity encoding.
// Text that carries no markup is kept verbatim, entities included.
func (s *PlanService) clean(text string) string {
	decoded := html.UnescapeString(text)
	if s.strip(decoded) == decoded {
		return strings.TrimSpace(text)
	}

	out := decoded
	for i := 0; i < maxMarkupDepth; i++ {
		next := s.strip(out)
		if next == out {
			return strings.TrimSpace(out)
		}
		out = next
	}
	// Still changing: return the escaped form, which cannot carry tags.
	return strings.TrimSpace(s.policy.Sanitize(out))
}

// strip removes tags from text. The strict policy escapes the text it keeps,
// so the result is unescaped back to plain text.
func (s *PlanService) strip(text string) string {
	return html.UnescapeString(s.policy.Sanitize(text))
}

func (s *PlanService) cleanAll(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		out = append(out, s.clean(t))
	}
	return out
}
