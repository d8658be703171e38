// Package repository declares the storage interfaces the services depend on.
// Implementations live in subpackages (sqlite, redisstore).
package repository

import (
	"context"
	"time"

	"github.com/sakif/fitness-coach/internal/model"
)

type UserRepository interface {
	// CreateUserIfMissing inserts the user unless a row with the same ID
	// exists. It reports whether a row was inserted.
	CreateUserIfMissing(ctx context.Context, user *model.User) (bool, error)
	// UpsertUser inserts the user or refreshes name, email and image.
	UpsertUser(ctx context.Context, user *model.User) error
	// GetUserByID returns apperror.ErrNotFound when no row exists.
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// SessionRepository stores voice sessions. Every method is safe to call
// concurrently with the others.
type SessionRepository interface {
	// ReplaceSession deletes every session of session.UserID and inserts
	// session, as one atomic step.
	ReplaceSession(ctx context.Context, session *model.VoiceSession) error
	// LatestLiveSession returns the most recently created session that is
	// active and expires after now, or apperror.ErrNotFound.
	LatestLiveSession(ctx context.Context, now time.Time) (*model.VoiceSession, error)
	// LiveSessionByToken returns the active, unexpired session carrying
	// token, or apperror.ErrNotFound.
	LiveSessionByToken(ctx context.Context, token string, now time.Time) (*model.VoiceSession, error)
	// ListLiveSessions returns all active, unexpired sessions, newest first.
	ListLiveSessions(ctx context.Context, now time.Time) ([]model.VoiceSession, error)
	// DeleteExpiredSessions removes sessions whose expiry is before now,
	// active or not, and returns how many were removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	// DeactivateSessions clears the active flag on every session of userID
	// and returns how many rows matched.
	DeactivateSessions(ctx context.Context, userID string) (int64, error)
}

// PlanStore holds the single-step plan operations. Multi-step sequences run
// through PlanRepository.WithinTx so they see and write a consistent state.
type PlanStore interface {
	CreatePlan(ctx context.Context, plan *model.Plan) error
	// GetPlanByID returns apperror.ErrNotFound when no row exists.
	GetPlanByID(ctx context.Context, id string) (*model.Plan, error)
	// ListPlansByUser returns the user's plans, newest first.
	ListPlansByUser(ctx context.Context, userID string) ([]model.Plan, error)
	// ListActivePlansByUser returns the user's plans with IsActive set.
	ListActivePlansByUser(ctx context.Context, userID string) ([]model.Plan, error)
	// SetPlanActive returns apperror.ErrNotFound when no row exists.
	SetPlanActive(ctx context.Context, id string, active bool) error
	// DeletePlan returns apperror.ErrNotFound when no row exists.
	DeletePlan(ctx context.Context, id string) error
}

type PlanRepository interface {
	PlanStore
	// WithinTx runs fn against a transactional view of the store. The
	// transaction commits if fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx PlanStore) error) error
}
