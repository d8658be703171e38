package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/metrics"
	"github.com/sakif/fitness-coach/internal/model"
	"github.com/sakif/fitness-coach/internal/repository"
)

// SessionLifetime is how long a voice session can identify its caller.
// Expiry is absolute from creation, not sliding.
const SessionLifetime = 10 * time.Minute

// SessionService is the voice session registry. It lets the voice platform,
// which calls back without any user context, find out who is calling.
type SessionService struct {
	repo    repository.SessionRepository
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

func NewSessionService(repo repository.SessionRepository, rec metrics.Recorder, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:    repo,
		metrics: rec,
		logger:  logger,
		now:     time.Now,
	}
}

// Open starts a new voice session for userID created at timestamp (zero
// means now), replacing whatever sessions the user had. Handles issued for
// earlier sessions stop resolving immediately.
func (s *SessionService) Open(ctx context.Context, userID string, timestamp time.Time) (*model.VoiceSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "user id is required")
	}
	if timestamp.IsZero() {
		timestamp = s.now()
	}

	session := &model.VoiceSession{
		ID:        xid.New().String(),
		UserID:    userID,
		Token:     uuid.NewString(),
		CreatedAt: timestamp,
		ExpiresAt: timestamp.Add(SessionLifetime),
		Active:    true,
	}

	if err := s.repo.ReplaceSession(ctx, session); err != nil {
		s.logger.Error("failed to open voice session",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/session: opening session: %w", err)
	}

	s.metrics.RecordSessionOpened()
	s.logger.Info("voice session opened",
		slog.String("sessionID", session.ID),
		slog.String("userID", userID),
		slog.Time("expiresAt", session.ExpiresAt),
	)
	return session, nil
}

// ResolveActiveCaller returns the user of the most recently opened live
// session anywhere in the system, or "" when there is none.
//
// The lookup is global: it is only correct while at most one voice call is
// in flight. Callers that have a correlation token use ResolveCallerByToken.
func (s *SessionService) ResolveActiveCaller(ctx context.Context) (string, error) {
	session, err := s.repo.LatestLiveSession(ctx, s.now())
	if err != nil {
		if apperror.IsNotFound(err) {
			s.metrics.RecordCallerResolution(metrics.ResolveByLatest, false)
			return "", nil
		}
		return "", fmt.Errorf("service/session: resolving active caller: %w", err)
	}

	s.metrics.RecordCallerResolution(metrics.ResolveByLatest, true)
	return session.UserID, nil
}

// ResolveCallerByToken returns the user of the live session carrying token,
// or "" when the token is unknown, expired or deactivated. It never falls
// back to the global lookup.
func (s *SessionService) ResolveCallerByToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil
	}

	session, err := s.repo.LiveSessionByToken(ctx, token, s.now())
	if err != nil {
		if apperror.IsNotFound(err) {
			s.metrics.RecordCallerResolution(metrics.ResolveByToken, false)
			return "", nil
		}
		return "", fmt.Errorf("service/session: resolving caller by token: %w", err)
	}

	s.metrics.RecordCallerResolution(metrics.ResolveByToken, true)
	return session.UserID, nil
}

// ListActive returns every live session, newest first.
func (s *SessionService) ListActive(ctx context.Context) ([]model.VoiceSession, error) {
	sessions, err := s.repo.ListLiveSessions(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("service/session: listing sessions: %w", err)
	}
	return sessions, nil
}

// ExpireStale deletes every session whose expiry has passed, active or not,
// and returns how many were removed.
func (s *SessionService) ExpireStale(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("service/session: expiring sessions: %w", err)
	}

	s.metrics.RecordSessionsExpired(removed)
	if removed > 0 {
		s.logger.Info("expired voice sessions removed", slog.Int64("count", removed))
	}
	return removed, nil
}

// Deactivate clears the active flag on the user's sessions. Calling it again,
// or for a user without sessions, is harmless.
func (s *SessionService) Deactivate(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperror.ValidationFailed("userId", "user id is required")
	}

	n, err := s.repo.DeactivateSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("service/session: deactivating sessions: %w", err)
	}

	s.logger.Info("voice sessions deactivated",
		slog.String("userID", userID),
		slog.Int64("count", n),
	)
	return n, nil
}
