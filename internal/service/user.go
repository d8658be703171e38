// Package service holds the business rules of the fitness coach backend.
//
//	Handler (HTTP)  → parses requests, writes responses
//	Service         → validates, enforces ownership and the active-plan rule
//	Repository      → reads/writes storage
//
// Services never see HTTP types. The caller's identity arrives as a plain
// string where "" means "no identity"; each operation decides whether that
// is an error or an empty result.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/auth"
	"github.com/sakif/fitness-coach/internal/model"
	"github.com/sakif/fitness-coach/internal/repository"
)

// Identity event types accepted from the identity provider's webhook.
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
)

// UserInput is a profile snapshot taken from the identity provider.
type UserInput struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	ImageURL string `json:"imageUrl"`
}

// IdentityEvent is one webhook delivery from the identity provider.
type IdentityEvent struct {
	Type string    `json:"type"`
	Data UserInput `json:"data"`
}

// UserService keeps local user records in step with the identity provider
// and handles the GitHub login flow.
type UserService struct {
	users  repository.UserRepository
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, tokens *auth.TokenService, logger *slog.Logger) *UserService {
	return &UserService{
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

// AuthResult bundles the user record and the issued JWT so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// LoginGitHub records the GitHub identity (create on first login, refresh
// the profile afterwards) and issues an access token for it.
func (s *UserService) LoginGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/user: GitHub user must not be nil")
	}

	user, err := s.UpdateUser(ctx, UserInput{
		ID:       ghUser.ExternalID(),
		Name:     ghUser.DisplayName(),
		Email:    ghUser.Email,
		ImageURL: ghUser.AvatarURL,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", ghUser.Login),
	)

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/user: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: token}, nil
}

// FindUser returns the synchronized user record for id. It returns
// (nil, nil) when id is empty or nothing has been synchronized yet.
func (s *UserService) FindUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, nil
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("service/user: fetching user %s: %w", id, err)
	}
	return user, nil
}

// SyncUser creates the user if no record exists and leaves an existing
// record untouched. It reports whether a record was created.
func (s *UserService) SyncUser(ctx context.Context, in UserInput) (bool, error) {
	user, err := buildUser(in)
	if err != nil {
		return false, err
	}

	created, err := s.users.CreateUserIfMissing(ctx, user)
	if err != nil {
		return false, fmt.Errorf("service/user: syncing user %s: %w", user.ID, err)
	}
	if created {
		s.logger.Info("user synced", slog.String("userID", user.ID))
	}
	return created, nil
}

// UpdateUser refreshes name, email and image of the user, creating the
// record if it does not exist yet.
func (s *UserService) UpdateUser(ctx context.Context, in UserInput) (*model.User, error) {
	user, err := buildUser(in)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/user: updating user %s: %w", user.ID, err)
	}
	return user, nil
}

// HandleIdentityEvent applies one identity provider event.
func (s *UserService) HandleIdentityEvent(ctx context.Context, ev IdentityEvent) error {
	switch ev.Type {
	case EventUserCreated:
		_, err := s.SyncUser(ctx, ev.Data)
		return err
	case EventUserUpdated:
		_, err := s.UpdateUser(ctx, ev.Data)
		return err
	default:
		return apperror.ValidationFailed("type", fmt.Sprintf("unsupported identity event type %q", ev.Type))
	}
}

func buildUser(in UserInput) (*model.User, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user id is required")
	}
	return &model.User{
		ID:       id,
		Name:     strings.TrimSpace(in.Name),
		Email:    strings.TrimSpace(in.Email),
		ImageURL: strings.TrimSpace(in.ImageURL),
	}, nil
}
