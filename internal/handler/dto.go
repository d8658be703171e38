package handler

import (
	"time"

	"github.com/sakif/fitness-coach/internal/model"
)

// Wire shapes. Timestamps go out as milliseconds since the Unix epoch.

type planResponse struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Name        string            `json:"name"`
	WorkoutPlan model.WorkoutPlan `json:"workoutPlan"`
	DietPlan    model.DietPlan    `json:"dietPlan"`
	IsActive    bool              `json:"isActive"`
	CreatedAt   int64             `json:"createdAt"`
}

func toPlanResponse(p *model.Plan) *planResponse {
	if p == nil {
		return nil
	}
	return &planResponse{
		ID:          p.ID,
		UserID:      p.UserID,
		Name:        p.Name,
		WorkoutPlan: p.WorkoutPlan,
		DietPlan:    p.DietPlan,
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt.UnixMilli(),
	}
}

func toPlanResponses(plans []model.Plan) []planResponse {
	out := make([]planResponse, 0, len(plans))
	for i := range plans {
		out = append(out, *toPlanResponse(&plans[i]))
	}
	return out
}

type sessionResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Token     string `json:"token"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
	IsActive  bool   `json:"isActive"`
}

func toSessionResponse(s *model.VoiceSession) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		UserID:    s.UserID,
		Token:     s.Token,
		CreatedAt: s.CreatedAt.UnixMilli(),
		ExpiresAt: s.ExpiresAt.UnixMilli(),
		IsActive:  s.Active,
	}
}

type userResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	ImageURL  string `json:"imageUrl,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		ImageURL:  u.ImageURL,
		CreatedAt: u.CreatedAt.UnixMilli(),
		UpdatedAt: u.UpdatedAt.UnixMilli(),
	}
}

// millisToTime converts an optional ms epoch; zero means "not given".
func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
