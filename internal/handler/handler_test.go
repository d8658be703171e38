package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/fitness-coach/internal/auth"
	"github.com/sakif/fitness-coach/internal/handler"
	"github.com/sakif/fitness-coach/internal/metrics"
	sqliteRepo "github.com/sakif/fitness-coach/internal/repository/sqlite"
	"github.com/sakif/fitness-coach/internal/service"
)

const (
	testSecret         = "test-secret-at-least-16-chars!!"
	testIntegrationKey = "voice-platform-key"
)

// fakeGitHub stands in for auth.GitHubProvider so the OAuth flow runs
// without network access.
type fakeGitHub struct {
	user *auth.GitHubUser
	err  error
}

func (f *fakeGitHub) AuthURL(state string) string {
	return "https://github.example/login/oauth/authorize?state=" + state
}

func (f *fakeGitHub) Exchange(context.Context, string) (*auth.GitHubUser, error) {
	return f.user, f.err
}

// testEnv wires real services over an in-memory SQLite database behind the
// same routes the server exposes.
type testEnv struct {
	router   http.Handler
	tokens   *auth.TokenService
	users    *service.UserService
	sessions *service.SessionService
	github   *fakeGitHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	hash, err := auth.HashKey(testIntegrationKey, 4)
	require.NoError(t, err)
	verifier, err := auth.NewKeyVerifier(hash)
	require.NoError(t, err)

	rec := metrics.Nop{}
	users := service.NewUserService(db, tokens, logger)
	sessions := service.NewSessionService(db, rec, logger)
	plans := service.NewPlanService(db, db, rec, logger)

	gh := &fakeGitHub{}
	authH := handler.NewAuthHandler(gh, users, tokens.TTL(), false, logger)
	planH := handler.NewPlanHandler(plans, logger)
	sessionH := handler.NewSessionHandler(sessions, logger)
	integrationH := handler.NewIntegrationHandler(sessions, plans, users, logger)
	healthH := handler.NewHealthHandler(map[string]handler.Pinger{"sqlite": db}, logger)

	r := chi.NewRouter()
	r.Get("/healthz", healthH.HandleHealth)
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(tokens))
		r.Get("/auth/github/login", authH.HandleGitHubLogin)
		r.Get("/auth/github/callback", authH.HandleGitHubCallback)
		r.Post("/auth/logout", authH.HandleLogout)
		r.Get("/api/me", authH.HandleMe)
		r.Get("/api/plans", planH.HandleList)
		r.Get("/api/plans/active", planH.HandleGetActive)
		r.Post("/api/plans", planH.HandleCreate)
		r.Patch("/api/plans/{id}", planH.HandleSetActive)
		r.Delete("/api/plans/{id}", planH.HandleDelete)
		r.Post("/api/voice/sessions", sessionH.HandleOpen)
		r.Delete("/api/voice/sessions", sessionH.HandleDeactivate)
	})
	r.Route("/integrations", func(r chi.Router) {
		r.Use(auth.RequireIntegrationKey(verifier))
		r.Get("/voice/caller", integrationH.HandleResolveCaller)
		r.Post("/voice/plans", integrationH.HandleCreatePlan)
		r.Get("/voice/sessions", integrationH.HandleListSessions)
		r.Post("/voice/sessions/deactivate", integrationH.HandleDeactivate)
		r.Post("/maintenance/sessions/expire", integrationH.HandleExpireSessions)
		r.Post("/identity/events", integrationH.HandleIdentityEvent)
		r.Get("/users/{id}", integrationH.HandleGetUser)
	})

	return &testEnv{router: r, tokens: tokens, users: users, sessions: sessions, github: gh}
}

type requestOption func(*http.Request)

func asUser(env *testEnv, userID string) requestOption {
	return func(r *http.Request) {
		token, err := env.tokens.Generate(userID)
		if err != nil {
			panic(err)
		}
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func withIntegrationKey(r *http.Request) {
	r.Header.Set(auth.IntegrationKeyHeader, testIntegrationKey)
}

func (env *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func (env *testEnv) syncUser(t *testing.T, id string) {
	t.Helper()
	_, err := env.users.SyncUser(context.Background(), service.UserInput{ID: id, Name: id})
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

// Response shapes as seen by API clients.

type planJSON struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	IsActive    bool   `json:"isActive"`
	CreatedAt   int64  `json:"createdAt"`
	WorkoutPlan struct {
		Schedule  []string `json:"schedule"`
		Exercises []struct {
			Day      string `json:"day"`
			Routines []struct {
				Name string  `json:"name"`
				Sets float64 `json:"sets"`
				Reps float64 `json:"reps"`
			} `json:"routines"`
		} `json:"exercises"`
	} `json:"workoutPlan"`
	DietPlan struct {
		DailyCalories float64 `json:"dailyCalories"`
		Meals         []struct {
			Name  string   `json:"name"`
			Foods []string `json:"foods"`
		} `json:"meals"`
	} `json:"dietPlan"`
}

type sessionJSON struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Token     string `json:"token"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
	IsActive  bool   `json:"isActive"`
}

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func planBody(name string, active bool) map[string]any {
	return map[string]any{
		"name":     name,
		"isActive": active,
		"workoutPlan": map[string]any{
			"schedule": []string{"Monday", "Thursday"},
			"exercises": []map[string]any{{
				"day": "Monday",
				"routines": []map[string]any{
					{"name": "Deadlift", "sets": 5, "reps": 5},
				},
			}},
		},
		"dietPlan": map[string]any{
			"dailyCalories": 2400,
			"meals": []map[string]any{
				{"name": "Lunch", "foods": []string{"Rice", "Chicken"}},
			},
		},
	}
}
