package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/model"
	"github.com/sakif/fitness-coach/internal/repository"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written in-memory implementations of the repository interfaces. They
// keep service tests free of any storage and let a test inject failures.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- users ---------------------------------------------------------------

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]model.User
	getErr error
	putErr error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo(ids ...string) *fakeUserRepo {
	f := &fakeUserRepo{users: make(map[string]model.User)}
	for _, id := range ids {
		f.users[id] = model.User{ID: id, Name: id}
	}
	return f
}

func (f *fakeUserRepo) CreateUserIfMissing(_ context.Context, user *model.User) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return false, f.putErr
	}
	if _, ok := f.users[user.ID]; ok {
		return false, nil
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = *user
	return true, nil
}

func (f *fakeUserRepo) UpsertUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	now := time.Now()
	if existing, ok := f.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	f.users[user.ID] = *user
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &u, nil
}

// --- sessions ------------------------------------------------------------

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions []model.VoiceSession
	err      error
}

var _ repository.SessionRepository = (*fakeSessionRepo)(nil)

func (f *fakeSessionRepo) ReplaceSession(_ context.Context, session *model.VoiceSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	kept := f.sessions[:0]
	for _, s := range f.sessions {
		if s.UserID != session.UserID {
			kept = append(kept, s)
		}
	}
	f.sessions = append(kept, *session)
	return nil
}

func (f *fakeSessionRepo) live(now time.Time) []model.VoiceSession {
	out := []model.VoiceSession{}
	for _, s := range f.sessions {
		if s.LiveAt(now) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (f *fakeSessionRepo) LatestLiveSession(_ context.Context, now time.Time) (*model.VoiceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	live := f.live(now)
	if len(live) == 0 {
		return nil, apperror.NotFound("voice session", "latest")
	}
	return &live[0], nil
}

func (f *fakeSessionRepo) LiveSessionByToken(_ context.Context, token string, now time.Time) (*model.VoiceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.live(now) {
		if s.Token == token {
			return &s, nil
		}
	}
	return nil, apperror.NotFound("voice session", "token")
}

func (f *fakeSessionRepo) ListLiveSessions(_ context.Context, now time.Time) ([]model.VoiceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.live(now), nil
}

func (f *fakeSessionRepo) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var removed int64
	kept := f.sessions[:0]
	for _, s := range f.sessions {
		if s.ExpiresAt.Before(now) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	f.sessions = kept
	return removed, nil
}

func (f *fakeSessionRepo) DeactivateSessions(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for i := range f.sessions {
		if f.sessions[i].UserID == userID {
			f.sessions[i].Active = false
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// --- plans ---------------------------------------------------------------

// planState is the data behind fakePlanRepo. WithinTx hands fn a copy and
// keeps it only if fn succeeds.
type planState struct {
	plans     map[string]model.Plan
	seq       int
	failWrite error // returned by the next SetPlanActive/CreatePlan
}

func (s *planState) clone() *planState {
	c := &planState{plans: make(map[string]model.Plan, len(s.plans)), seq: s.seq, failWrite: s.failWrite}
	for id, p := range s.plans {
		c.plans[id] = p
	}
	return c
}

func (s *planState) CreatePlan(_ context.Context, plan *model.Plan) error {
	if s.failWrite != nil {
		return s.failWrite
	}
	s.seq++
	plan.ID = fmt.Sprintf("plan-%03d", s.seq)
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.UnixMilli(int64(s.seq))
	}
	s.plans[plan.ID] = *plan
	return nil
}

func (s *planState) GetPlanByID(_ context.Context, id string) (*model.Plan, error) {
	p, ok := s.plans[id]
	if !ok {
		return nil, apperror.NotFound("plan", id)
	}
	return &p, nil
}

func (s *planState) list(userID string, activeOnly bool) []model.Plan {
	out := []model.Plan{}
	for _, p := range s.plans {
		if p.UserID == userID && (!activeOnly || p.IsActive) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *planState) ListPlansByUser(_ context.Context, userID string) ([]model.Plan, error) {
	return s.list(userID, false), nil
}

func (s *planState) ListActivePlansByUser(_ context.Context, userID string) ([]model.Plan, error) {
	return s.list(userID, true), nil
}

func (s *planState) SetPlanActive(_ context.Context, id string, active bool) error {
	if s.failWrite != nil {
		return s.failWrite
	}
	p, ok := s.plans[id]
	if !ok {
		return apperror.NotFound("plan", id)
	}
	p.IsActive = active
	s.plans[id] = p
	return nil
}

func (s *planState) DeletePlan(_ context.Context, id string) error {
	if _, ok := s.plans[id]; !ok {
		return apperror.NotFound("plan", id)
	}
	delete(s.plans, id)
	return nil
}

type fakePlanRepo struct {
	mu    sync.Mutex
	state *planState
}

var _ repository.PlanRepository = (*fakePlanRepo)(nil)

func newFakePlanRepo() *fakePlanRepo {
	return &fakePlanRepo{state: &planState{plans: make(map[string]model.Plan)}}
}

func (f *fakePlanRepo) CreatePlan(ctx context.Context, plan *model.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.CreatePlan(ctx, plan)
}

func (f *fakePlanRepo) GetPlanByID(ctx context.Context, id string) (*model.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.GetPlanByID(ctx, id)
}

func (f *fakePlanRepo) ListPlansByUser(ctx context.Context, userID string) ([]model.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.ListPlansByUser(ctx, userID)
}

func (f *fakePlanRepo) ListActivePlansByUser(ctx context.Context, userID string) ([]model.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.ListActivePlansByUser(ctx, userID)
}

func (f *fakePlanRepo) SetPlanActive(ctx context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.SetPlanActive(ctx, id, active)
}

func (f *fakePlanRepo) DeletePlan(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.DeletePlan(ctx, id)
}

func (f *fakePlanRepo) WithinTx(_ context.Context, fn func(tx repository.PlanStore) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	work := f.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	f.state = work
	return nil
}

// seed stores p directly, bypassing the service rules. Tests use it to
// build states the service would never produce, such as two active plans.
func (f *fakePlanRepo) seed(p model.Plan) model.Plan {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.CreatePlan(context.Background(), &p) //nolint:errcheck
	return p
}

func (f *fakePlanRepo) get(id string) (model.Plan, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.state.plans[id]
	return p, ok
}

func (f *fakePlanRepo) activeCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.list(userID, true))
}
