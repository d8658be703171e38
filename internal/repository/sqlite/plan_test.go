package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/model"
	"github.com/sakif/fitness-coach/internal/repository"
)

func newTestPlan(userID, name string, active bool, createdAt time.Time) *model.Plan {
	return &model.Plan{
		UserID:   userID,
		Name:     name,
		IsActive: active,
		WorkoutPlan: model.WorkoutPlan{
			Schedule: []string{"Monday", "Thursday"},
			Exercises: []model.ExerciseDay{{
				Day:      "Monday",
				Routines: []model.Routine{{Name: "Squat", Sets: 5, Reps: 5}},
			}},
		},
		DietPlan: model.DietPlan{
			DailyCalories: 2200,
			Meals:         []model.Meal{{Name: "Breakfast", Foods: []string{"Oats", "Eggs"}}},
		},
		CreatedAt: createdAt,
	}
}

func createPlan(t *testing.T, db *DB, p *model.Plan) *model.Plan {
	t.Helper()
	if err := db.CreatePlan(context.Background(), p); err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	return p
}

// =========================================================================
// CreatePlan / GetPlanByID TESTS
// =========================================================================

func TestCreatePlan_RoundTripsBodies(t *testing.T) {
	db := newTestDB(t)

	p := createPlan(t, db, newTestPlan("u1", "Strength", true, sessionEpoch))
	if p.ID == "" {
		t.Fatal("CreatePlan() did not assign an ID")
	}

	found, err := db.GetPlanByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPlanByID() error = %v", err)
	}
	if found.Name != "Strength" || !found.IsActive || found.UserID != "u1" {
		t.Errorf("stored plan = %+v", found)
	}
	if got := found.WorkoutPlan.Exercises[0].Routines[0]; got.Name != "Squat" || got.Sets != 5 || got.Reps != 5 {
		t.Errorf("routine = %+v", got)
	}
	if found.DietPlan.DailyCalories != 2200 || found.DietPlan.Meals[0].Foods[1] != "Eggs" {
		t.Errorf("diet plan = %+v", found.DietPlan)
	}
	if !found.CreatedAt.Equal(sessionEpoch) {
		t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, sessionEpoch)
	}
}

func TestCreatePlan_DefaultsCreatedAt(t *testing.T) {
	db := newTestDB(t)

	p := createPlan(t, db, newTestPlan("u1", "Plan", false, time.Time{}))
	if p.CreatedAt.IsZero() {
		t.Error("CreatePlan() left CreatedAt zero")
	}
}

func TestGetPlanByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetPlanByID(context.Background(), "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetPlanByID() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// LIST TESTS
// =========================================================================

func TestListPlansByUser_NewestFirst(t *testing.T) {
	db := newTestDB(t)

	older := createPlan(t, db, newTestPlan("u1", "Older", false, sessionEpoch))
	newer := createPlan(t, db, newTestPlan("u1", "Newer", true, sessionEpoch.Add(time.Hour)))
	createPlan(t, db, newTestPlan("u2", "Other", true, sessionEpoch))

	plans, err := db.ListPlansByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListPlansByUser() error = %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("len(plans) = %d, want 2", len(plans))
	}
	if plans[0].ID != newer.ID || plans[1].ID != older.ID {
		t.Errorf("order = [%s %s], want [%s %s]", plans[0].Name, plans[1].Name, "Newer", "Older")
	}
}

func TestListPlansByUser_EmptyIsNotNil(t *testing.T) {
	db := newTestDB(t)

	plans, err := db.ListPlansByUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ListPlansByUser() error = %v", err)
	}
	if plans == nil || len(plans) != 0 {
		t.Errorf("ListPlansByUser() = %#v, want empty non-nil slice", plans)
	}
}

func TestListActivePlansByUser(t *testing.T) {
	db := newTestDB(t)

	createPlan(t, db, newTestPlan("u1", "Inactive", false, sessionEpoch))
	active := createPlan(t, db, newTestPlan("u1", "Active", true, sessionEpoch.Add(time.Minute)))

	plans, err := db.ListActivePlansByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListActivePlansByUser() error = %v", err)
	}
	if len(plans) != 1 || plans[0].ID != active.ID {
		t.Errorf("ListActivePlansByUser() = %+v, want only %s", plans, active.ID)
	}
}

// =========================================================================
// SetPlanActive / DeletePlan TESTS
// =========================================================================

func TestSetPlanActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := createPlan(t, db, newTestPlan("u1", "Plan", false, sessionEpoch))
	if err := db.SetPlanActive(ctx, p.ID, true); err != nil {
		t.Fatalf("SetPlanActive() error = %v", err)
	}

	found, _ := db.GetPlanByID(ctx, p.ID)
	if !found.IsActive {
		t.Error("plan not marked active")
	}

	if err := db.SetPlanActive(ctx, "missing", true); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetPlanActive(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDeletePlan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := createPlan(t, db, newTestPlan("u1", "Plan", false, sessionEpoch))
	if err := db.DeletePlan(ctx, p.ID); err != nil {
		t.Fatalf("DeletePlan() error = %v", err)
	}
	if _, err := db.GetPlanByID(ctx, p.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetPlanByID() after delete error = %v, want ErrNotFound", err)
	}
	if err := db.DeletePlan(ctx, p.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second DeletePlan() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// WithinTx TESTS
// =========================================================================

func TestWithinTx_CommitsAllWrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := createPlan(t, db, newTestPlan("u1", "Old", true, sessionEpoch))

	var fresh *model.Plan
	err := db.WithinTx(ctx, func(tx repository.PlanStore) error {
		if err := tx.SetPlanActive(ctx, old.ID, false); err != nil {
			return err
		}
		fresh = newTestPlan("u1", "Fresh", true, sessionEpoch.Add(time.Minute))
		return tx.CreatePlan(ctx, fresh)
	})
	if err != nil {
		t.Fatalf("WithinTx() error = %v", err)
	}

	active, _ := db.ListActivePlansByUser(ctx, "u1")
	if len(active) != 1 || active[0].ID != fresh.ID {
		t.Errorf("active plans = %+v, want only %s", active, fresh.ID)
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := createPlan(t, db, newTestPlan("u1", "Old", true, sessionEpoch))
	boom := errors.New("boom")

	err := db.WithinTx(ctx, func(tx repository.PlanStore) error {
		if err := tx.SetPlanActive(ctx, old.ID, false); err != nil {
			return err
		}
		if err := tx.CreatePlan(ctx, newTestPlan("u1", "Lost", true, sessionEpoch.Add(time.Minute))); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want %v", err, boom)
	}

	plans, _ := db.ListPlansByUser(ctx, "u1")
	if len(plans) != 1 {
		t.Fatalf("len(plans) = %d, want 1 after rollback", len(plans))
	}
	if !plans[0].IsActive {
		t.Error("deactivation was not rolled back")
	}
}

func TestWithinTx_ReadsSeeOwnWrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithinTx(ctx, func(tx repository.PlanStore) error {
		if err := tx.CreatePlan(ctx, newTestPlan("u1", "A", true, sessionEpoch)); err != nil {
			return err
		}
		active, err := tx.ListActivePlansByUser(ctx, "u1")
		if err != nil {
			return err
		}
		if len(active) != 1 {
			t.Errorf("in-tx active plans = %d, want 1", len(active))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx() error = %v", err)
	}
}
