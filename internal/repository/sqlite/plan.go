package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/model"
	"github.com/sakif/fitness-coach/internal/repository"
)

var (
	_ repository.PlanRepository = (*DB)(nil)
	_ repository.PlanStore      = planStore{}
)

const planColumns = `id, user_id, name, workout_plan, diet_plan, is_active, created_at`

// planStore runs the plan statements against either the pool or an open
// transaction.
type planStore struct {
	q queryer
}

func (db *DB) CreatePlan(ctx context.Context, plan *model.Plan) error {
	return planStore{q: db.conn}.CreatePlan(ctx, plan)
}

func (db *DB) GetPlanByID(ctx context.Context, id string) (*model.Plan, error) {
	return planStore{q: db.conn}.GetPlanByID(ctx, id)
}

func (db *DB) ListPlansByUser(ctx context.Context, userID string) ([]model.Plan, error) {
	return planStore{q: db.conn}.ListPlansByUser(ctx, userID)
}

func (db *DB) ListActivePlansByUser(ctx context.Context, userID string) ([]model.Plan, error) {
	return planStore{q: db.conn}.ListActivePlansByUser(ctx, userID)
}

func (db *DB) SetPlanActive(ctx context.Context, id string, active bool) error {
	return planStore{q: db.conn}.SetPlanActive(ctx, id, active)
}

func (db *DB) DeletePlan(ctx context.Context, id string) error {
	return planStore{q: db.conn}.DeletePlan(ctx, id)
}

// WithinTx runs fn inside a single SQLite transaction. Because the pool holds
// one connection, no other statement interleaves with fn's reads and writes.
func (db *DB) WithinTx(ctx context.Context, fn func(tx repository.PlanStore) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	if err := fn(planStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("sqlite: rolling back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// CreatePlan assigns an ID and creation time, then inserts the plan. The
// workout and diet bodies are stored as JSON documents.
func (s planStore) CreatePlan(ctx context.Context, plan *model.Plan) error {
	plan.ID = xid.New().String()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}

	workout, err := json.Marshal(plan.WorkoutPlan)
	if err != nil {
		return fmt.Errorf("sqlite: encoding workout plan: %w", err)
	}
	diet, err := json.Marshal(plan.DietPlan)
	if err != nil {
		return fmt.Errorf("sqlite: encoding diet plan: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO plans (`+planColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.UserID,
		plan.Name,
		string(workout),
		string(diet),
		boolToInt(plan.IsActive),
		toMillis(plan.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating plan: %w", err)
	}
	return nil
}

func (s planStore) GetPlanByID(ctx context.Context, id string) (*model.Plan, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ?`,
		id,
	)

	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("plan", id)
		}
		return nil, fmt.Errorf("sqlite: getting plan %s: %w", id, err)
	}
	return plan, nil
}

// ListPlansByUser returns the user's plans newest first.
func (s planStore) ListPlansByUser(ctx context.Context, userID string) ([]model.Plan, error) {
	return s.listPlans(ctx,
		`SELECT `+planColumns+`
		 FROM plans
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
}

func (s planStore) ListActivePlansByUser(ctx context.Context, userID string) ([]model.Plan, error) {
	return s.listPlans(ctx,
		`SELECT `+planColumns+`
		 FROM plans
		 WHERE user_id = ? AND is_active = 1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
}

func (s planStore) SetPlanActive(ctx context.Context, id string, active bool) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE plans SET is_active = ? WHERE id = ?`,
		boolToInt(active),
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating plan %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("plan", id)
	}
	return nil
}

func (s planStore) DeletePlan(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx,
		`DELETE FROM plans WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting plan %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("plan", id)
	}
	return nil
}

func (s planStore) listPlans(ctx context.Context, query string, args ...any) ([]model.Plan, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing plans: %w", err)
	}
	defer rows.Close()

	plans := []model.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning plan row: %w", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating plans: %w", err)
	}
	return plans, nil
}

func scanPlan(row rowScanner) (*model.Plan, error) {
	var (
		p             model.Plan
		workout, diet string
		createdAt     int64
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &workout, &diet, &p.IsActive, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(workout), &p.WorkoutPlan); err != nil {
		return nil, fmt.Errorf("decoding workout plan of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(diet), &p.DietPlan); err != nil {
		return nil, fmt.Errorf("decoding diet plan of %s: %w", p.ID, err)
	}
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}
