package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/model"
	"github.com/sakif/fitness-coach/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// CreateUserIfMissing inserts the user only when no row with the same ID
// exists. An existing row is left untouched and user is not modified.
//
// INSERT ... ON CONFLICT DO NOTHING makes this a single statement, so two
// concurrent sign-up events for the same identity cannot both insert.
func (db *DB) CreateUserIfMissing(ctx context.Context, user *model.User) (bool, error) {
	now := time.Now()

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email, image_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		user.ID,
		user.Name,
		user.Email,
		user.ImageURL,
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: inserting user %s: %w", user.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	user.CreatedAt = fromMillis(toMillis(now))
	user.UpdatedAt = user.CreatedAt
	return true, nil
}

// UpsertUser inserts the user or, when the ID exists, refreshes the profile
// fields. After the call user carries the stored timestamps.
func (db *DB) UpsertUser(ctx context.Context, user *model.User) error {
	now := toMillis(time.Now())

	var createdAt, updatedAt int64
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO users (id, name, email, image_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     name = excluded.name,
		     email = excluded.email,
		     image_url = excluded.image_url,
		     updated_at = excluded.updated_at
		 RETURNING created_at, updated_at`,
		user.ID,
		user.Name,
		user.Email,
		user.ImageURL,
		now,
		now,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upserting user %s: %w", user.ID, err)
	}

	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return nil
}

// GetUserByID retrieves a user by external identity id.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var (
		u                    model.User
		createdAt, updatedAt int64
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, email, image_url, created_at, updated_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.ImageURL,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}

	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}
