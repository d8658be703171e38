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

var _ repository.SessionRepository = (*DB)(nil)

const sessionColumns = `id, user_id, token, created_at, expires_at, is_active`

// ReplaceSession deletes every session row of session.UserID, whatever its
// active flag, then inserts session. Both statements run in one transaction
// so a reader never observes the user with zero or two rows.
func (db *DB) ReplaceSession(ctx context.Context, session *model.VoiceSession) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning session transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM voice_sessions WHERE user_id = ?`,
		session.UserID,
	); err != nil {
		return fmt.Errorf("sqlite: clearing sessions for user %s: %w", session.UserID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO voice_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.Token,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
		boolToInt(session.Active),
	); err != nil {
		return fmt.Errorf("sqlite: inserting session for user %s: %w", session.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing session: %w", err)
	}
	return nil
}

// LatestLiveSession returns the newest active, unexpired session across all
// users. Ties on created_at are broken by id, which xid makes time-ordered.
func (db *DB) LatestLiveSession(ctx context.Context, now time.Time) (*model.VoiceSession, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM voice_sessions
		 WHERE is_active = 1 AND expires_at > ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		toMillis(now),
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("voice session", "latest")
		}
		return nil, fmt.Errorf("sqlite: finding latest live session: %w", err)
	}
	return s, nil
}

func (db *DB) LiveSessionByToken(ctx context.Context, token string, now time.Time) (*model.VoiceSession, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM voice_sessions
		 WHERE token = ? AND is_active = 1 AND expires_at > ?`,
		token,
		toMillis(now),
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("voice session", "token")
		}
		return nil, fmt.Errorf("sqlite: finding session by token: %w", err)
	}
	return s, nil
}

func (db *DB) ListLiveSessions(ctx context.Context, now time.Time) ([]model.VoiceSession, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM voice_sessions
		 WHERE is_active = 1 AND expires_at > ?
		 ORDER BY created_at DESC, id DESC`,
		toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing live sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.VoiceSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning session row: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpiredSessions removes rows whose expiry is strictly before now.
func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM voice_sessions WHERE expires_at < ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

func (db *DB) DeactivateSessions(ctx context.Context, userID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE voice_sessions SET is_active = 0 WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deactivating sessions for user %s: %w", userID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.VoiceSession, error) {
	var (
		s                    model.VoiceSession
		createdAt, expiresAt int64
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Token, &createdAt, &expiresAt, &s.Active); err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(createdAt)
	s.ExpiresAt = fromMillis(expiresAt)
	return &s, nil
}
