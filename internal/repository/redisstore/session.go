// Package redisstore keeps voice sessions in Redis, for deployments where
// several API instances share one session registry.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakif/fitness-coach/internal/apperror"
	"github.com/sakif/fitness-coach/internal/model"
	"github.com/sakif/fitness-coach/internal/repository"
)

var _ repository.SessionRepository = (*SessionStore)(nil)

// Key layout:
//
//	voice:session:{id}   hash with the session fields
//	voice:user:{uid}     id of the user's only session
//	voice:token:{token}  id of the session carrying token
//	voice:by_created     zset of ids scored by created_at (ms)
//	voice:by_expiry      zset of ids scored by expires_at (ms)
const (
	keyByCreated = "voice:by_created"
	keyByExpiry  = "voice:by_expiry"
)

func sessionKey(id string) string  { return "voice:session:" + id }
func userKey(userID string) string { return "voice:user:" + userID }
func tokenKey(token string) string { return "voice:token:" + token }

// maxWatchRetries bounds optimistic-lock retries when two writers race on
// the same user.
const maxWatchRetries = 16

type SessionStore struct {
	client *redis.Client
}

// NewClient builds a go-redis client for addr.
func NewClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Ping checks the connection, for health checks.
func (s *SessionStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) Close() error {
	return s.client.Close()
}

// ReplaceSession swaps the user's session for session inside a WATCH/MULTI
// block on the user's key. A concurrent writer for the same user aborts the
// transaction and it is retried.
func (s *SessionStore) ReplaceSession(ctx context.Context, session *model.VoiceSession) error {
	uKey := userKey(session.UserID)

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			oldID, err := tx.Get(ctx, uKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			var oldToken string
			if oldID != "" {
				oldToken, err = tx.HGet(ctx, sessionKey(oldID), "token").Result()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if oldID != "" {
					pipe.Del(ctx, sessionKey(oldID))
					pipe.ZRem(ctx, keyByCreated, oldID)
					pipe.ZRem(ctx, keyByExpiry, oldID)
				}
				if oldToken != "" {
					pipe.Del(ctx, tokenKey(oldToken))
				}
				pipe.HSet(ctx, sessionKey(session.ID), encodeSession(session))
				pipe.Set(ctx, uKey, session.ID, 0)
				pipe.Set(ctx, tokenKey(session.Token), session.ID, 0)
				pipe.ZAdd(ctx, keyByCreated, redis.Z{Score: float64(session.CreatedAt.UnixMilli()), Member: session.ID})
				pipe.ZAdd(ctx, keyByExpiry, redis.Z{Score: float64(session.ExpiresAt.UnixMilli()), Member: session.ID})
				return nil
			})
			return err
		}, uKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis: replacing session for user %s: %w", session.UserID, err)
		}
		return nil
	}
	return fmt.Errorf("redis: replacing session for user %s: %w", session.UserID, redis.TxFailedErr)
}

// LatestLiveSession walks sessions newest first and returns the first live
// one. Members sharing a score come back in reverse id order, which matches
// the SQL store's tie-break.
func (s *SessionStore) LatestLiveSession(ctx context.Context, now time.Time) (*model.VoiceSession, error) {
	sessions, err := s.liveSessions(ctx, now, 1)
	if err != nil {
		return nil, fmt.Errorf("redis: finding latest live session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, apperror.NotFound("voice session", "latest")
	}
	return &sessions[0], nil
}

func (s *SessionStore) LiveSessionByToken(ctx context.Context, token string, now time.Time) (*model.VoiceSession, error) {
	id, err := s.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.NotFound("voice session", "token")
	}
	if err != nil {
		return nil, fmt.Errorf("redis: finding session by token: %w", err)
	}

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("redis: finding session by token: %w", err)
	}
	if session == nil || !session.LiveAt(now) {
		return nil, apperror.NotFound("voice session", "token")
	}
	return session, nil
}

func (s *SessionStore) ListLiveSessions(ctx context.Context, now time.Time) ([]model.VoiceSession, error) {
	sessions, err := s.liveSessions(ctx, now, 0)
	if err != nil {
		return nil, fmt.Errorf("redis: listing live sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpiredSessions removes every session whose expiry score is strictly
// below now. Each removal runs under WATCH on the owning user's key so it
// cannot clobber a replacement written in between.
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, keyByExpiry, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: scanning expired sessions: %w", err)
	}

	var removed int64
	for _, id := range ids {
		ok, err := s.deleteSession(ctx, id)
		if err != nil {
			return removed, fmt.Errorf("redis: deleting session %s: %w", id, err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *SessionStore) DeactivateSessions(ctx context.Context, userID string) (int64, error) {
	uKey := userKey(userID)

	for i := 0; i < maxWatchRetries; i++ {
		var matched int64
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			id, err := tx.Get(ctx, uKey).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := tx.Watch(ctx, sessionKey(id)).Err(); err != nil {
				return err
			}
			exists, err := tx.Exists(ctx, sessionKey(id)).Result()
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if exists == 0 {
					// The hash is gone, so the user key points nowhere.
					pipe.Del(ctx, uKey)
					pipe.ZRem(ctx, keyByCreated, id)
					pipe.ZRem(ctx, keyByExpiry, id)
					return nil
				}
				pipe.HSet(ctx, sessionKey(id), "active", "0")
				return nil
			})
			if err == nil && exists > 0 {
				matched = 1
			}
			return err
		}, uKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("redis: deactivating sessions for user %s: %w", userID, err)
		}
		return matched, nil
	}
	return 0, fmt.Errorf("redis: deactivating sessions for user %s: %w", userID, redis.TxFailedErr)
}

// liveSessions returns live sessions newest first, stopping after limit
// matches when limit > 0.
func (s *SessionStore) liveSessions(ctx context.Context, now time.Time, limit int) ([]model.VoiceSession, error) {
	ids, err := s.client.ZRevRange(ctx, keyByCreated, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	sessions := []model.VoiceSession{}
	for _, id := range ids {
		session, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if session == nil || !session.LiveAt(now) {
			continue
		}
		sessions = append(sessions, *session)
		if limit > 0 && len(sessions) == limit {
			break
		}
	}
	return sessions, nil
}

// deleteSession removes one session and its index entries. It reports false
// when the session was already gone.
func (s *SessionStore) deleteSession(ctx context.Context, id string) (bool, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, err
	}
	if len(fields) == 0 {
		// Dangling index entry left by an interrupted writer.
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, keyByCreated, id)
			pipe.ZRem(ctx, keyByExpiry, id)
			return nil
		})
		return false, err
	}
	uKey := userKey(fields["user_id"])

	for i := 0; i < maxWatchRetries; i++ {
		var deleted bool
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, uKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if current == id {
					pipe.Del(ctx, uKey)
				}
				pipe.Del(ctx, tokenKey(fields["token"]))
				pipe.Del(ctx, sessionKey(id))
				pipe.ZRem(ctx, keyByCreated, id)
				pipe.ZRem(ctx, keyByExpiry, id)
				return nil
			})
			if err == nil {
				deleted = true
			}
			return err
		}, uKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return deleted, err
	}
	return false, redis.TxFailedErr
}

// load returns nil, nil when the session hash no longer exists.
func (s *SessionStore) load(ctx context.Context, id string) (*model.VoiceSession, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeSession(id, fields)
}

func encodeSession(session *model.VoiceSession) map[string]any {
	active := "0"
	if session.Active {
		active = "1"
	}
	return map[string]any{
		"user_id":    session.UserID,
		"token":      session.Token,
		"created_at": session.CreatedAt.UnixMilli(),
		"expires_at": session.ExpiresAt.UnixMilli(),
		"active":     active,
	}
}

func decodeSession(id string, fields map[string]string) (*model.VoiceSession, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding created_at of session %s: %w", id, err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding expires_at of session %s: %w", id, err)
	}
	return &model.VoiceSession{
		ID:        id,
		UserID:    fields["user_id"],
		Token:     fields["token"],
		CreatedAt: time.UnixMilli(createdAt),
		ExpiresAt: time.UnixMilli(expiresAt),
		Active:    fields["active"] == "1",
	}, nil
}
