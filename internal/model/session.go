package model

import "time"

// VoiceSession binds a user to an in-progress voice interaction so that the
// voice platform, which calls back without user context, can find out who is
// calling.
//
// At most one session row exists per user: opening a new one deletes the old.
type VoiceSession struct {
	ID        string
	UserID    string
	Token     string // correlation token passed through the call's metadata
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
}

// LiveAt reports whether the session can still identify its caller at now.
func (s *VoiceSession) LiveAt(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}
