// Package request implements the per-user request session: opening a request,
// accepting one tagged message, and publishing it to the channel under a cooldown.
package request

import "time"

// State is the conversation step of a user.
type State string

const (
	// StateIdle means no request is open.
	StateIdle State = "idle"
	// StateAwaitingMessage means the next tagged message becomes the pending request.
	StateAwaitingMessage State = "awaiting_message"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateIdle || s == StateAwaitingMessage
}

// PendingRequest points at the user's message that will be copied to the channel.
type PendingRequest struct {
	ChatID    int64
	MessageID int
}

// Session is everything the bot remembers about one user.
type Session struct {
	UserID  int64
	State   State
	Pending *PendingRequest
	// LastPostedAt is the time of the last successful publish; zero if never.
	LastPostedAt time.Time
	UpdatedAt    time.Time
}

// NewSession returns the implicit session of a user never seen before.
func NewSession(userID int64) Session {
	return Session{UserID: userID, State: StateIdle}
}

// HasPending reports whether a request is waiting to be posted.
func (s Session) HasPending() bool {
	return s.Pending != nil
}

// Clone returns a copy that shares no memory with s.
func (s Session) Clone() Session {
	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}
	return s
}

// IsZero reports whether the session carries nothing worth storing.
func (s Session) IsZero() bool {
	return s.State == StateIdle && s.Pending == nil && s.LastPostedAt.IsZero()
}
