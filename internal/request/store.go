package request

import (
	"context"
	"time"
)

// Store persists sessions. Implementations must be safe for concurrent use
// and must hand out copies so callers never share a *PendingRequest.
type Store interface {
	// Get returns the stored session or NewSession(userID) when none exists.
	Get(ctx context.Context, userID int64) (Session, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, userID int64) error
	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int, error)
	// PruneIdle drops idle sessions without a pending request whose last
	// publish is older than postedBefore. Such records read the same as absent ones.
	PruneIdle(ctx context.Context, postedBefore time.Time) (int, error)
}

// MembershipOracle answers questions about a user's standing in the channel.
// Both methods return false on any lookup failure; they never fail loudly.
type MembershipOracle interface {
	IsMember(ctx context.Context, userID int64) bool
	IsAdmin(ctx context.Context, userID int64) bool
}

// ChannelPublisher copies a pending request into the destination channel.
type ChannelPublisher interface {
	CopyMessage(ctx context.Context, destination int64, ref PendingRequest) error
}
