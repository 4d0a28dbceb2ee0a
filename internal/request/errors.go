package request

import (
	"fmt"
	"math"
	"time"
)

// Error is a user-facing failure of a request operation.
type Error struct {
	code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Code returns a stable identifier for logs and reply lookup.
func (e *Error) Code() string { return e.code }

var (
	// ErrNotJoined is returned when the user is not a member of the channel
	// or membership could not be confirmed.
	ErrNotJoined = &Error{code: "not_joined", msg: "request: user has not joined the channel"}
	// ErrNoActiveRequest is returned when publishing without a pending request.
	ErrNoActiveRequest = &Error{code: "no_active_request", msg: "request: no pending request"}
	// ErrInvalidTag is returned when a candidate does not start with an allowed tag.
	ErrInvalidTag = &Error{code: "invalid_tag", msg: "request: message does not start with an allowed tag"}
)

// CooldownError is returned when a non-admin publishes again too soon.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("request: cooldown active, %d min remaining", e.RemainingMinutes())
}

// Code returns "cooldown_active".
func (e *CooldownError) Code() string { return "cooldown_active" }

// RemainingMinutes rounds the remaining wait up to whole minutes, never below one.
func (e *CooldownError) RemainingMinutes() int {
	return ceilMinutes(e.Remaining)
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

// PublishError wraps a failed copy into the channel.
type PublishError struct {
	// Detail is a human readable reason suitable for showing to the user.
	Detail string
	Err    error
}

func (e *PublishError) Error() string {
	return "request: publish failed: " + e.Detail
}

func (e *PublishError) Unwrap() error { return e.Err }

// Code returns "publish_failed".
func (e *PublishError) Code() string { return "publish_failed" }
