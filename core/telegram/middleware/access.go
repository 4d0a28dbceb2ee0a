package middleware

import (
	"slices"

	tele "gopkg.in/telebot.v4"
)

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	// AdminIDs are always allowed.
	AdminIDs []int64
	// Check, when set, is consulted for senders missing from AdminIDs.
	Check    func(c tele.Context) bool
	OnReject tele.HandlerFunc
}

// Allowed reports whether the sender of c passes the admin check.
func (o AdminOptions) Allowed(c tele.Context) bool {
	sender := c.Sender()
	if sender == nil {
		return false
	}
	if slices.Contains(o.AdminIDs, sender.ID) {
		return true
	}
	return o.Check != nil && o.Check(c)
}

// AdminOnlyMiddleware ensures that only admins can invoke downstream handlers.
// With neither AdminIDs nor Check configured every sender is rejected.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if !opts.Allowed(c) {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}
