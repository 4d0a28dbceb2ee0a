// Package telegram adapts the request manager to the Telegram Bot API:
// channel membership lookups, message copies and update handlers.
package telegram

import (
	"context"
	"log/slog"
	"slices"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/requestbot/core/logger"
	"github.com/m3rciful/requestbot/internal/request"
)

// MemberLookup is the slice of *tele.Bot the oracle needs.
type MemberLookup interface {
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
}

// Oracle answers membership questions against the destination channel.
type Oracle struct {
	api      MemberLookup
	channel  *tele.Chat
	adminIDs []int64
}

var _ request.MembershipOracle = (*Oracle)(nil)

// NewOracle checks roles in channelID. Users in adminIDs are admins whatever their role.
func NewOracle(api MemberLookup, channelID int64, adminIDs []int64) *Oracle {
	return &Oracle{
		api:      api,
		channel:  &tele.Chat{ID: channelID},
		adminIDs: slices.Clone(adminIDs),
	}
}

// IsMember reports whether the user is the channel's creator, an administrator,
// a member, or restricted while still a member. Lookup failures count as false.
func (o *Oracle) IsMember(ctx context.Context, userID int64) bool {
	m, ok := o.lookup(ctx, userID, "is_member")
	if !ok {
		return false
	}
	switch m.Role {
	case tele.Creator, tele.Administrator, tele.Member:
		return true
	case tele.Restricted:
		return m.Member
	}
	return false
}

// IsAdmin reports whether the user is listed as an admin or administers the channel.
// Lookup failures count as false.
func (o *Oracle) IsAdmin(ctx context.Context, userID int64) bool {
	if slices.Contains(o.adminIDs, userID) {
		return true
	}
	m, ok := o.lookup(ctx, userID, "is_admin")
	if !ok {
		return false
	}
	return m.Role == tele.Creator || m.Role == tele.Administrator
}

func (o *Oracle) lookup(ctx context.Context, userID int64, check string) (*tele.ChatMember, bool) {
	if o == nil || o.api == nil || userID == 0 {
		return nil, false
	}
	if err := ctx.Err(); err != nil {
		return nil, false
	}
	m, err := o.api.ChatMemberOf(o.channel, &tele.User{ID: userID})
	if err != nil {
		logger.Warn(ctx, "tg", "oracle.lookup_failed",
			slog.String("check", check),
			slog.Int64("user_id", userID),
			slog.Int64("channel_id", o.channel.ID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return nil, false
	}
	if m == nil {
		return nil, false
	}
	return m, true
}
