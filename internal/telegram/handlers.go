package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/requestbot/core/logger"
	tg "github.com/m3rciful/requestbot/core/telegram"
	"github.com/m3rciful/requestbot/core/telegram/commands"
	"github.com/m3rciful/requestbot/core/telegram/format"
	tghelpers "github.com/m3rciful/requestbot/core/telegram/helpers"
	"github.com/m3rciful/requestbot/core/telegram/keyboard"
	"github.com/m3rciful/requestbot/internal/request"
)

// Callback uniques of the inline buttons.
const (
	CallbackOpenRequest = "open_request"
	CallbackEditRequest = "edit_request"
	CallbackPostRequest = "post_request"
)

const maxDetailRunes = 300

// Options configure Handlers.
type Options struct {
	Messages Messages
	// ChannelURL, when set, adds a join button to the not-joined reply.
	ChannelURL string
}

// Handlers turn Telegram updates into request manager calls and render the replies.
type Handlers struct {
	mgr        *request.Manager
	msgs       Messages
	channelURL string
}

// NewHandlers binds the handlers to mgr.
func NewHandlers(mgr *request.Manager, opts Options) (*Handlers, error) {
	if mgr == nil {
		return nil, errors.New("telegram: nil request manager")
	}
	return &Handlers{
		mgr:        mgr,
		msgs:       opts.Messages.WithDefaults(),
		channelURL: strings.TrimSpace(opts.ChannelURL),
	}, nil
}

// Register adds the bot commands and callbacks to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	reg.SetCallbackNotFound(h.OnUnknownAction)
	return errors.Join(
		reg.RegisterCommand("/start", commands.Command{
			Handler:     h.Start,
			Description: "Open the request menu",
		}),
		reg.RegisterCommand("/status", commands.Command{
			Handler:     h.Status,
			Description: "Show your request and cooldown",
		}),
		reg.RegisterCommand("/reset_user", commands.Command{
			Handler:     h.ResetUser,
			Description: "Reset a user's session and cooldown",
			Usage:       "/reset_user <user_id>",
			AdminOnly:   true,
		}),
		reg.RegisterCallback(CallbackOpenRequest, h.OpenRequest),
		reg.RegisterCallback(CallbackEditRequest, h.EditRequest),
		reg.RegisterCallback(CallbackPostRequest, h.PostRequest),
	)
}

// Start resets the sender's session and shows the welcome menu.
func (h *Handlers) Start(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	if _, err := h.mgr.StartSession(ctx, userID); err != nil {
		return h.replyError(c, err)
	}
	return tghelpers.SendHTML(c, h.msgs.Welcome, h.openKeyboard())
}

// OpenRequest handles the "Open Request" button.
func (h *Handlers) OpenRequest(c tele.Context) error {
	return h.open(c, h.mgr.OpenRequest)
}

// EditRequest handles the "Edit" button: the pending request is dropped and
// the user is asked for a new message.
func (h *Handlers) EditRequest(c tele.Context) error {
	return h.open(c, h.mgr.EditRequest)
}

func (h *Handlers) open(c tele.Context, op func(context.Context, int64) (request.Result, error)) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}
	if _, err := op(tghelpers.BuildContext(c), userID); err != nil {
		return h.replyError(c, err)
	}
	text := format.Render(h.msgs.SendRequest, map[string]string{"tags": h.tagList()})
	return tghelpers.SendHTML(c, text)
}

// PostRequest handles the "Post" button. On success the prompt is edited in place
// and loses its buttons.
func (h *Handlers) PostRequest(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}
	if _, err := h.mgr.PublishRequest(tghelpers.BuildContext(c), userID); err != nil {
		return h.replyError(c, err)
	}
	return tghelpers.EditOrSendHTML(c, h.msgs.Published, keyboard.RemoveInline())
}

// Status shows the sender's state, pending request and cooldown.
func (h *Handlers) Status(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}
	st, err := h.mgr.Status(tghelpers.BuildContext(c), userID)
	if err != nil {
		return h.replyError(c, err)
	}
	pending := "no"
	if st.Session.HasPending() {
		pending = "yes"
	}
	cooldown := h.msgs.CooldownFree
	if st.CooldownRemaining > 0 {
		minutes := (&request.CooldownError{Remaining: st.CooldownRemaining}).RemainingMinutes()
		cooldown = format.Render(h.msgs.CooldownLeft, map[string]string{"minutes": strconv.Itoa(minutes)})
	}
	text := format.Render(h.msgs.Status, map[string]string{
		"state":    string(st.Session.State),
		"pending":  pending,
		"cooldown": cooldown,
	})
	return tghelpers.SendHTML(c, text)
}

// ResetUser forgets the session of the user given as the first argument.
// Admin-only; the router enforces it.
func (h *Handlers) ResetUser(c tele.Context) error {
	args := commands.Args(c)
	if len(args) == 0 {
		return tghelpers.SendHTML(c, h.msgs.ResetUsage)
	}
	target, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil || target == 0 {
		return tghelpers.SendHTML(c, h.msgs.ResetUsage)
	}
	ctx := tghelpers.BuildContext(c)
	if err := h.mgr.ResetUser(ctx, target); err != nil {
		return h.replyError(c, err)
	}
	logger.Info(ctx, "tg", "admin.reset_user", slog.Int64("target_user_id", target))
	return tghelpers.SendHTML(c, format.Render(h.msgs.ResetDone, map[string]string{
		"user_id": strconv.FormatInt(target, 10),
	}))
}

// Awaiting reports whether the user opened a request and has not sent it yet,
// so their next content message should reach CollectInput.
func (h *Handlers) Awaiting(ctx context.Context, userID int64) bool {
	s, err := h.mgr.Session(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "tg", "session.lookup_failed",
			slog.Int64("user_id", userID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return false
	}
	return s.State == request.StateAwaitingMessage
}

// CollectInput offers a text or captioned media message as the pending request.
func (h *Handlers) CollectInput(c tele.Context) error {
	userID, ok := senderID(c)
	msg := c.Message()
	if !ok || msg == nil {
		return nil
	}
	chat := c.Chat()
	if chat == nil {
		chat = msg.Chat
	}
	if chat == nil {
		return nil
	}
	ref := request.PendingRequest{ChatID: chat.ID, MessageID: msg.ID}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	res, err := h.mgr.SubmitCandidate(tghelpers.BuildContext(c), userID, ref, text)
	if err != nil {
		return h.replyError(c, err)
	}
	if res.Outcome != request.OutcomeCandidateAccepted {
		return nil
	}
	reply := format.Render(h.msgs.RequestReceived, map[string]string{"tag": res.Tag})
	return tghelpers.SendHTML(c, reply, h.confirmKeyboard())
}

// OnAdminReject answers non-admins calling admin commands.
func (h *Handlers) OnAdminReject(c tele.Context) error {
	return tghelpers.SendHTML(c, h.msgs.AdminOnly)
}

// OnRateLimited tells the sender to slow down; callbacks get a toast.
func (h *Handlers) OnRateLimited(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: h.msgs.RateLimited})
	}
	return tghelpers.SendHTML(c, h.msgs.RateLimited)
}

// OnUnknownAction answers callbacks from buttons no handler owns, such as
// keyboards left over from an older release.
func (h *Handlers) OnUnknownAction(c tele.Context) error {
	return c.Respond(&tele.CallbackResponse{Text: h.msgs.UnknownAction})
}

// replyError renders domain errors as replies. Anything else gets the generic
// text and is returned so the router logs it.
func (h *Handlers) replyError(c tele.Context, err error) error {
	var (
		cooldown *request.CooldownError
		publish  *request.PublishError
	)
	switch {
	case errors.Is(err, request.ErrNotJoined):
		return tghelpers.SendHTML(c, h.msgs.NotJoined, h.joinKeyboard())
	case errors.Is(err, request.ErrNoActiveRequest):
		return tghelpers.SendHTML(c, h.msgs.NoActiveRequest)
	case errors.Is(err, request.ErrInvalidTag):
		return tghelpers.SendHTML(c, format.Render(h.msgs.InvalidTag, map[string]string{"tags": h.tagList()}))
	case errors.As(err, &cooldown):
		return tghelpers.SendHTML(c, format.Render(h.msgs.Cooldown, map[string]string{
			"minutes": strconv.Itoa(cooldown.RemainingMinutes()),
		}))
	case errors.As(err, &publish):
		return tghelpers.SendHTML(c, format.Render(h.msgs.PublishFailed, map[string]string{
			"detail": format.Truncate(publish.Detail, maxDetailRunes),
		}))
	}
	if sendErr := tghelpers.SendHTML(c, h.msgs.InternalError); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return fmt.Errorf("telegram: handler: %w", err)
}

func (h *Handlers) tagList() string {
	return strings.Join(h.mgr.Tags().List(), ", ")
}

func (h *Handlers) openKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtons(keyboard.InlineBtn{Text: h.msgs.OpenButton, Unique: CallbackOpenRequest})
}

func (h *Handlers) confirmKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineRow(
		keyboard.InlineBtn{Text: h.msgs.EditButton, Unique: CallbackEditRequest},
		keyboard.InlineBtn{Text: h.msgs.PostButton, Unique: CallbackPostRequest},
	)
}

func (h *Handlers) joinKeyboard() *tele.ReplyMarkup {
	if h.channelURL == "" {
		return nil
	}
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.URL(h.msgs.JoinButton, h.channelURL)))
	return markup
}

func senderID(c tele.Context) (int64, bool) {
	u := c.Sender()
	if u == nil || u.ID == 0 {
		return 0, false
	}
	return u.ID, true
}
