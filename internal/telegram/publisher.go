package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/requestbot/internal/request"
)

// MessageCopier is the slice of *tele.Bot the publisher needs.
type MessageCopier interface {
	Copy(to tele.Recipient, msg tele.Editable, opts ...any) (*tele.Message, error)
}

// Publisher copies pending requests into the channel with copyMessage,
// so the post carries no "forwarded from" header.
type Publisher struct {
	api MessageCopier
}

var _ request.ChannelPublisher = (*Publisher)(nil)

// NewPublisher wraps api.
func NewPublisher(api MessageCopier) *Publisher {
	return &Publisher{api: api}
}

// CopyMessage copies ref into destination. Failures are *request.PublishError
// carrying the Bot API description.
func (p *Publisher) CopyMessage(ctx context.Context, destination int64, ref request.PendingRequest) error {
	if err := ctx.Err(); err != nil {
		return &request.PublishError{Detail: "request cancelled", Err: err}
	}
	src := tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
	if _, err := p.api.Copy(tele.ChatID(destination), src); err != nil {
		return &request.PublishError{Detail: describeAPIError(err), Err: err}
	}
	return nil
}

func describeAPIError(err error) string {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return fmt.Sprintf("too many requests, retry after %ds", flood.RetryAfter)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Description) != "" {
		return apiErr.Description
	}
	return err.Error()
}
