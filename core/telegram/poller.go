package telegram

import (
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/requestbot/core/config"
)

// WebhookOptions declares webhook listener settings.
type WebhookOptions struct {
	Listen      string
	Port        int
	URL         string
	SecretToken string
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	Webhook                WebhookOptions
}

// BuildPoller returns a Telebot poller based on provided options.
// The "http" mode gets nil: updates arrive through NewUpdateHandler instead.
func BuildPoller(opts PollerOptions) tele.Poller {
	switch strings.ToLower(strings.TrimSpace(opts.RunMode)) {
	case coreconfig.RunModeWebhook:
		return &tele.Webhook{
			Listen:      listenAddr(opts.Webhook),
			SecretToken: opts.Webhook.SecretToken,
			Endpoint:    &tele.WebhookEndpoint{PublicURL: opts.Webhook.URL},
		}
	case coreconfig.RunModeHTTP:
		return nil
	}

	return &tele.LongPoller{Timeout: longPollTimeout(opts.LongPollTimeoutSeconds)}
}

// longPollTimeout defaults to 10 seconds.
func longPollTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

func listenAddr(w WebhookOptions) string {
	return fmt.Sprintf("%s:%d", w.Listen, w.Port)
}
