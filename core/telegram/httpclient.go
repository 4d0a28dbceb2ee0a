package telegram

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/requestbot/core/logger"
	"github.com/m3rciful/requestbot/core/telegram/netutil"
)

const (
	dialTimeout       = 5 * time.Second
	keepAlive         = 30 * time.Second
	tlsTimeout        = 5 * time.Second
	idleConnTimeout   = 90 * time.Second
	requestHeadroom   = 20 * time.Second
	maxRetries        = 3
	firstRetryBackoff = 500 * time.Millisecond
)

// BuildHTTPClient returns the Bot API client. Its timeout leaves room for a
// long-poll request to be held open for longPoll.
func BuildHTTPClient(longPoll time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   max(longPoll, 0) + requestHeadroom,
		Transport: &retryTransport{next: transport, retries: maxRetries, backoff: firstRetryBackoff},
	}
}

// retryTransport replays requests that failed at the transport level.
// Bodies are replayed through GetBody; requests without it are tried once.
type retryTransport struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	wait := t.backoff
	for attempt := 1; attempt <= t.retries && err != nil && netutil.ShouldRetry(err); attempt++ {
		if req.Body != nil && req.GetBody == nil {
			break
		}
		logger.TG.Debug("bot api retry",
			slog.String("event", "tg.http.retry"),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("err", err.Error()),
		)
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
		wait *= 2

		retry := req.Clone(req.Context())
		if req.GetBody != nil {
			if retry.Body, err = req.GetBody(); err != nil {
				return nil, err
			}
		}
		resp, err = t.next.RoundTrip(retry)
	}
	return resp, err
}
