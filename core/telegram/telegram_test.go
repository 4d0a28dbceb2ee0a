package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/requestbot/core/config"
	"github.com/m3rciful/requestbot/core/telegram/commands"
)

type recordingProcessor struct {
	mu      sync.Mutex
	updates []tele.Update
}

func (p *recordingProcessor) ProcessUpdate(u tele.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func TestUpdateHandlerProcessesPost(t *testing.T) {
	p := &recordingProcessor{}
	h := NewUpdateHandler(p, ServerOptions{})

	body := `{"update_id": 35, "message": {"message_id": 10, "text": "#wts widget", "chat": {"id": 1, "type": "private"}}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	require.Len(t, p.updates, 1)
	assert.Equal(t, 35, p.updates[0].ID)
	require.NotNil(t, p.updates[0].Message)
	assert.Equal(t, "#wts widget", p.updates[0].Message.Text)
}

func TestUpdateHandlerGetReportsRunning(t *testing.T) {
	h := NewUpdateHandler(&recordingProcessor{}, ServerOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bot is Running", rec.Body.String())
}

func TestUpdateHandlerHealth(t *testing.T) {
	h := NewUpdateHandler(&recordingProcessor{}, ServerOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateHandlerRejectsBadJSON(t *testing.T) {
	p := &recordingProcessor{}
	h := NewUpdateHandler(p, ServerOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, p.updates)
}

func TestUpdateHandlerSecretToken(t *testing.T) {
	p := &recordingProcessor{}
	h := NewUpdateHandler(p, ServerOptions{SecretToken: "s3cret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"update_id": 1}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"update_id": 2}`))
	req.Header.Set(SecretTokenHeader, "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, p.updates, 1)
	assert.Equal(t, 2, p.updates[0].ID)
}

func TestBuildPoller(t *testing.T) {
	lp, ok := BuildPoller(PollerOptions{RunMode: coreconfig.RunModeLongpoll}).(*tele.LongPoller)
	require.True(t, ok)
	assert.Equal(t, 10, int(lp.Timeout.Seconds()))

	wh, ok := BuildPoller(PollerOptions{
		RunMode: coreconfig.RunModeWebhook,
		Webhook: WebhookOptions{Listen: "0.0.0.0", Port: 8443, URL: "https://example.org/hook", SecretToken: "x"},
	}).(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8443", wh.Listen)
	assert.Equal(t, "x", wh.SecretToken)
	assert.Equal(t, "https://example.org/hook", wh.Endpoint.PublicURL)

	assert.Nil(t, BuildPoller(PollerOptions{RunMode: coreconfig.RunModeHTTP}))
}

func TestDefaultMiddlewares(t *testing.T) {
	names := func(mws []Middleware) []string {
		out := make([]string, 0, len(mws))
		for _, m := range mws {
			out = append(out, m.Name)
		}
		return out
	}
	assert.Equal(t, []string{"recover", "logger", "metrics"}, names(DefaultMiddlewares(&coreconfig.Config{}, nil)))

	cfg := &coreconfig.Config{RateLimit: coreconfig.RateLimitConfig{IntervalMS: 500}}
	assert.Equal(t, []string{"recover", "rate_limit", "logger", "metrics"}, names(DefaultMiddlewares(cfg, nil)))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	noop := func(tele.Context) error { return nil }

	require.NoError(t, reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "Start"}))
	require.NoError(t, reg.RegisterCommand("/reset_user", commands.Command{Handler: noop, Description: "Reset", AdminOnly: true}))
	require.NoError(t, reg.RegisterCommand("/debug", commands.Command{Handler: noop, Description: "Debug", Hidden: true}))
	assert.Error(t, reg.RegisterCommand("status", commands.Command{Handler: noop, Description: "no slash"}))
	assert.Error(t, reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "again"}))
	assert.Error(t, reg.RegisterCommand("/empty", commands.Command{Handler: noop}))

	assert.Len(t, reg.Commands(), 3)
	assert.Equal(t, []tele.Command{{Text: "/start", Description: "Start"}}, reg.ListCommands(true))
	assert.Len(t, reg.ListCommands(false), 2)

	key, _, ok := reg.LookupCommand("start")
	assert.True(t, ok)
	assert.Equal(t, "/start", key)

	require.NoError(t, reg.RegisterCallback("post_request", noop))
	assert.Error(t, reg.RegisterCallback("post_request", noop))
	_, ok = reg.GetCallback("post_request")
	assert.True(t, ok)
	assert.Equal(t, []string{"post_request"}, reg.ListCallbacks())
	assert.NotNil(t, reg.CallbackNotFound())
}

type flakyTransport struct {
	failures int
	calls    int
	bodies   []string
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if req.Body != nil {
		var b strings.Builder
		_, _ = io.Copy(&b, req.Body)
		f.bodies = append(f.bodies, b.String())
	}
	if f.calls <= f.failures {
		return nil, syscall.ECONNRESET
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestRetryTransportReplaysBody(t *testing.T) {
	next := &flakyTransport{failures: 2}
	rt := &retryTransport{next: next, retries: 3, backoff: time.Millisecond}

	req, err := http.NewRequest(http.MethodPost, "https://api.telegram.org/botX/copyMessage", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`, `{"a":1}`}, next.bodies)
}

func TestRetryTransportGivesUp(t *testing.T) {
	next := &flakyTransport{failures: 10}
	rt := &retryTransport{next: next, retries: 2, backoff: time.Millisecond}

	req, err := http.NewRequest(http.MethodGet, "https://api.telegram.org/botX/getMe", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	assert.True(t, errors.Is(err, syscall.ECONNRESET))
	assert.Equal(t, 3, next.calls)
}

func TestRetryTransportStopsOnCancel(t *testing.T) {
	next := &flakyTransport{failures: 10}
	rt := &retryTransport{next: next, retries: 3, backoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.telegram.org/botX/getMe", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, next.calls)
}

func TestBuildHTTPClientTimeout(t *testing.T) {
	c := BuildHTTPClient(25 * time.Second)
	assert.Equal(t, 25*time.Second+requestHeadroom, c.Timeout)
	_, ok := c.Transport.(*retryTransport)
	assert.True(t, ok)
}
