package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/requestbot/core/config"
	coretelegram "github.com/m3rciful/requestbot/core/telegram"
	"github.com/m3rciful/requestbot/internal/request"
	"github.com/m3rciful/requestbot/internal/request/memstore"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  admin_ids: [7]
  run_mode: polling
request:
  destination_channel_id: -100500
  channel_url: https://t.me/market
  allowed_tags: ["#WTS", " #wtb "]
messages:
  welcome: "Hello <b>trader</b>"
store:
  driver: sqlite3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, coreconfig.RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, int64(-100500), cfg.Request.DestinationChannelID)
	assert.Equal(t, []string{"#wts", "#wtb"}, cfg.Request.AllowedTags)
	assert.Equal(t, time.Hour, cfg.Request.Cooldown())
	assert.Equal(t, "Hello <b>trader</b>", cfg.Messages.Welcome)

	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.True(t, cfg.UsesDatabase())
	require.NotNil(t, cfg.DatabaseConfig())
	assert.Equal(t, "data/requestbot.db", cfg.DatabaseConfig().Path)
	assert.Equal(t, DefaultMaintenanceCron, cfg.Store.MaintenanceCron)
	assert.True(t, cfg.MaintenanceEnabled())
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("BOT_TOKEN", "999:env")
	t.Setenv("CHANNEL_ID", "-200")
	t.Setenv("REQUEST_COOLDOWN_SECONDS", "120")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "999:env", cfg.Telegram.Token)
	assert.Equal(t, int64(-200), cfg.Request.DestinationChannelID)
	assert.Equal(t, 2*time.Minute, cfg.Request.Cooldown())
	assert.Equal(t, request.DefaultTags, cfg.Request.AllowedTags)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Nil(t, cfg.DatabaseConfig())
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing channel": `
telegram: {token: "1:a"}
`,
		"bad tag": `
telegram: {token: "1:a"}
request: {destination_channel_id: -1, allowed_tags: ["wts"]}
`,
		"bad store": `
telegram: {token: "1:a"}
request: {destination_channel_id: -1}
store: {driver: redis}
`,
		"postgres without host": `
telegram: {token: "1:a"}
request: {destination_channel_id: -1}
store: {driver: postgres}
`,
		"bad channel url": `
telegram: {token: "1:a"}
request: {destination_channel_id: -1, channel_url: "not a url"}
`,
		"http mode without port": `
telegram: {token: "1:a", run_mode: http}
request: {destination_channel_id: -1}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestNormalizeServerlessAlias(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "1:a"
	cfg.Telegram.RunMode = "serverless"
	cfg.Webhook.Port = 8080
	cfg.Store.MaintenanceCron = "OFF"

	require.NoError(t, Normalize(cfg))
	assert.Equal(t, coreconfig.RunModeHTTP, cfg.Telegram.RunMode)
	assert.False(t, cfg.MaintenanceEnabled())
}

func offlineBot(*coreconfig.Config) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{Token: "1:offline", Offline: true})
}

func newTestApp(t *testing.T, mode string) *App {
	t.Helper()
	cfg := &Config{}
	cfg.Telegram.Token = "1:offline"
	cfg.Telegram.RunMode = mode
	cfg.Telegram.AdminIDs = []int64{7}
	cfg.Webhook.Port = 8080
	cfg.RateLimit.IntervalMS = 500
	cfg.Request.DestinationChannelID = -100
	require.NoError(t, Normalize(cfg))
	return &App{cfg: cfg, store: memstore.New(), NewBot: offlineBot}
}

func TestTelegramRunOptions(t *testing.T) {
	a := newTestApp(t, coreconfig.RunModeLongpoll)
	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)

	require.NotNil(t, opts.Bot)
	assert.False(t, opts.DisableHelperDispatcher)
	assert.Equal(t, []string{"edit_request", "open_request", "post_request"}, opts.Registry.ListCallbacks())

	names := make([]string, 0, len(opts.Middlewares))
	for _, mw := range opts.Middlewares {
		names = append(names, mw.Name)
	}
	assert.Equal(t, []string{"recover", "rate_limit", "logger", "metrics"}, names)

	endpoints := map[any]bool{}
	for _, r := range opts.Routes {
		endpoints[r.Endpoint] = true
	}
	for _, want := range []any{"/start", "/status", "/reset_user", tele.OnCallback, tele.OnText, tele.OnMedia} {
		assert.True(t, endpoints[want], "missing route %v", want)
	}
}

func TestTelegramRunOptionsHTTPModeSendsInline(t *testing.T) {
	a := newTestApp(t, coreconfig.RunModeHTTP)
	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	assert.True(t, opts.DisableHelperDispatcher)
}

func TestMaintain(t *testing.T) {
	a := newTestApp(t, coreconfig.RunModeLongpoll)
	assert.Error(t, a.Maintain(context.Background()))

	_, err := a.TelegramRunOptions()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.store.Put(ctx, request.NewSession(1)))
	require.NoError(t, a.store.Put(ctx, request.Session{UserID: 2, State: request.StateAwaitingMessage}))

	require.NoError(t, a.Maintain(ctx))
	n, err := a.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLifecycleHooks(t *testing.T) {
	a := newTestApp(t, coreconfig.RunModeLongpoll)
	_, err := a.TelegramRunOptions()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.onStart(ctx, coretelegram.Runtime{}))
	require.NotNil(t, a.sched)
	assert.Equal(t, []string{"store.maintenance"}, a.sched.JobNames())

	require.NoError(t, a.onStop(ctx, coretelegram.Runtime{}))
	assert.Nil(t, a.sched)
}

func TestLifecycleWithoutMaintenance(t *testing.T) {
	a := newTestApp(t, coreconfig.RunModeLongpoll)
	a.cfg.Store.MaintenanceCron = "off"

	require.NoError(t, a.onStart(context.Background(), coretelegram.Runtime{}))
	assert.Nil(t, a.sched)
	assert.NoError(t, a.onStop(context.Background(), coretelegram.Runtime{}))
}
