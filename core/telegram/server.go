package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/requestbot/core/logger"
)

// SecretTokenHeader carries the webhook secret Telegram echoes on every call.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// UpdateProcessor consumes a single decoded update. *tele.Bot satisfies it.
type UpdateProcessor interface {
	ProcessUpdate(u tele.Update)
}

// ServerOptions configures the plain HTTP update endpoint.
type ServerOptions struct {
	// SecretToken, when set, must match the SecretTokenHeader of every POST.
	SecretToken string
}

// NewUpdateHandler returns the router behind the "http" run mode:
// POST / processes one update, GET / reports liveness, GET /health heartbeats.
func NewUpdateHandler(p UpdateProcessor, opts ServerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Bot is Running")
	})

	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		if opts.SecretToken != "" {
			got := req.Header.Get(SecretTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(opts.SecretToken)) != 1 {
				logger.HTTP.Warn("update rejected",
					slog.String("event", "http.update"),
					slog.String("reason", "secret_mismatch"),
					slog.String("remote", req.RemoteAddr),
				)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		var upd tele.Update
		dec := json.NewDecoder(io.LimitReader(req.Body, maxUpdateBytes))
		if err := dec.Decode(&upd); err != nil {
			logger.HTTP.Warn("update rejected",
				slog.String("event", "http.update"),
				slog.String("reason", "decode"),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		p.ProcessUpdate(upd)

		logger.HTTP.Debug("update processed",
			slog.String("event", "http.update"),
			slog.Int("update_id", upd.ID),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "OK")
	})

	return r
}

// ServeUpdates runs the HTTP endpoint on addr until ctx is done.
func ServeUpdates(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.HTTP.Info("server listening",
			slog.String("event", "http.listen"),
			slog.String("listen", addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.HTTP.Info("server stopped", slog.String("event", "http.shutdown"))
	return ctx.Err()
}
