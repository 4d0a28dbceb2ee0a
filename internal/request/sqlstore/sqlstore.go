// Package sqlstore keeps request sessions in PostgreSQL or SQLite through sqlx.
// The schema comes from the embedded migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/requestbot/core/logger"
	"github.com/m3rciful/requestbot/internal/request"
)

// Store is a request.Store backed by a SQL database.
type Store struct {
	db *sqlx.DB

	getQ    string
	putQ    string
	deleteQ string
	countQ  string
	pruneQ  string
}

var _ request.Store = (*Store)(nil)

type sessionRow struct {
	UserID           int64         `db:"user_id"`
	State            string        `db:"state"`
	PendingChatID    sql.NullInt64 `db:"pending_chat_id"`
	PendingMessageID sql.NullInt64 `db:"pending_message_id"`
	LastPostedMS     sql.NullInt64 `db:"last_posted_ms"`
	UpdatedMS        int64         `db:"updated_ms"`
}

// New returns a store over db. Queries are written with '?' and rebound
// to the driver's placeholder style once.
func New(db *sqlx.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil database")
	}
	return &Store{
		db: db,
		getQ: db.Rebind(`SELECT user_id, state, pending_chat_id, pending_message_id, last_posted_ms, updated_ms
			FROM request_sessions WHERE user_id = ?`),
		putQ: db.Rebind(`INSERT INTO request_sessions
				(user_id, state, pending_chat_id, pending_message_id, last_posted_ms, updated_ms)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				state = excluded.state,
				pending_chat_id = excluded.pending_chat_id,
				pending_message_id = excluded.pending_message_id,
				last_posted_ms = excluded.last_posted_ms,
				updated_ms = excluded.updated_ms`),
		deleteQ: db.Rebind(`DELETE FROM request_sessions WHERE user_id = ?`),
		countQ:  `SELECT COUNT(*) FROM request_sessions`,
		pruneQ: db.Rebind(`DELETE FROM request_sessions
			WHERE state = ? AND pending_message_id IS NULL
			AND (last_posted_ms IS NULL OR last_posted_ms < ?)`),
	}, nil
}

// Get loads the session of userID, or an idle one when no row exists.
func (s *Store) Get(ctx context.Context, userID int64) (request.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.getQ, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return request.NewSession(userID), nil
	case err != nil:
		logger.Store.ErrorContext(ctx, "session load failed",
			slog.String("event", "store.get"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return request.Session{}, fmt.Errorf("sqlstore: get session %d: %w", userID, err)
	}
	return row.session()
}

// Put upserts sess.
func (s *Store) Put(ctx context.Context, sess request.Session) error {
	row := toRow(sess)
	if _, err := s.db.ExecContext(ctx, s.putQ,
		row.UserID, row.State, row.PendingChatID, row.PendingMessageID, row.LastPostedMS, row.UpdatedMS,
	); err != nil {
		logger.Store.ErrorContext(ctx, "session save failed",
			slog.String("event", "store.put"),
			slog.Int64("user_id", sess.UserID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("sqlstore: put session %d: %w", sess.UserID, err)
	}
	return nil
}

// Delete removes the session of userID; a missing row is not an error.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, s.deleteQ, userID); err != nil {
		return fmt.Errorf("sqlstore: delete session %d: %w", userID, err)
	}
	return nil
}

// Count returns the number of stored sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.countQ); err != nil {
		return 0, fmt.Errorf("sqlstore: count sessions: %w", err)
	}
	return n, nil
}

// PruneIdle deletes idle rows with nothing pending whose last publish is before postedBefore.
func (s *Store) PruneIdle(ctx context.Context, postedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.pruneQ, string(request.StateIdle), postedBefore.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlstore: prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: prune sessions: %w", err)
	}
	return int(n), nil
}

// Maintain refreshes planner statistics. SQLite runs PRAGMA optimize, PostgreSQL ANALYZE.
func (s *Store) Maintain(ctx context.Context) error {
	stmt := "ANALYZE request_sessions"
	if s.db.DriverName() == "sqlite" {
		stmt = "PRAGMA optimize"
	}
	start := time.Now()
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlstore: maintenance: %w", err)
	}
	logger.Store.DebugContext(ctx, "maintenance done",
		slog.String("event", "store.maintain"),
		slog.String("driver", s.db.DriverName()),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}

func toRow(s request.Session) sessionRow {
	row := sessionRow{
		UserID:    s.UserID,
		State:     string(s.State),
		UpdatedMS: s.UpdatedAt.UnixMilli(),
	}
	if row.State == "" {
		row.State = string(request.StateIdle)
	}
	if s.UpdatedAt.IsZero() {
		row.UpdatedMS = time.Now().UnixMilli()
	}
	if s.Pending != nil {
		row.PendingChatID = sql.NullInt64{Int64: s.Pending.ChatID, Valid: true}
		row.PendingMessageID = sql.NullInt64{Int64: int64(s.Pending.MessageID), Valid: true}
	}
	if !s.LastPostedAt.IsZero() {
		row.LastPostedMS = sql.NullInt64{Int64: s.LastPostedAt.UnixMilli(), Valid: true}
	}
	return row
}

func (r sessionRow) session() (request.Session, error) {
	st := request.State(r.State)
	if !st.Valid() {
		return request.Session{}, fmt.Errorf("sqlstore: session %d has unknown state %q", r.UserID, r.State)
	}
	s := request.Session{
		UserID:    r.UserID,
		State:     st,
		UpdatedAt: time.UnixMilli(r.UpdatedMS).UTC(),
	}
	if r.PendingChatID.Valid && r.PendingMessageID.Valid {
		s.Pending = &request.PendingRequest{
			ChatID:    r.PendingChatID.Int64,
			MessageID: int(r.PendingMessageID.Int64),
		}
	}
	if r.LastPostedMS.Valid {
		s.LastPostedAt = time.UnixMilli(r.LastPostedMS.Int64).UTC()
	}
	return s, nil
}
