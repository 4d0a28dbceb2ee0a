package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/m3rciful/requestbot/core/logger"
)

const (
	component = "service.requests"

	// DefaultCooldown is the minimum gap between two publishes of a non-admin.
	DefaultCooldown = time.Hour

	lockStripes = 64
)

// Outcome tells the caller which reply to render.
type Outcome string

const (
	OutcomeIgnored           Outcome = "ignored"
	OutcomeWelcome           Outcome = "welcome"
	OutcomeAwaitingMessage   Outcome = "awaiting_message"
	OutcomeCandidateAccepted Outcome = "candidate_accepted"
	OutcomePublished         Outcome = "published"
)

// Result is the successful outcome of an operation along with the session it left behind.
type Result struct {
	Outcome Outcome
	Session Session
	// Tag is the matched tag for OutcomeCandidateAccepted.
	Tag string
}

// Status describes a user's session for the status command.
type Status struct {
	Session           Session
	Admin             bool
	CooldownRemaining time.Duration
}

// Options configure a Manager.
type Options struct {
	DestinationChannelID int64
	// Cooldown defaults to DefaultCooldown when zero.
	Cooldown    time.Duration
	AllowedTags []string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager drives the request state machine for all users.
type Manager struct {
	store     Store
	oracle    MembershipOracle
	publisher ChannelPublisher

	destination int64
	cooldown    time.Duration
	tags        TagSet
	now         func() time.Time

	// Guards read-modify-write of a session; never held across oracle or publisher calls.
	locks    [lockStripes]sync.Mutex
	inflight singleflight.Group
}

// NewManager validates opts and wires the collaborators.
func NewManager(store Store, oracle MembershipOracle, publisher ChannelPublisher, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("request: nil store")
	}
	if oracle == nil {
		return nil, errors.New("request: nil membership oracle")
	}
	if publisher == nil {
		return nil, errors.New("request: nil channel publisher")
	}
	if opts.DestinationChannelID == 0 {
		return nil, errors.New("request: destination channel id is required")
	}
	if opts.Cooldown < 0 {
		return nil, fmt.Errorf("request: negative cooldown %s", opts.Cooldown)
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:       store,
		oracle:      oracle,
		publisher:   publisher,
		destination: opts.DestinationChannelID,
		cooldown:    opts.Cooldown,
		tags:        NewTagSet(opts.AllowedTags),
		now:         opts.Now,
	}, nil
}

// Tags returns the allowed tags.
func (m *Manager) Tags() TagSet { return m.tags }

// Cooldown returns the configured cooldown window.
func (m *Manager) Cooldown() time.Duration { return m.cooldown }

func (m *Manager) lock(userID int64) func() {
	mu := &m.locks[uint64(userID)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// update applies fn to the user's session under the user's lock and stores the result.
// fn returning an error aborts without writing.
func (m *Manager) update(ctx context.Context, userID int64, fn func(*Session) error) (Session, error) {
	unlock := m.lock(userID)
	defer unlock()

	s, err := m.store.Get(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("request: load session: %w", err)
	}
	if err := fn(&s); err != nil {
		return s, err
	}
	s.UserID = userID
	s.UpdatedAt = m.now()
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, fmt.Errorf("request: save session: %w", err)
	}
	return s, nil
}

// StartSession resets the user to idle and drops any pending request.
// The cooldown is kept.
func (m *Manager) StartSession(ctx context.Context, userID int64) (Result, error) {
	s, err := m.update(ctx, userID, func(s *Session) error {
		s.State = StateIdle
		s.Pending = nil
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	m.log(ctx, slog.LevelDebug, "session.start", userID, slog.String("state", string(s.State)))
	return Result{Outcome: OutcomeWelcome, Session: s}, nil
}

// OpenRequest moves a channel member to awaiting their tagged message.
// Non-members get ErrNotJoined and no state change.
func (m *Manager) OpenRequest(ctx context.Context, userID int64) (Result, error) {
	return m.open(ctx, userID, false)
}

// EditRequest is OpenRequest that also discards the pending request,
// so the next tagged message replaces it.
func (m *Manager) EditRequest(ctx context.Context, userID int64) (Result, error) {
	return m.open(ctx, userID, true)
}

func (m *Manager) open(ctx context.Context, userID int64, clearPending bool) (Result, error) {
	if !m.oracle.IsMember(ctx, userID) {
		m.log(ctx, slog.LevelInfo, "request.open", userID,
			slog.String("outcome", "fail"),
			slog.String("reason", ErrNotJoined.Code()),
		)
		return Result{}, ErrNotJoined
	}
	s, err := m.update(ctx, userID, func(s *Session) error {
		s.State = StateAwaitingMessage
		if clearPending {
			s.Pending = nil
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	event := "request.open"
	if clearPending {
		event = "request.edit"
	}
	m.log(ctx, slog.LevelInfo, event, userID, slog.String("state", string(s.State)))
	return Result{Outcome: OutcomeAwaitingMessage, Session: s}, nil
}

// SubmitCandidate offers an inbound message as the user's request.
// It is ignored unless the user is awaiting a message and has nothing pending;
// otherwise text must start with an allowed tag.
func (m *Manager) SubmitCandidate(ctx context.Context, userID int64, ref PendingRequest, text string) (Result, error) {
	var (
		tag     string
		outcome = OutcomeIgnored
	)
	s, err := m.update(ctx, userID, func(s *Session) error {
		if s.State != StateAwaitingMessage || s.Pending != nil {
			return errSkip
		}
		t, ok := m.tags.Match(text)
		if !ok {
			return ErrInvalidTag
		}
		p := ref
		s.Pending = &p
		tag = t
		outcome = OutcomeCandidateAccepted
		return nil
	})
	switch {
	case errors.Is(err, errSkip):
		m.log(ctx, slog.LevelDebug, "request.candidate", userID,
			slog.String("outcome", "skip"),
			slog.String("state", string(s.State)),
			slog.Bool("pending", s.HasPending()),
		)
		return Result{Outcome: OutcomeIgnored, Session: s}, nil
	case errors.Is(err, ErrInvalidTag):
		m.log(ctx, slog.LevelInfo, "request.candidate", userID,
			slog.String("outcome", "fail"),
			slog.String("reason", ErrInvalidTag.Code()),
		)
		return Result{Session: s}, ErrInvalidTag
	case err != nil:
		return Result{}, err
	}
	m.log(ctx, slog.LevelInfo, "request.candidate", userID,
		slog.String("outcome", "ok"),
		slog.String("tag", tag),
		slog.Int64("src_chat_id", ref.ChatID),
		slog.Int("src_message_id", ref.MessageID),
	)
	return Result{Outcome: outcome, Session: s, Tag: tag}, nil
}

var errSkip = errors.New("request: skip")

// PublishRequest copies the pending request into the channel.
// Concurrent calls for the same user share a single copy.
func (m *Manager) PublishRequest(ctx context.Context, userID int64) (Result, error) {
	v, err, shared := m.inflight.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		return m.publish(ctx, userID)
	})
	if shared {
		m.log(ctx, slog.LevelDebug, "request.publish.shared", userID)
	}
	res, _ := v.(Result)
	return res, err
}

func (m *Manager) publish(ctx context.Context, userID int64) (Result, error) {
	s, err := m.snapshot(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if s.Pending == nil {
		m.log(ctx, slog.LevelInfo, "request.publish", userID,
			slog.String("outcome", "fail"),
			slog.String("reason", ErrNoActiveRequest.Code()),
		)
		return Result{}, ErrNoActiveRequest
	}
	ref := *s.Pending

	now := m.now()
	admin := false
	if remaining := m.remaining(s, now); remaining > 0 {
		admin = m.oracle.IsAdmin(ctx, userID)
		if !admin {
			cerr := &CooldownError{Remaining: remaining}
			m.log(ctx, slog.LevelInfo, "request.publish", userID,
				slog.String("outcome", "fail"),
				slog.String("reason", cerr.Code()),
				slog.Int("remaining_min", cerr.RemainingMinutes()),
			)
			return Result{}, cerr
		}
	}

	start := time.Now()
	if err := m.publisher.CopyMessage(ctx, m.destination, ref); err != nil {
		perr := asPublishError(err)
		m.log(ctx, slog.LevelWarn, "request.publish", userID,
			slog.String("outcome", "fail"),
			slog.String("reason", perr.Code()),
			slog.String("err", logger.SanitizeLimit(perr.Detail, 256)),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		return Result{}, perr
	}
	took := time.Since(start)

	posted := m.now()
	s, err = m.update(ctx, userID, func(s *Session) error {
		s.LastPostedAt = posted
		// A reset or edit may have raced with the copy; only consume what was published.
		if s.Pending != nil && *s.Pending == ref {
			s.Pending = nil
			s.State = StateIdle
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	m.log(ctx, slog.LevelInfo, "request.publish", userID,
		slog.String("outcome", "ok"),
		slog.Bool("admin", admin),
		slog.Int64("dest_chat_id", m.destination),
		slog.Int64("src_chat_id", ref.ChatID),
		slog.Int("src_message_id", ref.MessageID),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return Result{Outcome: OutcomePublished, Session: s}, nil
}

func asPublishError(err error) *PublishError {
	var perr *PublishError
	if !errors.As(err, &perr) {
		return &PublishError{Detail: err.Error(), Err: err}
	}
	if perr.Detail != "" {
		return perr
	}
	// The publisher's value is not ours to fill in.
	return &PublishError{Detail: "unknown error", Err: err}
}

// Status reports the user's session and the cooldown still to wait.
// Admins always see a zero cooldown.
func (m *Manager) Status(ctx context.Context, userID int64) (Status, error) {
	s, err := m.snapshot(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	st := Status{Session: s, Admin: m.oracle.IsAdmin(ctx, userID)}
	if !st.Admin {
		st.CooldownRemaining = m.remaining(s, m.now())
	}
	return st, nil
}

// Session returns the stored session of userID without consulting the oracle.
func (m *Manager) Session(ctx context.Context, userID int64) (Session, error) {
	return m.snapshot(ctx, userID)
}

// ResetUser forgets everything about the user, cooldown included.
func (m *Manager) ResetUser(ctx context.Context, userID int64) error {
	unlock := m.lock(userID)
	defer unlock()
	if err := m.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("request: delete session: %w", err)
	}
	m.log(ctx, slog.LevelInfo, "session.reset", userID)
	return nil
}

// Compact drops stored sessions that no longer affect behaviour: idle, nothing
// pending and out of cooldown.
func (m *Manager) Compact(ctx context.Context) (int, error) {
	n, err := m.store.PruneIdle(ctx, m.now().Add(-m.cooldown))
	if err != nil {
		return 0, fmt.Errorf("request: prune sessions: %w", err)
	}
	return n, nil
}

// SessionCount returns the number of stored sessions.
func (m *Manager) SessionCount(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

func (m *Manager) snapshot(ctx context.Context, userID int64) (Session, error) {
	s, err := m.store.Get(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("request: load session: %w", err)
	}
	return s, nil
}

// remaining is the cooldown left at now; zero if never posted or already elapsed.
func (m *Manager) remaining(s Session, now time.Time) time.Duration {
	if s.LastPostedAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(s.LastPostedAt)
	switch {
	case elapsed >= m.cooldown:
		return 0
	case elapsed < 0:
		// Clock went backwards; never report more than one full window.
		return m.cooldown
	}
	return m.cooldown - elapsed
}

func (m *Manager) log(ctx context.Context, level slog.Level, event string, userID int64, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{slog.Int64("user_id", userID)}, attrs...)
	logger.Event(ctx, component, level, event, attrs...)
}
