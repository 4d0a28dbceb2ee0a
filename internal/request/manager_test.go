package request_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/requestbot/internal/request"
	"github.com/m3rciful/requestbot/internal/request/memstore"
)

const (
	channelID = int64(-1001234567890)
	member    = int64(100)
	admin     = int64(200)
	stranger  = int64(300)
)

type fakeOracle struct {
	mu          sync.Mutex
	members     map[int64]bool
	admins      map[int64]bool
	adminChecks int
}

func newOracle() *fakeOracle {
	return &fakeOracle{
		members: map[int64]bool{member: true, admin: true},
		admins:  map[int64]bool{admin: true},
	}
}

func (o *fakeOracle) IsMember(_ context.Context, userID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.members[userID]
}

func (o *fakeOracle) IsAdmin(_ context.Context, userID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adminChecks++
	return o.admins[userID]
}

type copyCall struct {
	destination int64
	ref         request.PendingRequest
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []copyCall
	err   error
	// release, when set, blocks CopyMessage until closed.
	release chan struct{}
	entered chan struct{}
}

func (p *fakePublisher) CopyMessage(_ context.Context, destination int64, ref request.PendingRequest) error {
	p.mu.Lock()
	p.calls = append(p.calls, copyCall{destination: destination, ref: ref})
	err, release, entered := p.err, p.release, p.entered
	p.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return err
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePublisher) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	m      *request.Manager
	store  *memstore.Store
	oracle *fakeOracle
	pub    *fakePublisher
	clock  *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memstore.New(),
		oracle: newOracle(),
		pub:    &fakePublisher{},
		clock:  &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	m, err := request.NewManager(h.store, h.oracle, h.pub, request.Options{
		DestinationChannelID: channelID,
		Now:                  h.clock.Now,
	})
	require.NoError(t, err)
	h.m = m
	return h
}

func (h *harness) session(t *testing.T, userID int64) request.Session {
	t.Helper()
	s, err := h.store.Get(context.Background(), userID)
	require.NoError(t, err)
	return s
}

// submit opens a request and offers a tagged message as messageID.
func (h *harness) submit(t *testing.T, userID int64, messageID int) {
	t.Helper()
	ctx := context.Background()
	_, err := h.m.OpenRequest(ctx, userID)
	require.NoError(t, err)
	res, err := h.m.SubmitCandidate(ctx, userID, request.PendingRequest{ChatID: userID, MessageID: messageID}, "#wts selling widget")
	require.NoError(t, err)
	require.Equal(t, request.OutcomeCandidateAccepted, res.Outcome)
}

func TestNewManagerValidation(t *testing.T) {
	store, oracle, pub := memstore.New(), newOracle(), &fakePublisher{}
	opts := request.Options{DestinationChannelID: channelID}

	_, err := request.NewManager(nil, oracle, pub, opts)
	assert.Error(t, err)
	_, err = request.NewManager(store, nil, pub, opts)
	assert.Error(t, err)
	_, err = request.NewManager(store, oracle, nil, opts)
	assert.Error(t, err)
	_, err = request.NewManager(store, oracle, pub, request.Options{})
	assert.ErrorContains(t, err, "destination")
	_, err = request.NewManager(store, oracle, pub, request.Options{DestinationChannelID: channelID, Cooldown: -time.Second})
	assert.Error(t, err)

	m, err := request.NewManager(store, oracle, pub, opts)
	require.NoError(t, err)
	assert.Equal(t, request.DefaultCooldown, m.Cooldown())
	assert.Equal(t, []string{"#wtb", "#wts", "#wtt"}, m.Tags().List())
}

func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.m.StartSession(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, request.OutcomeWelcome, res.Outcome)
	assert.Equal(t, request.StateIdle, res.Session.State)

	res, err = h.m.OpenRequest(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, request.OutcomeAwaitingMessage, res.Outcome)
	assert.Equal(t, request.StateAwaitingMessage, h.session(t, member).State)

	ref := request.PendingRequest{ChatID: member, MessageID: 55}
	res, err = h.m.SubmitCandidate(ctx, member, ref, "#WTS selling widget")
	require.NoError(t, err)
	assert.Equal(t, request.OutcomeCandidateAccepted, res.Outcome)
	assert.Equal(t, "#wts", res.Tag)
	s := h.session(t, member)
	assert.Equal(t, request.StateAwaitingMessage, s.State)
	require.NotNil(t, s.Pending)
	assert.Equal(t, ref, *s.Pending)

	res, err = h.m.PublishRequest(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, request.OutcomePublished, res.Outcome)
	require.Equal(t, 1, h.pub.count())
	assert.Equal(t, copyCall{destination: channelID, ref: ref}, h.pub.calls[0])

	s = h.session(t, member)
	assert.Equal(t, request.StateIdle, s.State)
	assert.Nil(t, s.Pending)
	assert.True(t, h.clock.Now().Equal(s.LastPostedAt))
}

func TestOpenRequestRequiresMembership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.m.OpenRequest(ctx, stranger)
	assert.ErrorIs(t, err, request.ErrNotJoined)
	assert.Equal(t, request.StateIdle, h.session(t, stranger).State)

	n, err := h.m.SessionCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected open must not write")
}

func TestOpenRequestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for range 2 {
		res, err := h.m.OpenRequest(ctx, member)
		require.NoError(t, err)
		assert.Equal(t, request.StateAwaitingMessage, res.Session.State)
	}
}

func TestSubmitCandidateIgnoredWhenIdle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.m.SubmitCandidate(ctx, member, request.PendingRequest{ChatID: member, MessageID: 1}, "#wts item")
	require.NoError(t, err)
	assert.Equal(t, request.OutcomeIgnored, res.Outcome)
	assert.Nil(t, h.session(t, member).Pending)
}

func TestSubmitCandidateFirstWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)

	res, err := h.m.SubmitCandidate(ctx, member, request.PendingRequest{ChatID: member, MessageID: 2}, "#wtb other")
	require.NoError(t, err)
	assert.Equal(t, request.OutcomeIgnored, res.Outcome)
	assert.Equal(t, 1, h.session(t, member).Pending.MessageID)
}

func TestSubmitCandidateRejectsBadTags(t *testing.T) {
	ctx := context.Background()
	cases := []string{"hello world", "", "   ", "wts no hash", "#wtsx close", "selling #wts"}
	for _, text := range cases {
		t.Run(text, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.m.OpenRequest(ctx, member)
			require.NoError(t, err)
			before := h.session(t, member)

			_, err = h.m.SubmitCandidate(ctx, member, request.PendingRequest{ChatID: member, MessageID: 3}, text)
			assert.ErrorIs(t, err, request.ErrInvalidTag)

			after := h.session(t, member)
			assert.Nil(t, after.Pending)
			assert.Equal(t, before.State, after.State)
		})
	}
}

func TestSubmitCandidateAcceptsEveryTag(t *testing.T) {
	ctx := context.Background()
	for _, text := range []string{"#wts a", "#WTB b", "\n#Wtt\tc"} {
		h := newHarness(t)
		_, err := h.m.OpenRequest(ctx, member)
		require.NoError(t, err)
		res, err := h.m.SubmitCandidate(ctx, member, request.PendingRequest{ChatID: member, MessageID: 1}, text)
		require.NoError(t, err, text)
		assert.Equal(t, request.OutcomeCandidateAccepted, res.Outcome, text)
	}
}

func TestPublishWithoutPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.m.PublishRequest(ctx, member)
	assert.ErrorIs(t, err, request.ErrNoActiveRequest)

	_, err = h.m.OpenRequest(ctx, member)
	require.NoError(t, err)
	_, err = h.m.PublishRequest(ctx, member)
	assert.ErrorIs(t, err, request.ErrNoActiveRequest)
	assert.Zero(t, h.pub.count())
}

func TestPublishTwiceWithoutReopening(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)

	_, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)
	_, err = h.m.PublishRequest(ctx, member)
	assert.ErrorIs(t, err, request.ErrNoActiveRequest)
	assert.Equal(t, 1, h.pub.count())
}

func TestCooldownForNonAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)
	_, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)

	h.clock.Advance(10*time.Minute + 30*time.Second)
	h.submit(t, member, 2)
	_, err = h.m.PublishRequest(ctx, member)
	var cerr *request.CooldownError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 49*time.Minute+30*time.Second, cerr.Remaining)
	assert.Equal(t, 50, cerr.RemainingMinutes())
	assert.Equal(t, "cooldown_active", cerr.Code())
	assert.Equal(t, 1, h.pub.count())

	s := h.session(t, member)
	require.NotNil(t, s.Pending, "cooldown must keep the pending request")
	assert.Equal(t, 2, s.Pending.MessageID)

	h.clock.Advance(49*time.Minute + 29*time.Second)
	_, err = h.m.PublishRequest(ctx, member)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, cerr.RemainingMinutes())

	h.clock.Advance(time.Second)
	res, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, request.OutcomePublished, res.Outcome)
	assert.Equal(t, 2, h.pub.count())
}

func TestCooldownMinutesStayInRange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)
	_, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)
	h.submit(t, member, 2)

	for _, step := range []time.Duration{0, time.Nanosecond, time.Minute, 58 * time.Minute} {
		h.clock.Advance(step)
		_, err := h.m.PublishRequest(ctx, member)
		var cerr *request.CooldownError
		require.ErrorAs(t, err, &cerr)
		assert.GreaterOrEqual(t, cerr.RemainingMinutes(), 1)
		assert.LessOrEqual(t, cerr.RemainingMinutes(), 60)
	}
}

func TestCooldownWhenClockGoesBackwards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)
	_, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)

	h.clock.Advance(-5 * time.Hour)
	h.submit(t, member, 2)
	_, err = h.m.PublishRequest(ctx, member)
	var cerr *request.CooldownError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 60, cerr.RemainingMinutes())
}

func TestAdminBypassesCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for i := 1; i <= 3; i++ {
		h.submit(t, admin, i)
		res, err := h.m.PublishRequest(ctx, admin)
		require.NoError(t, err)
		assert.Equal(t, request.OutcomePublished, res.Outcome)
		h.clock.Advance(time.Second)
	}
	assert.Equal(t, 3, h.pub.count())
}

func TestAdminCheckOnlyDuringCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)

	_, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)
	assert.Zero(t, h.oracle.adminChecks, "first publish has no cooldown to bypass")

	h.submit(t, member, 2)
	_, err = h.m.PublishRequest(ctx, member)
	require.Error(t, err)
	assert.Equal(t, 1, h.oracle.adminChecks)
}

func TestPublishFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 7)

	cause := errors.New("telegram: message to copy not found (400)")
	h.pub.fail(&request.PublishError{Detail: "message to copy not found", Err: cause})

	_, err := h.m.PublishRequest(ctx, member)
	var perr *request.PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "message to copy not found", perr.Detail)
	assert.ErrorIs(t, err, cause)

	s := h.session(t, member)
	require.NotNil(t, s.Pending)
	assert.Equal(t, 7, s.Pending.MessageID)
	assert.Equal(t, request.StateAwaitingMessage, s.State)
	assert.True(t, s.LastPostedAt.IsZero())

	h.pub.fail(nil)
	res, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, request.OutcomePublished, res.Outcome)
	assert.Equal(t, 2, h.pub.count())
	assert.Equal(t, 7, h.pub.calls[1].ref.MessageID)
}

func TestPublishFailureWithPlainError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)
	h.pub.fail(errors.New("connection reset"))

	_, err := h.m.PublishRequest(ctx, member)
	var perr *request.PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "connection reset", perr.Detail)
	assert.Equal(t, "publish_failed", perr.Code())
}

func TestPublishFailureWithoutDetailLeavesCauseIntact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)

	original := &request.PublishError{Err: errors.New("boom")}
	h.pub.fail(original)

	_, err := h.m.PublishRequest(ctx, member)
	var perr *request.PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "unknown error", perr.Detail)
	assert.ErrorIs(t, err, original)
	assert.Empty(t, original.Detail)
}

func TestStartSessionClearsPendingKeepsCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)
	_, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)
	h.submit(t, member, 2)

	_, err = h.m.StartSession(ctx, member)
	require.NoError(t, err)
	s := h.session(t, member)
	assert.Equal(t, request.StateIdle, s.State)
	assert.Nil(t, s.Pending)
	assert.False(t, s.LastPostedAt.IsZero())

	h.submit(t, member, 3)
	_, err = h.m.PublishRequest(ctx, member)
	var cerr *request.CooldownError
	assert.ErrorAs(t, err, &cerr)
}

func TestEditRequestClearsPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)

	res, err := h.m.EditRequest(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, request.OutcomeAwaitingMessage, res.Outcome)
	assert.Nil(t, h.session(t, member).Pending)

	ref := request.PendingRequest{ChatID: member, MessageID: 2}
	_, err = h.m.SubmitCandidate(ctx, member, ref, "#wtb replacement")
	require.NoError(t, err)
	assert.Equal(t, ref, *h.session(t, member).Pending)
}

func TestEditRequestRequiresMembership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)
	h.oracle.mu.Lock()
	delete(h.oracle.members, member)
	h.oracle.mu.Unlock()

	_, err := h.m.EditRequest(ctx, member)
	assert.ErrorIs(t, err, request.ErrNotJoined)
	assert.NotNil(t, h.session(t, member).Pending)
}

func TestPendingOnlyAfterAwaiting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ref := request.PendingRequest{ChatID: member, MessageID: 1}

	steps := []func() error{
		func() error { _, err := h.m.SubmitCandidate(ctx, member, ref, "#wts a"); return err },
		func() error { _, err := h.m.StartSession(ctx, member); return err },
		func() error { _, err := h.m.SubmitCandidate(ctx, member, ref, "#wts b"); return err },
		func() error { _, err := h.m.PublishRequest(ctx, member); return err },
	}
	for _, step := range steps {
		err := step()
		if err != nil {
			assert.ErrorIs(t, err, request.ErrNoActiveRequest)
		}
		assert.Nil(t, h.session(t, member).Pending)
	}
	assert.Zero(t, h.pub.count())
}

func TestConcurrentPublishCopiesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)
	h.pub.release = make(chan struct{})
	h.pub.entered = make(chan struct{}, 1)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		published int
	)
	call := func() {
		defer wg.Done()
		res, err := h.m.PublishRequest(ctx, member)
		if err != nil {
			assert.ErrorIs(t, err, request.ErrNoActiveRequest)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if res.Outcome == request.OutcomePublished {
			published++
		}
	}

	wg.Add(1)
	go call()
	<-h.pub.entered
	for range callers - 1 {
		wg.Add(1)
		go call()
	}
	close(h.pub.release)
	wg.Wait()

	assert.Equal(t, 1, h.pub.count())
	assert.GreaterOrEqual(t, published, 1)
	assert.Nil(t, h.session(t, member).Pending)
}

func TestConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.oracle.mu.Lock()
	for id := int64(1); id <= 32; id++ {
		h.oracle.members[id] = true
	}
	h.oracle.mu.Unlock()

	var wg sync.WaitGroup
	for id := int64(1); id <= 32; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := h.m.OpenRequest(ctx, id)
			assert.NoError(t, err)
			_, err = h.m.SubmitCandidate(ctx, id, request.PendingRequest{ChatID: id, MessageID: int(id)}, "#wtt swap")
			assert.NoError(t, err)
			_, err = h.m.PublishRequest(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 32, h.pub.count())
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	st, err := h.m.Status(ctx, member)
	require.NoError(t, err)
	assert.Zero(t, st.CooldownRemaining)
	assert.False(t, st.Admin)

	h.submit(t, member, 1)
	_, err = h.m.PublishRequest(ctx, member)
	require.NoError(t, err)
	h.clock.Advance(15 * time.Minute)

	st, err = h.m.Status(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, st.CooldownRemaining)
	assert.Equal(t, request.StateIdle, st.Session.State)

	h.submit(t, admin, 1)
	_, err = h.m.PublishRequest(ctx, admin)
	require.NoError(t, err)
	st, err = h.m.Status(ctx, admin)
	require.NoError(t, err)
	assert.True(t, st.Admin)
	assert.Zero(t, st.CooldownRemaining)
}

func TestResetUserClearsCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submit(t, member, 1)
	_, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)

	require.NoError(t, h.m.ResetUser(ctx, member))
	assert.Equal(t, request.NewSession(member), h.session(t, member))

	h.submit(t, member, 2)
	_, err = h.m.PublishRequest(ctx, member)
	assert.NoError(t, err)
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.submit(t, member, 1)
	_, err := h.m.PublishRequest(ctx, member)
	require.NoError(t, err)
	_, err = h.m.StartSession(ctx, stranger)
	require.NoError(t, err)
	_, err = h.m.OpenRequest(ctx, admin)
	require.NoError(t, err)

	n, err := h.m.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the never-posted idle session goes")

	h.clock.Advance(time.Hour + time.Second)
	n, err = h.m.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "cooldown elapsed")

	count, err := h.m.SessionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "awaiting session stays")
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, "not_joined", request.ErrNotJoined.Code())
	assert.Equal(t, "no_active_request", request.ErrNoActiveRequest.Code())
	assert.Equal(t, "invalid_tag", request.ErrInvalidTag.Code())
}
