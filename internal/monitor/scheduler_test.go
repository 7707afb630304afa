package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookingforticket/ticketwatch/internal/escalation"
	"github.com/lookingforticket/ticketwatch/internal/provider/railway"
	"github.com/lookingforticket/ticketwatch/internal/store"
	"github.com/lookingforticket/ticketwatch/internal/testfixtures"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type memStore struct {
	mu       sync.Mutex
	subs     map[int64]*store.Subscription
	brands   map[int64][]string
	listErr  error
	brandErr map[int64]error
}

func newMemStore(subs ...store.Subscription) *memStore {
	m := &memStore{
		subs:     make(map[int64]*store.Subscription),
		brands:   make(map[int64][]string),
		brandErr: make(map[int64]error),
	}
	for i := range subs {
		s := subs[i]
		m.subs[s.ID] = &s
	}
	return m
}

func (m *memStore) get(id int64) store.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.subs[id]
}

func (m *memStore) ListActiveSubscriptions(ctx context.Context) ([]store.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []store.Subscription
	for _, s := range m.subs {
		if s.IsActive {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) update(id int64, fn func(*store.Subscription)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(s)
	return nil
}

func (m *memStore) UpdateLastChecked(ctx context.Context, id int64, ts time.Time) error {
	return m.update(id, func(s *store.Subscription) { s.LastCheckedAt = &ts })
}

func (m *memStore) UpdateLastNotified(ctx context.Context, id int64, ts time.Time) error {
	return m.update(id, func(s *store.Subscription) { s.LastNotifiedAt = &ts })
}

func (m *memStore) IncrementNotificationCount(ctx context.Context, id int64) (int, error) {
	var n int
	err := m.update(id, func(s *store.Subscription) {
		s.NotificationCount++
		n = s.NotificationCount
	})
	return n, err
}

func (m *memStore) SetActive(ctx context.Context, id int64, active bool) error {
	return m.update(id, func(s *store.Subscription) { s.IsActive = active })
}

func (m *memStore) ResetNotificationCount(ctx context.Context, id int64) error {
	return m.update(id, func(s *store.Subscription) { s.NotificationCount = 0 })
}

func (m *memStore) BrandFilter(ctx context.Context, id int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.brandErr[id]; err != nil {
		return nil, err
	}
	return m.brands[id], nil
}

type fakeAggregator struct {
	mu      sync.Mutex
	queries []railway.Query
	results map[string][]railway.TrainInfo // keyed by origin
	block   map[string]bool                // wait for ctx.Done
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAggregator) FetchRange(ctx context.Context, q railway.Query) ([]railway.TrainInfo, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.block[q.Origin] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.results[q.Origin], nil
}

func (f *fakeAggregator) calls() []railway.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]railway.Query(nil), f.queries...)
}

type sent struct {
	kind  string
	subID int64
	count int
	n     int
}

type fakeNotifier struct {
	mu  sync.Mutex
	out []sent
	err error
}

func (f *fakeNotifier) NotifyAvailability(ctx context.Context, sub store.Subscription, trains []railway.TrainInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{kind: "availability", subID: sub.ID, count: sub.NotificationCount, n: len(trains)})
	return f.err
}

func (f *fakeNotifier) PromptDeactivation(ctx context.Context, sub store.Subscription, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{kind: "prompt", subID: sub.ID, count: count})
	return f.err
}

func (f *fakeNotifier) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.out...)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

var tashkent = time.FixedZone("UZT", 5*60*60)

func date(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func subscription(id int64, origin string, from, to time.Time) store.Subscription {
	return store.Subscription{
		ID: id, ChatID: 100 + id,
		StationFrom: origin, StationTo: "2900800",
		FromDate: from, ToDate: to,
		MinSeats: 1, IsActive: true,
	}
}

func trainsFound(numbers ...string) []railway.TrainInfo {
	out := make([]railway.TrainInfo, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, railway.TrainInfo{TrainNumber: n, FreeSeats: 5})
	}
	return out
}

func newTestScheduler(st Store, agg Aggregator, n Notifier, clock *testfixtures.Clock, sleeper *testfixtures.Sleeper) *Scheduler {
	cfg := Config{
		Interval: time.Minute,
		Delay:    2 * time.Second,
		Timeout:  30 * time.Second,
		Location: tashkent,
	}
	return New(st, agg, n, cfg, nil, WithClock(clock.Now), WithSleep(sleeper.Sleep))
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestRunTickExpiresPastSubscriptions(t *testing.T) {
	// Reference time is 2025-06-10 12:00 in Tashkent.
	st := newMemStore(subscription(1, "2900000", date(time.June, 1), date(time.June, 9)))
	agg := &fakeAggregator{}
	notifier := &fakeNotifier{}
	clock := testfixtures.NewClock(time.Time{})

	res, err := newTestScheduler(st, agg, notifier, clock, testfixtures.NewSleeper(clock)).RunTick(context.Background())
	require.NoError(t, err)

	sub := st.get(1)
	assert.False(t, sub.IsActive)
	assert.Nil(t, sub.LastCheckedAt)
	assert.Empty(t, agg.calls())
	assert.Empty(t, notifier.sent())
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 0, res.Checked)
}

func TestRunTickTodayUsesConfiguredZone(t *testing.T) {
	// 22:00 UTC on the 10th is already the 11th in Tashkent.
	st := newMemStore(subscription(1, "2900000", date(time.June, 8), date(time.June, 10)))
	agg := &fakeAggregator{}
	clock := testfixtures.NewClock(time.Date(2025, time.June, 10, 22, 0, 0, 0, time.UTC))

	_, err := newTestScheduler(st, agg, &fakeNotifier{}, clock, testfixtures.NewSleeper(nil)).RunTick(context.Background())
	require.NoError(t, err)
	assert.False(t, st.get(1).IsActive)
	assert.Empty(t, agg.calls())
}

func TestRunTickClampsStartToToday(t *testing.T) {
	st := newMemStore(subscription(1, "2900000", date(time.June, 1), date(time.June, 15)))
	st.brands[1] = []string{"Sharq"}
	agg := &fakeAggregator{}
	clock := testfixtures.NewClock(time.Time{})

	res, err := newTestScheduler(st, agg, &fakeNotifier{}, clock, testfixtures.NewSleeper(nil)).RunTick(context.Background())
	require.NoError(t, err)

	calls := agg.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, date(time.June, 10), calls[0].From)
	assert.Equal(t, date(time.June, 15), calls[0].To)
	assert.Equal(t, 1, calls[0].MinSeats)
	assert.True(t, calls[0].Brands.Allows("Sharq"))
	assert.False(t, calls[0].Brands.Allows("Afrosiyob"))

	sub := st.get(1)
	assert.Equal(t, date(time.June, 1), sub.FromDate, "stored window untouched")
	require.NotNil(t, sub.LastCheckedAt)
	assert.Equal(t, clock.Now(), *sub.LastCheckedAt)
	assert.Equal(t, 0, sub.NotificationCount)
	assert.Nil(t, sub.LastNotifiedAt)
	assert.Equal(t, 1, res.Checked)
}

func TestRunTickSkipsCollapsedWindow(t *testing.T) {
	st := newMemStore(subscription(1, "2900000", date(time.June, 20), date(time.June, 15)))
	agg := &fakeAggregator{}

	res, err := newTestScheduler(st, agg, &fakeNotifier{}, testfixtures.NewClock(time.Time{}), testfixtures.NewSleeper(nil)).
		RunTick(context.Background())
	require.NoError(t, err)

	assert.Empty(t, agg.calls())
	sub := st.get(1)
	assert.True(t, sub.IsActive)
	assert.NotNil(t, sub.LastCheckedAt)
	assert.Equal(t, 1, res.Skipped)
}

func TestRunTickDelaysBetweenSubscriptions(t *testing.T) {
	st := newMemStore(
		subscription(1, "A", date(time.June, 1), date(time.June, 2)), // expired
		subscription(2, "B", date(time.June, 10), date(time.June, 11)),
		subscription(3, "C", date(time.June, 10), date(time.June, 11)),
	)
	sleeper := testfixtures.NewSleeper(nil)

	_, err := newTestScheduler(st, &fakeAggregator{}, &fakeNotifier{}, testfixtures.NewClock(time.Time{}), sleeper).
		RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.Sleeps())
}

func TestRunTickPromptsOnEvenNotificationCounts(t *testing.T) {
	st := newMemStore(subscription(1, "2900000", date(time.June, 10), date(time.June, 12)))
	agg := &fakeAggregator{results: map[string][]railway.TrainInfo{"2900000": trainsFound("766Ф", "010")}}
	notifier := &fakeNotifier{}
	clock := testfixtures.NewClock(time.Time{})
	s := newTestScheduler(st, agg, notifier, clock, testfixtures.NewSleeper(nil))

	var outcomes []Outcome
	for i := 0; i < 4; i++ {
		res, err := s.RunTick(context.Background())
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		outcomes = append(outcomes, res.Results[0].Outcome)
		clock.Advance(time.Minute)
	}

	assert.Equal(t, []Outcome{OutcomeNotified, OutcomePrompted, OutcomeNotified, OutcomePrompted}, outcomes)
	assert.Equal(t, []sent{
		{kind: "availability", subID: 1, count: 1, n: 2},
		{kind: "availability", subID: 1, count: 2, n: 2},
		{kind: "prompt", subID: 1, count: 2},
		{kind: "availability", subID: 1, count: 3, n: 2},
		{kind: "availability", subID: 1, count: 4, n: 2},
		{kind: "prompt", subID: 1, count: 4},
	}, notifier.sent())

	sub := st.get(1)
	assert.Equal(t, 4, sub.NotificationCount)
	require.NotNil(t, sub.LastNotifiedAt)
	assert.Equal(t, clock.Now().Add(-time.Minute), *sub.LastNotifiedAt)
}

func TestRunTickAfterReactivationStartsCountOver(t *testing.T) {
	seed := subscription(1, "2900000", date(time.June, 10), date(time.June, 12))
	seed.NotificationCount = 2
	seed.IsActive = false
	st := newMemStore(seed)
	agg := &fakeAggregator{results: map[string][]railway.TrainInfo{"2900000": trainsFound("766Ф")}}
	notifier := &fakeNotifier{}
	s := newTestScheduler(st, agg, notifier, testfixtures.NewClock(time.Time{}), testfixtures.NewSleeper(nil))

	res, err := s.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Active, "inactive subscriptions are never selected")
	assert.Empty(t, agg.calls())

	require.NoError(t, escalation.Reactivate(context.Background(), st, 1))
	assert.Equal(t, 0, st.get(1).NotificationCount)

	res, err = s.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, 0, res.Prompted)
	assert.Equal(t, 1, st.get(1).NotificationCount)
	assert.Equal(t, []sent{{kind: "availability", subID: 1, count: 1, n: 1}}, notifier.sent())
}

func TestRunTickTimeoutIsolatedToOneSubscription(t *testing.T) {
	st := newMemStore(
		subscription(1, "fast", date(time.June, 10), date(time.June, 11)),
		subscription(2, "slow", date(time.June, 10), date(time.June, 11)),
	)
	agg := &fakeAggregator{
		results: map[string][]railway.TrainInfo{"fast": trainsFound("001")},
		block:   map[string]bool{"slow": true},
	}
	notifier := &fakeNotifier{}
	clock := testfixtures.NewClock(time.Time{})
	cfg := Config{Delay: time.Second, Timeout: 20 * time.Millisecond, Location: tashkent}
	s := New(st, agg, notifier, cfg, nil, WithClock(clock.Now), WithSleep(testfixtures.NewSleeper(nil).Sleep))

	res, err := s.RunTick(context.Background())
	require.NoError(t, err)

	first, second := st.get(1), st.get(2)
	assert.Equal(t, 1, first.NotificationCount)
	assert.NotNil(t, first.LastNotifiedAt)

	assert.NotNil(t, second.LastCheckedAt)
	assert.Equal(t, 0, second.NotificationCount)
	assert.Nil(t, second.LastNotifiedAt)

	assert.Equal(t, []sent{{kind: "availability", subID: 1, count: 1, n: 1}}, notifier.sent())
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Notified)
}

func TestRunTickIsolatesStorageFailures(t *testing.T) {
	st := newMemStore(
		subscription(1, "A", date(time.June, 10), date(time.June, 11)),
		subscription(2, "B", date(time.June, 10), date(time.June, 11)),
	)
	st.brandErr[1] = errors.New("connection reset")
	agg := &fakeAggregator{results: map[string][]railway.TrainInfo{"B": trainsFound("002")}}
	notifier := &fakeNotifier{}

	res, err := newTestScheduler(st, agg, notifier, testfixtures.NewClock(time.Time{}), testfixtures.NewSleeper(nil)).
		RunTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Notified)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "subscription 1")
	assert.Equal(t, 1, st.get(2).NotificationCount)
}

func TestRunTickNotifierFailureCountsAsFailed(t *testing.T) {
	st := newMemStore(subscription(1, "A", date(time.June, 10), date(time.June, 11)))
	agg := &fakeAggregator{results: map[string][]railway.TrainInfo{"A": trainsFound("001")}}
	notifier := &fakeNotifier{err: errors.New("chat not found")}

	res, err := newTestScheduler(st, agg, notifier, testfixtures.NewClock(time.Time{}), testfixtures.NewSleeper(nil)).
		RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, st.get(1).NotificationCount, "count is persisted before delivery")
}

func TestRunTickListFailureAbortsTick(t *testing.T) {
	st := newMemStore()
	st.listErr = errors.New("dial tcp: connection refused")
	s := newTestScheduler(st, &fakeAggregator{}, &fakeNotifier{}, testfixtures.NewClock(time.Time{}), testfixtures.NewSleeper(nil))

	_, err := s.RunTick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	require.NotNil(t, s.LastResult())
	assert.NotEmpty(t, s.LastResult().Errors)
}

func TestRunTickRejectsOverlap(t *testing.T) {
	st := newMemStore(subscription(1, "A", date(time.June, 10), date(time.June, 11)))
	agg := &fakeAggregator{entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestScheduler(st, agg, &fakeNotifier{}, testfixtures.NewClock(time.Time{}), testfixtures.NewSleeper(nil))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunTick(context.Background())
		done <- err
	}()

	<-agg.entered
	_, err := s.RunTick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(agg.release)
	require.NoError(t, <-done)
	assert.Len(t, agg.calls(), 1)
}

func TestRunTickStopsOnCancel(t *testing.T) {
	st := newMemStore(
		subscription(1, "A", date(time.June, 10), date(time.June, 11)),
		subscription(2, "B", date(time.June, 10), date(time.June, 11)),
	)
	agg := &fakeAggregator{}
	ctx, cancel := context.WithCancel(context.Background())
	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	s := New(st, agg, &fakeNotifier{}, Config{Location: tashkent}, nil,
		WithClock(testfixtures.NewClock(time.Time{}).Now), WithSleep(sleep))

	_, err := s.RunTick(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, agg.calls(), 1)
	assert.Nil(t, st.get(2).LastCheckedAt)
}

func TestRunTickDedupsAcrossDaysWithRealAggregator(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, origin, destination string, d time.Time) (*railway.AvailabilityResponse, error) {
		switch d.Day() {
		case 10:
			return availability(trainWithSeats("766Ф", "3"), trainWithSeats("010", "1")), nil
		case 11:
			return availability(trainWithSeats("766Ф", "9"), trainWithSeats("012", "4")), nil
		}
		return &railway.AvailabilityResponse{}, nil
	})
	agg := railway.NewAggregator(fetcher, time.Second, testfixtures.NewSleeper(nil).Sleep, nil)

	sub := subscription(1, "2900000", date(time.June, 10), date(time.June, 11))
	sub.MinSeats = 2
	st := newMemStore(sub)
	notifier := &fakeNotifier{}

	res, err := newTestScheduler(st, agg, notifier, testfixtures.NewClock(time.Time{}), testfixtures.NewSleeper(nil)).
		RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 2, res.Results[0].TrainsFound, "766Ф once, 012; 010 is under the seat threshold")
	assert.Equal(t, []sent{{kind: "availability", subID: 1, count: 1, n: 2}}, notifier.sent())
}

type fetcherFunc func(ctx context.Context, origin, destination string, d time.Time) (*railway.AvailabilityResponse, error)

func (f fetcherFunc) Fetch(ctx context.Context, origin, destination string, d time.Time) (*railway.AvailabilityResponse, error) {
	return f(ctx, origin, destination, d)
}

func availability(trains ...railway.Train) *railway.AvailabilityResponse {
	return &railway.AvailabilityResponse{Express: &railway.Express{
		Direction: []railway.Direction{{Trains: []railway.TrainGroup{{Train: trains}}}},
	}}
}

func trainWithSeats(number, seats string) railway.Train {
	var car railway.Car
	_ = json.Unmarshal([]byte(`{"freeSeats": "`+seats+`"}`), &car)
	return railway.Train{Number: number, Places: &railway.Places{Cars: []railway.Car{car}}}
}

func TestStartRunsTicksUntilCancelled(t *testing.T) {
	st := newMemStore(subscription(1, "A", date(time.June, 10), date(time.June, 11)))
	agg := &fakeAggregator{}
	cfg := Config{Interval: 5 * time.Millisecond, Location: tashkent}
	s := New(st, agg, &fakeNotifier{}, cfg, nil, WithClock(testfixtures.NewClock(time.Time{}).Now))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(agg.calls()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.NotNil(t, s.LastResult())
}
