package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/vacbot/internal/config"
	"github.com/xkilldash9x/vacbot/internal/cowin"
)

// fakeTimer fires as soon as it is started and records the requested waits.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (f *fakeTimer) Start(d time.Duration) {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	select {
	case f.c <- testNow.Add(d):
	default:
	}
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time { return f.c }

func fixedNow() time.Time { return testNow }

// newTestPoller builds a poller pinned to testNow that never really waits.
func newTestPoller(t *testing.T, fetcher Fetcher) (*Poller, *fakeTimer) {
	t.Helper()
	timer := newFakeTimer()
	return New(fetcher, testConfig(), zaptest.NewLogger(t), WithNow(fixedNow), WithTimer(timer)), timer
}

type calendarCall struct {
	district int
	date     string
	token    string
}

// fakeFetcher serves scripted rounds. Each round maps a window date to centres.
type fakeFetcher struct {
	mu     sync.Mutex
	rounds []map[string][]cowin.Centre
	errOn  map[string]error
	calls  []calendarCall
}

func (f *fakeFetcher) CalendarByDistrict(_ context.Context, tok cowin.Token, districtID int, date time.Time) ([]cowin.Centre, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cowin.FormatDate(date)
	f.calls = append(f.calls, calendarCall{district: districtID, date: key, token: tok.String()})
	if err, ok := f.errOn[key]; ok {
		return nil, err
	}
	round := (len(f.calls) - 1) / 2
	if round >= len(f.rounds) {
		round = len(f.rounds) - 1
	}
	return f.rounds[round][key], nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var testNow = time.Date(2021, time.May, 8, 10, 0, 0, 0, time.UTC)

const (
	window1 = "09-05-2021"
	window2 = "15-05-2021"
)

func testConfig() config.PollerConfig {
	return config.PollerConfig{
		DistrictID:           294,
		Interval:             2 * time.Second,
		WindowOffsetsDays:    []int{1, 7},
		MaxAgeLimitExclusive: 45,
	}
}

func centre(id int, sessions ...cowin.Session) cowin.Centre {
	return cowin.Centre{CenterID: id, Name: "centre", Sessions: sessions}
}

func session(id string, minAge, capacity int) cowin.Session {
	return cowin.Session{SessionID: id, MinAgeLimit: minAge, AvailableCapacity: capacity, Slots: []string{"09:00AM-11:00AM", "11:00AM-01:00PM"}}
}

// expiredToken mints a JWT whose exp claim is at.
func expiredToken(t *testing.T, at time.Time) cowin.Token {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": at.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	tok, err := cowin.ParseToken(signed)
	require.NoError(t, err)
	return tok
}

func oneBeneficiary() []cowin.Beneficiary {
	return []cowin.Beneficiary{{ReferenceID: "111"}}
}

func TestFindEligibleSlots(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("AgeFilter", func(t *testing.T) {
		fetcher := &fakeFetcher{rounds: []map[string][]cowin.Centre{{
			window1: {centre(1, session("A", 18, 1))},
			window2: {centre(2, session("B", 60, 5))},
		}}}
		p, timer := newTestPoller(t, fetcher)

		slots, err := p.FindEligibleSlots(context.Background(), cowin.NewToken("tok"), oneBeneficiary())
		require.NoError(t, err)
		require.Len(t, slots, 1)
		assert.Equal(t, "A", slots[0].SessionID)
		assert.Equal(t, 1, slots[0].CenterID)
		assert.Empty(t, timer.waits)
	})

	t.Run("OrderedByCapacity", func(t *testing.T) {
		fetcher := &fakeFetcher{rounds: []map[string][]cowin.Centre{{
			window1: {centre(1, session("A", 18, 2))},
			window2: {centre(2, session("B", 18, 3))},
		}}}
		p, _ := newTestPoller(t, fetcher)

		beneficiaries := []cowin.Beneficiary{{ReferenceID: "1"}, {ReferenceID: "2"}}
		slots, err := p.FindEligibleSlots(context.Background(), cowin.NewToken("tok"), beneficiaries)
		require.NoError(t, err)
		require.Len(t, slots, 2)
		assert.Equal(t, "B", slots[0].SessionID)
		assert.Equal(t, "A", slots[1].SessionID)
	})

	t.Run("EmptyRoundWaitsAndRefetches", func(t *testing.T) {
		fetcher := &fakeFetcher{rounds: []map[string][]cowin.Centre{
			{window1: nil, window2: {centre(2, session("full", 18, 0))}},
			{window1: {centre(1, session("A", 18, 4))}, window2: nil},
		}}
		p, timer := newTestPoller(t, fetcher)

		slots, err := p.FindEligibleSlots(context.Background(), cowin.NewToken("tok"), oneBeneficiary())
		require.NoError(t, err)
		require.Len(t, slots, 1)
		assert.Equal(t, "A", slots[0].SessionID)

		require.Len(t, timer.waits, 1)
		assert.Equal(t, 2*time.Second, timer.waits[0])
		assert.Equal(t, 4, fetcher.callCount())
	})

	t.Run("EmptyRoundIsLogged", func(t *testing.T) {
		fetcher := &fakeFetcher{rounds: []map[string][]cowin.Centre{
			{window1: {centre(1, session("full", 18, 0), session("old", 60, 9))}},
			{window1: {centre(1, session("A", 18, 4))}},
		}}
		core, logs := observer.New(zap.DebugLevel)
		p := New(fetcher, testConfig(), zap.New(core), WithNow(fixedNow), WithTimer(newFakeTimer()))

		_, err := p.FindEligibleSlots(context.Background(), cowin.NewToken("tok"), oneBeneficiary())
		require.NoError(t, err)

		empty := logs.FilterMessage("No eligible slots this round.").All()
		require.Len(t, empty, 1)
		fields := empty[0].ContextMap()
		assert.EqualValues(t, 1, fields["round"])
		assert.EqualValues(t, 1, fields["centres"])
		assert.EqualValues(t, 2, fields["sessions"])
		assert.Equal(t, 2*time.Second, fields["retry_in"])
		assert.Equal(t, 1, logs.FilterMessage("Eligible slots found.").Len())
	})

	t.Run("WindowsQueriedWithDistrictAndToken", func(t *testing.T) {
		fetcher := &fakeFetcher{rounds: []map[string][]cowin.Centre{{
			window1: {centre(1, session("A", 18, 1))},
		}}}
		p, _ := newTestPoller(t, fetcher)

		_, err := p.FindEligibleSlots(context.Background(), cowin.NewToken("tok-7"), oneBeneficiary())
		require.NoError(t, err)

		got := map[string]calendarCall{}
		for _, c := range fetcher.calls {
			got[c.date] = c
		}
		want := map[string]calendarCall{
			window1: {district: 294, date: window1, token: "tok-7"},
			window2: {district: 294, date: window2, token: "tok-7"},
		}
		if diff := cmp.Diff(want, got, cmp.AllowUnexported(calendarCall{})); diff != "" {
			t.Errorf("calendar calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("FetchErrorFailsRound", func(t *testing.T) {
		apiErr := &cowin.APIError{Method: "GET", Path: "/v2/appointment/sessions/calendarByDistrict", StatusCode: 401}
		fetcher := &fakeFetcher{
			rounds: []map[string][]cowin.Centre{{window1: {centre(1, session("A", 18, 9))}}},
			errOn:  map[string]error{window2: apiErr},
		}
		p, timer := newTestPoller(t, fetcher)

		slots, err := p.FindEligibleSlots(context.Background(), cowin.NewToken("tok"), oneBeneficiary())
		require.Error(t, err)
		assert.Nil(t, slots)
		assert.True(t, errors.Is(err, ErrRoundFailed))
		assert.True(t, errors.Is(err, cowin.ErrUnauthorized))
		assert.Empty(t, timer.waits, "a failed round must not be retried in place")
	})

	t.Run("ExpiredTokenFailsRound", func(t *testing.T) {
		fetcher := &fakeFetcher{rounds: []map[string][]cowin.Centre{{window1: {centre(1, session("A", 18, 9))}}}}
		p, _ := newTestPoller(t, fetcher)

		tok := expiredToken(t, testNow.Add(-time.Minute))
		_, err := p.FindEligibleSlots(context.Background(), tok, oneBeneficiary())
		assert.ErrorIs(t, err, ErrRoundFailed)
		assert.Zero(t, fetcher.callCount())
	})

	t.Run("CancellationEndsLoop", func(t *testing.T) {
		fetcher := &fakeFetcher{rounds: []map[string][]cowin.Centre{{}}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p, _ := newTestPoller(t, fetcher)
		_, err := p.FindEligibleSlots(ctx, cowin.NewToken("tok"), oneBeneficiary())
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, errors.Is(err, ErrRoundFailed))
	})

	t.Run("DefaultTimerCancellation", func(t *testing.T) {
		fetcher := &fakeFetcher{rounds: []map[string][]cowin.Centre{{}}}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		p := New(fetcher, config.PollerConfig{DistrictID: 1, Interval: time.Hour}, zaptest.NewLogger(t))
		_, err := p.FindEligibleSlots(ctx, cowin.NewToken("tok"), oneBeneficiary())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 2, fetcher.callCount())
	})
}

func TestFlatten(t *testing.T) {
	centres := []cowin.Centre{
		centre(1, session("a1", 18, 1), session("a2", 45, 0)),
		centre(2),
		centre(3, session("c1", 18, 7)),
	}

	slots := Flatten(centres)
	require.Len(t, slots, 3)

	var ids []string
	for _, s := range slots {
		ids = append(ids, s.SessionID)
	}
	assert.Equal(t, []string{"a1", "a2", "c1"}, ids)
	assert.Equal(t, 1, slots[1].CenterID)
	assert.Equal(t, 3, slots[2].CenterID)
	assert.Equal(t, []string{"09:00AM-11:00AM", "11:00AM-01:00PM"}, slots[2].Times)
	assert.Empty(t, Flatten(nil))
}

func TestEligible(t *testing.T) {
	slots := []Slot{
		{SessionID: "young", MinAgeLimit: 18, AvailableCapacity: 2},
		{SessionID: "boundary", MinAgeLimit: 45, AvailableCapacity: 10},
		{SessionID: "short", MinAgeLimit: 18, AvailableCapacity: 1},
		{SessionID: "exact", MinAgeLimit: 44, AvailableCapacity: 2},
	}

	got := Eligible(slots, 2, 45)
	var ids []string
	for _, s := range got {
		ids = append(ids, s.SessionID)
	}
	assert.Equal(t, []string{"young", "exact"}, ids)
}

func TestRank(t *testing.T) {
	in := []Slot{
		{SessionID: "a", AvailableCapacity: 3},
		{SessionID: "b", AvailableCapacity: 5},
		{SessionID: "c", AvailableCapacity: 3},
		{SessionID: "d", AvailableCapacity: 5},
	}

	got := Rank(in)
	var ids []string
	for _, s := range got {
		ids = append(ids, s.SessionID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
	assert.Equal(t, "a", in[0].SessionID, "input must not be reordered")
}
