// Package poller searches the district calendar for a bookable session.
//
// A round queries every configured calendar window concurrently, merges the
// centres in window order, flattens their sessions into Slots, keeps the
// eligible ones and ranks them by remaining capacity. Empty rounds are retried
// after a fixed interval until a slot appears or the context is canceled. A
// failed query is never retried in place; it is reported as ErrRoundFailed so
// the caller can start over with a fresh session.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/vacbot/internal/config"
	"github.com/xkilldash9x/vacbot/internal/cowin"
)

// ErrRoundFailed marks a polling round that could not complete.
var ErrRoundFailed = errors.New("poller: availability round failed")

// errNoEligibleSlots is the retryable outcome of an empty round.
var errNoEligibleSlots = errors.New("no eligible slots")

// Defaults applied when the corresponding config value is unset.
const (
	DefaultInterval             = 2 * time.Second
	DefaultMaxAgeLimitExclusive = 45
)

// DefaultWindowOffsetsDays are the calendar windows queried per round.
var DefaultWindowOffsetsDays = []int{1, 7}

// Slot is a flattened session candidate.
type Slot struct {
	CenterID          int
	CenterName        string
	SessionID         string
	Date              string
	MinAgeLimit       int
	AvailableCapacity int
	Vaccine           string
	Times             []string
}

// Fetcher is the part of the scheduling client the poller needs.
type Fetcher interface {
	CalendarByDistrict(ctx context.Context, tok cowin.Token, districtID int, date time.Time) ([]cowin.Centre, error)
}

// Option configures a Poller.
type Option func(*Poller)

// WithNow replaces the wall clock used to pick the window dates.
func WithNow(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithTimer replaces the timer that paces empty rounds, mainly for tests.
func WithTimer(t backoff.Timer) Option {
	return func(p *Poller) { p.timer = t }
}

// Poller runs the availability loop.
type Poller struct {
	fetcher Fetcher
	now     func() time.Time
	timer   backoff.Timer
	logger  *zap.Logger

	districtID int
	interval   time.Duration
	offsets    []int
	ageCutoff  int
}

// New creates a Poller for the configured district.
func New(fetcher Fetcher, cfg config.PollerConfig, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		fetcher:    fetcher,
		now:        time.Now,
		logger:     logger.Named("poller"),
		districtID: cfg.DistrictID,
		interval:   cfg.Interval,
		offsets:    cfg.WindowOffsetsDays,
		ageCutoff:  cfg.MaxAgeLimitExclusive,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if len(p.offsets) == 0 {
		p.offsets = DefaultWindowOffsetsDays
	}
	if p.ageCutoff <= 0 {
		p.ageCutoff = DefaultMaxAgeLimitExclusive
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FindEligibleSlots polls until at least one eligible slot exists and returns
// them best first. It returns an error wrapping ErrRoundFailed if any window
// query fails or the token is already expired, and ctx.Err() if canceled.
func (p *Poller) FindEligibleSlots(ctx context.Context, tok cowin.Token, beneficiaries []cowin.Beneficiary) ([]Slot, error) {
	var (
		found    []Slot
		round    int
		centres  int
		sessions int
	)

	operation := func() error {
		round++
		now := p.now()
		if tok.Expired(now) {
			return backoff.Permanent(fmt.Errorf("%w: token expired at %s", ErrRoundFailed, tok.ExpiresAt().Format(time.RFC3339)))
		}

		merged, err := p.fetchRound(ctx, tok, now)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrRoundFailed, err))
		}

		all := Flatten(merged)
		centres, sessions = len(merged), len(all)
		slots := Rank(Eligible(all, len(beneficiaries), p.ageCutoff))
		if len(slots) == 0 {
			return errNoEligibleSlots
		}

		p.logger.Info("Eligible slots found.",
			zap.Int("round", round),
			zap.Int("eligible", len(slots)),
			zap.Int("center_id", slots[0].CenterID),
			zap.String("center_name", slots[0].CenterName),
			zap.Int("capacity", slots[0].AvailableCapacity))
		found = slots
		return nil
	}

	notify := func(err error, next time.Duration) {
		p.logger.Debug("No eligible slots this round.",
			zap.Int("round", round),
			zap.Int("centres", centres),
			zap.Int("sessions", sessions),
			zap.Duration("retry_in", next))
	}

	// A constant backoff never stops on its own; only ctx ends the wait.
	b := backoff.WithContext(backoff.NewConstantBackOff(p.interval), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, p.timer); err != nil {
		return nil, err
	}
	return found, nil
}

// fetchRound queries every window concurrently and merges the results in window order.
func (p *Poller) fetchRound(ctx context.Context, tok cowin.Token, now time.Time) ([]cowin.Centre, error) {
	results := make([][]cowin.Centre, len(p.offsets))

	g, gctx := errgroup.WithContext(ctx)
	for i, offset := range p.offsets {
		date := now.AddDate(0, 0, offset)
		g.Go(func() error {
			centres, err := p.fetcher.CalendarByDistrict(gctx, tok, p.districtID, date)
			if err != nil {
				return fmt.Errorf("calendar for %s: %w", cowin.FormatDate(date), err)
			}
			results[i] = centres
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []cowin.Centre
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, nil
}

// Flatten turns centres into one Slot per session, preserving discovery order.
func Flatten(centres []cowin.Centre) []Slot {
	var slots []Slot
	for _, c := range centres {
		for _, s := range c.Sessions {
			slots = append(slots, Slot{
				CenterID:          c.CenterID,
				CenterName:        c.Name,
				SessionID:         s.SessionID,
				Date:              s.Date,
				MinAgeLimit:       s.MinAgeLimit,
				AvailableCapacity: s.AvailableCapacity,
				Vaccine:           s.Vaccine,
				Times:             s.Slots,
			})
		}
	}
	return slots
}

// Eligible keeps slots below the age cutoff with room for every beneficiary.
func Eligible(slots []Slot, beneficiaries, ageCutoff int) []Slot {
	var out []Slot
	for _, s := range slots {
		if s.MinAgeLimit < ageCutoff && s.AvailableCapacity >= beneficiaries {
			out = append(out, s)
		}
	}
	return out
}

// Rank orders slots by descending capacity. Ties keep their input order.
func Rank(slots []Slot) []Slot {
	ranked := make([]Slot, len(slots))
	copy(ranked, slots)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AvailableCapacity > ranked[j].AvailableCapacity
	})
	return ranked
}
