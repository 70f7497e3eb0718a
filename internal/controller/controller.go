// Package controller drives one booking attempt end to end: it signs in
// through the site with a human supplying the OTP, waits for an eligible slot,
// shows the challenge to the operator and submits the booking.
//
// The workflow is an explicit state machine. Availability failures restart it
// from a fresh surface through reset; human-wait timeouts and booking failures
// never do.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vacbot/internal/browser"
	"github.com/xkilldash9x/vacbot/internal/config"
	"github.com/xkilldash9x/vacbot/internal/cowin"
	"github.com/xkilldash9x/vacbot/internal/notify"
	"github.com/xkilldash9x/vacbot/internal/poller"
)

var (
	// ErrRestartLimit is returned once controller.max_restarts resets have been spent.
	ErrRestartLimit = errors.New("controller: restart limit reached")
	// ErrNoTimeSlots means the chosen session lists no bookable time.
	ErrNoTimeSlots = errors.New("controller: session has no time slots")
	// ErrNoPhoneNumber is returned when the run config carries no phone number.
	ErrNoPhoneNumber = errors.New("controller: phone number is required")
	// ErrNoBeneficiaries means the booking was skipped because no beneficiary is known.
	ErrNoBeneficiaries = errors.New("controller: no beneficiaries to book for")
)

// API is the part of the scheduling client the controller calls directly.
type API interface {
	Beneficiaries(ctx context.Context, tok cowin.Token) ([]cowin.Beneficiary, error)
	Challenge(ctx context.Context, tok cowin.Token) (cowin.Challenge, error)
	Schedule(ctx context.Context, tok cowin.Token, req cowin.BookingRequest) (cowin.ScheduleResponse, error)
}

// SlotFinder blocks until eligible slots exist, best first.
type SlotFinder interface {
	FindEligibleSlots(ctx context.Context, tok cowin.Token, beneficiaries []cowin.Beneficiary) ([]poller.Slot, error)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Launcher browser.Launcher
	API      API
	Finder   SlotFinder
	// Notifier is optional; failures are logged and ignored.
	Notifier notify.Notifier
	// OnSurface, when set, is called with every newly launched surface and with
	// nil once a surface is torn down.
	OnSurface func(browser.Surface)
}

// Result summarises a run.
type Result struct {
	RunID string
	// State is StateDone or StateFailed; FailedAt is the state that failed.
	State          State
	FailedAt       State
	Slot           *poller.Slot
	Request        *cowin.BookingRequest
	ConfirmationNo string
	BookingErr     error
	Restarts       int
}

// restartError marks a failure that is handled by resetting the workflow.
type restartError struct {
	cause error
}

func (e *restartError) Error() string { return "session restart required: " + e.cause.Error() }
func (e *restartError) Unwrap() error { return e.cause }

// Controller runs the booking state machine. It is not safe for concurrent use.
type Controller struct {
	cfg    config.Interface
	deps   Deps
	logger *zap.Logger

	// attempt state, cleared by reset
	runID         string
	runLogger     *zap.Logger
	state         State
	surface       browser.Surface
	token         cowin.Token
	beneficiaries []cowin.Beneficiary
	slot          *poller.Slot
	answer        string

	restarts int
	result   *Result
}

// New validates deps and creates a Controller.
func New(cfg config.Interface, deps Deps, logger *zap.Logger) (*Controller, error) {
	if deps.Launcher == nil || deps.API == nil || deps.Finder == nil {
		return nil, errors.New("controller: launcher, api and finder are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("controller"),
		state:  StateStart,
	}, nil
}

// State returns the current workflow state.
func (c *Controller) State() State { return c.state }

// Run executes the workflow until a booking is submitted (or fails), a
// non-restartable error occurs, or ctx is canceled. The surface stays open
// after Run returns; call Close to release it.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if c.cfg.Run().PhoneNumber == "" {
		return nil, ErrNoPhoneNumber
	}

	c.result = &Result{}
	c.newAttempt()

	for {
		err := c.attempt(ctx)
		if err == nil {
			c.transition(StateDone)
			c.result.State = StateDone
			return c.finish(), nil
		}

		failedAt := c.state
		c.result.FailedAt = failedAt

		var re *restartError
		if ctx.Err() == nil && errors.As(err, &re) {
			limit := c.cfg.Controller().MaxRestarts
			if limit > 0 && c.restarts >= limit {
				c.transition(StateFailed)
				c.result.State = StateFailed
				return c.finish(), fmt.Errorf("%w after %d restarts: %w", ErrRestartLimit, c.restarts, re.cause)
			}
			c.reset(ctx, failedAt, re.cause)
			continue
		}

		c.transition(StateFailed)
		c.result.State = StateFailed
		if ctx.Err() != nil {
			return c.finish(), ctx.Err()
		}
		return c.finish(), fmt.Errorf("%s: %w", failedAt, err)
	}
}

// Close releases the live surface, if any.
func (c *Controller) Close(ctx context.Context) error {
	return c.closeSurface(ctx)
}

func (c *Controller) finish() *Result {
	c.result.RunID = c.runID
	c.result.Restarts = c.restarts
	c.result.Slot = c.slot
	return c.result
}

func (c *Controller) newAttempt() {
	c.runID = uuid.New().String()
	c.runLogger = c.logger.With(zap.String("run_id", c.runID), zap.Int("restart", c.restarts))
}

func (c *Controller) transition(next State) {
	c.runLogger.Debug("State transition.", zap.Stringer("from", c.state), zap.Stringer("to", next))
	c.state = next
}

// reset tears the attempt down and clears everything derived from it.
func (c *Controller) reset(ctx context.Context, failedAt State, cause error) {
	c.runLogger.Warn("Restarting session.", zap.Stringer("failed_at", failedAt), zap.Error(cause))
	c.notify(ctx, notify.Event{Kind: notify.Restarting, Detail: failedAt.String(), Err: cause})

	if err := c.closeSurface(ctx); err != nil {
		c.runLogger.Warn("Failed to close surface during reset.", zap.Error(err))
	}
	c.token = cowin.Token{}
	c.beneficiaries = nil
	c.slot = nil
	c.answer = ""
	c.result = &Result{}
	c.restarts++
	c.transition(StateStart)
	c.newAttempt()
}

func (c *Controller) closeSurface(ctx context.Context) error {
	if c.surface == nil {
		return nil
	}
	s := c.surface
	c.surface = nil
	if c.deps.OnSurface != nil {
		c.deps.OnSurface(nil)
	}
	return s.Close(ctx)
}

func (c *Controller) notify(ctx context.Context, ev notify.Event) {
	ev.RunID = c.runID
	if err := c.deps.Notifier.Notify(ctx, ev); err != nil {
		c.runLogger.Warn("Operator notification failed.", zap.Stringer("kind", ev.Kind), zap.Error(err))
	}
}

// attempt walks the states from LaunchSurface to SubmitBooking once.
func (c *Controller) attempt(ctx context.Context) error {
	steps := []struct {
		state State
		run   func(context.Context) error
	}{
		{StateLaunchSurface, c.launchSurface},
		{StateAuthenticate, c.authenticate},
		{StateAwaitOTP, c.awaitOTP},
		{StateSubmitOTP, c.submitOTP},
		{StateAwaitDashboard, c.awaitDashboard},
		{StateFetchBeneficiaries, c.fetchBeneficiaries},
		{StatePollForSlot, c.pollForSlot},
		{StatePresentChallenge, c.presentChallenge},
		{StateAwaitChallenge, c.awaitChallenge},
		{StateSubmitBooking, c.submitBooking},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.transition(step.state)
		if err := step.run(ctx); err != nil {
			return err
		}
	}
	return nil
}
