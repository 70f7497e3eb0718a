package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vacbot/internal/cowin"
	"github.com/xkilldash9x/vacbot/internal/notify"
	"github.com/xkilldash9x/vacbot/internal/poller"
)

func (c *Controller) launchSurface(ctx context.Context) error {
	if err := c.closeSurface(ctx); err != nil {
		c.runLogger.Warn("Failed to close previous surface.", zap.Error(err))
	}

	s, err := c.deps.Launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch surface: %w", err)
	}
	c.surface = s
	if c.deps.OnSurface != nil {
		c.deps.OnSurface(s)
	}

	site := c.cfg.Site()
	c.runLogger.Info("Opening site.", zap.String("surface_id", s.ID()), zap.String("url", site.URL))
	if err := s.Navigate(ctx, site.URL); err != nil {
		return fmt.Errorf("failed to open site: %w", err)
	}
	return nil
}

func (c *Controller) authenticate(ctx context.Context) error {
	sel := c.cfg.Site().Selectors

	// The login form renders client-side after load.
	mobile, err := c.surface.WaitForSelector(ctx, sel.MobileNumber, 0)
	if err != nil {
		return fmt.Errorf("mobile number field: %w", err)
	}
	if err := c.surface.Type(ctx, mobile, c.cfg.Run().PhoneNumber); err != nil {
		return err
	}

	getOTP, err := c.surface.Locate(ctx, sel.GetOTP)
	if err != nil {
		return fmt.Errorf("get OTP control: %w", err)
	}
	if err := c.surface.Click(ctx, getOTP); err != nil {
		return err
	}

	c.runLogger.Info("OTP requested, waiting for the operator to enter it.")
	c.notify(ctx, notify.Event{Kind: notify.OTPRequested})
	return nil
}

func (c *Controller) awaitOTP(ctx context.Context) error {
	site := c.cfg.Site()
	if _, err := c.surface.WaitForSelector(ctx, site.Selectors.OTP, 0); err != nil {
		return fmt.Errorf("OTP field: %w", err)
	}
	if err := c.surface.WaitForCondition(ctx, valueLengthFn, 0, site.Selectors.OTP, site.OTPLength); err != nil {
		return fmt.Errorf("OTP entry: %w", err)
	}
	return nil
}

func (c *Controller) submitOTP(ctx context.Context) error {
	verify, err := c.surface.Locate(ctx, c.cfg.Site().Selectors.VerifyOTP)
	if err != nil {
		return fmt.Errorf("verify OTP control: %w", err)
	}
	return c.surface.Click(ctx, verify)
}

func (c *Controller) awaitDashboard(ctx context.Context) error {
	site := c.cfg.Site()
	if _, err := c.surface.WaitForSelector(ctx, site.Selectors.Dashboard, 0); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}

	var stored string
	if err := c.surface.Evaluate(ctx, readStorageFn, &stored, site.TokenStorageKey); err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	tok, err := cowin.ParseToken(stored)
	if err != nil {
		// Signed in but no usable credential: the session is broken.
		return &restartError{cause: fmt.Errorf("read token: %w", err)}
	}
	c.token = tok

	fields := []zap.Field{}
	if exp := tok.ExpiresAt(); !exp.IsZero() {
		fields = append(fields, zap.Time("token_expires_at", exp))
	}
	c.runLogger.Info("Signed in.", fields...)
	return nil
}

func (c *Controller) fetchBeneficiaries(ctx context.Context) error {
	bs, err := c.deps.API.Beneficiaries(ctx, c.token)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.cfg.Controller().EscalateFetchErrors {
			return &restartError{cause: fmt.Errorf("beneficiaries: %w", err)}
		}
		c.runLogger.Error("Failed to fetch beneficiaries, continuing without them.", zap.Error(err))
		c.beneficiaries = nil
		return nil
	}
	c.beneficiaries = bs
	c.runLogger.Info("Beneficiaries loaded.", zap.Int("count", len(bs)))
	return nil
}

func (c *Controller) pollForSlot(ctx context.Context) error {
	slots, err := c.deps.Finder.FindEligibleSlots(ctx, c.token, c.beneficiaries)
	if err != nil {
		if errors.Is(err, poller.ErrRoundFailed) {
			return &restartError{cause: err}
		}
		return err
	}
	if len(slots) == 0 {
		return &restartError{cause: fmt.Errorf("%w: no slots returned", poller.ErrRoundFailed)}
	}

	slot := slots[0]
	c.slot = &slot
	c.runLogger.Info("Slot selected.",
		zap.Int("center_id", slot.CenterID),
		zap.String("center_name", slot.CenterName),
		zap.String("session_id", slot.SessionID),
		zap.String("date", slot.Date),
		zap.Int("capacity", slot.AvailableCapacity))
	c.notify(ctx, notify.Event{Kind: notify.SlotFound, Detail: fmt.Sprintf("%s on %s (%d left)", slot.CenterName, slot.Date, slot.AvailableCapacity)})
	return nil
}

func (c *Controller) presentChallenge(ctx context.Context) error {
	site := c.cfg.Site()

	ch, err := c.deps.API.Challenge(ctx, c.token)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.cfg.Controller().EscalateFetchErrors {
			return &restartError{cause: fmt.Errorf("challenge: %w", err)}
		}
		c.runLogger.Error("Failed to fetch challenge.", zap.Error(err))
		return nil
	}

	if err := c.surface.Evaluate(ctx, injectChallengeFn, nil, ch.Markup, site.ChallengeInputID, site.AudioCueURL); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.cfg.Controller().EscalateFetchErrors {
			return &restartError{cause: fmt.Errorf("show challenge: %w", err)}
		}
		c.runLogger.Error("Failed to show challenge.", zap.Error(err))
		return nil
	}

	c.runLogger.Info("Challenge shown, waiting for the operator's answer.")
	c.notify(ctx, notify.Event{Kind: notify.ChallengeReady})
	return nil
}

func (c *Controller) awaitChallenge(ctx context.Context) error {
	site := c.cfg.Site()
	sel := "#" + site.ChallengeInputID

	if err := c.surface.WaitForCondition(ctx, valueLengthFn, 0, sel, site.ChallengeLength); err != nil {
		return fmt.Errorf("challenge answer: %w", err)
	}

	var answer string
	if err := c.surface.Evaluate(ctx, readValueFn, &answer, sel); err != nil {
		return fmt.Errorf("read challenge answer: %w", err)
	}
	c.answer = answer
	return nil
}

func (c *Controller) submitBooking(ctx context.Context) error {
	booking := c.cfg.Booking()

	// An empty list passes every capacity check; never book nobody.
	if len(c.beneficiaries) == 0 {
		c.bookingFailed(ctx, ErrNoBeneficiaries)
		return nil
	}

	slotTime, err := chooseTime(c.slot.Times, booking.SlotIndex)
	if err != nil {
		c.bookingFailed(ctx, err)
		return nil
	}
	if booking.SlotIndex >= len(c.slot.Times) {
		c.runLogger.Warn("Configured slot index out of range, booking the last time slot.",
			zap.Int("slot_index", booking.SlotIndex),
			zap.Int("available", len(c.slot.Times)))
	}

	req := cowin.BookingRequest{
		CenterID:      c.slot.CenterID,
		SessionID:     c.slot.SessionID,
		Beneficiaries: cowin.ReferenceIDs(c.beneficiaries),
		Slot:          slotTime,
		Dose:          booking.Dose,
		Captcha:       c.answer,
	}
	c.result.Request = &req

	resp, err := c.deps.API.Schedule(ctx, c.token, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.bookingFailed(ctx, err)
		return nil
	}

	c.result.ConfirmationNo = resp.ConfirmationNo
	c.runLogger.Info("Booking submitted.",
		zap.Int("center_id", req.CenterID),
		zap.String("session_id", req.SessionID),
		zap.String("slot", req.Slot),
		zap.String("confirmation_no", resp.ConfirmationNo))

	detail := strings.TrimSpace(fmt.Sprintf("%s %s %s", c.slot.CenterName, c.slot.Date, req.Slot))
	if resp.ConfirmationNo != "" {
		detail += ", confirmation " + resp.ConfirmationNo
	}
	c.notify(ctx, notify.Event{Kind: notify.BookingSubmitted, Detail: detail})
	return nil
}

func (c *Controller) bookingFailed(ctx context.Context, err error) {
	c.result.BookingErr = err
	c.runLogger.Error("Booking failed.", zap.Error(err))
	c.notify(ctx, notify.Event{Kind: notify.BookingFailed, Err: err})
}

// chooseTime picks the time at index, falling back to the last entry when the
// list is shorter.
func chooseTime(times []string, index int) (string, error) {
	if len(times) == 0 {
		return "", ErrNoTimeSlots
	}
	if index < 0 {
		index = 0
	}
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index], nil
}
