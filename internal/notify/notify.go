// Package notify delivers out-of-band messages to the operator while a run
// waits on them (OTP entry, challenge answer) or finishes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Kind identifies what happened.
type Kind int

const (
	OTPRequested Kind = iota + 1
	SlotFound
	ChallengeReady
	BookingSubmitted
	BookingFailed
	Restarting
)

func (k Kind) String() string {
	switch k {
	case OTPRequested:
		return "otp_requested"
	case SlotFound:
		return "slot_found"
	case ChallengeReady:
		return "challenge_ready"
	case BookingSubmitted:
		return "booking_submitted"
	case BookingFailed:
		return "booking_failed"
	case Restarting:
		return "restarting"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single operator notification.
type Event struct {
	Kind   Kind
	RunID  string
	Detail string
	Err    error
}

// Text renders the event as a short human-readable line.
func (e Event) Text() string {
	var b strings.Builder
	switch e.Kind {
	case OTPRequested:
		b.WriteString("OTP requested, enter it in the browser window")
	case SlotFound:
		b.WriteString("Slot found")
	case ChallengeReady:
		b.WriteString("Challenge shown, type the answer in the browser window")
	case BookingSubmitted:
		b.WriteString("Booking submitted")
	case BookingFailed:
		b.WriteString("Booking failed")
	case Restarting:
		b.WriteString("Restarting session")
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(" (")
		b.WriteString(e.Err.Error())
		b.WriteString(")")
	}
	if e.RunID != "" {
		b.WriteString(" [run ")
		b.WriteString(e.RunID)
		b.WriteString("]")
	}
	return b.String()
}

// Notifier sends events to the operator.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Log writes events to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a notifier that logs events at info level.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) Notify(_ context.Context, ev Event) error {
	fields := []zap.Field{zap.Stringer("kind", ev.Kind), zap.String("run_id", ev.RunID)}
	if ev.Detail != "" {
		fields = append(fields, zap.String("detail", ev.Detail))
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
		l.logger.Warn(ev.Text(), fields...)
		return nil
	}
	l.logger.Info(ev.Text(), fields...)
	return nil
}

// Multi fans an event out to several notifiers. Every notifier is tried; the
// failures are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
