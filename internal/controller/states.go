package controller

import "fmt"

// State is a step of the booking workflow.
type State int

const (
	StateStart State = iota
	StateLaunchSurface
	StateAuthenticate
	StateAwaitOTP
	StateSubmitOTP
	StateAwaitDashboard
	StateFetchBeneficiaries
	StatePollForSlot
	StatePresentChallenge
	StateAwaitChallenge
	StateSubmitBooking
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateStart:              "Start",
	StateLaunchSurface:      "LaunchSurface",
	StateAuthenticate:       "Authenticate",
	StateAwaitOTP:           "AwaitOTP",
	StateSubmitOTP:          "SubmitOTP",
	StateAwaitDashboard:     "AwaitDashboard",
	StateFetchBeneficiaries: "FetchBeneficiaries",
	StatePollForSlot:        "PollForSlot",
	StatePresentChallenge:   "PresentChallenge",
	StateAwaitChallenge:     "AwaitChallenge",
	StateSubmitBooking:      "SubmitBooking",
	StateDone:               "Done",
	StateFailed:             "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
