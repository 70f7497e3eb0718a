package cowin

// Centre is a vaccination centre and the sessions it offers in a calendar window.
type Centre struct {
	CenterID     int       `json:"center_id"`
	Name         string    `json:"name"`
	DistrictName string    `json:"district_name"`
	Pincode      int       `json:"pincode"`
	FeeType      string    `json:"fee_type"`
	Sessions     []Session `json:"sessions"`
}

// Session is one day of appointments at a centre.
type Session struct {
	SessionID         string   `json:"session_id"`
	Date              string   `json:"date"`
	AvailableCapacity int      `json:"available_capacity"`
	MinAgeLimit       int      `json:"min_age_limit"`
	Vaccine           string   `json:"vaccine"`
	Slots             []string `json:"slots"`
}

// CalendarResponse is the payload of the calendar-by-district endpoint.
type CalendarResponse struct {
	Centers []Centre `json:"centers"`
}

// Beneficiary is a person registered under the authenticated account.
type Beneficiary struct {
	ReferenceID      string `json:"beneficiary_reference_id"`
	Name             string `json:"name"`
	BirthYear        string `json:"birth_year"`
	VaccinationState string `json:"vaccination_status"`
}

// BeneficiariesResponse is the payload of the beneficiaries endpoint.
type BeneficiariesResponse struct {
	Beneficiaries []Beneficiary `json:"beneficiaries"`
}

// Challenge carries the visual puzzle markup gating the booking call.
type Challenge struct {
	Markup string `json:"captcha"`
}

// BookingRequest is the body of the schedule call.
type BookingRequest struct {
	CenterID      int      `json:"center_id"`
	SessionID     string   `json:"session_id"`
	Beneficiaries []string `json:"beneficiaries"`
	Slot          string   `json:"slot"`
	Dose          int      `json:"dose"`
	Captcha       string   `json:"captcha"`
}

// ScheduleResponse is what the schedule call returns on success.
type ScheduleResponse struct {
	ConfirmationNo string `json:"appointment_confirmation_no"`
}

// ReferenceIDs returns the reference ids of bs in order.
func ReferenceIDs(bs []Beneficiary) []string {
	ids := make([]string, 0, len(bs))
	for _, b := range bs {
		ids = append(ids, b.ReferenceID)
	}
	return ids
}
