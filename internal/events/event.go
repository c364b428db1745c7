// Package events distributes settled enrollments to SSE subscribers and, when
// configured, to a Kafka topic.
package events

import (
	"time"

	"github.com/google/uuid"

	"codelab.org/internal/enrollment"
)

const TypeEnrollmentSettled = "enrollment.settled"

// EnrollmentEvent describes one settled seat.
type EnrollmentEvent struct {
	EventID         string    `json:"eventId"`
	Type            string    `json:"type"`
	SettlementID    string    `json:"settlementId"`
	PaymentID       string    `json:"paymentId,omitempty"`
	ClassOfferingID string    `json:"classOfferingId"`
	StudentEmail    string    `json:"studentEmail,omitempty"`
	AvailableSeats  int64     `json:"availableSeats"`
	TotalEnrolled   int64     `json:"totalEnrolled"`
	AmountMinor     int64     `json:"amountMinor,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// FromResult builds the event for a completed settlement. ok is false when no
// seat was moved.
func FromResult(res enrollment.SettlementResult) (EnrollmentEvent, bool) {
	if res.SeatUpdate == nil {
		return EnrollmentEvent{}, false
	}
	evt := EnrollmentEvent{
		EventID:         uuid.NewString(),
		Type:            TypeEnrollmentSettled,
		SettlementID:    res.SeatUpdate.SettlementID,
		ClassOfferingID: res.SeatUpdate.ClassOfferingID,
		AvailableSeats:  res.SeatUpdate.AvailableSeats,
		TotalEnrolled:   res.SeatUpdate.TotalEnrolled,
		OccurredAt:      res.SeatUpdate.SettledAt,
	}
	if rec := res.PaymentWrite.Record; rec != nil {
		evt.PaymentID = rec.ID
		evt.StudentEmail = rec.StudentEmail
		evt.AmountMinor = rec.AmountMinor
	}
	return evt, true
}

// Public strips fields that identify the student.
func (e EnrollmentEvent) Public() EnrollmentEvent {
	e.StudentEmail = ""
	e.PaymentID = ""
	e.AmountMinor = 0
	return e
}
