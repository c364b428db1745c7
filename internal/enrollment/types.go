package enrollment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ClassOffering is a class an instructor publishes with a limited seat count.
// AvailableSeats+TotalEnrolled is conserved across settlements.
type ClassOffering struct {
	ID              string          `json:"_id"`
	InstructorEmail string          `json:"instructorEmail"`
	ClassName       string          `json:"className"`
	Price           decimal.Decimal `json:"price"`
	AvailableSeats  int64           `json:"availableSeats"`
	TotalEnrolled   int64           `json:"totalEnrolled"`
}

// CartItem is a student's pending selection of an offering.
type CartItem struct {
	ID              string          `json:"_id"`
	StudentEmail    string          `json:"studentEmail"`
	ClassOfferingID string          `json:"classOfferingId"`
	Price           decimal.Decimal `json:"price"`
}

// Settlement is the journal entry written in the same atomic step that moves
// one seat from available to enrolled.
type Settlement struct {
	ID              string    `json:"id"`
	ClassOfferingID string    `json:"classOfferingId"`
	StudentEmail    string    `json:"studentEmail"`
	SettledAt       time.Time `json:"settledAt"`
}

// PaymentRecord is the append-only proof that a seat was purchased.
type PaymentRecord struct {
	ID              string          `json:"_id"`
	SettlementID    string          `json:"settlementId"`
	StudentEmail    string          `json:"studentEmail"`
	ClassOfferingID string          `json:"classOfferingId"`
	Amount          decimal.Decimal `json:"amount"`
	AmountMinor     int64           `json:"amountMinor"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SeatUpdateResult is the post-update offering snapshot of one settlement.
type SeatUpdateResult struct {
	SettlementID    string    `json:"settlementId"`
	ClassOfferingID string    `json:"classOfferingId"`
	AvailableSeats  int64     `json:"availableSeats"`
	TotalEnrolled   int64     `json:"totalEnrolled"`
	SettledAt       time.Time `json:"settledAt"`
}

// PaymentWriteResult reports the outcome of persisting the payment record.
type PaymentWriteResult struct {
	Acknowledged bool           `json:"acknowledged"`
	InsertedID   string         `json:"insertedId,omitempty"`
	Record       *PaymentRecord `json:"record,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// SettlementRequest is one payment-completion call from an authenticated student.
type SettlementRequest struct {
	StudentEmail    string
	ClassOfferingID string
	Amount          decimal.Decimal
}

// SettlementResult combines the seat and payment outcomes. SeatUpdate is set
// whenever a seat was actually moved, even if the payment write then failed.
type SettlementResult struct {
	SeatUpdate       *SeatUpdateResult  `json:"seatUpdateResult"`
	PaymentWrite     PaymentWriteResult `json:"paymentWriteResult"`
	CartItemsRemoved int64              `json:"cartItemsRemoved"`
}

var (
	ErrNotFound           = errors.New("class offering not found")
	ErrSeatsExhausted     = errors.New("no seats available")
	ErrInvalidAmount      = errors.New("invalid amount (must be > 0)")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPaymentWriteFailed = errors.New("seat settled but payment record was not written")
)
