package enrollment

import (
	"context"
	"time"
)

// Catalog is the read side over class offerings. Reads may be stale.
type Catalog interface {
	GetOffering(ctx context.Context, id string) (ClassOffering, error)
	ListOfferings(ctx context.Context, instructorEmail string) ([]ClassOffering, error)
}

// Store is the document store the settlement path depends on.
type Store interface {
	Catalog

	// SettleSeat moves one seat from available to enrolled and journals the
	// settlement in a single atomic conditional update. It fails with
	// ErrSeatsExhausted, performing no write, when no seat is available at
	// write time, and with ErrNotFound when the offering does not exist.
	SettleSeat(ctx context.Context, s Settlement) (SeatUpdateResult, error)

	// InsertPayment appends an immutable payment record.
	InsertPayment(ctx context.Context, rec PaymentRecord) error
	PaymentsByStudent(ctx context.Context, email string) ([]PaymentRecord, error)

	DeleteCartItems(ctx context.Context, studentEmail, classOfferingID string) (int64, error)

	// UnpaidSettlements lists settlements made before the cutoff that have no
	// payment record.
	UnpaidSettlements(ctx context.Context, before time.Time) ([]Settlement, error)

	Ping(ctx context.Context) error
}
