package enrollment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codelab.org/internal/ids"
	"codelab.org/internal/obs"
)

// SeatLedger owns the available/enrolled invariant of class offerings.
// Atomicity is delegated to Store.SettleSeat; no lock is held here, so any
// number of requests may call Settle concurrently.
type SeatLedger struct {
	store Store
	now   func() time.Time
}

// NewSeatLedger builds a ledger over store. A nil clock means time.Now.
func NewSeatLedger(store Store, now func() time.Time) *SeatLedger {
	if now == nil {
		now = time.Now
	}
	return &SeatLedger{store: store, now: now}
}

// Settle moves one seat of the offering from available to enrolled on behalf
// of studentEmail. It returns the post-update snapshot, or ErrSeatsExhausted
// with nothing written.
func (l *SeatLedger) Settle(ctx context.Context, classOfferingID, studentEmail string) (SeatUpdateResult, error) {
	classOfferingID = strings.TrimSpace(classOfferingID)
	if classOfferingID == "" {
		return SeatUpdateResult{}, fmt.Errorf("%w: class offering id is required", ErrInvalidInput)
	}

	st := Settlement{
		ID:              ids.New("set"),
		ClassOfferingID: classOfferingID,
		StudentEmail:    studentEmail,
		SettledAt:       l.now().UTC(),
	}
	res, err := l.store.SettleSeat(ctx, st)
	if err != nil {
		return SeatUpdateResult{}, err
	}
	if res.AvailableSeats < 0 {
		// Only reachable if a store implementation drops the predicate.
		obs.Error("seat_ledger_negative_seats", map[string]any{
			"class_offering_id": classOfferingID,
			"settlement_id":     st.ID,
			"available_seats":   res.AvailableSeats,
		})
		return res, fmt.Errorf("seat ledger: negative seat count for %s", classOfferingID)
	}
	return res, nil
}
