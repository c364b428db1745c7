package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codelab.org/internal/audit"
	"codelab.org/internal/ids"
	"codelab.org/internal/money"
	"codelab.org/internal/obs"
)

// Observer is notified after a settlement has been fully recorded.
// Implementations must not block.
type Observer interface {
	Settled(ctx context.Context, res SettlementResult)
}

// Service orchestrates payment completion: offering lookup, seat settlement,
// payment record, cart cleanup.
type Service struct {
	store     Store
	ledger    *SeatLedger
	observers []Observer
	now       func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithObserver registers an observer for completed settlements.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = NewSeatLedger(store, s.now)
	return s
}

// Settle executes one settlement. The payment record is written only after
// the seat was settled. If that write fails the returned result still carries
// SeatUpdate and the error wraps ErrPaymentWriteFailed.
func (s *Service) Settle(ctx context.Context, req SettlementRequest) (SettlementResult, error) {
	email := strings.TrimSpace(req.StudentEmail)
	offeringID := strings.TrimSpace(req.ClassOfferingID)
	if email == "" || offeringID == "" {
		return SettlementResult{}, fmt.Errorf("%w: student and class offering are required", ErrInvalidInput)
	}
	amount, minor, err := money.Normalize(req.Amount)
	if err != nil {
		return SettlementResult{}, ErrInvalidAmount
	}

	if _, err := s.store.GetOffering(ctx, offeringID); err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveSettlement(obs.OutcomeNotFound)
		} else {
			obs.ObserveSettlement(obs.OutcomeError)
		}
		return SettlementResult{}, err
	}

	// Past this point the flow runs to a defined outcome even if the caller cancels.
	ctx = context.WithoutCancel(ctx)

	seat, err := s.ledger.Settle(ctx, offeringID, email)
	if err != nil {
		switch {
		case errors.Is(err, ErrSeatsExhausted):
			obs.ObserveSettlement(obs.OutcomeSeatsExhausted)
		case errors.Is(err, ErrNotFound):
			obs.ObserveSettlement(obs.OutcomeNotFound)
		default:
			obs.ObserveSettlement(obs.OutcomeError)
		}
		_ = audit.LogEvent(ctx, "enrollment.settlement.rejected", map[string]any{
			"class_offering_id": offeringID,
			"reason":            err.Error(),
		})
		return SettlementResult{}, err
	}
	res := SettlementResult{SeatUpdate: &seat}

	rec := PaymentRecord{
		ID:              ids.New("pay"),
		SettlementID:    seat.SettlementID,
		StudentEmail:    email,
		ClassOfferingID: offeringID,
		Amount:          amount,
		AmountMinor:     minor,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.InsertPayment(ctx, rec); err != nil {
		res.PaymentWrite = PaymentWriteResult{Error: err.Error()}
		obs.ObserveSettlement(obs.OutcomePaymentWriteFailed)
		obs.Error("settlement_payment_write_failed", map[string]any{
			"settlement_id":     seat.SettlementID,
			"class_offering_id": offeringID,
			"student_email":     email,
			"amount":            amount.StringFixed(2),
			"settled_at":        seat.SettledAt.Format(time.RFC3339Nano),
			"error":             err.Error(),
		})
		_ = audit.LogEvent(ctx, "enrollment.settlement.orphaned", map[string]any{
			"settlement_id":     seat.SettlementID,
			"class_offering_id": offeringID,
			"student_email":     email,
		})
		return res, fmt.Errorf("%w: %w", ErrPaymentWriteFailed, err)
	}
	res.PaymentWrite = PaymentWriteResult{Acknowledged: true, InsertedID: rec.ID, Record: &rec}

	removed, err := s.store.DeleteCartItems(ctx, email, offeringID)
	if err != nil {
		obs.Warn("cart_cleanup_failed", map[string]any{
			"class_offering_id": offeringID,
			"student_email":     email,
			"error":             err.Error(),
		})
	}
	res.CartItemsRemoved = removed

	obs.ObserveSettlement(obs.OutcomeSettled)
	_ = audit.LogEvent(ctx, "enrollment.settlement.completed", map[string]any{
		"settlement_id":     seat.SettlementID,
		"payment_id":        rec.ID,
		"class_offering_id": offeringID,
		"available_seats":   seat.AvailableSeats,
		"total_enrolled":    seat.TotalEnrolled,
	})
	for _, o := range s.observers {
		o.Settled(ctx, res)
	}
	return res, nil
}

// EnrolledByStudent lists the payment records of a student.
func (s *Service) EnrolledByStudent(ctx context.Context, email string) ([]PaymentRecord, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	recs, err := s.store.PaymentsByStudent(ctx, email)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []PaymentRecord{}
	}
	return recs, nil
}

// Orphans lists settlements older than olderThan that never got a payment
// record. A grace period keeps in-flight settlements out of the report.
func (s *Service) Orphans(ctx context.Context, olderThan time.Duration) ([]Settlement, error) {
	if olderThan < 0 {
		olderThan = 0
	}
	return s.store.UnpaidSettlements(ctx, s.now().UTC().Add(-olderThan))
}
