package enrollment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"codelab.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Seat
// settlement holds the write lock across check and update, which makes it the
// in-process equivalent of an update-if-predicate-holds.
type InMemory struct {
	mu          sync.RWMutex
	offerings   map[string]*ClassOffering
	carts       map[string]CartItem
	payments    []PaymentRecord
	settlements []Settlement
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		offerings: make(map[string]*ClassOffering),
		carts:     make(map[string]CartItem),
	}
}

// PutOffering inserts or replaces an offering. An empty ID is generated.
func (s *InMemory) PutOffering(o ClassOffering) ClassOffering {
	if o.ID == "" {
		o.ID = ids.New("cls")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := o
	s.offerings[o.ID] = &cp
	return o
}

// AddCartItem stores a cart item. An empty ID is generated.
func (s *InMemory) AddCartItem(item CartItem) CartItem {
	if item.ID == "" {
		item.ID = ids.New("cart")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[item.ID] = item
	return item
}

func (s *InMemory) GetOffering(ctx context.Context, id string) (ClassOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offerings[id]
	if !ok {
		return ClassOffering{}, ErrNotFound
	}
	return *o, nil
}

func (s *InMemory) ListOfferings(ctx context.Context, instructorEmail string) ([]ClassOffering, error) {
	instructorEmail = strings.TrimSpace(instructorEmail)
	s.mu.RLock()
	out := make([]ClassOffering, 0, len(s.offerings))
	for _, o := range s.offerings {
		if instructorEmail != "" && o.InstructorEmail != instructorEmail {
			continue
		}
		out = append(out, *o)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) SettleSeat(ctx context.Context, st Settlement) (SeatUpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offerings[st.ClassOfferingID]
	if !ok {
		return SeatUpdateResult{}, ErrNotFound
	}
	if o.AvailableSeats <= 0 {
		return SeatUpdateResult{}, ErrSeatsExhausted
	}
	o.AvailableSeats--
	o.TotalEnrolled++
	s.settlements = append(s.settlements, st)

	return SeatUpdateResult{
		SettlementID:    st.ID,
		ClassOfferingID: o.ID,
		AvailableSeats:  o.AvailableSeats,
		TotalEnrolled:   o.TotalEnrolled,
		SettledAt:       st.SettledAt,
	}, nil
}

func (s *InMemory) InsertPayment(ctx context.Context, rec PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, rec)
	return nil
}

func (s *InMemory) PaymentsByStudent(ctx context.Context, email string) ([]PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PaymentRecord
	for _, p := range s.payments {
		if p.StudentEmail == email {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemory) DeleteCartItems(ctx context.Context, studentEmail, classOfferingID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.carts {
		if item.StudentEmail == studentEmail && item.ClassOfferingID == classOfferingID {
			delete(s.carts, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemory) UnpaidSettlements(ctx context.Context, before time.Time) ([]Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paid := make(map[string]struct{}, len(s.payments))
	for _, p := range s.payments {
		paid[p.SettlementID] = struct{}{}
	}
	var out []Settlement
	for _, st := range s.settlements {
		if _, ok := paid[st.ID]; ok || !st.SettledAt.Before(before) {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *InMemory) Ping(ctx context.Context) error { return nil }
