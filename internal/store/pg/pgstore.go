package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"codelab.org/internal/enrollment"
)

type Store struct {
	db *sql.DB
}

var _ enrollment.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (used with sqlmock in tests).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const offeringColumns = `id, instructor_email, class_name, price, available_seats, total_enrolled`

func (s *Store) GetOffering(ctx context.Context, id string) (enrollment.ClassOffering, error) {
	var o enrollment.ClassOffering
	err := s.db.QueryRowContext(ctx, `select `+offeringColumns+` from class_offerings where id=$1`, id).
		Scan(&o.ID, &o.InstructorEmail, &o.ClassName, &o.Price, &o.AvailableSeats, &o.TotalEnrolled)
	if errors.Is(err, sql.ErrNoRows) {
		return enrollment.ClassOffering{}, enrollment.ErrNotFound
	}
	if err != nil {
		return enrollment.ClassOffering{}, err
	}
	return o, nil
}

func (s *Store) ListOfferings(ctx context.Context, instructorEmail string) ([]enrollment.ClassOffering, error) {
	query := `select ` + offeringColumns + ` from class_offerings`
	var args []any
	if email := strings.TrimSpace(instructorEmail); email != "" {
		query += ` where instructor_email=$1`
		args = append(args, email)
	}
	query += ` order by id asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []enrollment.ClassOffering{}
	for rows.Next() {
		var o enrollment.ClassOffering
		if err := rows.Scan(&o.ID, &o.InstructorEmail, &o.ClassName, &o.Price, &o.AvailableSeats, &o.TotalEnrolled); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// SettleSeat is a single statement: the update only matches while
// available_seats > 0, and the journal insert only fires for a matched row.
// Concurrent callers serialize on the row lock taken by the update and
// re-evaluate the predicate against the committed value.
func (s *Store) SettleSeat(ctx context.Context, st enrollment.Settlement) (enrollment.SeatUpdateResult, error) {
	var res enrollment.SeatUpdateResult
	err := s.db.QueryRowContext(ctx, `
		with upd as (
			update class_offerings
			set available_seats = available_seats - 1,
			    total_enrolled = total_enrolled + 1
			where id = $1 and available_seats > 0
			returning id, available_seats, total_enrolled
		), journal as (
			insert into seat_settlements(id, class_offering_id, student_email, settled_at)
			select $2, upd.id, $3, $4 from upd
			returning id
		)
		select upd.id, upd.available_seats, upd.total_enrolled from upd
	`, st.ClassOfferingID, st.ID, st.StudentEmail, st.SettledAt).
		Scan(&res.ClassOfferingID, &res.AvailableSeats, &res.TotalEnrolled)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from class_offerings where id=$1)`, st.ClassOfferingID).Scan(&exists); err != nil {
			return enrollment.SeatUpdateResult{}, err
		}
		if !exists {
			return enrollment.SeatUpdateResult{}, enrollment.ErrNotFound
		}
		return enrollment.SeatUpdateResult{}, enrollment.ErrSeatsExhausted
	}
	if err != nil {
		return enrollment.SeatUpdateResult{}, err
	}
	res.SettlementID = st.ID
	res.SettledAt = st.SettledAt
	return res, nil
}

func (s *Store) InsertPayment(ctx context.Context, rec enrollment.PaymentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into payments(id, settlement_id, student_email, class_offering_id, amount, amount_minor, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.SettlementID, rec.StudentEmail, rec.ClassOfferingID, rec.Amount, rec.AmountMinor, rec.CreatedAt)
	return err
}

func (s *Store) PaymentsByStudent(ctx context.Context, email string) ([]enrollment.PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, settlement_id, student_email, class_offering_id, amount, amount_minor, created_at
		from payments
		where student_email=$1
		order by created_at asc, id asc
	`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []enrollment.PaymentRecord{}
	for rows.Next() {
		var p enrollment.PaymentRecord
		if err := rows.Scan(&p.ID, &p.SettlementID, &p.StudentEmail, &p.ClassOfferingID, &p.Amount, &p.AmountMinor, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Store) DeleteCartItems(ctx context.Context, studentEmail, classOfferingID string) (int64, error) {
	out, err := s.db.ExecContext(ctx,
		`delete from cart_items where student_email=$1 and class_offering_id=$2`, studentEmail, classOfferingID)
	if err != nil {
		return 0, err
	}
	return out.RowsAffected()
}

func (s *Store) UnpaidSettlements(ctx context.Context, before time.Time) ([]enrollment.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, `
		select s.id, s.class_offering_id, s.student_email, s.settled_at
		from seat_settlements s
		left join payments p on p.settlement_id = s.id
		where p.id is null and s.settled_at < $1
		order by s.settled_at asc
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []enrollment.Settlement
	for rows.Next() {
		var st enrollment.Settlement
		if err := rows.Scan(&st.ID, &st.ClassOfferingID, &st.StudentEmail, &st.SettledAt); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}
