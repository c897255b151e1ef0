// internal/circulation/repository.go
package circulation

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libradesk/internal/store"
	"libradesk/internal/store/memstore"
	"libradesk/internal/store/pgstore"
)

// LoanFilter narrows ListLoans. Zero fields match everything.
type LoanFilter struct {
	MemberID uuid.NullUUID
	Status   LoanStatus
}

// ReservationFilter narrows ListReservations. Zero fields match everything.
type ReservationFilter struct {
	MemberID uuid.NullUUID
	BookID   uuid.NullUUID
	Status   ReservationStatus
}

type LoanRepository interface {
	store.Repository[Loan]
	List(ctx context.Context, filter LoanFilter) ([]Loan, error)
	// CountOpen counts the member's ACTIVE and OVERDUE loans.
	CountOpen(ctx context.Context, memberID uuid.UUID) (int, error)
	// FindPastDue returns ACTIVE loans due before now.
	FindPastDue(ctx context.Context, now time.Time) ([]Loan, error)
}

type ReservationRepository interface {
	store.Repository[Reservation]
	List(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	// OldestPending returns the first PENDING reservation for the book, or
	// store.ErrNotFound.
	OldestPending(ctx context.Context, bookID uuid.UUID) (Reservation, error)
	FindOpen(ctx context.Context, memberID, bookID uuid.UUID) (Reservation, error)
	FindReadyForCopy(ctx context.Context, copyID uuid.UUID) (Reservation, error)
	// CountPendingByOthers counts PENDING reservations for the book held by
	// anyone but memberID.
	CountPendingByOthers(ctx context.Context, bookID, memberID uuid.UUID) (int, error)
	FindStaleReady(ctx context.Context, now time.Time) ([]Reservation, error)
}

type PenaltyRepository interface {
	store.Repository[Penalty]
	ExistsForLoan(ctx context.Context, loanID uuid.UUID) (bool, error)
	// Assess stores p unless its loan already has a penalty and reports
	// whether it was stored.
	Assess(ctx context.Context, p Penalty) (bool, error)
	List(ctx context.Context, memberID uuid.NullUUID) ([]Penalty, error)
	// OutstandingTotal sums the member's OUTSTANDING penalties.
	OutstandingTotal(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error)
}

type Repositories struct {
	Loans        LoanRepository
	Reservations ReservationRepository
	Penalties    PenaltyRepository
}

func NewPostgresRepositories(db *pgstore.DB) Repositories {
	return Repositories{
		Loans:        &pgLoans{Table: pgstore.NewTable[Loan](db, "loans", "id", "loaned_at")},
		Reservations: &pgReservations{Table: pgstore.NewTable[Reservation](db, "reservations", "id", "created_at")},
		Penalties:    &pgPenalties{Table: pgstore.NewTable[Penalty](db, "penalties", "id", "created_at")},
	}
}

var openLoanStatuses = []LoanStatus{LoanActive, LoanOverdue}

type pgLoans struct {
	*pgstore.Table[Loan]
}

func (r *pgLoans) List(ctx context.Context, filter LoanFilter) ([]Loan, error) {
	where := make([]exp.Expression, 0, 2)
	if filter.MemberID.Valid {
		where = append(where, goqu.Ex{"member_id": filter.MemberID.UUID})
	}
	if filter.Status != "" {
		where = append(where, goqu.Ex{"status": filter.Status})
	}
	return r.FindMany(ctx, where...)
}

func (r *pgLoans) CountOpen(ctx context.Context, memberID uuid.UUID) (int, error) {
	n, err := r.Count(ctx, goqu.Ex{"member_id": memberID, "status": openLoanStatuses})
	return int(n), err
}

func (r *pgLoans) FindPastDue(ctx context.Context, now time.Time) ([]Loan, error) {
	return r.FindMany(ctx, goqu.Ex{"status": LoanActive}, goqu.C("due_date").Lt(now))
}

type pgReservations struct {
	*pgstore.Table[Reservation]
}

func (r *pgReservations) List(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	where := make([]exp.Expression, 0, 3)
	if filter.MemberID.Valid {
		where = append(where, goqu.Ex{"member_id": filter.MemberID.UUID})
	}
	if filter.BookID.Valid {
		where = append(where, goqu.Ex{"book_id": filter.BookID.UUID})
	}
	if filter.Status != "" {
		where = append(where, goqu.Ex{"status": filter.Status})
	}
	return r.FindMany(ctx, where...)
}

func (r *pgReservations) OldestPending(ctx context.Context, bookID uuid.UUID) (Reservation, error) {
	return r.FindOne(ctx, goqu.Ex{"book_id": bookID, "status": ReservationPending})
}

func (r *pgReservations) FindOpen(ctx context.Context, memberID, bookID uuid.UUID) (Reservation, error) {
	return r.FindOne(ctx, goqu.Ex{
		"member_id": memberID,
		"book_id":   bookID,
		"status":    []ReservationStatus{ReservationPending, ReservationReady},
	})
}

func (r *pgReservations) FindReadyForCopy(ctx context.Context, copyID uuid.UUID) (Reservation, error) {
	return r.FindOne(ctx, goqu.Ex{"copy_id": copyID, "status": ReservationReady})
}

func (r *pgReservations) CountPendingByOthers(ctx context.Context, bookID, memberID uuid.UUID) (int, error) {
	n, err := r.Count(ctx,
		goqu.Ex{"book_id": bookID, "status": ReservationPending},
		goqu.C("member_id").Neq(memberID),
	)
	return int(n), err
}

func (r *pgReservations) FindStaleReady(ctx context.Context, now time.Time) ([]Reservation, error) {
	return r.FindMany(ctx, goqu.Ex{"status": ReservationReady}, goqu.C("pickup_by").Lt(now))
}

type pgPenalties struct {
	*pgstore.Table[Penalty]
}

func (r *pgPenalties) ExistsForLoan(ctx context.Context, loanID uuid.UUID) (bool, error) {
	n, err := r.Count(ctx, goqu.Ex{"loan_id": loanID})
	return n > 0, err
}

func (r *pgPenalties) Assess(ctx context.Context, p Penalty) (bool, error) {
	return r.InsertIgnore(ctx, p)
}

func (r *pgPenalties) List(ctx context.Context, memberID uuid.NullUUID) ([]Penalty, error) {
	if memberID.Valid {
		return r.FindMany(ctx, goqu.Ex{"member_id": memberID.UUID})
	}
	return r.FindAll(ctx)
}

func (r *pgPenalties) OutstandingTotal(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	ds := r.From().
		Select(goqu.COALESCE(goqu.SUM("amount"), 0)).
		Where(goqu.Ex{"member_id": memberID, "status": PenaltyOutstanding})
	if err := r.Scalar(ctx, &total, ds); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func NewMemoryRepositories() Repositories {
	loans := memstore.NewTable(func(l Loan) uuid.UUID { return l.ID }).
		Unique("loans_one_open_per_copy", func(l Loan) (string, bool) { return l.CopyID.String(), l.IsOpen() })
	reservations := memstore.NewTable(func(r Reservation) uuid.UUID { return r.ID })
	penalties := memstore.NewTable(func(p Penalty) uuid.UUID { return p.ID }).
		Unique("penalties_one_per_loan", func(p Penalty) (string, bool) { return p.LoanID.String(), true })

	return Repositories{
		Loans:        &memLoans{Table: loans},
		Reservations: &memReservations{Table: reservations},
		Penalties:    &memPenalties{Table: penalties},
	}
}

type memLoans struct {
	*memstore.Table[Loan]
}

func (r *memLoans) List(ctx context.Context, filter LoanFilter) ([]Loan, error) {
	return r.Filter(ctx, func(l Loan) bool {
		return (!filter.MemberID.Valid || l.MemberID == filter.MemberID.UUID) &&
			(filter.Status == "" || l.Status == filter.Status)
	})
}

func (r *memLoans) CountOpen(ctx context.Context, memberID uuid.UUID) (int, error) {
	open, err := r.Filter(ctx, func(l Loan) bool { return l.MemberID == memberID && l.IsOpen() })
	return len(open), err
}

func (r *memLoans) FindPastDue(ctx context.Context, now time.Time) ([]Loan, error) {
	return r.Filter(ctx, func(l Loan) bool { return l.Status == LoanActive && l.DueDate.Before(now) })
}

type memReservations struct {
	*memstore.Table[Reservation]
}

func (r *memReservations) List(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	return r.Filter(ctx, func(res Reservation) bool {
		return (!filter.MemberID.Valid || res.MemberID == filter.MemberID.UUID) &&
			(!filter.BookID.Valid || res.BookID == filter.BookID.UUID) &&
			(filter.Status == "" || res.Status == filter.Status)
	})
}

func (r *memReservations) OldestPending(ctx context.Context, bookID uuid.UUID) (Reservation, error) {
	return r.First(ctx, func(res Reservation) bool {
		return res.BookID == bookID && res.Status == ReservationPending
	})
}

func (r *memReservations) FindOpen(ctx context.Context, memberID, bookID uuid.UUID) (Reservation, error) {
	return r.First(ctx, func(res Reservation) bool {
		return res.MemberID == memberID && res.BookID == bookID && res.IsOpen()
	})
}

func (r *memReservations) FindReadyForCopy(ctx context.Context, copyID uuid.UUID) (Reservation, error) {
	return r.First(ctx, func(res Reservation) bool {
		return res.Status == ReservationReady && res.CopyID.Valid && res.CopyID.UUID == copyID
	})
}

func (r *memReservations) CountPendingByOthers(ctx context.Context, bookID, memberID uuid.UUID) (int, error) {
	pending, err := r.Filter(ctx, func(res Reservation) bool {
		return res.BookID == bookID && res.MemberID != memberID && res.Status == ReservationPending
	})
	return len(pending), err
}

func (r *memReservations) FindStaleReady(ctx context.Context, now time.Time) ([]Reservation, error) {
	return r.Filter(ctx, func(res Reservation) bool {
		return res.Status == ReservationReady && res.PickupBy != nil && res.PickupBy.Before(now)
	})
}

type memPenalties struct {
	*memstore.Table[Penalty]
}

func (r *memPenalties) ExistsForLoan(ctx context.Context, loanID uuid.UUID) (bool, error) {
	found, err := r.Filter(ctx, func(p Penalty) bool { return p.LoanID == loanID })
	return len(found) > 0, err
}

func (r *memPenalties) Assess(ctx context.Context, p Penalty) (bool, error) {
	if err := r.Save(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *memPenalties) List(ctx context.Context, memberID uuid.NullUUID) ([]Penalty, error) {
	return r.Filter(ctx, func(p Penalty) bool { return !memberID.Valid || p.MemberID == memberID.UUID })
}

func (r *memPenalties) OutstandingTotal(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error) {
	outstanding, err := r.Filter(ctx, func(p Penalty) bool {
		return p.MemberID == memberID && p.Status == PenaltyOutstanding
	})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range outstanding {
		total = total.Add(p.Amount)
	}
	return total, nil
}
