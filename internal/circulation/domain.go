// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanOverdue  LoanStatus = "OVERDUE"
	LoanReturned LoanStatus = "RETURNED"
)

// Loan records one copy lent to one member.
type Loan struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	MemberID   uuid.UUID  `json:"member_id" db:"member_id"`
	CopyID     uuid.UUID  `json:"copy_id" db:"copy_id"`
	BookID     uuid.UUID  `json:"book_id" db:"book_id"`
	LoanedAt   time.Time  `json:"loaned_at" db:"loaned_at"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnedAt *time.Time `json:"returned_at,omitempty" db:"returned_at"`
	Extensions int        `json:"extensions" db:"extensions"`
	Status     LoanStatus `json:"status" db:"status"`
}

// IsOpen reports whether the copy is still out.
func (l Loan) IsOpen() bool {
	return l.Status != LoanReturned
}

// DaysOverdue counts whole UTC calendar days between the due date and the
// return date, or now for a loan still out. Never negative.
func (l Loan) DaysOverdue(now time.Time) int {
	ref := now
	if l.ReturnedAt != nil {
		ref = *l.ReturnedAt
	}
	days := int(utcDate(ref).Sub(utcDate(l.DueDate)) / (24 * time.Hour))
	return max(days, 0)
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ReservationStatus is the lifecycle state of a hold request.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationReady     ReservationStatus = "READY"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Reservation is a member's request for the next free copy of a book.
// CopyID is set once a copy is held for pickup.
type Reservation struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	MemberID  uuid.UUID         `json:"member_id" db:"member_id"`
	BookID    uuid.UUID         `json:"book_id" db:"book_id"`
	CopyID    uuid.NullUUID     `json:"copy_id" db:"copy_id"`
	Status    ReservationStatus `json:"status" db:"status"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	ReadyAt   *time.Time        `json:"ready_at,omitempty" db:"ready_at"`
	PickupBy  *time.Time        `json:"pickup_by,omitempty" db:"pickup_by"`
}

// IsOpen reports whether the reservation still waits for pickup.
func (r Reservation) IsOpen() bool {
	return r.Status == ReservationPending || r.Status == ReservationReady
}

// PenaltyStatus is the settlement state of a penalty.
type PenaltyStatus string

const (
	PenaltyOutstanding PenaltyStatus = "OUTSTANDING"
	PenaltyPaid        PenaltyStatus = "PAID"
	PenaltyWaived      PenaltyStatus = "WAIVED"
)

// Penalty is the late fee charged for one loan.
type Penalty struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	MemberID    uuid.UUID       `json:"member_id" db:"member_id"`
	LoanID      uuid.UUID       `json:"loan_id" db:"loan_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	DaysOverdue int             `json:"days_overdue" db:"days_overdue"`
	Status      PenaltyStatus   `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	SettledAt   *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
}

// Standing summarises whether a member may borrow.
type Standing struct {
	MemberID    uuid.UUID
	OpenLoans   int
	Outstanding decimal.Decimal
	Blocked     bool
}

// ReturnResult is what a return produced besides the closed loan.
type ReturnResult struct {
	Loan Loan
	// Penalty is nil when the loan came back on time.
	Penalty *Penalty
	// Reservation is the hold the copy was handed to, if any.
	Reservation *Reservation
}

// SweepReport counts what one sweep changed.
type SweepReport struct {
	LoansOverdue        int `json:"loans_overdue"`
	ReservationsExpired int `json:"reservations_expired"`
	MembershipsExpired  int `json:"memberships_expired"`
}

type LoanCheckedOutEvent struct {
	ID       uuid.UUID `json:"id"`
	MemberID uuid.UUID `json:"member_id"`
	CopyID   uuid.UUID `json:"copy_id"`
	DueDate  time.Time `json:"due_date"`
}

type LoanChangedEvent struct {
	ID         uuid.UUID  `json:"id"`
	Status     LoanStatus `json:"status"`
	DueDate    time.Time  `json:"due_date"`
	Extensions int        `json:"extensions"`
}

type ReservationChangedEvent struct {
	ID       uuid.UUID         `json:"id"`
	MemberID uuid.UUID         `json:"member_id"`
	BookID   uuid.UUID         `json:"book_id"`
	CopyID   uuid.NullUUID     `json:"copy_id"`
	Status   ReservationStatus `json:"status"`
}

type PenaltyEvent struct {
	ID          uuid.UUID       `json:"id"`
	LoanID      uuid.UUID       `json:"loan_id"`
	MemberID    uuid.UUID       `json:"member_id"`
	Amount      decimal.Decimal `json:"amount"`
	DaysOverdue int             `json:"days_overdue"`
	Status      PenaltyStatus   `json:"status"`
}

const (
	aggregateLoan        = "loan"
	aggregateReservation = "reservation"
	aggregatePenalty     = "penalty"

	eventLoanCheckedOut = "LoanCheckedOut"
	eventLoanReturned   = "LoanReturned"
	eventLoanExtended   = "LoanExtended"
	eventLoanOverdue    = "LoanOverdue"

	eventReservationPlaced    = "ReservationPlaced"
	eventReservationReady     = "ReservationReady"
	eventReservationFulfilled = "ReservationFulfilled"
	eventReservationCancelled = "ReservationCancelled"
	eventReservationExpired   = "ReservationExpired"

	eventPenaltyAssessed = "PenaltyAssessed"
	eventPenaltyPaid     = "PenaltyPaid"
	eventPenaltyWaived   = "PenaltyWaived"
)
