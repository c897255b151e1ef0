// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"libradesk/internal/catalog"
	"libradesk/internal/membership"
)

// Service defines the interface for the circulation service.
type Service interface {
	Checkout(ctx context.Context, memberID, copyID uuid.UUID) (*Loan, error)
	Return(ctx context.Context, loanID uuid.UUID) (*ReturnResult, error)
	Extend(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]Loan, error)
	// AssessPenalty charges the loan for its current days overdue. It
	// returns nil when there is nothing to charge.
	AssessPenalty(ctx context.Context, loanID uuid.UUID) (*Penalty, error)

	Reserve(ctx context.Context, memberID, bookID uuid.UUID) (*Reservation, error)
	CancelReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	DeleteReservation(ctx context.Context, id uuid.UUID) error

	GetPenalty(ctx context.Context, id uuid.UUID) (*Penalty, error)
	ListPenalties(ctx context.Context, memberID uuid.NullUUID) ([]Penalty, error)
	PayPenalty(ctx context.Context, id uuid.UUID) (*Penalty, error)
	WaivePenalty(ctx context.Context, id uuid.UUID) (*Penalty, error)
	DeletePenalty(ctx context.Context, id uuid.UUID) error
	MemberStanding(ctx context.Context, memberID uuid.UUID) (*Standing, error)

	Sweep(ctx context.Context) (*SweepReport, error)
}

// MemberDirectory is the part of membership circulation depends on.
type MemberDirectory interface {
	GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error)
	ExpireLapsed(ctx context.Context) (int, error)
}

// Inventory is the part of the catalog circulation depends on.
type Inventory interface {
	GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	GetCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error)
	SetCopyStatus(ctx context.Context, id uuid.UUID, status catalog.CopyStatus) (*catalog.Copy, error)
	FindAvailableCopy(ctx context.Context, bookID uuid.UUID) (*catalog.Copy, error)
}

var (
	_ MemberDirectory = (membership.Service)(nil)
	_ Inventory       = (catalog.Service)(nil)
)
