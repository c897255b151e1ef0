// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"

	"libradesk/internal/eventstore"
)

// RegisterMemberParams carries the input of a registration.
type RegisterMemberParams struct {
	Name     string
	Email    string
	Phone    string
	Password string
	// MaxActiveLoans overrides the policy default when positive.
	MaxActiveLoans int
}

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, params RegisterMemberParams) (*Member, error)
	Authenticate(ctx context.Context, email, password string) (*Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	ListMembers(ctx context.Context, filter MemberFilter) ([]Member, error)
	DeleteMember(ctx context.Context, id uuid.UUID) error
	SuspendMember(ctx context.Context, id uuid.UUID) (*Member, error)
	ActivateMember(ctx context.Context, id uuid.UUID) (*Member, error)
	// ExpireLapsed moves every member past its term to EXPIRED and returns
	// how many changed.
	ExpireLapsed(ctx context.Context) (int, error)
	MemberHistory(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error)

	CheckIn(ctx context.Context, memberID uuid.UUID) (*Visit, error)
	CheckOut(ctx context.Context, visitID uuid.UUID) (*Visit, error)
	GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error)
	ListVisits(ctx context.Context, memberID uuid.NullUUID) ([]Visit, error)
	DeleteVisit(ctx context.Context, id uuid.UUID) error
}
