// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
)

// MemberStatus is the lifecycle state of a membership.
type MemberStatus string

const (
	MemberActive    MemberStatus = "ACTIVE"
	MemberSuspended MemberStatus = "SUSPENDED"
	MemberExpired   MemberStatus = "EXPIRED"
)

// Member represents a library member.
type Member struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	MembershipNumber string       `json:"membership_number" db:"membership_number"`
	Name             string       `json:"name" db:"name"`
	Email            string       `json:"email" db:"email"`
	Phone            string       `json:"phone,omitempty" db:"phone"`
	Status           MemberStatus `json:"status" db:"status"`
	MaxActiveLoans   int          `json:"max_active_loans" db:"max_active_loans"`
	ExpiresAt        time.Time    `json:"expires_at" db:"expires_at"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// Credential represents a member's login credentials.
type Credential struct {
	MemberID     uuid.UUID `db:"member_id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}

// Visit is one stay of a member on the library premises.
type Visit struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	MemberID     uuid.UUID  `json:"member_id" db:"member_id"`
	CheckInTime  time.Time  `json:"check_in_time" db:"check_in_time"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty" db:"check_out_time"`
}

// IsActive reports whether the member has not checked out yet.
func (v Visit) IsActive() bool {
	return v.CheckOutTime == nil
}

// MemberRegisteredEvent is published when a new member registers.
type MemberRegisteredEvent struct {
	ID               uuid.UUID `json:"id"`
	MembershipNumber string    `json:"membership_number"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
}

// MemberStatusChangedEvent is published on suspension, activation and expiry.
type MemberStatusChangedEvent struct {
	ID        uuid.UUID    `json:"id"`
	From      MemberStatus `json:"from"`
	To        MemberStatus `json:"to"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// VisitEvent is published on check-in and check-out.
type VisitEvent struct {
	VisitID  uuid.UUID `json:"visit_id"`
	MemberID uuid.UUID `json:"member_id"`
	At       time.Time `json:"at"`
}

const (
	aggregateMember = "member"
	aggregateVisit  = "visit"

	eventMemberRegistered = "MemberRegistered"
	eventMemberSuspended  = "MemberSuspended"
	eventMemberActivated  = "MemberActivated"
	eventMemberExpired    = "MemberExpired"
	eventVisitCheckedIn   = "VisitCheckedIn"
	eventVisitCheckedOut  = "VisitCheckedOut"
)
