// internal/circulation/status.go
package circulation

import (
	"time"

	"libradesk/internal/apperr"
	"libradesk/internal/policy"
)

func ParseLoanStatus(s string) (LoanStatus, bool) {
	switch st := LoanStatus(s); st {
	case LoanActive, LoanOverdue, LoanReturned:
		return st, true
	}
	return "", false
}

func ParseReservationStatus(s string) (ReservationStatus, bool) {
	switch st := ReservationStatus(s); st {
	case ReservationPending, ReservationReady, ReservationFulfilled, ReservationCancelled, ReservationExpired:
		return st, true
	}
	return "", false
}

// ValidateReturn checks that a loan can be closed.
func ValidateReturn(status LoanStatus) error {
	switch status {
	case LoanActive, LoanOverdue:
		return nil
	case LoanReturned:
		return apperr.InvalidTransition("Loan is already returned")
	default:
		return apperr.InvalidTransition("Unknown loan status %q", status)
	}
}

// ValidateExtension checks that the due date of loan may be pushed back.
func ValidateExtension(loan Loan, p policy.Policy, now time.Time) error {
	switch loan.Status {
	case LoanActive:
	case LoanReturned:
		return apperr.InvalidTransition("Loan is already returned")
	case LoanOverdue:
		return apperr.InvalidTransition("Cannot extend an overdue loan")
	default:
		return apperr.InvalidTransition("Unknown loan status %q", loan.Status)
	}
	if now.After(loan.DueDate) {
		return apperr.InvalidTransition("Cannot extend an overdue loan")
	}
	if loan.Extensions >= p.MaxExtensions {
		return apperr.InvalidTransition("Loan has reached the maximum of %d extensions", p.MaxExtensions)
	}
	return nil
}

// ValidateOverdue checks that loan may be flagged OVERDUE. Only active loans
// past their due date qualify.
func ValidateOverdue(loan Loan, now time.Time) error {
	switch loan.Status {
	case LoanActive:
	case LoanOverdue:
		return apperr.InvalidTransition("Loan is already overdue")
	case LoanReturned:
		return apperr.InvalidTransition("Loan is already returned")
	default:
		return apperr.InvalidTransition("Unknown loan status %q", loan.Status)
	}
	if !now.After(loan.DueDate) {
		return apperr.InvalidTransition("Loan is not past due")
	}
	return nil
}

// ValidateCancel checks that a reservation is still open.
func ValidateCancel(status ReservationStatus) error {
	switch status {
	case ReservationPending, ReservationReady:
		return nil
	case ReservationFulfilled, ReservationCancelled, ReservationExpired:
		return apperr.InvalidTransition("Reservation is no longer open")
	default:
		return apperr.InvalidTransition("Unknown reservation status %q", status)
	}
}

// ValidateReservationExpiry checks that a held copy has waited past its
// pickup deadline.
func ValidateReservationExpiry(r Reservation, now time.Time) error {
	if r.Status != ReservationReady {
		return apperr.InvalidTransition("Reservation is not ready for pickup")
	}
	if r.PickupBy == nil || !now.After(*r.PickupBy) {
		return apperr.InvalidTransition("Reservation pickup window is still open")
	}
	return nil
}

// ValidateFulfilment checks that the reservation holds a copy for pickup.
func ValidateFulfilment(status ReservationStatus) error {
	if status != ReservationReady {
		return apperr.InvalidTransition("Reservation is not ready for pickup")
	}
	return nil
}

// ValidateSettlement checks that a penalty may be paid or waived.
func ValidateSettlement(status PenaltyStatus) error {
	switch status {
	case PenaltyOutstanding:
		return nil
	case PenaltyPaid, PenaltyWaived:
		return apperr.InvalidTransition("Penalty is already settled")
	default:
		return apperr.InvalidTransition("Unknown penalty status %q", status)
	}
}
