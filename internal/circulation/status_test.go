package circulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"libradesk/internal/apperr"
	"libradesk/internal/policy"
)

var (
	allLoanStatuses        = []LoanStatus{LoanActive, LoanOverdue, LoanReturned}
	allReservationStatuses = []ReservationStatus{
		ReservationPending, ReservationReady, ReservationFulfilled, ReservationCancelled, ReservationExpired,
	}
	allPenaltyStatuses = []PenaltyStatus{PenaltyOutstanding, PenaltyPaid, PenaltyWaived}
)

func TestValidateReturn(t *testing.T) {
	assert.NoError(t, ValidateReturn(LoanActive))
	assert.NoError(t, ValidateReturn(LoanOverdue))

	err := ValidateReturn(LoanReturned)
	assert.ErrorIs(t, err, apperr.ErrInvalidStatusTransition)
	assert.EqualError(t, err, "Loan is already returned")

	assert.ErrorIs(t, ValidateReturn("LOST"), apperr.ErrInvalidStatusTransition)
}

func TestValidateExtension(t *testing.T) {
	p := policy.Default()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, 3)

	tests := []struct {
		name    string
		loan    Loan
		wantErr string
	}{
		{"active loan", Loan{Status: LoanActive, DueDate: due}, ""},
		{"last extension", Loan{Status: LoanActive, DueDate: due, Extensions: 1}, ""},
		{"returned", Loan{Status: LoanReturned, DueDate: due}, "Loan is already returned"},
		{"flagged overdue", Loan{Status: LoanOverdue, DueDate: due}, "Cannot extend an overdue loan"},
		{"past due", Loan{Status: LoanActive, DueDate: now.Add(-time.Minute)}, "Cannot extend an overdue loan"},
		{"no extensions left", Loan{Status: LoanActive, DueDate: due, Extensions: 2}, "Loan has reached the maximum of 2 extensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExtension(tt.loan, p, now)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidStatusTransition)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestValidateOverdue(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	assert.NoError(t, ValidateOverdue(Loan{Status: LoanActive, DueDate: past}, now))
	assert.EqualError(t, ValidateOverdue(Loan{Status: LoanActive, DueDate: now}, now), "Loan is not past due")
	assert.EqualError(t, ValidateOverdue(Loan{Status: LoanOverdue, DueDate: past}, now), "Loan is already overdue")
	assert.EqualError(t, ValidateOverdue(Loan{Status: LoanReturned, DueDate: past}, now), "Loan is already returned")
}

func TestValidateCancel(t *testing.T) {
	for _, st := range allReservationStatuses {
		err := ValidateCancel(st)
		if st == ReservationPending || st == ReservationReady {
			assert.NoError(t, err, st)
			continue
		}
		assert.EqualError(t, err, "Reservation is no longer open", st)
	}
}

func TestValidateReservationExpiry(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	before, after := now.Add(-time.Second), now.Add(time.Second)

	assert.NoError(t, ValidateReservationExpiry(Reservation{Status: ReservationReady, PickupBy: &before}, now))
	assert.Error(t, ValidateReservationExpiry(Reservation{Status: ReservationReady, PickupBy: &after}, now))
	assert.Error(t, ValidateReservationExpiry(Reservation{Status: ReservationReady}, now))
	assert.Error(t, ValidateReservationExpiry(Reservation{Status: ReservationPending, PickupBy: &before}, now))
}

func TestValidateSettlement(t *testing.T) {
	assert.NoError(t, ValidateSettlement(PenaltyOutstanding))
	assert.EqualError(t, ValidateSettlement(PenaltyPaid), "Penalty is already settled")
	assert.EqualError(t, ValidateSettlement(PenaltyWaived), "Penalty is already settled")
}

func TestParseStatuses(t *testing.T) {
	for _, st := range allLoanStatuses {
		got, ok := ParseLoanStatus(string(st))
		assert.True(t, ok)
		assert.Equal(t, st, got)
	}
	for _, st := range allReservationStatuses {
		got, ok := ParseReservationStatus(string(st))
		assert.True(t, ok)
		assert.Equal(t, st, got)
	}
	_, ok := ParseLoanStatus("late")
	assert.False(t, ok)
	_, ok = ParseReservationStatus("")
	assert.False(t, ok)
}

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	loan := Loan{DueDate: due}

	assert.Equal(t, 0, loan.DaysOverdue(due.Add(-48*time.Hour)))
	assert.Equal(t, 0, loan.DaysOverdue(due.Add(5*time.Hour)), "same calendar day")
	assert.Equal(t, 1, loan.DaysOverdue(time.Date(2025, 3, 11, 0, 30, 0, 0, time.UTC)))
	assert.Equal(t, 3, loan.DaysOverdue(due.AddDate(0, 0, 3)))

	returned := due.AddDate(0, 0, 2)
	loan.ReturnedAt = &returned
	assert.Equal(t, 2, loan.DaysOverdue(due.AddDate(0, 1, 0)), "returned loans stop accruing")
}

func TestDaysOverdueProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		due := time.Unix(rapid.Int64Range(0, 4e9).Draw(t, "due"), 0).UTC()
		offset := time.Duration(rapid.Int64Range(-1e6, 1e8).Draw(t, "offset")) * time.Second
		now := due.Add(offset)

		days := Loan{DueDate: due}.DaysOverdue(now)
		if days < 0 {
			t.Fatalf("negative days overdue %d", days)
		}
		if !now.After(due) && days != 0 {
			t.Fatalf("loan not yet due reports %d days", days)
		}
		if upper := int(offset/(24*time.Hour)) + 1; days > upper {
			t.Fatalf("%d days overdue exceeds elapsed bound %d", days, upper)
		}
	})
}

func TestSettlementOnlyFromOutstanding(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		st := rapid.SampledFrom(allPenaltyStatuses).Draw(t, "status")
		if (ValidateSettlement(st) == nil) != (st == PenaltyOutstanding) {
			t.Fatalf("settlement of %s decided wrongly", st)
		}
	})
}

func TestReturnOnlyFromOpenLoans(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		st := rapid.SampledFrom(allLoanStatuses).Draw(t, "status")
		if (ValidateReturn(st) == nil) != (Loan{Status: st}).IsOpen() {
			t.Fatalf("return of %s decided wrongly", st)
		}
	})
}
