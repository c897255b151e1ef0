// internal/policy/policy.go
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the circulation rules of the library. It is built once at
// startup and handed to every service by value.
type Policy struct {
	DefaultLoanDurationDays int
	MaxExtensions           int
	ExtensionDays           int
	DailyFee                decimal.Decimal
	BlockingThreshold       decimal.Decimal
	PickupWindowDays        int
	DefaultMaxActiveLoans   int
	MembershipTermMonths    int
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		DefaultLoanDurationDays: 14,
		MaxExtensions:           2,
		ExtensionDays:           7,
		DailyFee:                decimal.RequireFromString("1.00"),
		BlockingThreshold:       decimal.RequireFromString("10.00"),
		PickupWindowDays:        3,
		DefaultMaxActiveLoans:   5,
		MembershipTermMonths:    12,
	}
}

// Validate reports every out of range value at once.
func (p Policy) Validate() error {
	var problems []string
	if p.DefaultLoanDurationDays <= 0 {
		problems = append(problems, "loan duration must be positive")
	}
	if p.MaxExtensions < 0 {
		problems = append(problems, "max extensions must not be negative")
	}
	if p.ExtensionDays <= 0 {
		problems = append(problems, "extension days must be positive")
	}
	if !p.DailyFee.IsPositive() {
		problems = append(problems, "daily fee must be positive")
	}
	if !wholeCents(p.DailyFee) {
		problems = append(problems, "daily fee must not have more than two decimal places")
	}
	if p.BlockingThreshold.IsNegative() {
		problems = append(problems, "blocking threshold must not be negative")
	}
	if !wholeCents(p.BlockingThreshold) {
		problems = append(problems, "blocking threshold must not have more than two decimal places")
	}
	if p.PickupWindowDays <= 0 {
		problems = append(problems, "pickup window must be positive")
	}
	if p.DefaultMaxActiveLoans <= 0 {
		problems = append(problems, "max active loans must be positive")
	}
	if p.MembershipTermMonths <= 0 {
		problems = append(problems, "membership term must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid policy: %w", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

// wholeCents matches the NUMERIC(12, 2) storage of penalty amounts.
func wholeCents(d decimal.Decimal) bool {
	return d.Truncate(2).Equal(d)
}

// LoanDuration is the time between checkout and the due date.
func (p Policy) LoanDuration() time.Duration {
	return days(p.DefaultLoanDurationDays)
}

// Extension is how far one extension pushes the due date.
func (p Policy) Extension() time.Duration {
	return days(p.ExtensionDays)
}

// PickupWindow is how long a ready reservation is held for the member.
func (p Policy) PickupWindow() time.Duration {
	return days(p.PickupWindowDays)
}

// Fee returns dailyFee × daysOverdue. Zero or negative days cost nothing.
func (p Policy) Fee(daysOverdue int) decimal.Decimal {
	if daysOverdue <= 0 {
		return decimal.Zero
	}
	return p.DailyFee.Mul(decimal.NewFromInt(int64(daysOverdue)))
}

// Blocks reports whether an outstanding balance prevents further borrowing.
func (p Policy) Blocks(outstanding decimal.Decimal) bool {
	return outstanding.GreaterThan(p.BlockingThreshold)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
