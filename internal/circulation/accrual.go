// internal/circulation/accrual.go
package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"libradesk/internal/eventstore"
	"libradesk/internal/policy"
)

// Accruer charges late fees. A loan is charged at most once.
type Accruer struct {
	penalties PenaltyRepository
	journal   eventstore.Journal
	policy    policy.Policy
	now       func() time.Time
	newID     func() uuid.UUID
	assessed  metric.Int64Counter
}

// NewAccruer builds an Accruer recording the penalties_assessed counter on
// meter.
func NewAccruer(penalties PenaltyRepository, journal eventstore.Journal, p policy.Policy, meter metric.Meter) (*Accruer, error) {
	assessed, err := meter.Int64Counter("libradesk.penalties.assessed",
		metric.WithDescription("Penalties charged for overdue loans"),
		metric.WithUnit("{penalty}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create penalties counter: %w", err)
	}
	return &Accruer{
		penalties: penalties,
		journal:   journal,
		policy:    p,
		now:       time.Now,
		newID:     uuid.New,
		assessed:  assessed,
	}, nil
}

// CreateIfOverdue charges dailyFee × daysOverdue for loan. It returns nil
// without writing when the loan is not overdue or already has a penalty.
func (a *Accruer) CreateIfOverdue(ctx context.Context, loan Loan, daysOverdue int) (*Penalty, error) {
	if daysOverdue <= 0 {
		return nil, nil
	}

	exists, err := a.penalties.ExistsForLoan(ctx, loan.ID)
	if err != nil {
		return nil, fmt.Errorf("check penalty for loan %s: %w", loan.ID, err)
	}
	if exists {
		return nil, nil
	}

	p := Penalty{
		ID:          a.newID(),
		MemberID:    loan.MemberID,
		LoanID:      loan.ID,
		Amount:      a.policy.Fee(daysOverdue),
		DaysOverdue: daysOverdue,
		Status:      PenaltyOutstanding,
		CreatedAt:   a.now().UTC(),
	}
	stored, err := a.penalties.Assess(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to save penalty: %w", err)
	}
	if !stored {
		// A concurrent run got there first.
		return nil, nil
	}
	if err := a.journal.Record(ctx, aggregatePenalty, p.ID, eventPenaltyAssessed, penaltyEvent(p)); err != nil {
		return nil, err
	}

	a.assessed.Add(ctx, 1, metric.WithAttributes(attribute.Int("days_overdue", daysOverdue)))
	return &p, nil
}

func penaltyEvent(p Penalty) PenaltyEvent {
	return PenaltyEvent{
		ID:          p.ID,
		LoanID:      p.LoanID,
		MemberID:    p.MemberID,
		Amount:      p.Amount,
		DaysOverdue: p.DaysOverdue,
		Status:      p.Status,
	}
}
