// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libradesk/internal/apperr"
	"libradesk/internal/catalog"
	"libradesk/internal/eventstore"
	"libradesk/internal/logging"
	"libradesk/internal/membership"
	"libradesk/internal/policy"
	"libradesk/internal/store"
)

const (
	serviceName     = "circulation"
	instrumentation = "libradesk/circulation"
	kindLoan        = "Loan"
	kindReservation = "Reservation"
	kindPenalty     = "Penalty"
)

// service implements the Service interface.
type service struct {
	repos     Repositories
	tx        store.TxRunner
	journal   eventstore.Journal
	members   MemberDirectory
	inventory Inventory
	policy    policy.Policy
	accruer   *Accruer
	now       func() time.Time
	newID     func() uuid.UUID
	tracer    trace.Tracer
	meters    metric.MeterProvider

	checkedOut metric.Int64Counter
}

// Option customises a service.
type Option func(*service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithIDGenerator replaces uuid.New.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(s *service) { s.newID = newID }
}

// WithMeterProvider replaces the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *service) { s.meters = mp }
}

// NewService creates a new circulation service instance.
func NewService(
	repos Repositories,
	tx store.TxRunner,
	journal eventstore.Journal,
	members MemberDirectory,
	inventory Inventory,
	p policy.Policy,
	opts ...Option,
) (Service, error) {
	s := &service{
		repos:     repos,
		tx:        tx,
		journal:   journal,
		members:   members,
		inventory: inventory,
		policy:    p,
		now:       time.Now,
		newID:     uuid.New,
		tracer:    otel.Tracer(instrumentation),
		meters:    otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := s.meters.Meter(instrumentation)
	accruer, err := NewAccruer(repos.Penalties, journal, p, meter)
	if err != nil {
		return nil, err
	}
	accruer.now = s.now
	accruer.newID = s.newID
	s.accruer = accruer

	s.checkedOut, err = meter.Int64Counter("libradesk.loans.checked_out",
		metric.WithDescription("Loans opened at the desk"),
		metric.WithUnit("{loan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create loans counter: %w", err)
	}
	return s, nil
}

func (s *service) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, serviceName+"."+operation, trace.WithAttributes(attrs...))
}

// finish closes the span and logs the outcome of one operation.
func (s *service) finish(ctx context.Context, span trace.Span, operation string, err error) {
	defer span.End()
	logger := logging.For(ctx, serviceName, operation)
	if err != nil {
		kind := apperr.Kind(err)
		span.SetAttributes(attribute.String("error.kind", kind))
		if kind == "unexpected" {
			span.SetStatus(codes.Error, err.Error())
			logger.ErrorContext(ctx, "operation failed", "error_kind", kind, "error", err)
			return
		}
		logger.InfoContext(ctx, "operation rejected", "error_kind", kind, "error", err)
		return
	}
	logger.DebugContext(ctx, "operation completed")
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// Checkout lends a copy to a member.
func (s *service) Checkout(ctx context.Context, memberID, copyID uuid.UUID) (_ *Loan, err error) {
	ctx, span := s.start(ctx, "Checkout",
		attribute.String("member.id", memberID.String()),
		attribute.String("copy.id", copyID.String()),
	)
	defer func() { s.finish(ctx, span, "Checkout", err) }()

	var loan Loan
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		member, err := s.members.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if err := s.checkEligible(ctx, member, now); err != nil {
			return err
		}

		c, err := s.inventory.GetCopy(ctx, copyID)
		if err != nil {
			return err
		}
		if err := s.claimCopy(ctx, memberID, c, now); err != nil {
			return err
		}
		if _, err := s.inventory.SetCopyStatus(ctx, c.ID, catalog.CopyOnLoan); err != nil {
			return err
		}

		loan = Loan{
			ID:       s.newID(),
			MemberID: memberID,
			CopyID:   c.ID,
			BookID:   c.BookID,
			LoanedAt: now,
			DueDate:  now.Add(s.policy.LoanDuration()),
			Status:   LoanActive,
		}
		if err := s.repos.Loans.Save(ctx, loan); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("Copy already has an open loan")
			}
			return fmt.Errorf("failed to save loan: %w", err)
		}
		return s.journal.Record(ctx, aggregateLoan, loan.ID, eventLoanCheckedOut, LoanCheckedOutEvent{
			ID: loan.ID, MemberID: memberID, CopyID: c.ID, DueDate: loan.DueDate,
		})
	})
	if err != nil {
		return nil, err
	}
	s.checkedOut.Add(ctx, 1)
	return &loan, nil
}

// checkEligible applies the borrowing rules to member.
func (s *service) checkEligible(ctx context.Context, member *membership.Member, now time.Time) error {
	if member.Status != membership.MemberActive {
		return apperr.InvalidTransition("Only active members may borrow; member is %s", member.Status)
	}
	if !now.Before(member.ExpiresAt) {
		return apperr.InvalidTransition("Membership lapsed on %s", member.ExpiresAt.Format(time.DateOnly))
	}

	open, err := s.repos.Loans.CountOpen(ctx, member.ID)
	if err != nil {
		return fmt.Errorf("count open loans: %w", err)
	}
	if open >= member.MaxActiveLoans {
		return apperr.InvalidTransition("Member has reached the limit of %d active loans", member.MaxActiveLoans)
	}

	outstanding, err := s.repos.Penalties.OutstandingTotal(ctx, member.ID)
	if err != nil {
		return fmt.Errorf("sum outstanding penalties: %w", err)
	}
	if s.policy.Blocks(outstanding) {
		return apperr.InvalidTransition("Member is blocked by outstanding penalties of %s", outstanding.StringFixed(2))
	}
	return nil
}

// claimCopy checks that c may go out to memberID and closes the member's
// reservation for the book, if any.
func (s *service) claimCopy(ctx context.Context, memberID uuid.UUID, c *catalog.Copy, now time.Time) error {
	switch c.Status {
	case catalog.CopyAvailable:
		r, err := s.repos.Reservations.FindOpen(ctx, memberID, c.BookID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find reservation: %w", err)
		}
		held := r.CopyID
		if err := s.fulfil(ctx, r); err != nil {
			return err
		}
		if held.Valid {
			_, err := s.releaseCopy(ctx, held.UUID, r.BookID, now)
			return err
		}
		return nil

	case catalog.CopyReserved:
		r, err := s.repos.Reservations.FindReadyForCopy(ctx, c.ID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && r.MemberID != memberID) {
			return apperr.InvalidTransition("Copy is held for another member")
		}
		if err != nil {
			return fmt.Errorf("find reservation: %w", err)
		}
		if err := ValidateFulfilment(r.Status); err != nil {
			return err
		}
		return s.fulfil(ctx, r)

	case catalog.CopyOnLoan:
		return apperr.InvalidTransition("Copy is already on loan")
	default:
		return apperr.InvalidTransition("Copy is not available for loan; status is %s", c.Status)
	}
}

func (s *service) fulfil(ctx context.Context, r Reservation) error {
	r.Status = ReservationFulfilled
	return s.saveReservation(ctx, r, eventReservationFulfilled)
}

// releaseCopy hands a copy coming back to the shelf to the oldest pending
// reservation for its book, or marks it AVAILABLE when nobody waits.
func (s *service) releaseCopy(ctx context.Context, copyID, bookID uuid.UUID, now time.Time) (*Reservation, error) {
	next, err := s.repos.Reservations.OldestPending(ctx, bookID)
	if errors.Is(err, store.ErrNotFound) {
		_, err := s.inventory.SetCopyStatus(ctx, copyID, catalog.CopyAvailable)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("find pending reservation: %w", err)
	}
	if err := s.hold(ctx, &next, copyID, now); err != nil {
		return nil, err
	}
	return &next, nil
}

// hold sets copyID aside for r until the pickup window closes.
func (s *service) hold(ctx context.Context, r *Reservation, copyID uuid.UUID, now time.Time) error {
	readyAt := now
	pickupBy := now.Add(s.policy.PickupWindow())
	r.Status = ReservationReady
	r.CopyID = uuid.NullUUID{UUID: copyID, Valid: true}
	r.ReadyAt = &readyAt
	r.PickupBy = &pickupBy
	if err := s.saveReservation(ctx, *r, eventReservationReady); err != nil {
		return err
	}
	_, err := s.inventory.SetCopyStatus(ctx, copyID, catalog.CopyReserved)
	return err
}

// Return closes a loan, charges any late fee and puts the copy back into
// circulation.
func (s *service) Return(ctx context.Context, loanID uuid.UUID) (_ *ReturnResult, err error) {
	ctx, span := s.start(ctx, "Return", attribute.String("loan.id", loanID.String()))
	defer func() { s.finish(ctx, span, "Return", err) }()

	var result ReturnResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		loan, err := store.Load[Loan](ctx, s.repos.Loans, kindLoan, loanID)
		if err != nil {
			return err
		}
		if err := ValidateReturn(loan.Status); err != nil {
			return err
		}

		now := s.clock()
		loan.ReturnedAt = &now
		loan.Status = LoanReturned
		if err := s.saveLoan(ctx, loan, eventLoanReturned); err != nil {
			return err
		}
		result.Loan = loan

		result.Penalty, err = s.accruer.CreateIfOverdue(ctx, loan, loan.DaysOverdue(now))
		if err != nil {
			return err
		}
		result.Reservation, err = s.releaseCopy(ctx, loan.CopyID, loan.BookID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("penalty.assessed", result.Penalty != nil))
	return &result, nil
}

// Extend pushes the due date back by one extension period.
func (s *service) Extend(ctx context.Context, loanID uuid.UUID) (_ *Loan, err error) {
	ctx, span := s.start(ctx, "Extend", attribute.String("loan.id", loanID.String()))
	defer func() { s.finish(ctx, span, "Extend", err) }()

	var loan Loan
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		loan, err = store.Load[Loan](ctx, s.repos.Loans, kindLoan, loanID)
		if err != nil {
			return err
		}
		if err := ValidateExtension(loan, s.policy, s.clock()); err != nil {
			return err
		}
		waiting, err := s.repos.Reservations.CountPendingByOthers(ctx, loan.BookID, loan.MemberID)
		if err != nil {
			return fmt.Errorf("count reservations: %w", err)
		}
		if waiting > 0 {
			return apperr.InvalidTransition("Book is reserved by another member")
		}

		loan.DueDate = loan.DueDate.Add(s.policy.Extension())
		loan.Extensions++
		return s.saveLoan(ctx, loan, eventLoanExtended)
	})
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (s *service) saveLoan(ctx context.Context, loan Loan, eventType string) error {
	if err := s.repos.Loans.Save(ctx, loan); err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	return s.journal.Record(ctx, aggregateLoan, loan.ID, eventType, LoanChangedEvent{
		ID: loan.ID, Status: loan.Status, DueDate: loan.DueDate, Extensions: loan.Extensions,
	})
}

func (s *service) GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error) {
	loan, err := store.Load[Loan](ctx, s.repos.Loans, kindLoan, id)
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (s *service) ListLoans(ctx context.Context, filter LoanFilter) ([]Loan, error) {
	loans, err := s.repos.Loans.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// AssessPenalty charges a loan for the days it is overdue right now.
func (s *service) AssessPenalty(ctx context.Context, loanID uuid.UUID) (_ *Penalty, err error) {
	ctx, span := s.start(ctx, "AssessPenalty", attribute.String("loan.id", loanID.String()))
	defer func() { s.finish(ctx, span, "AssessPenalty", err) }()

	var penalty *Penalty
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		loan, err := store.Load[Loan](ctx, s.repos.Loans, kindLoan, loanID)
		if err != nil {
			return err
		}
		days := loan.DaysOverdue(s.clock())
		span.SetAttributes(attribute.Int("loan.days_overdue", days))
		penalty, err = s.accruer.CreateIfOverdue(ctx, loan, days)
		return err
	})
	if err != nil {
		return nil, err
	}
	return penalty, nil
}

// Reserve queues a member for a book. When a copy is on the shelf and nobody
// else is waiting it is held for the member straight away.
func (s *service) Reserve(ctx context.Context, memberID, bookID uuid.UUID) (_ *Reservation, err error) {
	ctx, span := s.start(ctx, "Reserve",
		attribute.String("member.id", memberID.String()),
		attribute.String("book.id", bookID.String()),
	)
	defer func() { s.finish(ctx, span, "Reserve", err) }()

	var r Reservation
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		member, err := s.members.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if member.Status != membership.MemberActive {
			return apperr.InvalidTransition("Only active members may reserve; member is %s", member.Status)
		}
		if _, err := s.inventory.GetBook(ctx, bookID); err != nil {
			return err
		}

		_, err = s.repos.Reservations.FindOpen(ctx, memberID, bookID)
		switch {
		case err == nil:
			return apperr.Conflict("Member already has an open reservation for this book")
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("find reservation: %w", err)
		}

		now := s.clock()
		r = Reservation{
			ID:        s.newID(),
			MemberID:  memberID,
			BookID:    bookID,
			Status:    ReservationPending,
			CreatedAt: now,
		}
		if err := s.saveReservation(ctx, r, eventReservationPlaced); err != nil {
			return err
		}

		waiting, err := s.repos.Reservations.CountPendingByOthers(ctx, bookID, memberID)
		if err != nil {
			return fmt.Errorf("count reservations: %w", err)
		}
		if waiting > 0 {
			return nil
		}
		c, err := s.inventory.FindAvailableCopy(ctx, bookID)
		if err != nil || c == nil {
			return err
		}
		return s.hold(ctx, &r, c.ID, now)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CancelReservation withdraws an open reservation. A held copy goes to the
// next member in line.
func (s *service) CancelReservation(ctx context.Context, id uuid.UUID) (_ *Reservation, err error) {
	ctx, span := s.start(ctx, "CancelReservation", attribute.String("reservation.id", id.String()))
	defer func() { s.finish(ctx, span, "CancelReservation", err) }()

	var r Reservation
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err = store.Load[Reservation](ctx, s.repos.Reservations, kindReservation, id)
		if err != nil {
			return err
		}
		if err := ValidateCancel(r.Status); err != nil {
			return err
		}
		held := r.Status == ReservationReady && r.CopyID.Valid
		r.Status = ReservationCancelled
		if err := s.saveReservation(ctx, r, eventReservationCancelled); err != nil {
			return err
		}
		if held {
			_, err := s.releaseCopy(ctx, r.CopyID.UUID, r.BookID, s.clock())
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *service) saveReservation(ctx context.Context, r Reservation, eventType string) error {
	if err := s.repos.Reservations.Save(ctx, r); err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return s.journal.Record(ctx, aggregateReservation, r.ID, eventType, ReservationChangedEvent{
		ID: r.ID, MemberID: r.MemberID, BookID: r.BookID, CopyID: r.CopyID, Status: r.Status,
	})
}

func (s *service) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := store.Load[Reservation](ctx, s.repos.Reservations, kindReservation, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *service) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	reservations, err := s.repos.Reservations.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return reservations, nil
}

// DeleteReservation removes a reservation. A copy it was holding is released.
func (s *service) DeleteReservation(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.start(ctx, "DeleteReservation", attribute.String("reservation.id", id.String()))
	defer func() { s.finish(ctx, span, "DeleteReservation", err) }()

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := store.Load[Reservation](ctx, s.repos.Reservations, kindReservation, id)
		if err != nil {
			return err
		}
		if err := store.DeleteExisting(ctx, s.repos.Reservations, kindReservation, id); err != nil {
			return err
		}
		if r.Status == ReservationReady && r.CopyID.Valid {
			_, err := s.releaseCopy(ctx, r.CopyID.UUID, r.BookID, s.clock())
			return err
		}
		return nil
	})
}

func (s *service) GetPenalty(ctx context.Context, id uuid.UUID) (*Penalty, error) {
	p, err := store.Load[Penalty](ctx, s.repos.Penalties, kindPenalty, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *service) ListPenalties(ctx context.Context, memberID uuid.NullUUID) ([]Penalty, error) {
	penalties, err := s.repos.Penalties.List(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list penalties: %w", err)
	}
	return penalties, nil
}

func (s *service) PayPenalty(ctx context.Context, id uuid.UUID) (*Penalty, error) {
	return s.settle(ctx, "PayPenalty", id, PenaltyPaid, eventPenaltyPaid)
}

func (s *service) WaivePenalty(ctx context.Context, id uuid.UUID) (*Penalty, error) {
	return s.settle(ctx, "WaivePenalty", id, PenaltyWaived, eventPenaltyWaived)
}

func (s *service) settle(ctx context.Context, operation string, id uuid.UUID, to PenaltyStatus, eventType string) (_ *Penalty, err error) {
	ctx, span := s.start(ctx, operation, attribute.String("penalty.id", id.String()))
	defer func() { s.finish(ctx, span, operation, err) }()

	var p Penalty
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err = store.Load[Penalty](ctx, s.repos.Penalties, kindPenalty, id)
		if err != nil {
			return err
		}
		if err := ValidateSettlement(p.Status); err != nil {
			return err
		}
		settledAt := s.clock()
		p.Status = to
		p.SettledAt = &settledAt
		if err := s.repos.Penalties.Save(ctx, p); err != nil {
			return fmt.Errorf("failed to save penalty: %w", err)
		}
		return s.journal.Record(ctx, aggregatePenalty, p.ID, eventType, penaltyEvent(p))
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *service) DeletePenalty(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.start(ctx, "DeletePenalty", attribute.String("penalty.id", id.String()))
	defer func() { s.finish(ctx, span, "DeletePenalty", err) }()

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return store.DeleteExisting(ctx, s.repos.Penalties, kindPenalty, id)
	})
}

// MemberStanding reports a member's open loans and unpaid balance.
func (s *service) MemberStanding(ctx context.Context, memberID uuid.UUID) (*Standing, error) {
	if _, err := s.members.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	open, err := s.repos.Loans.CountOpen(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("count open loans: %w", err)
	}
	outstanding, err := s.repos.Penalties.OutstandingTotal(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("sum outstanding penalties: %w", err)
	}
	return &Standing{
		MemberID:    memberID,
		OpenLoans:   open,
		Outstanding: outstanding,
		Blocked:     s.policy.Blocks(outstanding),
	}, nil
}

// Sweep flags overdue loans, expires uncollected holds and lapses
// memberships past their term. Running it twice in a row changes nothing the
// second time.
func (s *service) Sweep(ctx context.Context) (_ *SweepReport, err error) {
	ctx, span := s.start(ctx, "Sweep")
	defer func() { s.finish(ctx, span, "Sweep", err) }()

	report := &SweepReport{}
	now := s.clock()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pastDue, err := s.repos.Loans.FindPastDue(ctx, now)
		if err != nil {
			return fmt.Errorf("find past due loans: %w", err)
		}
		for _, loan := range pastDue {
			if err := ValidateOverdue(loan, now); err != nil {
				return err
			}
			loan.Status = LoanOverdue
			if err := s.saveLoan(ctx, loan, eventLoanOverdue); err != nil {
				return err
			}
			report.LoansOverdue++
		}

		stale, err := s.repos.Reservations.FindStaleReady(ctx, now)
		if err != nil {
			return fmt.Errorf("find stale reservations: %w", err)
		}
		for _, r := range stale {
			if err := ValidateReservationExpiry(r, now); err != nil {
				return err
			}
			r.Status = ReservationExpired
			if err := s.saveReservation(ctx, r, eventReservationExpired); err != nil {
				return err
			}
			if r.CopyID.Valid {
				if _, err := s.releaseCopy(ctx, r.CopyID.UUID, r.BookID, now); err != nil {
					return err
				}
			}
			report.ReservationsExpired++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.MembershipsExpired, err = s.members.ExpireLapsed(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("sweep.loans_overdue", report.LoansOverdue),
		attribute.Int("sweep.reservations_expired", report.ReservationsExpired),
		attribute.Int("sweep.memberships_expired", report.MembershipsExpired),
	)
	return report, nil
}
