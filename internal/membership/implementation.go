// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"libradesk/internal/apperr"
	"libradesk/internal/eventstore"
	"libradesk/internal/logging"
	"libradesk/internal/policy"
	"libradesk/internal/store"
)

const (
	serviceName       = "membership"
	kindMember        = "Member"
	kindVisit         = "Visit"
	minPasswordLength = 8
)

// service implements the Service interface.
type service struct {
	repos   Repositories
	tx      store.TxRunner
	journal eventstore.Journal
	policy  policy.Policy
	limiter *rate.Limiter
	now     func() time.Time
	newID   func() uuid.UUID
	tracer  trace.Tracer
}

// Option customises a service.
type Option func(*service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithLimiter replaces the authentication rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *service) { s.limiter = l }
}

// WithIDGenerator replaces uuid.New.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(s *service) { s.newID = newID }
}

// NewService creates a new membership service instance.
func NewService(repos Repositories, tx store.TxRunner, journal eventstore.Journal, p policy.Policy, opts ...Option) Service {
	s := &service{
		repos:   repos,
		tx:      tx,
		journal: journal,
		policy:  p,
		limiter: rate.NewLimiter(rate.Every(12*time.Second), 5), // 5 per minute, bursts of 5
		now:     time.Now,
		newID:   uuid.New,
		tracer:  otel.Tracer("libradesk/membership"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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

// RegisterMember creates a new member and its credential.
func (s *service) RegisterMember(ctx context.Context, params RegisterMemberParams) (_ *Member, err error) {
	ctx, span := s.start(ctx, "RegisterMember")
	defer func() { s.finish(ctx, span, "RegisterMember", err) }()

	params.Name = strings.TrimSpace(params.Name)
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.Phone = strings.TrimSpace(params.Phone)
	if err := validateRegistration(params); err != nil {
		return nil, err
	}

	passwordHash, salt, err := hashPassword(params.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.clock()
	id := s.newID()
	maxLoans := s.policy.DefaultMaxActiveLoans
	if params.MaxActiveLoans > 0 {
		maxLoans = params.MaxActiveLoans
	}
	member := Member{
		ID:               id,
		MembershipNumber: membershipNumber(id),
		Name:             params.Name,
		Email:            params.Email,
		Phone:            params.Phone,
		Status:           MemberActive,
		MaxActiveLoans:   maxLoans,
		ExpiresAt:        now.AddDate(0, s.policy.MembershipTermMonths, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Members.Save(ctx, member); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("Member with email %s already exists", member.Email)
			}
			return fmt.Errorf("failed to save member: %w", err)
		}
		credential := Credential{MemberID: id, PasswordHash: passwordHash, Salt: salt}
		if err := s.repos.Credentials.Save(ctx, credential); err != nil {
			return fmt.Errorf("failed to save credential: %w", err)
		}
		return s.journal.Record(ctx, aggregateMember, id, eventMemberRegistered, MemberRegisteredEvent{
			ID:               id,
			MembershipNumber: member.MembershipNumber,
			Email:            member.Email,
			Name:             member.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func validateRegistration(p RegisterMemberParams) error {
	v := &apperr.ValidationError{}
	if p.Name == "" {
		v.Add("name", "name is required")
	}
	if p.Email == "" {
		v.Add("email", "email is required")
	} else if _, err := mail.ParseAddress(p.Email); err != nil {
		v.Add("email", "email is invalid")
	}
	if len(p.Password) < minPasswordLength {
		v.Add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if p.MaxActiveLoans < 0 {
		v.Add("max_active_loans", "max active loans must not be negative")
	}
	return v.OrNil()
}

func membershipNumber(id uuid.UUID) string {
	return "M-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:10])
}

// Authenticate verifies a member's credentials and returns the member if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (_ *Member, err error) {
	ctx, span := s.start(ctx, "Authenticate")
	defer func() { s.finish(ctx, span, "Authenticate", err) }()

	if !s.limiter.Allow() {
		return nil, apperr.ErrRateLimited
	}

	member, err := s.repos.Members.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("authentication failed: %w", apperr.ErrUnauthorized)
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	credential, err := s.repos.Credentials.FindByID(ctx, member.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("authentication failed: %w", apperr.ErrUnauthorized)
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("authentication failed: invalid credentials: %w", apperr.ErrUnauthorized)
	}

	return &member, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	member, err := store.Load[Member](ctx, s.repos.Members, kindMember, id)
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *service) ListMembers(ctx context.Context, filter MemberFilter) ([]Member, error) {
	members, err := s.repos.Members.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (s *service) DeleteMember(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.start(ctx, "DeleteMember", attribute.String("member.id", id.String()))
	defer func() { s.finish(ctx, span, "DeleteMember", err) }()

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return store.DeleteExisting(ctx, s.repos.Members, kindMember, id)
	})
}

// SuspendMember moves an ACTIVE member to SUSPENDED.
func (s *service) SuspendMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.transition(ctx, "SuspendMember", id, eventMemberSuspended, func(m *Member, _ time.Time) error {
		if err := ValidateSuspension(m.Status); err != nil {
			return err
		}
		m.Status = MemberSuspended
		return nil
	})
}

// ActivateMember reinstates a suspended or expired member. An expired
// membership starts a new term.
func (s *service) ActivateMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.transition(ctx, "ActivateMember", id, eventMemberActivated, func(m *Member, now time.Time) error {
		if err := ValidateActivation(m.Status); err != nil {
			return err
		}
		if m.Status == MemberExpired || m.ExpiresAt.Before(now) {
			m.ExpiresAt = now.AddDate(0, s.policy.MembershipTermMonths, 0)
		}
		m.Status = MemberActive
		return nil
	})
}

func (s *service) transition(ctx context.Context, operation string, id uuid.UUID, eventType string, apply func(*Member, time.Time) error) (_ *Member, err error) {
	ctx, span := s.start(ctx, operation, attribute.String("member.id", id.String()))
	defer func() { s.finish(ctx, span, operation, err) }()

	var member Member
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		member, err = store.Load[Member](ctx, s.repos.Members, kindMember, id)
		if err != nil {
			return err
		}
		return s.applyTransition(ctx, &member, eventType, apply)
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *service) applyTransition(ctx context.Context, member *Member, eventType string, apply func(*Member, time.Time) error) error {
	now := s.clock()
	from := member.Status
	if err := apply(member, now); err != nil {
		return err
	}
	member.UpdatedAt = now
	if err := s.repos.Members.Save(ctx, *member); err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return s.journal.Record(ctx, aggregateMember, member.ID, eventType, MemberStatusChangedEvent{
		ID:        member.ID,
		From:      from,
		To:        member.Status,
		ExpiresAt: member.ExpiresAt,
	})
}

func (s *service) ExpireLapsed(ctx context.Context) (n int, err error) {
	ctx, span := s.start(ctx, "ExpireLapsed")
	defer func() {
		span.SetAttributes(attribute.Int("members.expired", n))
		s.finish(ctx, span, "ExpireLapsed", err)
	}()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		lapsed, err := s.repos.Members.FindLapsed(ctx, s.clock())
		if err != nil {
			return fmt.Errorf("find lapsed members: %w", err)
		}
		for i := range lapsed {
			err := s.applyTransition(ctx, &lapsed[i], eventMemberExpired, func(m *Member, _ time.Time) error {
				if err := ValidateExpiry(m.Status); err != nil {
					return err
				}
				m.Status = MemberExpired
				return nil
			})
			if err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *service) MemberHistory(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	exists, err := s.repos.Members.ExistsByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check member: %w", err)
	}
	if !exists {
		return nil, apperr.NotFound(kindMember, id)
	}
	return s.journal.Load(ctx, id)
}

// CheckIn opens a visit. A member may have one open visit at a time.
func (s *service) CheckIn(ctx context.Context, memberID uuid.UUID) (_ *Visit, err error) {
	ctx, span := s.start(ctx, "CheckIn", attribute.String("member.id", memberID.String()))
	defer func() { s.finish(ctx, span, "CheckIn", err) }()

	var visit Visit
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.repos.Members.ExistsByID(ctx, memberID)
		if err != nil {
			return fmt.Errorf("check member: %w", err)
		}
		if !exists {
			return apperr.NotFound(kindMember, memberID)
		}

		_, err = s.repos.Visits.FindActiveByMember(ctx, memberID)
		switch {
		case err == nil:
			return apperr.InvalidTransition("Member already has an active visit")
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("find active visit: %w", err)
		}

		visit = Visit{ID: s.newID(), MemberID: memberID, CheckInTime: s.clock()}
		if err := s.repos.Visits.Save(ctx, visit); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.InvalidTransition("Member already has an active visit")
			}
			return fmt.Errorf("failed to save visit: %w", err)
		}
		return s.journal.Record(ctx, aggregateVisit, visit.ID, eventVisitCheckedIn, VisitEvent{
			VisitID: visit.ID, MemberID: memberID, At: visit.CheckInTime,
		})
	})
	if err != nil {
		return nil, err
	}
	return &visit, nil
}

// CheckOut closes an open visit.
func (s *service) CheckOut(ctx context.Context, visitID uuid.UUID) (_ *Visit, err error) {
	ctx, span := s.start(ctx, "CheckOut", attribute.String("visit.id", visitID.String()))
	defer func() { s.finish(ctx, span, "CheckOut", err) }()

	var visit Visit
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		visit, err = store.Load[Visit](ctx, s.repos.Visits, kindVisit, visitID)
		if err != nil {
			return err
		}
		if !visit.IsActive() {
			return apperr.InvalidTransition("Visit is already checked out")
		}
		now := s.clock()
		visit.CheckOutTime = &now
		if err := s.repos.Visits.Save(ctx, visit); err != nil {
			return fmt.Errorf("failed to save visit: %w", err)
		}
		return s.journal.Record(ctx, aggregateVisit, visit.ID, eventVisitCheckedOut, VisitEvent{
			VisitID: visit.ID, MemberID: visit.MemberID, At: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return &visit, nil
}

func (s *service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	visit, err := store.Load[Visit](ctx, s.repos.Visits, kindVisit, id)
	if err != nil {
		return nil, err
	}
	return &visit, nil
}

func (s *service) ListVisits(ctx context.Context, memberID uuid.NullUUID) ([]Visit, error) {
	visits, err := s.repos.Visits.List(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return visits, nil
}

func (s *service) DeleteVisit(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.start(ctx, "DeleteVisit", attribute.String("visit.id", id.String()))
	defer func() { s.finish(ctx, span, "DeleteVisit", err) }()

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return store.DeleteExisting(ctx, s.repos.Visits, kindVisit, id)
	})
}
