package membership

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"libradesk/internal/apperr"
	"libradesk/internal/eventstore"
	"libradesk/internal/policy"
	"libradesk/internal/store/memstore"
)

type fixture struct {
	svc     Service
	repos   Repositories
	journal *eventstore.MemoryJournal
	now     time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repos:   NewMemoryRepositories(),
		journal: eventstore.NewMemoryJournal(),
		now:     time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{
		WithClock(func() time.Time { return f.now }),
		WithLimiter(rate.NewLimiter(rate.Inf, 0)),
	}, opts...)
	f.svc = NewService(f.repos, memstore.Tx{}, f.journal, policy.Default(), opts...)
	return f
}

func (f *fixture) register(t *testing.T, email string) *Member {
	t.Helper()
	m, err := f.svc.RegisterMember(context.Background(), RegisterMemberParams{
		Name:     "Ada Lovelace",
		Email:    email,
		Password: "analytical-engine",
	})
	require.NoError(t, err)
	return m
}

func TestRegisterMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.RegisterMember(ctx, RegisterMemberParams{
		Name:     "  Ada Lovelace ",
		Email:    "Ada@Example.org",
		Phone:    "555-0100",
		Password: "analytical-engine",
	})
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", m.Name)
	assert.Equal(t, "ada@example.org", m.Email)
	assert.Equal(t, MemberActive, m.Status)
	assert.Equal(t, 5, m.MaxActiveLoans)
	assert.Equal(t, f.now.AddDate(0, 12, 0), m.ExpiresAt)
	assert.Regexp(t, `^M-[0-9A-F]{10}$`, m.MembershipNumber)

	stored, err := f.repos.Members.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, *m, stored)

	cred, err := f.repos.Credentials.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "analytical-engine", cred.PasswordHash)

	assert.Equal(t, []string{eventMemberRegistered}, f.journal.Types())
}

func TestRegisterMemberRejectsDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.org")

	_, err := f.svc.RegisterMember(context.Background(), RegisterMemberParams{
		Name: "Other", Email: "ADA@example.org", Password: "long-enough",
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 1, f.repos.Members.(*memMembers).Len())
}

func TestRegisterMemberValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RegisterMember(context.Background(), RegisterMemberParams{
		Email: "not-an-email", Password: "short", MaxActiveLoans: -1,
	})
	var vErr *apperr.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "name is required", vErr.FieldErrors["name"])
	assert.Equal(t, "email is invalid", vErr.FieldErrors["email"])
	assert.Contains(t, vErr.FieldErrors, "password")
	assert.Contains(t, vErr.FieldErrors, "max_active_loans")
	assert.Empty(t, f.journal.Types())
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "ada@example.org")

	got, err := f.svc.Authenticate(ctx, "ada@example.org", "analytical-engine")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = f.svc.Authenticate(ctx, "ada@example.org", "difference-engine")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.Authenticate(ctx, "nobody@example.org", "analytical-engine")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestAuthenticateIsRateLimited(t *testing.T) {
	f := newFixture(t, WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 2)))
	ctx := context.Background()
	f.register(t, "ada@example.org")

	for i := 0; i < 2; i++ {
		_, err := f.svc.Authenticate(ctx, "ada@example.org", "wrong-password")
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	}
	_, err := f.svc.Authenticate(ctx, "ada@example.org", "analytical-engine")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
}

func TestSuspendMemberScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "ada@example.org")

	suspended, err := f.svc.SuspendMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, MemberSuspended, suspended.Status)

	stored, err := f.svc.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, MemberSuspended, stored.Status)

	_, err = f.svc.SuspendMember(ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidStatusTransition)
	assert.EqualError(t, err, "Member is already suspended")

	assert.Equal(t, []string{eventMemberRegistered, eventMemberSuspended}, f.journal.Types())
}

func TestSuspendUnknownMember(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	_, err := f.svc.SuspendMember(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.EqualError(t, err, "Member not found with id "+id.String())
}

func TestExpiryAndReactivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "ada@example.org")
	f.register(t, "grace@example.org")

	n, err := f.svc.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.AddDate(1, 0, 1)
	n, err = f.svc.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "expiry is idempotent")

	_, err = f.svc.SuspendMember(ctx, m.ID)
	assert.EqualError(t, err, "Cannot suspend an expired member; activate first")

	active, err := f.svc.ActivateMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, MemberActive, active.Status)
	assert.Equal(t, f.now.AddDate(0, 12, 0), active.ExpiresAt)

	_, err = f.svc.ActivateMember(ctx, m.ID)
	assert.EqualError(t, err, "Member is already active")

	history, err := f.svc.MemberHistory(ctx, m.ID)
	require.NoError(t, err)
	types := make([]string, 0, len(history))
	for _, e := range history {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{eventMemberRegistered, eventMemberExpired, eventMemberActivated}, types)

	var change MemberStatusChangedEvent
	require.NoError(t, history[2].Decode(&change))
	assert.Equal(t, MemberExpired, change.From)
	assert.Equal(t, MemberActive, change.To)
}

func TestListMembersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@example.org")
	f.register(t, "b@example.org")
	_, err := f.svc.SuspendMember(ctx, a.ID)
	require.NoError(t, err)

	all, err := f.svc.ListMembers(ctx, MemberFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	suspended, err := f.svc.ListMembers(ctx, MemberFilter{Status: MemberSuspended})
	require.NoError(t, err)
	require.Len(t, suspended, 1)
	assert.Equal(t, a.ID, suspended[0].ID)
}

func TestDeleteMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "ada@example.org")
	other := f.register(t, "grace@example.org")
	_, err := f.svc.CheckIn(ctx, m.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteMember(ctx, m.ID))

	_, err = f.svc.GetMember(ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.repos.Credentials.FindByID(ctx, m.ID)
	assert.Error(t, err)
	visits, err := f.svc.ListVisits(ctx, uuid.NullUUID{UUID: m.ID, Valid: true})
	require.NoError(t, err)
	assert.Empty(t, visits)

	missing := uuid.New()
	err = f.svc.DeleteMember(ctx, missing)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, err.Error(), missing.String())

	remaining, err := f.svc.ListMembers(ctx, MemberFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, other.ID, remaining[0].ID)
}

func TestVisits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "ada@example.org")
	other := f.register(t, "grace@example.org")

	visit, err := f.svc.CheckIn(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, visit.IsActive())
	assert.Equal(t, f.now, visit.CheckInTime)

	_, err = f.svc.CheckIn(ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidStatusTransition)
	assert.EqualError(t, err, "Member already has an active visit")

	_, err = f.svc.CheckIn(ctx, other.ID)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	out, err := f.svc.CheckOut(ctx, visit.ID)
	require.NoError(t, err)
	assert.False(t, out.IsActive())
	assert.Equal(t, f.now, *out.CheckOutTime)
	assert.Equal(t, visit.CheckInTime, out.CheckInTime)

	_, err = f.svc.CheckOut(ctx, visit.ID)
	assert.EqualError(t, err, "Visit is already checked out")

	again, err := f.svc.CheckIn(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEqual(t, visit.ID, again.ID)

	mine, err := f.svc.ListVisits(ctx, uuid.NullUUID{UUID: m.ID, Valid: true})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := f.svc.ListVisits(ctx, uuid.NullUUID{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, f.svc.DeleteVisit(ctx, visit.ID))
	_, err = f.svc.GetVisit(ctx, visit.ID)
	assert.EqualError(t, err, "Visit not found with id "+visit.ID.String())
	assert.ErrorIs(t, f.svc.DeleteVisit(ctx, visit.ID), apperr.ErrNotFound)

	_, err = f.svc.CheckIn(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
