// internal/membership/repository.go
package membership

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"libradesk/internal/store"
	"libradesk/internal/store/memstore"
	"libradesk/internal/store/pgstore"
)

// MemberFilter narrows ListMembers. Zero values match everything.
type MemberFilter struct {
	Status MemberStatus
}

type MemberRepository interface {
	store.Repository[Member]
	FindByEmail(ctx context.Context, email string) (Member, error)
	List(ctx context.Context, filter MemberFilter) ([]Member, error)
	// FindLapsed returns non-expired members whose term ended before now.
	FindLapsed(ctx context.Context, now time.Time) ([]Member, error)
}

type VisitRepository interface {
	store.Repository[Visit]
	FindActiveByMember(ctx context.Context, memberID uuid.UUID) (Visit, error)
	List(ctx context.Context, memberID uuid.NullUUID) ([]Visit, error)
}

// Repositories bundles the stores the membership service needs.
// Credentials are keyed by member id.
type Repositories struct {
	Members     MemberRepository
	Credentials store.Repository[Credential]
	Visits      VisitRepository
}

// NewPostgresRepositories binds the repositories to their tables.
func NewPostgresRepositories(db *pgstore.DB) Repositories {
	return Repositories{
		Members:     &pgMembers{Table: pgstore.NewTable[Member](db, "members", "id", "created_at")},
		Credentials: pgstore.NewTable[Credential](db, "credentials", "member_id", "member_id"),
		Visits:      &pgVisits{Table: pgstore.NewTable[Visit](db, "visits", "id", "check_in_time")},
	}
}

type pgMembers struct {
	*pgstore.Table[Member]
}

func (r *pgMembers) FindByEmail(ctx context.Context, email string) (Member, error) {
	return r.FindOne(ctx, goqu.Ex{"email": email})
}

func (r *pgMembers) List(ctx context.Context, filter MemberFilter) ([]Member, error) {
	ds := r.Select()
	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": filter.Status})
	}
	return r.Query(ctx, ds)
}

func (r *pgMembers) FindLapsed(ctx context.Context, now time.Time) ([]Member, error) {
	return r.FindMany(ctx,
		goqu.C("status").In(MemberActive, MemberSuspended),
		goqu.C("expires_at").Lt(now),
	)
}

type pgVisits struct {
	*pgstore.Table[Visit]
}

func (r *pgVisits) FindActiveByMember(ctx context.Context, memberID uuid.UUID) (Visit, error) {
	return r.FindOne(ctx, goqu.Ex{"member_id": memberID, "check_out_time": nil})
}

func (r *pgVisits) List(ctx context.Context, memberID uuid.NullUUID) ([]Visit, error) {
	if memberID.Valid {
		return r.FindMany(ctx, goqu.Ex{"member_id": memberID.UUID})
	}
	return r.FindAll(ctx)
}

// NewMemoryRepositories returns process local repositories. Deleting a
// member removes its credential and visits, as the foreign keys do.
func NewMemoryRepositories() Repositories {
	credentials := memstore.NewTable(func(c Credential) uuid.UUID { return c.MemberID })
	visits := memstore.NewTable(func(v Visit) uuid.UUID { return v.ID }).
		Unique("visits_one_active_per_member", func(v Visit) (string, bool) {
			return v.MemberID.String(), v.IsActive()
		})
	members := memstore.NewTable(func(m Member) uuid.UUID { return m.ID }).
		Unique("members_email_key", func(m Member) (string, bool) { return m.Email, true }).
		Unique("members_membership_number_key", func(m Member) (string, bool) { return m.MembershipNumber, true })

	return Repositories{
		Members:     &memMembers{Table: members, credentials: credentials, visits: visits},
		Credentials: credentials,
		Visits:      &memVisits{Table: visits},
	}
}

type memMembers struct {
	*memstore.Table[Member]
	credentials *memstore.Table[Credential]
	visits      *memstore.Table[Visit]
}

func (r *memMembers) FindByEmail(ctx context.Context, email string) (Member, error) {
	return r.First(ctx, func(m Member) bool { return m.Email == email })
}

func (r *memMembers) List(ctx context.Context, filter MemberFilter) ([]Member, error) {
	return r.Filter(ctx, func(m Member) bool {
		return filter.Status == "" || m.Status == filter.Status
	})
}

func (r *memMembers) FindLapsed(ctx context.Context, now time.Time) ([]Member, error) {
	return r.Filter(ctx, func(m Member) bool {
		return m.Status != MemberExpired && m.ExpiresAt.Before(now)
	})
}

func (r *memMembers) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if err := r.Table.DeleteByID(ctx, id); err != nil {
		return err
	}
	_, _ = r.credentials.DeleteWhere(ctx, func(c Credential) bool { return c.MemberID == id })
	_, _ = r.visits.DeleteWhere(ctx, func(v Visit) bool { return v.MemberID == id })
	return nil
}

type memVisits struct {
	*memstore.Table[Visit]
}

func (r *memVisits) FindActiveByMember(ctx context.Context, memberID uuid.UUID) (Visit, error) {
	return r.First(ctx, func(v Visit) bool { return v.MemberID == memberID && v.IsActive() })
}

func (r *memVisits) List(ctx context.Context, memberID uuid.NullUUID) ([]Visit, error) {
	return r.Filter(ctx, func(v Visit) bool {
		return !memberID.Valid || v.MemberID == memberID.UUID
	})
}
