package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmeca/membership/app/models"
	"github.com/newmeca/membership/app/repository"
	"github.com/newmeca/membership/internal/pkg/allocator"
	"github.com/newmeca/membership/internal/pkg/apperr"
	"github.com/newmeca/membership/internal/pkg/mecaid"
	"github.com/newmeca/membership/internal/pkg/testdb"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type brokenAllocator struct{}

func (brokenAllocator) Next(context.Context) (int, error) { return 0, errors.New("connection refused") }

func (brokenAllocator) Reserve(context.Context, int) error { return errors.New("connection refused") }

func newService(t *testing.T, alloc mecaid.Allocator, start time.Time) (*Service, *repository.Repositories, *clock) {
	t.Helper()
	db := testdb.Open(t)
	c := &clock{t: start}
	ids := mecaid.NewService(alloc, mecaid.WithClock(c.now))
	svc := NewService(repository.NewUnitOfWork(db), ids, WithClock(c.now), WithTermDays(365))
	return svc, repository.NewRepositories(db), c
}

func TestCreate_PaidAssignsMecaID(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, repos, _ := newService(t, allocator.NewMemory(), start)
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateInput{UserID: "user-1", Category: "retailer", PaymentStatus: "paid", CompetitorName: " Bass Shop "})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryRetail, m.Category)
	assert.Equal(t, "Bass Shop", m.CompetitorName)
	require.NotNil(t, m.MecaID)
	assert.Equal(t, models.MecaIDFloor, *m.MecaID)
	require.NotNil(t, m.EndDate)
	assert.True(t, m.EndDate.Equal(start.AddDate(0, 0, 365)))

	stored, err := repos.Membership.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MecaID)
	assert.Equal(t, *m.MecaID, *stored.MecaID)

	entries, err := repos.MecaIDHistory.ListByMecaID(ctx, *m.MecaID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCreate_PendingHasNoMecaIDUntilPaid(t *testing.T) {
	svc, _, _ := newService(t, allocator.NewMemory(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateInput{UserID: "user-1", Category: "competitor"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, m.PaymentStatus)
	assert.Nil(t, m.MecaID)

	paid, err := svc.MarkPaid(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, paid.MecaID)
	assert.Equal(t, models.MecaIDFloor, *paid.MecaID)

	_, err = svc.MarkPaid(ctx, m.ID)
	assert.True(t, apperr.IsConflict(err))

	_, err = svc.MarkPaid(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCreate_Validation(t *testing.T) {
	svc, repos, _ := newService(t, allocator.NewMemory(), time.Now().UTC())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Category: "competitor"})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(ctx, CreateInput{UserID: "user-1"})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(ctx, CreateInput{UserID: "user-1", Category: "sponsor"})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(ctx, CreateInput{UserID: "user-1", Category: "competitor", PaymentStatus: "maybe"})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(ctx, CreateInput{UserID: "user-1", MembershipTypeConfigID: "missing"})
	assert.True(t, apperr.IsNotFound(err))

	retired := &models.MembershipTypeConfig{Name: "Old Team", Category: models.CategoryTeam, IsActive: false}
	require.NoError(t, repos.MembershipTypeConfig.Create(ctx, retired))
	_, err = svc.Create(ctx, CreateInput{UserID: "user-1", MembershipTypeConfigID: retired.ID})
	assert.True(t, apperr.IsValidation(err))
}

func TestCreate_TypeConfigDecidesCategory(t *testing.T) {
	svc, repos, _ := newService(t, allocator.NewMemory(), time.Now().UTC())
	ctx := context.Background()

	cfg := &models.MembershipTypeConfig{Name: "Competitor + Team", Category: models.CategoryCompetitor, IncludesTeam: true, IsActive: true}
	require.NoError(t, repos.MembershipTypeConfig.Create(ctx, cfg))

	m, err := svc.Create(ctx, CreateInput{UserID: "user-1", MembershipTypeConfigID: cfg.ID, Category: "retail", PaymentStatus: "paid"})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryCompetitor, m.Category)
	assert.True(t, m.IncludesTeam())

	active, err := svc.ActiveMemberships(ctx, "user-1", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].IncludesTeam())
}

func TestCreate_AllocatorFailureRollsBack(t *testing.T) {
	svc, repos, _ := newService(t, brokenAllocator{}, time.Now().UTC())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{UserID: "user-1", Category: "competitor", PaymentStatus: "paid"})
	require.Error(t, err)
	assert.True(t, apperr.IsAllocatorFailure(err))

	ms, err := repos.Membership.ListActiveByUser(ctx, "user-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, ms, "membership write must roll back with the failed allocation")
}

func TestRenewalReactivationThroughSweep(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, repos, c := newService(t, allocator.NewMemory(), start)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{UserID: "user-u", Category: "competitor", PaymentStatus: "paid"})
	require.NoError(t, err)

	// Nothing has lapsed yet.
	n, err := svc.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.t = a.EndDate.AddDate(0, 0, 1)
	n, err = svc.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep must not expire an entry twice")

	elig, err := svc.Reactivation(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, elig.CanReactivate)
	assert.Equal(t, 1, elig.DaysSinceExpiry)
	assert.Equal(t, 89, elig.DaysRemaining)

	c.t = a.EndDate.AddDate(0, 0, 60)
	b, err := svc.Create(ctx, CreateInput{UserID: "user-u", Category: "competitor", PaymentStatus: "paid"})
	require.NoError(t, err)
	assert.Equal(t, *a.MecaID, *b.MecaID)

	lineage, err := svc.Lineage(ctx, *a.MecaID)
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	assert.NotNil(t, lineage[0].ExpiredAt)
	assert.NotNil(t, lineage[0].ReactivatedAt)

	ids, err := svc.UserMecaIDs(ctx, "user-u")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	points, err := svc.PointsEligibleMecaIDs(ctx, "user-u")
	require.NoError(t, err)
	assert.Equal(t, []int{*b.MecaID}, points)

	page, err := svc.History(ctx, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)

	_, err = repos.Membership.GetByID(ctx, b.ID)
	require.NoError(t, err)
}

func TestAssignMecaIDAndProfile(t *testing.T) {
	svc, repos, _ := newService(t, allocator.NewMemory(), time.Now().UTC())
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateInput{UserID: "user-1", Category: "competitor", PaymentStatus: "paid"})
	require.NoError(t, err)

	updated, err := svc.AssignMecaID(ctx, m.ID, 701000)
	require.NoError(t, err)
	assert.Equal(t, 701000, *updated.MecaID)

	_, err = svc.AssignMecaID(ctx, "missing", 701001)
	assert.True(t, apperr.IsNotFound(err))

	ed := &models.Profile{Email: "ed@example.com", Role: models.RoleEventDirector}
	require.NoError(t, repos.Profile.Create(ctx, ed))
	p, err := svc.AssignProfileMecaID(ctx, ed.ID)
	require.NoError(t, err)
	require.NotNil(t, p.MecaID)

	stored, err := repos.Profile.GetByID(ctx, ed.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MecaID)
	assert.Equal(t, *p.MecaID, *stored.MecaID)
}

func TestAssignMecaIDAboveCounterIsNotIssuedAgain(t *testing.T) {
	svc, repos, c := newService(t, allocator.NewMemory(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{UserID: "user-a", Category: "competitor", PaymentStatus: "paid"})
	require.NoError(t, err)
	_, err = svc.AssignMecaID(ctx, a.ID, models.MecaIDFloor+1)
	require.NoError(t, err)

	b, err := svc.Create(ctx, CreateInput{UserID: "user-b", Category: "competitor", PaymentStatus: "paid"})
	require.NoError(t, err)
	assert.NotEqual(t, models.MecaIDFloor+1, *b.MecaID)

	holders, err := repos.Membership.ListActiveByMecaID(ctx, models.MecaIDFloor+1, c.now())
	require.NoError(t, err)
	assert.Len(t, holders, 1)
}

// A renewal that reuses an ID continues the previous holder's history entry, so the renewed
// membership has no open entry of its own and its later lapse is not stamped again.
func TestSweepSkipsMembershipRenewedByReactivation(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _, c := newService(t, allocator.NewMemory(), start)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{UserID: "user-u", Category: "competitor", PaymentStatus: "paid"})
	require.NoError(t, err)

	c.t = a.EndDate.AddDate(0, 0, 1)
	n, err := svc.SweepExpired(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	c.t = a.EndDate.AddDate(0, 0, 10)
	b, err := svc.Create(ctx, CreateInput{UserID: "user-u", Category: "competitor", PaymentStatus: "paid"})
	require.NoError(t, err)
	require.Equal(t, *a.MecaID, *b.MecaID)

	c.t = b.EndDate.AddDate(0, 0, 1)
	n, err = svc.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	lineage, err := svc.Lineage(ctx, *b.MecaID)
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	require.NotNil(t, lineage[0].MembershipID)
	assert.Equal(t, a.ID, *lineage[0].MembershipID)
	assert.NotNil(t, lineage[0].ReactivatedAt)

	// The renewed ID is still reactivatable from b's end date.
	elig, err := svc.Reactivation(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, elig.CanReactivate)
}
