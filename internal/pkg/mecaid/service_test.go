package mecaid

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
	"github.com/newmeca/membership/internal/pkg/testdb"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) set(t time.Time) { c.t = t }

type failingAllocator struct{ err error }

func (f failingAllocator) Next(context.Context) (int, error) { return 0, f.err }

func (f failingAllocator) Reserve(context.Context, int) error { return f.err }

// fixedAllocator hands out the queued IDs in order.
type fixedAllocator struct{ ids []int }

func (f *fixedAllocator) Next(context.Context) (int, error) {
	if len(f.ids) == 0 {
		return 0, errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

func (f *fixedAllocator) Reserve(context.Context, int) error { return nil }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func setup(t *testing.T, start time.Time) (*Service, *repository.Repositories, *clock) {
	t.Helper()
	db := testdb.Open(t)
	c := &clock{t: start}
	return NewService(allocator.NewMemory(), WithClock(c.now)), repository.NewRepositories(db), c
}

func storeMembership(t *testing.T, repos *repository.Repositories, userID string, cat models.MembershipCategory, start, end time.Time) *models.Membership {
	t.Helper()
	m := &models.Membership{
		UserID:        userID,
		Category:      cat,
		StartDate:     start,
		EndDate:       &end,
		PaymentStatus: models.PaymentPaid,
	}
	require.NoError(t, repos.Membership.Create(context.Background(), m))
	return m
}

// issue stores a membership and gives it a MECA ID the way a purchase does.
func issue(t *testing.T, svc *Service, repos *repository.Repositories, userID string, cat models.MembershipCategory, start, end time.Time, prev *models.Membership) *models.Membership {
	t.Helper()
	ctx := context.Background()
	m := storeMembership(t, repos, userID, cat, start, end)
	_, err := svc.Allocate(ctx, repos, m, prev)
	require.NoError(t, err)
	require.NoError(t, repos.Membership.Update(ctx, m))
	return m
}

func TestAllocate_NewID(t *testing.T) {
	svc, repos, c := setup(t, day(2024, 1, 1))
	ctx := context.Background()

	m := storeMembership(t, repos, "user-1", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0))
	id, err := svc.Allocate(ctx, repos, m, nil)
	require.NoError(t, err)

	assert.Equal(t, models.MecaIDFloor, id)
	require.NotNil(t, m.MecaID)
	assert.Equal(t, id, *m.MecaID)

	entries, err := repos.MecaIDHistory.ListByMecaID(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.HistoryNoteNewID, entries[0].Notes)
	require.NotNil(t, entries[0].MembershipID)
	assert.Equal(t, m.ID, *entries[0].MembershipID)
	assert.Nil(t, entries[0].ProfileID)
}

func TestAllocate_ReactivationBoundary(t *testing.T) {
	now := time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)

	t.Run("exactly 90 days reuses the id", func(t *testing.T) {
		svc, repos, c := setup(t, now.AddDate(-2, 0, 0))
		prevEnd := now.Add(-90 * 24 * time.Hour)
		prev := issue(t, svc, repos, "user-1", models.CategoryCompetitor, c.now(), prevEnd, nil)

		c.set(now)
		next := storeMembership(t, repos, "user-1", models.CategoryCompetitor, now, now.AddDate(1, 0, 0))
		id, err := svc.Allocate(context.Background(), repos, next, prev)
		require.NoError(t, err)
		assert.Equal(t, *prev.MecaID, id)
	})

	t.Run("91 days issues a fresh id", func(t *testing.T) {
		svc, repos, c := setup(t, now.AddDate(-2, 0, 0))
		prevEnd := now.Add(-91 * 24 * time.Hour)
		prev := issue(t, svc, repos, "user-1", models.CategoryCompetitor, c.now(), prevEnd, nil)

		c.set(now)
		next := storeMembership(t, repos, "user-1", models.CategoryCompetitor, now, now.AddDate(1, 0, 0))
		id, err := svc.Allocate(context.Background(), repos, next, prev)
		require.NoError(t, err)
		assert.NotEqual(t, *prev.MecaID, id)
		assert.GreaterOrEqual(t, id, models.MecaIDFloor)
	})

	t.Run("one second past 90 days issues a fresh id", func(t *testing.T) {
		svc, repos, c := setup(t, now.AddDate(-2, 0, 0))
		prevEnd := now.Add(-90*24*time.Hour - time.Second)
		prev := issue(t, svc, repos, "user-1", models.CategoryCompetitor, c.now(), prevEnd, nil)

		c.set(now)
		next := storeMembership(t, repos, "user-1", models.CategoryCompetitor, now, now.AddDate(1, 0, 0))
		id, err := svc.Allocate(context.Background(), repos, next, prev)
		require.NoError(t, err)
		assert.NotEqual(t, *prev.MecaID, id)
	})
}

func TestAllocate_RenewalWithinWindowUpdatesExpiredEntry(t *testing.T) {
	svc, repos, c := setup(t, day(2023, 1, 1))
	ctx := context.Background()

	a := issue(t, svc, repos, "user-u", models.CategoryCompetitor, day(2023, 1, 1), day(2024, 1, 1), nil)

	c.set(day(2024, 1, 2))
	require.NoError(t, svc.MarkExpired(ctx, repos, a))

	c.set(day(2024, 3, 15))
	prev, err := svc.FindPreviousMembership(ctx, repos, "user-u", models.CategoryCompetitor)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, a.ID, prev.ID)

	b := storeMembership(t, repos, "user-u", models.CategoryCompetitor, day(2024, 3, 15), day(2025, 3, 15))
	id, err := svc.Allocate(ctx, repos, b, prev)
	require.NoError(t, err)
	assert.Equal(t, *a.MecaID, id)
	assert.Equal(t, *a.MecaID, *b.MecaID)

	entries, err := repos.MecaIDHistory.ListByMecaID(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1, "reactivation must update the expired entry, not add one")

	var both int
	for _, e := range entries {
		if e.ExpiredAt != nil && e.ReactivatedAt != nil {
			both++
		}
	}
	assert.Equal(t, 1, both)

	e := entries[0]
	require.NotNil(t, e.ReactivatedAt)
	require.NotNil(t, e.PreviousEndDate)
	assert.True(t, e.ReactivatedAt.Equal(day(2024, 3, 15)))
	assert.True(t, e.PreviousEndDate.Equal(day(2024, 1, 1)))
	assert.Equal(t, "Reactivated within 90-day window (previous end: 2024-01-01)", e.Notes)
	assert.False(t, e.IsAwaitingReactivation())
}

func TestAllocate_RenewalAfterWindowIssuesFreshID(t *testing.T) {
	svc, repos, c := setup(t, day(2023, 1, 1))
	ctx := context.Background()

	a := issue(t, svc, repos, "user-u", models.CategoryCompetitor, day(2023, 1, 1), day(2024, 1, 1), nil)
	c.set(day(2024, 1, 2))
	require.NoError(t, svc.MarkExpired(ctx, repos, a))

	c.set(day(2024, 4, 15))
	prev, err := svc.FindPreviousMembership(ctx, repos, "user-u", models.CategoryCompetitor)
	require.NoError(t, err)
	require.NotNil(t, prev)

	b := storeMembership(t, repos, "user-u", models.CategoryCompetitor, day(2024, 4, 15), day(2025, 4, 15))
	id, err := svc.Allocate(ctx, repos, b, prev)
	require.NoError(t, err)
	assert.NotEqual(t, *a.MecaID, id)
	assert.GreaterOrEqual(t, id, models.MecaIDFloor)

	old, err := repos.MecaIDHistory.ListByMecaID(ctx, *a.MecaID)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.True(t, old[0].IsAwaitingReactivation())
}

func TestAllocate_ReactivationWithoutExpiredEntryCreatesOne(t *testing.T) {
	svc, repos, c := setup(t, day(2023, 1, 1))
	ctx := context.Background()

	a := issue(t, svc, repos, "user-u", models.CategoryRetail, day(2023, 1, 1), day(2024, 1, 1), nil)

	c.set(day(2024, 2, 1))
	b := storeMembership(t, repos, "user-u", models.CategoryRetail, day(2024, 2, 1), day(2025, 2, 1))
	id, err := svc.Allocate(ctx, repos, b, a)
	require.NoError(t, err)
	assert.Equal(t, *a.MecaID, id)

	entries, err := repos.MecaIDHistory.ListByMecaID(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	created := entries[1]
	require.NotNil(t, created.MembershipID)
	assert.Equal(t, b.ID, *created.MembershipID)
	assert.Equal(t, models.HistoryNoteReactivated, created.Notes)
	require.NotNil(t, created.ReactivatedAt)
	assert.True(t, created.AssignedAt.Equal(*created.ReactivatedAt))
	require.NotNil(t, created.PreviousEndDate)
	assert.True(t, created.PreviousEndDate.Equal(day(2024, 1, 1)))
}

func TestAllocate_ReactivationRefusesIDHeldByAnotherActiveMembership(t *testing.T) {
	svc, repos, c := setup(t, day(2023, 1, 1))
	ctx := context.Background()

	a := issue(t, svc, repos, "user-u", models.CategoryCompetitor, day(2023, 1, 1), day(2024, 1, 1), nil)

	// An admin override already moved the id onto another live membership.
	c.set(day(2024, 1, 10))
	other := storeMembership(t, repos, "user-x", models.CategoryCompetitor, day(2024, 1, 10), day(2025, 1, 10))
	require.NoError(t, svc.AssignSpecific(ctx, repos, other, *a.MecaID))

	c.set(day(2024, 2, 1))
	b := storeMembership(t, repos, "user-u", models.CategoryCompetitor, day(2024, 2, 1), day(2025, 2, 1))
	_, err := svc.Allocate(ctx, repos, b, a)
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Nil(t, b.MecaID)
}

func TestAllocate_AllocatorFailure(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	cause := errors.New("counter unreachable")
	svc := NewService(failingAllocator{err: cause})
	ctx := context.Background()

	m := storeMembership(t, repos, "user-1", models.CategoryCompetitor, time.Now().UTC(), time.Now().UTC().AddDate(1, 0, 0))
	_, err := svc.Allocate(ctx, repos, m, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsAllocatorFailure(err))
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, m.MecaID)

	_, total, err := repos.MecaIDHistory.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestAllocate_PaidMembershipsNeverShareAnID(t *testing.T) {
	svc, repos, c := setup(t, day(2024, 1, 1))
	ctx := context.Background()

	users := []string{"a", "b", "c", "d", "e"}
	cats := []models.MembershipCategory{models.CategoryCompetitor, models.CategoryRetail, models.CategoryManufacturer}
	for _, u := range users {
		for _, cat := range cats {
			issue(t, svc, repos, u, cat, c.now(), c.now().AddDate(1, 0, 0), nil)
		}
	}

	seen := map[int]string{}
	for _, u := range users {
		ms, err := repos.Membership.ListPaidWithMecaIDByUser(ctx, u)
		require.NoError(t, err)
		for _, m := range ms {
			holder, dup := seen[*m.MecaID]
			assert.False(t, dup, "MECA ID %d held by %s and %s", *m.MecaID, holder, m.ID)
			seen[*m.MecaID] = m.ID
		}
	}
	assert.Len(t, seen, len(users)*len(cats))
}

func TestFindPreviousMembership_None(t *testing.T) {
	svc, repos, c := setup(t, day(2024, 1, 1))

	storeMembership(t, repos, "user-1", models.CategoryRetail, c.now(), c.now().AddDate(1, 0, 0))

	prev, err := svc.FindPreviousMembership(context.Background(), repos, "user-1", models.CategoryRetail)
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestCheckReactivationEligibility(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(allocator.NewMemory(), WithClock(func() time.Time { return now }))

	at := func(d time.Duration) *models.Membership {
		end := now.Add(-d)
		return &models.Membership{EndDate: &end}
	}

	tests := []struct {
		name string
		m    *models.Membership
		want Eligibility
	}{
		{name: "no end date", m: &models.Membership{}, want: Eligibility{}},
		{name: "ten and a quarter days", m: at(246 * time.Hour), want: Eligibility{CanReactivate: true, DaysSinceExpiry: 10, DaysRemaining: 79}},
		{name: "exactly ninety days", m: at(90 * 24 * time.Hour), want: Eligibility{CanReactivate: true, DaysSinceExpiry: 90, DaysRemaining: 0}},
		{name: "ninety and a half days", m: at(90*24*time.Hour + 12*time.Hour), want: Eligibility{CanReactivate: false, DaysSinceExpiry: 90, DaysRemaining: 0}},
		{name: "long expired", m: at(400 * 24 * time.Hour), want: Eligibility{CanReactivate: false, DaysSinceExpiry: 400, DaysRemaining: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.CheckReactivationEligibility(tt.m))
		})
	}
}

func TestCheckReactivationEligibilityAgreesWithAllocate(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, d := range []time.Duration{89 * 24 * time.Hour, 90 * 24 * time.Hour, 90*24*time.Hour + time.Minute, 91 * 24 * time.Hour} {
		svc, repos, c := setup(t, now.AddDate(-2, 0, 0))
		prev := issue(t, svc, repos, "user-1", models.CategoryCompetitor, c.now(), now.Add(-d), nil)
		c.set(now)

		elig := svc.CheckReactivationEligibility(prev)
		next := storeMembership(t, repos, "user-1", models.CategoryCompetitor, now, now.AddDate(1, 0, 0))
		id, err := svc.Allocate(context.Background(), repos, next, prev)
		require.NoError(t, err)

		assert.Equal(t, elig.CanReactivate, id == *prev.MecaID, "disagreement at %s", d)
	}
}

func TestMarkExpired_NoOps(t *testing.T) {
	svc, repos, c := setup(t, day(2024, 1, 1))
	ctx := context.Background()

	withoutID := storeMembership(t, repos, "user-1", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0))
	assert.NoError(t, svc.MarkExpired(ctx, repos, withoutID))

	id := 700999
	withoutEntry := storeMembership(t, repos, "user-2", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0))
	withoutEntry.MecaID = &id
	assert.NoError(t, svc.MarkExpired(ctx, repos, withoutEntry))

	assert.NoError(t, svc.MarkExpired(ctx, repos, nil))
}

func TestMarkExpired_OnlyOnce(t *testing.T) {
	svc, repos, c := setup(t, day(2023, 1, 1))
	ctx := context.Background()

	m := issue(t, svc, repos, "user-1", models.CategoryCompetitor, c.now(), day(2024, 1, 1), nil)

	c.set(day(2024, 1, 2))
	require.NoError(t, svc.MarkExpired(ctx, repos, m))
	c.set(day(2024, 1, 3))
	require.NoError(t, svc.MarkExpired(ctx, repos, m))

	entries, err := repos.MecaIDHistory.ListByMecaID(ctx, *m.MecaID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ExpiredAt)
	assert.True(t, entries[0].ExpiredAt.Equal(day(2024, 1, 2)))
}

func TestAssignToProfile(t *testing.T) {
	svc, repos, _ := setup(t, day(2024, 1, 1))
	ctx := context.Background()

	judge := &models.Profile{Email: "judge@example.com", Role: models.RoleJudge}
	require.NoError(t, repos.Profile.Create(ctx, judge))

	id, err := svc.AssignToProfile(ctx, repos, judge)
	require.NoError(t, err)
	assert.Equal(t, models.MecaIDFloor, id)
	require.NotNil(t, judge.MecaID)

	again, err := svc.AssignToProfile(ctx, repos, judge)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	entries, err := repos.MecaIDHistory.ListByMecaID(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ProfileID)
	assert.Equal(t, judge.ID, *entries[0].ProfileID)
	assert.Equal(t, "Assigned to profile for role: judge", entries[0].Notes)

	plain := &models.Profile{Email: "user@example.com", Role: models.RoleUser}
	require.NoError(t, repos.Profile.Create(ctx, plain))
	_, err = svc.AssignToProfile(ctx, repos, plain)
	assert.True(t, apperr.IsValidation(err))
	assert.Nil(t, plain.MecaID)
}

func TestAssignSpecific(t *testing.T) {
	svc, repos, c := setup(t, day(2024, 1, 1))
	ctx := context.Background()

	m := issue(t, svc, repos, "user-1", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0), nil)
	other := issue(t, svc, repos, "user-2", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0), nil)
	oldID := *m.MecaID

	err := svc.AssignSpecific(ctx, repos, m, 1234)
	assert.True(t, apperr.IsValidation(err))

	err = svc.AssignSpecific(ctx, repos, m, *other.MecaID)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, oldID, *m.MecaID)

	require.NoError(t, svc.AssignSpecific(ctx, repos, m, 712345))

	stored, err := repos.Membership.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MecaID)
	assert.Equal(t, 712345, *stored.MecaID)

	oldEntries, err := repos.MecaIDHistory.ListByMecaID(ctx, oldID)
	require.NoError(t, err)
	require.Len(t, oldEntries, 1)
	assert.NotNil(t, oldEntries[0].ExpiredAt)

	newEntries, err := repos.MecaIDHistory.ListByMecaID(ctx, 712345)
	require.NoError(t, err)
	require.Len(t, newEntries, 1)
	assert.Equal(t, models.HistoryNoteAdminAssign, newEntries[0].Notes)
}

func TestUserMecaIDsAndPointsEligibility(t *testing.T) {
	svc, repos, c := setup(t, day(2023, 1, 1))
	ctx := context.Background()

	expired := issue(t, svc, repos, "user-1", models.CategoryCompetitor, day(2023, 1, 1), day(2023, 6, 1), nil)
	retail := issue(t, svc, repos, "user-1", models.CategoryRetail, day(2023, 2, 1), day(2025, 1, 1), nil)
	legacy := issue(t, svc, repos, "user-1", models.CategoryTeam, day(2023, 3, 1), day(2025, 1, 1), nil)
	issue(t, svc, repos, "user-2", models.CategoryCompetitor, day(2023, 1, 1), day(2025, 1, 1), nil)

	c.set(day(2024, 1, 1))

	infos, err := svc.UserMecaIDs(ctx, repos, "user-1")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	byID := map[int]MecaIDInfo{}
	for _, info := range infos {
		byID[info.MecaID] = info
	}
	assert.False(t, byID[*expired.MecaID].IsActive)
	assert.True(t, byID[*retail.MecaID].IsActive)
	assert.Equal(t, models.CategoryRetail, byID[*retail.MecaID].Category)

	ids, err := svc.PointsEligibleMecaIDs(ctx, repos, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []int{*retail.MecaID}, ids)
	assert.NotContains(t, ids, *legacy.MecaID)
}

func TestHistoryPaging(t *testing.T) {
	svc, repos, c := setup(t, day(2024, 1, 1))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.set(day(2024, 1, 1+i))
		issue(t, svc, repos, "user-1", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0), nil)
	}

	page, err := svc.History(ctx, repos, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].AssignedAt.After(page.Items[1].AssignedAt))

	page, err = svc.History(ctx, repos, -3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Offset)
	assert.Equal(t, defaultHistoryLimit, page.Limit)
	assert.Len(t, page.Items, 5)
}

func TestAssignSpecificAboveCounterIsNeverDrawnAgain(t *testing.T) {
	svc, repos, c := setup(t, day(2024, 1, 1))
	ctx := context.Background()

	a := issue(t, svc, repos, "user-a", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0), nil)
	require.Equal(t, models.MecaIDFloor, *a.MecaID)

	require.NoError(t, svc.AssignSpecific(ctx, repos, a, models.MecaIDFloor+1))

	b := issue(t, svc, repos, "user-b", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0), nil)
	assert.Equal(t, models.MecaIDFloor+2, *b.MecaID)

	holders, err := repos.Membership.ListActiveByMecaID(ctx, models.MecaIDFloor+1, c.now())
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, a.ID, holders[0].ID)

	require.NoError(t, svc.AssignSpecific(ctx, repos, b, 701000))
	d := issue(t, svc, repos, "user-d", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0), nil)
	assert.Equal(t, 701001, *d.MecaID)
}

func TestAssignSpecific_ReserveFailureLeavesMembershipAlone(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	svc := NewService(failingAllocator{err: errors.New("counter unreachable")})
	ctx := context.Background()

	m := storeMembership(t, repos, "user-1", models.CategoryCompetitor, time.Now().UTC(), time.Now().UTC().AddDate(1, 0, 0))
	err := svc.AssignSpecific(ctx, repos, m, 701000)
	require.Error(t, err)
	assert.True(t, apperr.IsAllocatorFailure(err))
	assert.Nil(t, m.MecaID)

	_, total, err := repos.MecaIDHistory.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestAllocate_SkipsIDStillHeldByActiveMembership(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	c := &clock{t: day(2024, 1, 1)}
	svc := NewService(&fixedAllocator{ids: []int{700500, 700500, 700501}}, WithClock(c.now))

	a := issue(t, svc, repos, "user-a", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0), nil)
	b := issue(t, svc, repos, "user-b", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0), nil)

	assert.Equal(t, 700500, *a.MecaID)
	assert.Equal(t, 700501, *b.MecaID)
}

func TestAllocate_GivesUpWhenEveryDrawIsHeld(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	c := &clock{t: day(2024, 1, 1)}
	ids := []int{700500}
	for i := 0; i < maxDrawAttempts; i++ {
		ids = append(ids, 700500)
	}
	svc := NewService(&fixedAllocator{ids: ids}, WithClock(c.now))
	ctx := context.Background()

	issue(t, svc, repos, "user-a", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0), nil)

	b := storeMembership(t, repos, "user-b", models.CategoryCompetitor, c.now(), c.now().AddDate(1, 0, 0))
	_, err := svc.Allocate(ctx, repos, b, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsAllocatorFailure(err))
	assert.Nil(t, b.MecaID)

	entries, err := repos.MecaIDHistory.ListByMecaID(ctx, 700500)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAssignToProfile_RejectsIDBelowFloor(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	svc := NewService(&fixedAllocator{ids: []int{42}})
	ctx := context.Background()

	judge := &models.Profile{Email: "judge@example.com", Role: models.RoleJudge}
	require.NoError(t, repos.Profile.Create(ctx, judge))

	_, err := svc.AssignToProfile(ctx, repos, judge)
	require.Error(t, err)
	assert.True(t, apperr.IsAllocatorFailure(err))
	assert.Nil(t, judge.MecaID)
}
