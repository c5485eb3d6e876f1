package mecaid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/newmeca/membership/app/models"
	"github.com/newmeca/membership/app/repository"
	"github.com/newmeca/membership/internal/pkg/apperr"
)

// ReactivationWindowDays is how long after expiry a renewal keeps the previous MECA ID.
const ReactivationWindowDays = 90

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxDrawAttempts     = 5
)

// Allocator hands out strictly increasing MECA IDs starting at models.MecaIDFloor.
// Reserve raises the counter so an ID assigned by hand is never drawn later.
// Implementations must be safe for concurrent callers.
type Allocator interface {
	Next(ctx context.Context) (int, error)
	Reserve(ctx context.Context, id int) error
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, mostly for tests around the reactivation window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service decides which MECA ID a membership carries and keeps the history trail consistent.
// It holds no per-request state; every store access goes through the Repositories passed in,
// which callers bind to a single transaction.
type Service struct {
	alloc Allocator
	now   func() time.Time
}

// NewService creates a MECA ID lifecycle service.
func NewService(alloc Allocator, opts ...Option) *Service {
	s := &Service{alloc: alloc, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Eligibility is the reactivation view of one membership.
type Eligibility struct {
	CanReactivate   bool `json:"can_reactivate"`
	DaysSinceExpiry int  `json:"days_since_expiry"`
	DaysRemaining   int  `json:"days_remaining"`
}

// MecaIDInfo describes one MECA ID a user holds through a paid membership.
type MecaIDInfo struct {
	MecaID         int                       `json:"meca_id"`
	MembershipID   string                    `json:"membership_id"`
	Category       models.MembershipCategory `json:"category"`
	CompetitorName string                    `json:"competitor_name"`
	IsActive       bool                      `json:"is_active"`
	StartDate      time.Time                 `json:"start_date"`
	EndDate        *time.Time                `json:"end_date,omitempty"`
}

// HistoryPage is one page of the MECA ID audit trail, newest first.
type HistoryPage struct {
	Items  []models.MecaIDHistory `json:"items"`
	Total  int64                  `json:"total"`
	Offset int                    `json:"offset"`
	Limit  int                    `json:"limit"`
}

func daysSince(now, t time.Time) float64 {
	return now.Sub(t).Hours() / 24
}

// Allocate decides the MECA ID of m and records it in the history trail.
//
// When prev carries an ID and ended no more than ReactivationWindowDays ago (inclusive,
// fractional days), its ID is reused. Otherwise a fresh ID comes from the allocator.
// m.MecaID is set in both cases; persisting m is left to the caller.
func (s *Service) Allocate(ctx context.Context, tx *repository.Repositories, m *models.Membership, prev *models.Membership) (int, error) {
	if m == nil {
		return 0, apperr.Validation("membership_required", "membership is required")
	}
	if m.UserID == "" {
		return 0, apperr.Validation("user_required", "membership has no user")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	now := s.now()
	if prev != nil && prev.MecaID != nil && prev.EndDate != nil {
		if daysSince(now, *prev.EndDate) <= ReactivationWindowDays {
			return s.reactivate(ctx, tx, m, prev, now)
		}
	}

	id, err := s.draw(ctx, tx, now)
	if err != nil {
		return 0, err
	}

	entry := &models.MecaIDHistory{
		MecaID:       id,
		MembershipID: &m.ID,
		AssignedAt:   now,
		Notes:        models.HistoryNoteNewID,
	}
	if err := tx.MecaIDHistory.Create(ctx, entry); err != nil {
		return 0, fmt.Errorf("create meca id history: %w", err)
	}

	m.MecaID = &id
	log.Infof("[MecaID] Assigned new MECA ID %d to membership %s", id, m.ID)
	return id, nil
}

func (s *Service) reactivate(ctx context.Context, tx *repository.Repositories, m, prev *models.Membership, now time.Time) (int, error) {
	id := *prev.MecaID
	prevEnd := *prev.EndDate

	if err := s.ensureAvailable(ctx, tx, id, now, m.ID, prev.ID); err != nil {
		return 0, err
	}

	entry, err := tx.MecaIDHistory.FindAwaitingReactivation(ctx, id, m.UserID)
	switch {
	case err == nil:
		entry.ReactivatedAt = &now
		entry.PreviousEndDate = &prevEnd
		entry.Notes = fmt.Sprintf("Reactivated within 90-day window (previous end: %s)", prevEnd.UTC().Format("2006-01-02"))
		if err := tx.MecaIDHistory.Update(ctx, entry); err != nil {
			return 0, fmt.Errorf("update meca id history: %w", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = &models.MecaIDHistory{
			MecaID:          id,
			MembershipID:    &m.ID,
			AssignedAt:      now,
			ReactivatedAt:   &now,
			PreviousEndDate: &prevEnd,
			Notes:           models.HistoryNoteReactivated,
		}
		if err := tx.MecaIDHistory.Create(ctx, entry); err != nil {
			return 0, fmt.Errorf("create meca id history: %w", err)
		}
	default:
		return 0, fmt.Errorf("find expired meca id history: %w", err)
	}

	m.MecaID = &id
	log.Infof("[MecaID] Reactivated MECA ID %d for membership %s (%.1f days since expiry)", id, m.ID, daysSince(now, prevEnd))
	return id, nil
}

// draw takes a fresh ID from the allocator, skipping any an active membership still holds.
func (s *Service) draw(ctx context.Context, tx *repository.Repositories, now time.Time) (int, error) {
	for attempt := 0; attempt < maxDrawAttempts; attempt++ {
		id, err := s.alloc.Next(ctx)
		if err != nil {
			return 0, apperr.AllocatorFailure(err)
		}
		if id < models.MecaIDFloor {
			return 0, apperr.AllocatorFailure(fmt.Errorf("allocator returned %d, below floor %d", id, models.MecaIDFloor))
		}
		holders, err := tx.Membership.ListActiveByMecaID(ctx, id, now)
		if err != nil {
			return 0, fmt.Errorf("list memberships by meca id: %w", err)
		}
		if len(holders) == 0 {
			return id, nil
		}
		log.Warnf("[MecaID] Allocator returned MECA ID %d which is already held, drawing again", id)
	}
	return 0, apperr.AllocatorFailure(fmt.Errorf("no free MECA ID after %d draws", maxDrawAttempts))
}

// ensureAvailable fails with a conflict when another active paid membership holds id.
func (s *Service) ensureAvailable(ctx context.Context, tx *repository.Repositories, id int, now time.Time, exclude ...string) error {
	holders, err := tx.Membership.ListActiveByMecaID(ctx, id, now)
	if err != nil {
		return fmt.Errorf("list memberships by meca id: %w", err)
	}
	for _, h := range holders {
		skip := false
		for _, ex := range exclude {
			if ex != "" && h.ID == ex {
				skip = true
				break
			}
		}
		if !skip {
			return apperr.Conflict("meca_id_in_use", fmt.Sprintf("MECA ID %d is already in use by another membership", id))
		}
	}
	return nil
}

// FindPreviousMembership returns the user's most recently ended paid membership in the
// category, or nil when there is none.
func (s *Service) FindPreviousMembership(ctx context.Context, tx *repository.Repositories, userID string, category models.MembershipCategory) (*models.Membership, error) {
	prev, err := tx.Membership.FindLatestExpiredByUserAndCategory(ctx, userID, category, s.now())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find previous membership: %w", err)
	}
	return prev, nil
}

// CheckReactivationEligibility reports whether m's MECA ID could still be reactivated.
// Day counts are floored for display; the decision uses the same fractional comparison
// as Allocate, so the two always agree.
func (s *Service) CheckReactivationEligibility(m *models.Membership) Eligibility {
	if m == nil || m.EndDate == nil {
		return Eligibility{}
	}
	days := daysSince(s.now(), *m.EndDate)
	remaining := math.Max(0, ReactivationWindowDays-days)
	return Eligibility{
		CanReactivate:   days <= ReactivationWindowDays,
		DaysSinceExpiry: int(math.Floor(days)),
		DaysRemaining:   int(math.Floor(remaining)),
	}
}

// MarkExpired stamps the open history entry of m as expired.
// A membership without an ID, or without an open entry, is left alone.
func (s *Service) MarkExpired(ctx context.Context, tx *repository.Repositories, m *models.Membership) error {
	if m == nil || m.MecaID == nil {
		return nil
	}
	entry, err := tx.MecaIDHistory.FindOpenEntry(ctx, *m.MecaID, m.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find open meca id history: %w", err)
	}

	now := s.now()
	entry.ExpiredAt = &now
	if err := tx.MecaIDHistory.Update(ctx, entry); err != nil {
		return fmt.Errorf("update meca id history: %w", err)
	}
	log.Infof("[MecaID] Marked MECA ID %d as expired for membership %s", *m.MecaID, m.ID)
	return nil
}

// AssignToProfile gives an event director, judge or admin a profile-level MECA ID.
// A profile that already has one keeps it. p.MecaID is set; persisting p is left to the caller.
func (s *Service) AssignToProfile(ctx context.Context, tx *repository.Repositories, p *models.Profile) (int, error) {
	if p == nil {
		return 0, apperr.Validation("profile_required", "profile is required")
	}
	if p.MecaID != nil {
		return *p.MecaID, nil
	}
	if !p.HoldsRoleMecaID() {
		return 0, apperr.Validation("role_not_eligible", fmt.Sprintf("cannot assign a MECA ID to a profile with role %q", p.Role))
	}

	now := s.now()
	id, err := s.draw(ctx, tx, now)
	if err != nil {
		return 0, err
	}

	profileID := p.ID
	entry := &models.MecaIDHistory{
		MecaID:     id,
		ProfileID:  &profileID,
		AssignedAt: now,
		Notes:      models.ProfileAssignmentNote(p.Role),
	}
	if err := tx.MecaIDHistory.Create(ctx, entry); err != nil {
		return 0, fmt.Errorf("create meca id history: %w", err)
	}

	p.MecaID = &id
	log.Infof("[MecaID] Assigned MECA ID %d to profile %s (role: %s)", id, p.ID, p.Role)
	return id, nil
}

// AssignSpecific is the admin override that puts a chosen MECA ID on a stored membership.
// The previous ID's open history entry is closed, the allocator is moved past the chosen ID
// and the membership is saved.
func (s *Service) AssignSpecific(ctx context.Context, tx *repository.Repositories, m *models.Membership, mecaID int) error {
	if m == nil {
		return apperr.Validation("membership_required", "membership is required")
	}
	if mecaID < models.MecaIDFloor {
		return apperr.Validation("meca_id_below_floor", fmt.Sprintf("MECA IDs start at %d", models.MecaIDFloor))
	}
	if m.MecaID != nil && *m.MecaID == mecaID {
		return nil
	}

	now := s.now()
	if err := s.ensureAvailable(ctx, tx, mecaID, now, m.ID); err != nil {
		return err
	}
	if err := s.alloc.Reserve(ctx, mecaID); err != nil {
		return apperr.AllocatorFailure(err)
	}

	if m.MecaID != nil {
		open, err := tx.MecaIDHistory.FindOpenEntry(ctx, *m.MecaID, m.ID)
		switch {
		case err == nil:
			open.ExpiredAt = &now
			if err := tx.MecaIDHistory.Update(ctx, open); err != nil {
				return fmt.Errorf("close previous meca id history: %w", err)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("find open meca id history: %w", err)
		}
	}

	entry := &models.MecaIDHistory{
		MecaID:       mecaID,
		MembershipID: &m.ID,
		AssignedAt:   now,
		Notes:        models.HistoryNoteAdminAssign,
	}
	if err := tx.MecaIDHistory.Create(ctx, entry); err != nil {
		return fmt.Errorf("create meca id history: %w", err)
	}

	m.MecaID = &mecaID
	if err := tx.Membership.Update(ctx, m); err != nil {
		return fmt.Errorf("save membership: %w", err)
	}
	log.Infof("[MecaID] Admin assigned MECA ID %d to membership %s", mecaID, m.ID)
	return nil
}

// UserMecaIDs lists every MECA ID the user holds through a paid membership, oldest first.
func (s *Service) UserMecaIDs(ctx context.Context, tx *repository.Repositories, userID string) ([]MecaIDInfo, error) {
	ms, err := tx.Membership.ListPaidWithMecaIDByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	now := s.now()
	out := make([]MecaIDInfo, 0, len(ms))
	for _, m := range ms {
		out = append(out, MecaIDInfo{
			MecaID:         *m.MecaID,
			MembershipID:   m.ID,
			Category:       m.Category,
			CompetitorName: m.CompetitorName,
			IsActive:       m.EndDate == nil || m.EndDate.After(now),
			StartDate:      m.StartDate,
			EndDate:        m.EndDate,
		})
	}
	return out, nil
}

// PointsEligibleMecaIDs returns the MECA IDs of the user's active competitor, retail and
// manufacturer memberships.
func (s *Service) PointsEligibleMecaIDs(ctx context.Context, tx *repository.Repositories, userID string) ([]int, error) {
	ms, err := tx.Membership.ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active memberships: %w", err)
	}

	ids := make([]int, 0, len(ms))
	for _, m := range ms {
		if m.MecaID != nil && m.Category.EarnsPoints() {
			ids = append(ids, *m.MecaID)
		}
	}
	return ids, nil
}

// Lineage returns every history entry of one MECA ID in assignment order.
func (s *Service) Lineage(ctx context.Context, tx *repository.Repositories, mecaID int) ([]models.MecaIDHistory, error) {
	entries, err := tx.MecaIDHistory.ListByMecaID(ctx, mecaID)
	if err != nil {
		return nil, fmt.Errorf("list meca id history: %w", err)
	}
	return entries, nil
}

// History returns one page of the full audit trail for the admin dashboard.
func (s *Service) History(ctx context.Context, tx *repository.Repositories, offset, limit int) (*HistoryPage, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	items, total, err := tx.MecaIDHistory.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list meca id history: %w", err)
	}
	return &HistoryPage{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}
