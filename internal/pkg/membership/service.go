package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/newmeca/membership/app/models"
	"github.com/newmeca/membership/app/repository"
	"github.com/newmeca/membership/internal/pkg/apperr"
	"github.com/newmeca/membership/internal/pkg/mecaid"
)

const DefaultTermDays = 365

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now. Pass the same clock to the mecaid.Service.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTermDays sets the length of a new membership period.
func WithTermDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.termDays = days
		}
	}
}

// Service creates memberships, takes payments and expires lapsed MECA IDs. Every write runs
// in one unit of work so the membership row and its MECA ID history commit together.
type Service struct {
	uow      repository.UnitOfWork
	ids      *mecaid.Service
	termDays int
	now      func() time.Time
	validate *validator.Validate
}

// NewService creates a membership service.
func NewService(uow repository.UnitOfWork, ids *mecaid.Service, opts ...Option) *Service {
	s := &Service{
		uow:      uow,
		ids:      ids,
		termDays: DefaultTermDays,
		now:      time.Now,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is a membership purchase or admin assignment. When MembershipTypeConfigID is
// set, the product's category wins over Category.
type CreateInput struct {
	UserID                 string `json:"user_id" validate:"required,max=36"`
	MembershipTypeConfigID string `json:"membership_type_config_id" validate:"omitempty,max=36"`
	Category               string `json:"category" validate:"required_without=MembershipTypeConfigID"`
	CompetitorName         string `json:"competitor_name" validate:"max=255"`
	PaymentStatus          string `json:"payment_status"`
	HasTeamAddon           bool   `json:"has_team_addon"`
}

func notFound(err error, code, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(code, message)
	}
	return err
}

// Create stores a new membership. A paid membership receives its MECA ID in the same
// transaction, reusing the previous ID when the renewal falls inside the reactivation window.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Membership, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.Validationf("invalid_membership", err, "membership input is invalid")
	}

	status := models.PaymentPending
	if strings.TrimSpace(in.PaymentStatus) != "" {
		parsed, ok := models.ParsePaymentStatus(in.PaymentStatus)
		if !ok {
			return nil, apperr.Validation("invalid_payment_status", fmt.Sprintf("unknown payment status %q", in.PaymentStatus))
		}
		status = parsed
	}

	var m *models.Membership
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var cfg *models.MembershipTypeConfig
		category, ok := models.ParseMembershipCategory(in.Category)
		if in.MembershipTypeConfigID != "" {
			c, err := repos.MembershipTypeConfig.GetByID(ctx, in.MembershipTypeConfigID)
			if err != nil {
				return notFound(err, "membership_type_not_found", "membership type not found")
			}
			if !c.IsActive {
				return apperr.Validation("membership_type_inactive", "membership type is no longer offered")
			}
			cfg, category, ok = c, c.Category, true
		}
		if !ok {
			return apperr.Validation("invalid_category", fmt.Sprintf("unknown membership category %q", in.Category))
		}

		start := s.now()
		end := start.AddDate(0, 0, s.termDays)
		m = &models.Membership{
			UserID:         in.UserID,
			Category:       category,
			CompetitorName: strings.TrimSpace(in.CompetitorName),
			StartDate:      start,
			EndDate:        &end,
			PaymentStatus:  status,
			HasTeamAddon:   in.HasTeamAddon,
		}
		if cfg != nil {
			m.MembershipTypeConfigID = &cfg.ID
		}
		if err := m.Validate(); err != nil {
			return apperr.Validationf("invalid_membership", err, "membership is invalid")
		}

		if err := repos.Membership.Create(ctx, m); err != nil {
			return fmt.Errorf("create membership: %w", err)
		}
		m.MembershipTypeConfig = cfg
		if m.IsPaid() {
			return s.assign(ctx, repos, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Membership] Created %s membership %s for user %s (%s)", m.Category, m.ID, m.UserID, m.PaymentStatus)
	return m, nil
}

// assign gives a stored membership its MECA ID and saves it.
func (s *Service) assign(ctx context.Context, repos *repository.Repositories, m *models.Membership) error {
	prev, err := s.ids.FindPreviousMembership(ctx, repos, m.UserID, m.Category)
	if err != nil {
		return err
	}
	if _, err := s.ids.Allocate(ctx, repos, m, prev); err != nil {
		return err
	}
	if err := repos.Membership.Update(ctx, m); err != nil {
		return fmt.Errorf("save membership: %w", err)
	}
	return nil
}

// Get returns one membership.
func (s *Service) Get(ctx context.Context, id string) (*models.Membership, error) {
	var m *models.Membership
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		m, err = repos.Membership.GetByID(ctx, id)
		return notFound(err, "membership_not_found", "membership not found")
	})
	return m, err
}

// MarkPaid records payment of a pending membership and assigns its MECA ID.
func (s *Service) MarkPaid(ctx context.Context, id string) (*models.Membership, error) {
	var m *models.Membership
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		if m, err = repos.Membership.GetByID(ctx, id); err != nil {
			return notFound(err, "membership_not_found", "membership not found")
		}
		switch m.PaymentStatus {
		case models.PaymentPaid:
			return apperr.Conflict("already_paid", "membership is already paid")
		case models.PaymentPending, models.PaymentFailed:
		default:
			return apperr.Conflict("payment_not_pending", fmt.Sprintf("a %s membership cannot be marked paid", m.PaymentStatus))
		}

		m.PaymentStatus = models.PaymentPaid
		if m.MecaID != nil {
			if err := repos.Membership.Update(ctx, m); err != nil {
				return fmt.Errorf("save membership: %w", err)
			}
			return nil
		}
		return s.assign(ctx, repos, m)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Membership] Membership %s paid, MECA ID %d", m.ID, *m.MecaID)
	return m, nil
}

// AssignMecaID is the admin override that puts a specific MECA ID on a membership.
func (s *Service) AssignMecaID(ctx context.Context, id string, mecaID int) (*models.Membership, error) {
	var m *models.Membership
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		if m, err = repos.Membership.GetByID(ctx, id); err != nil {
			return notFound(err, "membership_not_found", "membership not found")
		}
		return s.ids.AssignSpecific(ctx, repos, m, mecaID)
	})
	return m, err
}

// AssignProfileMecaID gives an event director, judge or admin profile its MECA ID.
func (s *Service) AssignProfileMecaID(ctx context.Context, profileID string) (*models.Profile, error) {
	var p *models.Profile
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		if p, err = repos.Profile.GetByID(ctx, profileID); err != nil {
			return notFound(err, "profile_not_found", "profile not found")
		}
		had := p.MecaID != nil
		if _, err := s.ids.AssignToProfile(ctx, repos, p); err != nil {
			return err
		}
		if had {
			return nil
		}
		if err := repos.Profile.Update(ctx, p); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		return nil
	})
	return p, err
}

// Reactivation reports whether the membership's MECA ID can still be reactivated.
func (s *Service) Reactivation(ctx context.Context, id string) (mecaid.Eligibility, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return mecaid.Eligibility{}, err
	}
	return s.ids.CheckReactivationEligibility(m), nil
}

// SweepExpired marks the MECA ID history of up to batch lapsed memberships as expired and
// returns how many were processed.
func (s *Service) SweepExpired(ctx context.Context, batch int) (int, error) {
	processed := 0
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		lapsed, err := repos.Membership.ListLapsedWithOpenHistory(ctx, s.now(), batch)
		if err != nil {
			return fmt.Errorf("list lapsed memberships: %w", err)
		}
		for i := range lapsed {
			if err := s.ids.MarkExpired(ctx, repos, &lapsed[i]); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return processed, nil
}

// ActiveMemberships returns the user's paid memberships covering now, with their type loaded.
func (s *Service) ActiveMemberships(ctx context.Context, userID string, now time.Time) ([]models.Membership, error) {
	var ms []models.Membership
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		ms, err = repos.Membership.ListActiveByUser(ctx, userID, now)
		return err
	})
	return ms, err
}

// UserMecaIDs lists the MECA IDs the user holds through paid memberships.
func (s *Service) UserMecaIDs(ctx context.Context, userID string) ([]mecaid.MecaIDInfo, error) {
	var out []mecaid.MecaIDInfo
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		out, err = s.ids.UserMecaIDs(ctx, repos, userID)
		return err
	})
	return out, err
}

// PointsEligibleMecaIDs lists the user's MECA IDs that can earn competition points.
func (s *Service) PointsEligibleMecaIDs(ctx context.Context, userID string) ([]int, error) {
	var out []int
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		out, err = s.ids.PointsEligibleMecaIDs(ctx, repos, userID)
		return err
	})
	return out, err
}

// History returns one page of the MECA ID audit trail.
func (s *Service) History(ctx context.Context, offset, limit int) (*mecaid.HistoryPage, error) {
	var page *mecaid.HistoryPage
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		page, err = s.ids.History(ctx, repos, offset, limit)
		return err
	})
	return page, err
}

// Lineage returns the history of a single MECA ID.
func (s *Service) Lineage(ctx context.Context, mecaID int) ([]models.MecaIDHistory, error) {
	var entries []models.MecaIDHistory
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		entries, err = s.ids.Lineage(ctx, repos, mecaID)
		return err
	})
	return entries, err
}
