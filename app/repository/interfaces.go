package repository

import (
	"context"
	"time"

	"github.com/newmeca/membership/app/models"
	"gorm.io/gorm"
)

// MembershipRepository defines the interface for membership-related database operations
type MembershipRepository interface {
	Create(ctx context.Context, m *models.Membership) error
	GetByID(ctx context.Context, id string) (*models.Membership, error)
	Update(ctx context.Context, m *models.Membership) error
	// FindLatestExpiredByUserAndCategory returns the paid membership of the user in the given
	// category with the latest end date before now, or gorm.ErrRecordNotFound.
	FindLatestExpiredByUserAndCategory(ctx context.Context, userID string, category models.MembershipCategory, now time.Time) (*models.Membership, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Membership, error)
	ListPaidWithMecaIDByUser(ctx context.Context, userID string) ([]models.Membership, error)
	ListActiveByMecaID(ctx context.Context, mecaID int, now time.Time) ([]models.Membership, error)
	ListLapsedWithOpenHistory(ctx context.Context, now time.Time, limit int) ([]models.Membership, error)
}

// MembershipTypeConfigRepository defines the interface for membership product lookups
type MembershipTypeConfigRepository interface {
	Create(ctx context.Context, c *models.MembershipTypeConfig) error
	GetByID(ctx context.Context, id string) (*models.MembershipTypeConfig, error)
}

// MecaIDHistoryRepository defines the interface for the MECA ID audit trail
type MecaIDHistoryRepository interface {
	Create(ctx context.Context, h *models.MecaIDHistory) error
	Update(ctx context.Context, h *models.MecaIDHistory) error
	// FindOpenEntry returns the entry for (mecaID, membershipID) that has not expired yet.
	FindOpenEntry(ctx context.Context, mecaID int, membershipID string) (*models.MecaIDHistory, error)
	// FindAwaitingReactivation returns the expired, not yet reactivated entry for (mecaID, userID).
	FindAwaitingReactivation(ctx context.Context, mecaID int, userID string) (*models.MecaIDHistory, error)
	ListByMecaID(ctx context.Context, mecaID int) ([]models.MecaIDHistory, error)
	List(ctx context.Context, offset, limit int) ([]models.MecaIDHistory, int64, error)
}

// ProfileRepository defines the interface for profile-related database operations
type ProfileRepository interface {
	Create(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Profile, error)
	Update(ctx context.Context, p *models.Profile) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// TeamRepository defines the interface for team roster operations
type TeamRepository interface {
	Create(ctx context.Context, t *models.Team) error
	GetByID(ctx context.Context, id string) (*models.Team, error)
	GetByOwnerID(ctx context.Context, ownerID string) (*models.Team, error)
	Update(ctx context.Context, t *models.Team) error
	Delete(ctx context.Context, id string) error
	NameExists(ctx context.Context, name, exceptID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]models.Team, error)
}

// TeamMemberRepository defines the interface for per-user team records keyed by (team, user)
type TeamMemberRepository interface {
	Create(ctx context.Context, m *models.TeamMember) error
	Update(ctx context.Context, m *models.TeamMember) error
	Delete(ctx context.Context, id string) error
	DeleteByTeam(ctx context.Context, teamID string) error
	Find(ctx context.Context, teamID, userID string) (*models.TeamMember, error)
	CountActive(ctx context.Context, teamID string) (int64, error)
	ListByTeam(ctx context.Context, teamID string) ([]models.TeamMember, error)
	ListByTeamAndStatus(ctx context.Context, teamID string, status models.TeamMemberStatus) ([]models.TeamMember, error)
	ListByUserAndStatus(ctx context.Context, userID string, status models.TeamMemberStatus) ([]models.TeamMember, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Membership           MembershipRepository
	MembershipTypeConfig MembershipTypeConfigRepository
	MecaIDHistory        MecaIDHistoryRepository
	Profile              ProfileRepository
	Team                 TeamRepository
	TeamMember           TeamMemberRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Membership:           NewMembershipRepository(db),
		MembershipTypeConfig: NewMembershipTypeConfigRepository(db),
		MecaIDHistory:        NewMecaIDHistoryRepository(db),
		Profile:              NewProfileRepository(db),
		Team:                 NewTeamRepository(db),
		TeamMember:           NewTeamMemberRepository(db),
	}
}
