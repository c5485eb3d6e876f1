package repository

import (
	"context"
	"strings"

	"github.com/newmeca/membership/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// teamRepository implements the TeamRepository interface
type teamRepository struct {
	db *gorm.DB
}

// NewTeamRepository creates a new team repository instance
func NewTeamRepository(db *gorm.DB) TeamRepository {
	return &teamRepository{db: db}
}

func (r *teamRepository) Create(ctx context.Context, t *models.Team) error {
	return r.db.WithContext(ctx).Omit("Members").Create(t).Error
}

func (r *teamRepository) GetByID(ctx context.Context, id string) (*models.Team, error) {
	var t models.Team
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *teamRepository) GetByOwnerID(ctx context.Context, ownerID string) (*models.Team, error) {
	var t models.Team
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *teamRepository) Update(ctx context.Context, t *models.Team) error {
	return r.db.WithContext(ctx).Omit("Members").Save(t).Error
}

func (r *teamRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Team{}).Error
}

// NameExists reports whether another team already uses the name (case-insensitive).
func (r *teamRepository) NameExists(ctx context.Context, name, exceptID string) (bool, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&models.Team{}).Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name)))
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

// ListForUser returns teams the user owns or is an active member of
func (r *teamRepository) ListForUser(ctx context.Context, userID string) ([]models.Team, error) {
	memberOf := r.db.Model(&models.TeamMember{}).Select("team_id").Where("user_id = ? AND status = ?", userID, models.MemberActive)

	var teams []models.Team
	err := r.db.WithContext(ctx).
		Where("owner_id = ? OR id IN (?)", userID, memberOf).
		Order("created_at ASC").
		Find(&teams).Error
	return teams, err
}

// teamMemberRepository implements the TeamMemberRepository interface
type teamMemberRepository struct {
	db *gorm.DB
}

// NewTeamMemberRepository creates a new team member repository instance
func NewTeamMemberRepository(db *gorm.DB) TeamMemberRepository {
	return &teamMemberRepository{db: db}
}

func (r *teamMemberRepository) Create(ctx context.Context, m *models.TeamMember) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *teamMemberRepository) Update(ctx context.Context, m *models.TeamMember) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *teamMemberRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.TeamMember{}).Error
}

func (r *teamMemberRepository) DeleteByTeam(ctx context.Context, teamID string) error {
	return r.db.WithContext(ctx).Where("team_id = ?", teamID).Delete(&models.TeamMember{}).Error
}

// Find loads the pair's record with a row lock (SELECT ... FOR UPDATE) so two transitions
// on the same record inside concurrent transactions run one after the other.
func (r *teamMemberRepository) Find(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	var m models.TeamMember
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *teamMemberRepository) CountActive(ctx context.Context, teamID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TeamMember{}).
		Where("team_id = ? AND status = ?", teamID, models.MemberActive).
		Count(&count).Error
	return count, err
}

func (r *teamMemberRepository) ListByTeam(ctx context.Context, teamID string) ([]models.TeamMember, error) {
	var ms []models.TeamMember
	err := r.db.WithContext(ctx).Where("team_id = ?", teamID).Order("created_at ASC").Find(&ms).Error
	return ms, err
}

func (r *teamMemberRepository) ListByTeamAndStatus(ctx context.Context, teamID string, status models.TeamMemberStatus) ([]models.TeamMember, error) {
	var ms []models.TeamMember
	err := r.db.WithContext(ctx).Where("team_id = ? AND status = ?", teamID, status).Order("created_at ASC").Find(&ms).Error
	return ms, err
}

func (r *teamMemberRepository) ListByUserAndStatus(ctx context.Context, userID string, status models.TeamMemberStatus) ([]models.TeamMember, error) {
	var ms []models.TeamMember
	err := r.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, status).Order("created_at ASC").Find(&ms).Error
	return ms, err
}
