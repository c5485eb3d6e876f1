package repository

import (
	"context"

	"github.com/newmeca/membership/app/models"
	"gorm.io/gorm"
)

// mecaIDHistoryRepository implements the MecaIDHistoryRepository interface
type mecaIDHistoryRepository struct {
	db *gorm.DB
}

// NewMecaIDHistoryRepository creates a new MECA ID history repository instance
func NewMecaIDHistoryRepository(db *gorm.DB) MecaIDHistoryRepository {
	return &mecaIDHistoryRepository{db: db}
}

func (r *mecaIDHistoryRepository) Create(ctx context.Context, h *models.MecaIDHistory) error {
	return r.db.WithContext(ctx).Omit("Membership").Create(h).Error
}

func (r *mecaIDHistoryRepository) Update(ctx context.Context, h *models.MecaIDHistory) error {
	if err := h.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Omit("Membership").Save(h).Error
}

func (r *mecaIDHistoryRepository) FindOpenEntry(ctx context.Context, mecaID int, membershipID string) (*models.MecaIDHistory, error) {
	var h models.MecaIDHistory
	err := r.db.WithContext(ctx).
		Where("meca_id = ? AND membership_id = ? AND expired_at IS NULL", mecaID, membershipID).
		Order("assigned_at DESC").
		First(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *mecaIDHistoryRepository) FindAwaitingReactivation(ctx context.Context, mecaID int, userID string) (*models.MecaIDHistory, error) {
	ownMemberships := r.db.Unscoped().Model(&models.Membership{}).Select("id").Where("user_id = ?", userID)

	var h models.MecaIDHistory
	err := r.db.WithContext(ctx).
		Where("meca_id = ? AND expired_at IS NOT NULL AND reactivated_at IS NULL", mecaID).
		Where(r.db.Where("membership_id IN (?)", ownMemberships).Or("profile_id = ?", userID)).
		Order("expired_at DESC").
		First(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *mecaIDHistoryRepository) ListByMecaID(ctx context.Context, mecaID int) ([]models.MecaIDHistory, error) {
	var entries []models.MecaIDHistory
	err := r.db.WithContext(ctx).Where("meca_id = ?", mecaID).Order("assigned_at ASC").Find(&entries).Error
	return entries, err
}

// List returns a page of history entries, newest first, together with the total count
func (r *mecaIDHistoryRepository) List(ctx context.Context, offset, limit int) ([]models.MecaIDHistory, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.MecaIDHistory{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.MecaIDHistory
	err := r.db.WithContext(ctx).
		Preload("Membership").
		Order("assigned_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error
	return entries, total, err
}
