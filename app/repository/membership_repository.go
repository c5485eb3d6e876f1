package repository

import (
	"context"
	"time"

	"github.com/newmeca/membership/app/models"
	"gorm.io/gorm"
)

// membershipRepository implements the MembershipRepository interface
type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository creates a new membership repository instance
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) Create(ctx context.Context, m *models.Membership) error {
	return r.db.WithContext(ctx).Omit("MembershipTypeConfig").Create(m).Error
}

func (r *membershipRepository) GetByID(ctx context.Context, id string) (*models.Membership, error) {
	var m models.Membership
	err := r.db.WithContext(ctx).Preload("MembershipTypeConfig").Where("id = ?", id).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepository) Update(ctx context.Context, m *models.Membership) error {
	return r.db.WithContext(ctx).Omit("MembershipTypeConfig").Save(m).Error
}

func (r *membershipRepository) FindLatestExpiredByUserAndCategory(ctx context.Context, userID string, category models.MembershipCategory, now time.Time) (*models.Membership, error) {
	var m models.Membership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND payment_status = ? AND category = ? AND end_date IS NOT NULL AND end_date < ?",
			userID, models.PaymentPaid, category, now).
		Order("end_date DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Membership, error) {
	var ms []models.Membership
	err := r.db.WithContext(ctx).
		Preload("MembershipTypeConfig").
		Where("user_id = ? AND payment_status = ? AND (end_date IS NULL OR end_date > ?)", userID, models.PaymentPaid, now).
		Order("created_at ASC").
		Find(&ms).Error
	return ms, err
}

func (r *membershipRepository) ListPaidWithMecaIDByUser(ctx context.Context, userID string) ([]models.Membership, error) {
	var ms []models.Membership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND payment_status = ? AND meca_id IS NOT NULL", userID, models.PaymentPaid).
		Order("created_at ASC").
		Find(&ms).Error
	return ms, err
}

func (r *membershipRepository) ListActiveByMecaID(ctx context.Context, mecaID int, now time.Time) ([]models.Membership, error) {
	var ms []models.Membership
	err := r.db.WithContext(ctx).
		Where("meca_id = ? AND payment_status = ? AND (end_date IS NULL OR end_date > ?)", mecaID, models.PaymentPaid, now).
		Find(&ms).Error
	return ms, err
}

// ListLapsedWithOpenHistory returns paid memberships past their end date whose MECA ID
// history entry has not been marked expired yet.
func (r *membershipRepository) ListLapsedWithOpenHistory(ctx context.Context, now time.Time, limit int) ([]models.Membership, error) {
	var ms []models.Membership
	q := r.db.WithContext(ctx).
		Where("payment_status = ? AND meca_id IS NOT NULL AND end_date IS NOT NULL AND end_date < ?", models.PaymentPaid, now).
		Where("EXISTS (SELECT 1 FROM meca_id_history h WHERE h.membership_id = memberships.id AND h.meca_id = memberships.meca_id AND h.expired_at IS NULL)").
		Order("end_date ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&ms).Error
	return ms, err
}

// membershipTypeConfigRepository implements the MembershipTypeConfigRepository interface
type membershipTypeConfigRepository struct {
	db *gorm.DB
}

// NewMembershipTypeConfigRepository creates a new membership type config repository instance
func NewMembershipTypeConfigRepository(db *gorm.DB) MembershipTypeConfigRepository {
	return &membershipTypeConfigRepository{db: db}
}

func (r *membershipTypeConfigRepository) Create(ctx context.Context, c *models.MembershipTypeConfig) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *membershipTypeConfigRepository) GetByID(ctx context.Context, id string) (*models.MembershipTypeConfig, error) {
	var c models.MembershipTypeConfig
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}
