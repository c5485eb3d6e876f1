package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MecaIDFloor is the first MECA ID ever handed out.
const MecaIDFloor = 700500

type MembershipCategory string

const (
	CategoryCompetitor   MembershipCategory = "competitor"
	CategoryRetail       MembershipCategory = "retail"
	CategoryManufacturer MembershipCategory = "manufacturer"
	// CategoryTeam is the legacy stand-alone team membership.
	CategoryTeam MembershipCategory = "team"
)

// ParseMembershipCategory normalizes user input; "retailer" is accepted as an alias of retail.
func ParseMembershipCategory(raw string) (MembershipCategory, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "competitor":
		return CategoryCompetitor, true
	case "retail", "retailer":
		return CategoryRetail, true
	case "manufacturer":
		return CategoryManufacturer, true
	case "team":
		return CategoryTeam, true
	default:
		return "", false
	}
}

// EarnsPoints reports whether memberships of this category carry a points-eligible MECA ID.
func (c MembershipCategory) EarnsPoints() bool {
	return c == CategoryCompetitor || c == CategoryRetail || c == CategoryManufacturer
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// ParsePaymentStatus normalizes user input into a PaymentStatus.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch s := PaymentStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case PaymentPending, PaymentPaid, PaymentRefunded, PaymentFailed, PaymentCancelled:
		return s, true
	default:
		return "", false
	}
}

// Membership is one paid or pending membership period of a user.
type Membership struct {
	ID                     string                `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID                 string                `gorm:"type:varchar(36);not null;index" json:"user_id" validate:"required"`
	MembershipTypeConfigID *string               `gorm:"type:varchar(36);index" json:"membership_type_config_id,omitempty"`
	MembershipTypeConfig   *MembershipTypeConfig `gorm:"foreignKey:MembershipTypeConfigID" json:"membership_type_config,omitempty"`
	Category               MembershipCategory    `gorm:"type:varchar(32);not null;index" json:"category" validate:"required,oneof=competitor retail manufacturer team"`
	MecaID                 *int                  `gorm:"index" json:"meca_id,omitempty"`
	CompetitorName         string                `gorm:"type:varchar(255)" json:"competitor_name" validate:"max=255"`
	StartDate              time.Time             `gorm:"type:timestamp;not null" json:"start_date" validate:"required"`
	EndDate                *time.Time            `gorm:"type:timestamp;default:null;index" json:"end_date,omitempty"`
	PaymentStatus          PaymentStatus         `gorm:"type:varchar(32);not null;default:'pending';index" json:"payment_status" validate:"required,oneof=pending paid refunded failed cancelled"`
	HasTeamAddon           bool                  `gorm:"default:false" json:"has_team_addon"`
	CreatedAt              time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt              gorm.DeletedAt        `gorm:"index" json:"-"`
}

// BeforeCreate assigns a UUID primary key when none is set
func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func (m *Membership) Validate() error {
	v := validator.New()

	return v.Struct(m)
}

// IsPaid reports whether the membership has been paid for
func (m *Membership) IsPaid() bool {
	return m.PaymentStatus == PaymentPaid
}

// IsActiveAt reports whether the membership is paid and still covering the given instant.
// An open-ended membership (no end date) never lapses.
func (m *Membership) IsActiveAt(now time.Time) bool {
	if !m.IsPaid() {
		return false
	}
	return m.EndDate == nil || m.EndDate.After(now)
}

// IncludesTeam reports whether the membership's type grants a team
func (m *Membership) IncludesTeam() bool {
	return m.MembershipTypeConfig != nil && m.MembershipTypeConfig.IncludesTeam
}

// MembershipTypeConfig describes a purchasable membership product.
type MembershipTypeConfig struct {
	ID           string             `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string             `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=3,max=150"`
	Category     MembershipCategory `gorm:"type:varchar(32);not null" json:"category" validate:"required,oneof=competitor retail manufacturer team"`
	IncludesTeam bool               `gorm:"default:false" json:"includes_team"`
	IsActive     bool               `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a UUID primary key when none is set
func (c *MembershipTypeConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
