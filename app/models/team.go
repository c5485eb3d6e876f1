package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultTeamMaxMembers = 10

// Team is one team roster. OwnerID always matches the single member with role owner.
type Team struct {
	ID               string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name             string       `gorm:"type:varchar(150);not null;index" json:"name" validate:"required,min=1,max=150"`
	Description      string       `gorm:"type:text" json:"description" validate:"max=2000"`
	OwnerID          string       `gorm:"type:varchar(36);not null;index" json:"owner_id" validate:"required"`
	MembershipID     *string      `gorm:"type:varchar(36);index" json:"membership_id,omitempty"`
	MaxMembers       int          `gorm:"not null;default:10" json:"max_members" validate:"min=1,max=500"`
	RequiresApproval bool         `gorm:"not null" json:"requires_approval"`
	IsPublic         bool         `gorm:"not null" json:"is_public"`
	Members          []TeamMember `gorm:"foreignKey:TeamID" json:"members,omitempty"`
	CreatedAt        time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a UUID primary key when none is set
func (t *Team) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (t *Team) Validate() error {
	v := validator.New()

	return v.Struct(t)
}
