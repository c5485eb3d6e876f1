package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	HistoryNoteNewID        = "New MECA ID assigned"
	HistoryNoteReactivated  = "Reactivated MECA ID within 90-day window"
	HistoryNoteAdminAssign  = "Manually assigned by admin"
	historyNoteProfilePrefx = "Assigned to profile for role: "
)

// ErrHistorySubject is returned when a history entry does not reference exactly one subject.
var ErrHistorySubject = errors.New("meca id history entry must reference exactly one of membership or profile")

// MecaIDHistory is the append-only audit trail of one MECA ID assignment.
type MecaIDHistory struct {
	ID              string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	MecaID          int         `gorm:"not null;index" json:"meca_id"`
	MembershipID    *string     `gorm:"type:varchar(36);index" json:"membership_id,omitempty"`
	Membership      *Membership `gorm:"foreignKey:MembershipID" json:"membership,omitempty"`
	ProfileID       *string     `gorm:"type:varchar(36);index" json:"profile_id,omitempty"`
	AssignedAt      time.Time   `gorm:"type:timestamp;not null" json:"assigned_at"`
	ExpiredAt       *time.Time  `gorm:"type:timestamp;default:null" json:"expired_at,omitempty"`
	ReactivatedAt   *time.Time  `gorm:"type:timestamp;default:null" json:"reactivated_at,omitempty"`
	PreviousEndDate *time.Time  `gorm:"type:timestamp;default:null" json:"previous_end_date,omitempty"`
	Notes           string      `gorm:"type:text" json:"notes"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName keeps the singular table name used by the migrations
func (MecaIDHistory) TableName() string {
	return "meca_id_history"
}

// BeforeCreate assigns a UUID primary key and checks the subject invariant
func (h *MecaIDHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return h.Validate()
}

// Validate enforces that exactly one of MembershipID and ProfileID is set.
func (h *MecaIDHistory) Validate() error {
	hasMembership := h.MembershipID != nil && *h.MembershipID != ""
	hasProfile := h.ProfileID != nil && *h.ProfileID != ""
	if hasMembership == hasProfile {
		return ErrHistorySubject
	}
	return nil
}

// IsAwaitingReactivation reports whether the entry is expired and not yet reactivated.
func (h *MecaIDHistory) IsAwaitingReactivation() bool {
	return h.ExpiredAt != nil && h.ReactivatedAt == nil
}

// ProfileAssignmentNote builds the history note for a role-based profile assignment.
func ProfileAssignmentNote(role ProfileRole) string {
	return historyNoteProfilePrefx + string(role)
}

// MecaIDCounter is the single-row table backing the database allocator.
type MecaIDCounter struct {
	ID         int       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	LastMecaID int       `gorm:"not null;default:700499" json:"last_meca_id"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName keeps the singular table name used by the migrations
func (MecaIDCounter) TableName() string {
	return "meca_id_counter"
}
