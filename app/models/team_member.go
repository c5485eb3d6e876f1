package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TeamRole string

const (
	TeamRoleOwner     TeamRole = "owner"
	TeamRoleCoOwner   TeamRole = "co_owner"
	TeamRoleModerator TeamRole = "moderator"
	TeamRoleMember    TeamRole = "member"
)

// ParseTeamRole accepts the four roster roles; "captain" is the legacy name of owner.
func ParseTeamRole(raw string) (TeamRole, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "owner", "captain":
		return TeamRoleOwner, true
	case "co_owner", "co-owner", "coowner":
		return TeamRoleCoOwner, true
	case "moderator":
		return TeamRoleModerator, true
	case "member":
		return TeamRoleMember, true
	default:
		return "", false
	}
}

// Rank orders roles by privilege; unknown roles rank 0.
func (r TeamRole) Rank() int {
	switch r {
	case TeamRoleOwner:
		return 4
	case TeamRoleCoOwner:
		return 3
	case TeamRoleModerator:
		return 2
	case TeamRoleMember:
		return 1
	default:
		return 0
	}
}

type TeamMemberStatus string

const (
	MemberActive          TeamMemberStatus = "active"
	MemberPendingApproval TeamMemberStatus = "pending_approval"
	MemberPendingInvite   TeamMemberStatus = "pending_invite"
	MemberPendingRenewal  TeamMemberStatus = "pending_renewal"
	MemberInactive        TeamMemberStatus = "inactive"
)

// TeamMember is one user's relationship to one team.
type TeamMember struct {
	ID             string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	TeamID         string           `gorm:"type:varchar(36);not null;uniqueIndex:ux_team_members_team_user,priority:1" json:"team_id"`
	UserID         string           `gorm:"type:varchar(36);not null;uniqueIndex:ux_team_members_team_user,priority:2;index" json:"user_id"`
	Role           TeamRole         `gorm:"type:varchar(32);not null;default:'member'" json:"role"`
	Status         TeamMemberStatus `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	InvitedBy      *string          `gorm:"type:varchar(36)" json:"invited_by,omitempty"`
	JoinedAt       *time.Time       `gorm:"type:timestamp;default:null" json:"joined_at,omitempty"`
	RequestedAt    *time.Time       `gorm:"type:timestamp;default:null" json:"requested_at,omitempty"`
	RequestMessage string           `gorm:"type:text" json:"request_message,omitempty"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a UUID primary key when none is set
func (m *TeamMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// IsActive reports whether the member currently belongs to the team
func (m *TeamMember) IsActive() bool {
	return m.Status == MemberActive
}

// Blocks reports whether the record prevents a new invite or join request for the same pair.
func (m *TeamMember) Blocks() bool {
	switch m.Status {
	case MemberActive, MemberPendingApproval, MemberPendingInvite, MemberPendingRenewal:
		return true
	default:
		return false
	}
}
