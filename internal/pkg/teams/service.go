package teams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/newmeca/membership/app/models"
	"github.com/newmeca/membership/app/repository"
	"github.com/newmeca/membership/internal/pkg/apperr"
)

// Actor is the user performing a team operation. IsAdmin carries the site-wide admin role,
// which overrides roster roles where the workflow allows it.
type Actor struct {
	UserID  string
	IsAdmin bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service runs the team roster workflow. Every operation is one check-then-write
// transaction on the unit of work.
type Service struct {
	uow   repository.UnitOfWork
	facts MembershipFacts
	now   func() time.Time
}

// NewService creates a team workflow service.
func NewService(uow repository.UnitOfWork, facts MembershipFacts, opts ...Option) *Service {
	s := &Service{uow: uow, facts: facts, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TeamInput carries the editable fields of a new team.
type TeamInput struct {
	Name             string `json:"name" validate:"required,max=150"`
	Description      string `json:"description" validate:"max=2000"`
	MaxMembers       int    `json:"max_members" validate:"omitempty,min=1,max=500"`
	RequiresApproval bool   `json:"requires_approval"`
	IsPublic         bool   `json:"is_public"`
}

// TeamPatch carries the fields of a team update; nil fields are left unchanged.
type TeamPatch struct {
	Name             *string `json:"name" validate:"omitempty,max=150"`
	Description      *string `json:"description" validate:"omitempty,max=2000"`
	MaxMembers       *int    `json:"max_members" validate:"omitempty,min=1,max=500"`
	RequiresApproval *bool   `json:"requires_approval"`
	IsPublic         *bool   `json:"is_public"`
}

// Pending pairs a pending member record with its team.
type Pending struct {
	Team   models.Team       `json:"team"`
	Member models.TeamMember `json:"member"`
}

// MemberLookup is what the invite form shows after resolving a MECA ID.
type MemberLookup struct {
	UserID         string                    `json:"user_id"`
	MecaID         int                       `json:"meca_id"`
	CompetitorName string                    `json:"competitor_name"`
	Category       models.MembershipCategory `json:"category"`
}

const (
	ReasonNoTeamMembership = "no_team_membership"
	ReasonAlreadyOwnsTeam  = "already_owns_team"
)

func loadTeam(ctx context.Context, repos *repository.Repositories, teamID string) (*models.Team, error) {
	team, err := repos.Team.GetByID(ctx, teamID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("team_not_found", "team not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load team: %w", err)
	}
	return team, nil
}

// findRecord returns the pair's record, or nil when the pair is absent.
func findRecord(ctx context.Context, repos *repository.Repositories, teamID, userID string) (*models.TeamMember, error) {
	rec, err := repos.TeamMember.Find(ctx, teamID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load team member: %w", err)
	}
	return rec, nil
}

// roleOf returns the actor's role on the team, or "" when the actor is not an active member.
func roleOf(ctx context.Context, repos *repository.Repositories, team *models.Team, userID string) (models.TeamRole, error) {
	rec, err := findRecord(ctx, repos, team.ID, userID)
	if err != nil || rec == nil || !rec.IsActive() {
		return "", err
	}
	if team.OwnerID == userID {
		return models.TeamRoleOwner, nil
	}
	return rec.Role, nil
}

// requireRole fails with a permission error unless the actor holds one of roles
// (or is a site admin and adminOK is set). It returns the actor's roster role.
func requireRole(ctx context.Context, repos *repository.Repositories, team *models.Team, actor Actor, adminOK bool, roles ...models.TeamRole) (models.TeamRole, error) {
	role, err := roleOf(ctx, repos, team, actor.UserID)
	if err != nil {
		return "", err
	}
	if adminOK && actor.IsAdmin {
		return role, nil
	}
	for _, r := range roles {
		if role == r {
			return role, nil
		}
	}
	return role, apperr.Permission("insufficient_team_role", "you do not have permission to do this on this team")
}

// activate moves rec to active, refusing when the team is already full.
func (s *Service) activate(ctx context.Context, repos *repository.Repositories, team *models.Team, rec *models.TeamMember) error {
	count, err := repos.TeamMember.CountActive(ctx, team.ID)
	if err != nil {
		return fmt.Errorf("count team members: %w", err)
	}
	if int(count) >= team.MaxMembers {
		return apperr.Conflict("team_full", fmt.Sprintf("team has reached its limit of %d members", team.MaxMembers))
	}
	now := s.now()
	rec.Status = models.MemberActive
	rec.JoinedAt = &now
	return nil
}

// save creates rec when it is new and updates it otherwise.
func save(ctx context.Context, repos *repository.Repositories, rec *models.TeamMember) error {
	var err error
	if rec.ID == "" {
		err = repos.TeamMember.Create(ctx, rec)
	} else {
		err = repos.TeamMember.Update(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("save team member: %w", err)
	}
	return nil
}

// CanCreateTeam reports whether the user may create a team, with a reason when not.
func (s *Service) CanCreateTeam(ctx context.Context, userID string) (bool, string, error) {
	ok, err := s.HasTeamMembership(ctx, userID)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, ReasonNoTeamMembership, nil
	}

	owned := false
	err = s.uow.Do(ctx, func(repos *repository.Repositories) error {
		_, err := repos.Team.GetByOwnerID(ctx, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		owned = err == nil
		return err
	})
	if err != nil {
		return false, "", fmt.Errorf("load owned team: %w", err)
	}
	if owned {
		return false, ReasonAlreadyOwnsTeam, nil
	}
	return true, "", nil
}

// CreateTeam creates a team owned by the actor, who must hold a team-granting membership.
func (s *Service) CreateTeam(ctx context.Context, actor Actor, in TeamInput) (*models.Team, error) {
	grant, err := s.teamGrantingMembership(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("check team membership: %w", err)
	}
	if grant == nil {
		return nil, apperr.Permission("team_membership_required", "a retail, manufacturer or team add-on membership is required to create a team")
	}

	name := SanitizeTeamName(in.Name)
	if name == "" {
		return nil, apperr.Validation("invalid_team_name", "team name is empty once the word \"team\" is removed")
	}
	maxMembers := in.MaxMembers
	if maxMembers == 0 {
		maxMembers = models.DefaultTeamMaxMembers
	}

	team := &models.Team{
		Name:             name,
		Description:      in.Description,
		OwnerID:          actor.UserID,
		MembershipID:     &grant.ID,
		MaxMembers:       maxMembers,
		RequiresApproval: in.RequiresApproval,
		IsPublic:         in.IsPublic,
	}
	if err := team.Validate(); err != nil {
		return nil, apperr.Validationf("invalid_team", err, "team is invalid")
	}

	err = s.uow.Do(ctx, func(repos *repository.Repositories) error {
		if _, err := repos.Team.GetByOwnerID(ctx, actor.UserID); err == nil {
			return apperr.Conflict(ReasonAlreadyOwnsTeam, "you already own a team")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load owned team: %w", err)
		}
		taken, err := repos.Team.NameExists(ctx, name, "")
		if err != nil {
			return fmt.Errorf("check team name: %w", err)
		}
		if taken {
			return apperr.Conflict("team_name_taken", "a team with this name already exists")
		}

		if err := repos.Team.Create(ctx, team); err != nil {
			return fmt.Errorf("create team: %w", err)
		}
		now := s.now()
		owner := &models.TeamMember{
			TeamID:   team.ID,
			UserID:   actor.UserID,
			Role:     models.TeamRoleOwner,
			Status:   models.MemberActive,
			JoinedAt: &now,
		}
		return save(ctx, repos, owner)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Teams] User %s created team %s (%s)", actor.UserID, team.ID, team.Name)
	return team, nil
}

// UpdateTeam edits team settings. Owners, co-owners and admins may do this.
func (s *Service) UpdateTeam(ctx context.Context, actor Actor, teamID string, patch TeamPatch) (*models.Team, error) {
	var team *models.Team
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		if team, err = loadTeam(ctx, repos, teamID); err != nil {
			return err
		}
		if _, err := requireRole(ctx, repos, team, actor, true, models.TeamRoleOwner, models.TeamRoleCoOwner); err != nil {
			return err
		}

		if patch.Name != nil {
			name := SanitizeTeamName(*patch.Name)
			if name == "" {
				return apperr.Validation("invalid_team_name", "team name is empty once the word \"team\" is removed")
			}
			taken, err := repos.Team.NameExists(ctx, name, team.ID)
			if err != nil {
				return fmt.Errorf("check team name: %w", err)
			}
			if taken {
				return apperr.Conflict("team_name_taken", "a team with this name already exists")
			}
			team.Name = name
		}
		if patch.Description != nil {
			team.Description = *patch.Description
		}
		if patch.MaxMembers != nil {
			count, err := repos.TeamMember.CountActive(ctx, team.ID)
			if err != nil {
				return fmt.Errorf("count team members: %w", err)
			}
			if int64(*patch.MaxMembers) < count {
				return apperr.Validation("max_members_below_roster", fmt.Sprintf("team already has %d active members", count))
			}
			team.MaxMembers = *patch.MaxMembers
		}
		if patch.RequiresApproval != nil {
			team.RequiresApproval = *patch.RequiresApproval
		}
		if patch.IsPublic != nil {
			team.IsPublic = *patch.IsPublic
		}

		if err := team.Validate(); err != nil {
			return apperr.Validationf("invalid_team", err, "team is invalid")
		}
		if err := repos.Team.Update(ctx, team); err != nil {
			return fmt.Errorf("update team: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// DeleteTeam removes a team and its member records. Only the owner or an admin may do this.
func (s *Service) DeleteTeam(ctx context.Context, actor Actor, teamID string) error {
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		team, err := loadTeam(ctx, repos, teamID)
		if err != nil {
			return err
		}
		if team.OwnerID != actor.UserID && !actor.IsAdmin {
			return apperr.Permission("owner_required", "only the team owner can delete the team")
		}
		if err := repos.TeamMember.DeleteByTeam(ctx, team.ID); err != nil {
			return fmt.Errorf("delete team members: %w", err)
		}
		if err := repos.Team.Delete(ctx, team.ID); err != nil {
			return fmt.Errorf("delete team: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("[Teams] Team %s deleted by %s", teamID, actor.UserID)
	return nil
}

// Roster returns the team with all of its member records.
func (s *Service) Roster(ctx context.Context, teamID string) (*models.Team, error) {
	var team *models.Team
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		if team, err = loadTeam(ctx, repos, teamID); err != nil {
			return err
		}
		members, err := repos.TeamMember.ListByTeam(ctx, team.ID)
		if err != nil {
			return fmt.Errorf("list team members: %w", err)
		}
		team.Members = members
		return nil
	})
	return team, err
}

// TeamsForUser returns the teams the user owns or actively belongs to.
func (s *Service) TeamsForUser(ctx context.Context, userID string) ([]models.Team, error) {
	var teams []models.Team
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		teams, err = repos.Team.ListForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return teams, nil
}

// PendingInvitesForUser lists the invites waiting on the user.
func (s *Service) PendingInvitesForUser(ctx context.Context, userID string) ([]Pending, error) {
	return s.pendingForUser(ctx, userID, models.MemberPendingInvite)
}

// PendingRequestsForUser lists the join requests the user has sent.
func (s *Service) PendingRequestsForUser(ctx context.Context, userID string) ([]Pending, error) {
	return s.pendingForUser(ctx, userID, models.MemberPendingApproval)
}

func (s *Service) pendingForUser(ctx context.Context, userID string, status models.TeamMemberStatus) ([]Pending, error) {
	var out []Pending
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		recs, err := repos.TeamMember.ListByUserAndStatus(ctx, userID, status)
		if err != nil {
			return fmt.Errorf("list pending records: %w", err)
		}
		out = make([]Pending, 0, len(recs))
		for _, rec := range recs {
			team, err := repos.Team.GetByID(ctx, rec.TeamID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("load team: %w", err)
			}
			out = append(out, Pending{Team: *team, Member: rec})
		}
		return nil
	})
	return out, err
}

// PendingRequestsForTeam lists the join requests awaiting a decision. Anyone who may approve
// them may list them.
func (s *Service) PendingRequestsForTeam(ctx context.Context, actor Actor, teamID string) ([]models.TeamMember, error) {
	var recs []models.TeamMember
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		team, err := loadTeam(ctx, repos, teamID)
		if err != nil {
			return err
		}
		if _, err := requireRole(ctx, repos, team, actor, true, models.TeamRoleOwner, models.TeamRoleCoOwner, models.TeamRoleModerator); err != nil {
			return err
		}
		recs, err = repos.TeamMember.ListByTeamAndStatus(ctx, team.ID, models.MemberPendingApproval)
		if err != nil {
			return fmt.Errorf("list join requests: %w", err)
		}
		return nil
	})
	return recs, err
}

// LookupMemberByMecaID resolves a MECA ID to the user holding it through an active membership.
func (s *Service) LookupMemberByMecaID(ctx context.Context, mecaID int) (*MemberLookup, error) {
	var found *MemberLookup
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		ms, err := repos.Membership.ListActiveByMecaID(ctx, mecaID, s.now())
		if err != nil {
			return fmt.Errorf("find membership by meca id: %w", err)
		}
		if len(ms) == 0 {
			return apperr.NotFound("member_not_found", fmt.Sprintf("no active member with MECA ID %d", mecaID))
		}
		m := ms[0]
		found = &MemberLookup{UserID: m.UserID, MecaID: mecaID, CompetitorName: m.CompetitorName, Category: m.Category}
		return nil
	})
	return found, err
}
