package teams

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/newmeca/membership/app/models"
	"github.com/newmeca/membership/app/repository"
	"github.com/newmeca/membership/internal/pkg/apperr"
)

func blockingConflict(rec *models.TeamMember) error {
	switch rec.Status {
	case models.MemberPendingInvite:
		return apperr.Conflict("invite_pending", "an invite is already pending for this user")
	case models.MemberPendingApproval:
		return apperr.Conflict("request_pending", "a join request is already pending for this user")
	default:
		return apperr.Conflict("already_member", "user is already a member of this team")
	}
}

// RequestToJoin records a join request. A pending invite for the same pair is accepted
// instead, and teams that do not require approval admit the user directly.
func (s *Service) RequestToJoin(ctx context.Context, teamID, userID, message string) (*models.TeamMember, error) {
	ok, err := s.hasActiveMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return nil, apperr.Permission("membership_required", "an active membership is required to join a team")
	}

	var rec *models.TeamMember
	err = s.uow.Do(ctx, func(repos *repository.Repositories) error {
		team, err := loadTeam(ctx, repos, teamID)
		if err != nil {
			return err
		}
		if rec, err = findRecord(ctx, repos, team.ID, userID); err != nil {
			return err
		}

		if rec != nil && rec.Status == models.MemberPendingInvite {
			if err := s.activate(ctx, repos, team, rec); err != nil {
				return err
			}
			return save(ctx, repos, rec)
		}
		if rec != nil && rec.Blocks() {
			return blockingConflict(rec)
		}
		if rec == nil {
			rec = &models.TeamMember{TeamID: team.ID, UserID: userID}
		}

		now := s.now()
		rec.Role = models.TeamRoleMember
		rec.InvitedBy = nil
		rec.RequestedAt = &now
		rec.RequestMessage = message
		rec.JoinedAt = nil
		if team.RequiresApproval {
			rec.Status = models.MemberPendingApproval
		} else if err := s.activate(ctx, repos, team, rec); err != nil {
			return err
		}
		return save(ctx, repos, rec)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Teams] User %s -> team %s: %s", userID, teamID, rec.Status)
	return rec, nil
}

// InviteMember invites a user with an active membership. Owners and co-owners may invite.
// A pending join request from the same user is approved instead.
func (s *Service) InviteMember(ctx context.Context, actor Actor, teamID, targetUserID, message string) (*models.TeamMember, error) {
	ok, err := s.hasActiveMembership(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}

	var rec *models.TeamMember
	err = s.uow.Do(ctx, func(repos *repository.Repositories) error {
		team, err := loadTeam(ctx, repos, teamID)
		if err != nil {
			return err
		}
		if _, err := requireRole(ctx, repos, team, actor, false, models.TeamRoleOwner, models.TeamRoleCoOwner); err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("invitee_membership_required", "the invited user has no active membership")
		}
		if rec, err = findRecord(ctx, repos, team.ID, targetUserID); err != nil {
			return err
		}

		if rec != nil && rec.Status == models.MemberPendingApproval {
			if err := s.activate(ctx, repos, team, rec); err != nil {
				return err
			}
			return save(ctx, repos, rec)
		}
		if rec != nil && rec.Blocks() {
			return blockingConflict(rec)
		}
		if rec == nil {
			rec = &models.TeamMember{TeamID: team.ID, UserID: targetUserID}
		}

		now := s.now()
		inviter := actor.UserID
		rec.Role = models.TeamRoleMember
		rec.Status = models.MemberPendingInvite
		rec.InvitedBy = &inviter
		rec.RequestedAt = &now
		rec.RequestMessage = message
		rec.JoinedAt = nil
		return save(ctx, repos, rec)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Teams] %s invited %s to team %s: %s", actor.UserID, targetUserID, teamID, rec.Status)
	return rec, nil
}

// pendingRecord loads the pair's record and checks it is in the wanted pending state.
func pendingRecord(ctx context.Context, repos *repository.Repositories, teamID, userID string, want models.TeamMemberStatus) (*models.Team, *models.TeamMember, error) {
	team, err := loadTeam(ctx, repos, teamID)
	if err != nil {
		return nil, nil, err
	}
	rec, err := findRecord(ctx, repos, team.ID, userID)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		if want == models.MemberPendingInvite {
			return nil, nil, apperr.NotFound("invite_not_found", "no invite found for this user")
		}
		return nil, nil, apperr.NotFound("request_not_found", "no join request found for this user")
	}
	if rec.Status != want {
		if want == models.MemberPendingInvite {
			return nil, nil, apperr.Conflict("invite_not_pending", fmt.Sprintf("record is %s, not a pending invite", rec.Status))
		}
		return nil, nil, apperr.Conflict("request_not_pending", fmt.Sprintf("record is %s, not a pending join request", rec.Status))
	}
	return team, rec, nil
}

// AcceptInvite makes the invited user an active member.
func (s *Service) AcceptInvite(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	var rec *models.TeamMember
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		team, r, err := pendingRecord(ctx, repos, teamID, userID, models.MemberPendingInvite)
		if err != nil {
			return err
		}
		rec = r
		if err := s.activate(ctx, repos, team, rec); err != nil {
			return err
		}
		return save(ctx, repos, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeclineInvite removes the invite on behalf of the invited user.
func (s *Service) DeclineInvite(ctx context.Context, teamID, userID string) error {
	return s.dropPending(ctx, teamID, userID, models.MemberPendingInvite, nil)
}

// CancelInvite withdraws an invite. Owners, co-owners and admins may do this.
func (s *Service) CancelInvite(ctx context.Context, actor Actor, teamID, targetUserID string) error {
	return s.dropPending(ctx, teamID, targetUserID, models.MemberPendingInvite, func(repos *repository.Repositories, team *models.Team) error {
		_, err := requireRole(ctx, repos, team, actor, true, models.TeamRoleOwner, models.TeamRoleCoOwner)
		return err
	})
}

// ApproveJoinRequest admits a user who asked to join. Owners, co-owners and moderators may approve.
func (s *Service) ApproveJoinRequest(ctx context.Context, actor Actor, teamID, userID string) (*models.TeamMember, error) {
	var rec *models.TeamMember
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		team, err := loadTeam(ctx, repos, teamID)
		if err != nil {
			return err
		}
		if _, err := requireRole(ctx, repos, team, actor, false, models.TeamRoleOwner, models.TeamRoleCoOwner, models.TeamRoleModerator); err != nil {
			return err
		}
		_, r, err := pendingRecord(ctx, repos, teamID, userID, models.MemberPendingApproval)
		if err != nil {
			return err
		}
		rec = r
		if err := s.activate(ctx, repos, team, rec); err != nil {
			return err
		}
		return save(ctx, repos, rec)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Teams] %s approved %s on team %s", actor.UserID, userID, teamID)
	return rec, nil
}

// RejectJoinRequest deletes a join request. Owners, co-owners and moderators may reject.
func (s *Service) RejectJoinRequest(ctx context.Context, actor Actor, teamID, userID string) error {
	return s.dropPending(ctx, teamID, userID, models.MemberPendingApproval, func(repos *repository.Repositories, team *models.Team) error {
		_, err := requireRole(ctx, repos, team, actor, false, models.TeamRoleOwner, models.TeamRoleCoOwner, models.TeamRoleModerator)
		return err
	})
}

// CancelJoinRequest withdraws the user's own join request.
func (s *Service) CancelJoinRequest(ctx context.Context, teamID, userID string) error {
	return s.dropPending(ctx, teamID, userID, models.MemberPendingApproval, nil)
}

func (s *Service) dropPending(ctx context.Context, teamID, userID string, want models.TeamMemberStatus, authorize func(*repository.Repositories, *models.Team) error) error {
	return s.uow.Do(ctx, func(repos *repository.Repositories) error {
		if authorize != nil {
			team, err := loadTeam(ctx, repos, teamID)
			if err != nil {
				return err
			}
			if err := authorize(repos, team); err != nil {
				return err
			}
		}
		_, rec, err := pendingRecord(ctx, repos, teamID, userID, want)
		if err != nil {
			return err
		}
		if err := repos.TeamMember.Delete(ctx, rec.ID); err != nil {
			return fmt.Errorf("delete team member: %w", err)
		}
		return nil
	})
}

// AddMember puts a user straight onto the roster as an active member, resolving any pending
// invite or request. Owners, co-owners and admins may do this.
func (s *Service) AddMember(ctx context.Context, actor Actor, teamID, userID string) (*models.TeamMember, error) {
	ok, err := s.hasActiveMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}

	var rec *models.TeamMember
	err = s.uow.Do(ctx, func(repos *repository.Repositories) error {
		team, err := loadTeam(ctx, repos, teamID)
		if err != nil {
			return err
		}
		if _, err := requireRole(ctx, repos, team, actor, true, models.TeamRoleOwner, models.TeamRoleCoOwner); err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("invitee_membership_required", "the user has no active membership")
		}
		if rec, err = findRecord(ctx, repos, team.ID, userID); err != nil {
			return err
		}
		switch {
		case rec == nil:
			rec = &models.TeamMember{TeamID: team.ID, UserID: userID}
		case rec.Status == models.MemberActive, rec.Status == models.MemberPendingRenewal:
			return blockingConflict(rec)
		}
		rec.Role = models.TeamRoleMember
		if err := s.activate(ctx, repos, team, rec); err != nil {
			return err
		}
		return save(ctx, repos, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RemoveMember takes an active member off the roster. Members may remove themselves; otherwise
// the actor needs a moderating role that outranks the target, or the admin role. The owner can
// only leave through a transfer of ownership.
func (s *Service) RemoveMember(ctx context.Context, actor Actor, teamID, targetUserID string) error {
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		team, err := loadTeam(ctx, repos, teamID)
		if err != nil {
			return err
		}
		target, err := findRecord(ctx, repos, team.ID, targetUserID)
		if err != nil {
			return err
		}
		if target == nil {
			return apperr.NotFound("member_not_found", "user is not on this team")
		}
		if team.OwnerID == targetUserID || target.Role == models.TeamRoleOwner {
			return apperr.Permission("owner_protected", "the team owner cannot be removed; transfer ownership first")
		}
		if !target.IsActive() {
			return apperr.Conflict("member_not_active", fmt.Sprintf("record is %s, not an active member", target.Status))
		}

		self := actor.UserID == targetUserID
		if !self && !actor.IsAdmin {
			role, err := requireRole(ctx, repos, team, actor, false, models.TeamRoleOwner, models.TeamRoleCoOwner, models.TeamRoleModerator)
			if err != nil {
				return err
			}
			if role.Rank() <= target.Role.Rank() {
				return apperr.Permission("insufficient_rank", "you cannot remove a member of equal or higher role")
			}
		}

		if err := repos.TeamMember.Delete(ctx, target.ID); err != nil {
			return fmt.Errorf("delete team member: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("[Teams] %s removed %s from team %s", actor.UserID, targetUserID, teamID)
	return nil
}

// LeaveTeam removes the user from a team they belong to.
func (s *Service) LeaveTeam(ctx context.Context, teamID, userID string) error {
	return s.RemoveMember(ctx, Actor{UserID: userID}, teamID, userID)
}

// UpdateMemberRole changes an active member's role. Owners and co-owners may change roles of
// members they outrank; only the owner or an admin may promote to co-owner. The owner role
// itself only moves through TransferOwnership.
func (s *Service) UpdateMemberRole(ctx context.Context, actor Actor, teamID, targetUserID, newRole string) (*models.TeamMember, error) {
	role, ok := models.ParseTeamRole(newRole)
	if !ok {
		return nil, apperr.Validation("invalid_role", fmt.Sprintf("unknown team role %q", newRole))
	}
	if role == models.TeamRoleOwner {
		return nil, apperr.Validation("owner_role_via_transfer", "use ownership transfer to change the owner")
	}

	var target *models.TeamMember
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		team, err := loadTeam(ctx, repos, teamID)
		if err != nil {
			return err
		}
		actorRole, err := requireRole(ctx, repos, team, actor, true, models.TeamRoleOwner, models.TeamRoleCoOwner)
		if err != nil {
			return err
		}
		if target, err = findRecord(ctx, repos, team.ID, targetUserID); err != nil {
			return err
		}
		if target == nil {
			return apperr.NotFound("member_not_found", "user is not on this team")
		}
		if team.OwnerID == targetUserID || target.Role == models.TeamRoleOwner {
			return apperr.Permission("owner_protected", "the owner's role can only change through ownership transfer")
		}
		if !target.IsActive() {
			return apperr.Conflict("member_not_active", fmt.Sprintf("record is %s, not an active member", target.Status))
		}

		if !actor.IsAdmin {
			if role == models.TeamRoleCoOwner && actorRole != models.TeamRoleOwner {
				return apperr.Permission("owner_required", "only the owner can promote to co-owner")
			}
			if actorRole.Rank() <= target.Role.Rank() {
				return apperr.Permission("insufficient_rank", "you cannot change the role of a member of equal or higher role")
			}
		}

		target.Role = role
		return save(ctx, repos, target)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Teams] %s set role of %s on team %s to %s", actor.UserID, targetUserID, teamID, role)
	return target, nil
}

// TransferOwnership makes another member of the team its owner; the former owner stays on
// as co-owner. The team row and both member rows change in one transaction.
func (s *Service) TransferOwnership(ctx context.Context, actor Actor, teamID, newOwnerUserID string) (*models.Team, error) {
	var team *models.Team
	err := s.uow.Do(ctx, func(repos *repository.Repositories) error {
		var err error
		if team, err = loadTeam(ctx, repos, teamID); err != nil {
			return err
		}
		if team.OwnerID != actor.UserID && !actor.IsAdmin {
			return apperr.Permission("owner_required", "only the owner can transfer ownership")
		}
		if team.OwnerID == newOwnerUserID {
			return apperr.Conflict("already_owner", "user already owns this team")
		}

		next, err := findRecord(ctx, repos, team.ID, newOwnerUserID)
		if err != nil {
			return err
		}
		if next == nil {
			return apperr.NotFound("member_not_found", "new owner is not on this team")
		}
		if !next.IsActive() {
			return apperr.Conflict("member_not_active", "new owner must be an active member")
		}
		current, err := findRecord(ctx, repos, team.ID, team.OwnerID)
		if err != nil {
			return err
		}
		if current == nil {
			return apperr.NotFound("owner_record_missing", "the current owner has no member record")
		}

		current.Role = models.TeamRoleCoOwner
		next.Role = models.TeamRoleOwner
		team.OwnerID = newOwnerUserID
		if err := save(ctx, repos, current); err != nil {
			return err
		}
		if err := save(ctx, repos, next); err != nil {
			return err
		}
		if err := repos.Team.Update(ctx, team); err != nil {
			return fmt.Errorf("update team owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Teams] Ownership of team %s transferred to %s", teamID, newOwnerUserID)
	return team, nil
}
