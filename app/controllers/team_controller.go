package controllers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/newmeca/membership/internal/pkg/teams"
	"github.com/newmeca/membership/internal/pkg/usercontext"
)

// ============================================================================
// TEAM CONTROLLER - rosters, invites and join requests
// ============================================================================

// TeamController handles team roster requests
type TeamController struct {
	teams *teams.Service
}

// NewTeamController creates a new team controller
func NewTeamController(svc *teams.Service) *TeamController {
	return &TeamController{teams: svc}
}

type messageRequest struct {
	Message string `json:"message" validate:"max=1000"`
}

// inviteRequest names the invitee by user ID or by MECA ID.
type inviteRequest struct {
	UserID  string `json:"user_id" validate:"required_without=MecaID,max=36"`
	MecaID  int    `json:"meca_id" validate:"omitempty,min=1"`
	Message string `json:"message" validate:"max=1000"`
}

type userRequest struct {
	UserID string `json:"user_id" validate:"required,max=36"`
}

type roleRequest struct {
	Role string `json:"role" validate:"required"`
}

// HandleCanCreate tells the caller whether they may create a team.
func (tc *TeamController) HandleCanCreate(c *fiber.Ctx) error {
	ok, reason, err := tc.teams.CanCreateTeam(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return handleServiceError(c, err)
	}
	resp := fiber.Map{"can_create": ok}
	if reason != "" {
		resp["reason"] = reason
	}
	return c.JSON(resp)
}

// HandleLookup resolves ?meca_id= to the member holding it.
func (tc *TeamController) HandleLookup(c *fiber.Ctx) error {
	mecaID, err := strconv.Atoi(strings.TrimSpace(c.Query("meca_id")))
	if err != nil || mecaID <= 0 {
		return badRequest(c, "invalid_meca_id", "meca_id must be a positive number")
	}
	found, err := tc.teams.LookupMemberByMecaID(c.UserContext(), mecaID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(found)
}

// HandleMyTeams lists the teams the caller is an active member of.
func (tc *TeamController) HandleMyTeams(c *fiber.Ctx) error {
	list, err := tc.teams.TeamsForUser(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"teams": list})
}

// HandleMyInvites lists the invitations waiting for the caller.
func (tc *TeamController) HandleMyInvites(c *fiber.Ctx) error {
	list, err := tc.teams.PendingInvitesForUser(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"invites": list})
}

// HandleMyRequests lists the caller's open join requests.
func (tc *TeamController) HandleMyRequests(c *fiber.Ctx) error {
	list, err := tc.teams.PendingRequestsForUser(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"requests": list})
}

// HandleCreateTeam creates a team owned by the caller.
func (tc *TeamController) HandleCreateTeam(c *fiber.Ctx) error {
	var in teams.TeamInput
	if err := parseBody(c, &in); err != nil {
		return handleServiceError(c, err)
	}
	team, err := tc.teams.CreateTeam(c.UserContext(), actorFromContext(c), in)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(team)
}

// HandleGetTeam returns a team with its roster.
func (tc *TeamController) HandleGetTeam(c *fiber.Ctx) error {
	team, err := tc.teams.Roster(c.UserContext(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(team)
}

// HandleUpdateTeam edits team settings.
func (tc *TeamController) HandleUpdateTeam(c *fiber.Ctx) error {
	var patch teams.TeamPatch
	if err := parseBody(c, &patch); err != nil {
		return handleServiceError(c, err)
	}
	team, err := tc.teams.UpdateTeam(c.UserContext(), actorFromContext(c), c.Params("id"), patch)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(team)
}

// HandleDeleteTeam deletes a team and its roster.
func (tc *TeamController) HandleDeleteTeam(c *fiber.Ctx) error {
	if err := tc.teams.DeleteTeam(c.UserContext(), actorFromContext(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleRequestToJoin asks to join a team, or joins directly when no approval is needed.
func (tc *TeamController) HandleRequestToJoin(c *fiber.Ctx) error {
	var req messageRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return handleServiceError(c, err)
		}
	}
	rec, err := tc.teams.RequestToJoin(c.UserContext(), c.Params("id"), usercontext.GetUserID(c), req.Message)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// HandleCancelJoinRequest withdraws the caller's join request.
func (tc *TeamController) HandleCancelJoinRequest(c *fiber.Ctx) error {
	if err := tc.teams.CancelJoinRequest(c.UserContext(), c.Params("id"), usercontext.GetUserID(c)); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleInvite invites a user, by ID or MECA ID, to the team.
func (tc *TeamController) HandleInvite(c *fiber.Ctx) error {
	var req inviteRequest
	if err := parseBody(c, &req); err != nil {
		return handleServiceError(c, err)
	}
	ctx := c.UserContext()
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		found, err := tc.teams.LookupMemberByMecaID(ctx, req.MecaID)
		if err != nil {
			return handleServiceError(c, err)
		}
		target = found.UserID
	}
	rec, err := tc.teams.InviteMember(ctx, actorFromContext(c), c.Params("id"), target, req.Message)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// HandleCancelInvite withdraws an invitation.
func (tc *TeamController) HandleCancelInvite(c *fiber.Ctx) error {
	if err := tc.teams.CancelInvite(c.UserContext(), actorFromContext(c), c.Params("id"), c.Params("userId")); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleAcceptInvite accepts the caller's invitation.
func (tc *TeamController) HandleAcceptInvite(c *fiber.Ctx) error {
	rec, err := tc.teams.AcceptInvite(c.UserContext(), c.Params("id"), usercontext.GetUserID(c))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(rec)
}

// HandleDeclineInvite declines the caller's invitation.
func (tc *TeamController) HandleDeclineInvite(c *fiber.Ctx) error {
	if err := tc.teams.DeclineInvite(c.UserContext(), c.Params("id"), usercontext.GetUserID(c)); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleListRequests lists the team's open join requests.
func (tc *TeamController) HandleListRequests(c *fiber.Ctx) error {
	recs, err := tc.teams.PendingRequestsForTeam(c.UserContext(), actorFromContext(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"requests": recs})
}

// HandleApproveRequest admits a requesting user.
func (tc *TeamController) HandleApproveRequest(c *fiber.Ctx) error {
	rec, err := tc.teams.ApproveJoinRequest(c.UserContext(), actorFromContext(c), c.Params("id"), c.Params("userId"))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(rec)
}

// HandleRejectRequest turns a join request down.
func (tc *TeamController) HandleRejectRequest(c *fiber.Ctx) error {
	if err := tc.teams.RejectJoinRequest(c.UserContext(), actorFromContext(c), c.Params("id"), c.Params("userId")); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleAddMember adds a user straight onto the roster.
func (tc *TeamController) HandleAddMember(c *fiber.Ctx) error {
	var req userRequest
	if err := parseBody(c, &req); err != nil {
		return handleServiceError(c, err)
	}
	rec, err := tc.teams.AddMember(c.UserContext(), actorFromContext(c), c.Params("id"), req.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// HandleRemoveMember removes a member from the roster.
func (tc *TeamController) HandleRemoveMember(c *fiber.Ctx) error {
	if err := tc.teams.RemoveMember(c.UserContext(), actorFromContext(c), c.Params("id"), c.Params("userId")); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleUpdateMemberRole changes a member's roster role.
func (tc *TeamController) HandleUpdateMemberRole(c *fiber.Ctx) error {
	var req roleRequest
	if err := parseBody(c, &req); err != nil {
		return handleServiceError(c, err)
	}
	rec, err := tc.teams.UpdateMemberRole(c.UserContext(), actorFromContext(c), c.Params("id"), c.Params("userId"), req.Role)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(rec)
}

// HandleTransferOwnership hands the team to another active member.
func (tc *TeamController) HandleTransferOwnership(c *fiber.Ctx) error {
	var req userRequest
	if err := parseBody(c, &req); err != nil {
		return handleServiceError(c, err)
	}
	team, err := tc.teams.TransferOwnership(c.UserContext(), actorFromContext(c), c.Params("id"), req.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(team)
}

// HandleLeaveTeam removes the caller from the team.
func (tc *TeamController) HandleLeaveTeam(c *fiber.Ctx) error {
	if err := tc.teams.LeaveTeam(c.UserContext(), c.Params("id"), usercontext.GetUserID(c)); err != nil {
		return handleServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
