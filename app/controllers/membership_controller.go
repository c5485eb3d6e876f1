package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/newmeca/membership/internal/pkg/apperr"
	"github.com/newmeca/membership/internal/pkg/membership"
	"github.com/newmeca/membership/internal/pkg/usercontext"
)

// ============================================================================
// MEMBERSHIP CONTROLLER - memberships and MECA IDs
// ============================================================================

// MembershipController handles membership and MECA ID requests
type MembershipController struct {
	memberships *membership.Service
}

// NewMembershipController creates a new membership controller
func NewMembershipController(memberships *membership.Service) *MembershipController {
	return &MembershipController{memberships: memberships}
}

type assignMecaIDRequest struct {
	MecaID int `json:"meca_id" validate:"required,min=1"`
}

// HandleCreateMembership stores a membership for any user (admin only).
func (mc *MembershipController) HandleCreateMembership(c *fiber.Ctx) error {
	var in membership.CreateInput
	if err := parseBody(c, &in); err != nil {
		return handleServiceError(c, err)
	}
	m, err := mc.memberships.Create(c.UserContext(), in)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

// HandleGetMembership returns a membership to its holder or an admin.
func (mc *MembershipController) HandleGetMembership(c *fiber.Ctx) error {
	m, err := mc.memberships.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}
	uc := usercontext.GetUserContext(c)
	if !uc.IsAdmin && m.UserID != uc.UserID {
		return handleServiceError(c, apperr.NotFound("membership_not_found", "membership not found"))
	}
	return c.JSON(m)
}

// HandleMarkPaid records payment of a pending membership (admin only).
func (mc *MembershipController) HandleMarkPaid(c *fiber.Ctx) error {
	m, err := mc.memberships.MarkPaid(c.UserContext(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(m)
}

// HandleAssignMecaID puts a specific MECA ID on a membership (admin only).
func (mc *MembershipController) HandleAssignMecaID(c *fiber.Ctx) error {
	var req assignMecaIDRequest
	if err := parseBody(c, &req); err != nil {
		return handleServiceError(c, err)
	}
	m, err := mc.memberships.AssignMecaID(c.UserContext(), c.Params("id"), req.MecaID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(m)
}

// HandleReactivation reports the reactivation window of a membership's MECA ID.
func (mc *MembershipController) HandleReactivation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	m, err := mc.memberships.Get(ctx, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}
	uc := usercontext.GetUserContext(c)
	if !uc.IsAdmin && m.UserID != uc.UserID {
		return handleServiceError(c, apperr.NotFound("membership_not_found", "membership not found"))
	}
	elig, err := mc.memberships.Reactivation(ctx, m.ID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"membership_id":     m.ID,
		"meca_id":           m.MecaID,
		"can_reactivate":    elig.CanReactivate,
		"days_since_expiry": elig.DaysSinceExpiry,
		"days_remaining":    elig.DaysRemaining,
	})
}

// HandleMyMecaIDs lists the caller's MECA IDs and which of them earn points.
func (mc *MembershipController) HandleMyMecaIDs(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := usercontext.GetUserID(c)
	ids, err := mc.memberships.UserMecaIDs(ctx, userID)
	if err != nil {
		return handleServiceError(c, err)
	}
	points, err := mc.memberships.PointsEligibleMecaIDs(ctx, userID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"meca_ids":        ids,
		"points_eligible": points,
	})
}

// HandleHistory pages through the MECA ID audit trail (admin only).
func (mc *MembershipController) HandleHistory(c *fiber.Ctx) error {
	page, err := mc.memberships.History(c.UserContext(), intQuery(c, "offset", 0), intQuery(c, "limit", 0))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(page)
}

// HandleLineage returns every history entry of one MECA ID (admin only).
func (mc *MembershipController) HandleLineage(c *fiber.Ctx) error {
	mecaID, ok := intParam(c, "mecaId")
	if !ok {
		return badRequest(c, "invalid_meca_id", "MECA ID must be a positive number")
	}
	entries, err := mc.memberships.Lineage(c.UserContext(), mecaID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"meca_id": mecaID, "entries": entries})
}

// HandleAssignProfileMecaID gives an event director, judge or admin profile its MECA ID (admin only).
func (mc *MembershipController) HandleAssignProfileMecaID(c *fiber.Ctx) error {
	p, err := mc.memberships.AssignProfileMecaID(c.UserContext(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"profile_id": p.ID, "role": p.Role, "meca_id": p.MecaID})
}
