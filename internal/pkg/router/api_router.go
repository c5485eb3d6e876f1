package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/newmeca/membership/app/controllers"
	"github.com/newmeca/membership/app/repository"
	"github.com/newmeca/membership/internal/pkg/middleware"
)

const defaultRateLimitPerMinute = 120

// ApiRouter mounts the /api/v1 surface. A nil LimiterStorage keeps rate limit
// counters in memory; nil Profiles falls back to the global repository factory.
type ApiRouter struct {
	Memberships    *controllers.MembershipController
	Teams          *controllers.TeamController
	Profiles       repository.ProfileRepository
	LimiterStorage fiber.Storage
	RateLimit      int
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.RateLimit
	if limit <= 0 {
		limit = defaultRateLimitPerMinute
	}
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    h.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if key := c.Get("X-API-Key"); key != "" {
				return "key:" + key
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "MECA membership API",
		})
	})

	// API v1 routes, all behind the API key
	auth := middleware.APIKeyAuthMiddleware
	if h.Profiles != nil {
		auth = func() fiber.Handler { return middleware.APIKeyAuth(h.Profiles) }
	}
	v1 := api.Group("/v1", auth(), middleware.RequireAuth)
	v1.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"ping": "pong"})
	})

	mc := h.Memberships
	v1.Post("/memberships", middleware.RequireAdmin, mc.HandleCreateMembership)
	v1.Get("/memberships/:id", mc.HandleGetMembership)
	v1.Post("/memberships/:id/paid", middleware.RequireAdmin, mc.HandleMarkPaid)
	v1.Put("/memberships/:id/meca-id", middleware.RequireAdmin, mc.HandleAssignMecaID)
	v1.Get("/memberships/:id/reactivation", mc.HandleReactivation)
	v1.Get("/meca-ids/mine", mc.HandleMyMecaIDs)
	v1.Get("/meca-ids/history", middleware.RequireAdmin, mc.HandleHistory)
	v1.Get("/meca-ids/:mecaId/history", middleware.RequireAdmin, mc.HandleLineage)
	v1.Post("/profiles/:id/meca-id", middleware.RequireAdmin, mc.HandleAssignProfileMecaID)

	tc := h.Teams
	teams := v1.Group("/teams")
	teams.Get("/can-create", tc.HandleCanCreate)
	teams.Get("/lookup", tc.HandleLookup)
	teams.Get("/mine", tc.HandleMyTeams)
	teams.Get("/invites/mine", tc.HandleMyInvites)
	teams.Get("/requests/mine", tc.HandleMyRequests)
	teams.Post("/", tc.HandleCreateTeam)
	teams.Get("/:id", tc.HandleGetTeam)
	teams.Put("/:id", tc.HandleUpdateTeam)
	teams.Delete("/:id", tc.HandleDeleteTeam)
	teams.Post("/:id/join", tc.HandleRequestToJoin)
	teams.Delete("/:id/join", tc.HandleCancelJoinRequest)
	teams.Post("/:id/invites", tc.HandleInvite)
	teams.Post("/:id/invites/accept", tc.HandleAcceptInvite)
	teams.Post("/:id/invites/decline", tc.HandleDeclineInvite)
	teams.Delete("/:id/invites/:userId", tc.HandleCancelInvite)
	teams.Get("/:id/requests", tc.HandleListRequests)
	teams.Post("/:id/requests/:userId/approve", tc.HandleApproveRequest)
	teams.Post("/:id/requests/:userId/reject", tc.HandleRejectRequest)
	teams.Post("/:id/members", tc.HandleAddMember)
	teams.Delete("/:id/members/:userId", tc.HandleRemoveMember)
	teams.Put("/:id/members/:userId/role", tc.HandleUpdateMemberRole)
	teams.Post("/:id/transfer", tc.HandleTransferOwnership)
	teams.Post("/:id/leave", tc.HandleLeaveTeam)
}

func NewApiRouter(memberships *controllers.MembershipController, teams *controllers.TeamController, profiles repository.ProfileRepository) *ApiRouter {
	return &ApiRouter{Memberships: memberships, Teams: teams, Profiles: profiles}
}
