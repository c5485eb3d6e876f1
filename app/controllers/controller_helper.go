package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/newmeca/membership/internal/pkg/apperr"
	"github.com/newmeca/membership/internal/pkg/teams"
	"github.com/newmeca/membership/internal/pkg/usercontext"
)

var validate = validator.New()

// handleServiceError renders a service error as {"error", "code", "message"}.
// Errors outside the apperr taxonomy are logged and hidden behind a 500.
func handleServiceError(c *fiber.Ctx, err error) error {
	var e *apperr.Error
	if !errors.As(err, &e) {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"code":    "internal_error",
			"message": "Internal server error",
		})
	}
	if e.Kind == apperr.KindAllocatorFailure {
		log.Errorf("[API] MECA ID allocation failed: %v", err)
	}
	return c.Status(apperr.HTTPStatus(err)).JSON(fiber.Map{
		"error":   string(e.Kind),
		"code":    e.Code,
		"message": e.Message,
	})
}

// badRequest answers a malformed request before it reaches a service.
func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   string(apperr.KindValidation),
		"code":    code,
		"message": message,
	})
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperr.Validationf("invalid_body", err, "request body is not valid JSON")
	}
	if err := validate.Struct(out); err != nil {
		return apperr.Validationf("invalid_body", err, "request body failed validation: %s", err.Error())
	}
	return nil
}

// actorFromContext returns the authenticated caller as a team actor.
func actorFromContext(c *fiber.Ctx) teams.Actor {
	uc := usercontext.GetUserContext(c)
	return teams.Actor{UserID: uc.UserID, IsAdmin: uc.IsAdmin}
}

// intParam reads a positive integer route parameter.
func intParam(c *fiber.Ctx, name string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(c.Params(name)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// intQuery reads an integer query parameter, falling back to def.
func intQuery(c *fiber.Ctx, name string, def int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
