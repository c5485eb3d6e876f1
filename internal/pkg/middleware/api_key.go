package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/newmeca/membership/app/models"
	"github.com/newmeca/membership/app/repository"
	"github.com/newmeca/membership/internal/pkg/usercontext"
)

// APIKeyAuthMiddleware authenticates requests carrying a profile API key header,
// resolving profiles through the global repository factory.
func APIKeyAuthMiddleware() fiber.Handler {
	return APIKeyAuth(repository.GetGlobalFactory().GetProfileRepository())
}

// APIKeyAuth authenticates requests against the given profile repository.
func APIKeyAuth(profiles repository.ProfileRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		hash := models.HashAPIKey(apiKey)
		profile, err := profiles.GetByAPIKeyHash(c.UserContext(), hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("api key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		// Refresh last-used timestamp best-effort.
		if err := profiles.TouchAPIKey(c.UserContext(), profile.ID, time.Now()); err != nil {
			log.Warnf("failed to update api key usage timestamp for profile %s: %v", profile.ID, err)
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:     profile.ID,
			ProfileID:  profile.ID,
			Email:      profile.Email,
			Role:       string(profile.Role),
			IsLoggedIn: true,
			IsAdmin:    profile.IsAdmin(),
		})

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
