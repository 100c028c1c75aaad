package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/emoji-maker/internal/models"
)

// loadProfile provisions the caller's profile on first use and stores it in
// the request locals.
func (s *Server) loadProfile(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == "" {
		return errorJSON(c, fiber.StatusUnauthorized, "Authentication required")
	}

	profile, err := s.store.EnsureProfile(c.UserContext(), userID, s.cfg.Profile.DefaultCredits, s.cfg.Profile.DefaultTier)
	if err != nil {
		slog.Error("Failed to load profile", "user_id", userID, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Internal server error")
	}

	c.Locals(localsProfile, profile)
	return c.Next()
}

func currentProfile(c *fiber.Ctx) models.Profile {
	profile, _ := c.Locals(localsProfile).(models.Profile)
	return profile
}

// handleInitializeUser returns the caller's (possibly just created) profile.
func (s *Server) handleInitializeUser(c *fiber.Ctx) error {
	profile := currentProfile(c)
	slog.Info("User initialized", "user_id", profile.UserID, "credits", profile.Credits)

	return c.JSON(models.InitializeUserResponse{
		Message: "User initialized successfully",
		Profile: profile.Summary(),
	})
}
