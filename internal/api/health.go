package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	dbErr, redisErr := s.db.Ping(ctx)
	resp := healthResponse{Status: "ok", Database: "up", Redis: "up"}
	if dbErr != nil {
		slog.Error("Health check: database unreachable", "error", dbErr)
		resp.Status, resp.Database = "degraded", "down"
	}
	if redisErr != nil {
		slog.Error("Health check: redis unreachable", "error", redisErr)
		resp.Status, resp.Redis = "degraded", "down"
	}

	if resp.Status != "ok" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}
