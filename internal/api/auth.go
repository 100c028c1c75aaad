package api

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v3"
	jwtv4 "github.com/golang-jwt/jwt/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/illegalcall/emoji-maker/internal/config"
	"github.com/illegalcall/emoji-maker/internal/models"
)

const (
	localsToken   = "token"
	localsUserID  = "userID"
	localsProfile = "profile"
)

func (s *Server) usesSharedSecret() bool {
	return s.cfg.JWT.Provider == config.AuthProviderClerk && s.cfg.JWT.PublicKey == ""
}

// authMiddleware verifies the bearer token and stores the caller's user id in
// the request locals.
func (s *Server) authMiddleware() (fiber.Handler, error) {
	if s.cfg.JWT.Provider == config.AuthProviderSupabase {
		return s.supabaseAuth, nil
	}

	cfg := jwtware.Config{
		ContextKey:     localsToken,
		ErrorHandler:   authError,
		SuccessHandler: claimsToLocals,
	}
	if s.cfg.JWT.PublicKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(normalizePEM(s.cfg.JWT.PublicKey)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse CLERK_JWT_KEY: %w", err)
		}
		cfg.SigningMethod = "RS256"
		cfg.SigningKey = key
	} else {
		cfg.SigningMethod = "HS256"
		cfg.SigningKey = []byte(s.cfg.JWT.Secret)
	}
	return jwtware.New(cfg), nil
}

// Clerk shows the PEM with literal "\n" sequences; accept both forms.
func normalizePEM(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

func authError(c *fiber.Ctx, err error) error {
	if c.Get(fiber.HeaderAuthorization) == "" {
		return errorJSON(c, fiber.StatusUnauthorized, "No token provided")
	}
	slog.Debug("Rejected bearer token", "path", c.Path(), "error", err)
	return errorJSON(c, fiber.StatusUnauthorized, "Authentication required")
}

func claimsToLocals(c *fiber.Ctx) error {
	token, ok := c.Locals(localsToken).(*jwtv4.Token)
	if !ok {
		return errorJSON(c, fiber.StatusUnauthorized, "Authentication required")
	}
	claims, ok := token.Claims.(jwtv4.MapClaims)
	if !ok {
		return errorJSON(c, fiber.StatusUnauthorized, "Authentication required")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return errorJSON(c, fiber.StatusUnauthorized, "Authentication required")
	}
	c.Locals(localsUserID, sub)
	return c.Next()
}

func (s *Server) supabaseAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return errorJSON(c, fiber.StatusUnauthorized, "No token provided")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == header || token == "" {
		return errorJSON(c, fiber.StatusUnauthorized, "Authentication required")
	}

	userID, err := s.identity.ResolveUserID(token)
	if err != nil {
		slog.Debug("Supabase rejected access token", "path", c.Path(), "error", err)
		return errorJSON(c, fiber.StatusUnauthorized, "Authentication required")
	}
	c.Locals(localsUserID, userID)
	return c.Next()
}

func currentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localsUserID).(string)
	return id
}

// handleDevToken signs a short-lived HS256 token for local development.
func (s *Server) handleDevToken(c *fiber.Ctx) error {
	var req models.DevTokenRequest
	if err := s.bindJSON(c, &req); err != nil {
		return err
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.UserID,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.JWT.Expiration).Unix(),
	})

	tokenString, err := token.SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		slog.Error("Failed to sign dev token", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to generate token")
	}

	slog.Info("Issued development token", "user_id", req.UserID)
	return c.JSON(models.DevTokenResponse{
		Token:     tokenString,
		TokenType: "Bearer",
	})
}
