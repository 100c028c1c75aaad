package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/emoji-maker/internal/models"
	"github.com/illegalcall/emoji-maker/internal/store"
)

func (s *Server) handleLikeEmoji(c *fiber.Ctx) error {
	var req models.LikeRequest
	if err := s.bindJSON(c, &req); err != nil {
		return err
	}
	userID := currentUserID(c)

	likes, err := s.store.LikeEmoji(c.UserContext(), req.EmojiID, userID)
	switch {
	case errors.Is(err, store.ErrAlreadyLiked):
		return errorJSON(c, fiber.StatusBadRequest, "You've already liked this emoji")
	case errors.Is(err, store.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Emoji not found")
	case err != nil:
		slog.Error("Failed to like emoji", "emojiID", req.EmojiID, "user_id", userID, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "An error occurred while liking the emoji")
	}

	s.metrics.likes.WithLabelValues("like").Inc()
	s.publish(c.UserContext(), models.Event{Type: models.EventEmojiLiked, EmojiID: req.EmojiID, UserID: userID})
	return c.JSON(models.LikeResponse{Likes: likes})
}

func (s *Server) handleUnlikeEmoji(c *fiber.Ctx) error {
	var req models.LikeRequest
	if err := s.bindJSON(c, &req); err != nil {
		return err
	}
	userID := currentUserID(c)

	likes, err := s.store.UnlikeEmoji(c.UserContext(), req.EmojiID, userID)
	switch {
	case errors.Is(err, store.ErrNotLiked):
		return errorJSON(c, fiber.StatusBadRequest, "You haven't liked this emoji")
	case errors.Is(err, store.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Emoji not found")
	case err != nil:
		slog.Error("Failed to unlike emoji", "emojiID", req.EmojiID, "user_id", userID, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "An error occurred while unliking the emoji")
	}

	s.metrics.likes.WithLabelValues("unlike").Inc()
	s.publish(c.UserContext(), models.Event{Type: models.EventEmojiUnliked, EmojiID: req.EmojiID, UserID: userID})
	return c.JSON(models.LikeResponse{Likes: likes})
}
