package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/emoji-maker/internal/lock"
	"github.com/illegalcall/emoji-maker/internal/models"
	"github.com/illegalcall/emoji-maker/internal/storage"
	"github.com/illegalcall/emoji-maker/internal/store"
)

// Generation pipeline stages, used as metric labels.
const (
	stageModel    = "model"
	stageFetch    = "fetch"
	stageUpload   = "upload"
	stageDatabase = "database"
)

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func (s *Server) handleGenerateEmoji(c *fiber.Ctx) error {
	var req models.GenerateEmojiRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.Input.Prompt = strings.TrimSpace(req.Input.Prompt)
	if err := s.validate.Struct(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, validationMessage(err))
	}

	ctx := c.UserContext()
	profile := currentProfile(c)
	if profile.Credits <= 0 {
		s.metrics.generations.WithLabelValues(outcomeNoCredits).Inc()
		return errorJSON(c, fiber.StatusForbidden, "Not enough credits")
	}

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, profile.UserID)
		switch {
		case errors.Is(err, lock.ErrLocked):
			s.metrics.generations.WithLabelValues(outcomeBusy).Inc()
			return errorJSON(c, fiber.StatusTooManyRequests, "A generation is already in progress")
		case err != nil:
			// Redis being down must not block generation
			slog.Warn("Generation lock unavailable", "user_id", profile.UserID, "error", err)
		default:
			defer func() {
				if err := lease.Release(context.Background()); err != nil {
					slog.Warn("Failed to release generation lock", "user_id", profile.UserID, "error", err)
				}
			}()
		}
	}

	slog.Info("Generating emoji", "user_id", profile.UserID, "prompt", req.Input.Prompt)
	emoji, err := s.generate(ctx, profile.UserID, req.Input.Prompt)
	if errors.Is(err, store.ErrInsufficientCredits) {
		s.metrics.generations.WithLabelValues(outcomeNoCredits).Inc()
		return errorJSON(c, fiber.StatusForbidden, "Not enough credits")
	}
	if err != nil {
		s.metrics.generations.WithLabelValues(outcomeFailed).Inc()
		var se *stageError
		if errors.As(err, &se) {
			s.metrics.stageFailures.WithLabelValues(se.stage).Inc()
		}
		slog.Error("Emoji generation failed", "user_id", profile.UserID, "error", err)
		if se != nil && se.stage == stageModel {
			return errorJSON(c, fiber.StatusInternalServerError, "An error occurred while generating the emoji")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "An error occurred while processing the emoji")
	}

	s.metrics.generations.WithLabelValues(outcomeSuccess).Inc()
	s.publish(ctx, models.Event{Type: models.EventEmojiCreated, EmojiID: emoji.ID, UserID: profile.UserID})

	return c.JSON(models.GenerateEmojiResponse{
		Output:    emoji.ImageURL,
		EmojiData: emoji,
	})
}

// generate runs the model, re-hosts the image and records the emoji while
// charging one credit. The stored object is removed again if the emoji row
// cannot be written.
func (s *Server) generate(ctx context.Context, userID, prompt string) (models.Emoji, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.Replicate.Timeout)
	start := time.Now()
	modelURL, err := s.generator.Generate(genCtx, prompt)
	s.metrics.generationSeconds.Observe(time.Since(start).Seconds())
	cancel()
	if err != nil {
		return models.Emoji{}, &stageError{stage: stageModel, err: err}
	}

	publicURL, objectName, err := s.rehost(ctx, modelURL)
	if err != nil {
		return models.Emoji{}, err
	}

	emoji, remaining, err := s.store.CreateGeneratedEmoji(ctx, userID, prompt, publicURL)
	if err != nil {
		s.discardObject(ctx, objectName, 0)
		if errors.Is(err, store.ErrInsufficientCredits) {
			return models.Emoji{}, err
		}
		return models.Emoji{}, &stageError{stage: stageDatabase, err: err}
	}

	slog.Info("Emoji generated", "emojiID", emoji.ID, "user_id", userID, "creditsLeft", remaining)
	return emoji, nil
}

// rehost copies the image at sourceURL into object storage and returns its
// public URL and object name.
func (s *Server) rehost(ctx context.Context, sourceURL string) (string, string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Storage.FetchTimeout)
	defer cancel()

	data, contentType, err := s.fetcher.Fetch(fetchCtx, sourceURL)
	if err != nil {
		return "", "", &stageError{stage: stageFetch, err: err}
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/png"
	}

	name := storage.NewObjectName(time.Now())
	publicURL, err := s.objects.Upload(ctx, name, data, contentType)
	if err != nil {
		return "", "", &stageError{stage: stageUpload, err: err}
	}
	return publicURL, name, nil
}

// discardObject removes a stored image. Failures are logged and handed to the
// worker through an object.orphaned event.
func (s *Server) discardObject(ctx context.Context, name string, emojiID int64) {
	err := s.objects.Remove(ctx, name)
	if err == nil {
		return
	}
	s.metrics.cleanupFailures.Inc()
	slog.Error("Failed to remove stored image", "object", name, "emojiID", emojiID, "error", err)
	s.publish(ctx, models.Event{Type: models.EventObjectOrphaned, EmojiID: emojiID, ObjectName: name})
}

func (s *Server) handleUploadEmoji(c *fiber.Ctx) error {
	var req models.UploadEmojiRequest
	if err := s.bindJSON(c, &req); err != nil {
		return err
	}
	ctx := c.UserContext()
	userID := currentUserID(c)

	publicURL, objectName, err := s.rehost(ctx, req.ImageURL)
	if err != nil {
		slog.Error("Failed to re-host uploaded emoji", "user_id", userID, "url", req.ImageURL, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "An error occurred while uploading the emoji")
	}

	emoji, err := s.store.InsertEmoji(ctx, userID, models.UploadedPrompt, publicURL)
	if err != nil {
		slog.Error("Failed to record uploaded emoji", "user_id", userID, "error", err)
		s.discardObject(ctx, objectName, 0)
		return errorJSON(c, fiber.StatusInternalServerError, "An error occurred while uploading the emoji")
	}

	s.publish(ctx, models.Event{Type: models.EventEmojiCreated, EmojiID: emoji.ID, UserID: userID})
	return c.JSON(models.UploadEmojiResponse{
		Message:   "Emoji uploaded successfully",
		EmojiData: emoji,
	})
}

func (s *Server) handleListEmojis(c *fiber.Ctx) error {
	emojis, err := s.store.ListEmojis(c.UserContext(), currentUserID(c))
	if err != nil {
		slog.Error("Error fetching emojis", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "An error occurred while fetching emojis")
	}
	return c.JSON(emojis)
}

func (s *Server) handleDeleteEmoji(c *fiber.Ctx) error {
	emojiID, err := c.ParamsInt("id")
	if err != nil || emojiID <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid emoji ID")
	}
	ctx := c.UserContext()
	userID := currentUserID(c)

	imageURL, err := s.store.DeleteEmoji(ctx, int64(emojiID), userID)
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Emoji not found or you don't have permission to delete it")
	}
	if err != nil {
		slog.Error("Failed to delete emoji", "emojiID", emojiID, "user_id", userID, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "An error occurred while deleting the emoji")
	}

	// The row is gone; storage cleanup is best-effort from here on
	if name, err := storage.ObjectNameFromURL(imageURL); err != nil {
		slog.Error("Cannot derive object name from image URL", "emojiID", emojiID, "url", imageURL, "error", err)
	} else {
		s.discardObject(ctx, name, int64(emojiID))
	}

	s.metrics.deletions.Inc()
	s.publish(ctx, models.Event{Type: models.EventEmojiDeleted, EmojiID: int64(emojiID), UserID: userID})
	return c.JSON(models.MessageResponse{Message: "Emoji deleted successfully"})
}
