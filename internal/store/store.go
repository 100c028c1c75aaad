package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/illegalcall/emoji-maker/internal/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyLiked        = errors.New("emoji already liked")
	ErrNotLiked            = errors.New("emoji not liked")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

const (
	insertProfileQuery = `INSERT INTO profiles (user_id, credits, tier) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO NOTHING`
	selectProfileQuery = `SELECT user_id, credits, tier, created_at FROM profiles WHERE user_id = $1`

	decrementCreditsQuery = `UPDATE profiles SET credits = credits - 1 WHERE user_id = $1 AND credits > 0 RETURNING credits`

	insertEmojiQuery = `INSERT INTO emojis (image_url, prompt, creator_user_id) VALUES ($1, $2, $3)
		RETURNING id, image_url, prompt, creator_user_id, likes_count, created_at`

	listEmojisQuery = `SELECT e.id, e.image_url, e.prompt, e.creator_user_id, e.likes_count, e.created_at,
		EXISTS (SELECT 1 FROM emoji_likes l WHERE l.emoji_id = e.id AND l.user_id = $1) AS liked
		FROM emojis e ORDER BY e.created_at DESC, e.id DESC`

	lockEmojiQuery   = `SELECT id FROM emojis WHERE id = $1 FOR UPDATE`
	insertLikeQuery  = `INSERT INTO emoji_likes (emoji_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	deleteLikeQuery  = `DELETE FROM emoji_likes WHERE emoji_id = $1 AND user_id = $2`
	incrementQuery   = `UPDATE emojis SET likes_count = likes_count + 1 WHERE id = $1 RETURNING likes_count`
	decrementQuery   = `UPDATE emojis SET likes_count = GREATEST(likes_count - 1, 0) WHERE id = $1 RETURNING likes_count`
	reconcileQuery   = `UPDATE emojis SET likes_count = (SELECT COUNT(*) FROM emoji_likes WHERE emoji_id = $1) WHERE id = $1 RETURNING likes_count`
	deleteEmojiQuery = `DELETE FROM emojis WHERE id = $1 AND creator_user_id = $2 RETURNING image_url`
)

// Store runs every profile, emoji and like query against Postgres.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// EnsureProfile provisions the profile on first use and returns it. The
// insert is a no-op when the row already exists, so concurrent first
// requests from one user cannot create duplicates.
func (s *Store) EnsureProfile(ctx context.Context, userID string, credits int, tier string) (models.Profile, error) {
	var profile models.Profile
	if _, err := s.db.ExecContext(ctx, insertProfileQuery, userID, credits, tier); err != nil {
		return profile, fmt.Errorf("failed to provision profile: %w", err)
	}
	if err := s.db.GetContext(ctx, &profile, selectProfileQuery, userID); err != nil {
		return profile, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return profile, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var profile models.Profile
	err := s.db.GetContext(ctx, &profile, selectProfileQuery, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return profile, ErrNotFound
	}
	if err != nil {
		return profile, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return profile, nil
}

// CreateGeneratedEmoji charges one credit and records the emoji in a single
// transaction. It returns ErrInsufficientCredits when the balance is already
// zero, in which case nothing is written.
func (s *Store) CreateGeneratedEmoji(ctx context.Context, userID, prompt, imageURL string) (models.Emoji, int, error) {
	var emoji models.Emoji
	var remaining int

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, decrementCreditsQuery, userID).Scan(&remaining)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInsufficientCredits
		}
		if err != nil {
			return fmt.Errorf("failed to deduct credit: %w", err)
		}
		if err := tx.GetContext(ctx, &emoji, insertEmojiQuery, imageURL, prompt, userID); err != nil {
			return fmt.Errorf("failed to insert emoji: %w", err)
		}
		return nil
	})
	return emoji, remaining, err
}

// InsertEmoji records an emoji without touching credits.
func (s *Store) InsertEmoji(ctx context.Context, userID, prompt, imageURL string) (models.Emoji, error) {
	var emoji models.Emoji
	if err := s.db.GetContext(ctx, &emoji, insertEmojiQuery, imageURL, prompt, userID); err != nil {
		return emoji, fmt.Errorf("failed to insert emoji: %w", err)
	}
	return emoji, nil
}

// ListEmojis returns the whole gallery newest first, flagging the emojis
// viewerID has liked.
func (s *Store) ListEmojis(ctx context.Context, viewerID string) ([]models.GalleryEmoji, error) {
	emojis := []models.GalleryEmoji{}
	if err := s.db.SelectContext(ctx, &emojis, listEmojisQuery, viewerID); err != nil {
		return nil, fmt.Errorf("failed to list emojis: %w", err)
	}
	return emojis, nil
}

// LikeEmoji adds the caller's like and bumps the counter atomically,
// returning the new count.
func (s *Store) LikeEmoji(ctx context.Context, emojiID int64, userID string) (int, error) {
	var likes int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockEmoji(ctx, tx, emojiID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, insertLikeQuery, emojiID, userID)
		if err != nil {
			return fmt.Errorf("failed to insert like: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to insert like: %w", err)
		} else if n == 0 {
			return ErrAlreadyLiked
		}
		if err := tx.QueryRowxContext(ctx, incrementQuery, emojiID).Scan(&likes); err != nil {
			return fmt.Errorf("failed to increment likes count: %w", err)
		}
		return nil
	})
	return likes, err
}

// UnlikeEmoji is the inverse of LikeEmoji.
func (s *Store) UnlikeEmoji(ctx context.Context, emojiID int64, userID string) (int, error) {
	var likes int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockEmoji(ctx, tx, emojiID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, deleteLikeQuery, emojiID, userID)
		if err != nil {
			return fmt.Errorf("failed to delete like: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to delete like: %w", err)
		} else if n == 0 {
			return ErrNotLiked
		}
		if err := tx.QueryRowxContext(ctx, decrementQuery, emojiID).Scan(&likes); err != nil {
			return fmt.Errorf("failed to decrement likes count: %w", err)
		}
		return nil
	})
	return likes, err
}

// ReconcileLikes resets likes_count to the number of like rows.
func (s *Store) ReconcileLikes(ctx context.Context, emojiID int64) (int, error) {
	var likes int
	err := s.db.QueryRowxContext(ctx, reconcileQuery, emojiID).Scan(&likes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile likes count: %w", err)
	}
	return likes, nil
}

// DeleteEmoji removes an emoji owned by userID and returns its image URL.
// Emojis that are missing or owned by someone else both yield ErrNotFound.
func (s *Store) DeleteEmoji(ctx context.Context, emojiID int64, userID string) (string, error) {
	var imageURL string
	err := s.db.QueryRowxContext(ctx, deleteEmojiQuery, emojiID, userID).Scan(&imageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to delete emoji: %w", err)
	}
	return imageURL, nil
}

func lockEmoji(ctx context.Context, tx *sqlx.Tx, emojiID int64) error {
	var id int64
	err := tx.QueryRowxContext(ctx, lockEmojiQuery, emojiID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock emoji: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
