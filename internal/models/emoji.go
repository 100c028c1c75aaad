package models

import "time"

type Emoji struct {
	ID            int64     `json:"id" db:"id"`
	ImageURL      string    `json:"image_url" db:"image_url"`
	Prompt        string    `json:"prompt" db:"prompt"`
	CreatorUserID string    `json:"creator_user_id" db:"creator_user_id"`
	LikesCount    int       `json:"likes_count" db:"likes_count"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// GalleryEmoji is an Emoji annotated with whether the viewer liked it.
type GalleryEmoji struct {
	Emoji
	Liked bool `json:"liked" db:"liked"`
}

// UploadedPrompt is recorded for emojis re-hosted through /api/upload-emoji.
const UploadedPrompt = "Uploaded for testing"
