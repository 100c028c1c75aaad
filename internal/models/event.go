package models

import "time"

const (
	EventEmojiCreated   = "emoji.created"
	EventEmojiDeleted   = "emoji.deleted"
	EventEmojiLiked     = "emoji.liked"
	EventEmojiUnliked   = "emoji.unliked"
	EventObjectOrphaned = "object.orphaned"
)

// Event is published to Kafka after a state change. ObjectName is only set
// for events that concern a stored image.
type Event struct {
	Type       string    `json:"type"`
	EmojiID    int64     `json:"emoji_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	ObjectName string    `json:"object_name,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
