package models

// GenerateEmojiRequest is the body of POST /api/generate-emoji
type GenerateEmojiRequest struct {
	Input struct {
		Prompt string `json:"prompt" validate:"required,max=500"`
	} `json:"input"`
}

type GenerateEmojiResponse struct {
	Output    string `json:"output"`
	EmojiData Emoji  `json:"emojiData"`
}

// UploadEmojiRequest is the body of POST /api/upload-emoji
type UploadEmojiRequest struct {
	ImageURL string `json:"imageUrl" validate:"required,url"`
}

type UploadEmojiResponse struct {
	Message   string `json:"message"`
	EmojiData Emoji  `json:"emojiData"`
}

// LikeRequest is shared by the like and unlike endpoints.
type LikeRequest struct {
	EmojiID int64 `json:"emojiId" validate:"required,gt=0"`
}

type LikeResponse struct {
	Likes int `json:"likes"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// DevTokenRequest asks for a locally signed token outside production.
type DevTokenRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

type DevTokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"type"`
}
