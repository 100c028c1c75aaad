package models

import (
	"time"
)

// Profile tracks generation credits for one external identity.
type Profile struct {
	UserID    string    `json:"user_id" db:"user_id"` // Subject issued by the identity provider
	Credits   int       `json:"credits" db:"credits"`
	Tier      string    `json:"tier" db:"tier"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ProfileSummary is the subset of a profile returned to clients.
type ProfileSummary struct {
	UserID  string `json:"user_id"`
	Credits int    `json:"credits"`
	Tier    string `json:"tier"`
}

func (p Profile) Summary() ProfileSummary {
	return ProfileSummary{
		UserID:  p.UserID,
		Credits: p.Credits,
		Tier:    p.Tier,
	}
}

// InitializeUserResponse is returned by POST /api/initialize-user
type InitializeUserResponse struct {
	Message string         `json:"message"`
	Profile ProfileSummary `json:"profile"`
}
