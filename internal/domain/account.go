package domain

import "time"

// Account represents a campaign participant
type Account struct {
	ID           int64     `json:"id"`
	ChatID       string    `json:"chat_id"`
	DisplayName  string    `json:"display_name"`
	Pledge       int64     `json:"pledge"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExternalID   string    `json:"external_id,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

// Linked reports whether the account holds Concept2 credentials
func (a *Account) Linked() bool {
	return a != nil && a.AccessToken != ""
}

// TokenPair is an OAuth access/refresh token pair. Both halves are always
// written together.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
