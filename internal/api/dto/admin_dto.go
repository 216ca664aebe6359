package dto

import "time"

// AdminLoginRequest carries the console credentials.
type AdminLoginRequest struct {
	AdminID  int64  `json:"admin_id"`
	Password string `json:"password"`
}

// AuthResponse wraps an issued token.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaderboardEntryResponse is one row of the ranking.
type LeaderboardEntryResponse struct {
	Rank       int    `json:"rank"`
	TelegramID int64  `json:"telegram_id"`
	FirstName  string `json:"first_name"`
	XP         int64  `json:"xp"`
	Coins      int64  `json:"coins"`
	Level      int    `json:"level"`
}
