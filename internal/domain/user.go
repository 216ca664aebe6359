package domain

import "time"

// UserStatus represents lifecycle states for a registered user.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
)

// User is the domain model for a registered participant. The primary key is
// the stable numeric identifier assigned by the messaging platform.
type User struct {
	TelegramID      int64
	FirstName       string
	LastName        string
	Phone           string
	Campus          string
	Language        string
	XP              int64
	Coins           int64
	Level           int
	TotalDeliveries int
	Status          UserStatus
	CreatedAt       time.Time
	LastActiveAt    time.Time
}

// LevelForXP derives the level for an experience total. Levels start at 1 and
// advance every threshold points; the stored level column is always kept
// consistent with this formula inside the same update that mutates xp.
func LevelForXP(xp int64, threshold int64) int {
	if threshold <= 0 {
		threshold = 100
	}
	if xp < 0 {
		xp = 0
	}
	return int(xp/threshold) + 1
}
