package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Badge: static catalog entry
type Badge struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	Code        string    `gorm:"uniqueIndex;not null" json:"code"` // e.g., "WELCOME", "FIRST_POST"
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description,omitempty"`
	IconURL     string    `gorm:"type:text" json:"icon_url,omitempty"`
	Rarity      string    `gorm:"type:varchar(16)" json:"rarity"` // common, rare, epic, legendary
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (b *Badge) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Rarity == "" {
		b.Rarity = "common"
	}
	return nil
}

// UserBadge: awarded instance (many-to-many)
type UserBadge struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_user_badge,priority:1" json:"user_id"`
	BadgeID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_user_badge,priority:2;index" json:"badge_id"`
	Source    string    `gorm:"type:varchar(64)" json:"source,omitempty"` // "rule:<id>", "admin"
	AwardedAt time.Time `gorm:"not null" json:"awarded_at"`
}

func (ub *UserBadge) BeforeCreate(tx *gorm.DB) error {
	if ub.ID == "" {
		ub.ID = uuid.NewString()
	}
	return nil
}

// DefaultBadges is seeded on startup when missing (matched by code).
var DefaultBadges = []Badge{
	{
		Code:        "WELCOME",
		Name:        "Welcome Aboard!",
		Description: "Joined the forum",
		Rarity:      "common",
	},
	{
		Code:        "FIRST_POST",
		Name:        "First Words",
		Description: "Created your first topic",
		Rarity:      "common",
	},
	{
		Code:        "CHECKIN_STREAK",
		Name:        "Regular",
		Description: "Checked in day after day",
		Rarity:      "rare",
	},
	{
		Code:        "DONOR",
		Name:        "Patron",
		Description: "Supported the forum with a donation",
		Rarity:      "epic",
	},
	{
		Code:        "POPULAR",
		Name:        "Crowd Favourite",
		Description: "Received a pile of likes",
		Rarity:      "rare",
	},
}
