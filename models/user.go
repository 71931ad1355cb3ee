package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the automation subject: a forum account that owns a credit balance,
// badge associations and a group designation.
// Credits is mutated only through the credit ledger.
type User struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	Username    string     `gorm:"uniqueIndex;not null" json:"username"`
	Email       string     `json:"email,omitempty"`
	Credits     int64      `gorm:"not null;check:chk_users_credits,credits >= 0" json:"credits"`
	GroupID     *string    `gorm:"type:uuid;index" json:"group_id,omitempty"`
	LoginCount  int64      `gorm:"not null" json:"login_count"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	IsBanned    bool       `json:"is_banned"`

	Timestamps
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// UserGroup is a named role/group a user can be moved into.
type UserGroup struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (g *UserGroup) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
