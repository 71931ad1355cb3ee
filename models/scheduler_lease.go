package models

import "time"

// SchedulerLease is a short-lived ownership row used to keep cron firings to a single instance.
type SchedulerLease struct {
	Name      string    `gorm:"primaryKey;type:varchar(191)" json:"name"`
	Owner     string    `gorm:"type:varchar(191);not null" json:"owner"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllModels lists every table owned by the service, in migration order.
func AllModels() []any {
	return []any{
		&UserGroup{},
		&User{},
		&Badge{},
		&UserBadge{},
		&AutomationRule{},
		&RuleExecutionRecord{},
		&RuleExecutionLog{},
		&CreditLedgerEntry{},
		&SchedulerLease{},
	}
}
