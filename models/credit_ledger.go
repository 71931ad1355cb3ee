package models

import "time"

// LedgerType tags the business reason of a credit change.
type LedgerType string

const (
	LedgerTypeAutomation  LedgerType = "AUTOMATION"
	LedgerTypeCheckin     LedgerType = "CHECKIN"
	LedgerTypeBounty      LedgerType = "BOUNTY"
	LedgerTypeDonation    LedgerType = "DONATION"
	LedgerTypeAdminAdjust LedgerType = "ADMIN_ADJUST"
	LedgerTypeOther       LedgerType = "OTHER"
)

// CreditLedgerEntry is one immutable balance mutation. The auto-increment id gives a total order.
type CreditLedgerEntry struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string     `gorm:"type:uuid;not null;index:idx_ledger_user_created,priority:1" json:"user_id"`
	Amount      int64      `gorm:"not null" json:"amount"`
	Balance     int64      `gorm:"not null" json:"balance"` // balance after this entry
	Type        LedgerType `gorm:"type:varchar(32);not null;index" json:"type"`
	Description string     `gorm:"type:text" json:"description"`
	Reference   string     `gorm:"type:varchar(128);index" json:"reference,omitempty"` // e.g. "rule:<id>"
	CreatedAt   time.Time  `gorm:"not null;index:idx_ledger_user_created,priority:2" json:"created_at"`
}
