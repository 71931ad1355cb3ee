// Package testutil provides a throwaway SQLite-backed gorm database and seed helpers.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nextbb-automation/models"
)

// Epoch is the default fake-clock start used across tests.
var Epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// NewDB opens a migrated database file in t.TempDir(). A single connection is used,
// so every query issued inside a transaction must go through that transaction.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "automation.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewClock returns a fake clock set to Epoch.
func NewClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(Epoch)
}

// SeedUser creates a user with the given balance. A non-zero balance is backed by one
// ledger entry so that balance == sum(entries) holds from the start.
func SeedUser(t *testing.T, db *gorm.DB, username string, credits int64) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: username + "@example.test", Credits: credits}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	if credits != 0 {
		entry := models.CreditLedgerEntry{
			UserID:      user.ID,
			Amount:      credits,
			Balance:     credits,
			Type:        models.LedgerTypeAdminAdjust,
			Description: "opening balance",
			CreatedAt:   Epoch.Add(-time.Hour),
		}
		if err := db.Create(&entry).Error; err != nil {
			t.Fatalf("seed opening entry: %v", err)
		}
	}
	return user
}

func SeedBadge(t *testing.T, db *gorm.DB, code string) *models.Badge {
	t.Helper()
	badge := &models.Badge{Code: code, Name: code}
	if err := db.Create(badge).Error; err != nil {
		t.Fatalf("seed badge %s: %v", code, err)
	}
	return badge
}

func SeedGroup(t *testing.T, db *gorm.DB, name string) *models.UserGroup {
	t.Helper()
	group := &models.UserGroup{Name: name}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("seed group %s: %v", name, err)
	}
	return group
}

// Rule builds an enabled rule (not persisted) with the given trigger and actions.
func Rule(name string, trigger models.TriggerType, actions ...models.ActionSpec) *models.AutomationRule {
	return &models.AutomationRule{
		Name:              name,
		TriggerType:       trigger,
		TriggerConditions: datatypes.NewJSONType(models.TriggerConditions{}),
		Actions:           datatypes.NewJSONSlice(actions),
		IsEnabled:         true,
	}
}

// SaveRule persists rule directly, bypassing validation and scheduling.
func SaveRule(t *testing.T, db *gorm.DB, rule *models.AutomationRule) *models.AutomationRule {
	t.Helper()
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("seed rule %s: %v", rule.Name, err)
	}
	return rule
}

// Credit is a fixed-amount CREDIT_CHANGE action.
func Credit(amount int64) models.ActionSpec {
	return Action(models.ActionCreditChange, map[string]any{"amount": amount})
}

// Action marshals params into a spec.
func Action(typ models.ActionType, params map[string]any) models.ActionSpec {
	return models.ActionSpec{Type: typ, Params: mustJSON(params)}
}

// LedgerSum returns the sum of a user's ledger amounts.
func LedgerSum(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var sum int64
	if err := db.Model(&models.CreditLedgerEntry{}).Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error; err != nil {
		t.Fatalf("ledger sum: %v", err)
	}
	return sum
}

// Credits returns the stored balance of a user.
func Credits(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var user models.User
	if err := db.Where("id = ?", userID).First(&user).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	return user.Credits
}
