package testutil

import (
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nextbb-automation/models"
)

// NewPostgresDB opens a migrated database in a fresh schema on the server named by
// TEST_DATABASE_URL (URL form) and drops the schema on cleanup. Unlike NewDB it keeps a
// real connection pool, so row locks and unique-index races are actually contended.
// The test is skipped when the variable is unset.
func NewPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()

	base := os.Getenv("TEST_DATABASE_URL")
	if base == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	admin, err := gorm.Open(postgres.Open(base), cfg)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	schema := "automation_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if err := admin.Exec("CREATE SCHEMA " + schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}

	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("TEST_DATABASE_URL: %v", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	db, err := gorm.Open(postgres.Open(u.String()), cfg)
	if err != nil {
		t.Fatalf("open schema %s: %v", schema, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() {
		sqlDB.Close()
		admin.Exec("DROP SCHEMA " + schema + " CASCADE")
		if adminDB, err := admin.DB(); err == nil {
			adminDB.Close()
		}
	})

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
