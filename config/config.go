package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is read from the environment (and an optional .env file).
type Config struct {
	DatabaseURL    string   `env:"DATABASE_URL,required,notEmpty"`
	ServiceToken   string   `env:"AUTOMATION_SERVICE_TOKEN,required,notEmpty"`
	Port           int      `env:"PORT" envDefault:"5300"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	FiringTimeout   time.Duration `env:"AUTOMATION_FIRING_TIMEOUT" envDefault:"10s"`
	DispatchWorkers int           `env:"AUTOMATION_DISPATCH_WORKERS" envDefault:"4"`
	DispatchQueue   int           `env:"AUTOMATION_DISPATCH_QUEUE" envDefault:"1024"`

	CronTimezone        string        `env:"AUTOMATION_CRON_TIMEZONE" envDefault:"UTC"`
	CronBatchSize       int           `env:"AUTOMATION_CRON_BATCH_SIZE" envDefault:"500"`
	CronDistributedLock bool          `env:"AUTOMATION_CRON_DISTRIBUTED_LOCK" envDefault:"false"`
	CronLeaseTTL        time.Duration `env:"AUTOMATION_CRON_LEASE_TTL" envDefault:"50s"`
	InstanceID          string        `env:"INSTANCE_ID"`

	Archive ArchiveConfig
}

// ArchiveConfig controls the daily ledger export to R2.
type ArchiveConfig struct {
	Enabled         bool          `env:"LEDGER_ARCHIVE_ENABLED" envDefault:"false"`
	Interval        time.Duration `env:"LEDGER_ARCHIVE_INTERVAL" envDefault:"24h"`
	Prefix          string        `env:"LEDGER_ARCHIVE_PREFIX" envDefault:"credit-ledger"`
	AccountID       string        `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string        `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string        `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string        `env:"R2_BUCKET_NAME"`
}

// Load reads .env when present, then parses and checks the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for i, origin := range c.AllowedOrigins {
		c.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if c.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "automation"
		}
		c.InstanceID = host
	}
	if _, err := time.LoadLocation(c.CronTimezone); err != nil {
		return fmt.Errorf("AUTOMATION_CRON_TIMEZONE: %w", err)
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("AUTOMATION_DISPATCH_WORKERS must be at least 1")
	}
	if c.DispatchQueue < 0 {
		return fmt.Errorf("AUTOMATION_DISPATCH_QUEUE must not be negative")
	}
	if c.CronLeaseTTL <= 0 || c.CronLeaseTTL >= time.Minute {
		return fmt.Errorf("AUTOMATION_CRON_LEASE_TTL must be between 0 and 1m")
	}
	if c.Archive.Enabled {
		if c.Archive.AccountID == "" || c.Archive.Bucket == "" {
			return fmt.Errorf("ledger archive needs CLOUDFLARE_ACCOUNT_ID and R2_BUCKET_NAME")
		}
		if c.Archive.Interval <= 0 {
			return fmt.Errorf("LEDGER_ARCHIVE_INTERVAL must be positive")
		}
	}
	return nil
}

// Location returns the cron time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.CronTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ListenAddr is the fiber listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
