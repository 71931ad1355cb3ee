package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nextbb-automation/models"
)

var errLeaseHeld = errors.New("scheduler lease held by another instance")

// LeaseLocker is a gocron.Locker backed by scheduler_leases rows, so that only one
// instance runs a given cron job per tick. TTL must be shorter than the smallest
// schedule interval (one minute).
type LeaseLocker struct {
	DB    *gorm.DB
	Owner string
	TTL   time.Duration
	Clock clockwork.Clock
}

func NewLeaseLocker(db *gorm.DB, owner string, ttl time.Duration, clock clockwork.Clock) *LeaseLocker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = 50 * time.Second
	}
	return &LeaseLocker{DB: db, Owner: owner, TTL: ttl, Clock: clock}
}

// Lock takes the lease for key when it is free, expired, or already ours.
func (l *LeaseLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	now := l.Clock.Now().UTC()
	lease := models.SchedulerLease{
		Name:      key,
		Owner:     l.Owner,
		ExpiresAt: now.Add(l.TTL),
		UpdatedAt: now,
	}

	res := l.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&lease)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return &leaseLock{}, nil
	}

	res = l.DB.WithContext(ctx).Model(&models.SchedulerLease{}).
		Where("name = ? AND (expires_at < ? OR owner = ?)", key, now, l.Owner).
		Updates(map[string]any{
			"owner":      l.Owner,
			"expires_at": lease.ExpiresAt,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errLeaseHeld
	}
	return &leaseLock{}, nil
}

// leaseLock keeps the row until it expires, which stops a slower instance from
// running the same tick after this one finished.
type leaseLock struct{}

func (leaseLock) Unlock(context.Context) error { return nil }
