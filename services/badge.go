package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nextbb-automation/models"
)

type BadgeService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewBadgeService(db *gorm.DB, clock clockwork.Clock) *BadgeService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BadgeService{DB: db, Clock: clock}
}

// AwardedBadge is a badge as held by one user.
type AwardedBadge struct {
	models.Badge
	AwardedAt time.Time `json:"awarded_at"`
	Source    string    `json:"source,omitempty"`
}

// resolve finds a badge by id, or by code when ref is not a uuid.
func (s *BadgeService) resolve(tx *gorm.DB, ref string) (*models.Badge, error) {
	var badge models.Badge
	q := tx.Model(&models.Badge{})
	if _, err := uuid.Parse(ref); err == nil {
		q = q.Where("id = ?", ref)
	} else {
		q = q.Where("code = ?", ref)
	}
	if err := q.First(&badge).Error; err != nil {
		return nil, notFound(err, "badge", ref)
	}
	return &badge, nil
}

// Grant awards the badge inside tx. Granting a badge the user already holds is a no-op;
// the bool reports whether a new award was written.
func (s *BadgeService) Grant(tx *gorm.DB, userID, badgeRef, source string) (bool, error) {
	badge, err := s.resolve(tx, badgeRef)
	if err != nil {
		return false, err
	}
	if err := requireUser(tx, userID); err != nil {
		return false, err
	}

	award := models.UserBadge{
		UserID:    userID,
		BadgeID:   badge.ID,
		Source:    source,
		AwardedAt: s.Clock.Now().UTC(),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge_id"}},
		DoNothing: true,
	}).Create(&award)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Revoke removes the badge inside tx. Revoking a badge the user does not hold is a no-op.
func (s *BadgeService) Revoke(tx *gorm.DB, userID, badgeRef string) (bool, error) {
	badge, err := s.resolve(tx, badgeRef)
	if err != nil {
		return false, err
	}
	res := tx.Where("user_id = ? AND badge_id = ?", userID, badge.ID).Delete(&models.UserBadge{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListForUser returns the user's badges, most recent first.
func (s *BadgeService) ListForUser(ctx context.Context, userID string) ([]AwardedBadge, error) {
	var out []AwardedBadge
	err := s.DB.WithContext(ctx).
		Table("badges").
		Select("badges.*, user_badges.awarded_at, user_badges.source").
		Joins("JOIN user_badges ON user_badges.badge_id = badges.id").
		Where("user_badges.user_id = ?", userID).
		Order("user_badges.awarded_at DESC").
		Scan(&out).Error
	return out, err
}

// Create adds a badge to the catalog.
func (s *BadgeService) Create(ctx context.Context, badge *models.Badge) error {
	badge.Code = strings.ToUpper(strings.TrimSpace(badge.Code))
	if badge.Code == "" || strings.TrimSpace(badge.Name) == "" {
		return &ValidationError{Problems: []string{"code and name are required"}}
	}
	return s.DB.WithContext(ctx).Create(badge).Error
}

// EnsureDefaults seeds the default catalog, leaving existing codes untouched.
func (s *BadgeService) EnsureDefaults(ctx context.Context) error {
	for _, def := range models.DefaultBadges {
		badge := def
		if err := s.DB.WithContext(ctx).Where(models.Badge{Code: def.Code}).FirstOrCreate(&badge).Error; err != nil {
			return fmt.Errorf("seed badge %s: %w", def.Code, err)
		}
	}
	return nil
}

func requireUser(tx *gorm.DB, userID string) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return &NotFoundError{Kind: "user", ID: userID}
	}
	return nil
}
