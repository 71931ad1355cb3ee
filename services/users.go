package services

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"nextbb-automation/models"
)

// SubjectService reads users for the engine and owns group reassignment.
type SubjectService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewSubjectService(db *gorm.DB, clock clockwork.Clock) *SubjectService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SubjectService{DB: db, Clock: clock}
}

// UserSummary is the public projection returned by search.
type UserSummary struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Credits  int64   `json:"credits"`
	GroupID  *string `json:"group_id,omitempty"`
}

// Target is a subject selected for a scheduled firing, with the context captured at selection time.
type Target struct {
	UserID  string
	Context map[string]any
}

func (s *SubjectService) Get(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, notFound(err, "user", userID)
	}
	return &user, nil
}

// Search matches username or email, case-insensitively.
func (s *SubjectService) Search(ctx context.Context, query string, limit int) ([]UserSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var users []models.User
	db := s.DB.WithContext(ctx).Model(&models.User{}).Order("username ASC").Limit(limit)
	if query != "" {
		searchTerm := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
		db = db.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", searchTerm, searchTerm)
	}
	if err := db.Find(&users).Error; err != nil {
		return nil, err
	}

	res := make([]UserSummary, len(users))
	for i, u := range users {
		res[i] = UserSummary{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
			Credits:  u.Credits,
			GroupID:  u.GroupID,
		}
	}
	return res, nil
}

// AssignGroup moves the user into groupID inside tx.
func (s *SubjectService) AssignGroup(tx *gorm.DB, userID, groupID string) error {
	var group models.UserGroup
	if err := tx.Where("id = ?", groupID).First(&group).Error; err != nil {
		return notFound(err, "group", groupID)
	}
	res := tx.Model(&models.User{}).Where("id = ?", userID).Update("group_id", group.ID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Kind: "user", ID: userID}
	}
	return nil
}

// Snapshot is the condition context of a user at now.
func (s *SubjectService) Snapshot(u *models.User, now time.Time) map[string]any {
	lastLogin := u.CreatedAt
	if u.LastLoginAt != nil {
		lastLogin = *u.LastLoginAt
	}
	snap := map[string]any{
		"user_id":                 u.ID,
		"username":                u.Username,
		"credits":                 u.Credits,
		"login_count":             u.LoginCount,
		"is_banned":               u.IsBanned,
		"days_since_last_login":   wholeDays(now.Sub(lastLogin)),
		"days_since_registration": wholeDays(now.Sub(u.CreatedAt)),
	}
	if u.GroupID != nil {
		snap["group_id"] = *u.GroupID
	}
	return snap
}

// ResolveTargets selects every user whose snapshot satisfies conds. The whole set is captured
// before the caller runs any action, so changes made during the run do not affect selection.
func (s *SubjectService) ResolveTargets(ctx context.Context, conds []models.Condition, batchSize int) ([]Target, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	now := s.Clock.Now().UTC()

	var targets []Target
	var batch []models.User
	err := s.DB.WithContext(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			snap := s.Snapshot(&batch[i], now)
			if EvaluateConditions(conds, snap) {
				targets = append(targets, Target{UserID: batch[i].ID, Context: snap})
			}
		}
		return ctx.Err()
	}).Error
	if err != nil {
		return nil, err
	}
	return targets, nil
}

func wholeDays(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / (24 * time.Hour))
}
