package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nextbb-automation/metrics"
	"nextbb-automation/models"
)

// Ledger is the only writer of User.Credits. Every change locks the user row,
// checks the resulting balance and appends one CreditLedgerEntry in the same transaction.
type Ledger struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewLedger(db *gorm.DB, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{DB: db, Clock: clock}
}

// ChangeRequest is one entry of a batch change.
type ChangeRequest struct {
	UserID      string            `json:"user_id"`
	Amount      int64             `json:"amount"`
	Type        models.LedgerType `json:"type"`
	Description string            `json:"description"`
	Reference   string            `json:"reference,omitempty"`
}

// ChangeResult reports the outcome of one batch entry.
type ChangeResult struct {
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

// Apply runs the locked read-modify-write on the caller's transaction and returns the new balance.
// A result below zero fails with ErrInsufficientBalance and writes nothing.
func (l *Ledger) Apply(tx *gorm.DB, userID string, amount int64, typ models.LedgerType, description, reference string) (int64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	if typ == "" {
		typ = models.LedgerTypeOther
	}

	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "credits").
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return 0, notFound(err, "user", userID)
	}

	if amount > 0 && user.Credits > math.MaxInt64-amount {
		return user.Credits, fmt.Errorf("%w: balance %d cannot take %d more", ErrInvalidAmount, user.Credits, amount)
	}
	newBalance := user.Credits + amount
	if newBalance < 0 {
		return user.Credits, fmt.Errorf("%w: balance %d, change %d", ErrInsufficientBalance, user.Credits, amount)
	}

	if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("credits", newBalance).Error; err != nil {
		return 0, err
	}

	entry := models.CreditLedgerEntry{
		UserID:      userID,
		Amount:      amount,
		Balance:     newBalance,
		Type:        typ,
		Description: description,
		Reference:   reference,
		CreatedAt:   l.Clock.Now().UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Change applies one signed change in its own transaction.
func (l *Ledger) Change(ctx context.Context, userID string, amount int64, typ models.LedgerType, description, reference string) (int64, error) {
	var balance int64
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = l.Apply(tx, userID, amount, typ, description, reference)
		return err
	})
	observeLedger(typ, err)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Add credits a positive magnitude.
func (l *Ledger) Add(ctx context.Context, userID string, amount int64, typ models.LedgerType, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: add requires a positive amount, got %d", ErrInvalidAmount, amount)
	}
	return l.Change(ctx, userID, amount, typ, description, "")
}

// Subtract debits a positive magnitude.
func (l *Ledger) Subtract(ctx context.Context, userID string, amount int64, typ models.LedgerType, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: subtract requires a positive amount, got %d", ErrInvalidAmount, amount)
	}
	return l.Change(ctx, userID, -amount, typ, description, "")
}

// BatchChange applies every request inside one transaction, each under its own savepoint.
// A failing entry is rolled back alone and reported in its result; the others still commit.
func (l *Ledger) BatchChange(ctx context.Context, reqs []ChangeRequest) ([]ChangeResult, error) {
	results := make([]ChangeResult, len(reqs))
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, req := range reqs {
			res := ChangeResult{UserID: req.UserID, Amount: req.Amount}
			err := tx.Transaction(func(sp *gorm.DB) error {
				balance, err := l.Apply(sp, req.UserID, req.Amount, req.Type, req.Description, req.Reference)
				res.Balance = balance
				return err
			})
			if err != nil {
				res.Err = err
				res.Error = err.Error()
				log.Printf("[Ledger] batch entry %d for user %s failed: %v", i, req.UserID, err)
			}
			observeLedger(req.Type, err)
			results[i] = res
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Balance returns the user's current credits.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var user models.User
	if err := l.DB.WithContext(ctx).Select("id", "credits").Where("id = ?", userID).First(&user).Error; err != nil {
		return 0, notFound(err, "user", userID)
	}
	return user.Credits, nil
}

// History returns a page of the user's entries, newest first, plus the total count.
func (l *Ledger) History(ctx context.Context, userID string, page, size int) ([]models.CreditLedgerEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	var total int64
	q := l.DB.WithContext(ctx).Model(&models.CreditLedgerEntry{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.CreditLedgerEntry
	err := l.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&entries).Error
	return entries, total, err
}

// EntriesBetween returns every entry with from <= created_at < to in id order.
func (l *Ledger) EntriesBetween(ctx context.Context, from, to time.Time) ([]models.CreditLedgerEntry, error) {
	var entries []models.CreditLedgerEntry
	err := l.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func observeLedger(typ models.LedgerType, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientBalance):
		result = "insufficient"
	case errors.Is(err, ErrInvalidAmount):
		result = "invalid"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	if typ == "" {
		typ = models.LedgerTypeOther
	}
	metrics.LedgerChanges.WithLabelValues(string(typ), result).Inc()
}
