package stats

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const dayLayout = "2006-01-02"

var errMissingDatabase = errors.New("stats: database handle is required")

// PayoutStat records one executed payout for reporting.
type PayoutStat struct {
	ID         string    `gorm:"column:id;primaryKey;size:36"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null"`
	Day        string    `gorm:"column:day;size:10;not null;index"`
	Amount     float64   `gorm:"column:amount;not null"`
	FirstClaim bool      `gorm:"column:first_claim;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PayoutStat) TableName() string {
	return "payout_stats"
}

// DailyTotal aggregates payouts for one UTC day.
type DailyTotal struct {
	Day    string  `json:"day"`
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// Summary is the aggregate view served by the admin API.
type Summary struct {
	TotalPayouts int64        `json:"total_payouts"`
	TotalAmount  float64      `json:"total_amount"`
	FirstClaims  int64        `json:"first_claims"`
	Daily        []DailyTotal `json:"daily"`
}

// Service persists payout statistics.
type Service struct {
	db *gorm.DB
}

// NewService constructs the stats service.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Service{db: db}, nil
}

// RecordPayout stores one payout record. Satisfies the pipeline's stat
// recorder contract.
func (s *Service) RecordPayout(ctx context.Context, at time.Time, amount float64, firstClaim bool) error {
	at = at.UTC()
	stat := PayoutStat{
		ID:         uuid.NewString(),
		RecordedAt: at,
		Day:        at.Format(dayLayout),
		Amount:     amount,
		FirstClaim: firstClaim,
	}
	return s.db.WithContext(ctx).Create(&stat).Error
}

// Summarize aggregates all recorded payouts plus per-day totals for the most
// recent days, newest first.
func (s *Service) Summarize(ctx context.Context, recentDays int) (Summary, error) {
	var summary Summary

	row := s.db.WithContext(ctx).Model(&PayoutStat{}).
		Select("COUNT(*) AS total_payouts, COALESCE(SUM(amount), 0) AS total_amount").
		Row()
	if err := row.Scan(&summary.TotalPayouts, &summary.TotalAmount); err != nil {
		return Summary{}, err
	}

	if err := s.db.WithContext(ctx).Model(&PayoutStat{}).
		Where("first_claim = ?", true).
		Count(&summary.FirstClaims).Error; err != nil {
		return Summary{}, err
	}

	if err := s.db.WithContext(ctx).Model(&PayoutStat{}).
		Select("day, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("day").
		Order("day DESC").
		Limit(recentDays).
		Scan(&summary.Daily).Error; err != nil {
		return Summary{}, err
	}

	return summary, nil
}
