package services

import (
	"context"
	"time"

	"cityflow/traffic-classifier/models"

	"gorm.io/gorm"
)

// HistoryService keeps served predictions in Postgres. A service without a
// database records nothing and lists nothing.
type HistoryService struct {
	db *gorm.DB
}

func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{db: db}
}

func (s *HistoryService) Available() bool {
	return s != nil && s.db != nil
}

func (s *HistoryService) Migrate() error {
	if !s.Available() {
		return nil
	}
	return s.db.AutoMigrate(&models.PredictionLog{})
}

func (s *HistoryService) Record(ctx context.Context, entry models.PredictionLog) error {
	if !s.Available() {
		return nil
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

// List returns up to limit+1 entries older than before, newest first. The
// extra row lets the caller tell whether another page exists.
func (s *HistoryService) List(ctx context.Context, before *time.Time, limit int) ([]models.PredictionLog, error) {
	rows := []models.PredictionLog{}
	if !s.Available() {
		return rows, nil
	}

	query := s.db.WithContext(ctx).Model(&models.PredictionLog{}).
		Order("ts DESC").
		Limit(limit + 1)
	if before != nil {
		query = query.Where("ts < ?", *before)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
