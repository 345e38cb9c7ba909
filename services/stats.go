package services

import (
	"github.com/bellapacxx/bingo-live/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Stats is fire-and-forget: failures are logged, never propagated.
type Stats interface {
	RecordResult(userID uint, won bool)
}

type StatsService struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewStatsService(db *gorm.DB, log *zap.SugaredLogger) *StatsService {
	return &StatsService{db: db, log: log}
}

func (s *StatsService) RecordResult(userID uint, won bool) {
	column := "games_lost"
	if won {
		column = "games_won"
	}
	err := s.db.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn(column, gorm.Expr(column+" + 1")).Error
	if err != nil {
		s.log.Errorf("[Stats] failed to record result for user %d: %v", userID, err)
	}
}
