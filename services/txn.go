package services

import (
	"errors"

	"github.com/bellapacxx/bingo-live/models"

	"gorm.io/gorm"
)

// loadGame fetches one game row inside the caller's transaction.
func loadGame(tx *gorm.DB, gameID uint) (*models.Game, error) {
	var g models.Game
	if err := tx.First(&g, gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	return &g, nil
}

// saveGameGuarded writes the game row only if nobody else bumped its
// version since prevVersion was read. Zero rows affected means a
// concurrent writer won; the caller's transaction must abort with
// ErrWriteConflict so no partial effect survives.
func saveGameGuarded(tx *gorm.DB, g *models.Game, prevVersion int) error {
	g.Version = prevVersion + 1
	res := tx.Model(&models.Game{}).
		Where("id = ? AND version = ?", g.ID, prevVersion).
		Select("*").
		Omit("created_at").
		Updates(g)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWriteConflict
	}
	return nil
}

// cardedCount is the number of players currently holding a card.
func cardedCount(tx *gorm.DB, gameID uint) (int, error) {
	var n int64
	err := tx.Model(&models.BingoCard{}).Where("game_id = ?", gameID).Count(&n).Error
	return int(n), err
}
