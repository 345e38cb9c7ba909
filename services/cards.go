package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/bellapacxx/bingo-live/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SelectOutcome tells the caller whether a selection created a fresh
// assignment or replaced the player's previous card.
type SelectOutcome string

const (
	SelectCreated SelectOutcome = "CREATED"
	SelectUpdated SelectOutcome = "UPDATED"
)

// CardService owns per-game card-number reservations: one card per
// player, no two players on the same number.
type CardService struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func NewCardService(db *gorm.DB, log *zap.SugaredLogger) *CardService {
	return &CardService{db: db, log: log, now: time.Now}
}

// SelectCard reserves cardNumber for the player, replacing any card the
// player already holds. A player not yet joined is auto-joined, but
// only while the game is still accepting new participants.
func (s *CardService) SelectCard(gameID, userID uint, cardNumber int) (SelectOutcome, *models.BingoCard, error) {
	if !ValidCardNumber(cardNumber) {
		return "", nil, fmt.Errorf("%w: card number %d out of range", ErrCardConflict, cardNumber)
	}

	var outcome SelectOutcome
	var card models.BingoCard

	err := s.db.Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		prev := g.Version

		if g.Status != models.StatusWaitingForPlayers && g.Status != models.StatusCardSelection {
			return ErrInvalidState
		}

		// The number must not be bound to a different player.
		var taken models.BingoCard
		err = tx.Where("game_id = ? AND card_number = ?", gameID, cardNumber).First(&taken).Error
		if err == nil && taken.UserID != userID {
			return ErrCardConflict
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		drawn := g.Drawn()

		var existing models.BingoCard
		err = tx.Where("game_id = ? AND user_id = ?", gameID, userID).First(&existing).Error
		switch {
		case err == nil:
			// Replace, never duplicate. Marks reset with the new grid.
			existing.CardNumber = cardNumber
			existing.SetGrid(Grid(cardNumber))
			existing.SetMarked(nil)
			existing.SetJoinSnapshot(drawn)
			existing.JoinedLate = len(drawn) > 0
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			card = existing
			outcome = SelectUpdated
		case errors.Is(err, gorm.ErrRecordNotFound):
			card = models.BingoCard{
				GameID:     gameID,
				UserID:     userID,
				CardNumber: cardNumber,
				JoinedLate: len(drawn) > 0,
			}
			card.SetGrid(Grid(cardNumber))
			card.SetMarked(nil)
			card.SetJoinSnapshot(drawn)
			if err := tx.Create(&card).Error; err != nil {
				return err
			}
			outcome = SelectCreated
		default:
			return err
		}

		// Auto-join on select. New participants are only accepted in
		// WAITING_FOR_PLAYERS; during CARD_SELECTION existing players
		// may still pick or swap cards.
		var player models.GamePlayer
		err = tx.Where("game_id = ? AND user_id = ?", gameID, userID).First(&player).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if g.Status == models.StatusCardSelection {
				return ErrInvalidState
			}
			player = models.GamePlayer{GameID: gameID, UserID: userID, JoinedAt: s.now()}
			if err := tx.Create(&player).Error; err != nil {
				return err
			}
			g.PlayerCount++
		} else if err != nil {
			return err
		}

		// Guarded save serializes the selection against lifecycle
		// transitions that read the carded count.
		return saveGameGuarded(tx, g, prev)
	})
	if err != nil {
		return "", nil, err
	}

	s.log.Infof("[Cards] game %d user %d %s card %d", gameID, userID, outcome, cardNumber)
	return outcome, &card, nil
}

// ReleaseCard frees the player's reservation. Releasing when no card is
// held is a no-op.
func (s *CardService) ReleaseCard(gameID, userID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		prev := g.Version

		if g.Status != models.StatusWaitingForPlayers && g.Status != models.StatusCardSelection {
			return ErrInvalidState
		}

		res := tx.Where("game_id = ? AND user_id = ?", gameID, userID).Delete(&models.BingoCard{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return saveGameGuarded(tx, g, prev)
	})
}

// AvailableCards returns the template numbers not yet taken, the
// complement of the reserved set over the full catalogue.
func (s *CardService) AvailableCards(gameID uint) ([]int, error) {
	var takenNumbers []int
	err := s.db.Model(&models.BingoCard{}).
		Where("game_id = ?", gameID).
		Pluck("card_number", &takenNumbers).Error
	if err != nil {
		return nil, err
	}

	taken := make(map[int]bool, len(takenNumbers))
	for _, n := range takenNumbers {
		taken[n] = true
	}

	available := make([]int, 0, MaxCardNumber-len(taken))
	for n := MinCardNumber; n <= MaxCardNumber; n++ {
		if !taken[n] {
			available = append(available, n)
		}
	}
	return available, nil
}

// MarkCell records a manual mark on the player's card. Only numbers
// actually drawn can be marked; the free cell needs no marking.
func (s *CardService) MarkCell(gameID, userID uint, position int) error {
	if position < 0 || position > 24 {
		return fmt.Errorf("%w: position %d out of range", ErrInvalidState, position)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		if g.Status != models.StatusActive {
			return ErrInvalidState
		}

		var card models.BingoCard
		if err := tx.Where("game_id = ? AND user_id = ?", gameID, userID).First(&card).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidState
			}
			return err
		}

		grid := card.Grid()
		if position == models.FreeCell {
			return nil
		}
		drawn := make(map[int]bool)
		for _, n := range g.Drawn() {
			drawn[n] = true
		}
		if !drawn[grid[position]] {
			return fmt.Errorf("%w: number %d not drawn yet", ErrInvalidState, grid[position])
		}

		marks := card.MarkedPositions()
		for _, p := range marks {
			if p == position {
				return nil
			}
		}
		card.SetMarked(append(marks, position))
		return tx.Save(&card).Error
	})
}
