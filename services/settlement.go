package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/bellapacxx/bingo-live/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ClaimResult is returned to a successful claimant.
type ClaimResult struct {
	GameID      uint    `json:"game_id"`
	WinnerID    uint    `json:"winner_id"`
	WinningLine string  `json:"winning_line"`
	Pot         float64 `json:"pot"`
	Fee         float64 `json:"fee"`
	Prize       float64 `json:"prize"`
}

// SettlementService validates claims, declares the winner exactly once
// and drives payout. Write conflicts on the settlement step are the
// only retried failure class.
type SettlementService struct {
	db       *gorm.DB
	recon    *ReconciliationService
	stats    Stats
	guards   *GuardRegistry
	sched    *SchedulerRegistry
	retry    RetryPolicy
	cooldown time.Duration
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewSettlementService(db *gorm.DB, recon *ReconciliationService, stats Stats, guards *GuardRegistry, sched *SchedulerRegistry, cooldown time.Duration, log *zap.SugaredLogger) *SettlementService {
	return &SettlementService{
		db:       db,
		recon:    recon,
		stats:    stats,
		guards:   guards,
		sched:    sched,
		retry:    ConflictRetry(),
		cooldown: cooldown,
		log:      log,
		now:      time.Now,
	}
}

// ClaimBingo validates the claimant's card against the called numbers
// and, on a winning line, settles the game atomically: prize credit,
// platform fee entry, FINISHED transition, winner guard, scheduler
// cancel, stats. Only the claimant's card is ever evaluated.
func (s *SettlementService) ClaimBingo(gameID, userID uint) (*ClaimResult, error) {
	if s.guards.WinnerDeclared(gameID) {
		return nil, ErrDuplicateClaim
	}

	var result ClaimResult
	var losers []uint

	err := s.retry.Do(func() error {
		if !s.guards.TryBeginSettle(gameID) {
			return ErrWriteConflict // another claim is mid-settlement
		}
		defer s.guards.EndSettle(gameID)

		return s.db.Transaction(func(tx *gorm.DB) error {
			g, err := loadGame(tx, gameID)
			if err != nil {
				return err
			}
			prev := g.Version

			// Preconditions re-validated inside the atomic step; a draw
			// landing concurrently is tolerated by re-reading here.
			if g.WinnerUserID != nil {
				return ErrDuplicateClaim
			}
			if g.Status != models.StatusActive {
				return ErrInvalidState
			}

			var card models.BingoCard
			err = tx.Where("game_id = ? AND user_id = ?", gameID, userID).First(&card).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: player holds no card", ErrInvalidClaim)
			}
			if err != nil {
				return err
			}

			marks := EffectiveMarks(&card, g.Drawn())
			line, ok := FindWinningLine(marks)
			if !ok {
				return ErrInvalidClaim
			}

			card.IsWinner = true
			card.WinningLine = line
			if err := tx.Save(&card).Error; err != nil {
				return err
			}

			rec, err := s.recon.FetchOrCreate(tx, gameID)
			if err != nil {
				return err
			}
			if err := s.recon.RecordWinning(tx, rec, g, userID); err != nil {
				return err
			}

			now := s.now()
			cooldownEnd := now.Add(s.cooldown)
			g.Status = models.StatusFinished
			g.WinnerUserID = &userID
			g.EndedAt = &now
			g.CooldownEndsAt = &cooldownEnd
			if err := saveGameGuarded(tx, g, prev); err != nil {
				return err
			}

			losers = losers[:0]
			var cards []models.BingoCard
			if err := tx.Where("game_id = ? AND user_id <> ?", gameID, userID).Find(&cards).Error; err != nil {
				return err
			}
			for _, c := range cards {
				losers = append(losers, c.UserID)
			}

			result = ClaimResult{
				GameID:      gameID,
				WinnerID:    userID,
				WinningLine: line,
				Pot:         rec.Pot,
				Fee:         rec.Fee,
				Prize:       rec.Prize,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.guards.MarkWinner(gameID)
	s.sched.Cancel(gameID)
	s.log.Infof("[Settlement] game %d won by user %d on %s, prize %.2f", gameID, userID, result.WinningLine, result.Prize)

	go func() {
		s.stats.RecordResult(userID, true)
		for _, loser := range losers {
			s.stats.RecordResult(loser, false)
		}
	}()

	return &result, nil
}

// SettleNoWinner ends a game whose 75 draws produced no valid claim:
// every carded player gets the entry fee back exactly once. Safe to
// re-enter from the sweep; completed refund entries short-circuit.
func (s *SettlementService) SettleNoWinner(gameID uint) error {
	var losers []uint

	err := s.db.Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		prev := g.Version

		if g.Status == models.StatusNoWinner {
			// Re-entry: finish any refunds a crash left behind.
			rec, err := s.recon.FetchOrCreate(tx, gameID)
			if err != nil {
				return err
			}
			return s.recon.RefundEntryFees(tx, g, rec, models.ReconNoWinnerRefunded, "sweep")
		}
		if g.Status != models.StatusActive || g.WinnerUserID != nil {
			return ErrInvalidState
		}
		if len(g.Drawn()) < TotalNumbers {
			return ErrInvalidState
		}

		rec, err := s.recon.FetchOrCreate(tx, gameID)
		if err != nil {
			return err
		}
		if err := s.recon.RefundEntryFees(tx, g, rec, models.ReconNoWinnerRefunded, "scheduler"); err != nil {
			return err
		}

		var cards []models.BingoCard
		if err := tx.Where("game_id = ?", gameID).Find(&cards).Error; err != nil {
			return err
		}
		for _, c := range cards {
			losers = append(losers, c.UserID)
		}

		now := s.now()
		cooldownEnd := now.Add(s.cooldown)
		g.Status = models.StatusNoWinner
		g.EndedAt = &now
		g.CooldownEndsAt = &cooldownEnd
		return saveGameGuarded(tx, g, prev)
	})
	if err != nil {
		return err
	}

	s.sched.Cancel(gameID)
	s.log.Infof("[Settlement] game %d ended with no winner, fees refunded", gameID)

	go func() {
		for _, loser := range losers {
			s.stats.RecordResult(loser, false)
		}
	}()
	return nil
}

// EffectiveMarks builds the claim-evaluation mark set: manual marks,
// the free center cell, and, for late joiners, every card number drawn
// after the player's join snapshot. Draws before the snapshot never
// count; the card did not exist yet.
func EffectiveMarks(card *models.BingoCard, drawn []int) map[int]bool {
	marks := make(map[int]bool, 25)
	marks[models.FreeCell] = true
	for _, p := range card.MarkedPositions() {
		if p >= 0 && p <= 24 {
			marks[p] = true
		}
	}

	if card.JoinedLate {
		snapshot := make(map[int]bool)
		for _, n := range card.JoinSnapshot() {
			snapshot[n] = true
		}
		grid := card.Grid()
		byNumber := make(map[int]int, len(grid))
		for pos, n := range grid {
			if n != 0 {
				byNumber[n] = pos
			}
		}
		for _, n := range drawn {
			if snapshot[n] {
				continue
			}
			if pos, ok := byNumber[n]; ok {
				marks[pos] = true
			}
		}
	}
	return marks
}

// FindWinningLine evaluates the 12 canonical lines: 5 rows, 5 columns
// and the 2 diagonals. Corner, cross and blackout patterns do not win.
func FindWinningLine(marks map[int]bool) (string, bool) {
	full := func(cells [5]int) bool {
		for _, c := range cells {
			if !marks[c] {
				return false
			}
		}
		return true
	}

	for row := 0; row < 5; row++ {
		cells := [5]int{}
		for col := 0; col < 5; col++ {
			cells[col] = row*5 + col
		}
		if full(cells) {
			return fmt.Sprintf("row-%d", row), true
		}
	}
	for col := 0; col < 5; col++ {
		cells := [5]int{}
		for row := 0; row < 5; row++ {
			cells[row] = row*5 + col
		}
		if full(cells) {
			return fmt.Sprintf("col-%d", col), true
		}
	}
	if full([5]int{0, 6, 12, 18, 24}) {
		return "diag-main", true
	}
	if full([5]int{4, 8, 12, 16, 20}) {
		return "diag-anti", true
	}
	return "", false
}
