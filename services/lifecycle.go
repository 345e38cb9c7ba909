package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bellapacxx/bingo-live/config"
	"github.com/bellapacxx/bingo-live/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LifecycleEngine owns the game status machine. Every transition is
// derived from timestamps persisted on the game row and executed in a
// single guarded transaction, so a crashed or delayed process always
// catches up from the periodic sweep.
type LifecycleEngine struct {
	db     *gorm.DB
	cfg    *config.Config
	recon  *ReconciliationService
	sched  *SchedulerRegistry
	settle *SettlementService
	guards *GuardRegistry
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewLifecycleEngine(db *gorm.DB, cfg *config.Config, recon *ReconciliationService, sched *SchedulerRegistry, settle *SettlementService, guards *GuardRegistry, log *zap.SugaredLogger) *LifecycleEngine {
	return &LifecycleEngine{
		db:     db,
		cfg:    cfg,
		recon:  recon,
		sched:  sched,
		settle: settle,
		guards: guards,
		log:    log,
		now:    time.Now,
	}
}

func newGameCode() string {
	return "G-" + strings.ToUpper(uuid.NewString()[:8])
}

// checkMinPlayers guards a transition boundary: fewer carded players
// than the minimum means the transition cannot fire.
func checkMinPlayers(carded, min int) error {
	if carded < min {
		return fmt.Errorf("%w: %d of %d", ErrInsufficientPlayers, carded, min)
	}
	return nil
}

// EnsureCurrentGame returns the one playable game, creating it (and the
// registry pointer) on first boot or after a missing row.
func (e *LifecycleEngine) EnsureCurrentGame() (*models.Game, error) {
	var game models.Game
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var reg models.GameRegistry
		err := tx.First(&reg, models.RegistryRowID).Error
		if err == nil {
			if ferr := tx.First(&game, reg.CurrentGameID).Error; ferr == nil && !game.Archived {
				return nil
			} else if ferr != nil && !errors.Is(ferr, gorm.ErrRecordNotFound) {
				return ferr
			}
			// Pointer is stale; replace the game it points at.
			game = models.Game{Code: newGameCode(), Status: models.StatusWaitingForPlayers}
			if err := tx.Create(&game).Error; err != nil {
				return err
			}
			reg.CurrentGameID = game.ID
			return tx.Save(&reg).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		game = models.Game{Code: newGameCode(), Status: models.StatusWaitingForPlayers}
		if err := tx.Create(&game).Error; err != nil {
			return err
		}
		return tx.Create(&models.GameRegistry{ID: models.RegistryRowID, CurrentGameID: game.ID}).Error
	})
	if err != nil {
		return nil, err
	}
	return &game, nil
}

// CurrentGame resolves the registry pointer, read-only.
func (e *LifecycleEngine) CurrentGame() (*models.Game, error) {
	var reg models.GameRegistry
	if err := e.db.First(&reg, models.RegistryRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	var game models.Game
	if err := e.db.First(&game, reg.CurrentGameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	return &game, nil
}

// JoinGame adds a new participant. Only WAITING_FOR_PLAYERS accepts
// new players; during CARD_SELECTION existing players may only pick
// cards. Joining twice is a no-op.
func (e *LifecycleEngine) JoinGame(gameID, userID uint) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		prev := g.Version

		if g.Status != models.StatusWaitingForPlayers {
			return ErrInvalidState
		}

		var existing models.GamePlayer
		err = tx.Where("game_id = ? AND user_id = ?", gameID, userID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		player := models.GamePlayer{GameID: gameID, UserID: userID, JoinedAt: e.now()}
		if err := tx.Create(&player).Error; err != nil {
			return err
		}
		g.PlayerCount++
		return saveGameGuarded(tx, g, prev)
	})
}

// LeaveGame removes a participant before the game goes active,
// releasing their card. When the last player leaves, the game is
// cancelled and any collected fees refunded.
func (e *LifecycleEngine) LeaveGame(gameID, userID uint) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		prev := g.Version

		if g.Status != models.StatusWaitingForPlayers && g.Status != models.StatusCardSelection {
			return ErrInvalidState
		}

		res := tx.Where("game_id = ? AND user_id = ?", gameID, userID).Delete(&models.GamePlayer{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Where("game_id = ? AND user_id = ?", gameID, userID).Delete(&models.BingoCard{}).Error; err != nil {
			return err
		}

		g.PlayerCount--
		if g.PlayerCount <= 0 {
			// Everybody is gone; fees are only collected at the ACTIVE
			// boundary, so there is normally nothing to refund here.
			now := e.now()
			cooldownEnd := now.Add(e.cfg.Cooldown)
			g.PlayerCount = 0
			g.Status = models.StatusCancelled
			g.EndedAt = &now
			g.CooldownEndsAt = &cooldownEnd
			g.AutoStartAt = nil

			var rec models.Reconciliation
			err := tx.Where("game_id = ?", gameID).First(&rec).Error
			if err == nil {
				if err := e.recon.RefundEntryFees(tx, g, &rec, models.ReconAbortedRefunded, "lifecycle"); err != nil {
					return err
				}
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			e.log.Infof("[Lifecycle] game %d cancelled, all players left", gameID)
		}
		return saveGameGuarded(tx, g, prev)
	})
}

// Sweep is the idempotent periodic pass: it re-derives any pending
// transition from the persisted timestamps of the current game. A lost
// race with a live writer is not an error, the next tick catches up.
func (e *LifecycleEngine) Sweep(ctx context.Context) error {
	g, err := e.EnsureCurrentGame()
	if err != nil {
		return err
	}

	switch g.Status {
	case models.StatusWaitingForPlayers:
		err = e.sweepWaiting(ctx, g.ID)
	case models.StatusCardSelection:
		err = e.sweepCardSelection(ctx, g.ID)
	case models.StatusActive:
		err = e.sweepActive(ctx, g.ID)
	case models.StatusFinished, models.StatusNoWinner, models.StatusCancelled:
		err = e.sweepCooldown(ctx, g.ID)
	}

	if errors.Is(err, ErrWriteConflict) {
		e.log.Debugf("[Lifecycle] sweep lost a write race on game %d", g.ID)
		return nil
	}
	return err
}

// sweepWaiting arms, resets or fires the auto-start deadline.
func (e *LifecycleEngine) sweepWaiting(ctx context.Context, gameID uint) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		prev := g.Version
		if g.Status != models.StatusWaitingForPlayers {
			return nil
		}

		carded, err := cardedCount(tx, gameID)
		if err != nil {
			return err
		}
		now := e.now()

		switch {
		case g.AutoStartAt == nil && carded >= e.cfg.MinPlayers:
			deadline := now.Add(e.cfg.AutoStartDelay)
			g.AutoStartAt = &deadline
			e.log.Infof("[Lifecycle] game %d reached %d carded players, auto-start armed for %s", gameID, carded, deadline.Format(time.RFC3339))
		case g.AutoStartAt != nil && carded < e.cfg.MinPlayers:
			g.AutoStartAt = nil
		case g.AutoStartAt != nil && !now.Before(*g.AutoStartAt):
			if carded >= e.cfg.MinPlayers {
				selectionEnd := now.Add(e.cfg.CardSelectionWindow)
				g.Status = models.StatusCardSelection
				g.CardSelectionStartedAt = &now
				g.CardSelectionEndsAt = &selectionEnd
				g.AutoStartAt = nil
				e.log.Infof("[Lifecycle] game %d entered card selection until %s", gameID, selectionEnd.Format(time.RFC3339))
			} else {
				deadline := now.Add(e.cfg.AutoStartDelay)
				g.AutoStartAt = &deadline
			}
		default:
			return nil
		}
		return saveGameGuarded(tx, g, prev)
	})
}

// sweepCardSelection closes the selection window: enough carded players
// start the game (fees first), otherwise fall back to waiting.
func (e *LifecycleEngine) sweepCardSelection(ctx context.Context, gameID uint) error {
	var activated bool
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		prev := g.Version
		if g.Status != models.StatusCardSelection {
			return nil
		}
		now := e.now()
		if g.CardSelectionEndsAt == nil || now.Before(*g.CardSelectionEndsAt) {
			return nil
		}

		var cards []models.BingoCard
		if err := tx.Where("game_id = ?", gameID).Find(&cards).Error; err != nil {
			return err
		}

		if merr := checkMinPlayers(len(cards), e.cfg.MinPlayers); merr != nil {
			e.revertToWaiting(g, now)
			e.log.Infof("[Lifecycle] game %d fell back to waiting: %v", gameID, merr)
			return saveGameGuarded(tx, g, prev)
		}

		rec, paid, unpaid, err := e.recon.CollectEntryFees(tx, g, cards, e.cfg.EntryFee, e.cfg.FeeRate)
		if err != nil {
			return err
		}

		// A player who cannot pay loses the card but stays joined.
		for _, userID := range unpaid {
			if err := tx.Where("game_id = ? AND user_id = ?", gameID, userID).Delete(&models.BingoCard{}).Error; err != nil {
				return err
			}
		}

		if merr := checkMinPlayers(len(paid), e.cfg.MinPlayers); merr != nil {
			if err := e.recon.RefundEntryFees(tx, g, rec, models.ReconAbortedRefunded, "lifecycle"); err != nil {
				return err
			}
			e.revertToWaiting(g, now)
			e.log.Infof("[Lifecycle] game %d aborted at start, fees refunded: %v", gameID, merr)
			return saveGameGuarded(tx, g, prev)
		}

		g.Status = models.StatusActive
		g.StartedAt = &now
		g.SetDrawn(nil)
		activated = true
		e.log.Infof("[Lifecycle] game %d active with %d paid players, pot %.2f", gameID, len(paid), rec.Pot)
		return saveGameGuarded(tx, g, prev)
	})
	if err != nil {
		return err
	}
	if activated {
		e.sched.Ensure(gameID)
	}
	return nil
}

func (e *LifecycleEngine) revertToWaiting(g *models.Game, now time.Time) {
	deadline := now.Add(e.cfg.AutoStartDelay)
	g.Status = models.StatusWaitingForPlayers
	g.CardSelectionStartedAt = nil
	g.CardSelectionEndsAt = nil
	g.AutoStartAt = &deadline
}

// sweepActive is the restart safety net: re-register a missing draw
// loop and finish an exhausted game the scheduler never settled.
func (e *LifecycleEngine) sweepActive(ctx context.Context, gameID uint) error {
	g, err := loadGame(e.db.WithContext(ctx), gameID)
	if err != nil {
		return err
	}
	if g.Status != models.StatusActive {
		return nil
	}

	if g.WinnerUserID == nil && len(g.Drawn()) >= TotalNumbers {
		return e.settle.SettleNoWinner(gameID)
	}
	if !e.sched.Registered(gameID) {
		e.sched.Ensure(gameID)
	}
	return nil
}

// sweepCooldown archives a terminal game once its cooldown elapses and
// installs a fresh WAITING_FOR_PLAYERS game behind the registry
// pointer, all atomically.
func (e *LifecycleEngine) sweepCooldown(ctx context.Context, gameID uint) error {
	var archived bool
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		prev := g.Version
		if !g.Status.Terminal() || g.Archived {
			return nil
		}
		if g.CooldownEndsAt == nil || e.now().Before(*g.CooldownEndsAt) {
			return nil
		}

		// The session resets: join records and cards go, the archived
		// game row and its reconciliation stay forever.
		if err := tx.Where("game_id = ?", gameID).Delete(&models.BingoCard{}).Error; err != nil {
			return err
		}
		if err := tx.Where("game_id = ?", gameID).Delete(&models.GamePlayer{}).Error; err != nil {
			return err
		}

		g.Archived = true
		if err := saveGameGuarded(tx, g, prev); err != nil {
			return err
		}

		next := models.Game{Code: newGameCode(), Status: models.StatusWaitingForPlayers}
		if err := tx.Create(&next).Error; err != nil {
			return err
		}

		res := tx.Model(&models.GameRegistry{}).
			Where("id = ? AND current_game_id = ?", models.RegistryRowID, gameID).
			Update("current_game_id", next.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrWriteConflict
		}

		archived = true
		e.log.Infof("[Lifecycle] game %d archived (%s), new game %d waiting for players", gameID, g.Status, next.ID)
		return nil
	})
	if err != nil {
		return err
	}
	if archived {
		e.sched.Cancel(gameID)
		e.guards.Teardown(gameID)
	}
	return nil
}

// GameSummary is a small status line for logs and health output.
func (e *LifecycleEngine) GameSummary(g *models.Game) string {
	return fmt.Sprintf("game %d (%s) status=%s players=%d drawn=%d",
		g.ID, g.Code, g.Status, g.PlayerCount, len(g.Drawn()))
}
