package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bellapacxx/bingo-live/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BalanceTolerance is the float slack allowed on the debit/credit
// conservation check.
const BalanceTolerance = 0.01

// ReconciliationService owns the audit trail and the money
// conservation invariant for each game: everything debited as entry
// fees must come back out as prize, platform fee, or refunds.
type ReconciliationService struct {
	db     *gorm.DB
	wallet Wallet
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewReconciliationService(db *gorm.DB, wallet Wallet, log *zap.SugaredLogger) *ReconciliationService {
	return &ReconciliationService{db: db, wallet: wallet, log: log, now: time.Now}
}

// FetchOrCreate returns the game's reconciliation, creating the row the
// first time money moves for the game.
func (r *ReconciliationService) FetchOrCreate(tx *gorm.DB, gameID uint) (*models.Reconciliation, error) {
	var rec models.Reconciliation
	err := tx.Where("game_id = ?", gameID).First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	rec = models.Reconciliation{GameID: gameID, Status: models.ReconPending}
	if err := tx.Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ReconciliationService) GetByGame(gameID uint) (*models.Reconciliation, error) {
	var rec models.Reconciliation
	err := r.db.Preload("Entries").Preload("Audit").
		Where("game_id = ?", gameID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// appendEntry writes one ledger row and folds completed amounts into
// the running totals. Entries are never updated after this.
func (r *ReconciliationService) appendEntry(tx *gorm.DB, rec *models.Reconciliation, entry models.LedgerEntry) error {
	entry.ReconciliationID = rec.ID
	entry.GameID = rec.GameID
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	if entry.Status == models.EntryCompleted {
		if entry.Type == models.EntryFeeDebit {
			rec.DebitTotal += entry.Amount
		} else {
			rec.CreditTotal += entry.Amount
		}
	}
	return tx.Save(rec).Error
}

// AddAudit appends to the audit trail.
func (r *ReconciliationService) AddAudit(tx *gorm.DB, rec *models.Reconciliation, action, details, actor string) error {
	return tx.Create(&models.AuditLog{
		ReconciliationID: rec.ID,
		Action:           action,
		Details:          details,
		Actor:            actor,
		CreatedAt:        r.now(),
	}).Error
}

// CollectEntryFees deducts the entry fee from every carded player.
// InsufficientFunds is a per-player outcome (FAILED entry, player
// reported back to the caller); any other wallet failure aborts the
// whole step. Pot, fee and prize are derived from who actually paid.
func (r *ReconciliationService) CollectEntryFees(tx *gorm.DB, g *models.Game, cards []models.BingoCard, entryFee, feeRate float64) (rec *models.Reconciliation, paid, unpaid []uint, err error) {
	rec, err = r.FetchOrCreate(tx, g.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, card := range cards {
		ref, derr := r.wallet.DeductEntry(tx, card.UserID, g.ID, entryFee, fmt.Sprintf("entry fee game %s", g.Code))
		if derr != nil {
			if errors.Is(derr, ErrInsufficientFunds) {
				unpaid = append(unpaid, card.UserID)
				userID := card.UserID
				if err := r.appendEntry(tx, rec, models.LedgerEntry{
					Type:   models.EntryFeeDebit,
					UserID: &userID,
					Amount: entryFee,
					Status: models.EntryFailed,
				}); err != nil {
					return nil, nil, nil, err
				}
				continue
			}
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrWalletFailure, derr)
		}

		paid = append(paid, card.UserID)
		userID := card.UserID
		if err := r.appendEntry(tx, rec, models.LedgerEntry{
			Type:      models.EntryFeeDebit,
			UserID:    &userID,
			Amount:    entryFee,
			Status:    models.EntryCompleted,
			Reference: ref,
		}); err != nil {
			return nil, nil, nil, err
		}
	}

	rec.Pot = float64(len(paid)) * entryFee
	rec.Fee = rec.Pot * feeRate
	rec.Prize = rec.Pot - rec.Fee
	rec.Status = models.ReconFeesCollected
	if err := tx.Save(rec).Error; err != nil {
		return nil, nil, nil, err
	}
	if err := r.AddAudit(tx, rec, "fees_collected",
		fmt.Sprintf("collected %.2f from %d players (%d failed)", rec.Pot, len(paid), len(unpaid)),
		"lifecycle"); err != nil {
		return nil, nil, nil, err
	}
	return rec, paid, unpaid, nil
}

// RecordWinning credits the prize to the winner and appends the prize
// and platform-fee entries.
func (r *ReconciliationService) RecordWinning(tx *gorm.DB, rec *models.Reconciliation, g *models.Game, winnerID uint) error {
	ref, err := r.wallet.CreditWinning(tx, winnerID, g.ID, rec.Prize, fmt.Sprintf("bingo prize game %s", g.Code))
	if err != nil {
		if errors.Is(err, ErrWalletFailure) || errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrWalletFailure, err)
	}

	winner := winnerID
	if err := r.appendEntry(tx, rec, models.LedgerEntry{
		Type:      models.WinningCredit,
		UserID:    &winner,
		Amount:    rec.Prize,
		Status:    models.EntryCompleted,
		Reference: ref,
	}); err != nil {
		return err
	}

	// House-side entry; no wallet movement, the platform keeps the fee.
	if err := r.appendEntry(tx, rec, models.LedgerEntry{
		Type:   models.PlatformFeeCredit,
		Amount: rec.Fee,
		Status: models.EntryCompleted,
	}); err != nil {
		return err
	}

	rec.Status = models.ReconSettled
	if err := tx.Save(rec).Error; err != nil {
		return err
	}
	return r.AddAudit(tx, rec, "settled",
		fmt.Sprintf("prize %.2f to user %d, platform fee %.2f", rec.Prize, winnerID, rec.Fee),
		"settlement")
}

// RefundEntryFees returns the entry fee to every player with a
// completed fee debit, exactly once. Re-entry (the sweep re-driving a
// crashed settlement) finds the completed refund entries and skips.
func (r *ReconciliationService) RefundEntryFees(tx *gorm.DB, g *models.Game, rec *models.Reconciliation, target models.ReconciliationStatus, actor string) error {
	var entries []models.LedgerEntry
	err := tx.Where("reconciliation_id = ? AND status = ?", rec.ID, models.EntryCompleted).
		Order("id").Find(&entries).Error
	if err != nil {
		return err
	}

	// Every completed fee debit needs exactly one matching credit
	// outcome (win or refund). Counting per user keeps re-entry and a
	// later fee collection on the same ledger both correct.
	owed := make(map[uint]*refundTally)
	order := make([]uint, 0)
	for _, entry := range entries {
		if entry.UserID == nil {
			continue
		}
		t := owed[*entry.UserID]
		if t == nil {
			t = &refundTally{}
			owed[*entry.UserID] = t
			order = append(order, *entry.UserID)
		}
		switch entry.Type {
		case models.EntryFeeDebit:
			t.fees++
			t.amount = entry.Amount
		case models.RefundCredit, models.WinningCredit:
			t.credited++
		}
	}

	refunded, skipped := 0, 0
	for _, userID := range order {
		t := owed[userID]
		n, rerr := r.refundShortfall(tx, rec, g, userID, t)
		if errors.Is(rerr, ErrRefundAlreadyProcessed) {
			skipped += t.fees // success-no-op
			continue
		}
		if rerr != nil {
			return rerr
		}
		refunded += n
	}

	rec.Status = target
	if err := tx.Save(rec).Error; err != nil {
		return err
	}
	return r.AddAudit(tx, rec, "refunded",
		fmt.Sprintf("refunded %d entries (%d already processed)", refunded, skipped),
		actor)
}

type refundTally struct {
	fees     int
	credited int
	amount   float64
}

// refundShortfall credits the user for every completed fee debit not
// yet matched by a credit. A user already made whole returns
// ErrRefundAlreadyProcessed, which the caller treats as success-no-op.
func (r *ReconciliationService) refundShortfall(tx *gorm.DB, rec *models.Reconciliation, g *models.Game, userID uint, t *refundTally) (int, error) {
	if t.credited >= t.fees {
		return 0, ErrRefundAlreadyProcessed
	}
	refunded := 0
	for i := t.credited; i < t.fees; i++ {
		ref, err := r.wallet.CreditWinning(tx, userID, g.ID, t.amount, fmt.Sprintf("refund game %s", g.Code))
		if err != nil {
			return refunded, fmt.Errorf("%w: refund for user %d: %v", ErrWalletFailure, userID, err)
		}
		uid := userID
		if err := r.appendEntry(tx, rec, models.LedgerEntry{
			Type:      models.RefundCredit,
			UserID:    &uid,
			Amount:    t.amount,
			Status:    models.EntryCompleted,
			Reference: ref,
		}); err != nil {
			return refunded, err
		}
		refunded++
	}
	return refunded, nil
}

// Balanced reports whether the conservation invariant holds.
func Balanced(rec *models.Reconciliation) bool {
	return math.Abs(rec.CreditTotal-rec.DebitTotal) <= BalanceTolerance
}

// Sweep re-drives reconciliations stuck in a non-terminal status for a
// game that already ended, and flags any terminal reconciliation whose
// books do not balance. Idempotent; meant for an hourly trigger.
func (r *ReconciliationService) Sweep(ctx context.Context) error {
	var recs []models.Reconciliation
	if err := r.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return err
	}

	for _, rec := range recs {
		if rec.Status.Terminal() {
			if !Balanced(&rec) {
				r.log.Errorf("[Reconciliation] game %d out of balance: debit %.2f credit %.2f",
					rec.GameID, rec.DebitTotal, rec.CreditTotal)
			}
			continue
		}

		var g models.Game
		if err := r.db.WithContext(ctx).First(&g, rec.GameID).Error; err != nil {
			r.log.Errorf("[Reconciliation] game %d missing for reconciliation %d: %v", rec.GameID, rec.ID, err)
			continue
		}
		if !g.Status.Terminal() {
			continue // game still running, nothing to re-drive
		}

		// A terminal game with a non-terminal ledger means a settlement
		// was interrupted. Refund-type endings are safe to re-drive; a
		// FINISHED game without SETTLED books needs operator attention.
		switch g.Status {
		case models.StatusNoWinner, models.StatusCancelled:
			target := models.ReconNoWinnerRefunded
			if g.Status == models.StatusCancelled {
				target = models.ReconAbortedRefunded
			}
			err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				fresh, err := r.FetchOrCreate(tx, g.ID)
				if err != nil {
					return err
				}
				return r.RefundEntryFees(tx, &g, fresh, target, "reconciliation-sweep")
			})
			if err != nil {
				r.log.Errorf("[Reconciliation] failed to re-drive refunds for game %d: %v", g.ID, err)
			} else {
				r.log.Infof("[Reconciliation] re-drove refunds for game %d", g.ID)
			}
		case models.StatusFinished:
			r.log.Errorf("[Reconciliation] game %d finished but ledger status is %s", g.ID, rec.Status)
		}
	}
	return nil
}
