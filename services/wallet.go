package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bellapacxx/bingo-live/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Wallet is the money collaborator. Every method takes the caller's
// *gorm.DB so a deduction or credit joins the enclosing atomic step;
// a failure aborts that step entirely.
type Wallet interface {
	GetBalance(db *gorm.DB, userID uint) (float64, error)
	DeductEntry(db *gorm.DB, userID, gameID uint, amount float64, memo string) (string, error)
	CreditWinning(db *gorm.DB, userID, gameID uint, amount float64, memo string) (string, error)
}

// GormWallet keeps balances on the user row and writes a Transaction
// record per movement.
type GormWallet struct{}

func NewGormWallet() *GormWallet { return &GormWallet{} }

func (w *GormWallet) GetBalance(db *gorm.DB, userID uint) (float64, error) {
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: user %d not found", ErrWalletFailure, userID)
		}
		return 0, fmt.Errorf("%w: %v", ErrWalletFailure, err)
	}
	return user.Balance, nil
}

func (w *GormWallet) DeductEntry(db *gorm.DB, userID, gameID uint, amount float64, memo string) (string, error) {
	return w.move(db, userID, &gameID, -amount, models.EntryFeeTransaction, memo)
}

func (w *GormWallet) CreditWinning(db *gorm.DB, userID, gameID uint, amount float64, memo string) (string, error) {
	txType := models.WinningTransaction
	if strings.HasPrefix(memo, "refund") {
		txType = models.RefundTransaction
	}
	return w.move(db, userID, &gameID, amount, txType, memo)
}

// Deposit and Withdraw back the user-facing wallet endpoints.
func (w *GormWallet) Deposit(db *gorm.DB, userID uint, amount float64) (string, error) {
	return w.move(db, userID, nil, amount, models.DepositTransaction, "deposit")
}

func (w *GormWallet) Withdraw(db *gorm.DB, userID uint, amount float64) (string, error) {
	return w.move(db, userID, nil, -amount, models.WithdrawTransaction, "withdraw")
}

func (w *GormWallet) move(db *gorm.DB, userID uint, gameID *uint, delta float64, txType models.TransactionType, memo string) (string, error) {
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: user %d not found", ErrWalletFailure, userID)
		}
		return "", fmt.Errorf("%w: %v", ErrWalletFailure, err)
	}

	if delta < 0 && user.Balance+delta < 0 {
		return "", ErrInsufficientFunds
	}

	user.Balance += delta
	if err := db.Save(&user).Error; err != nil {
		return "", fmt.Errorf("%w: %v", ErrWalletFailure, err)
	}

	ref := uuid.NewString()
	record := models.Transaction{
		Reference:    ref,
		UserID:       userID,
		GameID:       gameID,
		Type:         txType,
		Amount:       delta,
		BalanceAfter: user.Balance,
		Memo:         memo,
	}
	if err := db.Create(&record).Error; err != nil {
		return "", fmt.Errorf("%w: %v", ErrWalletFailure, err)
	}
	return ref, nil
}
