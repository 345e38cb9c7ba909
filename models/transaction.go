package models

import "time"

type TransactionType string

const (
	DepositTransaction  TransactionType = "deposit"
	WithdrawTransaction TransactionType = "withdraw"
	EntryFeeTransaction TransactionType = "entry_fee"
	WinningTransaction  TransactionType = "winning"
	RefundTransaction   TransactionType = "refund"
)

type Transaction struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Reference    string          `gorm:"uniqueIndex" json:"reference"`
	UserID       uint            `gorm:"index" json:"user_id"`
	GameID       *uint           `gorm:"index" json:"game_id"`
	Type         TransactionType `json:"type"`
	Amount       float64         `json:"amount"`
	BalanceAfter float64         `json:"balance_after"`
	Memo         string          `json:"memo"`
	CreatedAt    time.Time       `json:"created_at"`
}
