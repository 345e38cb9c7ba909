package models

import "time"

type ReconciliationStatus string

const (
	ReconPending          ReconciliationStatus = "PENDING"
	ReconFeesCollected    ReconciliationStatus = "FEES_COLLECTED"
	ReconSettled          ReconciliationStatus = "SETTLED"
	ReconNoWinnerRefunded ReconciliationStatus = "NO_WINNER_REFUNDED"
	ReconAbortedRefunded  ReconciliationStatus = "ABORTED_REFUNDED"
)

func (s ReconciliationStatus) Terminal() bool {
	return s == ReconSettled || s == ReconNoWinnerRefunded || s == ReconAbortedRefunded
}

type LedgerEntryType string

const (
	EntryFeeDebit     LedgerEntryType = "ENTRY_FEE"
	WinningCredit     LedgerEntryType = "WINNING"
	PlatformFeeCredit LedgerEntryType = "PLATFORM_FEE"
	RefundCredit      LedgerEntryType = "REFUND"
)

type LedgerEntryStatus string

const (
	EntryPending   LedgerEntryStatus = "PENDING"
	EntryCompleted LedgerEntryStatus = "COMPLETED"
	EntryFailed    LedgerEntryStatus = "FAILED"
)

// Reconciliation is the money-conservation record for one game:
// entry fees collected == prize paid + platform fee + refunds.
// One row per game that ever collected money; retained permanently.
type Reconciliation struct {
	ID     uint                 `gorm:"primaryKey" json:"id"`
	GameID uint                 `gorm:"uniqueIndex" json:"game_id"`
	Status ReconciliationStatus `json:"status"`

	Pot   float64 `json:"pot"`
	Fee   float64 `json:"fee"`
	Prize float64 `json:"prize"`

	DebitTotal  float64 `json:"debit_total"`
	CreditTotal float64 `json:"credit_total"`

	Entries []LedgerEntry `json:"entries"`
	Audit   []AuditLog    `json:"audit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is an append-only movement record. UserID is nil for
// house-side entries (platform fee).
type LedgerEntry struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	ReconciliationID uint              `gorm:"index" json:"reconciliation_id"`
	GameID           uint              `gorm:"index" json:"game_id"`
	Type             LedgerEntryType   `json:"type"`
	UserID           *uint             `json:"user_id"`
	Amount           float64           `json:"amount"`
	Status           LedgerEntryStatus `json:"status"`
	Reference        string            `json:"reference"` // wallet transaction ref
	CreatedAt        time.Time         `json:"created_at"`
}

// AuditLog rows are append-only; nothing ever updates or deletes one.
type AuditLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ReconciliationID uint      `gorm:"index" json:"reconciliation_id"`
	Action           string    `json:"action"`
	Details          string    `json:"details"`
	Actor            string    `json:"actor"`
	CreatedAt        time.Time `json:"created_at"`
}
