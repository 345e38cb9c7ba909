package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type GameStatus string

const (
	StatusWaitingForPlayers GameStatus = "WAITING_FOR_PLAYERS"
	StatusCardSelection     GameStatus = "CARD_SELECTION"
	StatusActive            GameStatus = "ACTIVE"
	StatusFinished          GameStatus = "FINISHED"
	StatusNoWinner          GameStatus = "NO_WINNER"
	StatusCancelled         GameStatus = "CANCELLED"
)

// Terminal reports whether the game has reached an end state and is
// waiting out its cooldown before being archived.
func (s GameStatus) Terminal() bool {
	return s == StatusFinished || s == StatusNoWinner || s == StatusCancelled
}

type Game struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Code         string         `gorm:"uniqueIndex" json:"code"`
	Status       GameStatus     `gorm:"index" json:"status"`
	PlayerCount  int            `json:"player_count"`
	DrawnNumbers datatypes.JSON `json:"drawn_numbers"` // ordered array, 1-75, no repeats
	WinnerUserID *uint          `json:"winner_user_id"`

	// Phase boundary timestamps. Transitions are re-derived from these
	// by the lifecycle sweep, never from in-memory timers.
	AutoStartAt            *time.Time `json:"auto_start_at"`
	CardSelectionStartedAt *time.Time `json:"card_selection_started_at"`
	CardSelectionEndsAt    *time.Time `json:"card_selection_ends_at"`
	StartedAt              *time.Time `json:"started_at"`
	EndedAt                *time.Time `json:"ended_at"`
	CooldownEndsAt         *time.Time `json:"cooldown_ends_at"`

	Archived bool `gorm:"index" json:"archived"`
	Version  int  `json:"-"` // optimistic lock counter

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Drawn decodes the persisted draw list.
func (g *Game) Drawn() []int {
	if len(g.DrawnNumbers) == 0 {
		return nil
	}
	var out []int
	if err := json.Unmarshal(g.DrawnNumbers, &out); err != nil {
		return nil
	}
	return out
}

func (g *Game) SetDrawn(nums []int) {
	b, _ := json.Marshal(nums)
	g.DrawnNumbers = datatypes.JSON(b)
}

// GameRegistry is the single-row pointer to the one non-archived game.
// It is updated atomically with archival so the "at most one playable
// game" invariant is structural, not query-enforced.
type GameRegistry struct {
	ID            uint `gorm:"primaryKey"`
	CurrentGameID uint
	UpdatedAt     time.Time
}

const RegistryRowID = 1
