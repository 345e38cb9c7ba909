package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// FreeCell is the permanently-marked center position of the 5x5 grid.
const FreeCell = 12

type BingoCard struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	GameID     uint `gorm:"index;uniqueIndex:idx_game_user;uniqueIndex:idx_game_number" json:"game_id"`
	UserID     uint `gorm:"uniqueIndex:idx_game_user" json:"user_id"`
	CardNumber int  `gorm:"uniqueIndex:idx_game_number" json:"card_number"`

	Numbers datatypes.JSON `json:"numbers"` // 25 cells row-major, center is 0 (free)
	Marked  datatypes.JSON `json:"marked"`  // marked cell positions 0-24

	IsWinner    bool   `json:"is_winner"`
	WinningLine string `json:"winning_line,omitempty"`

	// Late joiners only get credit for draws made after they held a
	// card; the snapshot records what was already drawn at join time.
	JoinedLate  bool           `json:"joined_late"`
	DrawnAtJoin datatypes.JSON `json:"drawn_at_join"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *BingoCard) Grid() []int {
	var out []int
	_ = json.Unmarshal(c.Numbers, &out)
	return out
}

func (c *BingoCard) SetGrid(nums []int) {
	b, _ := json.Marshal(nums)
	c.Numbers = datatypes.JSON(b)
}

func (c *BingoCard) MarkedPositions() []int {
	if len(c.Marked) == 0 {
		return nil
	}
	var out []int
	_ = json.Unmarshal(c.Marked, &out)
	return out
}

func (c *BingoCard) SetMarked(positions []int) {
	b, _ := json.Marshal(positions)
	c.Marked = datatypes.JSON(b)
}

func (c *BingoCard) JoinSnapshot() []int {
	if len(c.DrawnAtJoin) == 0 {
		return nil
	}
	var out []int
	_ = json.Unmarshal(c.DrawnAtJoin, &out)
	return out
}

func (c *BingoCard) SetJoinSnapshot(nums []int) {
	b, _ := json.Marshal(nums)
	c.DrawnAtJoin = datatypes.JSON(b)
}
