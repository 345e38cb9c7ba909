package models

import "time"

// GamePlayer is the join record for a game. It is distinct from card
// ownership: a player can be joined without holding a card yet.
type GamePlayer struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	GameID   uint      `gorm:"index;uniqueIndex:idx_player_game" json:"game_id"`
	UserID   uint      `gorm:"uniqueIndex:idx_player_game" json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}
