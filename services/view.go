package services

import (
	"fmt"
	"time"

	"github.com/bellapacxx/bingo-live/config"
	"github.com/bellapacxx/bingo-live/models"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

// FormattedGame is the projection handed to the bot/UI layer: status
// message, per-timer remaining seconds and derived capability flags.
type FormattedGame struct {
	GameID        uint   `json:"game_id"`
	Code          string `json:"code"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`

	PlayerCount int `json:"player_count"`
	CardedCount int `json:"carded_count"`

	DrawnNumbers []int `json:"drawn_numbers"`
	LastNumber   *int  `json:"last_number,omitempty"`
	WinnerUserID *uint `json:"winner_user_id,omitempty"`

	AutoStartInSec     *int `json:"auto_start_in_sec,omitempty"`
	SelectionEndsInSec *int `json:"selection_ends_in_sec,omitempty"`
	CooldownEndsInSec  *int `json:"cooldown_ends_in_sec,omitempty"`

	CanJoin       bool `json:"can_join"`
	CanSelectCard bool `json:"can_select_card"`
	CanStart      bool `json:"can_start"`

	Participants []ParticipantView `json:"participants"`
}

type ParticipantView struct {
	UserID     uint   `json:"user_id"`
	Name       string `json:"name"`
	CardNumber *int   `json:"card_number,omitempty"`
}

// ViewService assembles the read model. Snapshots are cached briefly
// because the websocket hub and the bot poll the same game every tick.
type ViewService struct {
	db    *gorm.DB
	cfg   *config.Config
	cache *gocache.Cache
	now   func() time.Time
}

func NewViewService(db *gorm.DB, cfg *config.Config) *ViewService {
	return &ViewService{
		db:    db,
		cfg:   cfg,
		cache: gocache.New(time.Second, 30*time.Second),
		now:   time.Now,
	}
}

// GetFormattedGame builds (or returns the cached) snapshot for a game.
func (v *ViewService) GetFormattedGame(gameID uint) (*FormattedGame, error) {
	key := fmt.Sprintf("game:%d", gameID)
	if cached, ok := v.cache.Get(key); ok {
		return cached.(*FormattedGame), nil
	}

	g, err := loadGame(v.db, gameID)
	if err != nil {
		return nil, err
	}

	carded, err := cardedCount(v.db, gameID)
	if err != nil {
		return nil, err
	}

	drawn := g.Drawn()
	out := &FormattedGame{
		GameID:       g.ID,
		Code:         g.Code,
		Status:       string(g.Status),
		PlayerCount:  g.PlayerCount,
		CardedCount:  carded,
		DrawnNumbers: drawn,
		WinnerUserID: g.WinnerUserID,
	}
	if len(drawn) > 0 {
		last := drawn[len(drawn)-1]
		out.LastNumber = &last
	}

	now := v.now()
	out.AutoStartInSec = remaining(now, g.AutoStartAt)
	out.SelectionEndsInSec = remaining(now, g.CardSelectionEndsAt)
	out.CooldownEndsInSec = remaining(now, g.CooldownEndsAt)

	out.CanJoin = g.Status == models.StatusWaitingForPlayers
	out.CanSelectCard = g.Status == models.StatusWaitingForPlayers || g.Status == models.StatusCardSelection
	out.CanStart = !g.Status.Terminal() && g.Status != models.StatusActive && carded >= v.cfg.MinPlayers

	out.StatusMessage = v.statusMessage(g, carded, out)

	if err := v.loadParticipants(g.ID, out); err != nil {
		return nil, err
	}

	v.cache.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// Invalidate drops the cached snapshot after a state-changing action
// so the next read reflects it immediately instead of after the TTL.
func (v *ViewService) Invalidate(gameID uint) {
	v.cache.Delete(fmt.Sprintf("game:%d", gameID))
}

func (v *ViewService) loadParticipants(gameID uint, out *FormattedGame) error {
	var players []models.GamePlayer
	if err := v.db.Where("game_id = ?", gameID).Order("joined_at").Find(&players).Error; err != nil {
		return err
	}
	var cards []models.BingoCard
	if err := v.db.Where("game_id = ?", gameID).Find(&cards).Error; err != nil {
		return err
	}
	cardByUser := make(map[uint]int, len(cards))
	for _, c := range cards {
		cardByUser[c.UserID] = c.CardNumber
	}

	ids := make([]uint, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.UserID)
	}
	names := make(map[uint]string, len(ids))
	if len(ids) > 0 {
		var users []models.User
		if err := v.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
			return err
		}
		for _, u := range users {
			names[u.ID] = u.Name
		}
	}

	out.Participants = make([]ParticipantView, 0, len(players))
	for _, p := range players {
		pv := ParticipantView{UserID: p.UserID, Name: names[p.UserID]}
		if n, ok := cardByUser[p.UserID]; ok {
			num := n
			pv.CardNumber = &num
		}
		out.Participants = append(out.Participants, pv)
	}
	return nil
}

func (v *ViewService) statusMessage(g *models.Game, carded int, out *FormattedGame) string {
	switch g.Status {
	case models.StatusWaitingForPlayers:
		if out.AutoStartInSec != nil {
			return fmt.Sprintf("Starting soon! %d players ready, card selection opens in %ds", carded, *out.AutoStartInSec)
		}
		return fmt.Sprintf("Waiting for players (%d joined, need %d with cards)", g.PlayerCount, v.cfg.MinPlayers)
	case models.StatusCardSelection:
		secs := 0
		if out.SelectionEndsInSec != nil {
			secs = *out.SelectionEndsInSec
		}
		return fmt.Sprintf("Pick your card! %ds left", secs)
	case models.StatusActive:
		if out.LastNumber != nil {
			return fmt.Sprintf("Game on! Last number: %d (%d called)", *out.LastNumber, len(out.DrawnNumbers))
		}
		return "Game on! First number coming up"
	case models.StatusFinished:
		if g.WinnerUserID != nil {
			return fmt.Sprintf("BINGO! Winner: user %d", *g.WinnerUserID)
		}
		return "Game finished"
	case models.StatusNoWinner:
		return "All 75 numbers called, no winner. Entry fees refunded"
	case models.StatusCancelled:
		return "Game cancelled, everyone left"
	}
	return string(g.Status)
}

// remaining converts a stored deadline into whole seconds from now,
// omitted when the deadline is unset or already passed.
func remaining(now time.Time, deadline *time.Time) *int {
	if deadline == nil || !now.Before(*deadline) {
		return nil
	}
	secs := int(deadline.Sub(now).Round(time.Second) / time.Second)
	return &secs
}
