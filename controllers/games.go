package controllers

import (
	"net/http"
	"strconv"

	"github.com/bellapacxx/bingo-live/models"
	"github.com/bellapacxx/bingo-live/services"

	"github.com/gin-gonic/gin"
)

// GetCurrentGame returns the formatted view of the one playable game.
func (a *API) GetCurrentGame(c *gin.Context) {
	game, err := a.Engine.CurrentGame()
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := a.View.GetFormattedGame(game.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetGame returns a single game row, archived ones included.
func (a *API) GetGame(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
		return
	}

	var game models.Game
	if err := a.DB.First(&game, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
		return
	}
	c.JSON(http.StatusOK, game)
}

type playerRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// JoinGame adds the player to the current game's roster.
func (a *API) JoinGame(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := a.Engine.CurrentGame()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := a.Engine.JoinGame(game.ID, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	a.Hub.Refresh(game.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Joined game", "game_id": game.ID})
}

// LeaveGame removes the player before the game goes active.
func (a *API) LeaveGame(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := a.Engine.CurrentGame()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := a.Engine.LeaveGame(game.ID, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	a.Hub.Refresh(game.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Left game", "game_id": game.ID})
}

type selectCardRequest struct {
	UserID     uint `json:"user_id" binding:"required"`
	CardNumber int  `json:"card_number" binding:"required"`
}

// SelectCard reserves (or swaps to) a card number for the player.
func (a *API) SelectCard(c *gin.Context) {
	var req selectCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := a.Engine.CurrentGame()
	if err != nil {
		respondError(c, err)
		return
	}
	outcome, card, err := a.Cards.SelectCard(game.ID, req.UserID, req.CardNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	a.Hub.Refresh(game.ID)
	c.JSON(http.StatusOK, gin.H{"outcome": outcome, "card": card})
}

// ReleaseCard frees the player's reservation.
func (a *API) ReleaseCard(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := a.Engine.CurrentGame()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := a.Cards.ReleaseCard(game.ID, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	a.Hub.Refresh(game.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Card released"})
}

// AvailableCards lists the template numbers still free.
func (a *API) AvailableCards(c *gin.Context) {
	game, err := a.Engine.CurrentGame()
	if err != nil {
		respondError(c, err)
		return
	}
	available, err := a.Cards.AvailableCards(game.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game_id": game.ID, "available": available})
}

type markRequest struct {
	UserID   uint `json:"user_id" binding:"required"`
	Position *int `json:"position" binding:"required"`
}

// MarkCell records a manual mark on the player's card.
func (a *API) MarkCell(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := a.Engine.CurrentGame()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := a.Cards.MarkCell(game.ID, req.UserID, *req.Position); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Marked"})
}

// ClaimBingo validates the claimant's card and settles on success.
func (a *API) ClaimBingo(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := a.Engine.CurrentGame()
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := a.Settle.ClaimBingo(game.ID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	a.Hub.Refresh(game.ID)
	c.JSON(http.StatusOK, result)
}

// SweepLifecycle is the idempotent entry point for external schedulers.
func (a *API) SweepLifecycle(c *gin.Context) {
	if err := a.Engine.Sweep(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sweep complete"})
}

// SweepReconciliation re-drives stuck settlements and audits balances.
func (a *API) SweepReconciliation(c *gin.Context) {
	if err := a.Recon.Sweep(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Reconciliation sweep complete"})
}

// GetReconciliation returns the ledger and audit trail for a game.
func (a *API) GetReconciliation(c *gin.Context) {
	gameID, err := strconv.Atoi(c.Param("game_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
		return
	}

	rec, err := a.Recon.GetByGame(uint(gameID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reconciliation": rec,
		"balanced":       services.Balanced(rec),
	})
}
