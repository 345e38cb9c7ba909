package controllers

import (
	"errors"
	"net/http"

	"github.com/bellapacxx/bingo-live/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// API bundles the service handles the handlers need. Wired once in
// main, passed to routes.SetupRoutes.
type API struct {
	DB     *gorm.DB
	Engine *services.LifecycleEngine
	Cards  *services.CardService
	Settle *services.SettlementService
	Recon  *services.ReconciliationService
	Wallet *services.GormWallet
	View   *services.ViewService
	Hub    *services.Hub
}

// respondError maps the service error taxonomy onto HTTP statuses with
// a structured reason string.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrGameNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrInsufficientPlayers),
		errors.Is(err, services.ErrInvalidClaim),
		errors.Is(err, services.ErrInsufficientFunds):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrCardConflict),
		errors.Is(err, services.ErrDuplicateClaim),
		errors.Is(err, services.ErrWriteConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrWalletFailure):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
