package routes

import (
	"github.com/bellapacxx/bingo-live/controllers"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, api *controllers.API) {
	apiGroup := r.Group("/api")

	// ----------------------
	// User routes
	// ----------------------
	apiGroup.POST("/users", api.RegisterUser)
	apiGroup.GET("/users/:telegram_id", api.GetUser)
	apiGroup.PATCH("/users/:telegram_id/phone", api.UpdatePhone)

	// ----------------------
	// Game routes
	// ----------------------
	apiGroup.GET("/game", api.GetCurrentGame)
	apiGroup.GET("/games/:id", api.GetGame)
	apiGroup.POST("/game/join", api.JoinGame)
	apiGroup.POST("/game/leave", api.LeaveGame)

	// ----------------------
	// Card routes
	// ----------------------
	apiGroup.POST("/game/select-card", api.SelectCard)
	apiGroup.POST("/game/release-card", api.ReleaseCard)
	apiGroup.GET("/game/cards", api.AvailableCards)
	apiGroup.POST("/game/mark", api.MarkCell)

	// ----------------------
	// Claim & sweeps
	// ----------------------
	apiGroup.POST("/game/claim", api.ClaimBingo)
	apiGroup.POST("/sweep/lifecycle", api.SweepLifecycle)
	apiGroup.POST("/sweep/reconciliation", api.SweepReconciliation)

	// ----------------------
	// Ledger & wallet routes
	// ----------------------
	apiGroup.GET("/reconciliations/:game_id", api.GetReconciliation)
	apiGroup.POST("/deposit", api.Deposit)
	apiGroup.POST("/withdraw", api.Withdraw)
	apiGroup.GET("/balance", api.GetBalance)
}
