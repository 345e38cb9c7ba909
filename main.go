package main

import (
	"context"
	"net/http"
	"time"

	"github.com/bellapacxx/bingo-live/config"
	"github.com/bellapacxx/bingo-live/controllers"
	"github.com/bellapacxx/bingo-live/routes"
	"github.com/bellapacxx/bingo-live/services"
	"github.com/bellapacxx/bingo-live/utils/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// setupRouter initializes Gin routes and middleware
func setupRouter(api *controllers.API, hub *services.Hub) *gin.Engine {
	r := gin.Default()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.SetupRoutes(r, api)

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
	})

	// WebSocket snapshot stream
	r.GET("/ws", hub.HandleWebSocket)

	return r
}

func main() {
	cfg := config.Load()

	db := config.SetupDatabase(cfg.DatabaseURL)

	log := logger.Log

	// Service wiring: guards and scheduler are owned registries, not
	// package state, so tests and restarts get fresh instances.
	guards := services.NewGuardRegistry()
	wallet := services.NewGormWallet()
	stats := services.NewStatsService(db, log)
	recon := services.NewReconciliationService(db, wallet, log)
	sched := services.NewSchedulerRegistry(db, cfg.DrawInterval, cfg.DrawJitter, log)
	settle := services.NewSettlementService(db, recon, stats, guards, sched, cfg.Cooldown, log)
	sched.Bind(settle)
	engine := services.NewLifecycleEngine(db, cfg, recon, sched, settle, guards, log)
	view := services.NewViewService(db, cfg)
	cards := services.NewCardService(db, log)
	hub := services.NewHub(view, cards, settle, engine, log)

	if _, err := engine.EnsureCurrentGame(); err != nil {
		log.Fatalf("[FATAL] Failed to initialize current game: %v", err)
	}

	api := &controllers.API{
		DB:     db,
		Engine: engine,
		Cards:  cards,
		Settle: settle,
		Recon:  recon,
		Wallet: wallet,
		View:   view,
		Hub:    hub,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Lifecycle sweep every game-loop tick; it replaces any in-memory
	// timer so a restarted process resumes pending transitions.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := engine.Sweep(ctx); err != nil {
					log.Errorf("[Lifecycle] sweep failed: %v", err)
				}
			}
		}
	}()

	// Reconciliation sweep re-drives interrupted settlements.
	go func() {
		ticker := time.NewTicker(cfg.ReconSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := recon.Sweep(ctx); err != nil {
					log.Errorf("[Reconciliation] sweep failed: %v", err)
				}
			}
		}
	}()

	// Push fresh snapshots to connected clients between mutations.
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hub.Broadcast()
			}
		}
	}()

	router := setupRouter(api, hub)

	log.Infof("🚀 Bingo session service starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("[FATAL] Failed to start server: %v", err)
	}
}
