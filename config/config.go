package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable knob of the game loop. Values come from
// the environment; the defaults are the production timings.
type Config struct {
	Port        string
	DatabaseURL string

	EntryFee   float64
	FeeRate    float64
	MinPlayers int

	AutoStartDelay      time.Duration
	CardSelectionWindow time.Duration
	Cooldown            time.Duration

	DrawInterval time.Duration
	DrawJitter   time.Duration

	SweepInterval      time.Duration
	ReconSweepInterval time.Duration
}

// Load reads .env (if present) and the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[INFO] No .env file found, reading environment variables")
	}

	return &Config{
		Port:        envStr("PORT", "4000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		EntryFee:   envFloat("ENTRY_FEE", 10),
		FeeRate:    envFloat("PLATFORM_FEE_RATE", 0.10),
		MinPlayers: envInt("MIN_PLAYERS", 2),

		AutoStartDelay:      envDur("AUTO_START_DELAY", 30*time.Second),
		CardSelectionWindow: envDur("CARD_SELECTION_WINDOW", 30*time.Second),
		Cooldown:            envDur("COOLDOWN", 30*time.Second),

		DrawInterval: envDur("DRAW_INTERVAL", 8*time.Second),
		DrawJitter:   envDur("DRAW_JITTER", 3*time.Second),

		SweepInterval:      envDur("SWEEP_INTERVAL", time.Second),
		ReconSweepInterval: envDur("RECONCILIATION_SWEEP_INTERVAL", time.Hour),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("[WARN] invalid %s=%q, using default %d", key, v, def)
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("[WARN] invalid %s=%q, using default %v", key, v, def)
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("[WARN] invalid %s=%q, using default %s", key, v, def)
	}
	return def
}
