package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bellapacxx/bingo-live/config"
	"github.com/bellapacxx/bingo-live/models"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// fakeClock lets tests move persisted deadlines into the past without
// sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// Single connection serializes writers the way Postgres row locks
	// would; without it in-memory sqlite throws table-lock errors.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := config.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testEnv wires the full service graph against an in-memory database
// with an injected clock and no retry sleeps.
type testEnv struct {
	db     *gorm.DB
	cfg    *config.Config
	clock  *fakeClock
	guards *GuardRegistry
	wallet *GormWallet
	stats  *StatsService
	recon  *ReconciliationService
	sched  *SchedulerRegistry
	settle *SettlementService
	engine *LifecycleEngine
	cards  *CardService
	view   *ViewService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	log := zap.NewNop().Sugar()
	clock := newFakeClock()

	cfg := &config.Config{
		EntryFee:            10,
		FeeRate:             0.10,
		MinPlayers:          2,
		AutoStartDelay:      30 * time.Second,
		CardSelectionWindow: 30 * time.Second,
		Cooldown:            30 * time.Second,
		// Tests drive draws through Tick directly; a long interval keeps
		// the registered loop from racing the assertions.
		DrawInterval: time.Hour,
		DrawJitter:   0,
	}

	guards := NewGuardRegistry()
	wallet := NewGormWallet()
	stats := NewStatsService(db, log)
	recon := NewReconciliationService(db, wallet, log)
	recon.now = clock.Now
	sched := NewSchedulerRegistry(db, cfg.DrawInterval, cfg.DrawJitter, log)
	settle := NewSettlementService(db, recon, stats, guards, sched, cfg.Cooldown, log)
	settle.now = clock.Now
	settle.retry.sleep = func(time.Duration) {}
	sched.Bind(settle)
	engine := NewLifecycleEngine(db, cfg, recon, sched, settle, guards, log)
	engine.now = clock.Now
	cards := NewCardService(db, log)
	cards.now = clock.Now
	view := NewViewService(db, cfg)
	view.now = clock.Now

	t.Cleanup(sched.Shutdown)

	return &testEnv{
		db:     db,
		cfg:    cfg,
		clock:  clock,
		guards: guards,
		wallet: wallet,
		stats:  stats,
		recon:  recon,
		sched:  sched,
		settle: settle,
		engine: engine,
		cards:  cards,
		view:   view,
	}
}

func (e *testEnv) createUser(t *testing.T, name string, balance float64) uint {
	t.Helper()
	user := models.User{TelegramID: time.Now().UnixNano(), Name: name, Balance: balance}
	if err := e.db.Create(&user).Error; err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return user.ID
}

func (e *testEnv) user(t *testing.T, id uint) models.User {
	t.Helper()
	var u models.User
	if err := e.db.First(&u, id).Error; err != nil {
		t.Fatalf("load user %d: %v", id, err)
	}
	return u
}

func (e *testEnv) game(t *testing.T, id uint) models.Game {
	t.Helper()
	var g models.Game
	if err := e.db.First(&g, id).Error; err != nil {
		t.Fatalf("load game %d: %v", id, err)
	}
	return g
}

func (e *testEnv) sweep(t *testing.T) {
	t.Helper()
	if err := e.engine.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
}

// startActiveGame drives a fresh game to ACTIVE with the given users
// holding the given card numbers.
func (e *testEnv) startActiveGame(t *testing.T, users []uint, cardNumbers []int) uint {
	t.Helper()

	g, err := e.engine.EnsureCurrentGame()
	if err != nil {
		t.Fatalf("ensure game: %v", err)
	}
	for i, userID := range users {
		if err := e.engine.JoinGame(g.ID, userID); err != nil {
			t.Fatalf("join user %d: %v", userID, err)
		}
		if _, _, err := e.cards.SelectCard(g.ID, userID, cardNumbers[i]); err != nil {
			t.Fatalf("select card %d: %v", cardNumbers[i], err)
		}
	}

	e.sweep(t) // arms the auto-start deadline
	e.clock.Advance(e.cfg.AutoStartDelay + time.Second)
	e.sweep(t) // WAITING -> CARD_SELECTION
	e.clock.Advance(e.cfg.CardSelectionWindow + time.Second)
	e.sweep(t) // CARD_SELECTION -> ACTIVE, fees collected

	got := e.game(t, g.ID)
	if got.Status != models.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", got.Status)
	}
	return g.ID
}

// waitFor polls until the condition holds or the deadline passes, for
// effects done on fire-and-forget goroutines (stats).
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
